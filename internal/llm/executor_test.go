package llm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

type scriptedCaller struct {
	replies []string
	errs    []error
	calls   int
	prompts []string
}

func (s *scriptedCaller) GenerateJSON(_ context.Context, _, prompt string) (string, error) {
	idx := s.calls
	s.calls++
	s.prompts = append(s.prompts, prompt)
	var err error
	if idx < len(s.errs) {
		err = s.errs[idx]
	}
	reply := ""
	if idx < len(s.replies) {
		reply = s.replies[idx]
	}
	return reply, err
}

func TestStripCodeFences(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```\n{\"a\":1}\n```", "{\"a\":1}"},
		{"```json{\"a\":1}```", "{\"a\":1}"},
		{"{\"a\":1}", "{\"a\":1}"},
		// A body whose first token is "json" must survive unharmed.
		{"```\njson_field and friends\n```", "json_field and friends"},
	}
	for _, c := range cases {
		if got := stripCodeFences(c.in); got != c.want {
			t.Errorf("stripCodeFences(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestBackoffDelay(t *testing.T) {
	if backoffDelay(1) != 1*time.Second {
		t.Fatal("attempt 1 should be 1s")
	}
	if backoffDelay(2) != 2*time.Second {
		t.Fatal("attempt 2 should be 2s")
	}
}

func TestClassifyTransportErrorAvoidsBroadNumericMatch(t *testing.T) {
	if got := classifyTransportError(errors.New("status code: 400 bad request")); got != failureClient {
		t.Fatalf("expected client failure classification, got %v", got)
	}
	if got := classifyTransportError(errors.New("status=500 upstream error")); got != failureServer {
		t.Fatalf("expected server failure classification, got %v", got)
	}
	if got := classifyTransportError(context.DeadlineExceeded); got != failureTimeout {
		t.Fatalf("expected timeout classification, got %v", got)
	}
}

func TestExecutorParsesValidJSONFirstAttempt(t *testing.T) {
	c := &scriptedCaller{replies: []string{`{"value": 7}`}}
	exec := NewExecutor(c, time.Second)
	var out struct {
		Value int `json:"value"`
	}
	m, err := exec.Run(context.Background(), "phase_a", "system", "prompt", &out, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Value != 7 {
		t.Fatalf("unexpected value: %d", out.Value)
	}
	if m.Attempts != 1 || m.ContentRetries != 0 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestExecutorRetriesMalformedJSONWithFeedback(t *testing.T) {
	c := &scriptedCaller{replies: []string{"not json", `{"value": 3}`}}
	exec := NewExecutor(c, time.Second)
	var out struct {
		Value int `json:"value"`
	}
	m, err := exec.Run(context.Background(), "phase_a", "system", "prompt", &out, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.Attempts != 2 || m.ContentRetries != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if len(c.prompts) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(c.prompts))
	}
	if c.prompts[1] == c.prompts[0] {
		t.Fatal("expected corrective feedback appended to retry prompt")
	}
}

func TestExecutorRetriesFailedValidation(t *testing.T) {
	c := &scriptedCaller{replies: []string{`{"value": -1}`, `{"value": 5}`}}
	exec := NewExecutor(c, time.Second)
	var out struct {
		Value int `json:"value"`
	}
	validate := func() error {
		if out.Value < 0 {
			return fmt.Errorf("value must be non-negative")
		}
		return nil
	}
	m, err := exec.Run(context.Background(), "phase_a", "system", "prompt", &out, validate)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if out.Value != 5 {
		t.Fatalf("unexpected value: %d", out.Value)
	}
	if m.ContentRetries != 1 {
		t.Fatalf("expected 1 content retry, got %d", m.ContentRetries)
	}
}

func TestExecutorSurfacesClientTransportErrorWithoutRetry(t *testing.T) {
	c := &scriptedCaller{errs: []error{errors.New("status code: 400 bad request")}}
	exec := NewExecutor(c, time.Second)
	var out struct{}
	_, err := exec.Run(context.Background(), "phase_b", "system", "prompt", &out, nil)
	if err == nil {
		t.Fatal("expected transport error")
	}
	if c.calls != 1 {
		t.Fatalf("expected single call for client error, got %d", c.calls)
	}
}

func TestExecutorGivesUpAfterThreeEmptyReplies(t *testing.T) {
	c := &scriptedCaller{replies: []string{"", "", ""}}
	exec := NewExecutor(c, time.Second)
	var out struct{}
	m, err := exec.Run(context.Background(), "phase_b", "system", "prompt", &out, nil)
	if err == nil {
		t.Fatal("expected failure after empty replies")
	}
	if m.Attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", m.Attempts)
	}
}
