package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

type failureClass int

const (
	failureNone failureClass = iota
	failureParse
	failureSchema
	failureEmpty
	failureTimeout
	failureRateLimit
	failureServer
	failureClient
)

// AttemptMetrics records how many calls a single phase needed, including
// content retries caused by malformed or invalid model output.
type AttemptMetrics struct {
	Attempts       int
	ContentRetries int
}

// Executor runs one prompt against the inference endpoint, parses the JSON
// reply into out, and validates it. Transport failures from transient
// classes are retried with a short backoff; content failures are retried
// with corrective feedback appended to the prompt. At most three attempts —
// retries beyond that belong to the caller, not this layer.
type Executor struct {
	caller      Caller
	callTimeout time.Duration
}

func NewExecutor(caller Caller, callTimeout time.Duration) *Executor {
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	return &Executor{caller: caller, callTimeout: callTimeout}
}

func (e *Executor) Run(ctx context.Context, phaseName, system, prompt string, out any, validate func() error) (AttemptMetrics, error) {
	metrics := AttemptMetrics{}
	feedback := ""
	for attempt := 1; attempt <= 3; attempt++ {
		metrics.Attempts = attempt
		fullPrompt := prompt + "\n\nRespond with only valid JSON matching the schema."
		if feedback != "" {
			fullPrompt += "\n\n" + feedback
		}

		raw, err := e.generate(ctx, system, fullPrompt)
		if err != nil {
			class := classifyTransportError(err)
			if class == failureTimeout || class == failureRateLimit || class == failureServer {
				if attempt < 3 {
					time.Sleep(backoffDelay(attempt))
					continue
				}
			}
			return metrics, fmt.Errorf("%s transport failure: %w", phaseName, err)
		}

		raw = strings.TrimSpace(raw)
		if raw == "" {
			if attempt < 3 {
				metrics.ContentRetries++
				feedback = "Your previous response was empty. Respond with valid JSON."
				continue
			}
			return metrics, fmt.Errorf("%s failed: empty response", phaseName)
		}

		clean := stripCodeFences(raw)
		if err := json.Unmarshal([]byte(clean), out); err != nil {
			if attempt < 3 {
				metrics.ContentRetries++
				feedback = "Your previous response was not valid JSON. Respond with only valid JSON."
				continue
			}
			return metrics, fmt.Errorf("%s failed json parse: %w", phaseName, err)
		}
		if validate != nil {
			if err := validate(); err != nil {
				if attempt < 3 {
					metrics.ContentRetries++
					feedback = fmt.Sprintf("Your response failed validation: %s. Fix these issues.", err)
					continue
				}
				return metrics, fmt.Errorf("%s failed validation: %w", phaseName, err)
			}
		}
		return metrics, nil
	}
	return metrics, fmt.Errorf("%s failed after retries", phaseName)
}

func (e *Executor) generate(ctx context.Context, system, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return e.caller.GenerateJSON(callCtx, system, prompt)
}

func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	// The language tag lives on the fence line; the body is never touched.
	if _, body, ok := strings.Cut(s, "\n"); ok {
		s = body
	} else {
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimPrefix(s, "json")
	}
	return strings.TrimSpace(strings.TrimSuffix(s, "```"))
}

func classifyTransportError(err error) failureClass {
	msg := strings.ToLower(err.Error())
	if errors.Is(err, context.DeadlineExceeded) {
		return failureTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return failureTimeout
	}
	switch {
	case strings.Contains(msg, "429"):
		return failureRateLimit
	case strings.Contains(msg, " 5") || strings.Contains(msg, "status code: 5") || strings.Contains(msg, "server error"):
		return failureServer
	case strings.Contains(msg, " 4") || strings.Contains(msg, "status code: 4"):
		return failureClient
	default:
		return failureServer
	}
}

func backoffDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 1 * time.Second
	}
	return 2 * time.Second
}
