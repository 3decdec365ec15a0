package llm

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// Caller is the single abstraction over the generative-model collaborator.
// Implementations must be synchronous and must ground answers only in the
// supplied prompt context, never in invented patient facts.
type Caller interface {
	GenerateJSON(ctx context.Context, system, prompt string) (string, error)
}

const DefaultModel = string(anthropic.ModelClaudeSonnet4_20250514)

type AnthropicCaller struct {
	messages AnthropicMessager
	model    anthropic.Model
}

type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

type AnthropicClientCreator func(apiKey string) AnthropicMessager

func defaultAnthropicCreator(apiKey string) AnthropicMessager {
	c := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &c.Messages
}

var newAnthropicClient AnthropicClientCreator = defaultAnthropicCreator

func NewAnthropicCallerFromEnv(model string) (*AnthropicCaller, error) {
	apiKey := strings.TrimSpace(os.Getenv("ANTHROPIC_API_KEY"))
	if apiKey == "" {
		return nil, errors.New("ANTHROPIC_API_KEY not configured")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &AnthropicCaller{messages: newAnthropicClient(apiKey), model: anthropic.Model(model)}, nil
}

func (a *AnthropicCaller) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	resp, err := a.messages.New(ctx, anthropic.MessageNewParams{
		Model:       a.model,
		MaxTokens:   4096,
		System:      []anthropic.TextBlockParam{{Text: system}},
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(prompt))},
		Temperature: anthropic.Float(0),
	})
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}
	return sb.String(), nil
}

// GuardedCaller wraps a Caller with a circuit breaker and a rate limiter so
// a failing or saturated inference endpoint degrades loudly instead of
// hammering the upstream.
type GuardedCaller struct {
	inner   Caller
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewGuardedCaller(inner Caller, callsPerSecond float64, burst int) *GuardedCaller {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "inference",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return &GuardedCaller{
		inner:   inner,
		breaker: cb,
		limiter: rate.NewLimiter(rate.Limit(callsPerSecond), burst),
	}
}

func (g *GuardedCaller) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", err
	}
	out, err := g.breaker.Execute(func() (any, error) {
		return g.inner.GenerateJSON(ctx, system, prompt)
	})
	if err != nil {
		return "", err
	}
	return out.(string), nil
}
