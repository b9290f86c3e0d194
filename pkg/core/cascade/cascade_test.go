package cascade

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/types"
)

type fakeProvider struct {
	name string

	mu     sync.Mutex
	calls  int
	models []string
	errs   []error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Complete(_ context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.models = append(p.models, req.Model)
	if len(p.errs) > 0 {
		err := p.errs[0]
		p.errs = p.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &types.CompletionResponse{Provider: p.name, Model: req.Model, Text: "ok"}, nil
}

func (p *fakeProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func fastConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryBaseDelay = time.Millisecond
	cfg.RetryCapDelay = 5 * time.Millisecond
	cfg.FallbackModel = "fallback-default"
	return cfg
}

func newTestCascade(t *testing.T, cfg Config, providers ...core.Provider) *Cascade {
	t.Helper()
	c, err := New(cfg, nil, nil, providers...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestCascade_PrimarySuccess(t *testing.T) {
	primary := &fakeProvider{name: "primary"}
	fallback := &fakeProvider{name: "fallback"}
	c := newTestCascade(t, fastConfig(), primary, fallback)

	resp, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Provider != "primary" {
		t.Fatalf("provider=%s, want primary", resp.Provider)
	}
	if fallback.callCount() != 0 {
		t.Fatalf("fallback called %d times, want 0", fallback.callCount())
	}
}

func TestCascade_OverloadFallsBackImmediately(t *testing.T) {
	primary := &fakeProvider{name: "primary", errs: []error{
		core.NewOverloadedError("primary", "overloaded"),
	}}
	fallback := &fakeProvider{name: "fallback"}
	c := newTestCascade(t, fastConfig(), primary, fallback)

	resp, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Provider != "fallback" {
		t.Fatalf("provider=%s, want fallback", resp.Provider)
	}
	if primary.callCount() != 1 {
		t.Fatalf("primary called %d times, want 1 (no retry on overload)", primary.callCount())
	}
}

// Two overload failures in a row leave the primary's streak at 2: visible in
// breaker state, but well below the open threshold of 5.
func TestCascade_OverloadTwiceThenFallback(t *testing.T) {
	primary := &fakeProvider{name: "primary", errs: []error{
		core.NewOverloadedError("primary", "overloaded"),
		core.NewOverloadedError("primary", "overloaded"),
	}}
	fallback := &fakeProvider{name: "fallback"}
	c := newTestCascade(t, fastConfig(), primary, fallback)

	for i := 0; i < 2; i++ {
		resp, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "hi"})
		if err != nil {
			t.Fatalf("Invoke %d: %v", i, err)
		}
		if resp.Provider != "fallback" {
			t.Fatalf("Invoke %d: provider=%s, want fallback", i, resp.Provider)
		}
	}

	b := c.Breaker("primary")
	if got := b.ConsecutiveFailures(); got != 2 {
		t.Fatalf("primary consecutiveFailures=%d, want 2", got)
	}
	if got := b.State(); got != StateClosed {
		t.Fatalf("primary breaker state=%s, want %s", got, StateClosed)
	}
}

func TestCascade_ProviderErrorDoesNotRetryInPlace(t *testing.T) {
	primary := &fakeProvider{name: "primary", errs: []error{
		core.NewProviderError("primary", errors.New("boom")),
	}}
	fallback := &fakeProvider{name: "fallback"}
	c := newTestCascade(t, fastConfig(), primary, fallback)

	resp, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Provider != "fallback" {
		t.Fatalf("provider=%s, want fallback", resp.Provider)
	}
	if primary.callCount() != 1 {
		t.Fatalf("primary called %d times, want 1 (only rate limits retry in place)", primary.callCount())
	}
}

func TestCascade_RateLimitRetriesSameProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary", errs: []error{
		core.NewRateLimitError("primary", "slow down", 0),
		core.NewRateLimitError("primary", "slow down", 0),
	}}
	fallback := &fakeProvider{name: "fallback"}
	c := newTestCascade(t, fastConfig(), primary, fallback)

	resp, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Provider != "primary" {
		t.Fatalf("provider=%s, want primary (rate limits retry in place)", resp.Provider)
	}
	if primary.callCount() != 3 {
		t.Fatalf("primary called %d times, want 3", primary.callCount())
	}
	if fallback.callCount() != 0 {
		t.Fatalf("fallback called %d times, want 0", fallback.callCount())
	}
}

func TestCascade_RateLimitExhaustionFallsBack(t *testing.T) {
	cfg := fastConfig()
	cfg.RetryMaxAttempts = 2
	primary := &fakeProvider{name: "primary", errs: []error{
		core.NewRateLimitError("primary", "slow down", 0),
		core.NewRateLimitError("primary", "slow down", 0),
		core.NewRateLimitError("primary", "slow down", 0),
	}}
	fallback := &fakeProvider{name: "fallback"}
	c := newTestCascade(t, cfg, primary, fallback)

	resp, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Provider != "fallback" {
		t.Fatalf("provider=%s, want fallback", resp.Provider)
	}
	if primary.callCount() != 2 {
		t.Fatalf("primary called %d times, want 2 (bounded retry)", primary.callCount())
	}
}

func TestCascade_AllProvidersExhausted(t *testing.T) {
	primary := &fakeProvider{name: "primary", errs: []error{
		core.NewOverloadedError("primary", "overloaded"),
	}}
	fallback := &fakeProvider{name: "fallback", errs: []error{
		core.NewOverloadedError("fallback", "overloaded"),
	}}
	c := newTestCascade(t, fastConfig(), primary, fallback)

	_, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "hi"})
	if err == nil {
		t.Fatal("Invoke succeeded, want error")
	}
	if got := core.KindOf(err); got != core.KindAllProvidersExhausted {
		t.Fatalf("kind=%s, want %s", got, core.KindAllProvidersExhausted)
	}
}

func TestCascade_OpenCircuitSkipsProvider(t *testing.T) {
	primary := &fakeProvider{name: "primary"}
	fallback := &fakeProvider{name: "fallback"}
	c := newTestCascade(t, fastConfig(), primary, fallback)

	b := c.Breaker("primary")
	for i := 0; i < DefaultBreakerConfig().FailureThreshold; i++ {
		b.RecordFailure()
	}

	resp, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if resp.Provider != "fallback" {
		t.Fatalf("provider=%s, want fallback", resp.Provider)
	}
	if primary.callCount() != 0 {
		t.Fatalf("primary called %d times while its circuit was open, want 0", primary.callCount())
	}
}

func TestCascade_ModelTranslationOnFallback(t *testing.T) {
	cfg := fastConfig()
	cfg.ModelMap = map[string]string{"m1": "m1-equivalent"}
	primary := &fakeProvider{name: "primary", errs: []error{
		core.NewOverloadedError("primary", "overloaded"),
	}}
	fallback := &fakeProvider{name: "fallback"}
	c := newTestCascade(t, cfg, primary, fallback)

	if _, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: "hi"}); err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if len(fallback.models) != 1 || fallback.models[0] != "m1-equivalent" {
		t.Fatalf("fallback saw models %v, want [m1-equivalent]", fallback.models)
	}
}

func TestCascade_InvalidRequestDoesNotFallBack(t *testing.T) {
	primary := &fakeProvider{name: "primary", errs: []error{
		core.NewInvalidRequestError("bad prompt"),
	}}
	fallback := &fakeProvider{name: "fallback"}
	c := newTestCascade(t, fastConfig(), primary, fallback)

	_, err := c.Invoke(context.Background(), &types.CompletionRequest{Model: "m1", Prompt: ""})
	if err == nil {
		t.Fatal("Invoke succeeded, want error")
	}
	if got := core.KindOf(err); got != core.KindInvalidRequest {
		t.Fatalf("kind=%s, want %s", got, core.KindInvalidRequest)
	}
	if fallback.callCount() != 0 {
		t.Fatalf("fallback called %d times for a caller error, want 0", fallback.callCount())
	}
}
