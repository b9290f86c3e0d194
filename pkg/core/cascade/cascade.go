package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/types"
)

// Config tunes the cascade's retry and failover behavior.
type Config struct {
	// PrimaryModel is the default model for the first provider in the chain.
	PrimaryModel string

	// FallbackModel is used when a request fails over and ModelMap has no
	// entry for the original model.
	FallbackModel string

	// ModelMap translates primary model identifiers to fallback equivalents.
	ModelMap map[string]string

	// Rate-limit retry backoff against the same provider: exponential from
	// RetryBaseDelay, doubling per attempt, capped at RetryCapDelay, at most
	// RetryMaxAttempts calls total.
	RetryBaseDelay   time.Duration
	RetryCapDelay    time.Duration
	RetryMaxAttempts int

	Breaker BreakerConfig
}

// DefaultConfig returns the standard cascade tuning.
func DefaultConfig() Config {
	return Config{
		RetryBaseDelay:   2 * time.Second,
		RetryCapDelay:    180 * time.Second,
		RetryMaxAttempts: 5,
		Breaker:          DefaultBreakerConfig(),
	}
}

// Cascade wraps an ordered chain of providers behind one call interface. A
// request tries the first provider; overload, transient unavailability, or an
// open circuit moves it to the next. Rate limits are retried against the same
// provider with backoff before falling over. Breaker state is global: one
// Cascade is shared by every session.
type Cascade struct {
	cfg       Config
	providers []core.Provider
	breakers  map[string]*Breaker
	logger    *slog.Logger
}

// New creates a cascade over providers in failover order. At least one
// provider is required. A nil clock uses time.Now.
func New(cfg Config, logger *slog.Logger, clock func() time.Time, providers ...core.Provider) (*Cascade, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("cascade: at least one provider is required")
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 2 * time.Second
	}
	if cfg.RetryCapDelay <= 0 {
		cfg.RetryCapDelay = 180 * time.Second
	}
	if cfg.RetryMaxAttempts <= 0 {
		cfg.RetryMaxAttempts = 5
	}
	if logger == nil {
		logger = slog.Default()
	}

	breakers := make(map[string]*Breaker, len(providers))
	for _, p := range providers {
		breakers[p.Name()] = NewBreaker(cfg.Breaker, clock)
	}
	return &Cascade{
		cfg:       cfg,
		providers: providers,
		breakers:  breakers,
		logger:    logger,
	}, nil
}

// Breaker returns the circuit breaker for a provider name, or nil.
func (c *Cascade) Breaker(name string) *Breaker {
	return c.breakers[name]
}

// Invoke runs the request through the provider chain. The returned error is
// KindAllProvidersExhausted once every provider has been tried or skipped;
// callers treat that as "no result for this request", never as fatal.
func (c *Cascade) Invoke(ctx context.Context, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	if req == nil {
		return nil, core.NewInvalidRequestError("nil completion request")
	}

	var lastErr error
	for i, provider := range c.providers {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		breaker := c.breakers[provider.Name()]
		if !breaker.Allow() {
			c.logger.Debug("cascade: circuit open, skipping provider",
				"provider", provider.Name())
			lastErr = core.NewOverloadedError(provider.Name(), "circuit open")
			continue
		}

		attempt := c.translate(req, i)
		resp, err := c.callWithRetry(ctx, provider, breaker, attempt)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		kind := core.KindOf(err)
		if kind == core.KindInvalidRequest {
			return nil, err
		}
		c.logger.Warn("cascade: provider failed",
			"provider", provider.Name(),
			"kind", string(kind),
			"error", err)
	}

	return nil, core.NewExhaustedError("all providers exhausted", lastErr)
}

// callWithRetry calls one provider, retrying only rate-limit failures.
func (c *Cascade) callWithRetry(ctx context.Context, provider core.Provider, breaker *Breaker, req *types.CompletionRequest) (*types.CompletionResponse, error) {
	var resp *types.CompletionResponse

	backoff := retry.WithCappedDuration(c.cfg.RetryCapDelay, retry.NewExponential(c.cfg.RetryBaseDelay))
	backoff = retry.WithMaxRetries(uint64(c.cfg.RetryMaxAttempts-1), backoff)

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		r, err := provider.Complete(ctx, req)
		if err != nil {
			breaker.RecordFailure()
			var coreErr *core.Error
			if errors.As(err, &coreErr) && coreErr.IsRetryable() {
				return retry.RetryableError(err)
			}
			return err
		}
		breaker.RecordSuccess()
		resp = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// translate adjusts the request's model for the provider at position idx in
// the chain. Position 0 keeps the caller's model (or the configured primary);
// later positions use the model map or the configured fallback.
func (c *Cascade) translate(req *types.CompletionRequest, idx int) *types.CompletionRequest {
	out := *req
	if idx == 0 {
		if out.Model == "" {
			out.Model = c.cfg.PrimaryModel
		}
		return &out
	}
	if mapped, ok := c.cfg.ModelMap[out.Model]; ok && mapped != "" {
		out.Model = mapped
	} else if c.cfg.FallbackModel != "" {
		out.Model = c.cfg.FallbackModel
	}
	return &out
}
