package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/recallio/insight-engine/internal/dotenv"
	"github.com/recallio/insight-engine/pkg/core"
	"github.com/recallio/insight-engine/pkg/core/cascade"
	"github.com/recallio/insight-engine/pkg/core/providers/anthropic"
	"github.com/recallio/insight-engine/pkg/core/providers/gemini"
	"github.com/recallio/insight-engine/pkg/core/providers/openai"
	"github.com/recallio/insight-engine/pkg/engine/batch"
	"github.com/recallio/insight-engine/pkg/engine/coherence"
	"github.com/recallio/insight-engine/pkg/engine/dedupe"
	"github.com/recallio/insight-engine/pkg/engine/delivery"
	"github.com/recallio/insight-engine/pkg/engine/immediate"
	"github.com/recallio/insight-engine/pkg/engine/search"
	"github.com/recallio/insight-engine/pkg/engine/session"
	"github.com/recallio/insight-engine/pkg/engine/store"
	"github.com/recallio/insight-engine/pkg/engine/store/postgres"
	"github.com/recallio/insight-engine/pkg/gateway/config"
	gatewayserver "github.com/recallio/insight-engine/pkg/gateway/server"
)

// engine is everything behind the HTTP surface that needs assembly and, on
// shutdown, draining.
type engine struct {
	hub      *delivery.Hub
	sessions *session.Manager
	store    *postgres.Store
}

type daemonDeps struct {
	loadConfig   func() (config.Config, error)
	buildEngine  func(context.Context, config.Config, *slog.Logger) (*engine, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultDaemonDeps() daemonDeps {
	return daemonDeps{
		loadConfig:  config.LoadFromEnv,
		buildEngine: buildEngine,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) {
			signal.Notify(c, sig...)
		},
		signalStop: signal.Stop,
	}
}

// buildEngine wires the provider cascade, the two processing paths, and the
// session manager from configuration. Optional collaborators (search, the
// insight store, embeddings) degrade to disabled rather than failing startup;
// only having zero completion providers is fatal.
func buildEngine(ctx context.Context, cfg config.Config, logger *slog.Logger) (*engine, error) {
	var providers []core.Provider
	if cfg.AnthropicAPIKey != "" {
		providers = append(providers, anthropic.New(cfg.AnthropicAPIKey))
	}
	if cfg.GeminiAPIKey != "" {
		p, err := gemini.New(ctx, cfg.GeminiAPIKey)
		if err != nil {
			return nil, fmt.Errorf("gemini provider: %w", err)
		}
		providers = append(providers, p)
	}

	casc, err := cascade.New(cascade.Config{
		PrimaryModel:     cfg.PrimaryModel,
		FallbackModel:    cfg.FallbackModel,
		RetryBaseDelay:   cfg.RetryBaseDelay,
		RetryCapDelay:    cfg.RetryCapDelay,
		RetryMaxAttempts: cfg.RetryMaxAttempts,
		Breaker: cascade.BreakerConfig{
			FailureThreshold: cfg.BreakerFailureThreshold,
			Cooldown:         cfg.BreakerCooldown,
		},
	}, logger, nil, providers...)
	if err != nil {
		return nil, fmt.Errorf("cascade: %w", err)
	}

	var embedder core.Embedder
	var tracker *dedupe.Tracker
	if cfg.OpenAIAPIKey != "" {
		embedder = openai.NewEmbedder(cfg.OpenAIAPIKey, cfg.EmbeddingModel)
		tracker = dedupe.New(dedupe.Config{
			SimilarityThreshold: cfg.DedupSimilarityThreshold,
		}, embedder, logger)
	} else {
		logger.Warn("OPENAI_API_KEY not set; topic segmentation and dedup run without embeddings")
	}

	var searcher search.Searcher
	if cfg.SearchBaseURL != "" {
		searcher = search.NewClient(cfg.SearchAPIKey, cfg.SearchBaseURL, nil)
	}

	var insightStore *postgres.Store
	var persistence store.Store
	if cfg.PostgresDSN != "" {
		insightStore, err = postgres.New(ctx, cfg.PostgresDSN, logger)
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		persistence = insightStore
	}

	detector := coherence.New(coherence.Config{
		CoherenceThreshold: cfg.CoherenceThreshold,
		MinTopicChunks:     cfg.MinTopicChunks,
		MaxTopicChunks:     cfg.MaxTopicChunks,
		MaxTopicDuration:   cfg.MaxTopicDuration,
	}, nil)

	imm := immediate.New(immediate.Config{
		ConfidenceThreshold: cfg.AnswerConfidenceThreshold,
		MaxSources:          cfg.AnswerMaxSources,
	}, casc, searcher, logger, nil)

	bp := batch.New(batch.Config{
		ClarificationConfidence:    cfg.ClarificationConfidence,
		CompletenessAlertThreshold: cfg.CompletenessAlertThreshold,
	}, casc, embedder, tracker, persistence, logger, nil)

	hub := delivery.NewHub(cfg.WSWriteTimeout, logger)

	sessions := session.NewManager(session.Config{
		MaxWindowSize:       cfg.MaxWindowSize,
		MinTranscriptLength: cfg.MinTranscriptLength,
		IdleTimeout:         cfg.SessionIdleTimeout,
	}, detector, embedder, imm, bp, hub, logger, nil)

	return &engine{hub: hub, sessions: sessions, store: insightStore}, nil
}

func buildHTTPServer(cfg config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}
}

func runDaemon(ctx context.Context, logger *slog.Logger, deps daemonDeps) error {
	if deps.loadConfig == nil {
		return errors.New("missing loadConfig dependency")
	}
	if deps.buildEngine == nil {
		return errors.New("missing buildEngine dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	eng, err := deps.buildEngine(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	gw := gatewayserver.New(cfg, eng.sessions, eng.hub, logger)
	httpSrv := buildHTTPServer(cfg, gw.Handler())

	logger.Info("starting insight engine", "addr", cfg.Addr, "auth_mode", cfg.AuthMode,
		"store_enabled", eng.store != nil)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer drainCancel()
	if !eng.sessions.Shutdown(drainCtx) {
		logger.Warn("shutdown grace period expired with segments still in flight")
	}
	if eng.store != nil {
		eng.store.Close()
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("insight engine stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps daemonDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewJSONHandler(stderr, nil))

	if err := dotenv.LoadFile(".env"); err != nil {
		fmt.Fprintf(stderr, "insightd: %v\n", err)
		return 1
	}

	if err := runDaemon(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "insightd: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultDaemonDeps()))
}
