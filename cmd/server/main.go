// Recall study server: two simulated chat agents interview a participant,
// answer a memory quiz and collect the participant's ratings.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/recall-study/internal/api"
	"github.com/ashureev/recall-study/internal/config"
	"github.com/ashureev/recall-study/internal/domain"
	"github.com/ashureev/recall-study/internal/generation"
	"github.com/ashureev/recall-study/internal/healthcheck"
	"github.com/ashureev/recall-study/internal/identity"
	"github.com/ashureev/recall-study/internal/middleware"
	"github.com/ashureev/recall-study/internal/realtime"
	"github.com/ashureev/recall-study/internal/store"
	"github.com/ashureev/recall-study/internal/study"
	"github.com/ashureev/recall-study/internal/transcript"
	"github.com/ashureev/recall-study/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

// participantRetention is how long a participant without a stored result is kept.
const participantRetention = 7 * 24 * time.Hour

const missingKeyMessage = "OpenAI API key is not configured. Set OPENAI_API_KEY and restart the server."

// studyGenerator is the generation backend as the server uses it.
type studyGenerator interface {
	generation.Generator
	api.Validator
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "grpc_port", cfg.GRPCPort, "dev", cfg.IsDevelopment())

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(context.Background()); err != nil {
		return fmt.Errorf("database health check: %w", err)
	}
	slog.Info("Database connected")

	gen, err := newGenerator(cfg, logger)
	if err != nil {
		return err
	}

	tl, err := transcript.NewLogger(transcript.Config{
		Enabled:   cfg.ConversationLog.Enabled,
		Dir:       cfg.ConversationLog.Dir,
		QueueSize: cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := tl.Close(); closeErr != nil {
			slog.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	hub := realtime.NewHub(realtime.NewEventLog(cfg.Realtime.EventBufferSize), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	timed := generation.WithTimeout(gen, cfg.Generation.Timeout)
	factory := func(sctx context.Context, key study.SessionKey, s *domain.StudySession) (*study.Controller, error) {
		return study.NewController(sctx, s, study.Config{
			Generator: timed,
			Emitter: study.MultiEmitter{
				hub.Emitter(key.String()),
				transcript.Emitter(tl, key.ParticipantID),
			},
			Logger:                logger.With("participant_id", key.ParticipantID, "tab_id", key.TabID),
			QuestionTokens:        cfg.Study.QuestionMaxTokens,
			ReplyTokens:           cfg.Study.ReplyMaxTokens,
			NextQuestionDelay:     cfg.Study.NextQuestionDelay,
			QuizTransitionDelay:   cfg.Study.QuizTransitionDelay,
			ReviewTransitionDelay: cfg.Study.ReviewTransitionDelay,
		})
	}
	registry := study.NewRegistry(ctx, factory, study.RegistryConfig{
		TTL:    cfg.SessionTTL,
		Logger: logger,
		OnEvict: func(key study.SessionKey, sessionID string) {
			hub.CloseStream(key.String())
			tl.Release(key.ParticipantID, sessionID)
		},
	})
	registry.StartTTLWorker(ctx, cfg.SweepInterval)
	slog.Info("TTL worker started", "session_ttl", cfg.SessionTTL)

	limiter := middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
	startMaintenance(ctx, repo, limiter, cfg.SweepInterval)

	// Initialize handlers.
	baseHandler := api.NewHandler(repo, registry, hub, logger)
	studyHandler := api.NewStudyHandler(baseHandler, gen)
	resultsHandler := api.NewResultsHandler(baseHandler, cfg.ResultsToken)
	healthHandler := api.NewHealthHandler(repo, cfg.GenerationEnabled())
	wsHandler := realtime.NewWebSocketHandler(hub, realtime.HandlerConfig{
		AllowedOrigins: cfg.AllowedOrigins(),
		IsDev:          cfg.IsDevelopment(),
		PingInterval:   cfg.Realtime.PingInterval,
		KeepAlive: func(key study.SessionKey) {
			_, _ = registry.Get(key)
		},
	})

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	r.Get("/api/health", healthHandler.ServeHTTP)
	resultsHandler.RegisterRoutes(r)

	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(repo, cfg.IsDevelopment()))
		r.Group(func(r chi.Router) {
			r.Use(limiter.Middleware)
			studyHandler.RegisterRoutes(r)
		})
		r.Get("/ws/study", wsHandler.ServeHTTP)
	})

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// No WriteTimeout: websocket streams are long-lived.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	healthSrv, err := healthcheck.New(healthcheck.Config{
		DB:                repo,
		GenerationEnabled: cfg.GenerationEnabled(),
		Logger:            logger,
	})
	if err != nil {
		return fmt.Errorf("initialize grpc health server: %w", err)
	}
	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		return fmt.Errorf("listen grpc: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return healthSrv.Serve(gctx, lis)
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// newGenerator returns the chat-completions client, or a stand-in that
// refuses to start the study when no API key is configured.
func newGenerator(cfg *config.Config, logger *slog.Logger) (studyGenerator, error) {
	if !cfg.GenerationEnabled() {
		slog.Warn("Generation disabled (OPENAI_API_KEY not set), studies cannot start")
		return generation.Unavailable{Message: missingKeyMessage}, nil
	}
	client, err := generation.NewClient(generation.ClientConfig{
		BaseURL:     cfg.Generation.BaseURL,
		APIKey:      cfg.Generation.APIKey,
		Model:       cfg.Generation.Model,
		Temperature: cfg.Generation.Temperature,
		Timeout:     cfg.Generation.Timeout,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("initialize generation client: %w", err)
	}
	slog.Info("Generation client initialized", "model", cfg.Generation.Model, "base_url", cfg.Generation.BaseURL)
	return client, nil
}

// startMaintenance periodically prunes idle participants and rate limiters.
func startMaintenance(ctx context.Context, repo store.Repository, limiter *middleware.RateLimiter, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := repo.DeleteInactiveParticipants(ctx, participantRetention)
				if err != nil {
					slog.Error("Failed to prune inactive participants", "error", err)
				} else if n > 0 {
					slog.Info("Pruned inactive participants", "deleted", n)
				}
				if evicted := limiter.Evict(); evicted > 0 {
					slog.Debug("Evicted idle rate limiters", "count", evicted)
				}
			}
		}
	}()
}
