package main

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"prism/internal/config"
	"prism/internal/core"
	"prism/internal/db"
	"prism/internal/directory"
	httpserver "prism/internal/http"
	"prism/internal/llm"
	"prism/internal/store"

	_ "github.com/lib/pq"
)

// backend is a message store together with its background work and
// shutdown.
type backend struct {
	store.Store
	run   func(ctx context.Context) error
	close func() error
}

// Ping forwards the health check to the store.
func (b *backend) Ping(ctx context.Context) error {
	if p, ok := b.Store.(interface{ Ping(context.Context) error }); ok {
		return p.Ping(ctx)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration
	cfg, err := config.Load(ctx)
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("invalid configuration")
	}

	logger := newLogger(cfg)

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("store", cfg.MessageStore).Msg("message store unavailable")
	}
	defer st.close()

	go func() {
		if err := st.run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("message store listener stopped")
		}
	}()

	dir, err := directory.NewFixtureRepository()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load patient directory")
	}

	// Initialize OpenAI LLM client (uses env: OPENAI_API_KEY, OPENAI_MODEL_CHAT)
	if cfg.OpenAIAPIKey == "" {
		logger.Warn().Msg("OPENAI_API_KEY is not set; generative flows will fail")
	}
	llmClient := llm.NewOpenAIClient(llm.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModelChat,
	})

	var video llm.VideoClient
	if cfg.GeminiAPIKey != "" {
		video = llm.NewVeoClient(llm.VideoConfig{
			APIKey:  cfg.GeminiAPIKey,
			BaseURL: cfg.VideoBaseURL,
			Model:   cfg.VideoModel,
		}, nil)
	} else {
		logger.Warn().Msg("GEMINI_API_KEY is not set; video generation is disabled")
	}

	gateway := core.NewGateway(llmClient, video, core.Config{
		SummaryModel: cfg.SummaryModel(),
		Poll: core.PollPolicy{
			Initial:    cfg.VideoPollInterval,
			Multiplier: 1.5,
			Max:        cfg.VideoMaxInterval,
			MaxWait:    cfg.VideoMaxWait,
		},
	}, logger)

	handler := httpserver.NewServer(st, dir, gateway, httpserver.Options{
		CORSOrigins: cfg.CORSOrigins,
	}, logger)

	// Video generation holds the request open while the operation runs.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.VideoMaxWait + time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("store", cfg.MessageStore).
			Msg("starting PRISm server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stdout
	if cfg.IsDevelopment() {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}

// openStore connects the configured message store backend.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*backend, error) {
	switch cfg.MessageStore {
	case config.StorePostgres:
		conn, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := conn.PingContext(pingCtx); err != nil {
			conn.Close()
			return nil, err
		}
		logger.Info().Msg("running database migrations...")
		if err := db.Migrate(ctx, conn); err != nil {
			conn.Close()
			return nil, err
		}
		notifier := db.NewNotifier(cfg.DatabaseURL, cfg.PostgresNotifyChannel, logger)
		st := store.NewPostgresStore(db.NewRepository(conn, notifier), notifier, logger)
		logger.Info().Msg("connected to PostgreSQL")
		return &backend{Store: st, run: st.Run, close: conn.Close}, nil

	case config.StoreRedis:
		st, err := store.NewRedisStore(ctx, cfg.RedisURL, logger)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("connected to Redis")
		return &backend{Store: st, run: st.Run, close: st.Close}, nil

	default:
		st, err := store.NewMemoryStore(cfg.SnowflakeNode, logger)
		if err != nil {
			return nil, err
		}
		logger.Warn().Msg("using the in-memory message store; conversations are lost on restart")
		return &backend{Store: st, run: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}, close: st.Close}, nil
	}
}
