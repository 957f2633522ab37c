// Package http exposes the patient conversations, the patient directory and
// the generative flows over HTTP, SSE and WebSocket.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"prism/internal/directory"
	"prism/internal/store"
	"prism/pkg"
)

// Gateway is the set of generative flows the server exposes.
type Gateway interface {
	GenerateRiskScore(ctx context.Context, in pkg.RiskScoreInput) (*pkg.RiskScoreOutput, error)
	ExtractTasks(ctx context.Context, in pkg.ExtractTasksInput) (*pkg.ExtractTasksOutput, error)
	ExtractConversationTasks(ctx context.Context, snap pkg.Snapshot) (*pkg.ExtractTasksOutput, error)
	SuggestInterventions(ctx context.Context, in pkg.SuggestInterventionsInput) (*pkg.SuggestInterventionsOutput, error)
	SummarizeProgress(ctx context.Context, in pkg.ProgressSummaryInput) (*pkg.ProgressSummaryOutput, error)
	DescribeVideo(ctx context.Context, in pkg.VideoInput) (*pkg.VideoDescriptionOutput, error)
	GenerateVideo(ctx context.Context, in pkg.VideoInput) (*pkg.VideoSummaryOutput, error)
}

// pinger is implemented by stores that can check their backend.
type pinger interface {
	Ping(ctx context.Context) error
}

// Options tunes a Server.
type Options struct {
	// CORSOrigins lists the allowed browser origins; "*" allows all.
	CORSOrigins []string
	// SendTimeout bounds one append issued from a WebSocket session.
	SendTimeout time.Duration
	// KeepAlive is the interval of SSE comments and WebSocket pings.
	KeepAlive time.Duration
}

// Server bundles together the dependencies required by HTTP handlers.  It
// implements http.Handler so it can be passed to http.Server.
type Server struct {
	store     store.Store
	directory directory.Repository
	gateway   Gateway
	log       zerolog.Logger

	router      chi.Router
	upgrader    websocket.Upgrader
	sendTimeout time.Duration
	keepAlive   time.Duration
}

// NewServer constructs a Server and its routes.
func NewServer(st store.Store, dir directory.Repository, gw Gateway, opts Options, log zerolog.Logger) *Server {
	if len(opts.CORSOrigins) == 0 {
		opts.CORSOrigins = []string{"*"}
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	if opts.KeepAlive <= 0 {
		opts.KeepAlive = 30 * time.Second
	}
	s := &Server{
		store:       st,
		directory:   dir,
		gateway:     gw,
		log:         log.With().Str("component", "http").Logger(),
		sendTimeout: opts.SendTimeout,
		keepAlive:   opts.KeepAlive,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(opts.CORSOrigins),
	}
	s.router = s.routes(opts)
	return s
}

// ServeHTTP dispatches to the router.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes(opts Options) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(Metrics)
	r.Use(Logger(s.log))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.handleWebSocket)

	r.Get("/api/dashboard", s.handleDashboard)
	r.Route("/api/patients", func(r chi.Router) {
		r.Get("/", s.handleListPatients)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetPatient)

			r.Get("/messages", s.handleListMessages)
			r.With(chimw.RequestSize(64*1024)).Post("/messages", s.handlePostMessage)
			r.Get("/messages/stream", s.handleStreamMessages)

			r.Route("/ai", func(r chi.Router) {
				r.Use(chimw.RequestSize(64 * 1024))
				r.Post("/risk-score", s.handleRiskScore)
				r.Post("/interventions", s.handleInterventions)
				r.Post("/summary", s.handleSummary)
				r.Post("/tasks", s.handleTasks)
				r.Post("/video-description", s.handleVideoDescription)
				r.Post("/video", s.handleVideo)
			})
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	code := http.StatusOK
	if p, ok := s.store.(pinger); ok {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			s.log.Warn().Err(err).Msg("store health check failed")
			status = "unhealthy"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, map[string]string{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// originChecker returns the WebSocket origin policy matching the CORS
// configuration.
func originChecker(origins []string) func(r *http.Request) bool {
	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := allowed[origin]
		return ok
	}
}
