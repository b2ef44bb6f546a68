package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/zhengjr9/chat-relay/internal/chat"
	"github.com/zhengjr9/chat-relay/internal/config"
	"github.com/zhengjr9/chat-relay/internal/httputil"
	"github.com/zhengjr9/chat-relay/internal/metrics"
)

const (
	ChatPath  = "/api/chat"
	APIPrefix = "/api/"
)

// Route labels reported to metrics.
const (
	RouteAssets           = "assets"
	RouteChat             = "chat"
	RouteMethodNotAllowed = "method_not_allowed"
	RouteNotFound         = "not_found"
)

// NewRouter maps every request to exactly one of: the static assets, the chat
// handler, 405 or 404. It has no knowledge of chat semantics.
func NewRouter(chatHandler, assets http.Handler, m *metrics.Collector) *mux.Router {
	counted := func(route string, next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m.RecordRoute(route)
			next.ServeHTTP(w, r)
		})
	}
	methodNotAllowed := counted(RouteMethodNotAllowed, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteText(w, http.StatusMethodNotAllowed, "Method not allowed")
	}))
	notFound := counted(RouteNotFound, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteText(w, http.StatusNotFound, "Not found")
	}))
	static := counted(RouteAssets, assets)

	router := mux.NewRouter()
	// Cleaning would answer some paths with a redirect, a fifth outcome.
	router.SkipClean(true)

	router.Handle(ChatPath, counted(RouteChat, chatHandler)).Methods(http.MethodPost)
	router.Handle(ChatPath, methodNotAllowed)
	router.PathPrefix(APIPrefix).Handler(notFound)
	router.PathPrefix("/").Handler(static)
	// Request targets that are not paths at all, such as "OPTIONS *".
	router.NotFoundHandler = static
	router.MethodNotAllowedHandler = methodNotAllowed

	return router
}

// Server is the chat HTTP server.
type Server struct {
	httpServer *http.Server
}

// New constructs a Server from the given config. m and logger may be nil.
func New(cfg *config.Config, backend chat.Backend, m *metrics.Collector, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	chatHandler, err := chat.NewHandler(chat.Config{
		Model:        cfg.Model,
		Persona:      cfg.Persona,
		Timeout:      cfg.RequestTimeout,
		MaxBodyBytes: cfg.MaxBodyBytes,
		RunOptions:   cfg.RunOptions(),
	}, backend, m, logger)
	if err != nil {
		return nil, fmt.Errorf("build chat handler: %w", err)
	}

	assets := http.FileServer(http.Dir(cfg.AssetsDir))

	var handler http.Handler = NewRouter(chatHandler, assets, m)
	handler = ResolveDotSegments(handler)
	handler = LoggingMiddleware(logger)(handler)
	handler = RecoveryMiddleware(logger)(handler)
	handler = RequestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      cfg.RequestTimeout + 10*time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}, nil
}

// Start begins listening and blocks until the server is stopped.
func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Handler returns the underlying http.Handler (for use in tests with httptest.NewServer).
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
