package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/markdave123-py/ragready/internal/api/handlers"
	appMiddleware "github.com/markdave123-py/ragready/internal/api/middlewares"
	"github.com/markdave123-py/ragready/internal/events"
	"github.com/markdave123-py/ragready/internal/logger"
)

// Routes is everything the router mounts. Events is nil unless the
// upload-event hook is enabled.
type Routes struct {
	JWTSecret   []byte
	CORSOrigins []string
	Datasets    handlers.DatasetManager
	Search      handlers.Searcher
	Chat        handlers.Chatter
	Events      events.Dispatcher
	// RequestTimeout bounds every API request; chat is the slowest route.
	RequestTimeout time.Duration
	Log            *logger.Logger
}

// NewRouter builds and wires all routes.
func NewRouter(rt Routes) http.Handler {
	if rt.Log == nil {
		rt.Log = logger.Nop()
	}
	if rt.RequestTimeout <= 0 {
		rt.RequestTimeout = 90 * time.Second
	}
	datasetHandler := handlers.NewDatasetHandler(rt.Datasets, rt.Log)
	searchHandler := handlers.NewSearchHandler(rt.Datasets, rt.Search, rt.Log)
	chatHandler := handlers.NewChatHandler(rt.Chat, rt.Log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(rt.RequestTimeout))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   rt.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(api chi.Router) {
		if rt.Events != nil {
			api.Post("/events/s3", handlers.NewEventsHandler(rt.Events, rt.Log).S3)
		}

		api.Group(func(protected chi.Router) {
			protected.Use(appMiddleware.JWTMiddleware(rt.JWTSecret))
			protected.Post("/datasets", datasetHandler.Create)
			protected.Get("/datasets/{datasetID}", datasetHandler.Status)
			protected.Post("/datasets/{datasetID}/files", datasetHandler.UploadFile)
			protected.Post("/datasets/{datasetID}/search", searchHandler.Search)
			protected.Post("/datasets/{datasetID}/chat", chatHandler.Chat)
			protected.Get("/conversations/{conversationID}/messages", chatHandler.Messages)
		})
	})
	return r
}

// Server wraps the HTTP server instance and its handlers.
type Server struct {
	httpServer *http.Server
	log        *logger.Logger
}

func NewServer(port string, h http.Handler, log *logger.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              ":" + port,
			Handler:           h,
			ReadHeaderTimeout: 10 * time.Second,
		},
		log: log,
	}
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.log.Info("HTTP server listening", "addr", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}
