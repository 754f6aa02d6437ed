package app

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/markdave123-py/ragready/internal/config"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/observability"
	"github.com/markdave123-py/ragready/internal/services"
)

// API is the HTTP process. With EVENTS_HOOK it also owns a dispatcher and
// a runner, so uploads can be processed without a separate worker.
type API struct {
	comps    *Components
	server   *Server
	exec     *execution
	shutdown func(context.Context) error
}

func NewAPI(ctx context.Context, cfg *config.Config, log *logger.Logger) (*API, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET not set")
	}
	shutdown := observability.Init(ctx, log, observability.ConfigFrom(cfg, "api"))

	comps, err := Build(ctx, cfg, log)
	if err != nil {
		_ = shutdown(ctx)
		return nil, err
	}
	a := &API{comps: comps, shutdown: shutdown}

	routes := Routes{
		JWTSecret:      []byte(cfg.JWTSecret),
		CORSOrigins:    cfg.CORSOrigins,
		Datasets:       services.NewDatasetService(comps.Store, comps.Objects, cfg.RawBucket, log),
		Search:         comps.Retriever,
		Chat:           services.NewChatService(comps.Store, comps.Retriever, comps.Chat, comps.Glossary, cfg.Timeout.Chat, log),
		RequestTimeout: cfg.Timeout.Embed + cfg.Timeout.Search + cfg.Timeout.Chat + 5*time.Second,
		Log:            log,
	}

	if cfg.EventsHook {
		p, err := NewPipeline(comps)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		exec, err := newExecution(ctx, comps, p, false)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.exec = exec
		p.AttachRunner(comps, exec.runner)
		routes.Events = p.Dispatcher
		log.Info("upload event hook enabled", "path", "/api/events/s3", "runner", cfg.Runner)
	}

	a.server = NewServer(cfg.Port, NewRouter(routes), log)
	return a, nil
}

// Run serves until ctx is done, then drains in-flight requests.
func (a *API) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(a.server.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})
	if a.exec != nil {
		g.Go(func() error { return a.exec.serve(gctx) })
	}
	return g.Wait()
}

func (a *API) Close(ctx context.Context) {
	if a.exec != nil {
		a.exec.close()
	}
	a.comps.Close()
	if err := a.shutdown(ctx); err != nil {
		a.comps.Log.Warn("otel shutdown failed", "error", err)
	}
}
