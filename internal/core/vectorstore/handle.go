package vectorstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/markdave123-py/ragready/internal/logger"
)

// Handle establishes the pool on first use. Credentials are fetched once; a
// failed attempt is not cached so the next caller retries.
type Handle struct {
	mu       sync.Mutex
	pool     *pgxpool.Pool
	source   CredentialSource
	maxConns int32
	log      *logger.Logger
}

func NewHandle(source CredentialSource, maxConns int, log *logger.Logger) *Handle {
	if maxConns <= 0 {
		maxConns = 10
	}
	return &Handle{source: source, maxConns: int32(maxConns), log: log}
}

func (h *Handle) Pool(ctx context.Context) (*pgxpool.Pool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pool != nil {
		return h.pool, nil
	}

	dsn, err := h.source.DSN(ctx)
	if err != nil {
		return nil, err
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse vector db config: %w", err)
	}
	cfg.MaxConns = h.maxConns

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to vector db: %w", err)
	}
	h.log.Info("vector db pool created", "max_conns", h.maxConns)
	h.pool = pool
	return pool, nil
}

func (h *Handle) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.pool != nil {
		h.pool.Close()
		h.pool = nil
	}
}
