// Package temporalx runs the ingestion state machine as a durable Temporal
// workflow: one activity per stage, the failure branch as its own activity,
// and a starter that satisfies pipeline.Runner.
package temporalx

import (
	"context"
	"fmt"
	"time"

	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/markdave123-py/ragready/internal/apperr"
	"github.com/markdave123-py/ragready/internal/config"
	"github.com/markdave123-py/ragready/internal/logger"
	"github.com/markdave123-py/ragready/internal/retry"
)

type Config struct {
	Address   string
	Namespace string
	TaskQueue string
}

func ConfigFrom(cfg *config.Config) Config {
	return Config{
		Address:   cfg.TemporalAddress,
		Namespace: cfg.TemporalNamespace,
		TaskQueue: cfg.TemporalQueue,
	}
}

const (
	dialTimeout  = 5 * time.Second
	dialAttempts = 8
)

// NewClient dials Temporal, retrying while the frontend is not reachable.
func NewClient(ctx context.Context, cfg Config, log *logger.Logger) (temporalsdkclient.Client, error) {
	if cfg.Address == "" {
		return nil, apperr.Config("temporal dial", "TEMPORAL_ADDRESS not set")
	}
	opts := temporalsdkclient.Options{
		HostPort:  cfg.Address,
		Namespace: cfg.Namespace,
		Logger:    log,
	}
	policy := retry.Policy{MaxAttempts: dialAttempts, InitialBackoff: 250 * time.Millisecond, MaxBackoff: 5 * time.Second}
	notify := func(attempt int, err error, wait time.Duration) {
		log.Warn("Temporal not reachable; retrying", "address", cfg.Address, "namespace", cfg.Namespace,
			"attempt", attempt, "wait", wait, "error", err)
	}
	c, err := retry.Do(ctx, policy, notify, func(ctx context.Context) (temporalsdkclient.Client, error) {
		dctx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()
		c, err := temporalsdkclient.DialContext(dctx, opts)
		if err != nil {
			return nil, apperr.Transient("temporal dial", err)
		}
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("temporal dial failed (address=%s namespace=%s): %w", cfg.Address, cfg.Namespace, err)
	}
	log.Info("Connected to Temporal", "address", cfg.Address, "namespace", cfg.Namespace)
	return c, nil
}
