package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/sagarc03/anystore"
	"github.com/sagarc03/anystore/gateway"
	"github.com/sagarc03/anystore/keybackend"
	"github.com/sagarc03/anystore/layers"
	"github.com/sagarc03/anystore/services"
)

// Stack returns the layers c enables, innermost first: read-only, timeout,
// retry, concurrency limit, metrics, logging, tracing. A retry re-runs a
// timed out attempt inside the permit it already holds, so waiting for a
// permit is never retried. Observers see one call per operation regardless
// of retries. reg is only used when metrics are on.
func (c LayersConfig) Stack(reg prometheus.Registerer) anystore.Stack {
	var s anystore.Stack
	if c.ReadOnly {
		s = append(s, layers.NewReadOnly())
	}
	if c.Timeout.Operation > 0 || c.Timeout.IO > 0 {
		s = append(s, layers.NewTimeout(c.Timeout.Operation, c.Timeout.IO))
	}
	if c.Retry.Enabled {
		s = append(s, layers.NewRetry(layers.RetryConfig{
			MaxAttempts:     c.Retry.MaxAttempts,
			InitialInterval: c.Retry.InitialInterval,
			MaxInterval:     c.Retry.MaxInterval,
			Multiplier:      c.Retry.Multiplier,
			Jitter:          c.Retry.Jitter,
		}).WithLogger(slog.Default()))
	}
	if c.Concurrency.Limit > 0 {
		s = append(s, layers.NewConcurrentLimit(c.Concurrency.Limit, c.Concurrency.Timeout))
	}
	if c.Metrics {
		s = append(s, layers.NewMetrics(reg))
	}
	if c.Logging {
		s = append(s, layers.NewLogging(nil))
	}
	if c.Tracing {
		s = append(s, layers.NewTracing(nil))
	}
	return s
}

// Open creates the backend cfg describes and wraps it in the configured
// layers. The returned function releases the backend; call it once the
// operator is no longer used.
func Open(ctx context.Context, cfg *Config, reg prometheus.Registerer) (*anystore.Operator, func() error, error) {
	acc, err := services.New(ctx, cfg.Storage.Scheme, cfg.Storage.Options)
	if err != nil {
		return nil, nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Scheme, err)
	}
	closeFn := func() error { return services.Close(acc) }

	op := anystore.NewOperator(acc, cfg.Layers.Stack(reg)...)

	if cfg.Storage.Check {
		if err := op.Check(ctx); err != nil {
			return nil, nil, errors.Join(fmt.Errorf("check %s storage: %w", cfg.Storage.Scheme, err), closeFn())
		}
	}

	info := op.Info()
	slog.Info("storage opened", "scheme", info.Scheme, "name", info.Name, "root", info.Root, "layers", len(op.Layers()))
	return op, closeFn, nil
}

// HandlerConfig builds the gateway configuration. metrics, when not nil,
// is served on the gateway's metrics path.
func HandlerConfig(cfg *Config, metrics prometheus.Gatherer) (*gateway.HandlerConfig, error) {
	mode, err := gateway.ParseMode(cfg.Server.Mode)
	if err != nil {
		return nil, err
	}

	var readVerifier, writeVerifier gateway.RequestVerifier
	if cfg.Auth.Read == "private" || cfg.Auth.Write == "private" {
		store, err := keybackend.NewSecretStore(cfg.Auth.Keys)
		if err != nil {
			return nil, fmt.Errorf("load access keys: %w", err)
		}
		if len(store.AccessKeys()) == 0 {
			slog.Warn("private access configured without access keys; every request will be rejected")
		}
		verifier := gateway.NewSignatureVerifier(cfg.Auth.Region, cfg.Auth.Service, store)
		if cfg.Auth.Read == "private" {
			readVerifier = verifier
		}
		if cfg.Auth.Write == "private" {
			writeVerifier = verifier
		}
	}

	return &gateway.HandlerConfig{
		Mode:          mode,
		ReadVerifier:  readVerifier,
		WriteVerifier: writeVerifier,
		CORS:          cfg.CORS,
		MaxUploadSize: cfg.Server.MaxUploadSize,
		Metrics:       metrics,
	}, nil
}
