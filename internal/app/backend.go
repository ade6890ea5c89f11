// Package app assembles the storage backend and launch options from config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/mind-engage/mindengage-lti-provider/internal/config"
	"github.com/mind-engage/mindengage-lti-provider/pkg/lti"
	"github.com/mind-engage/mindengage-lti-provider/pkg/storage"
	"github.com/mind-engage/mindengage-lti-provider/pkg/storage/memory"
	"github.com/mind-engage/mindengage-lti-provider/pkg/storage/redisnonce"
)

// Backend is an opened store plus its lifecycle hooks.
type Backend struct {
	Store lti.Store

	pings   []func(context.Context) error
	closers []func() error
}

// Ready pings every underlying connection.
func (b *Backend) Ready(ctx context.Context) error {
	for _, p := range b.pings {
		if err := p(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (b *Backend) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// OpenBackend opens the configured store, applies migrations to SQL
// databases and routes nonces to the configured backend.
func OpenBackend(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Backend, error) {
	b := &Backend{}
	var base lti.Store

	switch cfg.StoreDriver {
	case config.StoreMemory:
		base = memory.New()
	case config.StoreSQLite, config.StorePostgres:
		db, err := storage.Connect(ctx, string(cfg.StoreDriver), cfg.DBDSN)
		if err != nil {
			return nil, fmt.Errorf("db connect: %w", err)
		}
		b.closers = append(b.closers, db.Close)
		b.pings = append(b.pings, db.Ping)
		if err := storage.Up(ctx, db); err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("db migrate: %w", err)
		}
		base = storage.NewStore(db)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	var nonces lti.NonceStore
	switch cfg.NonceBackend {
	case config.NonceRedis:
		rs, err := redisnonce.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.RedisKeyPrefix)
		if err != nil {
			_ = b.Close()
			return nil, fmt.Errorf("redis nonce store: %w", err)
		}
		b.closers = append(b.closers, rs.Close)
		b.pings = append(b.pings, rs.Ping)
		nonces = rs
	case config.NonceMemory:
		if cfg.StoreDriver != config.StoreMemory {
			nonces = memory.New()
		}
	}

	b.Store = storage.WithNonces(base, nonces)
	logger.Info("storage ready", "store", cfg.StoreDriver, "nonces", cfg.NonceBackend)
	return b, nil
}

// LaunchOptions maps config onto tool provider options.
func LaunchOptions(cfg config.Config, logger *slog.Logger, obs lti.Observer) lti.Options {
	return lti.Options{
		AllowSharing:       cfg.AllowSharing,
		DefaultEmail:       cfg.DefaultEmail,
		TimestampThreshold: cfg.TimestampWindow,
		Logger:             logger,
		Observer:           obs,
	}
}
