package main

import (
	"context"
	"fmt"
	"time"

	"carelay/internal/constants"
	"carelay/internal/database"
	"carelay/internal/models"
	"carelay/internal/retry"
	"carelay/internal/storage"

	"github.com/sirupsen/logrus"
)

// openStore opens the configured backend. db is non-nil only for sqlite,
// which is the one backend that keeps the forward audit trail.
func openStore(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (store storage.Store, db *database.Database, err error) {
	backoff := retry.NewBackoff(retry.BackoffConfig{
		InitialDelay: time.Duration(cfg.Retry.InitialBackoffMs) * time.Millisecond,
		MaxDelay:     time.Duration(cfg.Retry.MaxBackoffMs) * time.Millisecond,
		Multiplier:   2.0,
		MaxAttempts:  max(cfg.Retry.MaxAttempts, constants.DefaultDatabaseRetryAttempts),
		Jitter:       true,
	})

	log := logger.WithField("backend", cfg.Storage.Backend)
	switch cfg.Storage.Backend {
	case "memory":
		log.Warn("Using in-memory store; queue and ledger are lost on exit")
		return storage.NewMemoryStore(), nil, nil

	case "redis":
		var rs *storage.RedisStore
		err = backoff.Retry(ctx, func() error {
			var openErr error
			rs, openErr = storage.NewRedisStore(ctx, storage.RedisConfig{
				URL:       cfg.Storage.RedisURL,
				Password:  cfg.Storage.RedisPassword,
				KeyPrefix: cfg.Storage.KeyPrefix,
			})
			if openErr != nil {
				log.WithError(openErr).Warn("Failed to connect to redis")
			}
			return openErr
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open redis store after retries: %w", err)
		}
		log.Info("Redis store ready")
		return rs, nil, nil

	case "sqlite":
		err = backoff.Retry(ctx, func() error {
			var openErr error
			db, openErr = database.New(cfg.Storage.Path, cfg.Storage.EncryptionSecret)
			if openErr != nil {
				log.WithError(openErr).Warn("Failed to initialize database")
			}
			return openErr
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database after retries: %w", err)
		}
		log.WithField("path", cfg.Storage.Path).Info("SQLite store ready")
		return db, db, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
}
