// ABOUTME: Constructs the configured storage backend from a Config
// ABOUTME: Maps storage.backend names onto backend constructors and their options

package store

import (
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/2389/agentstate/internal/config"
	"github.com/2389/agentstate/internal/envelope"
)

// Open builds the backend selected by cfg.Storage.Backend.
func Open(cfg *config.Config, logger *slog.Logger) (Backend, error) {
	opts := []Option{
		WithLogger(logger),
		WithSQLiteDriver(cfg.Storage.SQLiteDriver),
		WithBusyTimeout(cfg.Storage.BusyTimeout),
		WithMaxHistory(cfg.Storage.MaxHistory),
	}

	switch cfg.Storage.Backend {
	case config.BackendMemory:
		return NewMemoryStorage(opts...), nil
	case config.BackendJSON:
		return NewJSONStorage(cfg.Storage.Path, opts...), nil
	case config.BackendEncrypted:
		codec, err := envelope.New(
			envelope.WithCipher(envelope.Cipher(cfg.Storage.Cipher)),
			envelope.WithIterations(cfg.Storage.KDFIterations),
		)
		if err != nil {
			return nil, fmt.Errorf("creating codec: %w", err)
		}
		return orNil(NewEncryptedJSONStorage(cfg.Storage.Path, cfg.Storage.Password, codec, opts...))
	case config.BackendSQLite:
		return orNil(NewSQLiteStorage(cfg.Storage.Path, opts...))
	case config.BackendSQLiteHistory:
		return orNil(NewHistoryStorage(cfg.Storage.Path, opts...))
	case config.BackendRedis:
		return NewRedisStorage(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, cfg.Redis.KeyPrefix, cfg.Redis.TTL, opts...), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}
}

// orNil keeps a failed constructor from yielding a non-nil Backend holding a nil pointer.
func orNil[B Backend](b B, err error) (Backend, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}
