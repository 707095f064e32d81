package core

import (
	"bloodledger/internal/infra/persistence/memory"
	"bloodledger/internal/infra/persistence/postgres"
	"bloodledger/internal/infra/persistence/sqlite"
	"bloodledger/internal/platform/config"
	"context"
	"fmt"
)

// OpenPersistentStore builds the backend named by cfg.Storage. A nil engine
// gets the default ledger rules. cfg.TxTimeout bounds calls made without a
// caller deadline.
func OpenPersistentStore(ctx context.Context, cfg config.Config, engine *RulesEngine) (PersistentStore, error) {
	if engine == nil {
		engine = NewDefaultRulesEngine()
	}
	var opts []memory.Option
	if cfg.TxTimeout > 0 {
		opts = append(opts, memory.WithTimeout(cfg.TxTimeout))
	}
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		return memory.NewStore(engine, opts...), nil
	case config.StorageSQLite, "":
		return sqlite.NewStore(cfg.Storage.SQLitePath, engine, opts...)
	case config.StoragePostgres:
		return postgres.NewStore(ctx, cfg.Storage.PostgresDSN, engine, opts...)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Storage.Driver)
	}
}

// OpenService opens the configured store and wraps it in a service whose
// retry budget follows cfg.RetryAttempts.
func OpenService(ctx context.Context, cfg config.Config, opts ...ServiceOption) (*Service, error) {
	store, err := OpenPersistentStore(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	if cfg.RetryAttempts > 0 {
		policy := DefaultRetryPolicy()
		policy.Attempts = cfg.RetryAttempts
		opts = append([]ServiceOption{WithRetryPolicy(policy)}, opts...)
	}
	return NewService(store, opts...), nil
}
