package storage

import (
	"context"
	"fmt"
)

var (
	_ Backend[any] = (*Memory[any])(nil)
	_ Backend[any] = (*Persistent[any])(nil)
	_ Adapter      = (*SQLiteAdapter)(nil)
)

// Open constructs a ready-to-use backend for the configured engine.
func Open[V any](ctx context.Context, cfg Config, opts ...Option) (Backend[V], error) {
	switch cfg.Engine {
	case "", EngineMemory:
		if cfg.SweepInterval > 0 {
			opts = append(opts, WithSweepInterval(cfg.SweepInterval))
		}
		if cfg.IndexingEnabled {
			opts = append(opts, WithIndexing())
		}
		return NewMemory[V](opts...), nil

	case EngineSQLite:
		adapter := NewSQLiteAdapter(cfg.Path)
		backend, err := NewPersistent[V](ctx, adapter, opts...)
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}
		return backend, nil

	default:
		return nil, fmt.Errorf("unknown storage engine %q", cfg.Engine)
	}
}
