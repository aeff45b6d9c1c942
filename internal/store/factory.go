package store

import (
	"context"
	"fmt"

	"github.com/pcraw4d/scout/internal/config"
)

// Open builds the configured persistent Store (sqlite or postgres),
// wrapping it with a Redis RungCache when cfg.RedisAddr is set. In-memory
// studies never call this; Open is only for the CLI's cross-process
// persistence needs.
func Open(ctx context.Context, cfg config.Config) (Store, error) {
	var backing Store
	var err error

	switch cfg.Database.Backend {
	case "", "sqlite":
		backing, err = NewSQLite(cfg.Database.Path)
	case "postgres":
		backing, err = NewPostgres(ctx, cfg.Database)
	default:
		return nil, fmt.Errorf("%w: unknown store backend %q", ErrConfig, cfg.Database.Backend)
	}
	if err != nil {
		return nil, err
	}

	if cfg.RedisAddr == "" {
		return backing, nil
	}
	cache, err := NewRungCache(cfg.RedisAddr, "", 0)
	if err != nil {
		// Redis is an optimization, not a correctness requirement: fall back
		// to the uncached backend rather than failing the whole study.
		return backing, nil
	}
	return WithRungCache(backing, cache), nil
}
