package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/agentrouter/config"
	"github.com/mohammad-safakhou/agentrouter/internal/store"
)

// OpenStore connects to the configured Postgres database.
func OpenStore(ctx context.Context, cfg config.PostgresConfig) (*store.Store, error) {
	dsn, err := cfg.DSN()
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}
