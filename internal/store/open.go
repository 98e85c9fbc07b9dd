package store

import (
	"context"
	"strings"
)

type Store interface {
	JobStore
	UsageStore
	Close() error
}

// Open returns a Postgres store for a DSN and an in-memory store otherwise.
func Open(ctx context.Context, dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		return NewMemoryJobStore(), nil
	}
	pg, err := NewPostgresJobStore(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return pg, nil
}
