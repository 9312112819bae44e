package tasks

import (
	"context"
	"errors"
	"strings"
)

var ErrStoreNotFound = errors.New("task not found in store")

// Store archives task snapshots for inspection after the process exits.
// The in-memory registry stays authoritative; archive writes are async and
// best-effort.
type Store interface {
	SaveTask(ctx context.Context, task Task) error
	GetTask(ctx context.Context, taskID string) (Task, error)
	ListTasks(ctx context.Context, limit int) ([]Task, error)
	Close() error
}

// NewStore returns a Postgres-backed store when a database URL is configured,
// and nil (archive disabled) otherwise.
func NewStore(ctx context.Context, databaseURL string) (Store, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, nil
	}
	return NewPostgresStore(ctx, databaseURL)
}
