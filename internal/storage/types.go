package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: key not found")
)

// Config selects and configures a driver. An empty Driver or "none" disables
// storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only
}

// AuditEntry records one settings change.
type AuditEntry struct {
	At    time.Time `json:"at"`
	Actor string    `json:"actor,omitempty"`
	Op    string    `json:"op"`
	Key   string    `json:"key"`
	Value string    `json:"value,omitempty"`
}

// Store is a string key/value store. Implementations are safe for concurrent
// use.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	// All returns a copy of every pair.
	All(ctx context.Context) (map[string]string, error)
	AppendAudit(ctx context.Context, e AuditEntry) error
	Close() error
}
