package storage

import (
	"context"
	"errors"

	"github.com/yapay-ai/token-usage-watchdog/pkg/model"
)

var (
	// ErrNotFound is returned when no record exists for the given key.
	ErrNotFound = errors.New("storage: record not found")

	// ErrAlreadyExists is returned by CreateRecord when the key is taken.
	// Callers treat this as a benign race, not a failure.
	ErrAlreadyExists = errors.New("storage: record already exists")
)

// RecordStore defines the persistence layer for per-(deployment, month)
// usage records. Any error other than ErrNotFound / ErrAlreadyExists is
// transient and aborts the affected reconciliation only.
type RecordStore interface {
	// GetRecord retrieves a record by key, or ErrNotFound.
	GetRecord(ctx context.Context, partitionKey, rowKey string) (*model.UsageRecord, error)

	// CreateRecord inserts a new record, or ErrAlreadyExists.
	CreateRecord(ctx context.Context, record *model.UsageRecord) error

	// UpdateRecord replaces an existing record in full, or ErrNotFound
	// if it disappeared.
	UpdateRecord(ctx context.Context, record *model.UsageRecord) error

	// Close releases resources.
	Close() error
}
