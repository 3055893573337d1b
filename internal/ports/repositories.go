package ports

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/taskmaster/workspace/internal/domain/entities"
)

// ErrKeyNotFound is returned by LocalStorage for keys that were never written.
var ErrKeyNotFound = errors.New("storage key not found")

// StateRepository defines the interface for server-side document rows.
// Implementations must perform Save as one atomic compare-and-upsert.
type StateRepository interface {
	// Get returns the row for (userID, key) or entities.ErrStateNotFound.
	Get(ctx context.Context, userID, key string) (*entities.StateRecord, error)
	// GetLatest returns the most recently updated row for key across all users.
	GetLatest(ctx context.Context, key string) (*entities.StateRecord, error)
	// Save upserts the row unless params.BaseUpdatedAt is older than the stored
	// timestamp, in which case it returns the stored row and entities.ErrStateConflict.
	Save(ctx context.Context, params SaveStateParams) (*entities.StateRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// SaveStateParams describes one optimistic write
type SaveStateParams struct {
	UserID        string
	Key           string
	State         json.RawMessage
	BaseUpdatedAt *int64
	// Now is the server clock in epoch milliseconds.
	Now int64
}

// LocalStorage defines device-local key/value persistence for the client.
type LocalStorage interface {
	Read(key string) ([]byte, error)
	Write(key string, data []byte) error
	// Quarantine moves an unreadable value aside and returns where it went.
	Quarantine(key string) (string, error)
}
