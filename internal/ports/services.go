package ports

import (
	"context"
	"encoding/json"

	"github.com/taskmaster/workspace/internal/domain/entities"
)

// StateService interface for the remote document store
type StateService interface {
	GetState(ctx context.Context) (*entities.StateRecord, error)
	PutState(ctx context.Context, req PutStateRequest) (*entities.StateRecord, error)
	Health(ctx context.Context) error
}

// RemoteStateClient interface for the client side of the state API.
// Failures are reported with the entities sync error types.
type RemoteStateClient interface {
	Fetch(ctx context.Context, endpoint, apiKey string) (*RemoteSnapshot, error)
	Store(ctx context.Context, endpoint, apiKey string, state json.RawMessage, baseUpdatedAt *int64) (int64, error)
}

// RemoteSnapshot is a document as returned by GET /state
type RemoteSnapshot struct {
	State     json.RawMessage
	UpdatedAt int64
}

// Request/Response DTOs
type PutStateRequest struct {
	State         json.RawMessage `json:"state" validate:"required"`
	BaseUpdatedAt *int64          `json:"baseUpdatedAt,omitempty" validate:"omitempty,gte=0"`
}

type GetStateResponse struct {
	State     json.RawMessage `json:"state"`
	UpdatedAt int64           `json:"updatedAt"`
}

type PutStateResponse struct {
	OK        bool  `json:"ok"`
	UpdatedAt int64 `json:"updatedAt"`
}

type ConflictResponse struct {
	Error     string          `json:"error"`
	State     json.RawMessage `json:"state"`
	UpdatedAt int64           `json:"updatedAt"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	OK bool `json:"ok"`
}

// Stable error codes of the state API
const (
	CodeUnauthorized   = "unauthorized"
	CodeEmpty          = "empty"
	CodeConflict       = "conflict"
	CodeInvalidPayload = "invalid_payload"
	CodeInvalidState   = "invalid_state"
	CodeDBError        = "db_error"
	CodeRateLimited    = "rate_limited"
	CodeNotFound       = "not_found"
	CodeInternal       = "internal_error"
)
