package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/taskmaster/workspace/internal/domain/entities"
	"github.com/taskmaster/workspace/internal/infrastructure/logger"
	"github.com/taskmaster/workspace/internal/ports"
)

// StateService serves the single document row of the configured user
type StateService struct {
	repo   ports.StateRepository
	userID string
	key    string
	now    func() time.Time
	logger *logger.Logger
}

// NewStateService creates a new state service
func NewStateService(repo ports.StateRepository, userID, key string, logger *logger.Logger) *StateService {
	if key == "" {
		key = entities.DefaultStateKey
	}
	return &StateService{
		repo:   repo,
		userID: userID,
		key:    key,
		now:    time.Now,
		logger: logger.WithComponent("state_service").WithUserID(userID),
	}
}

// WithClock replaces the server clock, for tests
func (s *StateService) WithClock(now func() time.Time) *StateService {
	s.now = now
	return s
}

// GetState returns the user's row, falling back to the most recently written
// row of any user when the user has none.
func (s *StateService) GetState(ctx context.Context) (*entities.StateRecord, error) {
	start := time.Now()
	record, err := s.repo.Get(ctx, s.userID, s.key)
	s.logQuery("get", start, err)
	if errors.Is(err, entities.ErrStateNotFound) {
		start = time.Now()
		record, err = s.repo.GetLatest(ctx, s.key)
		s.logQuery("get_latest", start, err)
		if err == nil {
			s.logger.Debugw("Serving latest state of another user", "owner", record.UserID)
		}
	}
	if err != nil {
		if errors.Is(err, entities.ErrStateNotFound) || errors.Is(err, entities.ErrInvalidState) {
			return nil, err
		}
		return nil, fmt.Errorf("load state: %w", err)
	}

	if !entities.IsJSONObject(record.State) {
		s.logger.Errorw("Stored state is not a JSON object", "owner", record.UserID, "updated_at", record.UpdatedAt)
		return nil, entities.ErrInvalidState
	}

	return record, nil
}

// PutState stores a new document unless the stored one is newer than the base
// the client declared. On conflict the stored record is returned alongside
// entities.ErrStateConflict.
func (s *StateService) PutState(ctx context.Context, req ports.PutStateRequest) (*entities.StateRecord, error) {
	if !entities.IsJSONObject(req.State) {
		return nil, entities.ErrInvalidPayload
	}
	if req.BaseUpdatedAt != nil && *req.BaseUpdatedAt < 0 {
		return nil, entities.ErrInvalidPayload
	}

	start := time.Now()
	record, err := s.repo.Save(ctx, ports.SaveStateParams{
		UserID:        s.userID,
		Key:           s.key,
		State:         req.State,
		BaseUpdatedAt: req.BaseUpdatedAt,
		Now:           s.now().UnixMilli(),
	})
	s.logQuery("save", start, err)
	if errors.Is(err, entities.ErrStateConflict) {
		s.logger.Infow("Rejected stale state write",
			"base_updated_at", *req.BaseUpdatedAt,
			"stored_updated_at", record.UpdatedAt,
		)
		return record, err
	}
	if err != nil {
		return nil, fmt.Errorf("save state: %w", err)
	}

	s.logger.Infow("State stored", "updated_at", record.UpdatedAt, "bytes", len(req.State))
	return record, nil
}

// logQuery records one repository round trip. Missing rows and conflicts are
// expected outcomes, not failures.
func (s *StateService) logQuery(op string, start time.Time, err error) {
	if errors.Is(err, entities.ErrStateNotFound) || errors.Is(err, entities.ErrStateConflict) {
		err = nil
	}
	s.logger.LogStateQuery(op, float64(time.Since(start).Microseconds())/1000, err)
}

// Health checks the storage backend
func (s *StateService) Health(ctx context.Context) error {
	return s.repo.Ping(ctx)
}

var _ ports.StateService = (*StateService)(nil)
