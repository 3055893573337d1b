package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/taskmaster/workspace/internal/domain/entities"
	"github.com/taskmaster/workspace/internal/infrastructure/database"
	"github.com/taskmaster/workspace/internal/ports"
)

type stateRow struct {
	UserID    string `db:"user_id"`
	Key       string `db:"key"`
	State     string `db:"state"`
	UpdatedAt int64  `db:"updated_at"`
}

func (r stateRow) record() *entities.StateRecord {
	return &entities.StateRecord{
		UserID:    r.UserID,
		Key:       r.Key,
		State:     []byte(r.State),
		UpdatedAt: r.UpdatedAt,
	}
}

// PostgresStateRepository implements ports.StateRepository on the app_state table
type PostgresStateRepository struct {
	db *database.DB
}

// NewPostgresStateRepository creates a new PostgreSQL state repository
func NewPostgresStateRepository(db *database.DB) *PostgresStateRepository {
	return &PostgresStateRepository{db: db}
}

func (r *PostgresStateRepository) Get(ctx context.Context, userID, key string) (*entities.StateRecord, error) {
	query := `
		SELECT user_id, key, state::text AS state, updated_at
		FROM app_state
		WHERE user_id = $1 AND key = $2`

	var row stateRow
	if err := r.db.DB.GetContext(ctx, &row, query, userID, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrStateNotFound
		}
		return nil, fmt.Errorf("get state: %w", err)
	}

	return row.record(), nil
}

func (r *PostgresStateRepository) GetLatest(ctx context.Context, key string) (*entities.StateRecord, error) {
	query := `
		SELECT user_id, key, state::text AS state, updated_at
		FROM app_state
		WHERE key = $1
		ORDER BY updated_at DESC
		LIMIT 1`

	var row stateRow
	if err := r.db.DB.GetContext(ctx, &row, query, key); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, entities.ErrStateNotFound
		}
		return nil, fmt.Errorf("get latest state: %w", err)
	}

	return row.record(), nil
}

func (r *PostgresStateRepository) Save(ctx context.Context, params ports.SaveStateParams) (*entities.StateRecord, error) {
	var result *entities.StateRecord
	var conflict bool

	err := r.db.WithTransaction(ctx, func(tx *sqlx.Tx) error {
		var current *entities.StateRecord

		var row stateRow
		err := tx.GetContext(ctx, &row, `
			SELECT user_id, key, state::text AS state, updated_at
			FROM app_state
			WHERE user_id = $1 AND key = $2
			FOR UPDATE`, params.UserID, params.Key)
		switch {
		case err == nil:
			current = row.record()
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("lock state: %w", err)
		}

		if current != nil && current.IsNewerThan(params.BaseUpdatedAt) {
			result = current
			conflict = true
			return nil
		}

		next := current.NextTimestamp(params.Now)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO app_state (user_id, key, state, updated_at)
			VALUES ($1, $2, $3::jsonb, $4)
			ON CONFLICT (user_id, key)
			DO UPDATE SET state = EXCLUDED.state, updated_at = EXCLUDED.updated_at`,
			params.UserID, params.Key, string(params.State), next)
		if err != nil {
			return fmt.Errorf("upsert state: %w", err)
		}

		result = &entities.StateRecord{
			UserID:    params.UserID,
			Key:       params.Key,
			State:     params.State,
			UpdatedAt: next,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if conflict {
		return result, entities.ErrStateConflict
	}
	return result, nil
}

func (r *PostgresStateRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *PostgresStateRepository) Close() error {
	return r.db.Close()
}

var _ ports.StateRepository = (*PostgresStateRepository)(nil)
