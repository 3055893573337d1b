package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/taskmaster/workspace/internal/domain/entities"
	"github.com/taskmaster/workspace/internal/infrastructure/database"
	"github.com/taskmaster/workspace/internal/ports"
)

// gormStateRow maps app_state. A field named UpdatedAt would be stamped by
// gorm's own clock, hence Modified.
type gormStateRow struct {
	UserID   string `gorm:"primaryKey;column:user_id;size:128"`
	Key      string `gorm:"primaryKey;column:key;size:128"`
	State    string `gorm:"column:state;type:text;not null"`
	Modified int64  `gorm:"column:updated_at;not null;index"`
}

func (gormStateRow) TableName() string {
	return "app_state"
}

func (r gormStateRow) record() *entities.StateRecord {
	return &entities.StateRecord{
		UserID:    r.UserID,
		Key:       r.Key,
		State:     []byte(r.State),
		UpdatedAt: r.Modified,
	}
}

// GormStateRepository implements ports.StateRepository with gorm, used for
// the embedded SQLite backend
type GormStateRepository struct {
	db *gorm.DB
}

// NewGormStateRepository creates the repository and migrates its table
func NewGormStateRepository(db *gorm.DB) (*GormStateRepository, error) {
	if err := db.AutoMigrate(&gormStateRow{}); err != nil {
		return nil, fmt.Errorf("migrate app_state: %w", err)
	}
	return &GormStateRepository{db: db}, nil
}

func (r *GormStateRepository) Get(ctx context.Context, userID, key string) (*entities.StateRecord, error) {
	var row gormStateRow
	err := r.db.WithContext(ctx).
		Where(&gormStateRow{UserID: userID, Key: key}).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entities.ErrStateNotFound
		}
		return nil, fmt.Errorf("get state: %w", err)
	}
	return row.record(), nil
}

func (r *GormStateRepository) GetLatest(ctx context.Context, key string) (*entities.StateRecord, error) {
	var row gormStateRow
	err := r.db.WithContext(ctx).
		Where(&gormStateRow{Key: key}).
		Order("updated_at DESC").
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, entities.ErrStateNotFound
		}
		return nil, fmt.Errorf("get latest state: %w", err)
	}
	return row.record(), nil
}

func (r *GormStateRepository) Save(ctx context.Context, params ports.SaveStateParams) (*entities.StateRecord, error) {
	var result *entities.StateRecord
	var conflict bool

	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current *entities.StateRecord

		var row gormStateRow
		err := tx.Where(&gormStateRow{UserID: params.UserID, Key: params.Key}).Take(&row).Error
		switch {
		case err == nil:
			current = row.record()
		case errors.Is(err, gorm.ErrRecordNotFound):
		default:
			return fmt.Errorf("read state: %w", err)
		}

		if current != nil && current.IsNewerThan(params.BaseUpdatedAt) {
			result = current
			conflict = true
			return nil
		}

		next := gormStateRow{
			UserID:   params.UserID,
			Key:      params.Key,
			State:    string(params.State),
			Modified: current.NextTimestamp(params.Now),
		}
		err = tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"state", "updated_at"}),
		}).Create(&next).Error
		if err != nil {
			return fmt.Errorf("upsert state: %w", err)
		}

		result = next.record()
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

func (r *GormStateRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (r *GormStateRepository) Close() error {
	return database.CloseGorm(r.db)
}

var _ ports.StateRepository = (*GormStateRepository)(nil)
