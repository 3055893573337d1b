package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/taskmaster/workspace/internal/domain/entities"
	"github.com/taskmaster/workspace/internal/ports"
)

const redisMaxRetries = 5

type redisGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

type redisStateValue struct {
	State     json.RawMessage `json:"state"`
	UpdatedAt int64           `json:"updatedAt"`
}

// RedisStateRepository implements ports.StateRepository with one Redis key per
// (user, key) and a sorted set per key ordering users by last write
type RedisStateRepository struct {
	client *redis.Client
	prefix string
}

// NewRedisStateRepository creates a new Redis state repository
func NewRedisStateRepository(client *redis.Client, prefix string) *RedisStateRepository {
	return &RedisStateRepository{client: client, prefix: prefix}
}

func (r *RedisStateRepository) stateKey(userID, key string) string {
	return fmt.Sprintf("%s:state:%s:%s", r.prefix, key, userID)
}

func (r *RedisStateRepository) indexKey(key string) string {
	return fmt.Sprintf("%s:state-index:%s", r.prefix, key)
}

func (r *RedisStateRepository) load(ctx context.Context, cmd redisGetter, userID, key string) (*entities.StateRecord, error) {
	data, err := cmd.Get(ctx, r.stateKey(userID, key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, entities.ErrStateNotFound
		}
		return nil, fmt.Errorf("get state: %w", err)
	}

	var value redisStateValue
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("decode state: %w", entities.ErrInvalidState)
	}

	return &entities.StateRecord{
		UserID:    userID,
		Key:       key,
		State:     value.State,
		UpdatedAt: value.UpdatedAt,
	}, nil
}

func (r *RedisStateRepository) Get(ctx context.Context, userID, key string) (*entities.StateRecord, error) {
	return r.load(ctx, r.client, userID, key)
}

func (r *RedisStateRepository) GetLatest(ctx context.Context, key string) (*entities.StateRecord, error) {
	users, err := r.client.ZRevRange(ctx, r.indexKey(key), 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("get latest state: %w", err)
	}
	if len(users) == 0 {
		return nil, entities.ErrStateNotFound
	}
	return r.load(ctx, r.client, users[0], key)
}

func (r *RedisStateRepository) Save(ctx context.Context, params ports.SaveStateParams) (*entities.StateRecord, error) {
	stateKey := r.stateKey(params.UserID, params.Key)

	var result *entities.StateRecord
	var conflict bool

	txf := func(tx *redis.Tx) error {
		conflict = false
		current, err := r.load(ctx, tx, params.UserID, params.Key)
		if err != nil && !errors.Is(err, entities.ErrStateNotFound) {
			return err
		}

		if current != nil && current.IsNewerThan(params.BaseUpdatedAt) {
			result = current
			conflict = true
			return nil
		}

		next := current.NextTimestamp(params.Now)
		data, err := json.Marshal(redisStateValue{State: params.State, UpdatedAt: next})
		if err != nil {
			return fmt.Errorf("encode state: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, stateKey, data, 0)
			pipe.ZAdd(ctx, r.indexKey(params.Key), &redis.Z{Score: float64(next), Member: params.UserID})
			return nil
		})
		if err != nil {
			return err
		}

		result = &entities.StateRecord{
			UserID:    params.UserID,
			Key:       params.Key,
			State:     params.State,
			UpdatedAt: next,
		}
		return nil
	}

	for i := 0; i < redisMaxRetries; i++ {
		err := r.client.Watch(ctx, txf, stateKey)
		if errors.Is(err, redis.TxFailedErr) {
			// Another writer touched the key between WATCH and EXEC
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("save state: %w", err)
		}
		if conflict {
			return result, entities.ErrStateConflict
		}
		return result, nil
	}

	return nil, fmt.Errorf("save state: %w", redis.TxFailedErr)
}

func (r *RedisStateRepository) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStateRepository) Close() error {
	return r.client.Close()
}

var _ ports.StateRepository = (*RedisStateRepository)(nil)
