package services_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/taskmaster/workspace/internal/adapters/repository"
	"github.com/taskmaster/workspace/internal/application/services"
	"github.com/taskmaster/workspace/internal/domain/entities"
	"github.com/taskmaster/workspace/internal/infrastructure/config"
	"github.com/taskmaster/workspace/internal/infrastructure/database"
	"github.com/taskmaster/workspace/internal/infrastructure/logger"
	"github.com/taskmaster/workspace/internal/ports"
)

func newSQLiteRepo(t *testing.T) *repository.GormStateRepository {
	t.Helper()
	db, err := database.OpenSQLite(config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "state.db")})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	repo, err := repository.NewGormStateRepository(db)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func fixedClock(ms int64) func() time.Time {
	return func() time.Time { return time.UnixMilli(ms) }
}

func base(v int64) *int64 { return &v }

func TestStateServiceEmpty(t *testing.T) {
	svc := services.NewStateService(newSQLiteRepo(t), "default", "workspace", logger.NewNop())

	if _, err := svc.GetState(context.Background()); !errors.Is(err, entities.ErrStateNotFound) {
		t.Fatalf("err = %v, want ErrStateNotFound", err)
	}
	if err := svc.Health(context.Background()); err != nil {
		t.Errorf("health: %v", err)
	}
}

func TestStateServiceConflict(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)
	svc := services.NewStateService(repo, "default", "workspace", logger.NewNop()).WithClock(fixedClock(100))

	first, err := svc.PutState(ctx, ports.PutStateRequest{State: json.RawMessage(`{"v":"S1"}`)})
	if err != nil {
		t.Fatalf("first put: %v", err)
	}
	if first.UpdatedAt != 100 {
		t.Fatalf("updatedAt = %d, want 100", first.UpdatedAt)
	}

	current, err := svc.PutState(ctx, ports.PutStateRequest{State: json.RawMessage(`{"v":"S2"}`), BaseUpdatedAt: base(50)})
	if !errors.Is(err, entities.ErrStateConflict) {
		t.Fatalf("err = %v, want ErrStateConflict", err)
	}
	if current == nil || string(current.State) != `{"v":"S1"}` || current.UpdatedAt != 100 {
		t.Fatalf("conflict record = %+v", current)
	}

	stored, err := svc.GetState(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(stored.State) != `{"v":"S1"}` {
		t.Errorf("stored state = %s, want S1", stored.State)
	}
}

func TestStateServiceTimestampsIncrease(t *testing.T) {
	ctx := context.Background()
	svc := services.NewStateService(newSQLiteRepo(t), "default", "workspace", logger.NewNop()).WithClock(fixedClock(500))

	var last int64
	for i := 0; i < 3; i++ {
		rec, err := svc.PutState(ctx, ports.PutStateRequest{State: json.RawMessage(`{}`), BaseUpdatedAt: base(last)})
		if err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
		if rec.UpdatedAt <= last {
			t.Fatalf("put %d: updatedAt %d not after %d", i, rec.UpdatedAt, last)
		}
		last = rec.UpdatedAt
	}
	if last != 502 {
		t.Errorf("last updatedAt = %d, want 502 with a frozen clock", last)
	}
}

func TestStateServiceRejectsInvalidPayload(t *testing.T) {
	svc := services.NewStateService(newSQLiteRepo(t), "default", "workspace", logger.NewNop())

	tests := []ports.PutStateRequest{
		{State: json.RawMessage(`[1]`)},
		{State: json.RawMessage(`null`)},
		{State: json.RawMessage(`{"a":`)},
		{State: json.RawMessage(`{}`), BaseUpdatedAt: base(-1)},
	}
	for _, req := range tests {
		if _, err := svc.PutState(context.Background(), req); !errors.Is(err, entities.ErrInvalidPayload) {
			t.Errorf("PutState(%s) err = %v, want ErrInvalidPayload", req.State, err)
		}
	}
}

func TestStateServiceFallsBackToLatestRow(t *testing.T) {
	ctx := context.Background()
	repo := newSQLiteRepo(t)

	other := services.NewStateService(repo, "someone-else", "workspace", logger.NewNop()).WithClock(fixedClock(10))
	if _, err := other.PutState(ctx, ports.PutStateRequest{State: json.RawMessage(`{"owner":"other"}`)}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	svc := services.NewStateService(repo, "default", "workspace", logger.NewNop())
	rec, err := svc.GetState(ctx)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(rec.State) != `{"owner":"other"}` {
		t.Errorf("state = %s, want the latest row", rec.State)
	}

	if _, err := services.NewStateService(repo, "default", "other-key", logger.NewNop()).GetState(ctx); !errors.Is(err, entities.ErrStateNotFound) {
		t.Errorf("other key err = %v, want ErrStateNotFound", err)
	}
}

func TestStateServiceLogsRepositoryRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.log")
	log, err := logger.New(config.LoggerConfig{Level: "debug", Format: "json", Output: "file", Filename: path, MaxSizeMB: 1})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	svc := services.NewStateService(newSQLiteRepo(t), "default", "workspace", log)

	ctx := context.Background()
	if _, err := svc.GetState(ctx); !errors.Is(err, entities.ErrStateNotFound) {
		t.Fatalf("get err = %v", err)
	}
	if _, err := svc.PutState(ctx, ports.PutStateRequest{State: json.RawMessage(`{}`)}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_ = log.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	ops := map[string]bool{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		if entry["msg"] != "State query executed" {
			continue
		}
		if entry["user_id"] != "default" {
			t.Errorf("user_id = %v", entry["user_id"])
		}
		ops[entry["op"].(string)] = true
	}
	for _, op := range []string{"get", "get_latest", "save"} {
		if !ops[op] {
			t.Errorf("no query log for %q in:\n%s", op, data)
		}
	}
}
