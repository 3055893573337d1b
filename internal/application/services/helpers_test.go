package services_test

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/taskmaster/workspace/internal/application/services"
	"github.com/taskmaster/workspace/internal/domain/entities"
	"github.com/taskmaster/workspace/internal/infrastructure/logger"
	"github.com/taskmaster/workspace/internal/ports"
)

// memStorage is an in-memory ports.LocalStorage.
type memStorage struct {
	mu          sync.Mutex
	data        map[string][]byte
	writes      map[string]int
	quarantined map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{
		data:        make(map[string][]byte),
		writes:      make(map[string]int),
		quarantined: make(map[string][]byte),
	}
}

func (m *memStorage) Read(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return nil, ports.ErrKeyNotFound
	}
	return append([]byte(nil), data...), nil
}

func (m *memStorage) Write(key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), data...)
	m.writes[key]++
	return nil
}

func (m *memStorage) Quarantine(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.data[key]
	if !ok {
		return "", ports.ErrKeyNotFound
	}
	m.quarantined[key] = data
	delete(m.data, key)
	return key + ".corrupt", nil
}

func (m *memStorage) writeCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes[key]
}

// fakeClock is a settable clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// fakeRemote is an in-memory state API with the server's conflict rule.
type fakeRemote struct {
	mu        sync.Mutex
	state     json.RawMessage
	updatedAt int64
	clock     int64

	fetches     int
	stores      int
	lastBase    *int64
	active      int
	maxActive   int
	failStores  int
	failFetches int

	// gate, when set, blocks each call until a value is received.
	gate    chan struct{}
	started chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{clock: 1000}
}

func (f *fakeRemote) enter() {
	f.mu.Lock()
	f.active++
	if f.active > f.maxActive {
		f.maxActive = f.active
	}
	gate, started := f.gate, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
}

func (f *fakeRemote) leave() {
	f.mu.Lock()
	f.active--
	f.mu.Unlock()
}

func (f *fakeRemote) Fetch(ctx context.Context, endpoint, apiKey string) (*ports.RemoteSnapshot, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	if f.failFetches > 0 {
		f.failFetches--
		return nil, &entities.NetworkError{Err: context.DeadlineExceeded}
	}
	if f.state == nil {
		return nil, &entities.NotFoundError{}
	}
	return &ports.RemoteSnapshot{State: f.state, UpdatedAt: f.updatedAt}, nil
}

func (f *fakeRemote) Store(ctx context.Context, endpoint, apiKey string, state json.RawMessage, base *int64) (int64, error) {
	f.enter()
	defer f.leave()

	f.mu.Lock()
	defer f.mu.Unlock()
	f.stores++
	f.lastBase = base
	if f.failStores > 0 {
		f.failStores--
		return 0, &entities.NetworkError{Err: context.DeadlineExceeded}
	}
	if f.state != nil && base != nil && f.updatedAt > *base {
		return 0, &entities.ConflictError{UpdatedAt: f.updatedAt, State: f.state}
	}
	f.clock++
	f.state = append(json.RawMessage(nil), state...)
	f.updatedAt = f.clock
	return f.updatedAt, nil
}

func (f *fakeRemote) seed(t *testing.T, doc entities.Document, updatedAt int64) {
	t.Helper()
	data, err := json.Marshal(doc.Syncable())
	if err != nil {
		t.Fatalf("marshal seed: %v", err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = data
	f.updatedAt = updatedAt
	if updatedAt > f.clock {
		f.clock = updatedAt
	}
}

func (f *fakeRemote) counts() (fetches, stores int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetches, f.stores
}

func newTestStore(t *testing.T, storage ports.LocalStorage, clock *fakeClock) *services.DocumentStore {
	t.Helper()
	store := services.NewDocumentStore(storage, logger.NewNop(),
		services.WithStoreClock(clock.Now),
		services.WithSaveDebounce(time.Hour),
	)
	store.Load()
	return store
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return string(data)
}
