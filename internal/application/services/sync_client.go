package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/taskmaster/workspace/internal/domain/entities"
	"github.com/taskmaster/workspace/internal/infrastructure/logger"
	"github.com/taskmaster/workspace/internal/ports"
)

// Sync timing defaults
const (
	DefaultPushDebounce = time.Second
	DefaultMaxBackoff   = time.Minute
)

// SyncOp names a network operation
type SyncOp string

const (
	OpPush SyncOp = "push"
	OpPull SyncOp = "pull"
)

// SyncResult is the outcome of a push or pull. Failures are described by
// Kind and Err; nothing is returned as a bare error.
type SyncResult struct {
	Op   SyncOp
	OK   bool
	Kind entities.ErrorKind
	Err  error
	// Skipped means no write was needed: the pushed content was unchanged, or
	// the pulled copy was not newer.
	Skipped bool
	// Busy means another operation was in flight; this one runs after it.
	Busy bool
	// Replaced means a pull swapped in the remote document.
	Replaced bool
	// UpdatedAt is the remote timestamp the operation observed.
	UpdatedAt int64
	// Remote is the server's document when a push conflicted.
	Remote *entities.Document
}

// PullOptions control what a pull does around replacing the document
type PullOptions struct {
	// PushAfter queues a push once the pull completes.
	PushAfter bool
	// BootstrapOnEmpty queues a push when the remote holds no document.
	BootstrapOnEmpty bool
	// OnlyIfNewer keeps the local document unless the remote one is newer
	// than the last sync.
	OnlyIfNewer bool
}

func (o PullOptions) merge(other PullOptions) PullOptions {
	return PullOptions{
		PushAfter:        o.PushAfter || other.PushAfter,
		BootstrapOnEmpty: o.BootstrapOnEmpty || other.BootstrapOnEmpty,
		OnlyIfNewer:      o.OnlyIfNewer && other.OnlyIfNewer,
	}
}

// SyncConfig is the persisted sync state of this device
type SyncConfig struct {
	URL        string `json:"url"`
	APIKey     string `json:"apiKey"`
	AutoSync   bool   `json:"autoSync"`
	LastSyncAt *int64 `json:"lastSyncAt"`
	LastError  string `json:"lastError"`
}

// Configured reports whether both URL and API key are present.
func (c SyncConfig) Configured() bool {
	return c.URL != "" && c.APIKey != ""
}

func (c SyncConfig) check() error {
	if c.URL == "" {
		return &entities.ConfigError{Reason: entities.ReasonMissingURL}
	}
	if c.APIKey == "" {
		return &entities.ConfigError{Reason: entities.ReasonMissingKey}
	}
	return nil
}

// SyncClientOption configures a SyncClient
type SyncClientOption func(*SyncClient)

// WithSyncClock replaces the wall clock used as the lastSyncAt fallback.
func WithSyncClock(now func() time.Time) SyncClientOption {
	return func(c *SyncClient) { c.now = now }
}

// WithPushDebounce replaces the auto push delay.
func WithPushDebounce(d time.Duration) SyncClientOption {
	return func(c *SyncClient) { c.pushDelay = d }
}

// WithMaxBackoff caps the retry delay after failed auto pushes.
func WithMaxBackoff(d time.Duration) SyncClientOption {
	return func(c *SyncClient) { c.maxBackoff = d }
}

// SyncClient replicates the document to the remote state service. At most
// one network operation runs at a time; requests made meanwhile are
// coalesced and run once it finishes.
type SyncClient struct {
	store   *DocumentStore
	storage ports.LocalStorage
	remote  ports.RemoteStateClient
	logger  *logger.Logger

	now        func() time.Time
	pushDelay  time.Duration
	maxBackoff time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	cfg         SyncConfig
	inFlight    bool
	pendingPush bool
	pendingPull bool
	pullOpts    PullOptions
	lastPushed  string
	failures    int
	pushTimer   *time.Timer
	closed      bool
}

// NewSyncClient creates a sync client and hooks it to the store's saves
func NewSyncClient(store *DocumentStore, storage ports.LocalStorage, remote ports.RemoteStateClient, logger *logger.Logger, opts ...SyncClientOption) *SyncClient {
	ctx, cancel := context.WithCancel(context.Background())
	c := &SyncClient{
		store:      store,
		storage:    storage,
		remote:     remote,
		logger:     logger.WithComponent("sync_client"),
		now:        time.Now,
		pushDelay:  DefaultPushDebounce,
		maxBackoff: DefaultMaxBackoff,
		ctx:        ctx,
		cancel:     cancel,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.cfg = c.loadConfig()
	store.OnSave(c.ScheduleAutoPush)
	return c
}

func (c *SyncClient) loadConfig() SyncConfig {
	settings := c.store.Settings()
	cfg := SyncConfig{
		URL:      settings.SyncURL,
		APIKey:   settings.SyncAPIKey,
		AutoSync: settings.AutoSync,
	}

	data, err := c.storage.Read(SyncStorageKey)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return cfg
	}
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read sync config, using document settings")
		return cfg
	}

	var stored SyncConfig
	if err := json.Unmarshal(data, &stored); err != nil {
		if backup, qerr := c.storage.Quarantine(SyncStorageKey); qerr == nil {
			c.logger.WithError(err).Warnw("Sync config is corrupt, backed up", "backup", backup)
		}
		return cfg
	}
	stored.URL = strings.TrimSpace(stored.URL)
	stored.APIKey = strings.TrimSpace(stored.APIKey)
	return stored
}

func (c *SyncClient) persistLocked() {
	data, err := json.Marshal(c.cfg)
	if err != nil {
		c.logger.WithError(err).Error("Failed to encode sync config")
		return
	}
	if err := c.storage.Write(SyncStorageKey, data); err != nil {
		c.logger.WithError(err).Error("Failed to write sync config")
	}
}

// Config returns a copy of the sync configuration.
func (c *SyncClient) Config() SyncConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	cfg := c.cfg
	if cfg.LastSyncAt != nil {
		ts := *cfg.LastSyncAt
		cfg.LastSyncAt = &ts
	}
	return cfg
}

// Configure replaces the connection settings. Pointing at a different
// endpoint forgets what was synced before.
func (c *SyncClient) Configure(url, apiKey string, autoSync bool) error {
	url = strings.TrimSpace(url)
	apiKey = strings.TrimSpace(apiKey)

	c.mu.Lock()
	if url != c.cfg.URL {
		c.cfg.LastSyncAt = nil
		c.lastPushed = ""
	}
	c.cfg.URL = url
	c.cfg.APIKey = apiKey
	c.cfg.AutoSync = autoSync
	c.cfg.LastError = ""
	c.failures = 0
	if !autoSync || !c.cfg.Configured() {
		c.stopTimerLocked()
	}
	c.persistLocked()
	c.mu.Unlock()

	return c.store.UpdateSettings(func(s *entities.Settings) {
		s.SyncURL = url
		s.SyncAPIKey = apiKey
		s.AutoSync = autoSync
	}, WithSaveOptions(SaveOptions{SkipSync: true, SkipSummary: true}))
}

// StatusText renders the sync state for a status line.
func (c *SyncClient) StatusText() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var status string
	switch {
	case !c.cfg.Configured():
		status = "Sync not configured"
	case c.inFlight:
		status = "Syncing..."
	case c.cfg.LastError != "":
		status = "Error: " + c.cfg.LastError
	case c.cfg.LastSyncAt != nil:
		status = "Synced " + time.UnixMilli(*c.cfg.LastSyncAt).Local().Format("2006-01-02 15:04:05")
	default:
		status = "Not synced yet"
	}
	if c.cfg.Configured() && !c.cfg.AutoSync {
		status += " (auto-sync off)"
	}
	return status
}

// ScheduleAutoPush arms the debounced push. Nothing is scheduled while
// auto-sync is off or the connection is not configured.
func (c *SyncClient) ScheduleAutoPush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.armLocked(c.pushDelay)
}

func (c *SyncClient) armLocked(delay time.Duration) {
	if c.closed || !c.cfg.AutoSync || !c.cfg.Configured() {
		return
	}
	c.stopTimerLocked()
	c.pushTimer = time.AfterFunc(delay, c.autoPush)
}

func (c *SyncClient) stopTimerLocked() {
	if c.pushTimer != nil {
		c.pushTimer.Stop()
		c.pushTimer = nil
	}
}

func (c *SyncClient) autoPush() {
	if !c.track() {
		return
	}
	defer c.wg.Done()
	c.PushState(c.ctx)
}

// track registers background work unless the client is closed.
func (c *SyncClient) track() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.wg.Add(1)
	return true
}

func (c *SyncClient) backoffLocked() time.Duration {
	delay := c.pushDelay
	for i := 1; i < c.failures && delay < c.maxBackoff; i++ {
		delay *= 2
	}
	if delay > c.maxBackoff {
		delay = c.maxBackoff
	}
	return delay
}

// PushState writes the document to the remote unless it is unchanged since
// the last successful push.
func (c *SyncClient) PushState(ctx context.Context) SyncResult {
	c.mu.Lock()
	if err := c.cfg.check(); err != nil {
		c.cfg.LastError = err.Error()
		c.persistLocked()
		c.mu.Unlock()
		return c.finish(SyncResult{Op: OpPush, Kind: entities.KindConfig, Err: err})
	}
	if c.inFlight {
		c.pendingPush = true
		c.mu.Unlock()
		return SyncResult{Op: OpPush, Busy: true}
	}

	doc := c.store.Document()
	fingerprint := entities.Fingerprint(doc)
	if fingerprint != "" && fingerprint == c.lastPushed {
		c.cfg.LastError = ""
		c.failures = 0
		c.mu.Unlock()
		return c.finish(SyncResult{Op: OpPush, OK: true, Skipped: true})
	}

	c.inFlight = true
	c.stopTimerLocked()
	url, apiKey := c.cfg.URL, c.cfg.APIKey
	var base *int64
	if c.cfg.LastSyncAt != nil {
		ts := *c.cfg.LastSyncAt
		base = &ts
	}
	c.mu.Unlock()

	state, err := json.Marshal(doc.Syncable())
	var updatedAt int64
	if err == nil {
		updatedAt, err = c.remote.Store(ctx, url, apiKey, state, base)
	} else {
		err = &entities.ValidationError{Reason: "encode document", Err: err}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false

	result := SyncResult{Op: OpPush}
	if err != nil {
		result.Kind = entities.KindOf(err)
		result.Err = err
		c.cfg.LastError = err.Error()

		var conflict *entities.ConflictError
		if errors.As(err, &conflict) {
			result.UpdatedAt = conflict.UpdatedAt
			if remoteDoc, derr := entities.DecodeDocument(conflict.State); derr == nil {
				result.Remote = &remoteDoc
			}
		}

		if result.Kind.Retryable() {
			c.failures++
			c.armLocked(c.backoffLocked())
		}
	} else {
		if updatedAt <= 0 {
			updatedAt = c.now().UnixMilli()
		}
		c.cfg.LastSyncAt = &updatedAt
		c.cfg.LastError = ""
		c.lastPushed = fingerprint
		c.failures = 0
		result.OK = true
		result.UpdatedAt = updatedAt
	}

	c.persistLocked()
	c.drainLocked()
	return c.finish(result)
}

// PullState fetches the remote document and, unless told otherwise, replaces
// the local one with it. The replacing save does not schedule a push.
func (c *SyncClient) PullState(ctx context.Context, opts PullOptions) SyncResult {
	c.mu.Lock()
	if err := c.cfg.check(); err != nil {
		c.cfg.LastError = err.Error()
		c.persistLocked()
		c.mu.Unlock()
		return c.finish(SyncResult{Op: OpPull, Kind: entities.KindConfig, Err: err})
	}
	if c.inFlight {
		if c.pendingPull {
			opts = opts.merge(c.pullOpts)
		}
		c.pendingPull = true
		c.pullOpts = opts
		c.mu.Unlock()
		return SyncResult{Op: OpPull, Busy: true}
	}

	c.inFlight = true
	url, apiKey := c.cfg.URL, c.cfg.APIKey
	lastSyncAt := c.cfg.LastSyncAt
	c.mu.Unlock()

	result := SyncResult{Op: OpPull}
	snap, err := c.remote.Fetch(ctx, url, apiKey)

	var doc entities.Document
	replace := false
	if err == nil {
		result.UpdatedAt = snap.UpdatedAt
		doc, err = entities.DecodeDocument(snap.State)
		if err == nil {
			replace = !opts.OnlyIfNewer || lastSyncAt == nil || snap.UpdatedAt > *lastSyncAt
		}
	}

	var fingerprint string
	var saveErr error
	if replace {
		// inFlight stays set so no push can observe the half-replaced state
		saveErr = c.store.ReplaceDocument(doc, SaveOptions{SkipSync: true})
		fingerprint = entities.Fingerprint(c.store.Document())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.inFlight = false

	switch {
	case errors.Is(err, entities.ErrStateNotFound):
		result.Kind = entities.KindNotFound
		result.Err = err
		c.cfg.LastError = ""
		if opts.BootstrapOnEmpty {
			c.pendingPush = true
		}
	case err != nil:
		result.Kind = entities.KindOf(err)
		result.Err = err
		c.cfg.LastError = err.Error()
	default:
		ts := snap.UpdatedAt
		c.cfg.LastSyncAt = &ts
		c.cfg.LastError = ""
		c.failures = 0
		result.OK = true
		result.Skipped = !replace
		result.Replaced = replace
		if replace {
			c.lastPushed = fingerprint
			c.pendingPush = false
			c.stopTimerLocked()
		}
		if saveErr != nil {
			result.OK = false
			result.Kind = entities.KindLocal
			result.Err = saveErr
			c.cfg.LastError = saveErr.Error()
		}
	}
	if opts.PushAfter {
		c.pendingPush = true
	}

	c.persistLocked()
	c.drainLocked()
	return c.finish(result)
}

// Reconcile is the startup sequence: adopt a newer remote copy, seed an
// empty remote, then push anything local.
func (c *SyncClient) Reconcile(ctx context.Context) SyncResult {
	return c.PullState(ctx, PullOptions{
		PushAfter:        true,
		BootstrapOnEmpty: true,
		OnlyIfNewer:      true,
	})
}

// drainLocked starts the queued operation, pull first.
func (c *SyncClient) drainLocked() {
	if c.closed || (!c.pendingPull && !c.pendingPush) {
		return
	}

	var run func()
	if c.pendingPull {
		opts := c.pullOpts
		c.pendingPull = false
		c.pullOpts = PullOptions{}
		run = func() { c.PullState(c.ctx, opts) }
	} else {
		c.pendingPush = false
		run = func() { c.PushState(c.ctx) }
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		run()
	}()
}

func (c *SyncClient) finish(result SyncResult) SyncResult {
	if result.Busy {
		return result
	}
	metadata := map[string]interface{}{}
	if result.Skipped {
		metadata["skipped"] = true
	}
	if result.Replaced {
		metadata["replaced"] = true
	}
	if result.UpdatedAt != 0 {
		metadata["updated_at"] = result.UpdatedAt
	}
	if result.Err != nil {
		metadata["error"] = result.Err.Error()
	}
	c.logger.LogSyncResult(string(result.Op), result.OK, string(result.Kind), metadata)
	return result
}

// Wait blocks until queued and in-flight operations have finished.
func (c *SyncClient) Wait() {
	c.wg.Wait()
}

// Close stops the auto push timer and waits for running operations.
func (c *SyncClient) Close() error {
	c.mu.Lock()
	c.closed = true
	c.stopTimerLocked()
	c.mu.Unlock()

	c.wg.Wait()
	c.cancel()
	return nil
}

// String is used by the CLI status output.
func (r SyncResult) String() string {
	switch {
	case r.Busy:
		return fmt.Sprintf("%s queued behind a running sync", r.Op)
	case r.OK && r.Skipped && r.Op == OpPush:
		return "push skipped: nothing changed"
	case r.OK && r.Skipped:
		return "pull skipped: remote copy is not newer"
	case r.OK && r.Op == OpPull:
		return fmt.Sprintf("pulled remote document (updated at %d)", r.UpdatedAt)
	case r.OK:
		return fmt.Sprintf("pushed document (updated at %d)", r.UpdatedAt)
	case r.Kind == entities.KindNotFound:
		return "remote holds no document yet"
	default:
		return fmt.Sprintf("%s failed: %v", r.Op, r.Err)
	}
}
