package services

import (
	"bytes"
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

// Local storage keys
const (
	DocumentStorageKey = "workspace.document"
	SyncStorageKey     = "workspace.sync"
)

// DefaultSaveDebounce is the quiet period before a debounced save is written.
const DefaultSaveDebounce = 250 * time.Millisecond

// SaveOptions suppress the side effects of a save
type SaveOptions struct {
	// SkipSync does not notify save hooks, so no auto push is scheduled.
	SkipSync bool
	// SkipSummary does not recompute summary counters.
	SkipSummary bool
}

// merge keeps a side effect if either request wanted it.
func (o SaveOptions) merge(other SaveOptions) SaveOptions {
	return SaveOptions{
		SkipSync:    o.SkipSync && other.SkipSync,
		SkipSummary: o.SkipSummary && other.SkipSummary,
	}
}

// Summary holds the counters derived from the document
type Summary struct {
	Date           string `json:"date"`
	OpenTasks      int    `json:"openTasks"`
	FocusedTasks   int    `json:"focusedTasks"`
	OverdueTasks   int    `json:"overdueTasks"`
	InboxSize      int    `json:"inboxSize"`
	TodayEvents    int    `json:"todayEvents"`
	ActiveProjects int    `json:"activeProjects"`
}

// DocumentStoreOption configures a DocumentStore
type DocumentStoreOption func(*DocumentStore)

// WithStoreClock replaces the wall clock used for timestamps.
func WithStoreClock(now func() time.Time) DocumentStoreOption {
	return func(s *DocumentStore) { s.now = now }
}

// WithSaveDebounce replaces the debounced save delay.
func WithSaveDebounce(d time.Duration) DocumentStoreOption {
	return func(s *DocumentStore) { s.saveDelay = d }
}

// DocumentStore owns the live document and is the only writer of its local copy
type DocumentStore struct {
	storage ports.LocalStorage
	logger  *logger.Logger

	now       func() time.Time
	saveDelay time.Duration

	mu          sync.Mutex
	doc         entities.Document
	saveTimer   *time.Timer
	savePending bool
	pendingOpts SaveOptions

	hooksMu   sync.RWMutex
	onSave    []func()
	onSummary []func(Summary)
}

// NewDocumentStore creates a store holding an empty document until Load is called
func NewDocumentStore(storage ports.LocalStorage, logger *logger.Logger, opts ...DocumentStoreOption) *DocumentStore {
	s := &DocumentStore{
		storage:   storage,
		logger:    logger.WithComponent("document_store"),
		now:       time.Now,
		saveDelay: DefaultSaveDebounce,
		doc:       entities.NewDocument(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnSave registers a hook run after every save that does not skip sync.
func (s *DocumentStore) OnSave(fn func()) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onSave = append(s.onSave, fn)
}

// OnSummary registers a listener for recomputed summary counters.
func (s *DocumentStore) OnSummary(fn func(Summary)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.onSummary = append(s.onSummary, fn)
}

// Load reads the local copy. Missing or unreadable data yields a fresh
// document; unparsable data is moved aside first.
func (s *DocumentStore) Load() entities.Document {
	doc := s.readLocal()

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()

	return doc.Clone()
}

func (s *DocumentStore) readLocal() entities.Document {
	data, err := s.storage.Read(DocumentStorageKey)
	if errors.Is(err, ports.ErrKeyNotFound) {
		return entities.NewDocument()
	}
	if err != nil {
		s.logger.WithError(err).Warn("Failed to read local document, starting fresh")
		return entities.NewDocument()
	}

	doc, err := entities.DecodeDocument(data)
	if err != nil {
		backup, qerr := s.storage.Quarantine(DocumentStorageKey)
		if qerr != nil {
			s.logger.WithError(err).Errorw("Local document is corrupt and could not be backed up", "backup_error", qerr.Error())
		} else {
			s.logger.WithError(err).Warnw("Local document is corrupt, backed up and starting fresh", "backup", backup)
		}
		return entities.NewDocument()
	}
	return doc
}

// Document returns a deep copy of the live document.
func (s *DocumentStore) Document() entities.Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Settings returns the live settings.
func (s *DocumentStore) Settings() entities.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Settings
}

// Save writes the live document now and cancels any pending debounced save.
func (s *DocumentStore) Save(opts SaveOptions) error {
	s.mu.Lock()
	if s.savePending {
		opts = opts.merge(s.pendingOpts)
		s.cancelSaveLocked()
	}
	err := s.writeLocked()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.afterSave(opts)
	return nil
}

func (s *DocumentStore) writeLocked() error {
	data, err := json.Marshal(s.doc)
	if err != nil {
		return fmt.Errorf("encode document: %w", err)
	}
	if err := s.storage.Write(DocumentStorageKey, data); err != nil {
		s.logger.WithError(err).Error("Failed to write local document")
		return fmt.Errorf("write document: %w", err)
	}
	return nil
}

func (s *DocumentStore) afterSave(opts SaveOptions) {
	s.hooksMu.RLock()
	onSave := append([]func(){}, s.onSave...)
	onSummary := append([]func(Summary){}, s.onSummary...)
	s.hooksMu.RUnlock()

	if !opts.SkipSync {
		for _, fn := range onSave {
			fn()
		}
	}
	if !opts.SkipSummary && len(onSummary) > 0 {
		summary := s.Summary()
		for _, fn := range onSummary {
			fn(summary)
		}
	}
}

// ScheduleLocalSave arms the debounced save, restarting the quiet period.
func (s *DocumentStore) ScheduleLocalSave(opts SaveOptions) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.savePending {
		opts = opts.merge(s.pendingOpts)
	}
	s.pendingOpts = opts
	s.savePending = true

	if s.saveTimer != nil {
		s.saveTimer.Stop()
	}
	s.saveTimer = time.AfterFunc(s.saveDelay, s.saveDebounced)
}

func (s *DocumentStore) saveDebounced() {
	s.mu.Lock()
	if !s.savePending {
		s.mu.Unlock()
		return
	}
	opts := s.pendingOpts
	s.cancelSaveLocked()
	err := s.writeLocked()
	s.mu.Unlock()

	if err == nil {
		s.afterSave(opts)
	}
}

func (s *DocumentStore) cancelSaveLocked() {
	if s.saveTimer != nil {
		s.saveTimer.Stop()
		s.saveTimer = nil
	}
	s.savePending = false
	s.pendingOpts = SaveOptions{}
}

// Flush writes a pending debounced save immediately.
func (s *DocumentStore) Flush() error {
	s.mu.Lock()
	if !s.savePending {
		s.mu.Unlock()
		return nil
	}
	opts := s.pendingOpts
	s.cancelSaveLocked()
	err := s.writeLocked()
	s.mu.Unlock()

	if err != nil {
		return err
	}
	s.afterSave(opts)
	return nil
}

// Close flushes pending writes.
func (s *DocumentStore) Close() error {
	return s.Flush()
}

type mutateConfig struct {
	debounced bool
	save      SaveOptions
}

// MutateOption configures a single mutation
type MutateOption func(*mutateConfig)

// Debounced coalesces the save with other edits made within the debounce window.
func Debounced() MutateOption {
	return func(c *mutateConfig) { c.debounced = true }
}

// WithSaveOptions sets the options of the save that follows the mutation.
func WithSaveOptions(opts SaveOptions) MutateOption {
	return func(c *mutateConfig) { c.save = opts }
}

// Mutate applies fn to a working copy of the document. When fn succeeds the
// copy is normalized, entities it changed get a fresh updatedAt, it replaces
// the live document and is saved. When fn fails nothing changes.
func (s *DocumentStore) Mutate(fn func(doc *entities.Document) error, opts ...MutateOption) error {
	cfg := mutateConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}

	s.mu.Lock()
	work := s.doc.Clone()
	if err := fn(&work); err != nil {
		s.mu.Unlock()
		return err
	}
	next, err := work.Normalized()
	if err != nil {
		s.mu.Unlock()
		return err
	}
	touchChanged(&s.doc, &next, s.now().UTC())
	s.doc = next
	s.mu.Unlock()

	if cfg.debounced {
		s.ScheduleLocalSave(cfg.save)
		return nil
	}
	return s.Save(cfg.save)
}

// touchChanged stamps updatedAt on every entity of next whose content
// differs from its counterpart in prev.
func touchChanged(prev, next *entities.Document, now time.Time) {
	tasks := fingerprintsByID(prev.Tasks, func(t entities.Task) string { return t.ID })
	for i := range next.Tasks {
		if changed(tasks, next.Tasks[i].ID, next.Tasks[i]) {
			next.Tasks[i].Touch(now)
		}
	}
	events := fingerprintsByID(prev.Events, func(e entities.Event) string { return e.ID })
	for i := range next.Events {
		if changed(events, next.Events[i].ID, next.Events[i]) {
			next.Events[i].Touch(now)
		}
	}
	notes := fingerprintsByID(prev.Notes, func(n entities.Note) string { return n.ID })
	for i := range next.Notes {
		if changed(notes, next.Notes[i].ID, next.Notes[i]) {
			next.Notes[i].Touch(now)
		}
	}
	projects := fingerprintsByID(prev.Projects, func(p entities.Project) string { return p.ID })
	for i := range next.Projects {
		if changed(projects, next.Projects[i].ID, next.Projects[i]) {
			next.Projects[i].Touch(now)
		}
	}
	areas := fingerprintsByID(prev.Areas, func(a entities.Area) string { return a.ID })
	for i := range next.Areas {
		if changed(areas, next.Areas[i].ID, next.Areas[i]) {
			next.Areas[i].Touch(now)
		}
	}
}

func fingerprintsByID[T any](items []T, id func(T) string) map[string][]byte {
	out := make(map[string][]byte, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			continue
		}
		out[id(item)] = data
	}
	return out
}

// changed reports whether item existed before with different content. New
// entities carry their creation stamps already.
func changed[T any](before map[string][]byte, id string, item T) bool {
	prev, ok := before[id]
	if !ok {
		return false
	}
	data, err := json.Marshal(item)
	if err != nil {
		return true
	}
	return !bytes.Equal(prev, data)
}

// CreateTask adds a task built from partial fields.
func (s *DocumentStore) CreateTask(partial entities.Fields) (entities.Task, error) {
	var task entities.Task
	err := s.Mutate(func(doc *entities.Document) error {
		task = entities.NewTask(partial, s.now())
		if task.Focus && doc.FocusedCount() >= entities.MaxFocusedTasks {
			return entities.ErrFocusCapacity
		}
		doc.Tasks = append(doc.Tasks, task)
		return nil
	})
	return task, err
}

// CreateEvent adds an event; its duration defaults to the workspace setting.
func (s *DocumentStore) CreateEvent(partial entities.Fields) (entities.Event, error) {
	var event entities.Event
	err := s.Mutate(func(doc *entities.Document) error {
		fields := withDefault(partial, "duration", doc.Settings.DefaultEventDuration)
		event = entities.NewEvent(fields, s.now())
		doc.Events = append(doc.Events, event)
		return nil
	})
	return event, err
}

// CreateNote adds a note built from partial fields.
func (s *DocumentStore) CreateNote(partial entities.Fields) (entities.Note, error) {
	var note entities.Note
	err := s.Mutate(func(doc *entities.Document) error {
		note = entities.NewNote(partial, s.now())
		doc.Notes = append(doc.Notes, note)
		return nil
	})
	return note, err
}

// CreateProject adds a project built from partial fields.
func (s *DocumentStore) CreateProject(partial entities.Fields) (entities.Project, error) {
	var project entities.Project
	err := s.Mutate(func(doc *entities.Document) error {
		project = entities.NewProject(partial, s.now())
		doc.Projects = append(doc.Projects, project)
		return nil
	})
	return project, err
}

// CreateArea adds an area built from partial fields.
func (s *DocumentStore) CreateArea(partial entities.Fields) (entities.Area, error) {
	var area entities.Area
	err := s.Mutate(func(doc *entities.Document) error {
		area = entities.NewArea(partial, s.now())
		doc.Areas = append(doc.Areas, area)
		return nil
	})
	return area, err
}

// CreateInboxCapture adds a quick capture to the inbox.
func (s *DocumentStore) CreateInboxCapture(partial entities.Fields) (entities.InboxCapture, error) {
	var capture entities.InboxCapture
	err := s.Mutate(func(doc *entities.Document) error {
		capture = entities.NewInboxCapture(partial, s.now())
		doc.Inbox = append(doc.Inbox, capture)
		return nil
	})
	return capture, err
}

func withDefault(partial entities.Fields, key string, value any) entities.Fields {
	out := make(entities.Fields, len(partial)+1)
	for k, v := range partial {
		out[k] = v
	}
	if _, ok := out[key]; !ok {
		out[key] = value
	}
	return out
}

// UpdateTask applies fn to the task with the given id.
func (s *DocumentStore) UpdateTask(id string, fn func(*entities.Task) error, opts ...MutateOption) error {
	return s.Mutate(func(doc *entities.Document) error {
		task, ok := doc.TaskByID(id)
		if !ok {
			return entities.ErrTaskNotFound
		}
		return fn(task)
	}, opts...)
}

// UpdateEvent applies fn to the event with the given id.
func (s *DocumentStore) UpdateEvent(id string, fn func(*entities.Event) error, opts ...MutateOption) error {
	return s.Mutate(func(doc *entities.Document) error {
		event, ok := doc.EventByID(id)
		if !ok {
			return entities.ErrEventNotFound
		}
		return fn(event)
	}, opts...)
}

// UpdateNote applies fn to the note with the given id.
func (s *DocumentStore) UpdateNote(id string, fn func(*entities.Note) error, opts ...MutateOption) error {
	return s.Mutate(func(doc *entities.Document) error {
		note, ok := doc.NoteByID(id)
		if !ok {
			return entities.ErrNoteNotFound
		}
		return fn(note)
	}, opts...)
}

// UpdateProject applies fn to the project with the given id.
func (s *DocumentStore) UpdateProject(id string, fn func(*entities.Project) error, opts ...MutateOption) error {
	return s.Mutate(func(doc *entities.Document) error {
		project, ok := doc.ProjectByID(id)
		if !ok {
			return entities.ErrProjectNotFound
		}
		return fn(project)
	}, opts...)
}

// UpdateArea applies fn to the area with the given id.
func (s *DocumentStore) UpdateArea(id string, fn func(*entities.Area) error, opts ...MutateOption) error {
	return s.Mutate(func(doc *entities.Document) error {
		area, ok := doc.AreaByID(id)
		if !ok {
			return entities.ErrAreaNotFound
		}
		return fn(area)
	}, opts...)
}

// SetTaskStatus changes a task's status.
func (s *DocumentStore) SetTaskStatus(id string, status entities.TaskStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: task status %q", entities.ErrInvalidPayload, status)
	}
	return s.UpdateTask(id, func(t *entities.Task) error {
		t.Status = status
		return nil
	})
}

// SetFocus toggles focus on a task. Gaining focus fails with
// entities.ErrFocusCapacity when the maximum is already focused.
func (s *DocumentStore) SetFocus(id string, on bool) error {
	return s.Mutate(func(doc *entities.Document) error {
		task, ok := doc.TaskByID(id)
		if !ok {
			return entities.ErrTaskNotFound
		}
		if on && !task.Focus && doc.FocusedCount() >= entities.MaxFocusedTasks {
			return entities.ErrFocusCapacity
		}
		task.Focus = on
		return nil
	})
}

// ArchiveTask soft-deletes a task and releases its focus slot.
func (s *DocumentStore) ArchiveTask(id string) error {
	return s.UpdateTask(id, func(t *entities.Task) error {
		t.Archived = true
		t.Focus = false
		return nil
	})
}

// ArchiveEvent soft-deletes an event.
func (s *DocumentStore) ArchiveEvent(id string) error {
	return s.UpdateEvent(id, func(e *entities.Event) error {
		e.Archived = true
		return nil
	})
}

// ArchiveNote soft-deletes a note.
func (s *DocumentStore) ArchiveNote(id string) error {
	return s.UpdateNote(id, func(n *entities.Note) error {
		n.Archived = true
		return nil
	})
}

// ProcessInboxCapture removes a capture and creates one task, note or event in
// its place. An empty kind uses the capture's suggestion and an empty
// titleOverride keeps its title. It returns the id of the new entity.
func (s *DocumentStore) ProcessInboxCapture(id string, kind entities.CaptureKind, titleOverride string) (string, error) {
	if kind != "" && !kind.IsValid() {
		return "", fmt.Errorf("%w: %q", entities.ErrInvalidKind, kind)
	}

	var createdID string
	err := s.Mutate(func(doc *entities.Document) error {
		idx := doc.CaptureIndex(id)
		if idx < 0 {
			return entities.ErrCaptureNotFound
		}
		capture := doc.Inbox[idx]

		if kind == "" {
			kind = capture.Kind
		}
		title := strings.TrimSpace(titleOverride)
		if title == "" {
			title = capture.Title
		}
		fields := entities.Fields{"title": title}
		now := s.now()

		switch kind {
		case entities.CaptureKindTask:
			task := entities.NewTask(fields, now)
			doc.Tasks = append(doc.Tasks, task)
			createdID = task.ID
		case entities.CaptureKindNote:
			note := entities.NewNote(fields, now)
			doc.Notes = append(doc.Notes, note)
			createdID = note.ID
		case entities.CaptureKindEvent:
			event := entities.NewEvent(withDefault(fields, "duration", doc.Settings.DefaultEventDuration), now)
			doc.Events = append(doc.Events, event)
			createdID = event.ID
		default:
			return fmt.Errorf("%w: %q", entities.ErrInvalidKind, kind)
		}

		doc.Inbox = append(doc.Inbox[:idx:idx], doc.Inbox[idx+1:]...)
		return nil
	})
	if err != nil {
		return "", err
	}
	return createdID, nil
}

// MarkReviewed records the completion of a weekly review.
func (s *DocumentStore) MarkReviewed() error {
	return s.Mutate(func(doc *entities.Document) error {
		now := s.now().UTC()
		doc.Meta.LastReviewAt = &now
		return nil
	})
}

// UpdateSettings applies fn to the settings.
func (s *DocumentStore) UpdateSettings(fn func(*entities.Settings), opts ...MutateOption) error {
	return s.Mutate(func(doc *entities.Document) error {
		fn(&doc.Settings)
		return nil
	}, opts...)
}

// ReplaceDocument swaps in a whole document, keeping this device's sync
// connection settings.
func (s *DocumentStore) ReplaceDocument(doc entities.Document, opts SaveOptions) error {
	next, err := doc.Normalized()
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.doc = next.WithDeviceSettings(s.doc.Settings)
	s.mu.Unlock()

	return s.Save(opts)
}

// Import replaces the document with serialized input. Malformed input is
// rejected with an entities.ValidationError and leaves the document untouched.
func (s *DocumentStore) Import(data []byte) error {
	doc, err := entities.DecodeDocument(data)
	if err != nil {
		return err
	}
	if err := s.ReplaceDocument(doc, SaveOptions{}); err != nil {
		return err
	}

	s.logger.Infow("Document imported",
		"tasks", len(doc.Tasks),
		"events", len(doc.Events),
		"notes", len(doc.Notes),
	)
	return nil
}

// Export serializes the document without device-local sync settings.
func (s *DocumentStore) Export() ([]byte, error) {
	doc := s.Document().Syncable()
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	return data, nil
}

// Summary computes the dashboard counters for today.
func (s *DocumentStore) Summary() Summary {
	today := s.now().Format("2006-01-02")

	s.mu.Lock()
	defer s.mu.Unlock()

	summary := Summary{
		Date:      today,
		InboxSize: len(s.doc.Inbox),
	}
	for i := range s.doc.Tasks {
		task := &s.doc.Tasks[i]
		if !task.IsOpen() {
			continue
		}
		summary.OpenTasks++
		if task.Focus {
			summary.FocusedTasks++
		}
		if task.IsOverdue(today) {
			summary.OverdueTasks++
		}
	}
	for i := range s.doc.Events {
		if !s.doc.Events[i].Archived && s.doc.Events[i].Date == today {
			summary.TodayEvents++
		}
	}
	for i := range s.doc.Projects {
		if s.doc.Projects[i].IsActive() {
			summary.ActiveProjects++
		}
	}
	return summary
}
