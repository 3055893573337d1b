package services_test

import (
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/taskmaster/workspace/internal/application/services"
	"github.com/taskmaster/workspace/internal/domain/entities"
	"github.com/taskmaster/workspace/internal/infrastructure/logger"
)

func TestLoadWithoutLocalCopy(t *testing.T) {
	store := services.NewDocumentStore(newMemStorage(), logger.NewNop())
	doc := store.Load()

	if len(doc.Tasks) != 0 || len(doc.Events) != 0 || len(doc.Notes) != 0 ||
		len(doc.Projects) != 0 || len(doc.Areas) != 0 || len(doc.Inbox) != 0 {
		t.Errorf("fresh document has entities: %+v", doc)
	}
	if !doc.Settings.WeekStartsMonday {
		t.Error("weekStartsMonday = false, want true")
	}
	if doc.Settings.DefaultEventDuration != 60 {
		t.Errorf("defaultEventDuration = %d, want 60", doc.Settings.DefaultEventDuration)
	}
}

func TestLoadCorruptLocalCopy(t *testing.T) {
	storage := newMemStorage()
	storage.Write(services.DocumentStorageKey, []byte("{truncated"))

	store := services.NewDocumentStore(storage, logger.NewNop())
	doc := store.Load()

	if len(doc.Tasks) != 0 || doc.Settings.DefaultEventDuration != 60 {
		t.Errorf("corrupt load should yield a fresh document, got %+v", doc)
	}
	if _, ok := storage.quarantined[services.DocumentStorageKey]; !ok {
		t.Error("corrupt document was not quarantined")
	}
}

func TestLoadNormalizesPartialInput(t *testing.T) {
	storage := newMemStorage()
	storage.Write(services.DocumentStorageKey, []byte(`{
		"tasks": [{"id": "t1", "title": "Ship", "status": "bogus"}, 42, null, {"id": "t1", "title": "dup"}],
		"events": "not a list",
		"settings": {"defaultEventDuration": 5}
	}`))

	doc := services.NewDocumentStore(storage, logger.NewNop()).Load()
	if len(doc.Tasks) != 1 {
		t.Fatalf("tasks = %d, want 1", len(doc.Tasks))
	}
	if doc.Tasks[0].Title != "Ship" || doc.Tasks[0].Status != entities.TaskStatusTodo {
		t.Errorf("task = %+v", doc.Tasks[0])
	}
	if doc.Events == nil || len(doc.Events) != 0 {
		t.Errorf("events = %#v, want empty", doc.Events)
	}
	if doc.Settings.DefaultEventDuration != entities.MinDuration {
		t.Errorf("defaultEventDuration = %d, want %d", doc.Settings.DefaultEventDuration, entities.MinDuration)
	}
}

func TestSaveAndReload(t *testing.T) {
	storage := newMemStorage()
	clock := newFakeClock()
	store := newTestStore(t, storage, clock)

	if _, err := store.CreateTask(entities.Fields{"title": "Buy milk", "priority": "high"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	if _, err := store.CreateProject(entities.Fields{"name": "Home"}); err != nil {
		t.Fatalf("CreateProject: %v", err)
	}

	reloaded := services.NewDocumentStore(storage, logger.NewNop()).Load()
	if got, want := mustJSON(t, reloaded), mustJSON(t, store.Document()); got != want {
		t.Errorf("reloaded document differs\n got: %s\nwant: %s", got, want)
	}
}

func TestCreateTaskDefaults(t *testing.T) {
	store := newTestStore(t, newMemStorage(), newFakeClock())

	task, err := store.CreateTask(entities.Fields{"title": "Buy milk"})
	if err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	if task.Status != entities.TaskStatusTodo {
		t.Errorf("status = %q, want todo", task.Status)
	}
	if task.Priority != entities.PriorityMedium {
		t.Errorf("priority = %q, want med", task.Priority)
	}
	if task.DueDate != "" || task.Archived {
		t.Errorf("dueDate = %q archived = %v", task.DueDate, task.Archived)
	}
	if task.Checklist == nil || len(task.Checklist) != 0 {
		t.Errorf("checklist = %#v, want empty", task.Checklist)
	}
	if !task.CreatedAt.Equal(task.UpdatedAt) {
		t.Errorf("createdAt %v != updatedAt %v", task.CreatedAt, task.UpdatedAt)
	}
	if !entities.IsValidID(task.ID) {
		t.Errorf("invalid id %q", task.ID)
	}
	if got := store.Document().Tasks; len(got) != 1 || got[0].ID != task.ID {
		t.Errorf("document tasks = %+v", got)
	}
}

func TestCreateEventUsesDefaultDuration(t *testing.T) {
	store := newTestStore(t, newMemStorage(), newFakeClock())
	if err := store.UpdateSettings(func(s *entities.Settings) { s.DefaultEventDuration = 45 }); err != nil {
		t.Fatalf("UpdateSettings: %v", err)
	}

	event, err := store.CreateEvent(entities.Fields{"title": "Standup", "date": "2026-03-02"})
	if err != nil {
		t.Fatalf("CreateEvent: %v", err)
	}
	if event.Duration != 45 {
		t.Errorf("duration = %d, want 45", event.Duration)
	}
	if event.Start != entities.DefaultEventStart {
		t.Errorf("start = %q, want %q", event.Start, entities.DefaultEventStart)
	}
}

func TestMutateStampsOnlyChangedEntities(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, newMemStorage(), clock)

	a, _ := store.CreateTask(entities.Fields{"title": "A"})
	b, _ := store.CreateTask(entities.Fields{"title": "B"})
	created := clock.Now()

	clock.Advance(time.Hour)
	if err := store.UpdateTask(a.ID, func(t *entities.Task) error {
		t.Notes = "details"
		return nil
	}); err != nil {
		t.Fatalf("UpdateTask: %v", err)
	}

	doc := store.Document()
	gotA, _ := doc.TaskByID(a.ID)
	gotB, _ := doc.TaskByID(b.ID)
	if !gotA.UpdatedAt.Equal(created.Add(time.Hour)) {
		t.Errorf("changed task updatedAt = %v, want %v", gotA.UpdatedAt, created.Add(time.Hour))
	}
	if !gotB.UpdatedAt.Equal(created) {
		t.Errorf("untouched task updatedAt = %v, want %v", gotB.UpdatedAt, created)
	}
	if gotA.CreatedAt.After(gotA.UpdatedAt) {
		t.Error("updatedAt earlier than createdAt")
	}
}

func TestMutateErrorLeavesDocumentUntouched(t *testing.T) {
	storage := newMemStorage()
	store := newTestStore(t, storage, newFakeClock())
	task, _ := store.CreateTask(entities.Fields{"title": "A"})
	before := mustJSON(t, store.Document())
	writes := storage.writeCount(services.DocumentStorageKey)

	boom := errors.New("boom")
	err := store.Mutate(func(doc *entities.Document) error {
		doc.Tasks[0].Title = "changed"
		doc.Tasks = append(doc.Tasks, entities.Task{ID: "x"})
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Mutate error = %v, want boom", err)
	}
	if after := mustJSON(t, store.Document()); after != before {
		t.Error("document changed after failed mutation")
	}
	if storage.writeCount(services.DocumentStorageKey) != writes {
		t.Error("failed mutation was persisted")
	}

	if err := store.UpdateTask("missing", func(*entities.Task) error { return nil }); !errors.Is(err, entities.ErrTaskNotFound) {
		t.Errorf("UpdateTask(missing) error = %v", err)
	}
	if err := store.SetTaskStatus(task.ID, "finished"); !errors.Is(err, entities.ErrInvalidPayload) {
		t.Errorf("SetTaskStatus(invalid) error = %v", err)
	}
}

func TestSetFocusCapacity(t *testing.T) {
	store := newTestStore(t, newMemStorage(), newFakeClock())

	var ids []string
	for i := 0; i < 4; i++ {
		task, err := store.CreateTask(entities.Fields{"title": "T"})
		if err != nil {
			t.Fatalf("CreateTask: %v", err)
		}
		ids = append(ids, task.ID)
	}

	for _, id := range ids[:3] {
		if err := store.SetFocus(id, true); err != nil {
			t.Fatalf("SetFocus(%s): %v", id, err)
		}
	}
	if err := store.SetFocus(ids[0], true); err != nil {
		t.Errorf("re-focusing a focused task: %v", err)
	}
	if err := store.SetFocus(ids[3], true); !errors.Is(err, entities.ErrFocusCapacity) {
		t.Fatalf("fourth SetFocus error = %v, want ErrFocusCapacity", err)
	}
	doc := store.Document()
	if doc.FocusedCount() != 3 {
		t.Errorf("focused = %d, want 3", doc.FocusedCount())
	}

	if err := store.ArchiveTask(ids[0]); err != nil {
		t.Fatalf("ArchiveTask: %v", err)
	}
	if err := store.SetFocus(ids[3], true); err != nil {
		t.Errorf("SetFocus after archiving a focused task: %v", err)
	}

	if _, err := store.CreateTask(entities.Fields{"title": "T", "focus": true}); !errors.Is(err, entities.ErrFocusCapacity) {
		t.Errorf("CreateTask with focus over capacity error = %v", err)
	}
}

func TestArchive(t *testing.T) {
	store := newTestStore(t, newMemStorage(), newFakeClock())
	task, _ := store.CreateTask(entities.Fields{"title": "T", "focus": true})
	event, _ := store.CreateEvent(entities.Fields{"title": "E"})
	note, _ := store.CreateNote(entities.Fields{"title": "N"})

	if err := store.ArchiveTask(task.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.ArchiveEvent(event.ID); err != nil {
		t.Fatal(err)
	}
	if err := store.ArchiveNote(note.ID); err != nil {
		t.Fatal(err)
	}

	doc := store.Document()
	if len(doc.Tasks) != 1 || !doc.Tasks[0].Archived || doc.Tasks[0].Focus {
		t.Errorf("task = %+v, want archived without focus", doc.Tasks[0])
	}
	if !doc.Events[0].Archived || !doc.Notes[0].Archived {
		t.Error("event or note not archived")
	}
}

func TestProcessInboxCapture(t *testing.T) {
	tests := []struct {
		name      string
		suggested string
		kind      entities.CaptureKind
		override  string
		wantTitle string
		wantKind  entities.CaptureKind
	}{
		{"suggested task", "task", "", "", "Call plumber", entities.CaptureKindTask},
		{"override title", "task", entities.CaptureKindTask, "  Call the plumber  ", "Call the plumber", entities.CaptureKindTask},
		{"as note", "task", entities.CaptureKindNote, "", "Call plumber", entities.CaptureKindNote},
		{"suggested event", "event", "", "", "Call plumber", entities.CaptureKindEvent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newTestStore(t, newMemStorage(), newFakeClock())
			capture, err := store.CreateInboxCapture(entities.Fields{"title": "Call plumber", "kind": tt.suggested})
			if err != nil {
				t.Fatalf("CreateInboxCapture: %v", err)
			}
			other, _ := store.CreateInboxCapture(entities.Fields{"title": "Other"})

			id, err := store.ProcessInboxCapture(capture.ID, tt.kind, tt.override)
			if err != nil {
				t.Fatalf("ProcessInboxCapture: %v", err)
			}

			doc := store.Document()
			if len(doc.Inbox) != 1 || doc.Inbox[0].ID != other.ID {
				t.Errorf("inbox = %+v, want only the other capture", doc.Inbox)
			}

			total := len(doc.Tasks) + len(doc.Notes) + len(doc.Events)
			if total != 1 {
				t.Fatalf("created %d entities, want 1", total)
			}
			var title string
			switch tt.wantKind {
			case entities.CaptureKindTask:
				task, ok := doc.TaskByID(id)
				if !ok {
					t.Fatalf("task %s not found", id)
				}
				title = task.Title
			case entities.CaptureKindNote:
				note, ok := doc.NoteByID(id)
				if !ok {
					t.Fatalf("note %s not found", id)
				}
				title = note.Title
			case entities.CaptureKindEvent:
				event, ok := doc.EventByID(id)
				if !ok {
					t.Fatalf("event %s not found", id)
				}
				title = event.Title
			}
			if title != tt.wantTitle {
				t.Errorf("title = %q, want %q", title, tt.wantTitle)
			}
		})
	}
}

func TestProcessInboxCaptureErrors(t *testing.T) {
	store := newTestStore(t, newMemStorage(), newFakeClock())
	capture, _ := store.CreateInboxCapture(entities.Fields{"title": "X"})

	if _, err := store.ProcessInboxCapture("missing", "", ""); !errors.Is(err, entities.ErrCaptureNotFound) {
		t.Errorf("missing capture error = %v", err)
	}
	if _, err := store.ProcessInboxCapture(capture.ID, "project", ""); !errors.Is(err, entities.ErrInvalidKind) {
		t.Errorf("invalid kind error = %v", err)
	}
	if len(store.Document().Inbox) != 1 {
		t.Error("capture removed despite error")
	}
}

func TestSaveHooks(t *testing.T) {
	store := newTestStore(t, newMemStorage(), newFakeClock())

	var saves int32
	var summaries []services.Summary
	store.OnSave(func() { atomic.AddInt32(&saves, 1) })
	store.OnSummary(func(s services.Summary) { summaries = append(summaries, s) })

	store.CreateInboxCapture(entities.Fields{"title": "X"})
	if got := atomic.LoadInt32(&saves); got != 1 {
		t.Errorf("save hooks = %d, want 1", got)
	}
	if len(summaries) != 1 || summaries[0].InboxSize != 1 {
		t.Errorf("summaries = %+v", summaries)
	}

	if err := store.Save(services.SaveOptions{SkipSync: true, SkipSummary: true}); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt32(&saves); got != 1 {
		t.Errorf("save hooks after SkipSync = %d, want 1", got)
	}
	if len(summaries) != 1 {
		t.Errorf("summary recomputed despite SkipSummary")
	}
}

func TestDebouncedSaveCoalesces(t *testing.T) {
	storage := newMemStorage()
	store := newTestStore(t, storage, newFakeClock())
	task, _ := store.CreateTask(entities.Fields{"title": "T"})
	writes := storage.writeCount(services.DocumentStorageKey)

	var saves int32
	store.OnSave(func() { atomic.AddInt32(&saves, 1) })

	for _, text := range []string{"a", "ab", "abc"} {
		text := text
		if err := store.UpdateTask(task.ID, func(t *entities.Task) error {
			t.Notes = text
			return nil
		}, services.Debounced()); err != nil {
			t.Fatal(err)
		}
	}
	if got := storage.writeCount(services.DocumentStorageKey); got != writes {
		t.Fatalf("debounced edits wrote %d times before flush", got-writes)
	}

	if err := store.Flush(); err != nil {
		t.Fatal(err)
	}
	if got := storage.writeCount(services.DocumentStorageKey); got != writes+1 {
		t.Errorf("flush wrote %d times, want 1", got-writes)
	}
	if got := atomic.LoadInt32(&saves); got != 1 {
		t.Errorf("save hooks = %d, want 1", got)
	}

	reloaded := services.NewDocumentStore(storage, logger.NewNop()).Load()
	if reloaded.Tasks[0].Notes != "abc" {
		t.Errorf("persisted notes = %q, want abc", reloaded.Tasks[0].Notes)
	}
}

func TestDebouncedSaveFires(t *testing.T) {
	storage := newMemStorage()
	store := services.NewDocumentStore(storage, logger.NewNop(), services.WithSaveDebounce(10*time.Millisecond))
	store.Load()

	store.ScheduleLocalSave(services.SaveOptions{})
	store.ScheduleLocalSave(services.SaveOptions{})

	eventually(t, "debounced save", func() bool {
		return storage.writeCount(services.DocumentStorageKey) == 1
	})
	time.Sleep(30 * time.Millisecond)
	if got := storage.writeCount(services.DocumentStorageKey); got != 1 {
		t.Errorf("writes = %d, want 1", got)
	}
}

func TestImport(t *testing.T) {
	store := newTestStore(t, newMemStorage(), newFakeClock())
	store.UpdateSettings(func(s *entities.Settings) {
		s.SyncURL = "http://sync.local"
		s.SyncAPIKey = "key"
	})
	store.CreateTask(entities.Fields{"title": "keep"})
	before := mustJSON(t, store.Document())

	for _, bad := range []string{"{oops", "[1,2]", `"text"`, ""} {
		err := store.Import([]byte(bad))
		var verr *entities.ValidationError
		if !errors.As(err, &verr) {
			t.Errorf("Import(%q) error = %v, want ValidationError", bad, err)
		}
	}
	if mustJSON(t, store.Document()) != before {
		t.Fatal("rejected import changed the document")
	}

	err := store.Import([]byte(`{"tasks":[{"id":"imported","title":"From file"}],"settings":{"syncUrl":"http://other","weekStartsMonday":false}}`))
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	doc := store.Document()
	if len(doc.Tasks) != 1 || doc.Tasks[0].ID != "imported" {
		t.Errorf("tasks = %+v", doc.Tasks)
	}
	if doc.Settings.SyncURL != "http://sync.local" || doc.Settings.SyncAPIKey != "key" {
		t.Errorf("device settings not kept: %+v", doc.Settings)
	}
	if doc.Settings.WeekStartsMonday {
		t.Error("imported preferences not applied")
	}
}

func TestExportOmitsConnectionSettings(t *testing.T) {
	store := newTestStore(t, newMemStorage(), newFakeClock())
	store.UpdateSettings(func(s *entities.Settings) {
		s.SyncURL = "http://sync.local"
		s.SyncAPIKey = "super-secret"
	})
	store.CreateTask(entities.Fields{"title": "T"})

	data, err := store.Export()
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "super-secret") || strings.Contains(string(data), "sync.local") {
		t.Errorf("export leaks connection settings: %s", data)
	}

	other := newTestStore(t, newMemStorage(), newFakeClock())
	if err := other.Import(data); err != nil {
		t.Fatalf("re-import: %v", err)
	}
	if len(other.Document().Tasks) != 1 {
		t.Error("exported task lost on import")
	}
}

func TestSummary(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, newMemStorage(), clock)
	today := clock.Now().Format("2006-01-02")

	store.CreateTask(entities.Fields{"title": "open", "focus": true})
	store.CreateTask(entities.Fields{"title": "late", "dueDate": "2020-01-01"})
	store.CreateTask(entities.Fields{"title": "done", "status": "done", "dueDate": "2020-01-01"})
	archived, _ := store.CreateTask(entities.Fields{"title": "gone"})
	store.ArchiveTask(archived.ID)
	store.CreateEvent(entities.Fields{"title": "today", "date": today})
	store.CreateEvent(entities.Fields{"title": "later", "date": "2099-01-01"})
	store.CreateProject(entities.Fields{"name": "p1"})
	store.CreateProject(entities.Fields{"name": "p2", "status": "paused"})
	store.CreateInboxCapture(entities.Fields{"title": "i"})

	got := store.Summary()
	want := services.Summary{
		Date:           today,
		OpenTasks:      2,
		FocusedTasks:   1,
		OverdueTasks:   1,
		InboxSize:      1,
		TodayEvents:    1,
		ActiveProjects: 1,
	}
	if got != want {
		t.Errorf("Summary() = %+v, want %+v", got, want)
	}
}

func TestMarkReviewed(t *testing.T) {
	clock := newFakeClock()
	store := newTestStore(t, newMemStorage(), clock)
	if err := store.MarkReviewed(); err != nil {
		t.Fatal(err)
	}
	meta := store.Document().Meta
	if meta.LastReviewAt == nil || !meta.LastReviewAt.Equal(clock.Now()) {
		t.Errorf("lastReviewAt = %v, want %v", meta.LastReviewAt, clock.Now())
	}
}

func TestOutOfRangeTimestampKeepsDocument(t *testing.T) {
	storage := newMemStorage()
	storage.Write(services.DocumentStorageKey, []byte(`{
		"tasks": [{"id": "keep1", "title": "important"}, {"id": "bad", "createdAt": 1e15}],
		"meta": {"lastReviewAt": 1e15}
	}`))
	store := newTestStore(t, storage, newFakeClock())

	if got := len(store.Document().Tasks); got != 2 {
		t.Fatalf("tasks after load = %d, want 2", got)
	}
	if _, err := store.CreateTask(entities.Fields{"title": "new"}); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}

	data, err := storage.Read(services.DocumentStorageKey)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	saved, err := entities.DecodeDocument(data)
	if err != nil {
		t.Fatalf("decode saved document: %v", err)
	}
	for _, id := range []string{"keep1", "bad"} {
		if _, ok := saved.TaskByID(id); !ok {
			t.Errorf("task %q lost after save", id)
		}
	}
	if len(saved.Tasks) != 3 {
		t.Errorf("saved tasks = %d, want 3", len(saved.Tasks))
	}
	if saved.Meta.LastReviewAt != nil {
		t.Errorf("lastReviewAt = %v, want dropped", saved.Meta.LastReviewAt)
	}
}
