package entities_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/taskmaster/workspace/internal/domain/entities"
)

func ptr[T any](v T) *T { return &v }

func TestFreshDocument(t *testing.T) {
	doc := entities.NewDocument()
	if len(doc.Tasks)+len(doc.Events)+len(doc.Notes)+len(doc.Projects)+len(doc.Areas)+len(doc.Inbox) != 0 {
		t.Errorf("fresh document is not empty: %+v", doc)
	}
	if !doc.Settings.WeekStartsMonday || doc.Settings.DefaultEventDuration != 60 {
		t.Errorf("settings = %+v", doc.Settings)
	}
}

func TestSyncableStripsConnectionSettings(t *testing.T) {
	doc := entities.NewDocument()
	doc.Settings.SyncURL = "https://example.test"
	doc.Settings.SyncAPIKey = "secret"

	out := doc.Syncable()
	if out.Settings.SyncURL != "" || out.Settings.SyncAPIKey != "" || out.Settings.AutoSync {
		t.Errorf("syncable settings = %+v", out.Settings)
	}
	if doc.Settings.SyncAPIKey != "secret" {
		t.Error("Syncable modified the receiver")
	}

	merged := out.WithDeviceSettings(doc.Settings)
	if merged.Settings.SyncURL != doc.Settings.SyncURL || merged.Settings.SyncAPIKey != "secret" {
		t.Errorf("WithDeviceSettings = %+v", merged.Settings)
	}
}

func TestFingerprint(t *testing.T) {
	doc := entities.NewDocument()
	doc.Tasks = append(doc.Tasks, entities.NewTask(entities.Fields{"id": "t1", "title": "A"}, now))

	base := entities.Fingerprint(doc)
	if base == "" {
		t.Fatal("empty fingerprint")
	}
	if got := entities.Fingerprint(doc.Clone()); got != base {
		t.Errorf("clone fingerprint differs")
	}

	rekeyed := doc.Clone()
	rekeyed.Settings.SyncAPIKey = "rotated"
	if entities.Fingerprint(rekeyed) != base {
		t.Error("connection settings changed the fingerprint")
	}

	edited := doc.Clone()
	edited.Tasks[0].Title = "B"
	if entities.Fingerprint(edited) == base {
		t.Error("content change kept the fingerprint")
	}
}

func TestCloneIsDeep(t *testing.T) {
	doc := entities.NewDocument()
	doc.Tasks = append(doc.Tasks, entities.NewTask(entities.Fields{
		"title":     "A",
		"checklist": []any{map[string]any{"text": "x"}},
	}, now))

	clone := doc.Clone()
	clone.Tasks[0].Checklist[0].Done = true
	clone.Tasks[0].Title = "changed"

	if doc.Tasks[0].Checklist[0].Done || doc.Tasks[0].Title != "A" {
		t.Error("mutating the clone changed the original")
	}
}

func TestReferenceLookupFallsBack(t *testing.T) {
	doc := entities.NewDocument()
	doc.Projects = append(doc.Projects, entities.NewProject(entities.Fields{"id": "p1", "name": "Launch"}, now))

	if got := doc.ProjectName(ptr("p1")); got != "Launch" {
		t.Errorf("ProjectName(p1) = %q", got)
	}
	if got := doc.ProjectName(ptr("gone")); got != entities.UnassignedLabel {
		t.Errorf("dangling reference = %q, want %q", got, entities.UnassignedLabel)
	}
	if got := doc.AreaName(nil); got != entities.UnassignedLabel {
		t.Errorf("nil reference = %q", got)
	}
}

func TestEventEnd(t *testing.T) {
	tests := []struct {
		start    string
		duration int
		want     string
	}{
		{start: "09:00", duration: 60, want: "10:00"},
		{start: "23:30", duration: 60, want: "24:00"},
		{start: "10:15", duration: 45, want: "11:00"},
	}
	for _, tt := range tests {
		event := entities.NewEvent(entities.Fields{"start": tt.start, "duration": tt.duration}, now)
		if got := event.End(); got != tt.want {
			t.Errorf("End(%s + %d) = %q, want %q", tt.start, tt.duration, got, tt.want)
		}
	}
}

func TestStateRecordRules(t *testing.T) {
	rec := &entities.StateRecord{UpdatedAt: 100}

	if rec.IsNewerThan(nil) {
		t.Error("a write without base must never conflict")
	}
	if !rec.IsNewerThan(ptr(int64(50))) {
		t.Error("stale base must conflict")
	}
	if rec.IsNewerThan(ptr(int64(100))) {
		t.Error("equal base must not conflict")
	}

	var none *entities.StateRecord
	if got := none.NextTimestamp(42); got != 42 {
		t.Errorf("first write timestamp = %d", got)
	}
	if got := rec.NextTimestamp(90); got != 101 {
		t.Errorf("timestamp behind the stored one = %d, want 101", got)
	}
	if got := rec.NextTimestamp(200); got != 200 {
		t.Errorf("timestamp = %d, want 200", got)
	}
}

func TestIsJSONObject(t *testing.T) {
	tests := map[string]bool{
		`{}`:          true,
		` {"a":1} `:   true,
		`[]`:          false,
		`null`:        false,
		`"x"`:         false,
		`{"a":`:       false,
		``:            false,
		`{"a":1} {} `: false,
	}
	for in, want := range tests {
		if got := entities.IsJSONObject([]byte(in)); got != want {
			t.Errorf("IsJSONObject(%q) = %t, want %t", in, got, want)
		}
	}
}

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want entities.ErrorKind
	}{
		{err: nil, want: entities.KindNone},
		{err: &entities.ConfigError{Reason: entities.ReasonMissingURL}, want: entities.KindConfig},
		{err: &entities.AuthError{}, want: entities.KindAuth},
		{err: &entities.ConflictError{UpdatedAt: 1}, want: entities.KindConflict},
		{err: &entities.NotFoundError{}, want: entities.KindNotFound},
		{err: &entities.ValidationError{Reason: "x"}, want: entities.KindValidation},
		{err: &entities.RemoteError{Status: 500}, want: entities.KindRemote},
		{err: &entities.NetworkError{Err: context.DeadlineExceeded}, want: entities.KindNetwork},
		{err: fmt.Errorf("push: %w", &entities.AuthError{}), want: entities.KindAuth},
	}
	for _, tt := range tests {
		if got := entities.KindOf(tt.err); got != tt.want {
			t.Errorf("KindOf(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}

	if !errors.Is(&entities.ConflictError{}, entities.ErrStateConflict) {
		t.Error("ConflictError should match ErrStateConflict")
	}
	if !entities.KindNetwork.Retryable() || entities.KindConflict.Retryable() || entities.KindAuth.Retryable() {
		t.Error("unexpected retry classification")
	}
}

func TestDocumentJSONShape(t *testing.T) {
	data, err := json.Marshal(entities.NewDocument())
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var shape map[string]json.RawMessage
	if err := json.Unmarshal(data, &shape); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"tasks", "events", "notes", "projects", "areas", "inbox", "settings", "meta"} {
		if _, ok := shape[key]; !ok {
			t.Errorf("missing key %q", key)
		}
	}
	if string(shape["tasks"]) != "[]" {
		t.Errorf("tasks = %s, want []", shape["tasks"])
	}
}

func TestCloneKeepsUnencodableDocument(t *testing.T) {
	doc := entities.NewDocument()
	doc.Tasks = append(doc.Tasks,
		entities.NewTask(entities.Fields{"id": "keep1", "title": "important"}, now),
		entities.NewTask(entities.Fields{"id": "far"}, now),
	)
	doc.Tasks[1].CreatedAt = time.Date(33658, 1, 1, 0, 0, 0, 0, time.UTC)

	clone := doc.Clone()
	if len(clone.Tasks) != 2 || clone.Tasks[0].ID != "keep1" {
		t.Fatalf("clone tasks = %+v", clone.Tasks)
	}

	_, err := doc.Normalized()
	var verr *entities.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("Normalized err = %v, want ValidationError", err)
	}
}

func TestChecklistProgress(t *testing.T) {
	task := entities.NewTask(entities.Fields{
		"checklist": []any{
			map[string]any{"text": "a", "done": true},
			map[string]any{"text": "b"},
		},
	}, now)
	if done, total := task.ChecklistProgress(); done != 1 || total != 2 {
		t.Errorf("progress = %d/%d, want 1/2", done, total)
	}
}
