package entities

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"golang.org/x/crypto/blake2b"
)

// UnassignedLabel is shown in place of a dangling project or area reference.
const UnassignedLabel = "Unassigned"

// Settings holds device and display preferences stored with the document
type Settings struct {
	SyncURL              string     `json:"syncUrl"`
	SyncAPIKey           string     `json:"syncApiKey"`
	AutoSync             bool       `json:"autoSync"`
	WeekStartsMonday     bool       `json:"weekStartsMonday"`
	DefaultEventDuration int        `json:"defaultEventDuration"`
	TimeFormat           TimeFormat `json:"timeFormat"`
	DayStart             string     `json:"dayStart"`
	DayEnd               string     `json:"dayEnd"`
}

// Meta holds bookkeeping that is not an entity
type Meta struct {
	LastReviewAt *time.Time `json:"lastReviewAt"`
}

// Document is the complete workspace state replicated between devices
type Document struct {
	Tasks    []Task         `json:"tasks"`
	Events   []Event        `json:"events"`
	Notes    []Note         `json:"notes"`
	Projects []Project      `json:"projects"`
	Areas    []Area         `json:"areas"`
	Inbox    []InboxCapture `json:"inbox"`
	Settings Settings       `json:"settings"`
	Meta     Meta           `json:"meta"`
}

// DefaultSettings returns the settings of a fresh workspace.
func DefaultSettings() Settings {
	return Settings{
		AutoSync:             true,
		WeekStartsMonday:     true,
		DefaultEventDuration: DefaultDuration,
		TimeFormat:           TimeFormat24h,
		DayStart:             "07:00",
		DayEnd:               "21:00",
	}
}

// NewDocument returns an empty workspace with default settings.
func NewDocument() Document {
	return Document{
		Tasks:    make([]Task, 0),
		Events:   make([]Event, 0),
		Notes:    make([]Note, 0),
		Projects: make([]Project, 0),
		Areas:    make([]Area, 0),
		Inbox:    make([]InboxCapture, 0),
		Settings: DefaultSettings(),
	}
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	return Document{
		Tasks:    cloneSlice(d.Tasks, Task.clone),
		Events:   cloneSlice(d.Events, Event.clone),
		Notes:    cloneSlice(d.Notes, Note.clone),
		Projects: cloneSlice(d.Projects, Project.clone),
		Areas:    cloneSlice(d.Areas, same[Area]),
		Inbox:    cloneSlice(d.Inbox, same[InboxCapture]),
		Settings: d.Settings,
		Meta:     Meta{LastReviewAt: clonePtr(d.Meta.LastReviewAt)},
	}
}

// Normalized re-runs normalization over d. It fails only when d holds a
// value that cannot be serialized; such a document must not replace stored data.
func (d Document) Normalized() (Document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return Document{}, &ValidationError{Reason: "document cannot be encoded", Err: err}
	}
	return DecodeDocument(data)
}

func same[T any](v T) T { return v }

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSlice[T any](s []T, each func(T) T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	for i, v := range s {
		out[i] = each(v)
	}
	return out
}

func (t Task) clone() Task {
	t.ProjectID = clonePtr(t.ProjectID)
	t.AreaID = clonePtr(t.AreaID)
	t.LinkedNoteID = clonePtr(t.LinkedNoteID)
	t.SourceNoteID = clonePtr(t.SourceNoteID)
	t.Checklist = cloneSlice(t.Checklist, same[ChecklistItem])
	t.Attachments = cloneSlice(t.Attachments, same[string])
	t.TimeBlock = clonePtr(t.TimeBlock)
	return t
}

func (e Event) clone() Event {
	e.ProjectID = clonePtr(e.ProjectID)
	e.AreaID = clonePtr(e.AreaID)
	return e
}

func (b Block) clone() Block {
	b.Items = cloneSlice(b.Items, same[string])
	b.Checklist = cloneSlice(b.Checklist, same[ChecklistItem])
	b.Rows = cloneSlice(b.Rows, func(row []string) []string { return cloneSlice(row, same[string]) })
	return b
}

func (n Note) clone() Note {
	n.AreaID = clonePtr(n.AreaID)
	n.ProjectID = clonePtr(n.ProjectID)
	n.Blocks = cloneSlice(n.Blocks, Block.clone)
	return n
}

func (p Project) clone() Project {
	p.AreaID = clonePtr(p.AreaID)
	p.Milestones = cloneSlice(p.Milestones, same[Milestone])
	return p
}

// Syncable returns the portion of the document that is replicated. The
// connection settings are device-local and never leave the device.
func (d Document) Syncable() Document {
	out := d
	out.Settings.SyncURL = ""
	out.Settings.SyncAPIKey = ""
	out.Settings.AutoSync = false
	return out
}

// WithDeviceSettings returns d carrying the connection settings of local.
func (d Document) WithDeviceSettings(local Settings) Document {
	out := d
	out.Settings.SyncURL = local.SyncURL
	out.Settings.SyncAPIKey = local.SyncAPIKey
	out.Settings.AutoSync = local.AutoSync
	return out
}

// Fingerprint returns a deterministic digest of the syncable document. Equal
// fingerprints mean a push would transmit identical content.
func Fingerprint(d Document) string {
	data, err := json.Marshal(d.Syncable())
	if err != nil {
		return ""
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (d *Document) TaskByID(id string) (*Task, bool) {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i], true
		}
	}
	return nil, false
}

func (d *Document) EventByID(id string) (*Event, bool) {
	for i := range d.Events {
		if d.Events[i].ID == id {
			return &d.Events[i], true
		}
	}
	return nil, false
}

func (d *Document) NoteByID(id string) (*Note, bool) {
	for i := range d.Notes {
		if d.Notes[i].ID == id {
			return &d.Notes[i], true
		}
	}
	return nil, false
}

func (d *Document) ProjectByID(id string) (*Project, bool) {
	for i := range d.Projects {
		if d.Projects[i].ID == id {
			return &d.Projects[i], true
		}
	}
	return nil, false
}

func (d *Document) AreaByID(id string) (*Area, bool) {
	for i := range d.Areas {
		if d.Areas[i].ID == id {
			return &d.Areas[i], true
		}
	}
	return nil, false
}

func (d *Document) CaptureIndex(id string) int {
	for i := range d.Inbox {
		if d.Inbox[i].ID == id {
			return i
		}
	}
	return -1
}

// ProjectName resolves a weak project reference for display.
func (d *Document) ProjectName(id *string) string {
	if id == nil {
		return UnassignedLabel
	}
	if p, ok := d.ProjectByID(*id); ok && p.Name != "" {
		return p.Name
	}
	return UnassignedLabel
}

// AreaName resolves a weak area reference for display.
func (d *Document) AreaName(id *string) string {
	if id == nil {
		return UnassignedLabel
	}
	if a, ok := d.AreaByID(*id); ok && a.Name != "" {
		return a.Name
	}
	return UnassignedLabel
}

// FocusedCount returns how many tasks currently carry focus.
func (d *Document) FocusedCount() int {
	n := 0
	for i := range d.Tasks {
		if d.Tasks[i].Focus {
			n++
		}
	}
	return n
}
