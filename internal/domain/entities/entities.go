package entities

import (
	"time"
)

// Enums and types
type TaskStatus string

const (
	TaskStatusTodo  TaskStatus = "todo"
	TaskStatusDoing TaskStatus = "doing"
	TaskStatusDone  TaskStatus = "done"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "med"
	PriorityHigh   Priority = "high"
)

type Recurrence string

const (
	RecurrenceNone    Recurrence = "none"
	RecurrenceDaily   Recurrence = "daily"
	RecurrenceWeekly  Recurrence = "weekly"
	RecurrenceMonthly Recurrence = "monthly"
)

type ProjectStatus string

const (
	ProjectStatusActive ProjectStatus = "active"
	ProjectStatusPaused ProjectStatus = "paused"
	ProjectStatusDone   ProjectStatus = "done"
)

type CaptureKind string

const (
	CaptureKindTask  CaptureKind = "task"
	CaptureKindNote  CaptureKind = "note"
	CaptureKindEvent CaptureKind = "event"
)

type BlockType string

const (
	BlockTypeTitle     BlockType = "title"
	BlockTypeText      BlockType = "text"
	BlockTypeHeading   BlockType = "heading"
	BlockTypeList      BlockType = "list"
	BlockTypeChecklist BlockType = "checklist"
	BlockTypeTable     BlockType = "table"
	BlockTypeQuote     BlockType = "quote"
	BlockTypeDivider   BlockType = "divider"
	BlockTypeEmbed     BlockType = "embed"
)

type TimeFormat string

const (
	TimeFormat24h TimeFormat = "24h"
	TimeFormat12h TimeFormat = "12h"
)

const (
	// MaxFocusedTasks caps how many tasks may carry focus at once.
	MaxFocusedTasks = 3
	// MinDuration is the smallest event or time block length in minutes.
	MinDuration = 15
	// MaxDuration is the largest event or time block length in minutes.
	MaxDuration = 24 * 60
	// DefaultDuration is used when an event or time block has no usable length.
	DefaultDuration = 60
	// DefaultEventStart is used when an event has no usable start time.
	DefaultEventStart = "09:00"
)

// Task represents a unit of work in the workspace
type Task struct {
	ID           string          `json:"id"`
	Title        string          `json:"title"`
	Status       TaskStatus      `json:"status"`
	Priority     Priority        `json:"priority"`
	DueDate      string          `json:"dueDate"`
	DueTime      string          `json:"dueTime"`
	ProjectID    *string         `json:"projectId"`
	AreaID       *string         `json:"areaId"`
	Notes        string          `json:"notes"`
	Checklist    []ChecklistItem `json:"checklist"`
	Attachments  []string        `json:"attachments"`
	LinkedNoteID *string         `json:"linkedNoteId"`
	SourceNoteID *string         `json:"sourceNoteId"`
	Focus        bool            `json:"focus"`
	Archived     bool            `json:"archived"`
	TimeBlock    *TimeBlock      `json:"timeBlock"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// ChecklistItem is one line of a task or note checklist
type ChecklistItem struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// TimeBlock places a task on the calendar grid
type TimeBlock struct {
	Date     string `json:"date"`
	Start    string `json:"start"`
	Duration int    `json:"duration"`
}

// Event represents a calendar event
type Event struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Date       string     `json:"date"`
	Start      string     `json:"start"`
	Duration   int        `json:"duration"`
	ProjectID  *string    `json:"projectId"`
	AreaID     *string    `json:"areaId"`
	Location   string     `json:"location"`
	Notes      string     `json:"notes"`
	Recurrence Recurrence `json:"recurrence"`
	Archived   bool       `json:"archived"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// Note represents a block-structured document
type Note struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	AreaID    *string   `json:"areaId"`
	ProjectID *string   `json:"projectId"`
	Blocks    []Block   `json:"blocks"`
	Archived  bool      `json:"archived"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Block is one typed piece of note content. Only the payload fields that
// belong to Type are populated.
type Block struct {
	ID        string          `json:"id"`
	Type      BlockType       `json:"type"`
	Text      string          `json:"text,omitempty"`
	Level     int             `json:"level,omitempty"`
	Items     []string        `json:"items,omitempty"`
	Ordered   bool            `json:"ordered,omitempty"`
	Checklist []ChecklistItem `json:"checklist,omitempty"`
	Rows      [][]string      `json:"rows,omitempty"`
	URL       string          `json:"url,omitempty"`
	Caption   string          `json:"caption,omitempty"`
}

// Project represents a multi-step outcome, optionally inside an area
type Project struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Objective  string        `json:"objective"`
	AreaID     *string       `json:"areaId"`
	Status     ProjectStatus `json:"status"`
	Notes      string        `json:"notes"`
	Milestones []Milestone   `json:"milestones"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// Milestone marks a checkpoint inside a project
type Milestone struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	DueDate string `json:"dueDate"`
	Done    bool   `json:"done"`
}

// Area is the top of the containment hierarchy
type Area struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Objective string    `json:"objective"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// InboxCapture is a quick entry awaiting conversion into a task, note or event
type InboxCapture struct {
	ID        string      `json:"id"`
	Title     string      `json:"title"`
	Kind      CaptureKind `json:"kind"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Business logic methods for Task
func (t *Task) IsOpen() bool {
	return !t.Archived && t.Status != TaskStatusDone
}

func (t *Task) IsOverdue(today string) bool {
	return t.IsOpen() && t.DueDate != "" && t.DueDate < today
}

func (t *Task) ChecklistProgress() (done, total int) {
	for _, item := range t.Checklist {
		if item.Done {
			done++
		}
	}
	return done, len(t.Checklist)
}

// Touch refreshes UpdatedAt, keeping it no earlier than CreatedAt.
func (t *Task) Touch(now time.Time) {
	t.UpdatedAt = laterOf(now, t.CreatedAt)
}

func (e *Event) Touch(now time.Time) {
	e.UpdatedAt = laterOf(now, e.CreatedAt)
}

func (n *Note) Touch(now time.Time) {
	n.UpdatedAt = laterOf(now, n.CreatedAt)
}

func (p *Project) Touch(now time.Time) {
	p.UpdatedAt = laterOf(now, p.CreatedAt)
}

func (a *Area) Touch(now time.Time) {
	a.UpdatedAt = laterOf(now, a.CreatedAt)
}

// End returns the minute of day the event finishes, capped at midnight.
func (e *Event) End() string {
	start, ok := minuteOfDay(e.Start)
	if !ok {
		return ""
	}
	end := start + e.Duration
	if end > MaxDuration {
		end = MaxDuration
	}
	return formatMinuteOfDay(end)
}

func (p *Project) IsActive() bool {
	return p.Status == ProjectStatusActive
}

func (p *Project) MilestoneProgress() float64 {
	if len(p.Milestones) == 0 {
		return 0
	}
	done := 0
	for _, m := range p.Milestones {
		if m.Done {
			done++
		}
	}
	return float64(done) / float64(len(p.Milestones)) * 100
}

// Utility methods
func (ts TaskStatus) IsValid() bool {
	switch ts {
	case TaskStatusTodo, TaskStatusDoing, TaskStatusDone:
		return true
	default:
		return false
	}
}

func (p Priority) IsValid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
		return true
	default:
		return false
	}
}

func (r Recurrence) IsValid() bool {
	switch r {
	case RecurrenceNone, RecurrenceDaily, RecurrenceWeekly, RecurrenceMonthly:
		return true
	default:
		return false
	}
}

func (ps ProjectStatus) IsValid() bool {
	switch ps {
	case ProjectStatusActive, ProjectStatusPaused, ProjectStatusDone:
		return true
	default:
		return false
	}
}

func (k CaptureKind) IsValid() bool {
	switch k {
	case CaptureKindTask, CaptureKindNote, CaptureKindEvent:
		return true
	default:
		return false
	}
}

func (bt BlockType) IsValid() bool {
	switch bt {
	case BlockTypeTitle, BlockTypeText, BlockTypeHeading, BlockTypeList, BlockTypeChecklist,
		BlockTypeTable, BlockTypeQuote, BlockTypeDivider, BlockTypeEmbed:
		return true
	default:
		return false
	}
}

func (tf TimeFormat) IsValid() bool {
	return tf == TimeFormat24h || tf == TimeFormat12h
}

func laterOf(a, b time.Time) time.Time {
	if a.Before(b) {
		return b
	}
	return a
}
