package entities

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Fields is a loosely typed record as produced by decoding JSON into any.
// It is the input of every Normalize and New function.
type Fields map[string]any

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// NewID returns a fresh entity id.
func NewID() string {
	return uuid.NewString()
}

// IsValidID reports whether s is usable as an entity id.
func IsValidID(s string) bool {
	return idPattern.MatchString(s)
}

// asObject returns raw as a JSON object. Structs (and non-nil pointers to
// structs) are accepted by round-tripping them through encoding/json, so a
// normalized entity can be normalized again.
func asObject(raw any) (map[string]any, bool) {
	switch v := raw.(type) {
	case nil:
		return nil, false
	case map[string]any:
		return v, v != nil
	case Fields:
		return map[string]any(v), v != nil
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, false
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct {
		return nil, false
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, false
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

func asSlice(raw any) []any {
	switch v := raw.(type) {
	case []any:
		return v
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out
	case []map[string]any:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out
	case []Fields:
		out := make([]any, len(v))
		for i, m := range v {
			out[i] = m
		}
		return out
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() != reflect.Slice {
		return nil
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func asNumber(raw any) (float64, bool) {
	var f float64
	switch v := raw.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case json.Number:
		parsed, err := v.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func stringField(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok {
		return s
	}
	return def
}

func trimmedField(m map[string]any, key, def string) string {
	if s, ok := m[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return def
}

func boolField(m map[string]any, key string, def bool) bool {
	if b, ok := m[key].(bool); ok {
		return b
	}
	return def
}

func idField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok && IsValidID(s) {
		return s
	}
	return NewID()
}

func refField(m map[string]any, key string) *string {
	if s, ok := m[key].(string); ok && IsValidID(s) {
		return &s
	}
	return nil
}

// IsValidDate reports whether s is a calendar date in YYYY-MM-DD form.
func IsValidDate(s string) bool {
	if len(s) != len("2006-01-02") {
		return false
	}
	_, err := time.Parse("2006-01-02", s)
	return err == nil
}

// IsValidClock reports whether s is a 24h wall clock time in HH:MM form.
func IsValidClock(s string) bool {
	_, ok := minuteOfDay(s)
	return ok
}

func minuteOfDay(s string) (int, bool) {
	if len(s) != 5 || s[2] != ':' {
		return 0, false
	}
	h, err := strconv.Atoi(s[:2])
	if err != nil || h < 0 || h > 23 {
		return 0, false
	}
	m, err := strconv.Atoi(s[3:])
	if err != nil || m < 0 || m > 59 {
		return 0, false
	}
	return h*60 + m, true
}

func formatMinuteOfDay(minutes int) string {
	if minutes >= MaxDuration {
		return "24:00"
	}
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

func dateField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok && IsValidDate(s) {
		return s
	}
	return ""
}

func clockField(m map[string]any, key string) string {
	if s, ok := m[key].(string); ok && IsValidClock(s) {
		return s
	}
	return ""
}

func durationField(m map[string]any, key string, def int) int {
	f, ok := asNumber(m[key])
	if !ok {
		return def
	}
	f = math.Round(f)
	switch {
	case f < MinDuration:
		return MinDuration
	case f > MaxDuration:
		return MaxDuration
	}
	return int(f)
}

// maxTimestampMillis is the last instant encoding/json can write back out.
var maxTimestampMillis = time.Date(9999, 12, 31, 23, 59, 59, 999_000_000, time.UTC).UnixMilli()

// parseTimestamp accepts RFC3339 strings and epoch milliseconds. Instants
// outside years 0000-9999 are rejected since they cannot be serialized.
func parseTimestamp(raw any) (time.Time, bool) {
	if s, ok := raw.(string); ok {
		t, err := time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
		if err != nil {
			return time.Time{}, false
		}
		t = t.UTC()
		if t.Year() < 0 || t.Year() > 9999 {
			return time.Time{}, false
		}
		return t, true
	}
	if f, ok := asNumber(raw); ok && f > 0 && f <= float64(maxTimestampMillis) {
		return time.UnixMilli(int64(f)).UTC(), true
	}
	return time.Time{}, false
}

func timestamps(m map[string]any) (created, updated time.Time) {
	created, ok := parseTimestamp(m["createdAt"])
	if !ok {
		created = time.Now().UTC()
	}
	updated, ok = parseTimestamp(m["updatedAt"])
	if !ok || updated.Before(created) {
		updated = created
	}
	return created, updated
}

func enumField[T ~string](m map[string]any, key string, def T, valid func(T) bool) T {
	if s, ok := m[key].(string); ok && valid(T(s)) {
		return T(s)
	}
	return def
}

func normalizeChecklist(raw any) []ChecklistItem {
	items := make([]ChecklistItem, 0)
	for _, entry := range asSlice(raw) {
		m, ok := asObject(entry)
		if !ok {
			continue
		}
		items = append(items, ChecklistItem{
			ID:   idField(m, "id"),
			Text: stringField(m, "text", ""),
			Done: boolField(m, "done", false),
		})
	}
	return items
}

func normalizeStrings(raw any) []string {
	out := make([]string, 0)
	for _, entry := range asSlice(raw) {
		if s, ok := entry.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func normalizeTimeBlock(raw any) *TimeBlock {
	m, ok := asObject(raw)
	if !ok {
		return nil
	}
	date := dateField(m, "date")
	start := clockField(m, "start")
	if date == "" || start == "" {
		return nil
	}
	return &TimeBlock{
		Date:     date,
		Start:    start,
		Duration: durationField(m, "duration", DefaultDuration),
	}
}

// NormalizeTask converts raw into a well-formed Task, or nil if raw is not a record.
func NormalizeTask(raw any) *Task {
	m, ok := asObject(raw)
	if !ok {
		return nil
	}
	created, updated := timestamps(m)
	return &Task{
		ID:           idField(m, "id"),
		Title:        trimmedField(m, "title", ""),
		Status:       enumField(m, "status", TaskStatusTodo, TaskStatus.IsValid),
		Priority:     enumField(m, "priority", PriorityMedium, Priority.IsValid),
		DueDate:      dateField(m, "dueDate"),
		DueTime:      clockField(m, "dueTime"),
		ProjectID:    refField(m, "projectId"),
		AreaID:       refField(m, "areaId"),
		Notes:        stringField(m, "notes", ""),
		Checklist:    normalizeChecklist(m["checklist"]),
		Attachments:  normalizeStrings(m["attachments"]),
		LinkedNoteID: refField(m, "linkedNoteId"),
		SourceNoteID: refField(m, "sourceNoteId"),
		Focus:        boolField(m, "focus", false),
		Archived:     boolField(m, "archived", false),
		TimeBlock:    normalizeTimeBlock(m["timeBlock"]),
		CreatedAt:    created,
		UpdatedAt:    updated,
	}
}

// NormalizeEvent converts raw into a well-formed Event, or nil if raw is not a record.
func NormalizeEvent(raw any) *Event {
	m, ok := asObject(raw)
	if !ok {
		return nil
	}
	created, updated := timestamps(m)
	date := dateField(m, "date")
	if date == "" {
		date = created.Format("2006-01-02")
	}
	start := clockField(m, "start")
	if start == "" {
		start = DefaultEventStart
	}
	return &Event{
		ID:         idField(m, "id"),
		Title:      trimmedField(m, "title", ""),
		Date:       date,
		Start:      start,
		Duration:   durationField(m, "duration", DefaultDuration),
		ProjectID:  refField(m, "projectId"),
		AreaID:     refField(m, "areaId"),
		Location:   trimmedField(m, "location", ""),
		Notes:      stringField(m, "notes", ""),
		Recurrence: enumField(m, "recurrence", RecurrenceNone, Recurrence.IsValid),
		Archived:   boolField(m, "archived", false),
		CreatedAt:  created,
		UpdatedAt:  updated,
	}
}

func normalizeBlock(raw any) *Block {
	m, ok := asObject(raw)
	if !ok {
		return nil
	}
	bt, ok := m["type"].(string)
	if !ok || !BlockType(bt).IsValid() {
		return nil
	}
	b := &Block{ID: idField(m, "id"), Type: BlockType(bt)}

	switch b.Type {
	case BlockTypeTitle, BlockTypeText, BlockTypeQuote:
		b.Text = stringField(m, "text", "")
	case BlockTypeHeading:
		b.Text = stringField(m, "text", "")
		b.Level = 2
		if f, ok := asNumber(m["level"]); ok && f >= 1 && f <= 3 {
			b.Level = int(f)
		}
	case BlockTypeList:
		if items := normalizeStrings(m["items"]); len(items) > 0 {
			b.Items = items
		}
		b.Ordered = boolField(m, "ordered", false)
	case BlockTypeChecklist:
		if items := normalizeChecklist(m["checklist"]); len(items) > 0 {
			b.Checklist = items
		}
	case BlockTypeTable:
		b.Rows = normalizeRows(m["rows"])
	case BlockTypeEmbed:
		b.URL = trimmedField(m, "url", "")
		b.Caption = stringField(m, "caption", "")
	case BlockTypeDivider:
	}
	return b
}

// normalizeRows keeps array rows only and pads them to the widest row.
func normalizeRows(raw any) [][]string {
	var rows [][]string
	width := 0
	for _, entry := range asSlice(raw) {
		cells := asSlice(entry)
		if cells == nil {
			continue
		}
		row := make([]string, len(cells))
		for i, cell := range cells {
			if s, ok := cell.(string); ok {
				row[i] = s
			}
		}
		if len(row) > width {
			width = len(row)
		}
		rows = append(rows, row)
	}
	if width == 0 {
		return nil
	}
	for i, row := range rows {
		for len(row) < width {
			row = append(row, "")
		}
		rows[i] = row
	}
	return rows
}

// NormalizeNote converts raw into a well-formed Note, or nil if raw is not a record.
func NormalizeNote(raw any) *Note {
	m, ok := asObject(raw)
	if !ok {
		return nil
	}
	created, updated := timestamps(m)
	blocks := make([]Block, 0)
	for _, entry := range asSlice(m["blocks"]) {
		if b := normalizeBlock(entry); b != nil {
			blocks = append(blocks, *b)
		}
	}
	return &Note{
		ID:        idField(m, "id"),
		Title:     trimmedField(m, "title", ""),
		AreaID:    refField(m, "areaId"),
		ProjectID: refField(m, "projectId"),
		Blocks:    blocks,
		Archived:  boolField(m, "archived", false),
		CreatedAt: created,
		UpdatedAt: updated,
	}
}

// NormalizeProject converts raw into a well-formed Project, or nil if raw is not a record.
func NormalizeProject(raw any) *Project {
	m, ok := asObject(raw)
	if !ok {
		return nil
	}
	created, updated := timestamps(m)
	milestones := make([]Milestone, 0)
	for _, entry := range asSlice(m["milestones"]) {
		ms, ok := asObject(entry)
		if !ok {
			continue
		}
		milestones = append(milestones, Milestone{
			ID:      idField(ms, "id"),
			Title:   trimmedField(ms, "title", ""),
			DueDate: dateField(ms, "dueDate"),
			Done:    boolField(ms, "done", false),
		})
	}
	return &Project{
		ID:         idField(m, "id"),
		Name:       trimmedField(m, "name", ""),
		Objective:  stringField(m, "objective", ""),
		AreaID:     refField(m, "areaId"),
		Status:     enumField(m, "status", ProjectStatusActive, ProjectStatus.IsValid),
		Notes:      stringField(m, "notes", ""),
		Milestones: milestones,
		CreatedAt:  created,
		UpdatedAt:  updated,
	}
}

// NormalizeArea converts raw into a well-formed Area, or nil if raw is not a record.
func NormalizeArea(raw any) *Area {
	m, ok := asObject(raw)
	if !ok {
		return nil
	}
	created, updated := timestamps(m)
	return &Area{
		ID:        idField(m, "id"),
		Name:      trimmedField(m, "name", ""),
		Objective: stringField(m, "objective", ""),
		CreatedAt: created,
		UpdatedAt: updated,
	}
}

// NormalizeInboxCapture converts raw into a well-formed InboxCapture, or nil if raw is not a record.
func NormalizeInboxCapture(raw any) *InboxCapture {
	m, ok := asObject(raw)
	if !ok {
		return nil
	}
	created, _ := timestamps(m)
	return &InboxCapture{
		ID:        idField(m, "id"),
		Title:     trimmedField(m, "title", ""),
		Kind:      enumField(m, "kind", CaptureKindTask, CaptureKind.IsValid),
		CreatedAt: created,
	}
}

// NormalizeSettings converts raw into well-formed Settings; non-records yield defaults.
func NormalizeSettings(raw any) Settings {
	def := DefaultSettings()
	m, ok := asObject(raw)
	if !ok {
		return def
	}
	dayStart := clockField(m, "dayStart")
	if dayStart == "" {
		dayStart = def.DayStart
	}
	dayEnd := clockField(m, "dayEnd")
	if dayEnd == "" {
		dayEnd = def.DayEnd
	}
	return Settings{
		SyncURL:              trimmedField(m, "syncUrl", def.SyncURL),
		SyncAPIKey:           trimmedField(m, "syncApiKey", def.SyncAPIKey),
		AutoSync:             boolField(m, "autoSync", def.AutoSync),
		WeekStartsMonday:     boolField(m, "weekStartsMonday", def.WeekStartsMonday),
		DefaultEventDuration: durationField(m, "defaultEventDuration", def.DefaultEventDuration),
		TimeFormat:           enumField(m, "timeFormat", def.TimeFormat, TimeFormat.IsValid),
		DayStart:             dayStart,
		DayEnd:               dayEnd,
	}
}

// NormalizeMeta converts raw into well-formed Meta; non-records yield the zero Meta.
func NormalizeMeta(raw any) Meta {
	m, ok := asObject(raw)
	if !ok {
		return Meta{}
	}
	if t, ok := parseTimestamp(m["lastReviewAt"]); ok {
		return Meta{LastReviewAt: &t}
	}
	return Meta{}
}

// normalizeCollection keeps the first occurrence of every id.
func normalizeCollection[T any](raw any, normalize func(any) *T, id func(*T) string) []T {
	out := make([]T, 0)
	seen := make(map[string]struct{})
	for _, entry := range asSlice(raw) {
		item := normalize(entry)
		if item == nil {
			continue
		}
		key := id(item)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, *item)
	}
	return out
}

// NormalizeDocument converts raw into a well-formed Document. Anything that
// is not a record yields a fresh default document.
func NormalizeDocument(raw any) Document {
	m, ok := asObject(raw)
	if !ok {
		return NewDocument()
	}
	return Document{
		Tasks:    normalizeCollection(m["tasks"], NormalizeTask, func(t *Task) string { return t.ID }),
		Events:   normalizeCollection(m["events"], NormalizeEvent, func(e *Event) string { return e.ID }),
		Notes:    normalizeCollection(m["notes"], NormalizeNote, func(n *Note) string { return n.ID }),
		Projects: normalizeCollection(m["projects"], NormalizeProject, func(p *Project) string { return p.ID }),
		Areas:    normalizeCollection(m["areas"], NormalizeArea, func(a *Area) string { return a.ID }),
		Inbox:    normalizeCollection(m["inbox"], NormalizeInboxCapture, func(c *InboxCapture) string { return c.ID }),
		Settings: NormalizeSettings(m["settings"]),
		Meta:     NormalizeMeta(m["meta"]),
	}
}

// DecodeDocument parses serialized document bytes. Syntax errors and non-object
// payloads are rejected with a ValidationError; everything else is normalized.
func DecodeDocument(data []byte) (Document, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Document{}, &ValidationError{Reason: "invalid JSON", Err: err}
	}
	if _, ok := raw.(map[string]any); !ok {
		return Document{}, &ValidationError{Reason: "document must be a JSON object"}
	}
	return NormalizeDocument(raw), nil
}

func prepareCreate(partial Fields, now time.Time) map[string]any {
	m := make(map[string]any, len(partial)+3)
	for k, v := range partial {
		m[k] = v
	}
	if s, ok := m["id"].(string); !ok || !IsValidID(s) {
		m["id"] = NewID()
	}
	stamp := now.UTC().Format(time.RFC3339Nano)
	m["createdAt"] = stamp
	m["updatedAt"] = stamp
	return m
}

// NewTask creates a task from partial fields with fresh timestamps.
func NewTask(partial Fields, now time.Time) Task {
	return *NormalizeTask(prepareCreate(partial, now))
}

// NewEvent creates an event from partial fields with fresh timestamps.
func NewEvent(partial Fields, now time.Time) Event {
	return *NormalizeEvent(prepareCreate(partial, now))
}

// NewNote creates a note from partial fields with fresh timestamps.
func NewNote(partial Fields, now time.Time) Note {
	return *NormalizeNote(prepareCreate(partial, now))
}

// NewProject creates a project from partial fields with fresh timestamps.
func NewProject(partial Fields, now time.Time) Project {
	return *NormalizeProject(prepareCreate(partial, now))
}

// NewArea creates an area from partial fields with fresh timestamps.
func NewArea(partial Fields, now time.Time) Area {
	return *NormalizeArea(prepareCreate(partial, now))
}

// NewInboxCapture creates an inbox capture from partial fields with a fresh timestamp.
func NewInboxCapture(partial Fields, now time.Time) InboxCapture {
	return *NormalizeInboxCapture(prepareCreate(partial, now))
}
