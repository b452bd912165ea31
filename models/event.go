package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Event levels
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// Event categories. Category is free-form; these are the ones the tracker emits.
const (
	CategoryLifecycle   = "lifecycle"
	CategoryInteraction = "interaction"
	CategoryAPI         = "api"
	CategoryError       = "error"
	CategoryState       = "state"
	CategoryPerformance = "performance"
	CategoryNavigation  = "navigation"
	CategoryStorage     = "storage"
	CategoryCorrection  = "correction"
)

// Verdict statuses
const (
	VerdictOK      = "ok"
	VerdictWarning = "warning"
	VerdictError   = "error"
	VerdictUnknown = "unknown"
)

// Verdict is the result of comparing an event against its expected behavior.
type Verdict struct {
	Expected string `json:"expected,omitempty"`
	Actual   string `json:"actual,omitempty"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

// Event is one structured monitoring record.
// Anything outside the fixed schema lives in Fields.
type Event struct {
	ID               string         `gorm:"primaryKey;size:64" json:"id"`
	SessionID        string         `gorm:"index;size:64;not null" json:"sessionId"`
	Timestamp        time.Time      `gorm:"index;not null" json:"timestamp"`
	Level            string         `gorm:"index;size:16;not null" json:"level"`
	Category         string         `gorm:"index;size:32;not null" json:"category"`
	Component        string         `gorm:"index;size:128" json:"component,omitempty"`
	Action           string         `gorm:"index;size:128" json:"action,omitempty"`
	ActionType       string         `gorm:"size:64" json:"actionType,omitempty"`
	Message          string         `gorm:"type:text;not null" json:"message"`
	URL              string         `gorm:"size:512" json:"url,omitempty"`
	UserAgent        string         `gorm:"size:512" json:"userAgent,omitempty"`
	Fields           map[string]any `gorm:"serializer:json" json:"fields,omitempty"`
	Validation       *Verdict       `gorm:"serializer:json" json:"validation,omitempty"`
	ValidationStatus string         `gorm:"index;size:16" json:"-"`
	CreatedAt        time.Time      `json:"-"`
}

// TableName keeps the table name stable across renames of the Go type.
func (Event) TableName() string {
	return "monitoring_logs"
}

// eventKeys are the JSON keys that map onto Event's fixed schema.
var eventKeys = []string{
	"id", "logId", "sessionId", "timestamp", "level", "category", "component", "action",
	"actionType", "message", "url", "userAgent", "fields", "validation",
}

// UnmarshalJSON decodes the fixed schema and folds any other top-level keys into Fields,
// so flat client payloads ({"duration": 120, ...}) keep their extra data.
func (e *Event) UnmarshalJSON(data []byte) error {
	type alias Event
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if a.ID == "" {
		if v, ok := raw["logId"]; ok {
			_ = json.Unmarshal(v, &a.ID)
		}
	}
	for _, k := range eventKeys {
		delete(raw, k)
	}
	if len(raw) > 0 {
		if a.Fields == nil {
			a.Fields = make(map[string]any, len(raw))
		}
		for k, v := range raw {
			var val any
			if err := json.Unmarshal(v, &val); err == nil {
				a.Fields[k] = val
			}
		}
	}

	*e = Event(a)
	return nil
}

// Field returns a metadata value, or nil.
func (e *Event) Field(key string) any {
	if e == nil || e.Fields == nil {
		return nil
	}
	return e.Fields[key]
}

// FieldString returns a metadata value as a string when it is one.
func (e *Event) FieldString(key string) string {
	s, _ := e.Field(key).(string)
	return s
}

// FieldFloat returns a numeric metadata value. ok is false when absent or not numeric.
func (e *Event) FieldFloat(key string) (float64, bool) {
	switch v := e.Field(key).(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// Normalize trims the fixed string fields and lower-cases level and category.
func (e *Event) Normalize() {
	e.Level = strings.ToLower(strings.TrimSpace(e.Level))
	e.Category = strings.ToLower(strings.TrimSpace(e.Category))
	e.Component = strings.TrimSpace(e.Component)
	e.Action = strings.TrimSpace(e.Action)
	e.ActionType = strings.TrimSpace(e.ActionType)
	if e.Validation != nil {
		e.ValidationStatus = e.Validation.Status
	}
}

// LogBatch is the sink payload posted by clients.
type LogBatch struct {
	SessionID string  `json:"sessionId" binding:"required"`
	Logs      []Event `json:"logs" binding:"required"`
}
