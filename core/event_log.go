package core

import (
	"encoding/json"
	"iter"
	"sync"
	"time"

	"cosmicwatch/metrics"
	"cosmicwatch/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultEventCapacity   = 1000
	DefaultDurableCapacity = 100

	// DurableQueueKey is the storage key of the persisted event queue.
	DurableQueueKey = "monitoringLogs"

	defaultEventMessage = "(no message)"
)

// EventLogOptions configures an EventLog. Zero values take defaults.
type EventLogOptions struct {
	Capacity        int
	DurableCapacity int
	SessionID       string
	Storage         Storage
	Validator       *Validator
	// Context supplies the URL and user agent stamped on events that carry none.
	Context func() (url, userAgent string)
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// EventFilter selects events in Query. Empty fields match everything.
type EventFilter struct {
	SessionID        string
	Component        string
	Level            string
	Category         string
	ValidationStatus string
	Since            time.Time
	Until            time.Time
}

func (f EventFilter) match(ev *models.Event) bool {
	if f.SessionID != "" && ev.SessionID != f.SessionID {
		return false
	}
	if f.Component != "" && ev.Component != f.Component {
		return false
	}
	if f.Level != "" && ev.Level != f.Level {
		return false
	}
	if f.Category != "" && ev.Category != f.Category {
		return false
	}
	if f.ValidationStatus != "" && (ev.Validation == nil || ev.Validation.Status != f.ValidationStatus) {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// EventLog is a bounded in-memory event buffer, mirrored into a smaller
// durable queue. Oldest entries are evicted first in both.
type EventLog struct {
	mu        sync.RWMutex
	events    []*models.Event
	byID      map[string]*models.Event
	capacity  int
	last      time.Time
	sessionID string

	durableMu  sync.Mutex
	durableCap int
	storage    Storage

	subMu       sync.RWMutex
	subscribers map[int]func(models.Event)
	nextSub     int

	validator *Validator
	context   func() (string, string)
	logger    *zap.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// NewEventLog builds an EventLog.
func NewEventLog(opts EventLogOptions) *EventLog {
	if opts.Capacity <= 0 {
		opts.Capacity = DefaultEventCapacity
	}
	if opts.DurableCapacity <= 0 {
		opts.DurableCapacity = DefaultDurableCapacity
	}
	if opts.SessionID == "" {
		opts.SessionID = NewSessionID()
	}
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage()
	}
	if opts.Validator == nil {
		opts.Validator = NewValidator(nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &EventLog{
		events:      make([]*models.Event, 0, min(opts.Capacity, 256)),
		byID:        make(map[string]*models.Event),
		capacity:    opts.Capacity,
		sessionID:   opts.SessionID,
		durableCap:  opts.DurableCapacity,
		storage:     opts.Storage,
		subscribers: make(map[int]func(models.Event)),
		validator:   opts.Validator,
		context:     opts.Context,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		now:         opts.Now,
	}
}

// NewSessionID returns a fresh session identifier.
func NewSessionID() string {
	return "session_" + uuid.NewString()
}

// SessionID returns the session stamped on events that carry none.
func (l *EventLog) SessionID() string {
	return l.sessionID
}

// Capacity returns the in-memory capacity.
func (l *EventLog) Capacity() int {
	return l.capacity
}

// Validator returns the validator used for verdicts.
func (l *EventLog) Validator() *Validator {
	return l.validator
}

// Record stamps and stores an event and returns the stored copy.
// Missing level, category and message get defaults; a verdict is computed
// when the event names a component and an action and carries none.
func (l *EventLog) Record(ev models.Event) *models.Event {
	ev.Normalize()
	if ev.Level == "" {
		ev.Level = models.LevelInfo
	}
	if ev.Category == "" {
		ev.Category = models.CategoryLifecycle
	}
	if ev.Message == "" {
		ev.Message = defaultEventMessage
	}
	if ev.SessionID == "" {
		ev.SessionID = l.sessionID
	}
	if l.context != nil && (ev.URL == "" || ev.UserAgent == "") {
		url, agent := l.context()
		if ev.URL == "" {
			ev.URL = url
		}
		if ev.UserAgent == "" {
			ev.UserAgent = agent
		}
	}
	if ev.Validation == nil && ev.Component != "" && ev.Action != "" {
		verdict := l.validator.ValidateEvent(&ev)
		ev.Validation = &verdict
	}
	if ev.Validation != nil {
		ev.ValidationStatus = ev.Validation.Status
	}
	ev.ID = uuid.NewString()

	stored := &ev
	l.mu.Lock()
	ts := l.now()
	if ts.Before(l.last) {
		ts = l.last
	}
	l.last = ts
	stored.Timestamp = ts
	stored.CreatedAt = ts

	l.events = append(l.events, stored)
	l.byID[stored.ID] = stored
	evicted := 0
	if over := len(l.events) - l.capacity; over > 0 {
		for _, old := range l.events[:over] {
			delete(l.byID, old.ID)
		}
		// Copy into a fresh slice so evicted entries can be collected.
		l.events = append(make([]*models.Event, 0, l.capacity), l.events[over:]...)
		evicted = over
	}
	size := len(l.events)
	out := *stored
	// durableMu is taken before mu is released so the durable queue keeps
	// the buffer's order.
	l.durableMu.Lock()
	l.mu.Unlock()
	l.persist(&out)
	l.durableMu.Unlock()

	l.metrics.EventRecorded(out.Level, out.ValidationStatus)
	l.metrics.EventsEvicted(evicted, size)
	l.publish(out)
	return &out
}

// persist appends ev to the durable queue. The caller holds durableMu.
func (l *EventLog) persist(ev *models.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		l.logger.Warn("event not persisted", zap.String("event_id", ev.ID), zap.Error(err))
		return
	}

	var queue []json.RawMessage
	if raw, ok := l.storage.Get(DurableQueueKey); ok && raw != "" {
		if err := json.Unmarshal([]byte(raw), &queue); err != nil {
			l.logger.Warn("durable event queue corrupt, resetting", zap.Error(err))
			queue = nil
		}
	}
	queue = append(queue, data)
	if over := len(queue) - l.durableCap; over > 0 {
		queue = queue[over:]
	}
	encoded, err := json.Marshal(queue)
	if err != nil {
		l.logger.Warn("durable event queue not encoded", zap.Error(err))
		return
	}
	if err := l.storage.Set(DurableQueueKey, string(encoded)); err != nil {
		l.logger.Warn("durable event queue write failed", zap.Error(err))
	}
}

func (l *EventLog) publish(ev models.Event) {
	l.subMu.RLock()
	defer l.subMu.RUnlock()
	for _, fn := range l.subscribers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					l.logger.Error("event subscriber panicked", zap.Any("panic", r))
				}
			}()
			fn(ev)
		}()
	}
}

// Subscribe registers fn to receive every recorded event. fn runs on the
// recording goroutine and must not block. The returned func unsubscribes.
func (l *EventLog) Subscribe(fn func(models.Event)) func() {
	l.subMu.Lock()
	id := l.nextSub
	l.nextSub++
	l.subscribers[id] = fn
	l.subMu.Unlock()

	return func() {
		l.subMu.Lock()
		delete(l.subscribers, id)
		l.subMu.Unlock()
	}
}

// Snapshot returns the buffered events, oldest first.
func (l *EventLog) Snapshot() []*models.Event {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*models.Event, len(l.events))
	copy(out, l.events)
	return out
}

// Query returns a lazy sequence over a snapshot taken now. The sequence can
// be ranged over any number of times and never sees later records.
func (l *EventLog) Query(filter EventFilter) iter.Seq[*models.Event] {
	snapshot := l.Snapshot()
	return func(yield func(*models.Event) bool) {
		for _, ev := range snapshot {
			if !filter.match(ev) {
				continue
			}
			if !yield(ev) {
				return
			}
		}
	}
}

// Collect gathers a query into a slice, newest first, capped at limit (0 = all).
func (l *EventLog) Collect(filter EventFilter, limit int) []*models.Event {
	var out []*models.Event
	for ev := range l.Query(filter) {
		out = append(out, ev)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns one buffered event by id.
func (l *EventLog) Get(id string) (*models.Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ev, ok := l.byID[id]
	return ev, ok
}

// Len returns the number of buffered events.
func (l *EventLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.events)
}

// Clear drops all buffered events. The durable queue is left alone.
func (l *EventLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = make([]*models.Event, 0, min(l.capacity, 256))
	l.byID = make(map[string]*models.Event)
	l.metrics.EventsEvicted(0, 0)
}

// DurableQueue decodes the persisted queue, oldest first.
func (l *EventLog) DurableQueue() []models.Event {
	l.durableMu.Lock()
	raw, ok := l.storage.Get(DurableQueueKey)
	l.durableMu.Unlock()
	if !ok || raw == "" {
		return nil
	}
	var out []models.Event
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		l.logger.Warn("durable event queue unreadable", zap.Error(err))
		return nil
	}
	return out
}
