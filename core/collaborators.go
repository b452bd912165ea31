package core

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Storage is durable key/value storage. Get on a missing key returns ("", false).
type Storage interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Remove(key string) error
}

// TokenRefresher exchanges a refresh credential for a new access token.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (string, error)
}

// Navigator sends the user somewhere else. Fire and forget.
type Navigator interface {
	RedirectTo(path string)
}

// Notifier shows a message to the user.
type Notifier interface {
	Notify(kind, message string, requiresAction bool)
}

// MemoryStorage is an in-process Storage.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string]string)}
}

func (m *MemoryStorage) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MemoryStorage) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	return nil
}

func (m *MemoryStorage) Remove(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

// Redirect is one recorded navigation.
type Redirect struct {
	Path string    `json:"path"`
	At   time.Time `json:"at"`
}

// RecordingNavigator keeps the redirects it was asked for so the host can
// act on them (or a test can assert on them).
type RecordingNavigator struct {
	mu        sync.Mutex
	redirects []Redirect
	max       int
}

func NewRecordingNavigator(max int) *RecordingNavigator {
	if max <= 0 {
		max = 100
	}
	return &RecordingNavigator{max: max}
}

func (n *RecordingNavigator) RedirectTo(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.redirects) >= n.max {
		n.redirects = n.redirects[1:]
	}
	n.redirects = append(n.redirects, Redirect{Path: path, At: time.Now()})
}

// Redirects returns a copy of the recorded redirects, oldest first.
func (n *RecordingNavigator) Redirects() []Redirect {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Redirect, len(n.redirects))
	copy(out, n.redirects)
	return out
}

// Last returns the most recent redirect path.
func (n *RecordingNavigator) Last() (string, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.redirects) == 0 {
		return "", false
	}
	return n.redirects[len(n.redirects)-1].Path, true
}

// Notification is one recorded user notification.
type Notification struct {
	Kind           string    `json:"kind"`
	Message        string    `json:"message"`
	RequiresAction bool      `json:"requiresAction"`
	At             time.Time `json:"at"`
}

// LogNotifier writes notifications to the logger and keeps the latest ones.
type LogNotifier struct {
	logger *zap.Logger
	mu     sync.Mutex
	items  []Notification
	max    int
}

func NewLogNotifier(logger *zap.Logger, max int) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if max <= 0 {
		max = 100
	}
	return &LogNotifier{logger: logger, max: max}
}

func (n *LogNotifier) Notify(kind, message string, requiresAction bool) {
	n.logger.Warn("user notification",
		zap.String("kind", kind),
		zap.String("message", message),
		zap.Bool("requires_action", requiresAction))

	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.items) >= n.max {
		n.items = n.items[1:]
	}
	n.items = append(n.items, Notification{Kind: kind, Message: message, RequiresAction: requiresAction, At: time.Now()})
}

// Notifications returns a copy of the recorded notifications.
func (n *LogNotifier) Notifications() []Notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]Notification, len(n.items))
	copy(out, n.items)
	return out
}
