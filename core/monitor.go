package core

import (
	"fmt"
	"runtime"
	"strings"
	"sync"
	"time"

	"cosmicwatch/metrics"
	"cosmicwatch/models"
	"cosmicwatch/state"

	"go.uber.org/zap"
)

// Component and action names used for host-level errors.
const (
	GlobalComponent          = "Global"
	ActionUncaughtError      = "uncaught_error"
	ActionUnhandledRejection = "unhandled_rejection"
)

// UncaughtHandler observes errors that reached the host without being handled.
type UncaughtHandler func(err error, info map[string]any)

// Monitor tracks component lifecycle, interactions and errors into an EventLog.
type Monitor struct {
	log        *EventLog
	components *state.Components
	logger     *zap.Logger
	metrics    *metrics.Metrics
	now        func() time.Time

	mu       sync.RWMutex
	handlers []UncaughtHandler
}

func NewMonitor(log *EventLog, components *state.Components, logger *zap.Logger, m *metrics.Metrics) *Monitor {
	if components == nil {
		components = state.NewComponents()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		log:        log,
		components: components,
		logger:     logger,
		metrics:    m,
		now:        time.Now,
	}
}

// Log returns the underlying EventLog.
func (m *Monitor) Log() *EventLog {
	return m.log
}

// Components returns the component registry.
func (m *Monitor) Components() *state.Components {
	return m.components
}

// Record stores an arbitrary event.
func (m *Monitor) Record(ev models.Event) *models.Event {
	return m.log.Record(ev)
}

// TrackMount marks a component as mounted.
func (m *Monitor) TrackMount(component string, props map[string]any) *models.Event {
	return m.trackMount(component, props, map[string]any{})
}

// TrackMountDuration records a mount together with how long rendering took,
// so the mount timeout in the expectation table is checked.
func (m *Monitor) TrackMountDuration(component string, props map[string]any, renderMS float64) *models.Event {
	return m.trackMount(component, props, map[string]any{"duration": renderMS})
}

func (m *Monitor) trackMount(component string, props, fields map[string]any) *models.Event {
	m.components.Mount(component, props, m.now())
	m.metrics.ComponentsMounted(m.components.Len())

	if len(props) > 0 {
		fields["props"] = props
	}
	return m.log.Record(models.Event{
		Level:      models.LevelInfo,
		Category:   models.CategoryLifecycle,
		Component:  component,
		Action:     "mount",
		ActionType: "lifecycle",
		Message:    component + " mounted",
		Fields:     fields,
	})
}

// TrackUnmount removes the component state and records its lifetime counters.
func (m *Monitor) TrackUnmount(component string) *models.Event {
	st, ok := m.components.Unmount(component)
	m.metrics.ComponentsMounted(m.components.Len())

	duration := 0.0
	if ok {
		duration = float64(m.now().Sub(st.MountedAt)) / float64(time.Millisecond)
	}
	return m.log.Record(models.Event{
		Level:      models.LevelInfo,
		Category:   models.CategoryLifecycle,
		Component:  component,
		Action:     "unmount",
		ActionType: "lifecycle",
		Message:    component + " unmounted",
		Fields: map[string]any{
			"duration":     duration,
			"interactions": st.Interactions,
			"errors":       st.Errors,
		},
	})
}

// TrackInteraction records a user interaction. details may override actionType.
func (m *Monitor) TrackInteraction(component, action string, details map[string]any) *models.Event {
	m.components.IncInteractions(component)

	ev := models.Event{
		Level:      models.LevelInfo,
		Category:   models.CategoryInteraction,
		Component:  component,
		Action:     action,
		ActionType: "interaction",
		Message:    "User interaction: " + action,
		Fields:     map[string]any{},
	}
	for k, v := range details {
		if k == "actionType" {
			if s, ok := v.(string); ok {
				ev.ActionType = s
				continue
			}
		}
		ev.Fields[k] = v
	}
	return m.log.Record(ev)
}

// APICall is an in-flight API call started by TrackAPICall.
type APICall struct {
	m         *Monitor
	endpoint  string
	method    string
	component string
	start     time.Time
	once      sync.Once
}

// TrackAPICall starts timing an API call. Exactly one of Success or Fail
// should be called; later calls are ignored.
func (m *Monitor) TrackAPICall(endpoint, method, component string) *APICall {
	return &APICall{m: m, endpoint: endpoint, method: method, component: component, start: m.now()}
}

func (c *APICall) elapsedMS() float64 {
	return float64(c.m.now().Sub(c.start)) / float64(time.Millisecond)
}

// Success records a completed call. A zero status is recorded as 200.
func (c *APICall) Success(status int) *models.Event {
	var out *models.Event
	c.once.Do(func() {
		if status == 0 {
			status = 200
		}
		out = c.m.log.Record(models.Event{
			Level:      models.LevelInfo,
			Category:   models.CategoryAPI,
			Component:  c.component,
			Action:     "api_call",
			ActionType: "api_call",
			Message:    fmt.Sprintf("API call successful: %s %s", c.method, c.endpoint),
			Fields: map[string]any{
				"endpoint": c.endpoint,
				"method":   c.method,
				"status":   status,
				"duration": c.elapsedMS(),
				"result":   "success",
			},
		})
	})
	return out
}

// Fail records a failed call.
func (c *APICall) Fail(err error) *models.Event {
	var out *models.Event
	c.once.Do(func() {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		fields := map[string]any{
			"endpoint": c.endpoint,
			"method":   c.method,
			"status":   StatusOf(err),
			"duration": c.elapsedMS(),
			"error":    msg,
			"result":   "error",
		}
		if stack := stackOf(err, 3); stack != "" {
			fields["stack"] = stack
		}
		out = c.m.log.Record(models.Event{
			Level:      models.LevelError,
			Category:   models.CategoryAPI,
			Component:  c.component,
			Action:     "api_call",
			ActionType: "api_call",
			Message:    fmt.Sprintf("API call failed: %s %s", c.method, c.endpoint),
			Fields:     fields,
		})
	})
	return out
}

// TrackError records an error against a component. extra is merged into
// the event fields.
func (m *Monitor) TrackError(err error, component, action string, extra map[string]any) *models.Event {
	m.components.IncErrors(component)

	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	fields := map[string]any{"error": msg}
	if stack := stackOf(err, 3); stack != "" {
		fields["stack"] = stack
	}
	for k, v := range extra {
		fields[k] = v
	}
	return m.log.Record(models.Event{
		Level:      models.LevelError,
		Category:   models.CategoryError,
		Component:  component,
		Action:     action,
		ActionType: "error",
		Message:    fmt.Sprintf("Error in %s: %s", component, msg),
		Fields:     fields,
	})
}

// TrackStateChange records a state transition at debug level.
func (m *Monitor) TrackStateChange(component, stateName string, oldValue, newValue any) *models.Event {
	return m.log.Record(models.Event{
		Level:      models.LevelDebug,
		Category:   models.CategoryState,
		Component:  component,
		Action:     "state_change",
		ActionType: "state_change",
		Message:    "State changed: " + stateName,
		Fields: map[string]any{
			"stateName": stateName,
			"oldValue":  oldValue,
			"newValue":  newValue,
		},
	})
}

// TrackPerformance records a metric; exceeding a positive threshold is a warning.
func (m *Monitor) TrackPerformance(component, metric string, value, threshold float64) *models.Event {
	verdict := models.Verdict{Status: models.VerdictOK, Message: "Within acceptable range"}
	level := models.LevelInfo
	if threshold > 0 && value > threshold {
		verdict = models.Verdict{
			Status:  models.VerdictWarning,
			Message: fmt.Sprintf("Exceeded threshold of %gms", threshold),
		}
		level = models.LevelWarn
	}
	return m.log.Record(models.Event{
		Level:      level,
		Category:   models.CategoryPerformance,
		Component:  component,
		Action:     metric,
		ActionType: "performance",
		Message:    fmt.Sprintf("Performance metric: %s = %gms", metric, value),
		Fields:     map[string]any{"value": value, "threshold": threshold},
		Validation: &verdict,
	})
}

// TrackNavigation records a route change.
func (m *Monitor) TrackNavigation(from, to, component string) *models.Event {
	return m.log.Record(models.Event{
		Level:      models.LevelInfo,
		Category:   models.CategoryNavigation,
		Component:  component,
		Action:     "navigate",
		ActionType: "navigate",
		Message:    fmt.Sprintf("Navigation: %s -> %s", from, to),
		Fields:     map[string]any{"from": from, "to": to},
	})
}

// TrackStorage records a storage operation.
func (m *Monitor) TrackStorage(operation, key, component string, success bool) *models.Event {
	level, result := models.LevelInfo, "success"
	if !success {
		level, result = models.LevelError, "failed"
	}
	return m.log.Record(models.Event{
		Level:      level,
		Category:   models.CategoryStorage,
		Component:  component,
		Action:     "storage",
		ActionType: "storage",
		Message:    fmt.Sprintf("Storage %s: %s - %s", operation, key, result),
		Fields:     map[string]any{"operation": operation, "key": key, "success": success},
	})
}

// OnUncaughtError registers a handler called for every ReportUncaught.
func (m *Monitor) OnUncaughtError(h UncaughtHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, h)
}

// ReportUncaught is invoked by the host for errors nobody handled.
func (m *Monitor) ReportUncaught(err error, info map[string]any) *models.Event {
	return m.reportHost(err, ActionUncaughtError, info)
}

// ReportRejection is invoked by the host for failures of detached work.
func (m *Monitor) ReportRejection(reason any) *models.Event {
	err, ok := reason.(error)
	if !ok {
		err = fmt.Errorf("%v", reason)
	}
	return m.reportHost(err, ActionUnhandledRejection, nil)
}

func (m *Monitor) reportHost(err error, action string, info map[string]any) *models.Event {
	m.metrics.UncaughtError()
	ev := m.TrackError(err, GlobalComponent, action, info)

	m.mu.RLock()
	handlers := append([]UncaughtHandler(nil), m.handlers...)
	m.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					m.logger.Error("uncaught-error handler panicked", zap.Any("panic", r))
				}
			}()
			h(err, info)
		}()
	}
	return ev
}

// stackOf returns the client-supplied stack of a ReportedError, or the
// caller's stack when err carries none.
func stackOf(err error, skip int) string {
	if re, ok := err.(*ReportedError); ok && re.Stack != "" {
		return re.Stack
	}
	if err == nil {
		return ""
	}
	return captureStack(skip)
}

func captureStack(skip int) string {
	const maxDepth = 10
	var b strings.Builder
	for i := skip; i < skip+maxDepth; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		funcName := "unknown"
		if fn := runtime.FuncForPC(pc); fn != nil {
			funcName = fn.Name()
		}
		fmt.Fprintf(&b, "%s:%d %s\n", file, line, funcName)
	}
	return b.String()
}
