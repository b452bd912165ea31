package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"cosmicwatch/core"
	"cosmicwatch/database"
	"cosmicwatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestLogService(t *testing.T) *LogService {
	t.Helper()
	path := filepath.Join(t.TempDir(), "logs.db")
	db, err := database.OpenPath(path, database.SQLiteOptions{PragmasEnabled: true, BusyTimeoutMS: 1000}, "INFO", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	svc := NewLogService(db, nil, nil)
	svc.now = func() time.Time { return base.Add(time.Hour) }
	return svc
}

func ev(id, component, level, category string, at time.Duration, fields map[string]any) models.Event {
	return models.Event{
		ID:        id,
		Timestamp: base.Add(at),
		Level:     level,
		Category:  category,
		Component: component,
		Message:   id,
		Fields:    fields,
	}
}

func seed(t *testing.T, svc *LogService, sessionID string, events ...models.Event) {
	t.Helper()
	_, err := svc.StoreBatch(models.LogBatch{SessionID: sessionID, Logs: events})
	require.NoError(t, err)
}

func TestStoreBatch_SkipsDuplicates(t *testing.T) {
	svc := newTestLogService(t)

	n, err := svc.StoreBatch(models.LogBatch{SessionID: "s1", Logs: []models.Event{
		ev("a", "Header", "info", "lifecycle", 0, nil),
		ev("b", "Header", "info", "lifecycle", time.Second, nil),
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = svc.StoreBatch(models.LogBatch{SessionID: "s1", Logs: []models.Event{
		ev("b", "Header", "info", "lifecycle", time.Second, nil),
		ev("c", "Header", "info", "lifecycle", 2*time.Second, nil),
	}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	page, err := svc.Query(LogFilter{}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Pagination.Total)
}

func TestStoreBatch_Validation(t *testing.T) {
	svc := newTestLogService(t)

	_, err := svc.StoreBatch(models.LogBatch{SessionID: "", Logs: []models.Event{}})
	assert.ErrorIs(t, err, ErrInvalidBatch)
	_, err = svc.StoreBatch(models.LogBatch{SessionID: "s1"})
	assert.ErrorIs(t, err, ErrInvalidBatch)

	n, err := svc.StoreBatch(models.LogBatch{SessionID: "s1", Logs: []models.Event{{Message: ""}}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	page, err := svc.Query(LogFilter{SessionID: "s1"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	got := page.Logs[0]
	assert.NotEmpty(t, got.ID)
	assert.Equal(t, models.LevelInfo, got.Level)
	assert.Equal(t, models.CategoryLifecycle, got.Category)
	assert.Equal(t, "(no message)", got.Message)
}

func TestQuery_FiltersAndPagination(t *testing.T) {
	svc := newTestLogService(t)
	errVerdict := &models.Verdict{Status: models.VerdictError, Message: "bad"}
	e1 := ev("e1", "Cart", "error", "api", 0, nil)
	e1.Validation = errVerdict
	seed(t, svc, "s1",
		e1,
		ev("e2", "Cart", "info", "interaction", time.Minute, nil),
		ev("e3", "Header", "warn", "performance", 2*time.Minute, nil),
	)
	seed(t, svc, "s2", ev("e4", "Cart", "info", "interaction", 3*time.Minute, nil))

	page, err := svc.Query(LogFilter{Component: "Cart"}, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Pagination.Total)
	assert.Equal(t, 2, page.Pagination.Pages)
	require.Len(t, page.Logs, 2)
	assert.Equal(t, "e4", page.Logs[0].ID)
	assert.Equal(t, "e2", page.Logs[1].ID)

	page, err = svc.Query(LogFilter{Component: "Cart"}, 2, 2)
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, "e1", page.Logs[0].ID)
	require.NotNil(t, page.Logs[0].Validation)
	assert.Equal(t, models.VerdictError, page.Logs[0].Validation.Status)

	page, err = svc.Query(LogFilter{ValidationStatus: models.VerdictError}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Pagination.Total)

	page, err = svc.Query(LogFilter{SessionID: "s1", Level: "WARN"}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, "e3", page.Logs[0].ID)

	page, err = svc.Query(LogFilter{StartDate: base.Add(90 * time.Second), EndDate: base.Add(150 * time.Second)}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, "e3", page.Logs[0].ID)
}

func TestComponentAndApplicationHealth(t *testing.T) {
	svc := newTestLogService(t)
	bad := ev("c1", "Checkout", "error", "api", 0, map[string]any{"duration": 300.0})
	bad.Validation = &models.Verdict{Status: models.VerdictError}
	seed(t, svc, "s1",
		bad,
		ev("c2", "Checkout", "warn", "api", time.Second, map[string]any{"duration": 100.0}),
		ev("h1", "Header", "info", "lifecycle", 2*time.Second, nil),
	)

	health, err := svc.ComponentHealth("", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, health, 2)
	assert.Equal(t, "Checkout", health[0].Component)
	assert.Equal(t, 82.0, health[0].HealthScore)
	assert.Equal(t, core.StatusHealthy, health[0].Status)
	assert.Equal(t, 200.0, health[0].AvgDuration)
	assert.Equal(t, 1, health[0].ValidationFailures)
	assert.Equal(t, 100.0, health[1].HealthScore)

	app, err := svc.ApplicationHealth(time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 82.0, app.OverallHealth)
	assert.Equal(t, 2, app.TotalComponents)
	assert.Equal(t, 3, app.TotalEvents)
	assert.Equal(t, int64(200), app.AvgResponseTime)
	require.Len(t, app.RecentErrors, 1)
	assert.Equal(t, "c1", app.RecentErrors[0].ID)
}

func TestErrorAnalytics(t *testing.T) {
	svc := newTestLogService(t)
	seed(t, svc, "s1",
		ev("x1", "Cart", "error", "api", 0, map[string]any{"error": "timeout"}),
		ev("x2", "Cart", "error", "api", time.Minute, map[string]any{"error": "timeout"}),
		ev("x3", "Cart", "error", "error", 30*time.Minute, map[string]any{"error": "boom"}),
		ev("x4", "Header", "error", "error", 70*time.Minute-time.Second, nil),
		ev("x5", "Header", "info", "error", 0, nil),
		ev("old", "Header", "error", "error", -48*time.Hour, nil),
	)

	a, err := svc.ErrorAnalytics(base.Add(-time.Hour), time.Time{})
	require.NoError(t, err)
	require.Len(t, a.ErrorsByComponent, 2)
	assert.Equal(t, "Cart", a.ErrorsByComponent[0].Component)
	assert.Equal(t, 3, a.ErrorsByComponent[0].Count)
	assert.ElementsMatch(t, []string{"timeout", "boom"}, a.ErrorsByComponent[0].UniqueErrors)
	assert.Equal(t, []CategoryCount{{Category: "api", Count: 2}, {Category: "error", Count: 2}}, a.ErrorsByType)
	assert.Equal(t, []HourCount{{Hour: "2026-03-01 12:00", Count: 3}, {Hour: "2026-03-01 13:00", Count: 1}}, a.ErrorTimeline)
}

func TestPerformance(t *testing.T) {
	svc := newTestLogService(t)
	var events []models.Event
	for i := 1; i <= 20; i++ {
		e := ev("p"+string(rune('a'+i)), "List", "info", "performance", time.Duration(i)*time.Second, map[string]any{"duration": float64(i * 10)})
		e.Action = "render"
		events = append(events, e)
	}
	slow := ev("q1", "Chart", "info", "api", 0, map[string]any{"duration": 500.0})
	slow.Action = "load"
	events = append(events, slow, ev("nodur", "Chart", "info", "api", 0, nil))
	seed(t, svc, "s1", events...)

	stats, err := svc.Performance("", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 2)
	assert.Equal(t, "Chart", stats[0].Name)
	assert.Equal(t, 1, stats[0].Count)
	assert.Equal(t, PerformanceStat{Name: "List", AvgDuration: 105, MinDuration: 10, MaxDuration: 200, P95Duration: 190, Count: 20}, stats[1])

	stats, err = svc.Performance("Chart", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "load", stats[0].Name)
}

func TestJourney(t *testing.T) {
	svc := newTestLogService(t)
	seed(t, svc, "s1",
		ev("j2", "Router", "info", "navigation", 2*time.Second, map[string]any{"from": "/", "to": "/shop"}),
		ev("j1", "Home", "info", "lifecycle", 0, nil),
		ev("j3", "Shop", "error", "api", 5*time.Second, nil),
		ev("j4", "Router", "info", "navigation", 6*time.Second, map[string]any{"from": "/shop", "to": "/"}),
	)

	j, err := svc.Journey("s1")
	require.NoError(t, err)
	require.Len(t, j.Journey, 4)
	assert.Equal(t, "j1", j.Journey[0].ID)
	assert.Equal(t, int64(6000), j.Summary.DurationMS)
	assert.Equal(t, []string{"Home", "Router", "Shop"}, j.Summary.Components)
	assert.Equal(t, []string{"/shop", "/"}, j.Summary.Pages)
	assert.Equal(t, 1, j.Summary.Errors)

	empty, err := svc.Journey("nobody")
	require.NoError(t, err)
	assert.Zero(t, empty.Summary.TotalEvents)

	_, err = svc.Journey(" ")
	assert.Error(t, err)
}

func TestCleanup(t *testing.T) {
	svc := newTestLogService(t)
	seed(t, svc, "s1",
		ev("old", "A", "info", "lifecycle", -40*24*time.Hour, nil),
		ev("mid", "A", "info", "lifecycle", -10*24*time.Hour, nil),
		ev("new", "A", "info", "lifecycle", 0, nil),
	)

	n, err := svc.Cleanup(0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = svc.Cleanup(7)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	page, err := svc.Query(LogFilter{}, 1, 10)
	require.NoError(t, err)
	require.Len(t, page.Logs, 1)
	assert.Equal(t, "new", page.Logs[0].ID)
}

func TestPercentile(t *testing.T) {
	assert.Equal(t, 0.0, percentile(nil, 0.95))
	assert.Equal(t, 7.0, percentile([]float64{7}, 0.95))
	assert.Equal(t, 19.0, percentile([]float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19, 20}, 0.95))
}

func TestRuntimeService(t *testing.T) {
	rt := core.NewRuntime(core.RuntimeOptions{})
	defer rt.Close()
	svc := NewRuntimeService(rt)

	rt.Monitor.TrackMount("Cart", nil)
	rt.Monitor.TrackError(assert.AnError, "Cart", "load", nil)

	h := svc.ComponentHealth(" Cart ")
	assert.Equal(t, 90.0, h.HealthScore)
	assert.Equal(t, 90.0, svc.Health().OverallHealth)
	assert.Len(t, svc.Events(core.EventFilter{Component: "Cart"}, 0), 2)

	c := svc.Classify("Failed to fetch", 0)
	assert.Equal(t, core.NetworkError, c.Category)
	assert.True(t, c.HasStrategy)
	assert.NotEmpty(t, c.Strategy)

	c = svc.Classify("weird", 0)
	assert.Equal(t, core.UnknownError, c.Category)
	assert.False(t, c.HasStrategy)

	res := svc.Correct(context.Background(), assert.AnError, "Cart", "load", core.CorrectionContext{})
	assert.False(t, res.Success)
	assert.Empty(t, svc.Corrections())
	assert.Zero(t, svc.CorrectionStats().Total)
}

var errLocked = errors.New("database is locked (5) (SQLITE_BUSY)")

// lockedStore fails the first `locked` calls with a busy error, then
// delegates to next.
type lockedStore struct {
	locked int
	calls  int
	next   BatchStore
}

func (s *lockedStore) StoreBatch(batch models.LogBatch) (int, error) {
	s.calls++
	if s.calls <= s.locked {
		return 0, errLocked
	}
	return s.next.StoreBatch(batch)
}

func newIngestServices(t *testing.T, store *lockedStore) (*Services, *[]time.Duration) {
	t.Helper()
	logs := newTestLogService(t)
	if store.next == nil {
		store.next = logs
	}
	var delays []time.Duration
	rt := core.NewRuntime(core.RuntimeOptions{
		Strategy: core.StrategyConfig{MaxRetries: 3, BaseDelay: 10 * time.Millisecond},
		Sleep: func(_ context.Context, d time.Duration) error {
			delays = append(delays, d)
			return nil
		},
	})
	t.Cleanup(rt.Close)
	return &Services{Logs: logs, Runtime: NewRuntimeService(rt), Batches: store}, &delays
}

func TestIngestLogs_ContentionExhaustsRetries(t *testing.T) {
	store := &lockedStore{locked: 100}
	svc, delays := newIngestServices(t, store)

	_, err := svc.IngestLogs(context.Background(), models.LogBatch{SessionID: "s1", Logs: []models.Event{
		ev("a", "Header", "info", "lifecycle", 0, nil),
	}})
	require.Error(t, err)
	assert.True(t, database.IsContention(err))
	assert.Equal(t, 4, store.calls)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond, 40 * time.Millisecond}, *delays)

	history := svc.Runtime.Corrections()
	require.Len(t, history, 3)
	for i, rec := range history {
		assert.Equal(t, string(core.NetworkError), rec.ErrorType)
		assert.Equal(t, IngestComponent, rec.Component)
		assert.Equal(t, i+1, rec.Attempt)
		assert.False(t, rec.Success)
	}
	assert.Equal(t, models.OutcomeFailed, history[0].Outcome)
	assert.Equal(t, models.OutcomeFailed, history[1].Outcome)
	assert.Equal(t, models.OutcomeExhausted, history[2].Outcome)
}

func TestIngestLogs_RecoversAfterRetry(t *testing.T) {
	store := &lockedStore{locked: 2}
	svc, _ := newIngestServices(t, store)

	n, err := svc.IngestLogs(context.Background(), models.LogBatch{SessionID: "s1", Logs: []models.Event{
		ev("a", "Header", "info", "lifecycle", 0, nil),
		ev("b", "Header", "error", "error", time.Second, nil),
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 3, store.calls)

	history := svc.Runtime.Corrections()
	require.Len(t, history, 2)
	assert.Equal(t, models.OutcomeFailed, history[0].Outcome)
	assert.True(t, history[1].Success)
	assert.Equal(t, models.OutcomeSucceeded, history[1].Outcome)

	page, err := svc.Logs.Query(LogFilter{SessionID: "s1"}, 1, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), page.Pagination.Total)
}

func TestIngestLogs_OtherErrorsAreNotRetried(t *testing.T) {
	store := &lockedStore{}
	svc, delays := newIngestServices(t, store)

	_, err := svc.IngestLogs(context.Background(), models.LogBatch{SessionID: "", Logs: []models.Event{}})
	assert.ErrorIs(t, err, ErrInvalidBatch)
	assert.Equal(t, 1, store.calls)
	assert.Empty(t, *delays)
	assert.Empty(t, svc.Runtime.Corrections())
}
