package core

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cosmicwatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	token string
	err   error
	calls int
	got   string
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (string, error) {
	f.calls++
	f.got = refreshToken
	return f.token, f.err
}

type harness struct {
	runtime   *Runtime
	sleeper   *fakeSleeper
	storage   *MemoryStorage
	navigator *RecordingNavigator
	notifier  *LogNotifier
}

func newHarness(t *testing.T, refresher TokenRefresher) *harness {
	t.Helper()
	h := &harness{
		sleeper:   &fakeSleeper{},
		storage:   NewMemoryStorage(),
		navigator: NewRecordingNavigator(0),
		notifier:  NewLogNotifier(nil, 0),
	}
	h.runtime = NewRuntime(RuntimeOptions{
		Storage:   h.storage,
		Navigator: h.navigator,
		Notifier:  h.notifier,
		Refresher: refresher,
		Sleep:     h.sleeper.Sleep,
	})
	return h
}

func (h *harness) correct(err error, component, action string, cc CorrectionContext) CorrectionResult {
	return h.runtime.Correct(context.Background(), err, component, action, cc)
}

func (h *harness) countCategory(category string) int {
	n := 0
	for range h.runtime.Log.Query(EventFilter{Category: category}) {
		n++
	}
	return n
}

func successes(records []models.CorrectionRecord) []bool {
	out := make([]bool, len(records))
	for i, r := range records {
		out[i] = r.Success
	}
	return out
}

func failingTimes(n int, result any) (func(context.Context) (any, error), *int) {
	calls := 0
	return func(context.Context) (any, error) {
		calls++
		if calls <= n {
			return nil, errors.New("network still down")
		}
		return result, nil
	}, &calls
}

func TestNetwork_FailsTwiceThenSucceeds(t *testing.T) {
	h := newHarness(t, nil)
	retry, calls := failingTimes(2, "payload")

	res := h.correct(errors.New("Network request failed"), "Dashboard", "load", CorrectionContext{Retry: retry})

	require.True(t, res.Success)
	assert.Equal(t, "payload", res.Result)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, *calls)
	assert.Equal(t, models.OutcomeSucceeded, res.Outcome)

	history := h.runtime.Orchestrator.History()
	require.Len(t, history, 3)
	assert.Equal(t, []bool{false, false, true}, successes(history))
	assert.Equal(t, []int{1, 2, 3}, []int{history[0].Attempt, history[1].Attempt, history[2].Attempt})
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, h.sleeper.Delays())
}

func TestNetwork_AlwaysFailingExhausts(t *testing.T) {
	h := newHarness(t, nil)
	retry, calls := failingTimes(100, nil)

	res := h.correct(errors.New("fetch failed"), "Journal", "entry.create", CorrectionContext{Retry: retry})

	require.False(t, res.Success)
	assert.Equal(t, models.OutcomeExhausted, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrRetriesExhausted)
	assert.Contains(t, res.Error, "max retries exceeded")
	assert.Equal(t, 3, *calls)

	history := h.runtime.Orchestrator.History()
	require.Len(t, history, 3)
	assert.Equal(t, []bool{false, false, false}, successes(history))
	assert.Equal(t, models.OutcomeExhausted, history[2].Outcome)

	attempts := 0
	for ev := range h.runtime.Log.Query(EventFilter{Category: models.CategoryCorrection}) {
		if ev.Action == "attempt" {
			attempts++
		}
	}
	assert.Equal(t, 3, attempts)
}

func TestEndToEnd_PaymentModalNetworkRecovery(t *testing.T) {
	h := newHarness(t, nil)
	retry, _ := failingTimes(1, map[string]any{"status": "paid"})

	res := h.correct(errors.New("Network request failed"), "PaymentModal", "submit", CorrectionContext{Retry: retry})

	require.True(t, res.Success)
	assert.Equal(t, 2, h.countCategory(models.CategoryError))
	history := h.runtime.Orchestrator.History()
	require.Len(t, history, 2)
	assert.Equal(t, "PaymentModal", history[0].Component)
	assert.Equal(t, "submit", history[0].Action)
	assert.Equal(t, string(NetworkError), history[0].ErrorType)
}

func TestEndToEnd_UnauthorizedWithoutRefreshToken(t *testing.T) {
	h := newHarness(t, &fakeRefresher{token: "never"})

	res := h.correct(NewReportedError("401 unauthorized", 401), "Dashboard", "load", CorrectionContext{})

	require.False(t, res.Success)
	assert.Equal(t, TokenExpired, res.Category)
	assert.ErrorIs(t, res.Err, ErrRefreshUnavailable)
	path, ok := h.navigator.Last()
	require.True(t, ok)
	assert.Equal(t, "/login", path)
	assert.Len(t, h.runtime.Orchestrator.History(), 1)
}

func TestToken_RefreshAndRetry(t *testing.T) {
	refresher := &fakeRefresher{token: "new-access"}
	h := newHarness(t, refresher)
	require.NoError(t, h.storage.Set(RefreshTokenKey, "rt-123"))

	var seenToken string
	res := h.correct(errors.New("token expired"), "AIChatInterface", "message.send", CorrectionContext{
		Retry: func(context.Context) (any, error) {
			seenToken, _ = h.storage.Get(AccessTokenKey)
			return "sent", nil
		},
	})

	require.True(t, res.Success)
	assert.Equal(t, "sent", res.Result)
	assert.Equal(t, "new-access", seenToken)
	assert.Equal(t, "rt-123", refresher.got)
	assert.Empty(t, h.navigator.Redirects())
}

func TestToken_RefreshFailureRedirects(t *testing.T) {
	h := newHarness(t, &fakeRefresher{err: errors.New("401")})
	require.NoError(t, h.storage.Set(RefreshTokenKey, "stale"))

	res := h.correct(errors.New("unauthorized"), "MyProfile", "profile.save", CorrectionContext{
		Retry: func(context.Context) (any, error) { return nil, nil },
	})

	require.False(t, res.Success)
	path, _ := h.navigator.Last()
	assert.Equal(t, "/login", path)
}

func TestStorage_EvictsAndRetriesOnce(t *testing.T) {
	h := newHarness(t, nil)
	require.NoError(t, h.storage.Set("oldChatHistory", "[...]"))
	require.NoError(t, h.storage.Set("tempData", "x"))
	require.NoError(t, h.storage.Set("userQuestionnaire", "{}"))

	retry, calls := failingTimes(0, "saved")
	res := h.correct(errors.New("QuotaExceededError"), "Journal", "entry.create", CorrectionContext{Retry: retry})

	require.True(t, res.Success)
	assert.Equal(t, 1, *calls)
	_, ok := h.storage.Get("oldChatHistory")
	assert.False(t, ok)
	_, ok = h.storage.Get("tempData")
	assert.False(t, ok)
	_, ok = h.storage.Get("userQuestionnaire")
	assert.True(t, ok)
}

func TestStorage_RetryFailureIsTerminal(t *testing.T) {
	h := newHarness(t, nil)
	retry, calls := failingTimes(5, nil)

	res := h.correct(errors.New("storage full"), "GoalTracker", "goal.create", CorrectionContext{Retry: retry})

	require.False(t, res.Success)
	assert.Equal(t, 1, *calls)
	assert.Len(t, h.runtime.Orchestrator.History(), 1)
}

func TestMissingUserData(t *testing.T) {
	h := newHarness(t, nil)

	res := h.correct(errors.New("userData is undefined"), "Dashboard", "mount", CorrectionContext{})
	require.False(t, res.Success)
	path, _ := h.navigator.Last()
	assert.Equal(t, "/questionnaire", path)

	require.NoError(t, h.storage.Set(QuestionnaireKey, `{"sign":"Leo"}`))
	res = h.correct(errors.New("userData is undefined"), "Dashboard", "mount", CorrectionContext{})
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"sign": "Leo"}, res.Result)
	assert.Len(t, h.navigator.Redirects(), 1)
}

func TestInvalidJSON_ReturnsDefault(t *testing.T) {
	h := newHarness(t, nil)
	def := map[string]any{"entries": []any{}}

	res := h.correct(errors.New("SyntaxError: bad JSON input"), "Journal", "mount", CorrectionContext{DefaultValue: def, Key: "journalEntries"})

	require.True(t, res.Success)
	assert.Equal(t, def, res.Result)
}

func TestComponentMount_NotifiesWhenCritical(t *testing.T) {
	h := newHarness(t, nil)

	res := h.correct(errors.New("component exploded"), "AdminDashboard", "mount", CorrectionContext{Critical: true})
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrComponentMount)
	require.Len(t, h.notifier.Notifications(), 1)
	assert.True(t, h.notifier.Notifications()[0].RequiresAction)

	res = h.correct(errors.New("render failed"), "Journal", "mount", CorrectionContext{})
	require.False(t, res.Success)
	assert.Len(t, h.notifier.Notifications(), 1)
	assert.Empty(t, h.navigator.Redirects())
}

func TestRateLimit_WaitsRetryAfter(t *testing.T) {
	h := newHarness(t, nil)
	err := &ReportedError{Message: "slow down", Status: 429, RetryAfter: 1500}
	retry, calls := failingTimes(0, "ok")

	res := h.correct(err, "AIChatInterface", "message.send", CorrectionContext{Retry: retry})
	require.True(t, res.Success)
	assert.Equal(t, 1, *calls)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, h.sleeper.Delays())

	retry, _ = failingTimes(1, nil)
	res = h.correct(errors.New("rate limit reached"), "AIChatInterface", "message.send", CorrectionContext{Retry: retry})
	require.False(t, res.Success)
	assert.Equal(t, 5*time.Second, h.sleeper.Delays()[1])
}

func TestRetryFunctionMissing(t *testing.T) {
	h := newHarness(t, nil)

	res := h.correct(errors.New("network down"), "Dashboard", "load", CorrectionContext{})
	require.False(t, res.Success)
	assert.ErrorIs(t, res.Err, ErrNoRetryFunc)
	assert.Empty(t, h.sleeper.Delays())

	res = h.correct(rateLimitedError("rate limit", 60000), "Dashboard", "load", CorrectionContext{})
	assert.ErrorIs(t, res.Err, ErrNoRetryFunc)
	assert.Equal(t, models.OutcomeFailed, res.Outcome)
	assert.Empty(t, h.sleeper.Delays(), "rate limit strategy must not wait without a retry func")
}

func rateLimitedError(msg string, retryAfterMS int) *ReportedError {
	return &ReportedError{Message: msg, Status: 429, RetryAfter: retryAfterMS}
}

func TestUnknownErrorHasNoStrategy(t *testing.T) {
	h := newHarness(t, nil)

	res := h.correct(errors.New("the moon is in retrograde"), "Dashboard", "load", CorrectionContext{})

	require.False(t, res.Success)
	assert.Equal(t, "No correction strategy available", res.Error)
	assert.ErrorIs(t, res.Err, ErrNoStrategy)
	assert.Equal(t, UnknownError, res.Category)
	assert.Empty(t, h.runtime.Orchestrator.History())
	assert.Equal(t, 1, h.countCategory(models.CategoryError))
}

func TestStrategyPanicBecomesResult(t *testing.T) {
	h := newHarness(t, nil)

	var res CorrectionResult
	require.NotPanics(t, func() {
		res = h.correct(errors.New("network down"), "Dashboard", "load", CorrectionContext{
			Retry: func(context.Context) (any, error) { panic("retry blew up") },
		})
	})

	require.False(t, res.Success)
	assert.Equal(t, models.OutcomeFatal, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrCorrectionPanicked)
	history := h.runtime.Orchestrator.History()
	require.Len(t, history, 1)
	assert.Equal(t, models.OutcomeFatal, history[0].Outcome)
}

func TestBackoffHonoursCancellation(t *testing.T) {
	rt := NewRuntime(RuntimeOptions{Strategy: StrategyConfig{BaseDelay: time.Hour}})
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	retry, calls := failingTimes(0, "never")
	start := time.Now()
	res := rt.Correct(ctx, errors.New("connection refused"), "Dashboard", "load", CorrectionContext{Retry: retry})

	assert.Less(t, time.Since(start), 5*time.Second)
	require.False(t, res.Success)
	assert.Equal(t, models.OutcomeCancelled, res.Outcome)
	assert.ErrorIs(t, res.Err, ErrCorrectionCancelled)
	assert.Equal(t, 0, *calls)
}

func TestHistoryIsBounded(t *testing.T) {
	rt := NewRuntime(RuntimeOptions{HistorySize: 5})
	for i := 0; i < 12; i++ {
		rt.Correct(context.Background(), errors.New("bad json"), "Journal", "mount", CorrectionContext{})
	}
	assert.Len(t, rt.Orchestrator.History(), 5)

	rt.Orchestrator.ClearHistory()
	assert.Empty(t, rt.Orchestrator.History())
}

func TestStats(t *testing.T) {
	h := newHarness(t, nil)
	h.correct(errors.New("bad json"), "Journal", "mount", CorrectionContext{})
	h.correct(errors.New("component crashed"), "Journal", "mount", CorrectionContext{})
	retry, _ := failingTimes(1, "ok")
	h.correct(errors.New("network"), "Journal", "sync", CorrectionContext{Retry: retry})

	stats := h.runtime.Orchestrator.Stats()
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Successful)
	assert.Equal(t, 2, stats.Failed)
	assert.Equal(t, models.CorrectionTypeStats{Total: 2, Successful: 1, Failed: 1}, stats.ByType[string(NetworkError)])
	assert.Equal(t, models.CorrectionTypeStats{Total: 1, Failed: 1}, stats.ByType[string(ComponentMountFailed)])
}

func TestConcurrentOrchestrations(t *testing.T) {
	h := newHarness(t, nil)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			retry, _ := failingTimes(1, "ok")
			res := h.correct(errors.New("network"), "Dashboard", "load", CorrectionContext{Retry: retry})
			assert.True(t, res.Success)
		}()
	}
	wg.Wait()
	assert.Len(t, h.runtime.Orchestrator.History(), 40)
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(StrategyConfig{})
	assert.Len(t, r.Categories(), 7)
	_, ok := r.Lookup(UnknownError)
	assert.False(t, ok)

	s, ok := r.Lookup(RateLimitExceeded)
	require.True(t, ok)
	assert.Equal(t, "API rate limit exceeded", s.Description())
}
