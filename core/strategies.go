package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"cosmicwatch/models"

	"go.uber.org/zap"
)

// Storage keys the strategies read and write.
const (
	RefreshTokenKey  = "refreshToken"
	AccessTokenKey   = "token"
	QuestionnaireKey = "userQuestionnaire"
)

// DefaultEvictKeys are the non-essential keys dropped when storage is full.
var DefaultEvictKeys = []string{DurableQueueKey, "oldChatHistory", "tempData"}

// CorrectionContext is what the caller hands the orchestrator besides the error.
type CorrectionContext struct {
	// Retry re-runs the failed operation. The orchestrator never looks inside.
	Retry        func(ctx context.Context) (any, error)
	DefaultValue any
	Key          string
	Critical     bool
	Extra        map[string]any
}

// CorrectionResult is the terminal result of one orchestration.
type CorrectionResult struct {
	Success  bool          `json:"success"`
	Result   any           `json:"result,omitempty"`
	Error    string        `json:"error,omitempty"`
	Category ErrorCategory `json:"category"`
	Outcome  string        `json:"outcome"`
	Attempts int           `json:"attempts"`
	Err      error         `json:"-"`
}

// Strategy recovers from one error category.
type Strategy interface {
	Category() ErrorCategory
	Description() string
	Correct(ctx context.Context, run *Run) CorrectionResult
}

// StrategyConfig holds the knobs of the built-in strategies.
type StrategyConfig struct {
	MaxRetries        int
	BaseDelay         time.Duration
	RateLimitDefault  time.Duration
	LoginPath         string
	QuestionnairePath string
	EvictKeys         []string
}

// DefaultStrategyConfig returns the stock retry budget and redirect targets.
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		RateLimitDefault:  5 * time.Second,
		LoginPath:         "/login",
		QuestionnairePath: "/questionnaire",
		EvictKeys:         DefaultEvictKeys,
	}
}

func (c StrategyConfig) withDefaults() StrategyConfig {
	d := DefaultStrategyConfig()
	if c.MaxRetries <= 0 {
		c.MaxRetries = d.MaxRetries
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = d.BaseDelay
	}
	if c.RateLimitDefault <= 0 {
		c.RateLimitDefault = d.RateLimitDefault
	}
	if c.LoginPath == "" {
		c.LoginPath = d.LoginPath
	}
	if c.QuestionnairePath == "" {
		c.QuestionnairePath = d.QuestionnairePath
	}
	if c.EvictKeys == nil {
		c.EvictKeys = d.EvictKeys
	}
	return c
}

// Registry maps error categories to strategies.
type Registry struct {
	mu         sync.RWMutex
	strategies map[ErrorCategory]Strategy
}

func NewRegistry() *Registry {
	return &Registry{strategies: make(map[ErrorCategory]Strategy)}
}

// DefaultRegistry registers the built-in strategy for every category except
// UNKNOWN_ERROR.
func DefaultRegistry(cfg StrategyConfig) *Registry {
	cfg = cfg.withDefaults()
	r := NewRegistry()
	r.Register(&networkStrategy{maxRetries: cfg.MaxRetries, baseDelay: cfg.BaseDelay})
	r.Register(&storageStrategy{evictKeys: cfg.EvictKeys})
	r.Register(&tokenStrategy{loginPath: cfg.LoginPath})
	r.Register(&missingDataStrategy{questionnairePath: cfg.QuestionnairePath})
	r.Register(&invalidJSONStrategy{})
	r.Register(&mountStrategy{})
	r.Register(&rateLimitStrategy{defaultWait: cfg.RateLimitDefault})
	return r
}

// Register adds or replaces the strategy for its category.
func (r *Registry) Register(s Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[s.Category()] = s
}

// Lookup returns the strategy for a category.
func (r *Registry) Lookup(c ErrorCategory) (Strategy, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.strategies[c]
	return s, ok
}

// Categories returns the categories that have a strategy, sorted.
func (r *Registry) Categories() []ErrorCategory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.strategies))
}

// Run is the state of one orchestration as seen by a strategy. Every
// terminal or intermediate attempt goes through Succeed, Fail or Retried so
// the history and the event log stay in step.
type Run struct {
	o         *Orchestrator
	Err       error
	Category  ErrorCategory
	Component string
	Action    string
	Context   CorrectionContext
	attempt   int
	finished  bool
}

// Attempt returns the current attempt number.
func (r *Run) Attempt() int {
	return r.attempt
}

// Storage returns the durable storage collaborator.
func (r *Run) Storage() Storage {
	return r.o.storage
}

// Begin starts attempt n.
func (r *Run) Begin(n int) {
	r.attempt = n
	r.o.logCorrection(r, models.LevelInfo, "attempt",
		fmt.Sprintf("Attempting correction for %s (attempt %d)", r.Category, n), nil)
}

// Succeed finishes the run successfully with result.
func (r *Run) Succeed(result any) CorrectionResult {
	r.finish(true, models.OutcomeSucceeded)
	r.o.logCorrection(r, models.LevelInfo, "success",
		fmt.Sprintf("Successfully corrected %s after %d attempt(s)", r.Category, r.attempt), nil)
	return CorrectionResult{
		Success:  true,
		Result:   result,
		Category: r.Category,
		Outcome:  models.OutcomeSucceeded,
		Attempts: r.attempt,
	}
}

// Fail finishes the run unsuccessfully.
func (r *Run) Fail(outcome string, err error) CorrectionResult {
	if r.attempt == 0 {
		r.attempt = 1
	}
	r.finish(false, outcome)
	r.o.logCorrection(r, models.LevelError, "failure",
		fmt.Sprintf("Failed to correct %s: %v", r.Category, err),
		map[string]any{"reason": err.Error(), "outcome": outcome})
	return CorrectionResult{
		Success:  false,
		Error:    err.Error(),
		Err:      err,
		Category: r.Category,
		Outcome:  outcome,
		Attempts: r.attempt,
	}
}

// Retried records a failed attempt that will be followed by another one.
func (r *Run) Retried(err error) {
	r.o.record(r, false, models.OutcomeFailed)
	r.o.monitor.TrackError(err, r.Component, r.Action, map[string]any{
		"autoCorrection": true,
		"errorType":      string(r.Category),
		"attempt":        r.attempt,
	})
	r.o.logCorrection(r, models.LevelWarn, "retry",
		fmt.Sprintf("Attempt %d for %s failed: %v", r.attempt, r.Category, err), nil)
}

// Sleep waits d or until ctx is done.
func (r *Run) Sleep(ctx context.Context, d time.Duration) error {
	return r.o.sleep(ctx, d)
}

// Redirect sends the user to path and logs the navigation.
func (r *Run) Redirect(path, reason string) {
	r.o.monitor.Record(models.Event{
		Level:     models.LevelWarn,
		Category:  models.CategoryNavigation,
		Component: correctionComponent,
		Action:    "redirect",
		Message:   reason,
		Fields:    map[string]any{"to": path},
	})
	r.o.navigator.RedirectTo(path)
}

func (r *Run) finish(success bool, outcome string) {
	if r.finished {
		return
	}
	r.finished = true
	r.o.record(r, success, outcome)
}

// retry calls the caller's retry function.
func (r *Run) retry(ctx context.Context) (any, error) {
	if r.Context.Retry == nil {
		return nil, ErrNoRetryFunc
	}
	return r.Context.Retry(ctx)
}

func cancelled(err error) error {
	return fmt.Errorf("%w: %v", ErrCorrectionCancelled, err)
}

// networkStrategy retries with exponential backoff: attempt n waits
// baseDelay*2^(n-1) before calling Retry.
type networkStrategy struct {
	maxRetries int
	baseDelay  time.Duration
}

func (s *networkStrategy) Category() ErrorCategory { return NetworkError }
func (s *networkStrategy) Description() string     { return "Network request failed" }

func (s *networkStrategy) Correct(ctx context.Context, run *Run) CorrectionResult {
	if run.Context.Retry == nil {
		run.Begin(1)
		return run.Fail(models.OutcomeFailed, ErrNoRetryFunc)
	}

	for n := 1; n <= s.maxRetries; n++ {
		delay := s.baseDelay << (n - 1)
		if err := run.Sleep(ctx, delay); err != nil {
			run.attempt = n
			return run.Fail(models.OutcomeCancelled, cancelled(err))
		}

		run.Begin(n)
		result, err := run.retry(ctx)
		if err == nil {
			return run.Succeed(result)
		}
		if n == s.maxRetries {
			return run.Fail(models.OutcomeExhausted, fmt.Errorf("%w after %d attempts: %v", ErrRetriesExhausted, n, err))
		}
		run.Retried(err)
	}
	// maxRetries is always >= 1, the loop returns.
	return run.Fail(models.OutcomeExhausted, ErrRetriesExhausted)
}

// storageStrategy evicts non-essential keys and retries once.
type storageStrategy struct {
	evictKeys []string
}

func (s *storageStrategy) Category() ErrorCategory { return StorageQuotaExceeded }
func (s *storageStrategy) Description() string     { return "Storage quota exceeded" }

func (s *storageStrategy) Correct(ctx context.Context, run *Run) CorrectionResult {
	run.Begin(1)

	store := run.Storage()
	for _, key := range s.evictKeys {
		if _, ok := store.Get(key); !ok {
			continue
		}
		if err := store.Remove(key); err != nil {
			run.o.logger.Warn("storage eviction failed", zap.String("key", key), zap.Error(err))
			continue
		}
		run.o.monitor.Record(models.Event{
			Level:     models.LevelInfo,
			Category:  models.CategoryStorage,
			Component: correctionComponent,
			Action:    "cleanup",
			Message:   fmt.Sprintf("Removed %s to free storage", key),
			Fields:    map[string]any{"key": key},
		})
	}

	if run.Context.Retry == nil {
		return run.Succeed(nil)
	}
	result, err := run.retry(ctx)
	if err != nil {
		return run.Fail(models.OutcomeFailed, err)
	}
	return run.Succeed(result)
}

// tokenStrategy refreshes the access token and retries once; on any
// failure it sends the user to the login page.
type tokenStrategy struct {
	loginPath string
}

func (s *tokenStrategy) Category() ErrorCategory { return TokenExpired }
func (s *tokenStrategy) Description() string     { return "Authentication token expired" }

func (s *tokenStrategy) Correct(ctx context.Context, run *Run) CorrectionResult {
	run.Begin(1)

	fail := func(reason error) CorrectionResult {
		res := run.Fail(models.OutcomeFailed, reason)
		run.Redirect(s.loginPath, "Redirecting to login - token refresh failed")
		return res
	}

	store := run.Storage()
	refresh, ok := store.Get(RefreshTokenKey)
	if !ok || refresh == "" || run.o.refresher == nil {
		return fail(ErrRefreshUnavailable)
	}
	token, err := run.o.refresher.Refresh(ctx, refresh)
	if err != nil {
		return fail(fmt.Errorf("%w: %v", ErrRefreshUnavailable, err))
	}
	if err := store.Set(AccessTokenKey, token); err != nil {
		return fail(fmt.Errorf("%w: store token: %v", ErrRefreshUnavailable, err))
	}

	if run.Context.Retry == nil {
		return run.Succeed(token)
	}
	result, err := run.retry(ctx)
	if err != nil {
		return fail(err)
	}
	return run.Succeed(result)
}

// missingDataStrategy checks for completed questionnaire answers.
type missingDataStrategy struct {
	questionnairePath string
}

func (s *missingDataStrategy) Category() ErrorCategory { return MissingUserData }
func (s *missingDataStrategy) Description() string     { return "User data not found" }

func (s *missingDataStrategy) Correct(_ context.Context, run *Run) CorrectionResult {
	run.Begin(1)

	raw, ok := run.Storage().Get(QuestionnaireKey)
	if !ok || raw == "" {
		res := run.Fail(models.OutcomeFailed, ErrMissingUserData)
		run.Redirect(s.questionnairePath, "Redirecting to questionnaire - missing data")
		return res
	}

	var data any
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return run.Succeed(raw)
	}
	return run.Succeed(data)
}

// invalidJSONStrategy falls back to the caller's default value.
type invalidJSONStrategy struct{}

func (s *invalidJSONStrategy) Category() ErrorCategory { return InvalidJSON }
func (s *invalidJSONStrategy) Description() string     { return "Failed to parse JSON" }

func (s *invalidJSONStrategy) Correct(_ context.Context, run *Run) CorrectionResult {
	run.Begin(1)
	run.o.monitor.Record(models.Event{
		Level:     models.LevelWarn,
		Category:  models.CategoryError,
		Component: correctionComponent,
		Action:    "fallback",
		Message:   "Using default value for invalid JSON: " + run.Context.Key,
		Fields:    map[string]any{"key": run.Context.Key},
	})
	return run.Succeed(run.Context.DefaultValue)
}

// mountStrategy cannot recover; it escalates and tells the user when the
// component is critical.
type mountStrategy struct{}

func (s *mountStrategy) Category() ErrorCategory { return ComponentMountFailed }
func (s *mountStrategy) Description() string     { return "Component failed to mount" }

func (s *mountStrategy) Correct(_ context.Context, run *Run) CorrectionResult {
	run.Begin(1)
	run.o.monitor.TrackError(run.Err, run.Component, "mount", map[string]any{"autoCorrection": true})
	if run.Context.Critical {
		run.o.notifier.Notify("error", "Component failed to load. Please reload the page.", true)
	}
	return run.Fail(models.OutcomeFailed, ErrComponentMount)
}

// rateLimitStrategy waits the server's Retry-After (or the default) and
// retries once.
type rateLimitStrategy struct {
	defaultWait time.Duration
}

func (s *rateLimitStrategy) Category() ErrorCategory { return RateLimitExceeded }
func (s *rateLimitStrategy) Description() string     { return "API rate limit exceeded" }

func (s *rateLimitStrategy) Correct(ctx context.Context, run *Run) CorrectionResult {
	run.Begin(1)
	if run.Context.Retry == nil {
		return run.Fail(models.OutcomeFailed, ErrNoRetryFunc)
	}

	wait := s.defaultWait
	var re *ReportedError
	if errors.As(run.Err, &re) && re.RetryAfter > 0 {
		wait = time.Duration(re.RetryAfter) * time.Millisecond
	}
	if err := run.Sleep(ctx, wait); err != nil {
		return run.Fail(models.OutcomeCancelled, cancelled(err))
	}

	result, err := run.retry(ctx)
	if err != nil {
		return run.Fail(models.OutcomeFailed, err)
	}
	return run.Succeed(result)
}
