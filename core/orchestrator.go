package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"cosmicwatch/metrics"
	"cosmicwatch/models"

	"go.uber.org/zap"
)

const (
	DefaultHistorySize = 500

	correctionComponent = "AutoCorrection"
)

// OrchestratorOptions wires an Orchestrator. Monitor is required.
type OrchestratorOptions struct {
	Monitor     *Monitor
	Registry    *Registry
	Storage     Storage
	Refresher   TokenRefresher
	Navigator   Navigator
	Notifier    Notifier
	HistorySize int
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	// Sleep replaces the backoff timer; tests use it to skip real waits.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

// Orchestrator classifies errors, runs the matching strategy and keeps a
// bounded history of correction attempts.
type Orchestrator struct {
	monitor   *Monitor
	registry  *Registry
	storage   Storage
	refresher TokenRefresher
	navigator Navigator
	notifier  Notifier
	logger    *zap.Logger
	metrics   *metrics.Metrics
	sleep     func(ctx context.Context, d time.Duration) error
	now       func() time.Time

	mu          sync.RWMutex
	history     []models.CorrectionRecord
	historySize int
}

func NewOrchestrator(opts OrchestratorOptions) *Orchestrator {
	if opts.Registry == nil {
		opts.Registry = DefaultRegistry(DefaultStrategyConfig())
	}
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Navigator == nil {
		opts.Navigator = NewRecordingNavigator(0)
	}
	if opts.Notifier == nil {
		opts.Notifier = NewLogNotifier(opts.Logger, 0)
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = DefaultHistorySize
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Orchestrator{
		monitor:     opts.Monitor,
		registry:    opts.Registry,
		storage:     opts.Storage,
		refresher:   opts.Refresher,
		navigator:   opts.Navigator,
		notifier:    opts.Notifier,
		logger:      opts.Logger,
		metrics:     opts.Metrics,
		sleep:       opts.Sleep,
		now:         opts.Now,
		history:     make([]models.CorrectionRecord, 0, 64),
		historySize: opts.HistorySize,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Registry returns the strategy registry.
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Orchestrate classifies err, logs it against component/action and runs the
// strategy for its category. It never panics and never returns an error:
// every failure is reported through the result.
func (o *Orchestrator) Orchestrate(ctx context.Context, err error, component, action string, cc CorrectionContext) (res CorrectionResult) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err == nil {
		err = fmt.Errorf("unknown error")
	}
	start := o.now()
	category := Classify(err)

	o.monitor.TrackError(err, component, action, map[string]any{
		"autoCorrection": true,
		"errorType":      string(category),
	})

	strategy, ok := o.registry.Lookup(category)
	if !ok {
		o.logger.Info("no correction strategy",
			zap.String("category", string(category)),
			zap.String("component", component),
			zap.String("action", action))
		o.metrics.CorrectionFinished(string(category), models.OutcomeFatal, 0)
		return CorrectionResult{
			Success:  false,
			Error:    NoStrategyMessage,
			Err:      ErrNoStrategy,
			Category: category,
			Outcome:  models.OutcomeFatal,
		}
	}

	run := &Run{
		o:         o,
		Err:       err,
		Category:  category,
		Component: component,
		Action:    action,
		Context:   cc,
	}

	defer func() {
		if r := recover(); r != nil {
			perr := &PanicError{Value: r}
			o.monitor.TrackError(perr, correctionComponent, "correction_failed", map[string]any{
				"originalError": err.Error(),
				"errorType":     string(category),
			})
			if run.attempt == 0 {
				run.attempt = 1
			}
			run.finish(false, models.OutcomeFatal)
			o.logger.Error("correction strategy panicked",
				zap.String("category", string(category)),
				zap.String("component", component),
				zap.Any("panic", r))
			res = CorrectionResult{
				Success:  false,
				Error:    perr.Error(),
				Err:      perr,
				Category: category,
				Outcome:  models.OutcomeFatal,
				Attempts: run.attempt,
			}
		}
		o.metrics.CorrectionFinished(string(category), res.Outcome, o.now().Sub(start).Seconds())
		o.logger.Debug("correction finished",
			zap.String("category", string(category)),
			zap.String("component", component),
			zap.String("action", action),
			zap.Bool("success", res.Success),
			zap.String("outcome", res.Outcome),
			zap.Int("attempts", res.Attempts))
	}()

	return strategy.Correct(ctx, run)
}

func (o *Orchestrator) record(run *Run, success bool, outcome string) {
	rec := models.CorrectionRecord{
		Timestamp: o.now(),
		ErrorType: string(run.Category),
		Component: run.Component,
		Action:    run.Action,
		Attempt:   run.attempt,
		Success:   success,
		Outcome:   outcome,
	}

	o.mu.Lock()
	if len(o.history) >= o.historySize {
		o.history = append(o.history[:0], o.history[len(o.history)-o.historySize+1:]...)
	}
	o.history = append(o.history, rec)
	o.mu.Unlock()

	o.metrics.CorrectionAttempt(rec.ErrorType, success)
}

func (o *Orchestrator) logCorrection(run *Run, level, action, message string, extra map[string]any) {
	fields := map[string]any{
		"errorType":       string(run.Category),
		"attemptNumber":   run.attempt,
		"targetComponent": run.Component,
		"targetAction":    run.Action,
	}
	for k, v := range extra {
		fields[k] = v
	}
	o.monitor.Record(models.Event{
		Level:     level,
		Category:  models.CategoryCorrection,
		Component: correctionComponent,
		Action:    action,
		Message:   message,
		Fields:    fields,
	})
}

// History returns a copy of the correction history, oldest first.
func (o *Orchestrator) History() []models.CorrectionRecord {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]models.CorrectionRecord, len(o.history))
	copy(out, o.history)
	return out
}

// ClearHistory drops the correction history.
func (o *Orchestrator) ClearHistory() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = o.history[:0]
}

// Stats summarizes the history in total and per error category.
func (o *Orchestrator) Stats() models.CorrectionStats {
	o.mu.RLock()
	defer o.mu.RUnlock()

	stats := models.CorrectionStats{ByType: make(map[string]models.CorrectionTypeStats)}
	for _, rec := range o.history {
		stats.Total++
		t := stats.ByType[rec.ErrorType]
		t.Total++
		if rec.Success {
			stats.Successful++
			t.Successful++
		} else {
			stats.Failed++
			t.Failed++
		}
		stats.ByType[rec.ErrorType] = t
	}
	return stats
}
