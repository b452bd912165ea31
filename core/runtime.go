package core

import (
	"context"
	"time"

	"cosmicwatch/metrics"
	"cosmicwatch/models"
	"cosmicwatch/state"

	"go.uber.org/zap"
)

// RuntimeOptions configures a Runtime. Zero values take defaults.
type RuntimeOptions struct {
	SessionID       string
	EventCapacity   int
	DurableCapacity int
	HistorySize     int
	Expectations    ExpectationTable
	Strategy        StrategyConfig
	Storage         Storage
	// EventStorage holds the durable event queue; nil shares Storage.
	EventStorage Storage
	Refresher    TokenRefresher
	Navigator    Navigator
	Notifier     Notifier
	Context      func() (url, userAgent string)
	// Sink enables the log sink client when non-nil.
	Sink    *FlusherOptions
	Sleep   func(ctx context.Context, d time.Duration) error
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Runtime bundles one monitoring session: event log, component tracking,
// health scoring and auto-correction.
type Runtime struct {
	Log          *EventLog
	Components   *state.Components
	Monitor      *Monitor
	Orchestrator *Orchestrator
	Scorer       *Scorer
	Flusher      *Flusher
	Storage      Storage
	Navigator    Navigator
	Notifier     Notifier

	logger      *zap.Logger
	unsubscribe func()
}

func NewRuntime(opts RuntimeOptions) *Runtime {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Storage == nil {
		opts.Storage = NewMemoryStorage()
	}
	if opts.EventStorage == nil {
		opts.EventStorage = opts.Storage
	}
	if opts.Navigator == nil {
		opts.Navigator = NewRecordingNavigator(0)
	}
	if opts.Notifier == nil {
		opts.Notifier = NewLogNotifier(opts.Logger.Named("notify"), 0)
	}

	log := NewEventLog(EventLogOptions{
		Capacity:        opts.EventCapacity,
		DurableCapacity: opts.DurableCapacity,
		SessionID:       opts.SessionID,
		Storage:         opts.EventStorage,
		Validator:       NewValidator(opts.Expectations),
		Context:         opts.Context,
		Logger:          opts.Logger.Named("events"),
		Metrics:         opts.Metrics,
	})
	components := state.NewComponents()
	monitor := NewMonitor(log, components, opts.Logger.Named("monitor"), opts.Metrics)
	orch := NewOrchestrator(OrchestratorOptions{
		Monitor:     monitor,
		Registry:    DefaultRegistry(opts.Strategy),
		Storage:     opts.Storage,
		Refresher:   opts.Refresher,
		Navigator:   opts.Navigator,
		Notifier:    opts.Notifier,
		HistorySize: opts.HistorySize,
		Logger:      opts.Logger.Named("correction"),
		Metrics:     opts.Metrics,
		Sleep:       opts.Sleep,
	})

	rt := &Runtime{
		Log:          log,
		Components:   components,
		Monitor:      monitor,
		Orchestrator: orch,
		Scorer:       NewScorer(log, components),
		Storage:      opts.Storage,
		Navigator:    opts.Navigator,
		Notifier:     opts.Notifier,
		logger:       opts.Logger,
	}

	if opts.Sink != nil {
		sink := *opts.Sink
		if sink.SessionID == "" {
			sink.SessionID = log.SessionID()
		}
		if sink.Storage == nil {
			sink.Storage = opts.Storage
		}
		if sink.MaxPending <= 0 {
			sink.MaxPending = log.Capacity()
		}
		if sink.Logger == nil {
			sink.Logger = opts.Logger.Named("sink")
		}
		if sink.Metrics == nil {
			sink.Metrics = opts.Metrics
		}
		rt.Flusher = NewFlusher(sink)
		rt.unsubscribe = log.Subscribe(func(ev models.Event) {
			rt.Flusher.Enqueue(ev)
		})
	}
	return rt
}

// Run drives background work (the log sink) until ctx is done.
func (r *Runtime) Run(ctx context.Context) error {
	if r.Flusher == nil {
		<-ctx.Done()
		return nil
	}
	r.logger.Info("log sink enabled")
	return r.Flusher.Run(ctx)
}

// Close detaches the log sink from the event log.
func (r *Runtime) Close() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
}

// Correct is shorthand for Orchestrator.Orchestrate.
func (r *Runtime) Correct(ctx context.Context, err error, component, action string, cc CorrectionContext) CorrectionResult {
	return r.Orchestrator.Orchestrate(ctx, err, component, action, cc)
}
