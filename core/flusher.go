package core

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"cosmicwatch/metrics"
	"cosmicwatch/models"

	"go.uber.org/zap"
)

const (
	DefaultFlushBatchSize = 50
	DefaultFlushInterval  = 10 * time.Second
	DefaultSinkQueueSize  = 1000
)

// FlusherOptions configures the log sink client.
type FlusherOptions struct {
	URL        string
	SessionID  string
	BatchSize  int
	Interval   time.Duration
	QueueSize  int
	MaxPending int
	// Storage supplies the bearer token under AccessTokenKey, if any.
	Storage Storage
	Client  *http.Client
	Logger  *zap.Logger
	Metrics *metrics.Metrics
}

// Flusher ships recorded events to the log sink in batches. Sends that fail
// keep their events for the next window.
type Flusher struct {
	url        string
	sessionID  string
	batchSize  int
	interval   time.Duration
	maxPending int
	storage    Storage
	client     *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics

	queue        chan models.Event
	droppedTotal uint64

	pendingMu sync.Mutex
	pending   []models.Event
	flushMu   sync.Mutex
}

func NewFlusher(opts FlusherOptions) *Flusher {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultFlushBatchSize
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultFlushInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultSinkQueueSize
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = DefaultEventCapacity
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Flusher{
		url:        opts.URL,
		sessionID:  opts.SessionID,
		batchSize:  opts.BatchSize,
		interval:   opts.Interval,
		maxPending: opts.MaxPending,
		storage:    opts.Storage,
		client:     opts.Client,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		queue:      make(chan models.Event, opts.QueueSize),
	}
}

// Enqueue hands an event to the flusher without blocking. When the queue is
// full the event is dropped and false is returned.
func (f *Flusher) Enqueue(ev models.Event) bool {
	select {
	case f.queue <- ev:
		return true
	default:
		atomic.AddUint64(&f.droppedTotal, 1)
		f.metrics.SinkDropped()
		return false
	}
}

// DroppedTotal returns the number of events dropped so far.
func (f *Flusher) DroppedTotal() uint64 {
	return atomic.LoadUint64(&f.droppedTotal)
}

// Pending returns the number of events waiting to be sent.
func (f *Flusher) Pending() int {
	f.pendingMu.Lock()
	defer f.pendingMu.Unlock()
	return len(f.pending)
}

// Run moves queued events into the pending buffer and flushes one batch per
// interval until ctx is done, then makes a last attempt to send everything.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			f.drainQueue()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			for f.Pending() > 0 {
				if err := f.Flush(shutdownCtx); err != nil {
					f.logger.Warn("final log flush failed", zap.Int("pending", f.Pending()), zap.Error(err))
					break
				}
			}
			return nil
		case ev := <-f.queue:
			f.addPending(ev)
		case <-ticker.C:
			f.drainQueue()
			if err := f.Flush(ctx); err != nil {
				f.logger.Debug("log flush failed, retrying next window", zap.Error(err))
			}
		}
	}
}

func (f *Flusher) drainQueue() {
	for {
		select {
		case ev := <-f.queue:
			f.addPending(ev)
		default:
			return
		}
	}
}

func (f *Flusher) addPending(evs ...models.Event) {
	f.pendingMu.Lock()
	defer f.pendingMu.Unlock()
	f.pending = append(f.pending, evs...)
	if over := len(f.pending) - f.maxPending; over > 0 {
		f.pending = f.pending[over:]
		atomic.AddUint64(&f.droppedTotal, uint64(over))
	}
}

// Flush sends up to one batch. On failure the batch goes back to the head
// of the pending buffer.
func (f *Flusher) Flush(ctx context.Context) error {
	f.flushMu.Lock()
	defer f.flushMu.Unlock()

	f.pendingMu.Lock()
	n := min(f.batchSize, len(f.pending))
	if n == 0 {
		f.pendingMu.Unlock()
		return nil
	}
	batch := make([]models.Event, n)
	copy(batch, f.pending[:n])
	f.pending = f.pending[n:]
	f.pendingMu.Unlock()

	if err := f.send(ctx, batch); err != nil {
		f.pendingMu.Lock()
		f.pending = append(batch, f.pending...)
		if over := len(f.pending) - f.maxPending; over > 0 {
			f.pending = f.pending[:f.maxPending]
			atomic.AddUint64(&f.droppedTotal, uint64(over))
		}
		left := len(f.pending)
		f.pendingMu.Unlock()
		f.metrics.SinkFlush(false, left)
		return err
	}

	f.metrics.SinkFlush(true, f.Pending())
	f.logger.Debug("sent logs to sink", zap.Int("count", n))
	return nil
}

func (f *Flusher) send(ctx context.Context, batch []models.Event) error {
	body, err := json.Marshal(models.LogBatch{SessionID: f.sessionID, Logs: batch})
	if err != nil {
		return fmt.Errorf("encode log batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build sink request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if f.storage != nil {
		if token, ok := f.storage.Get(AccessTokenKey); ok && token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fmt.Errorf("send logs: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to send logs: %d", resp.StatusCode)
	}
	return nil
}
