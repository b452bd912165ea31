package service

import (
	"context"
	"fmt"

	"cosmicwatch/auth"
	"cosmicwatch/core"
	"cosmicwatch/database"
	"cosmicwatch/metrics"
	"cosmicwatch/models"

	"go.uber.org/zap"
)

// IngestComponent is the component name the server tracks its own log ingest under.
const IngestComponent = "LogIngest"

// BatchStore persists client log batches.
type BatchStore interface {
	StoreBatch(batch models.LogBatch) (int, error)
}

// Services is the service container shared by the handlers
type Services struct {
	DB      *database.Database
	Logs    *LogService
	Runtime *RuntimeService
	Auth    *auth.Service
	// Batches receives ingested batches; NewServices points it at Logs.
	Batches BatchStore
}

// NewServices initializes all services
func NewServices(db *database.Database, rt *core.Runtime, authSvc *auth.Service, log *zap.Logger, m *metrics.Metrics) *Services {
	if log == nil {
		log = zap.NewNop()
	}
	logs := NewLogService(db, log.Named("logs"), m)
	return &Services{
		DB:      db,
		Logs:    logs,
		Runtime: NewRuntimeService(rt),
		Auth:    authSvc,
		Batches: logs,
	}
}

// IngestLogs stores a client batch. SQLite contention is handed to the
// runtime's auto-correction as a connection error so the write is retried
// with backoff.
func (s *Services) IngestLogs(ctx context.Context, batch models.LogBatch) (int, error) {
	stored, err := s.Batches.StoreBatch(batch)
	if err == nil || !database.IsContention(err) {
		return stored, err
	}

	res := s.Runtime.Correct(ctx, fmt.Errorf("database connection contention: %w", err), IngestComponent, "store", core.CorrectionContext{
		Retry: func(context.Context) (any, error) {
			return s.Batches.StoreBatch(batch)
		},
		Extra: map[string]any{"sessionId": batch.SessionID, "logs": len(batch.Logs)},
	})
	if !res.Success {
		return 0, fmt.Errorf("failed to store logs after %d attempts: %w", res.Attempts, err)
	}
	n, _ := res.Result.(int)
	return n, nil
}
