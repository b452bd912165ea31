package service

import (
	"context"
	"strings"

	"cosmicwatch/core"
	"cosmicwatch/models"
)

// ClassifyResult is the answer of a dry-run classification.
type ClassifyResult struct {
	Category    core.ErrorCategory `json:"category"`
	HasStrategy bool               `json:"hasStrategy"`
	Strategy    string             `json:"strategy,omitempty"`
}

// RuntimeService exposes the process's own monitoring runtime.
type RuntimeService struct {
	rt *core.Runtime
}

// NewRuntimeService constructs a runtime service
func NewRuntimeService(rt *core.Runtime) *RuntimeService {
	return &RuntimeService{rt: rt}
}

// Runtime returns the wrapped runtime.
func (s *RuntimeService) Runtime() *core.Runtime {
	return s.rt
}

// Events returns buffered events matching filter, newest first.
func (s *RuntimeService) Events(filter core.EventFilter, limit int) []*models.Event {
	return s.rt.Log.Collect(filter, limit)
}

// Health reports the health of every component tracked by the runtime.
func (s *RuntimeService) Health() core.ApplicationHealth {
	return s.rt.Scorer.ScoreApplication()
}

// ComponentHealth reports the health of one component.
func (s *RuntimeService) ComponentHealth(name string) core.ComponentHealth {
	return s.rt.Scorer.ScoreComponent(strings.TrimSpace(name))
}

// Corrections returns the correction history, oldest first.
func (s *RuntimeService) Corrections() []models.CorrectionRecord {
	return s.rt.Orchestrator.History()
}

// ClearCorrections empties the correction history.
func (s *RuntimeService) ClearCorrections() {
	s.rt.Orchestrator.ClearHistory()
}

// CorrectionStats summarizes the correction history.
func (s *RuntimeService) CorrectionStats() models.CorrectionStats {
	return s.rt.Orchestrator.Stats()
}

// Classify reports the category and strategy an error message would get,
// without recording anything.
func (s *RuntimeService) Classify(message string, status int) ClassifyResult {
	cat := core.ClassifyMessage(message, status)
	res := ClassifyResult{Category: cat}
	if st, ok := s.rt.Orchestrator.Registry().Lookup(cat); ok {
		res.HasStrategy = true
		res.Strategy = st.Description()
	}
	return res
}

// Correct runs the orchestrator on behalf of a server-side component.
func (s *RuntimeService) Correct(ctx context.Context, err error, component, action string, cc core.CorrectionContext) core.CorrectionResult {
	return s.rt.Correct(ctx, err, component, action, cc)
}
