package core

import (
	"testing"
	"time"

	"cosmicwatch/models"
	"cosmicwatch/state"

	"github.com/stretchr/testify/assert"
)

func TestHealthScore_Formula(t *testing.T) {
	assert.Equal(t, 100.0, HealthScore(0, 0, 0))
	assert.Equal(t, 90.0, HealthScore(1, 0, 0))
	assert.Equal(t, 82.0, HealthScore(1, 1, 1))
	assert.Equal(t, 0.0, HealthScore(50, 50, 50))
	assert.Equal(t, 0.0, HealthScore(10, 0, 0))
}

func TestHealthStatus_Tiers(t *testing.T) {
	assert.Equal(t, StatusHealthy, HealthStatus(100))
	assert.Equal(t, StatusHealthy, HealthStatus(80))
	assert.Equal(t, StatusWarning, HealthStatus(79.9))
	assert.Equal(t, StatusWarning, HealthStatus(60))
	assert.Equal(t, StatusCritical, HealthStatus(59))
	assert.Equal(t, StatusCritical, HealthStatus(0))
}

func newScoredLog() (*EventLog, *state.Components, *Scorer) {
	log := NewEventLog(EventLogOptions{})
	components := state.NewComponents()
	return log, components, NewScorer(log, components)
}

func TestScoreComponent_Empty(t *testing.T) {
	_, _, scorer := newScoredLog()
	h := scorer.ScoreComponent("Dashboard")
	assert.Equal(t, 100.0, h.HealthScore)
	assert.Equal(t, 0, h.Total)
	assert.False(t, h.Mounted)
}

func TestScoreComponent_OneError(t *testing.T) {
	log, _, scorer := newScoredLog()
	log.Record(models.Event{Component: "Dashboard", Level: models.LevelError, Message: "boom"})

	h := scorer.ScoreComponent("Dashboard")
	assert.Equal(t, 1, h.Errors)
	assert.Equal(t, 0, h.ValidationFailures)
	assert.Equal(t, 90.0, h.HealthScore)
}

func TestScoreComponent_ErrorWarningValidationFailure(t *testing.T) {
	log, _, scorer := newScoredLog()
	log.Record(models.Event{Component: "Journal", Level: models.LevelError, Message: "e"})
	log.Record(models.Event{Component: "Journal", Level: models.LevelWarn, Message: "w"})
	log.Record(models.Event{
		Component:  "Journal",
		Level:      models.LevelInfo,
		Message:    "v",
		Validation: &models.Verdict{Status: models.VerdictError, Message: "mismatch"},
	})
	log.Record(models.Event{Component: "Other", Level: models.LevelError, Message: "not counted"})

	h := scorer.ScoreComponent("Journal")
	assert.Equal(t, 3, h.Total)
	assert.Equal(t, 82.0, h.HealthScore)
	assert.Equal(t, StatusHealthy, h.Status)
}

func TestScoreComponent_ClampsAtZero(t *testing.T) {
	log, _, scorer := newScoredLog()
	for i := 0; i < 30; i++ {
		log.Record(models.Event{Component: "PaymentModal", Level: models.LevelError, Message: "e"})
	}
	assert.Equal(t, 0.0, scorer.ScoreComponent("PaymentModal").HealthScore)
}

func TestScoreApplication_NoComponents(t *testing.T) {
	log, _, scorer := newScoredLog()
	log.Record(models.Event{Level: models.LevelError, Message: "orphan"})

	app := scorer.ScoreApplication()
	assert.Equal(t, 100.0, app.OverallHealth)
	assert.Equal(t, 0, app.TotalComponents)
	assert.Equal(t, 1, app.TotalEvents)
	assert.Equal(t, 1, app.TotalErrors)
	assert.Equal(t, StatusHealthy, app.Status)
}

func TestScoreApplication_MeanOfTrackedComponents(t *testing.T) {
	log, components, scorer := newScoredLog()
	components.Mount("Dashboard", nil, time.Now())
	components.Mount("Journal", nil, time.Now())

	for i := 0; i < 4; i++ {
		log.Record(models.Event{Component: "Journal", Level: models.LevelError, Message: "e"})
	}
	log.Record(models.Event{Component: "Dashboard", Level: models.LevelWarn, Message: "w"})
	log.Record(models.Event{Component: "Unmounted", Level: models.LevelError, Message: "ignored in mean"})

	app := scorer.ScoreApplication()
	assert.Equal(t, 2, app.TotalComponents)
	assert.Equal(t, 6, app.TotalEvents)
	assert.Equal(t, 5, app.TotalErrors)
	assert.Equal(t, 1, app.TotalWarnings)
	assert.InDelta(t, (97.0+60.0)/2, app.OverallHealth, 1e-9)
	assert.Equal(t, StatusWarning, app.Status)
	assert.Equal(t, "Dashboard", app.Components[0].ComponentName)
	assert.True(t, app.Components[0].Mounted)
}

func TestScoreApplication_Critical(t *testing.T) {
	log, components, scorer := newScoredLog()
	components.Mount("AdminDashboard", nil, time.Now())
	for i := 0; i < 5; i++ {
		log.Record(models.Event{Component: "AdminDashboard", Level: models.LevelError, Message: "e"})
	}
	app := scorer.ScoreApplication()
	assert.Equal(t, 50.0, app.OverallHealth)
	assert.Equal(t, StatusCritical, app.Status)
}
