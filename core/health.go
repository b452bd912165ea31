package core

import (
	"cosmicwatch/models"
	"cosmicwatch/state"
)

// Health status tiers
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Deduction weights per counted event.
const (
	errorWeight      = 10
	warningWeight    = 3
	validationWeight = 5
)

// Tally counts the events that feed a health score.
type Tally struct {
	Total              int `json:"totalEvents"`
	Errors             int `json:"errors"`
	Warnings           int `json:"warnings"`
	ValidationFailures int `json:"validationFailures"`
}

// Add counts one event.
func (t *Tally) Add(ev *models.Event) {
	t.Total++
	switch ev.Level {
	case models.LevelError:
		t.Errors++
	case models.LevelWarn:
		t.Warnings++
	}
	if ev.Validation != nil && ev.Validation.Status == models.VerdictError {
		t.ValidationFailures++
	}
}

// Score returns the 0-100 health score of the tally.
func (t Tally) Score() float64 {
	if t.Total == 0 {
		return 100
	}
	return HealthScore(t.Errors, t.Warnings, t.ValidationFailures)
}

// HealthScore is max(0, 100 - 10*errors - 3*warnings - 5*validationFailures).
func HealthScore(errors, warnings, validationFailures int) float64 {
	score := 100 - errorWeight*errors - warningWeight*warnings - validationWeight*validationFailures
	if score < 0 {
		return 0
	}
	return float64(score)
}

// HealthStatus maps a score onto a tier.
func HealthStatus(score float64) string {
	switch {
	case score >= 80:
		return StatusHealthy
	case score >= 60:
		return StatusWarning
	default:
		return StatusCritical
	}
}

// ComponentHealth is the health report of one component.
type ComponentHealth struct {
	ComponentName string `json:"componentName"`
	Mounted       bool   `json:"mounted"`
	Tally
	Interactions int     `json:"interactions"`
	HealthScore  float64 `json:"healthScore"`
	Status       string  `json:"status"`
}

// ApplicationHealth is the health report of every tracked component.
type ApplicationHealth struct {
	OverallHealth    float64           `json:"overallHealth"`
	TotalComponents  int               `json:"totalComponents"`
	ActiveComponents int               `json:"activeComponents"`
	TotalEvents      int               `json:"totalEvents"`
	TotalErrors      int               `json:"totalErrors"`
	TotalWarnings    int               `json:"totalWarnings"`
	Components       []ComponentHealth `json:"components"`
	Status           string            `json:"status"`
}

// Scorer derives health reports from an EventLog and the component registry.
type Scorer struct {
	log        *EventLog
	components *state.Components
}

func NewScorer(log *EventLog, components *state.Components) *Scorer {
	if components == nil {
		components = state.NewComponents()
	}
	return &Scorer{log: log, components: components}
}

// ScoreComponent reports the health of one component over the current buffer.
func (s *Scorer) ScoreComponent(name string) ComponentHealth {
	return scoreComponent(name, s.log.Snapshot(), s.components)
}

// ScoreApplication reports the health of every tracked component. The
// overall score is the mean of the component scores, 100 when none are tracked.
func (s *Scorer) ScoreApplication() ApplicationHealth {
	return ScoreApplication(s.log.Snapshot(), s.components)
}

// ScoreApplication is the pure form of Scorer.ScoreApplication.
func ScoreApplication(events []*models.Event, components *state.Components) ApplicationHealth {
	names := components.Names()
	app := ApplicationHealth{
		TotalComponents:  len(names),
		ActiveComponents: len(names),
		TotalEvents:      len(events),
		Components:       make([]ComponentHealth, 0, len(names)),
	}
	for _, ev := range events {
		switch ev.Level {
		case models.LevelError:
			app.TotalErrors++
		case models.LevelWarn:
			app.TotalWarnings++
		}
	}

	sum := 0.0
	for _, name := range names {
		h := scoreComponent(name, events, components)
		sum += h.HealthScore
		app.Components = append(app.Components, h)
	}
	app.OverallHealth = 100
	if len(names) > 0 {
		app.OverallHealth = sum / float64(len(names))
	}
	app.Status = HealthStatus(app.OverallHealth)
	return app
}

func scoreComponent(name string, events []*models.Event, components *state.Components) ComponentHealth {
	var t Tally
	for _, ev := range events {
		if ev.Component == name {
			t.Add(ev)
		}
	}
	st, _ := components.Get(name)
	score := t.Score()
	return ComponentHealth{
		ComponentName: name,
		Mounted:       st.Mounted,
		Tally:         t,
		Interactions:  st.Interactions,
		HealthScore:   score,
		Status:        HealthStatus(score),
	}
}
