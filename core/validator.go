package core

import (
	"fmt"
	"strconv"

	"cosmicwatch/models"
)

const verdictNoExpectation = "no expectation registered"

// Observation is what actually happened for one component action.
type Observation struct {
	ActionType  string
	Level       string
	Error       string
	Result      string
	Message     string
	Duration    float64 // milliseconds
	HasDuration bool
}

// ObservationFromEvent extracts the fields the validator looks at from an event.
func ObservationFromEvent(ev *models.Event) Observation {
	obs := Observation{
		ActionType: ev.ActionType,
		Level:      ev.Level,
		Message:    ev.Message,
		Result:     ev.FieldString("result"),
	}
	if v := ev.Field("error"); v != nil {
		if s, ok := v.(string); ok {
			obs.Error = s
		} else {
			obs.Error = fmt.Sprint(v)
		}
	}
	if d, ok := ev.FieldFloat("duration"); ok {
		obs.Duration, obs.HasDuration = d, true
	}
	return obs
}

// Validator compares observations against an expectation table.
// It holds no state besides the table and is safe for concurrent use.
type Validator struct {
	table ExpectationTable
}

// NewValidator builds a validator. A nil table means the built-in defaults.
func NewValidator(table ExpectationTable) *Validator {
	if table == nil {
		table = DefaultExpectations()
	}
	return &Validator{table: table}
}

// Table returns the expectation table in use.
func (v *Validator) Table() ExpectationTable {
	return v.table
}

// Validate returns the verdict for one observed action. Precedence is
// error over warning over ok; an unknown pair yields status unknown.
func (v *Validator) Validate(component, action string, obs Observation) models.Verdict {
	exp, ok := v.table.Lookup(component, action)
	if !ok {
		return models.Verdict{Status: models.VerdictUnknown, Message: verdictNoExpectation}
	}

	verdict := models.Verdict{
		Expected: exp.Expected,
		Actual:   obs.Result,
		Status:   models.VerdictOK,
		Message:  "Behavior matches expected",
	}
	if verdict.Actual == "" {
		verdict.Actual = obs.Message
	}

	if exp.TimeoutMS > 0 && obs.HasDuration && obs.Duration > float64(exp.TimeoutMS) {
		verdict.Status = models.VerdictWarning
		verdict.Message = fmt.Sprintf("Action took %sms (expected < %dms)",
			strconv.FormatFloat(obs.Duration, 'f', -1, 64), exp.TimeoutMS)
	}

	if exp.ActionType != "" && obs.ActionType != exp.ActionType {
		verdict.Status = models.VerdictError
		verdict.Message = fmt.Sprintf("Action type mismatch: expected %s, got %s", exp.ActionType, obs.ActionType)
	}

	if obs.Error != "" || obs.Level == models.LevelError {
		detail := obs.Error
		if detail == "" {
			detail = obs.Message
		}
		verdict.Status = models.VerdictError
		verdict.Message = "Error occurred: " + detail
	}

	return verdict
}

// ValidateEvent validates an event by its own component and action.
func (v *Validator) ValidateEvent(ev *models.Event) models.Verdict {
	return v.Validate(ev.Component, ev.Action, ObservationFromEvent(ev))
}
