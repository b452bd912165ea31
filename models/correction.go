package models

import "time"

// Correction outcomes
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
	OutcomeExhausted = "exhausted"
	OutcomeCancelled = "cancelled"
	OutcomeFatal     = "fatal"
)

// CorrectionRecord is one finished correction attempt. Never mutated after append.
type CorrectionRecord struct {
	Timestamp time.Time `json:"timestamp"`
	ErrorType string    `json:"errorType"`
	Component string    `json:"componentName"`
	Action    string    `json:"action"`
	Attempt   int       `json:"attempt"`
	Success   bool      `json:"success"`
	Outcome   string    `json:"outcome"`
}

// CorrectionTypeStats counts outcomes for one error category.
type CorrectionTypeStats struct {
	Total      int `json:"total"`
	Successful int `json:"successful"`
	Failed     int `json:"failed"`
}

// CorrectionStats summarizes the correction history.
type CorrectionStats struct {
	Total      int                            `json:"total"`
	Successful int                            `json:"successful"`
	Failed     int                            `json:"failed"`
	ByType     map[string]CorrectionTypeStats `json:"byType"`
}
