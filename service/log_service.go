package service

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"cosmicwatch/core"
	"cosmicwatch/database"
	"cosmicwatch/metrics"
	"cosmicwatch/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultLogLimit      = 100
	maxLogLimit          = 1000
	defaultRetentionDays = 30
	scanBatchSize        = 500
	topErrorComponents   = 10
	recentErrorLimit     = 10
)

// ErrInvalidBatch is returned when an ingest batch has no session id.
var ErrInvalidBatch = errors.New("invalid request: sessionId and logs array required")

// LogFilter narrows stored log queries. Zero values match everything.
type LogFilter struct {
	SessionID        string
	Component        string
	Level            string
	Category         string
	ValidationStatus string
	StartDate        time.Time
	EndDate          time.Time
}

func (f LogFilter) apply(q *gorm.DB) *gorm.DB {
	if f.SessionID != "" {
		q = q.Where("session_id = ?", f.SessionID)
	}
	if f.Component != "" {
		q = q.Where("component = ?", f.Component)
	}
	if f.Level != "" {
		q = q.Where("level = ?", strings.ToLower(f.Level))
	}
	if f.Category != "" {
		q = q.Where("category = ?", strings.ToLower(f.Category))
	}
	if f.ValidationStatus != "" {
		q = q.Where("validation_status = ?", f.ValidationStatus)
	}
	if !f.StartDate.IsZero() {
		q = q.Where("timestamp >= ?", f.StartDate.UTC())
	}
	if !f.EndDate.IsZero() {
		q = q.Where("timestamp <= ?", f.EndDate.UTC())
	}
	return q
}

// Pagination describes one page of a query.
type Pagination struct {
	Page  int   `json:"page"`
	Limit int   `json:"limit"`
	Total int64 `json:"total"`
	Pages int   `json:"pages"`
}

// LogPage is a page of stored logs, newest first.
type LogPage struct {
	Logs       []models.Event `json:"logs"`
	Pagination Pagination     `json:"pagination"`
}

// StoredComponentHealth is the health of one component across stored logs.
type StoredComponentHealth struct {
	Component string `json:"component"`
	core.Tally
	AvgDuration float64   `json:"avgDuration"`
	LastSeen    time.Time `json:"lastSeen"`
	HealthScore float64   `json:"healthScore"`
	Status      string    `json:"status"`
}

// StoredApplicationHealth is the overview across stored logs.
type StoredApplicationHealth struct {
	OverallHealth      float64        `json:"overallHealth"`
	TotalComponents    int            `json:"totalComponents"`
	TotalEvents        int            `json:"totalEvents"`
	TotalErrors        int            `json:"totalErrors"`
	TotalWarnings      int            `json:"totalWarnings"`
	ValidationFailures int            `json:"validationFailures"`
	AvgResponseTime    int64          `json:"avgResponseTime"`
	Status             string         `json:"status"`
	RecentErrors       []models.Event `json:"recentErrors"`
}

// ComponentErrors counts errors raised by one component.
type ComponentErrors struct {
	Component    string   `json:"component"`
	Count        int      `json:"count"`
	UniqueErrors []string `json:"uniqueErrors"`
}

// CategoryCount counts errors in one category.
type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

// HourCount counts errors in one clock hour ("2006-01-02 15:00", UTC).
type HourCount struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// ErrorAnalytics groups stored error logs.
type ErrorAnalytics struct {
	ErrorsByComponent []ComponentErrors `json:"errorsByComponent"`
	ErrorsByType      []CategoryCount   `json:"errorsByType"`
	ErrorTimeline     []HourCount       `json:"errorTimeline"`
}

// PerformanceStat aggregates the duration field of one component or action.
type PerformanceStat struct {
	Name        string  `json:"name"`
	AvgDuration float64 `json:"avgDuration"`
	MinDuration float64 `json:"minDuration"`
	MaxDuration float64 `json:"maxDuration"`
	P95Duration float64 `json:"p95Duration"`
	Count       int     `json:"count"`
}

// JourneySummary describes one session replay.
type JourneySummary struct {
	SessionID   string    `json:"sessionId"`
	StartTime   time.Time `json:"startTime,omitempty"`
	EndTime     time.Time `json:"endTime,omitempty"`
	DurationMS  int64     `json:"duration"`
	TotalEvents int       `json:"totalEvents"`
	Components  []string  `json:"components"`
	Errors      int       `json:"errors"`
	Pages       []string  `json:"pages"`
}

// Journey is every stored event of a session in time order.
type Journey struct {
	Summary JourneySummary `json:"summary"`
	Journey []models.Event `json:"journey"`
}

// LogService stores ingested client logs and answers queries over them.
type LogService struct {
	db      *gorm.DB
	log     *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewLogService constructs a log service
func NewLogService(db *database.Database, log *zap.Logger, m *metrics.Metrics) *LogService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LogService{db: db.Gorm, log: log, metrics: m, now: time.Now}
}

// StoreBatch persists a batch of client logs. Logs whose id is already stored
// are skipped; stored reports how many rows were inserted.
func (s *LogService) StoreBatch(batch models.LogBatch) (stored int, err error) {
	sessionID := strings.TrimSpace(batch.SessionID)
	if sessionID == "" || batch.Logs == nil {
		return 0, ErrInvalidBatch
	}
	if len(batch.Logs) == 0 {
		return 0, nil
	}

	now := s.now().UTC()
	rows := make([]models.Event, 0, len(batch.Logs))
	var critical []models.Event
	for _, ev := range batch.Logs {
		ev.Normalize()
		ev.SessionID = sessionID
		if ev.ID == "" {
			ev.ID = uuid.NewString()
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = now
		}
		ev.Timestamp = ev.Timestamp.UTC()
		if ev.Level == "" {
			ev.Level = models.LevelInfo
		}
		if ev.Category == "" {
			ev.Category = models.CategoryLifecycle
		}
		if ev.Message == "" {
			ev.Message = "(no message)"
		}
		ev.CreatedAt = time.Time{}
		if ev.Level == models.LevelError && ev.ValidationStatus == models.VerdictError {
			critical = append(critical, ev)
		}
		rows = append(rows, ev)
	}

	res := s.db.Clauses(clause.OnConflict{DoNothing: true}).CreateInBatches(&rows, 100)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to store logs: %w", res.Error)
	}
	stored = int(res.RowsAffected)
	s.metrics.LogsIngested(stored)

	if len(critical) > 0 {
		s.log.Warn("critical errors detected",
			zap.String("session_id", sessionID),
			zap.Int("count", len(critical)))
		for _, ev := range critical {
			s.log.Error("critical error in component",
				zap.String("component", ev.Component),
				zap.String("message", ev.Message),
				zap.String("log_id", ev.ID))
		}
	}
	return stored, nil
}

// Query returns one page of logs matching filter, newest first.
func (s *LogService) Query(filter LogFilter, page, limit int) (*LogPage, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 {
		limit = defaultLogLimit
	}
	limit = min(limit, maxLogLimit)

	var total int64
	if err := filter.apply(s.db.Model(&models.Event{})).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("failed to count logs: %w", err)
	}

	logs := []models.Event{}
	offset := (page - 1) * limit
	if err := filter.apply(s.db).Order("timestamp desc").Offset(offset).Limit(limit).Find(&logs).Error; err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}

	return &LogPage{
		Logs: logs,
		Pagination: Pagination{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: int(math.Ceil(float64(total) / float64(limit))),
		},
	}, nil
}

// scan streams every log matching filter through fn in primary-key batches.
func (s *LogService) scan(q *gorm.DB, fn func(*models.Event)) error {
	var batch []models.Event
	res := q.FindInBatches(&batch, scanBatchSize, func(_ *gorm.DB, _ int) error {
		for i := range batch {
			fn(&batch[i])
		}
		return nil
	})
	return res.Error
}

type componentAgg struct {
	tally       core.Tally
	durationSum float64
	durationN   int
	lastSeen    time.Time
}

// ComponentHealth reports per-component health over stored logs, worst first.
// An empty component covers every component.
func (s *LogService) ComponentHealth(component string, start, end time.Time) ([]StoredComponentHealth, error) {
	filter := LogFilter{Component: component, StartDate: start, EndDate: end}
	aggs := map[string]*componentAgg{}
	err := s.scan(filter.apply(s.db.Model(&models.Event{})), func(ev *models.Event) {
		a, ok := aggs[ev.Component]
		if !ok {
			a = &componentAgg{}
			aggs[ev.Component] = a
		}
		a.tally.Add(ev)
		if d, ok := ev.FieldFloat("duration"); ok {
			a.durationSum += d
			a.durationN++
		}
		if ev.Timestamp.After(a.lastSeen) {
			a.lastSeen = ev.Timestamp
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate component health: %w", err)
	}

	out := make([]StoredComponentHealth, 0, len(aggs))
	for name, a := range aggs {
		score := a.tally.Score()
		h := StoredComponentHealth{
			Component:   name,
			Tally:       a.tally,
			LastSeen:    a.lastSeen,
			HealthScore: score,
			Status:      core.HealthStatus(score),
		}
		if a.durationN > 0 {
			h.AvgDuration = round2(a.durationSum / float64(a.durationN))
		}
		out = append(out, h)
	}
	slices.SortFunc(out, func(a, b StoredComponentHealth) int {
		if a.HealthScore != b.HealthScore {
			if a.HealthScore < b.HealthScore {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Component, b.Component)
	})
	return out, nil
}

// ApplicationHealth scores every stored log in the window as one population.
func (s *LogService) ApplicationHealth(start, end time.Time) (*StoredApplicationHealth, error) {
	filter := LogFilter{StartDate: start, EndDate: end}
	var t core.Tally
	components := map[string]struct{}{}
	var durationSum float64
	var durationN int
	err := s.scan(filter.apply(s.db.Model(&models.Event{})), func(ev *models.Event) {
		t.Add(ev)
		if ev.Component != "" {
			components[ev.Component] = struct{}{}
		}
		if d, ok := ev.FieldFloat("duration"); ok {
			durationSum += d
			durationN++
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate application health: %w", err)
	}

	recent := []models.Event{}
	errFilter := filter
	errFilter.Level = models.LevelError
	if err := errFilter.apply(s.db).Order("timestamp desc").Limit(recentErrorLimit).Find(&recent).Error; err != nil {
		return nil, fmt.Errorf("failed to list recent errors: %w", err)
	}

	score := core.HealthScore(t.Errors, t.Warnings, t.ValidationFailures)
	h := &StoredApplicationHealth{
		OverallHealth:      score,
		TotalComponents:    len(components),
		TotalEvents:        t.Total,
		TotalErrors:        t.Errors,
		TotalWarnings:      t.Warnings,
		ValidationFailures: t.ValidationFailures,
		Status:             core.HealthStatus(score),
		RecentErrors:       recent,
	}
	if durationN > 0 {
		h.AvgResponseTime = int64(math.Round(durationSum / float64(durationN)))
	}
	return h, nil
}

// ErrorAnalytics groups error logs in the window by component and category,
// and buckets the last 24 hours of errors by hour regardless of the window.
func (s *LogService) ErrorAnalytics(start, end time.Time) (*ErrorAnalytics, error) {
	filter := LogFilter{Level: models.LevelError, StartDate: start, EndDate: end}

	byComponent := map[string]*ComponentErrors{}
	byCategory := map[string]int{}
	err := s.scan(filter.apply(s.db.Model(&models.Event{})), func(ev *models.Event) {
		c, ok := byComponent[ev.Component]
		if !ok {
			c = &ComponentErrors{Component: ev.Component, UniqueErrors: []string{}}
			byComponent[ev.Component] = c
		}
		c.Count++
		if msg := ev.FieldString("error"); msg != "" && !slices.Contains(c.UniqueErrors, msg) {
			c.UniqueErrors = append(c.UniqueErrors, msg)
		}
		byCategory[ev.Category]++
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate errors: %w", err)
	}

	timeline := map[string]int{}
	since := s.now().UTC().Add(-24 * time.Hour)
	recent := LogFilter{Level: models.LevelError, StartDate: since}
	err = s.scan(recent.apply(s.db.Model(&models.Event{})), func(ev *models.Event) {
		timeline[ev.Timestamp.UTC().Format("2006-01-02 15:00")]++
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build error timeline: %w", err)
	}

	out := &ErrorAnalytics{
		ErrorsByComponent: make([]ComponentErrors, 0, len(byComponent)),
		ErrorsByType:      make([]CategoryCount, 0, len(byCategory)),
		ErrorTimeline:     make([]HourCount, 0, len(timeline)),
	}
	for _, c := range byComponent {
		out.ErrorsByComponent = append(out.ErrorsByComponent, *c)
	}
	slices.SortFunc(out.ErrorsByComponent, func(a, b ComponentErrors) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Component, b.Component)
	})
	if len(out.ErrorsByComponent) > topErrorComponents {
		out.ErrorsByComponent = out.ErrorsByComponent[:topErrorComponents]
	}

	for cat, n := range byCategory {
		out.ErrorsByType = append(out.ErrorsByType, CategoryCount{Category: cat, Count: n})
	}
	slices.SortFunc(out.ErrorsByType, func(a, b CategoryCount) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Category, b.Category)
	})

	for hour, n := range timeline {
		out.ErrorTimeline = append(out.ErrorTimeline, HourCount{Hour: hour, Count: n})
	}
	slices.SortFunc(out.ErrorTimeline, func(a, b HourCount) int {
		return strings.Compare(a.Hour, b.Hour)
	})
	return out, nil
}

// Performance aggregates the duration field per component, or per action
// when component is set. Slowest average first.
func (s *LogService) Performance(component string, start, end time.Time) ([]PerformanceStat, error) {
	filter := LogFilter{Component: component, StartDate: start, EndDate: end}
	samples := map[string][]float64{}
	err := s.scan(filter.apply(s.db.Model(&models.Event{})), func(ev *models.Event) {
		d, ok := ev.FieldFloat("duration")
		if !ok {
			return
		}
		key := ev.Component
		if component != "" {
			key = ev.Action
		}
		samples[key] = append(samples[key], d)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate performance: %w", err)
	}

	out := make([]PerformanceStat, 0, len(samples))
	for name, values := range samples {
		slices.Sort(values)
		sum := 0.0
		for _, v := range values {
			sum += v
		}
		out = append(out, PerformanceStat{
			Name:        name,
			AvgDuration: round2(sum / float64(len(values))),
			MinDuration: round2(values[0]),
			MaxDuration: round2(values[len(values)-1]),
			P95Duration: round2(percentile(values, 0.95)),
			Count:       len(values),
		})
	}
	slices.SortFunc(out, func(a, b PerformanceStat) int {
		switch {
		case a.AvgDuration > b.AvgDuration:
			return -1
		case a.AvgDuration < b.AvgDuration:
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return out, nil
}

// Journey returns every stored event of a session in time order with a summary.
func (s *LogService) Journey(sessionID string) (*Journey, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("session id required")
	}

	events := []models.Event{}
	if err := s.db.Where("session_id = ?", sessionID).Order("timestamp asc").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to load journey: %w", err)
	}

	summary := JourneySummary{
		SessionID:   sessionID,
		TotalEvents: len(events),
		Components:  []string{},
		Pages:       []string{},
	}
	if len(events) > 0 {
		summary.StartTime = events[0].Timestamp
		summary.EndTime = events[len(events)-1].Timestamp
		summary.DurationMS = summary.EndTime.Sub(summary.StartTime).Milliseconds()
	}
	for i := range events {
		ev := &events[i]
		if ev.Component != "" && !slices.Contains(summary.Components, ev.Component) {
			summary.Components = append(summary.Components, ev.Component)
		}
		if ev.Level == models.LevelError {
			summary.Errors++
		}
		if ev.Category == models.CategoryNavigation {
			if to := ev.FieldString("to"); to != "" && !slices.Contains(summary.Pages, to) {
				summary.Pages = append(summary.Pages, to)
			}
		}
	}
	return &Journey{Summary: summary, Journey: events}, nil
}

// Cleanup deletes logs older than daysOld days (default 30).
func (s *LogService) Cleanup(daysOld int) (int64, error) {
	if daysOld <= 0 {
		daysOld = defaultRetentionDays
	}
	cutoff := s.now().UTC().AddDate(0, 0, -daysOld)
	res := s.db.Where("timestamp < ?", cutoff).Delete(&models.Event{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to cleanup logs: %w", res.Error)
	}
	s.log.Info("deleted old logs", zap.Int64("count", res.RowsAffected), zap.Int("days_old", daysOld))
	return res.RowsAffected, nil
}

// percentile returns the nearest-rank percentile of sorted values.
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p*float64(len(sorted)))) - 1
	rank = max(0, min(rank, len(sorted)-1))
	return sorted[rank]
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
