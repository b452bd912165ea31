package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cosmicwatch/database"
	"cosmicwatch/models"
	"cosmicwatch/service"

	"github.com/gin-gonic/gin"
)

// StoreLogs ingests a batch of client logs.
func (h *Handler) StoreLogs(c *gin.Context) {
	var batch models.LogBatch
	if err := c.ShouldBindJSON(&batch); err != nil {
		h.metrics.IngestRejected("invalid")
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, service.ErrInvalidBatch.Error(), err.Error())
		return
	}

	stored, err := h.svc.IngestLogs(c.Request.Context(), batch)
	if err != nil {
		if errors.Is(err, service.ErrInvalidBatch) {
			h.metrics.IngestRejected("invalid")
			errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, err.Error(), nil)
			return
		}
		if database.IsContention(err) {
			h.metrics.IngestRejected("busy")
			c.Header("Retry-After", "5")
			errV2(c, http.StatusServiceUnavailable, models.CodeResourceBusy, "Log store is busy", err.Error())
			return
		}
		_ = c.Error(err)
		errV2(c, http.StatusInternalServerError, models.CodeInternal, "Failed to store logs", err.Error())
		return
	}

	respondV2(c, http.StatusCreated, models.CodeOK, fmt.Sprintf("Stored %d logs", stored), gin.H{
		"sessionId": batch.SessionID,
		"received":  len(batch.Logs),
		"stored":    stored,
	})
}

// parseWindow reads the optional startDate/endDate query parameters.
func parseWindow(c *gin.Context) (start, end time.Time, err error) {
	if start, err = parseDate(c.Query("startDate")); err != nil {
		return start, end, fmt.Errorf("invalid startDate: %w", err)
	}
	if end, err = parseDate(c.Query("endDate")); err != nil {
		return start, end, fmt.Errorf("invalid endDate: %w", err)
	}
	return start, end, nil
}

// parseDate accepts RFC 3339, a bare date, or Unix milliseconds.
func parseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", raw)
}

func queryInt(c *gin.Context, key string, def int) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", key, raw)
	}
	return v, nil
}

// GetLogs returns stored logs with filtering and pagination.
func (h *Handler) GetLogs(c *gin.Context) {
	start, end, err := parseWindow(c)
	if err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}
	page, err := queryInt(c, "page", 1)
	if err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}

	filter := service.LogFilter{
		SessionID:        c.Query("sessionId"),
		Component:        c.Query("component"),
		Level:            c.Query("level"),
		Category:         c.Query("category"),
		ValidationStatus: c.Query("validationStatus"),
		StartDate:        start,
		EndDate:          end,
	}
	result, err := h.svc.Logs.Query(filter, page, limit)
	if err != nil {
		_ = c.Error(err)
		errV2(c, http.StatusInternalServerError, models.CodeInternal, "Failed to fetch logs", err.Error())
		return
	}
	okV2(c, result)
}

// GetComponentHealth reports per-component health over stored logs.
func (h *Handler) GetComponentHealth(c *gin.Context) {
	start, end, err := parseWindow(c)
	if err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}
	health, err := h.svc.Logs.ComponentHealth(c.Query("component"), start, end)
	if err != nil {
		_ = c.Error(err)
		errV2(c, http.StatusInternalServerError, models.CodeInternal, "Failed to fetch component health", err.Error())
		return
	}
	okV2(c, health)
}

// GetApplicationHealth reports the overview across stored logs.
func (h *Handler) GetApplicationHealth(c *gin.Context) {
	start, end, err := parseWindow(c)
	if err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}
	health, err := h.svc.Logs.ApplicationHealth(start, end)
	if err != nil {
		_ = c.Error(err)
		errV2(c, http.StatusInternalServerError, models.CodeInternal, "Failed to fetch application health", err.Error())
		return
	}
	okV2(c, health)
}

func (h *Handler) GetErrorAnalytics(c *gin.Context) {
	start, end, err := parseWindow(c)
	if err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}
	analytics, err := h.svc.Logs.ErrorAnalytics(start, end)
	if err != nil {
		_ = c.Error(err)
		errV2(c, http.StatusInternalServerError, models.CodeInternal, "Failed to fetch error analytics", err.Error())
		return
	}
	okV2(c, analytics)
}

func (h *Handler) GetPerformanceMetrics(c *gin.Context) {
	start, end, err := parseWindow(c)
	if err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}
	stats, err := h.svc.Logs.Performance(c.Query("component"), start, end)
	if err != nil {
		_ = c.Error(err)
		errV2(c, http.StatusInternalServerError, models.CodeInternal, "Failed to fetch performance metrics", err.Error())
		return
	}
	okV2(c, stats)
}

// GetUserJourney replays one session.
func (h *Handler) GetUserJourney(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("sessionId"))
	if sessionID == "" {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Session ID required", nil)
		return
	}
	journey, err := h.svc.Logs.Journey(sessionID)
	if err != nil {
		_ = c.Error(err)
		errV2(c, http.StatusInternalServerError, models.CodeInternal, "Failed to fetch user journey", err.Error())
		return
	}
	okV2(c, journey)
}

// CleanupLogs deletes logs older than daysOld (default: the retention setting).
func (h *Handler) CleanupLogs(c *gin.Context) {
	days, err := queryInt(c, "daysOld", h.retention)
	if err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}
	deleted, err := h.svc.Logs.Cleanup(days)
	if err != nil {
		_ = c.Error(err)
		errV2(c, http.StatusInternalServerError, models.CodeInternal, "Failed to cleanup logs", err.Error())
		return
	}
	respondV2(c, http.StatusOK, models.CodeOK, fmt.Sprintf("Deleted %d logs", deleted), gin.H{"deletedCount": deleted})
}
