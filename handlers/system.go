package handlers

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"net/http"
	"runtime"
	"sync"
	"time"

	"cosmicwatch/models"
	"cosmicwatch/version"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const shutdownCodeTTL = 5 * time.Minute

// shutdownManager holds the one-time confirmation code for remote shutdown.
type shutdownManager struct {
	mu        sync.Mutex
	code      string
	expiresAt time.Time
	trigger   func()
}

func (h *Handler) HealthCheck(c *gin.Context) {
	dbHealthy := h.svc.DB.Ping(c.Request.Context())
	app := h.svc.Runtime.Health()

	health := gin.H{
		"status":         "healthy",
		"timestamp":      time.Now().Unix(),
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
		"db_healthy":     dbHealthy,
		"runtime": gin.H{
			"session_id":     h.rt.Log.SessionID(),
			"overall_health": app.OverallHealth,
			"status":         app.Status,
		},
	}

	if !dbHealthy {
		health["status"] = "degraded"
		respondV2(c, http.StatusServiceUnavailable, models.CodeInternal, "Service degraded", health)
		return
	}
	okV2(c, health)
}

func (h *Handler) Version(c *gin.Context) {
	okV2(c, version.Info())
}

// GetMetrics returns a JSON snapshot of process and runtime counters.
func (h *Handler) GetMetrics(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	sink := gin.H{"enabled": false}
	if f := h.rt.Flusher; f != nil {
		sink = gin.H{
			"enabled":       true,
			"pending":       f.Pending(),
			"dropped_total": f.DroppedTotal(),
		}
	}

	okV2(c, gin.H{
		"timestamp": time.Now().Unix(),
		"runtime": gin.H{
			"session_id":     h.rt.Log.SessionID(),
			"events":         h.rt.Log.Len(),
			"event_capacity": h.rt.Log.Capacity(),
			"components":     h.rt.Components.Len(),
			"corrections":    h.svc.Runtime.CorrectionStats(),
		},
		"sink": sink,
		"sqlite": gin.H{
			"busy_errors_total":   h.svc.DB.Errors.Busy(),
			"locked_errors_total": h.svc.DB.Errors.Locked(),
		},
		"system": gin.H{
			"goroutines":   runtime.NumGoroutine(),
			"memory_alloc": mem.Alloc,
			"memory_total": mem.TotalAlloc,
			"memory_sys":   mem.Sys,
			"gc_runs":      mem.NumGC,
		},
	})
}

// GenerateShutdownCode creates a shutdown confirmation code
func (h *Handler) GenerateShutdownCode(c *gin.Context) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		errV2(c, http.StatusInternalServerError, models.CodeInternal, "Failed to generate code", err.Error())
		return
	}

	h.shutdown.mu.Lock()
	h.shutdown.code = fmt.Sprintf("%06d", n.Int64())
	h.shutdown.expiresAt = time.Now().Add(shutdownCodeTTL)
	code, expiresAt := h.shutdown.code, h.shutdown.expiresAt
	h.shutdown.mu.Unlock()

	okV2(c, gin.H{"code": code, "expires_at": expiresAt.Unix()})
}

// VerifyAndShutdown validates the confirmation code and stops the server.
func (h *Handler) VerifyAndShutdown(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}

	h.shutdown.mu.Lock()
	stored, expiresAt := h.shutdown.code, h.shutdown.expiresAt
	switch {
	case stored == "":
		h.shutdown.mu.Unlock()
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "No shutdown code generated. Please generate one first.", nil)
		return
	case time.Now().After(expiresAt):
		h.shutdown.code = ""
		h.shutdown.mu.Unlock()
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Shutdown code expired. Please generate a new one.", nil)
		return
	case req.Code != stored:
		h.shutdown.mu.Unlock()
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid shutdown code", nil)
		return
	}
	h.shutdown.code = ""
	trigger := h.shutdown.trigger
	h.shutdown.mu.Unlock()

	okV2(c, gin.H{"ok": true, "message": "Shutdown initiated"})

	if trigger == nil {
		return
	}
	h.log.Warn("shutdown requested via API", zap.String("remote_addr", c.ClientIP()))
	go func() {
		// Give the client time to receive the response.
		time.Sleep(500 * time.Millisecond)
		trigger()
	}()
}
