package handlers

import (
	"net/http"
	"strings"

	"cosmicwatch/core"
	"cosmicwatch/models"

	"github.com/gin-gonic/gin"
)

// ClassifyRequest is the body of POST /api/runtime/classify.
type ClassifyRequest struct {
	Message string `json:"message" binding:"required"`
	Status  int    `json:"status"`
}

// GetRuntimeEvents lists the server's own buffered events, newest first.
func (h *Handler) GetRuntimeEvents(c *gin.Context) {
	since, until, err := parseWindow(c)
	if err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}
	limit, err := queryInt(c, "limit", 100)
	if err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}
	filter := core.EventFilter{
		Component:        c.Query("component"),
		Level:            strings.ToLower(c.Query("level")),
		Category:         strings.ToLower(c.Query("category")),
		ValidationStatus: c.Query("validationStatus"),
		Since:            since,
		Until:            until,
	}
	events := h.svc.Runtime.Events(filter, limit)
	okV2(c, gin.H{
		"sessionId": h.rt.Log.SessionID(),
		"total":     h.rt.Log.Len(),
		"events":    events,
	})
}

func (h *Handler) GetRuntimeHealth(c *gin.Context) {
	okV2(c, h.svc.Runtime.Health())
}

func (h *Handler) GetRuntimeComponentHealth(c *gin.Context) {
	name := strings.TrimSpace(c.Param("component"))
	_, tracked := h.rt.Components.Get(name)
	if !tracked && len(h.rt.Log.Collect(core.EventFilter{Component: name}, 1)) == 0 {
		errV2(c, http.StatusNotFound, models.CodeNotFound, "Component not tracked", name)
		return
	}
	okV2(c, h.svc.Runtime.ComponentHealth(name))
}

func (h *Handler) GetCorrections(c *gin.Context) {
	okV2(c, h.svc.Runtime.Corrections())
}

func (h *Handler) ClearCorrections(c *gin.Context) {
	h.svc.Runtime.ClearCorrections()
	okV2(c, gin.H{"ok": true})
}

func (h *Handler) GetCorrectionStats(c *gin.Context) {
	okV2(c, h.svc.Runtime.CorrectionStats())
}

// Classify reports which category and strategy an error message maps to.
func (h *Handler) Classify(c *gin.Context) {
	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}
	okV2(c, h.svc.Runtime.Classify(req.Message, req.Status))
}
