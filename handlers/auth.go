package handlers

import (
	"errors"
	"net/http"

	"cosmicwatch/auth"
	"cosmicwatch/models"

	"github.com/gin-gonic/gin"
)

// RefreshToken exchanges a refresh token for a new access token.
func (h *Handler) RefreshToken(c *gin.Context) {
	var req models.RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}

	res, err := h.svc.Auth.Exchange(req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidRefreshToken), errors.Is(err, auth.ErrTokenExpired):
			errV2(c, http.StatusUnauthorized, models.CodeUnauthorized, err.Error(), nil)
		default:
			_ = c.Error(err)
			errV2(c, http.StatusInternalServerError, models.CodeInternal, "Failed to refresh token", err.Error())
		}
		return
	}
	okV2(c, res)
}

// IssueRefreshToken mints a refresh token for a user. The plaintext is only
// shown in this response.
func (h *Handler) IssueRefreshToken(c *gin.Context) {
	var req models.IssueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		errV2(c, http.StatusBadRequest, models.CodeInvalidRequest, "Invalid request", err.Error())
		return
	}

	token, expiresAt, err := h.svc.Auth.IssueRefreshToken(req.UserID)
	if err != nil {
		_ = c.Error(err)
		errV2(c, http.StatusInternalServerError, models.CodeInternal, "Failed to issue refresh token", err.Error())
		return
	}
	respondV2(c, http.StatusCreated, models.CodeOK, "OK", gin.H{
		"refreshToken": token,
		"expiresAt":    expiresAt,
	})
}
