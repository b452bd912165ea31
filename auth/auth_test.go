package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cosmicwatch/core"
	"cosmicwatch/database"
	"cosmicwatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newTestService(t *testing.T) (*Service, *clock) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "auth.db")
	db, err := database.OpenPath(path, database.SQLiteOptions{PragmasEnabled: true, BusyTimeoutMS: 1000}, "INFO", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	c := &clock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := New(db, Options{AccessTTL: 15 * time.Minute, RefreshTTL: 24 * time.Hour, Now: c.now})
	return svc, c
}

func TestIssueAndExchange(t *testing.T) {
	svc, _ := newTestService(t)

	rt, exp, err := svc.IssueRefreshToken("user-1")
	require.NoError(t, err)
	assert.Contains(t, rt, ".")
	assert.Equal(t, time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC), exp)

	res, err := svc.Exchange(rt)
	require.NoError(t, err)
	require.NotEmpty(t, res.Token)

	user, err := svc.ValidateAccessToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", user)
}

func TestExchange_RejectsBadTokens(t *testing.T) {
	svc, _ := newTestService(t)
	rt, _, err := svc.IssueRefreshToken("user-1")
	require.NoError(t, err)
	id, _, _ := strings.Cut(rt, ".")

	for _, bad := range []string{"", "nodot", id + ".wrong-secret", "unknown.secret"} {
		_, err := svc.Exchange(bad)
		assert.ErrorIs(t, err, ErrInvalidRefreshToken, bad)
	}
}

func TestExchange_Expired(t *testing.T) {
	svc, c := newTestService(t)
	rt, _, err := svc.IssueRefreshToken("user-1")
	require.NoError(t, err)

	c.t = c.t.Add(25 * time.Hour)
	_, err = svc.Exchange(rt)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestAccessTokenExpiry(t *testing.T) {
	svc, c := newTestService(t)
	rt, _, err := svc.IssueRefreshToken("user-1")
	require.NoError(t, err)
	res, err := svc.Exchange(rt)
	require.NoError(t, err)

	c.t = c.t.Add(16 * time.Minute)
	_, err = svc.ValidateAccessToken(res.Token)
	assert.ErrorIs(t, err, ErrTokenExpired)

	_, err = svc.ValidateAccessToken("never-issued")
	assert.ErrorIs(t, err, ErrInvalidAccessToken)
}

func TestRevokeAndPurge(t *testing.T) {
	svc, c := newTestService(t)
	rt, _, err := svc.IssueRefreshToken("user-1")
	require.NoError(t, err)
	_, err = svc.Exchange(rt)
	require.NoError(t, err)

	require.NoError(t, svc.Revoke(rt))
	_, err = svc.Exchange(rt)
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)

	c.t = c.t.Add(time.Hour)
	n, err := svc.PurgeExpired()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestServiceIsTokenRefresher(t *testing.T) {
	svc, _ := newTestService(t)
	var r core.TokenRefresher = svc

	rt, _, err := svc.IssueRefreshToken("user-1")
	require.NoError(t, err)
	token, err := r.Refresh(context.Background(), rt)
	require.NoError(t, err)
	assert.NotEmpty(t, token)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Refresh(ctx, rt)
	assert.ErrorIs(t, err, context.Canceled)
}

func envelope(t *testing.T, w http.ResponseWriter, status int, code string, data any) {
	t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(t, err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.Envelope{Code: code, Message: code, Data: raw})
}

func TestHTTPRefresher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req models.RefreshRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken != "good" {
			envelope(t, w, http.StatusUnauthorized, models.CodeUnauthorized, nil)
			return
		}
		envelope(t, w, http.StatusOK, models.CodeOK, models.RefreshResponse{Token: "access-1"})
	}))
	defer srv.Close()

	r := NewHTTPRefresher(srv.URL, srv.Client())

	token, err := r.Refresh(context.Background(), "good")
	require.NoError(t, err)
	assert.Equal(t, "access-1", token)

	_, err = r.Refresh(context.Background(), "bad")
	require.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, core.StatusOf(err))
	assert.Equal(t, core.TokenExpired, core.Classify(err))
}
