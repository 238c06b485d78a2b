package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fitbridge/fitbridge-connect/internal/domain"
	httpmiddleware "github.com/fitbridge/fitbridge-connect/internal/http/middleware"
	"github.com/fitbridge/fitbridge-connect/internal/service/connect"
)

type stubService struct {
	startOut   *connect.StartAuthorizationOutput
	startErr   error
	summary    *domain.ConnectionSummary
	summaryErr error
	revokeErr  error
	entries    []domain.AuditLogEntry
	sweep      domain.SweepResult
}

func (s *stubService) StartAuthorization(context.Context, int64, string) (*connect.StartAuthorizationOutput, error) {
	return s.startOut, s.startErr
}

func (s *stubService) CompleteAuthorization(context.Context, int64, connect.CallbackInput) (*domain.ConnectionSummary, error) {
	return s.summary, s.summaryErr
}

func (s *stubService) RefreshConnection(context.Context, int64, string) (*domain.Connection, error) {
	return nil, nil
}

func (s *stubService) Sweep(context.Context) (domain.SweepResult, error) {
	return s.sweep, nil
}

func (s *stubService) Revoke(context.Context, int64, int64, domain.RequestMeta) error {
	return s.revokeErr
}

func (s *stubService) RecentActivity(context.Context, int64, int) ([]domain.AuditLogEntry, error) {
	return s.entries, nil
}

func newTestRouter(svc connect.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewConnectHandler(svc, zap.NewNop())
	r := gin.New()
	r.POST("/v1/oauth/:provider", httpmiddleware.Identity(), h.Action)
	r.GET("/v1/audit", httpmiddleware.Identity(), h.Audit)
	r.POST("/internal/sweep", h.Sweep)
	return r
}

func doAction(t *testing.T, r *gin.Engine, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/v1/oauth/google_fit", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAction_RequiresIdentity(t *testing.T) {
	r := newTestRouter(&stubService{})
	w := doAction(t, r, "", gin.H{"action": "initiate"})
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAction_Initiate(t *testing.T) {
	svc := &stubService{startOut: &connect.StartAuthorizationOutput{
		AuthorizationURL: "https://accounts.google.com/o/oauth2/v2/auth?state=s",
		Provider:         "google_fit",
	}}
	r := newTestRouter(svc)

	w := doAction(t, r, "42", gin.H{"action": "initiate"})
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Contains(t, resp["authorization_url"], "state=")
}

func TestAction_UnsupportedAction(t *testing.T) {
	r := newTestRouter(&stubService{})
	w := doAction(t, r, "42", gin.H{"action": "sideload"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAction_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"provider not configured", domain.ErrProviderNotConfigured, http.StatusServiceUnavailable},
		{"invalid state", domain.ErrInvalidState, http.StatusBadRequest},
		{"exchange failed", domain.ErrExchangeFailed, http.StatusBadGateway},
		{"rate limited", &domain.RateLimitError{RetryAfter: 30 * time.Second}, http.StatusTooManyRequests},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestRouter(&stubService{summaryErr: tc.err})
			w := doAction(t, r, "42", gin.H{"action": "callback", "code": "c", "state": "s"})
			require.Equal(t, tc.status, w.Code)
		})
	}
}

func TestAction_ExchangeFailureIsOpaque(t *testing.T) {
	r := newTestRouter(&stubService{summaryErr: domain.ErrExchangeFailed})
	w := doAction(t, r, "42", gin.H{"action": "callback", "code": "c", "state": "s"})
	require.Equal(t, http.StatusBadGateway, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "provider_error", resp["error"])
	require.NotContains(t, w.Body.String(), "exchange")
}

func TestAction_RevokeRequiresConnectionID(t *testing.T) {
	r := newTestRouter(&stubService{})
	w := doAction(t, r, "42", gin.H{"action": "revoke"})
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAudit_ReturnsEntries(t *testing.T) {
	svc := &stubService{entries: []domain.AuditLogEntry{
		{ID: 1, UserID: 42, Provider: "google_fit", Action: domain.AuditStored},
	}}
	r := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/v1/audit?limit=10", nil)
	req.Header.Set("X-User-ID", "42")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Contains(t, w.Body.String(), `"stored"`)
}

func TestSweep_ReturnsCounts(t *testing.T) {
	svc := &stubService{sweep: domain.SweepResult{Checked: 3, Refreshed: 2, Failed: 1}}
	r := newTestRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var result domain.SweepResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	require.Equal(t, domain.SweepResult{Checked: 3, Refreshed: 2, Failed: 1}, result)
}
