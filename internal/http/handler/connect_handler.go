package handler

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/fitbridge/fitbridge-connect/internal/domain"
	"github.com/fitbridge/fitbridge-connect/internal/http/middleware"
	"github.com/fitbridge/fitbridge-connect/internal/service/connect"
)

// ConnectHandler exposes the credential lifecycle over HTTP.
type ConnectHandler struct {
	Service connect.Service
	Logger  *zap.Logger
}

// NewConnectHandler creates the handler set.
func NewConnectHandler(service connect.Service, logger *zap.Logger) *ConnectHandler {
	return &ConnectHandler{Service: service, Logger: logger}
}

type actionRequest struct {
	Action       string `json:"action" binding:"required"`
	Code         string `json:"code"`
	State        string `json:"state"`
	ConnectionID int64  `json:"connection_id,string"`
}

// Action dispatches the JSON action envelope for one provider: initiate,
// callback, or revoke.
func (h *ConnectHandler) Action(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	providerName := strings.TrimSpace(c.Param("provider"))

	var req actionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_request",
			"error_description": "Malformed action envelope.",
		})
		return
	}

	meta := domain.RequestMeta{IP: c.ClientIP(), UserAgent: c.Request.UserAgent()}

	switch strings.ToLower(req.Action) {
	case "initiate":
		out, err := h.Service.StartAuthorization(c.Request.Context(), userID, providerName)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"authorization_url": out.AuthorizationURL})

	case "callback":
		summary, err := h.Service.CompleteAuthorization(c.Request.Context(), userID, connect.CallbackInput{
			Provider: providerName,
			Code:     req.Code,
			State:    req.State,
			Meta:     meta,
		})
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)

	case "revoke":
		if req.ConnectionID == 0 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":             "invalid_request",
				"error_description": "connection_id is required.",
			})
			return
		}
		if err := h.Service.Revoke(c.Request.Context(), userID, req.ConnectionID, meta); err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true})

	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "unsupported_action",
			"error_description": "Unsupported action.",
		})
	}
}

// Audit returns the caller's recent credential lifecycle entries.
func (h *ConnectHandler) Audit(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	limit := 50
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	entries, err := h.Service.RecentActivity(c.Request.Context(), userID, limit)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries})
}

// Sweep runs one proactive rotation pass. Exposed on the internal surface for
// operators; the scheduler calls the service directly.
func (h *ConnectHandler) Sweep(c *gin.Context) {
	result, err := h.Service.Sweep(c.Request.Context())
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// Healthz is a liveness probe.
func (h *ConnectHandler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// respondError maps service errors to HTTP responses. Provider failures stay
// opaque: the caller gets an error id referencing server-side logs, never the
// provider's response body.
func (h *ConnectHandler) respondError(c *gin.Context, err error) {
	requestID := middleware.RequestID(c)

	if rle, ok := domain.IsRateLimited(err); ok {
		c.Header("Retry-After", strconv.Itoa(int(rle.RetryAfter.Seconds())))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error":       "rate_limited",
			"retry_after": int(rle.RetryAfter.Seconds()),
		})
		return
	}

	switch {
	case errors.Is(err, domain.ErrProviderNotConfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error":             "provider_not_configured",
			"error_description": "This provider is not available.",
		})
	case errors.Is(err, domain.ErrMissingState):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "missing_state",
			"error_description": "state is required.",
		})
	case errors.Is(err, domain.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":             "invalid_or_expired_state",
			"error_description": "Authorization attempt is invalid or has expired. Start over.",
		})
	case errors.Is(err, domain.ErrExchangeFailed), errors.Is(err, domain.ErrRefreshFailed):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":    "provider_error",
			"error_id": requestID,
		})
	case errors.Is(err, domain.ErrConnectionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "connection_not_found"})
	case errors.Is(err, domain.ErrRotationConflict):
		c.JSON(http.StatusConflict, gin.H{"error": "rotation_in_progress"})
	default:
		h.log().Error("unhandled service error",
			zap.String("request_id", requestID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":    "server_error",
			"error_id": requestID,
		})
	}
}

func (h *ConnectHandler) log() *zap.Logger {
	if h != nil && h.Logger != nil {
		return h.Logger
	}
	return zap.L()
}
