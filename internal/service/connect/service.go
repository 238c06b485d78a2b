package connect

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"go.uber.org/zap"

	oauthadapter "github.com/fitbridge/fitbridge-connect/internal/adapter/oauth"
	"github.com/fitbridge/fitbridge-connect/internal/config"
	"github.com/fitbridge/fitbridge-connect/internal/crypto"
	"github.com/fitbridge/fitbridge-connect/internal/domain"
	"github.com/fitbridge/fitbridge-connect/internal/provider"
	"github.com/fitbridge/fitbridge-connect/internal/ratelimit"
	"github.com/fitbridge/fitbridge-connect/internal/repository"
)

// Service manages the OAuth credential lifecycle for wearable provider
// connections: authorization, encrypted persistence, rotation, revocation,
// and the audit trail read path.
type Service interface {
	StartAuthorization(ctx context.Context, userID int64, providerName string) (*StartAuthorizationOutput, error)
	CompleteAuthorization(ctx context.Context, userID int64, in CallbackInput) (*domain.ConnectionSummary, error)
	// RefreshConnection is the reactive rotation entry point for sync
	// collaborators. It rotates only when the access token expires within
	// the configured threshold and returns the current connection either way.
	RefreshConnection(ctx context.Context, userID int64, providerName string) (*domain.Connection, error)
	// Sweep proactively rotates every sync-enabled connection expiring
	// within the configured horizon. Individual failures never abort the
	// pass.
	Sweep(ctx context.Context) (domain.SweepResult, error)
	Revoke(ctx context.Context, userID, connectionID int64, meta domain.RequestMeta) error
	RecentActivity(ctx context.Context, userID int64, limit int) ([]domain.AuditLogEntry, error)
}

// StartAuthorizationOutput returns the prepared consent URL. Redirecting the
// user is the caller's responsibility.
type StartAuthorizationOutput struct {
	AuthorizationURL string
	Provider         string
}

// CallbackInput captures provider callback parameters plus request metadata
// for the audit trail.
type CallbackInput struct {
	Provider string
	Code     string
	State    string
	Meta     domain.RequestMeta
}

type service struct {
	registry       *provider.Registry
	stateStore     repository.StateStore
	providerClient oauthadapter.ProviderClient
	connections    repository.ConnectionRepository
	audit          repository.AuditLogRepository
	limiter        *ratelimit.Limiter
	envelope       *crypto.Envelope
	cfg            config.Config
	logger         *zap.Logger
}

// NewService wires the lifecycle manager.
func NewService(
	registry *provider.Registry,
	stateStore repository.StateStore,
	providerClient oauthadapter.ProviderClient,
	connections repository.ConnectionRepository,
	audit repository.AuditLogRepository,
	limiter *ratelimit.Limiter,
	envelope *crypto.Envelope,
	cfg config.Config,
	logger *zap.Logger,
) Service {
	return &service{
		registry:       registry,
		stateStore:     stateStore,
		providerClient: providerClient,
		connections:    connections,
		audit:          audit,
		limiter:        limiter,
		envelope:       envelope,
		cfg:            cfg,
		logger:         logger,
	}
}

// tokenPlaintext returns the usable token value. Rows written before envelope
// encryption carry plaintext and are read as-is; encrypted rows must decrypt
// or the caller sees domain.ErrDecryptionFailed.
func (s *service) tokenPlaintext(conn domain.Connection, field string) (string, error) {
	if !conn.TokensEncrypted {
		return field, nil
	}
	return s.envelope.Decrypt(field)
}

func (s *service) appendAudit(ctx context.Context, conn domain.Connection, action domain.AuditAction, meta domain.RequestMeta) {
	entry := domain.AuditLogEntry{
		ConnectionID: conn.ID,
		UserID:       conn.UserID,
		Provider:     conn.Provider,
		Action:       action,
		IP:           meta.IP,
		UserAgent:    meta.UserAgent,
	}
	if err := s.audit.Append(ctx, entry); err != nil {
		// Audit writes never abort the operation they describe.
		s.log().Error("append audit entry",
			zap.Int64("connection_id", conn.ID),
			zap.String("action", string(action)),
			zap.Error(err))
	}
}

// RecentActivity exposes the audit trail read path for the external
// dashboard. Entries are immutable; there is no mutation API.
func (s *service) RecentActivity(ctx context.Context, userID int64, limit int) ([]domain.AuditLogEntry, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	entries, err := s.audit.ListRecentByUser(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent activity: %w", err)
	}
	return entries, nil
}

func (s *service) log() *zap.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return zap.L()
}

func secureRandomString(size int) (string, error) {
	if size <= 0 {
		size = 32
	}
	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
