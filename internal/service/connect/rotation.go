package connect

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fitbridge/fitbridge-connect/internal/domain"
)

// maxConsecutiveRefreshFailures disables sync for a connection once the
// provider has rejected this many refresh attempts in a row. A revoked grant
// at the provider otherwise causes an endless retry churn.
const maxConsecutiveRefreshFailures = 5

// RefreshConnection rotates the connection's tokens when the access token is
// expired or expires within the configured threshold. A connection that is
// not near expiry is returned untouched.
func (s *service) RefreshConnection(ctx context.Context, userID int64, providerName string) (*domain.Connection, error) {
	conn, err := s.connections.GetByUserProvider(ctx, userID, providerName)
	if err != nil {
		return nil, err
	}
	if !conn.ExpiresWithin(s.cfg.ReactiveThreshold) {
		return &conn, nil
	}
	rotated, err := s.rotate(ctx, conn, domain.AuditRefreshed)
	if err != nil {
		return nil, err
	}
	return &rotated, nil
}

// Sweep rotates every sync-enabled connection whose token expires within the
// sweep horizon. Each connection succeeds or fails on its own; the pass
// always runs to completion and reports aggregate counts.
func (s *service) Sweep(ctx context.Context) (domain.SweepResult, error) {
	conns, err := s.connections.ListExpiring(ctx, time.Now().Add(s.cfg.SweepHorizon))
	if err != nil {
		return domain.SweepResult{}, fmt.Errorf("select expiring connections: %w", err)
	}

	result := domain.SweepResult{Checked: len(conns)}
	for _, conn := range conns {
		if _, err := s.rotate(ctx, conn, domain.AuditProactiveRefresh); err != nil {
			result.Failed++
			s.log().Warn("proactive rotation failed",
				zap.Int64("connection_id", conn.ID),
				zap.String("provider", conn.Provider),
				zap.Error(err))
			continue
		}
		result.Refreshed++
	}

	s.log().Info("rotation sweep finished",
		zap.Int("checked", result.Checked),
		zap.Int("refreshed", result.Refreshed),
		zap.Int("failed", result.Failed))
	return result, nil
}

// rotate is the shared rotation core. It refreshes against the provider and
// replaces both token fields, expiry, and rotation metadata in one
// conditional write keyed on the rotation count read here, so two concurrent
// rotations of the same connection cannot interleave: the loser gets
// domain.ErrRotationConflict and discards its result.
func (s *service) rotate(ctx context.Context, conn domain.Connection, action domain.AuditAction) (domain.Connection, error) {
	p, err := s.registry.Lookup(conn.Provider)
	if err != nil {
		return domain.Connection{}, err
	}

	refreshPlain, err := s.tokenPlaintext(conn, conn.RefreshToken)
	if err != nil {
		return domain.Connection{}, err
	}
	if strings.TrimSpace(refreshPlain) == "" {
		return domain.Connection{}, fmt.Errorf("%w: no refresh token on record", domain.ErrRefreshFailed)
	}

	tokenResp, err := s.providerClient.RefreshToken(ctx, p, refreshPlain)
	if err != nil {
		s.recordRefreshFailure(ctx, conn, err)
		return domain.Connection{}, domain.ErrRefreshFailed
	}
	if strings.TrimSpace(tokenResp.AccessToken) == "" {
		s.recordRefreshFailure(ctx, conn, errors.New("empty access token in refresh response"))
		return domain.Connection{}, domain.ErrRefreshFailed
	}

	// Providers may omit the refresh token from a refresh response; the
	// previous one stays valid and must be carried forward, or the
	// connection is orphaned for good.
	newRefresh := tokenResp.RefreshToken
	if strings.TrimSpace(newRefresh) == "" {
		newRefresh = refreshPlain
	}

	encAccess, err := s.envelope.Encrypt(tokenResp.AccessToken)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("encrypt access token: %w", err)
	}
	encRefresh, err := s.envelope.Encrypt(newRefresh)
	if err != nil {
		return domain.Connection{}, fmt.Errorf("encrypt refresh token: %w", err)
	}

	updated, err := s.connections.UpdateTokens(ctx, conn.ID, encAccess, encRefresh, expiryFrom(tokenResp.ExpiresIn), conn.RotationCount)
	if err != nil {
		return domain.Connection{}, err
	}

	s.appendAudit(ctx, updated, action, domain.RequestMeta{})
	return updated, nil
}

func (s *service) recordRefreshFailure(ctx context.Context, conn domain.Connection, cause error) {
	failures, disabled, err := s.connections.RecordRefreshFailure(ctx, conn.ID, maxConsecutiveRefreshFailures)
	if err != nil {
		s.log().Error("record refresh failure",
			zap.Int64("connection_id", conn.ID),
			zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.Int64("connection_id", conn.ID),
		zap.String("provider", conn.Provider),
		zap.Int32("consecutive_failures", failures),
		zap.Error(cause),
	}
	if disabled {
		s.log().Warn("sync disabled after repeated refresh failures", fields...)
		return
	}
	s.log().Warn("token refresh rejected by provider", fields...)
}
