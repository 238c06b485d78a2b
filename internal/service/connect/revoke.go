package connect

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/fitbridge/fitbridge-connect/internal/domain"
)

// Revoke disconnects a provider. The local delete is the source of truth: the
// provider-side revocation is attempted at most once and its failure is
// logged, never propagated, so a corrupted token or an unreachable provider
// cannot leave the user looking connected.
func (s *service) Revoke(ctx context.Context, userID, connectionID int64, meta domain.RequestMeta) error {
	if err := s.limiter.Guard(ctx, userID, "revoke", s.cfg.RevokeLimit.MaxRequests, s.cfg.RevokeLimit.Window); err != nil {
		return err
	}

	conn, err := s.connections.GetByID(ctx, userID, connectionID)
	if err != nil {
		return err
	}

	s.revokeAtProvider(ctx, conn)

	if err := s.connections.Delete(ctx, conn.ID); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}

	s.appendAudit(ctx, conn, domain.AuditRevoked, meta)

	s.log().Info("connection revoked",
		zap.Int64("user_id", userID),
		zap.Int64("connection_id", conn.ID),
		zap.String("provider", conn.Provider))
	return nil
}

func (s *service) revokeAtProvider(ctx context.Context, conn domain.Connection) {
	p, err := s.registry.Lookup(conn.Provider)
	if err != nil {
		s.log().Warn("provider not configured, skipping provider-side revoke",
			zap.Int64("connection_id", conn.ID),
			zap.String("provider", conn.Provider))
		return
	}
	accessPlain, err := s.tokenPlaintext(conn, conn.AccessToken)
	if err != nil {
		s.log().Warn("cannot decrypt access token for provider-side revoke",
			zap.Int64("connection_id", conn.ID),
			zap.Error(err))
		return
	}
	if err := s.providerClient.RevokeToken(ctx, p, accessPlain); err != nil {
		s.log().Warn("provider-side revoke failed",
			zap.Int64("connection_id", conn.ID),
			zap.String("provider", conn.Provider),
			zap.Error(err))
	}
}
