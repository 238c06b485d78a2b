package connect

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fitbridge/fitbridge-connect/internal/domain"
)

// CompleteAuthorization exchanges the callback code for tokens and persists
// the connection with both tokens encrypted. The state tuple is consumed
// exactly once: a replayed or mismatched callback fails with
// domain.ErrInvalidState regardless of why, so the response leaks nothing
// about which check tripped.
func (s *service) CompleteAuthorization(ctx context.Context, userID int64, in CallbackInput) (*domain.ConnectionSummary, error) {
	if err := s.limiter.Guard(ctx, userID, "callback", s.cfg.CallbackLimit.MaxRequests, s.cfg.CallbackLimit.Window); err != nil {
		return nil, err
	}
	if strings.TrimSpace(in.State) == "" {
		return nil, domain.ErrMissingState
	}

	p, err := s.registry.Lookup(in.Provider)
	if err != nil {
		return nil, err
	}

	stored, err := s.stateStore.Consume(ctx, userID, p.Name)
	if err != nil {
		return nil, fmt.Errorf("consume state: %w", err)
	}
	if stored == nil ||
		subtle.ConstantTimeCompare([]byte(stored.State), []byte(in.State)) != 1 ||
		time.Since(stored.CreatedAt) > s.cfg.StateTTL {
		return nil, domain.ErrInvalidState
	}

	tokenResp, err := s.providerClient.ExchangeCode(ctx, p, in.Code, stored.CodeVerifier, s.cfg.RedirectURL)
	if err != nil {
		s.log().Error("code exchange rejected",
			zap.Int64("user_id", userID),
			zap.String("provider", p.Name),
			zap.Error(err))
		return nil, domain.ErrExchangeFailed
	}
	if strings.TrimSpace(tokenResp.AccessToken) == "" {
		s.log().Error("code exchange returned no access token",
			zap.Int64("user_id", userID),
			zap.String("provider", p.Name))
		return nil, domain.ErrExchangeFailed
	}
	if strings.TrimSpace(tokenResp.RefreshToken) == "" {
		s.log().Warn("provider issued no refresh token, connection cannot be rotated",
			zap.Int64("user_id", userID),
			zap.String("provider", p.Name))
	}

	encAccess, err := s.envelope.Encrypt(tokenResp.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt access token: %w", err)
	}
	encRefresh, err := s.envelope.Encrypt(tokenResp.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypt refresh token: %w", err)
	}

	scopes := p.Scopes
	if granted := strings.Fields(tokenResp.Scope); len(granted) > 0 {
		scopes = granted
	}

	conn, err := s.connections.Upsert(ctx, domain.Connection{
		UserID:          userID,
		Provider:        p.Name,
		AccessToken:     encAccess,
		RefreshToken:    encRefresh,
		TokenExpiresAt:  expiryFrom(tokenResp.ExpiresIn),
		Scopes:          scopes,
		TokensEncrypted: true,
	})
	if err != nil {
		return nil, fmt.Errorf("persist connection: %w", err)
	}

	s.appendAudit(ctx, conn, domain.AuditStored, in.Meta)

	s.log().Info("connection established",
		zap.Int64("user_id", userID),
		zap.String("provider", p.Name),
		zap.Int64("connection_id", conn.ID))

	return &domain.ConnectionSummary{
		ConnectionID: conn.ID,
		Provider:     conn.Provider,
		Success:      true,
	}, nil
}

func expiryFrom(expiresIn int64) time.Time {
	if expiresIn <= 0 {
		expiresIn = 3600
	}
	return time.Now().Add(time.Duration(expiresIn) * time.Second)
}
