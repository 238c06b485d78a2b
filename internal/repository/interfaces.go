package repository

import (
	"context"
	"time"

	"github.com/fitbridge/fitbridge-connect/internal/domain"
	"github.com/fitbridge/fitbridge-connect/internal/domain/oauth"
)

// ConnectionRepository persists provider connections.
type ConnectionRepository interface {
	Upsert(ctx context.Context, conn domain.Connection) (domain.Connection, error)
	GetByID(ctx context.Context, userID, connectionID int64) (domain.Connection, error)
	GetByUserProvider(ctx context.Context, userID int64, provider string) (domain.Connection, error)
	// ListExpiring returns sync-enabled connections whose access token
	// expires before the horizon, oldest expiry first.
	ListExpiring(ctx context.Context, horizon time.Time) ([]domain.Connection, error)
	// UpdateTokens replaces both token fields, expiry, and rotation metadata
	// in one statement, conditional on the rotation count observed by the
	// caller. A zero-row update means another rotation won the race and the
	// caller must discard its work.
	UpdateTokens(ctx context.Context, connectionID int64, accessToken, refreshToken string, expiresAt time.Time, expectedRotation int32) (domain.Connection, error)
	// RecordRefreshFailure bumps the consecutive-failure counter and disables
	// sync once it reaches maxFailures. Returns the new counter value and
	// whether sync is now disabled.
	RecordRefreshFailure(ctx context.Context, connectionID int64, maxFailures int32) (int32, bool, error)
	TouchLastSync(ctx context.Context, connectionID int64, at time.Time) error
	Delete(ctx context.Context, connectionID int64) error
}

// AuditLogRepository is the append-only audit trail. There is deliberately no
// update or delete operation.
type AuditLogRepository interface {
	Append(ctx context.Context, entry domain.AuditLogEntry) error
	ListRecentByUser(ctx context.Context, userID int64, limit int) ([]domain.AuditLogEntry, error)
}

// RateLimitRepository performs the atomic check-and-increment for a
// (user, endpoint) window. Increment resets an elapsed window or bumps the
// counter of a live one, in a single statement, and returns the resulting
// window start and count.
type RateLimitRepository interface {
	Increment(ctx context.Context, userID int64, endpoint string, window time.Duration) (time.Time, int, error)
}

// StateStore persists short-lived authorization state keyed per
// (user, provider). Save replaces any pending attempt; Consume atomically
// removes and returns the stored state, or nil when absent.
type StateStore interface {
	Save(ctx context.Context, userID int64, provider string, state oauth.AuthState, ttl time.Duration) error
	Consume(ctx context.Context, userID int64, provider string) (*oauth.AuthState, error)
}
