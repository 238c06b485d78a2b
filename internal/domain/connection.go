package domain

import "time"

// Connection links a platform user to a wearable provider account. Token
// fields hold ciphertext whenever TokensEncrypted is true; rows written
// before envelope encryption was introduced carry plaintext and the flag
// cleared, and are upgraded on their next rotation.
type Connection struct {
	ID                  int64
	UserID              int64
	Provider            string
	AccessToken         string
	RefreshToken        string
	TokenExpiresAt      time.Time
	Scopes              []string
	SyncEnabled         bool
	LastSyncAt          *time.Time
	TokensEncrypted     bool
	RotationCount       int32
	LastTokenRotation   *time.Time
	RefreshFailureCount int32
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// ExpiresWithin reports whether the access token is already expired or will
// expire before now+d.
func (c Connection) ExpiresWithin(d time.Duration) bool {
	return !c.TokenExpiresAt.After(time.Now().Add(d))
}

// ConnectionSummary is the minimal shape returned to callers after a
// successful authorization callback.
type ConnectionSummary struct {
	ConnectionID int64  `json:"connection_id"`
	Provider     string `json:"provider"`
	Success      bool   `json:"success"`
}

// SweepResult aggregates the outcome of one proactive rotation pass.
type SweepResult struct {
	Checked   int `json:"checked"`
	Refreshed int `json:"refreshed"`
	Failed    int `json:"failed"`
}

// RateLimitDecision is the outcome of a check-and-increment call.
type RateLimitDecision struct {
	Allowed    bool
	RetryAfter time.Duration
}
