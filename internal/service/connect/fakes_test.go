package connect

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fitbridge/fitbridge-connect/internal/domain"
	"github.com/fitbridge/fitbridge-connect/internal/domain/oauth"
	"github.com/fitbridge/fitbridge-connect/internal/repository"
)

// memoryStateStore mirrors the Redis store's consume-once semantics: Consume
// removes the record under one lock, so a second call sees nothing.
type memoryStateStore struct {
	mu   sync.Mutex
	data map[string]oauth.AuthState
}

var _ repository.StateStore = (*memoryStateStore)(nil)

func newMemoryStateStore() *memoryStateStore {
	return &memoryStateStore{data: map[string]oauth.AuthState{}}
}

func stateStoreKey(userID int64, provider string) string {
	return fmt.Sprintf("%s:%d", provider, userID)
}

func (m *memoryStateStore) Save(_ context.Context, userID int64, provider string, state oauth.AuthState, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[stateStoreKey(userID, provider)] = state
	return nil
}

func (m *memoryStateStore) Consume(_ context.Context, userID int64, provider string) (*oauth.AuthState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := stateStoreKey(userID, provider)
	state, ok := m.data[key]
	if !ok {
		return nil, nil
	}
	delete(m.data, key)
	return &state, nil
}

func (m *memoryStateStore) peek(userID int64, provider string) (oauth.AuthState, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.data[stateStoreKey(userID, provider)]
	return state, ok
}

// fakeProviderClient scripts provider responses per test.
type fakeProviderClient struct {
	mu            sync.Mutex
	exchangeResp  *oauth.TokenResponse
	exchangeErr   error
	refreshResp   *oauth.TokenResponse
	refreshErr    error
	refreshHook   func(refreshToken string) // runs before the refresh result is returned
	failRefreshOf map[string]bool           // refresh tokens that trigger rejection
	revokeErr     error
	revokedTokens []string
	refreshCalls  int
}

func (f *fakeProviderClient) ExchangeCode(_ context.Context, _ oauth.ProviderConfig, _, _, _ string) (*oauth.TokenResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.exchangeErr != nil {
		return nil, f.exchangeErr
	}
	if f.exchangeResp == nil {
		return nil, errors.New("no scripted exchange response")
	}
	resp := *f.exchangeResp
	return &resp, nil
}

func (f *fakeProviderClient) RefreshToken(_ context.Context, _ oauth.ProviderConfig, refreshToken string) (*oauth.TokenResponse, error) {
	f.mu.Lock()
	hook := f.refreshHook
	f.refreshCalls++
	f.mu.Unlock()
	if hook != nil {
		hook(refreshToken)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRefreshOf[refreshToken] {
		return nil, errors.New("provider rejected refresh grant")
	}
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	if f.refreshResp == nil {
		return nil, errors.New("no scripted refresh response")
	}
	resp := *f.refreshResp
	return &resp, nil
}

func (f *fakeProviderClient) RevokeToken(_ context.Context, _ oauth.ProviderConfig, accessToken string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revokedTokens = append(f.revokedTokens, accessToken)
	return f.revokeErr
}

// memoryConnectionRepo implements ConnectionRepository with the same
// conditional-update behavior as the Postgres implementation.
type memoryConnectionRepo struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Connection
}

var _ repository.ConnectionRepository = (*memoryConnectionRepo)(nil)

func newMemoryConnectionRepo() *memoryConnectionRepo {
	return &memoryConnectionRepo{nextID: 1, rows: map[int64]*domain.Connection{}}
}

func (m *memoryConnectionRepo) Upsert(_ context.Context, conn domain.Connection) (domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for _, row := range m.rows {
		if row.UserID == conn.UserID && row.Provider == conn.Provider {
			row.AccessToken = conn.AccessToken
			row.RefreshToken = conn.RefreshToken
			row.TokenExpiresAt = conn.TokenExpiresAt
			row.Scopes = conn.Scopes
			row.SyncEnabled = true
			row.TokensEncrypted = conn.TokensEncrypted
			row.RotationCount = 1
			row.LastTokenRotation = &now
			row.RefreshFailureCount = 0
			row.UpdatedAt = now
			return *row, nil
		}
	}
	conn.ID = m.nextID
	m.nextID++
	conn.SyncEnabled = true
	conn.RotationCount = 1
	conn.LastTokenRotation = &now
	conn.CreatedAt = now
	conn.UpdatedAt = now
	row := conn
	m.rows[conn.ID] = &row
	return conn, nil
}

func (m *memoryConnectionRepo) GetByID(_ context.Context, userID, connectionID int64) (domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[connectionID]
	if !ok || row.UserID != userID {
		return domain.Connection{}, domain.ErrConnectionNotFound
	}
	return *row, nil
}

func (m *memoryConnectionRepo) GetByUserProvider(_ context.Context, userID int64, provider string) (domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		if row.UserID == userID && row.Provider == provider {
			return *row, nil
		}
	}
	return domain.Connection{}, domain.ErrConnectionNotFound
}

func (m *memoryConnectionRepo) ListExpiring(_ context.Context, horizon time.Time) ([]domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var conns []domain.Connection
	for _, row := range m.rows {
		if row.SyncEnabled && !row.TokenExpiresAt.After(horizon) {
			conns = append(conns, *row)
		}
	}
	return conns, nil
}

func (m *memoryConnectionRepo) UpdateTokens(_ context.Context, connectionID int64, accessToken, refreshToken string, expiresAt time.Time, expectedRotation int32) (domain.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[connectionID]
	if !ok || row.RotationCount != expectedRotation {
		return domain.Connection{}, domain.ErrRotationConflict
	}
	now := time.Now()
	row.AccessToken = accessToken
	row.RefreshToken = refreshToken
	row.TokenExpiresAt = expiresAt
	row.TokensEncrypted = true
	row.RotationCount++
	row.LastTokenRotation = &now
	row.RefreshFailureCount = 0
	row.UpdatedAt = now
	return *row, nil
}

func (m *memoryConnectionRepo) RecordRefreshFailure(_ context.Context, connectionID int64, maxFailures int32) (int32, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[connectionID]
	if !ok {
		return 0, false, domain.ErrConnectionNotFound
	}
	row.RefreshFailureCount++
	if row.RefreshFailureCount >= maxFailures {
		row.SyncEnabled = false
	}
	return row.RefreshFailureCount, !row.SyncEnabled, nil
}

func (m *memoryConnectionRepo) TouchLastSync(_ context.Context, connectionID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[connectionID]
	if !ok {
		return domain.ErrConnectionNotFound
	}
	row.LastSyncAt = &at
	return nil
}

func (m *memoryConnectionRepo) Delete(_ context.Context, connectionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[connectionID]; !ok {
		return domain.ErrConnectionNotFound
	}
	delete(m.rows, connectionID)
	return nil
}

func (m *memoryConnectionRepo) get(connectionID int64) (domain.Connection, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[connectionID]
	if !ok {
		return domain.Connection{}, false
	}
	return *row, true
}

func (m *memoryConnectionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memoryConnectionRepo) put(conn domain.Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn.ID == 0 {
		conn.ID = m.nextID
	}
	if conn.ID >= m.nextID {
		m.nextID = conn.ID + 1
	}
	row := conn
	m.rows[conn.ID] = &row
}

// memoryAuditRepo records appends in order. No delete, matching the real one.
type memoryAuditRepo struct {
	mu      sync.Mutex
	entries []domain.AuditLogEntry
}

var _ repository.AuditLogRepository = (*memoryAuditRepo)(nil)

func (m *memoryAuditRepo) Append(_ context.Context, entry domain.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry.ID = int64(len(m.entries) + 1)
	entry.CreatedAt = time.Now()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *memoryAuditRepo) ListRecentByUser(_ context.Context, userID int64, limit int) ([]domain.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditLogEntry
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].UserID == userID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

func (m *memoryAuditRepo) byAction(action domain.AuditAction) []domain.AuditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditLogEntry
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// memoryRateLimitRepo gives the limiter real check-and-increment semantics.
type memoryRateLimitRepo struct {
	mu      sync.Mutex
	windows map[string]*rateWindow
}

type rateWindow struct {
	start time.Time
	count int
}

var _ repository.RateLimitRepository = (*memoryRateLimitRepo)(nil)

func newMemoryRateLimitRepo() *memoryRateLimitRepo {
	return &memoryRateLimitRepo{windows: map[string]*rateWindow{}}
}

func (m *memoryRateLimitRepo) Increment(_ context.Context, userID int64, endpoint string, window time.Duration) (time.Time, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fmt.Sprintf("%d/%s", userID, endpoint)
	now := time.Now()
	w, ok := m.windows[key]
	if !ok || !w.start.After(now.Add(-window)) {
		w = &rateWindow{start: now, count: 1}
		m.windows[key] = w
		return w.start, w.count, nil
	}
	w.count++
	return w.start, w.count, nil
}
