package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fitbridge/fitbridge-connect/internal/domain"
)

// Compile-time interface assertions.
var (
	_ ConnectionRepository = (*PostgresConnectionRepo)(nil)
	_ AuditLogRepository   = (*PostgresAuditLogRepo)(nil)
	_ RateLimitRepository  = (*PostgresRateLimitRepo)(nil)
)

const connectionColumns = `id, user_id, provider, access_token, refresh_token, token_expires_at,
scopes, sync_enabled, last_sync_at, tokens_encrypted, rotation_count, last_token_rotation,
refresh_failure_count, created_at, updated_at`

// PostgresConnectionRepo implements ConnectionRepository on pgx.
type PostgresConnectionRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresConnectionRepo(db *pgxpool.Pool, node *snowflake.Node) *PostgresConnectionRepo {
	return &PostgresConnectionRepo{db: db, node: node}
}

const upsertConnectionSQL = `INSERT INTO connections
(id, user_id, provider, access_token, refresh_token, token_expires_at, scopes, sync_enabled,
 tokens_encrypted, rotation_count, last_token_rotation, refresh_failure_count)
VALUES ($1, $2, $3, $4, $5, $6, $7, true, $8, 1, now(), 0)
ON CONFLICT (user_id, provider) DO UPDATE SET
	access_token = EXCLUDED.access_token,
	refresh_token = EXCLUDED.refresh_token,
	token_expires_at = EXCLUDED.token_expires_at,
	scopes = EXCLUDED.scopes,
	sync_enabled = true,
	tokens_encrypted = EXCLUDED.tokens_encrypted,
	rotation_count = 1,
	last_token_rotation = now(),
	refresh_failure_count = 0,
	updated_at = now()
RETURNING ` + connectionColumns

func (r *PostgresConnectionRepo) Upsert(ctx context.Context, conn domain.Connection) (domain.Connection, error) {
	row := r.db.QueryRow(ctx, upsertConnectionSQL,
		r.node.Generate().Int64(),
		conn.UserID,
		conn.Provider,
		conn.AccessToken,
		conn.RefreshToken,
		conn.TokenExpiresAt,
		conn.Scopes,
		conn.TokensEncrypted,
	)
	return scanConnection(row)
}

func (r *PostgresConnectionRepo) GetByID(ctx context.Context, userID, connectionID int64) (domain.Connection, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE id = $1 AND user_id = $2`,
		connectionID, userID)
	conn, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Connection{}, domain.ErrConnectionNotFound
	}
	return conn, err
}

func (r *PostgresConnectionRepo) GetByUserProvider(ctx context.Context, userID int64, provider string) (domain.Connection, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+connectionColumns+` FROM connections WHERE user_id = $1 AND provider = $2`,
		userID, provider)
	conn, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Connection{}, domain.ErrConnectionNotFound
	}
	return conn, err
}

func (r *PostgresConnectionRepo) ListExpiring(ctx context.Context, horizon time.Time) ([]domain.Connection, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+connectionColumns+` FROM connections
		 WHERE sync_enabled AND token_expires_at <= $1
		 ORDER BY token_expires_at`,
		horizon)
	if err != nil {
		return nil, fmt.Errorf("list expiring connections: %w", err)
	}
	defer rows.Close()

	var conns []domain.Connection
	for rows.Next() {
		conn, err := scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, conn)
	}
	return conns, rows.Err()
}

const updateTokensSQL = `UPDATE connections SET
	access_token = $1,
	refresh_token = $2,
	token_expires_at = $3,
	tokens_encrypted = true,
	rotation_count = rotation_count + 1,
	last_token_rotation = now(),
	refresh_failure_count = 0,
	updated_at = now()
WHERE id = $4 AND rotation_count = $5
RETURNING ` + connectionColumns

func (r *PostgresConnectionRepo) UpdateTokens(ctx context.Context, connectionID int64, accessToken, refreshToken string, expiresAt time.Time, expectedRotation int32) (domain.Connection, error) {
	row := r.db.QueryRow(ctx, updateTokensSQL,
		accessToken, refreshToken, expiresAt, connectionID, expectedRotation)
	conn, err := scanConnection(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Connection{}, domain.ErrRotationConflict
	}
	return conn, err
}

const refreshFailureSQL = `UPDATE connections SET
	refresh_failure_count = refresh_failure_count + 1,
	sync_enabled = (refresh_failure_count + 1 < $2),
	updated_at = now()
WHERE id = $1
RETURNING refresh_failure_count, sync_enabled`

func (r *PostgresConnectionRepo) RecordRefreshFailure(ctx context.Context, connectionID int64, maxFailures int32) (int32, bool, error) {
	var (
		failures    int32
		syncEnabled bool
	)
	err := r.db.QueryRow(ctx, refreshFailureSQL, connectionID, maxFailures).Scan(&failures, &syncEnabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, domain.ErrConnectionNotFound
	}
	if err != nil {
		return 0, false, fmt.Errorf("record refresh failure: %w", err)
	}
	return failures, !syncEnabled, nil
}

func (r *PostgresConnectionRepo) TouchLastSync(ctx context.Context, connectionID int64, at time.Time) error {
	_, err := r.db.Exec(ctx,
		`UPDATE connections SET last_sync_at = $2, updated_at = now() WHERE id = $1`,
		connectionID, at)
	if err != nil {
		return fmt.Errorf("touch last sync: %w", err)
	}
	return nil
}

func (r *PostgresConnectionRepo) Delete(ctx context.Context, connectionID int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM connections WHERE id = $1`, connectionID)
	if err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrConnectionNotFound
	}
	return nil
}

func scanConnection(row pgx.Row) (domain.Connection, error) {
	var c domain.Connection
	err := row.Scan(
		&c.ID, &c.UserID, &c.Provider, &c.AccessToken, &c.RefreshToken, &c.TokenExpiresAt,
		&c.Scopes, &c.SyncEnabled, &c.LastSyncAt, &c.TokensEncrypted, &c.RotationCount,
		&c.LastTokenRotation, &c.RefreshFailureCount, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Connection{}, err
	}
	if err != nil {
		return domain.Connection{}, fmt.Errorf("scan connection: %w", err)
	}
	return c, nil
}

// PostgresAuditLogRepo implements AuditLogRepository on pgx. The table is
// append-only; this type exposes no update or delete.
type PostgresAuditLogRepo struct {
	db   *pgxpool.Pool
	node *snowflake.Node
}

func NewPostgresAuditLogRepo(db *pgxpool.Pool, node *snowflake.Node) *PostgresAuditLogRepo {
	return &PostgresAuditLogRepo{db: db, node: node}
}

const appendAuditSQL = `INSERT INTO audit_log
(id, connection_id, user_id, provider, action, ip, user_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

func (r *PostgresAuditLogRepo) Append(ctx context.Context, entry domain.AuditLogEntry) error {
	_, err := r.db.Exec(ctx, appendAuditSQL,
		r.node.Generate().Int64(),
		entry.ConnectionID,
		entry.UserID,
		entry.Provider,
		string(entry.Action),
		entry.IP,
		entry.UserAgent,
	)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (r *PostgresAuditLogRepo) ListRecentByUser(ctx context.Context, userID int64, limit int) ([]domain.AuditLogEntry, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, connection_id, user_id, provider, action, ip, user_agent, created_at
		 FROM audit_log WHERE user_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditLogEntry
	for rows.Next() {
		var e domain.AuditLogEntry
		var action string
		if err := rows.Scan(&e.ID, &e.ConnectionID, &e.UserID, &e.Provider, &action, &e.IP, &e.UserAgent, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Action = domain.AuditAction(action)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PostgresRateLimitRepo implements RateLimitRepository on pgx.
type PostgresRateLimitRepo struct {
	db *pgxpool.Pool
}

func NewPostgresRateLimitRepo(db *pgxpool.Pool) *PostgresRateLimitRepo {
	return &PostgresRateLimitRepo{db: db}
}

// One statement does reset-or-increment so concurrent callers cannot slip
// past the budget between a read and a write.
const incrementRateLimitSQL = `INSERT INTO rate_limits (user_id, endpoint, window_start, request_count)
VALUES ($1, $2, now(), 1)
ON CONFLICT (user_id, endpoint) DO UPDATE SET
	request_count = CASE WHEN rate_limits.window_start <= now() - $3::interval
		THEN 1 ELSE rate_limits.request_count + 1 END,
	window_start = CASE WHEN rate_limits.window_start <= now() - $3::interval
		THEN now() ELSE rate_limits.window_start END
RETURNING window_start, request_count`

func (r *PostgresRateLimitRepo) Increment(ctx context.Context, userID int64, endpoint string, window time.Duration) (time.Time, int, error) {
	var (
		windowStart time.Time
		count       int
	)
	interval := fmt.Sprintf("%f seconds", window.Seconds())
	err := r.db.QueryRow(ctx, incrementRateLimitSQL, userID, endpoint, interval).Scan(&windowStart, &count)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("increment rate limit: %w", err)
	}
	return windowStart, count, nil
}
