package accountstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no account matches the given id.
var ErrNotFound = errors.New("account not found")

// Schema creates the account table. Safe to run more than once.
const Schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id             text PRIMARY KEY,
	cookie_set     text NOT NULL,
	client_version text NOT NULL,
	trace_id       text NOT NULL,
	user_agent     text NOT NULL,
	is_active      boolean NOT NULL DEFAULT true,
	last_sync_at   timestamptz,
	created_at     timestamptz NOT NULL DEFAULT now(),
	updated_at     timestamptz NOT NULL DEFAULT now()
);
`

// Account is one host account's sync credentials and state. CookieSet is
// the serialized "name=value; name=value" persistent cookie header.
type Account struct {
	ID            string
	CookieSet     string
	ClientVersion string
	TraceID       string
	UserAgent     string
	IsActive      bool
	LastSyncAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store reads and writes accounts in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, Schema)
	if err != nil {
		return fmt.Errorf("ensure account schema: %w", err)
	}
	return nil
}

const accountColumns = `
	id, cookie_set, client_version, trace_id, user_agent,
	is_active, last_sync_at, created_at, updated_at
`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(
		&a.ID,
		&a.CookieSet,
		&a.ClientVersion,
		&a.TraceID,
		&a.UserAgent,
		&a.IsActive,
		&a.LastSyncAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	return a, err
}

func (s *Store) Get(ctx context.Context, id string) (Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`

	a, err := scanAccount(s.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account: %w", err)
	}
	return a, nil
}

// ListActive returns the accounts eligible for syncing, oldest-synced
// first so the most stale account goes out first.
func (s *Store) ListActive(ctx context.Context) ([]Account, error) {
	query := `
		SELECT ` + accountColumns + `
		FROM accounts
		WHERE is_active
		ORDER BY last_sync_at ASC NULLS FIRST, id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list active accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("scan account row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate account rows: %w", err)
	}
	return out, nil
}

func (s *Store) Create(ctx context.Context, a Account) error {
	query := `
		INSERT INTO accounts (id, cookie_set, client_version, trace_id, user_agent, is_active)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := s.pool.Exec(ctx, query,
		a.ID, a.CookieSet, a.ClientVersion, a.TraceID, a.UserAgent, a.IsActive)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// UpdateCredentials replaces an account's captured browser credentials.
// Empty fields keep their stored value.
func (s *Store) UpdateCredentials(ctx context.Context, id string, cookieSet, clientVersion, traceID, userAgent string) error {
	query := `
		UPDATE accounts SET
			cookie_set     = CASE WHEN $2 = '' THEN cookie_set ELSE $2 END,
			client_version = CASE WHEN $3 = '' THEN client_version ELSE $3 END,
			trace_id       = CASE WHEN $4 = '' THEN trace_id ELSE $4 END,
			user_agent     = CASE WHEN $5 = '' THEN user_agent ELSE $5 END,
			updated_at     = now()
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query, id, cookieSet, clientVersion, traceID, userAgent)
	if err != nil {
		return fmt.Errorf("update account credentials: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceCookies persists the evolved cookie set after a fully successful
// sync.
func (s *Store) ReplaceCookies(ctx context.Context, id string, cookieSet string) error {
	query := `UPDATE accounts SET cookie_set = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, cookieSet)
	if err != nil {
		return fmt.Errorf("replace account cookies: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) StampLastSync(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE accounts SET last_sync_at = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("stamp last sync: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// TryAcquireSyncLock takes a session-scoped advisory lock keyed by the
// account id. The lock is held in the database, so it excludes every
// process sharing it, not just goroutines in this one. ok is false when
// another holder has the lock; release must be called once the run is
// done.
func (s *Store) TryAcquireSyncLock(ctx context.Context, id string) (release func(), ok bool, err error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire lock connection: %w", err)
	}

	var locked bool
	err = conn.QueryRow(ctx, `SELECT pg_try_advisory_lock(hashtext($1))`, id).Scan(&locked)
	if err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("acquire sync lock: %w", err)
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}

	release = func() {
		// fresh context: the run's context may already be done
		_, err := conn.Exec(context.Background(), `SELECT pg_advisory_unlock(hashtext($1))`, id)
		if err != nil {
			slog.Warn("failed to release sync lock", "account", id, "err", err)
		}
		conn.Release()
	}
	return release, true, nil
}

// SetActive toggles whether the scheduler picks this account up. Accounts
// whose credentials expired get deactivated instead of deleted.
func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	query := `UPDATE accounts SET is_active = $2, updated_at = now() WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, active)
	if err != nil {
		return fmt.Errorf("set account active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
