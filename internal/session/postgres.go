package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresTracker persists first-turn state in PostgreSQL. Rows older than the
// TTL are treated as unseen and replaced on the next check.
type PostgresTracker struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewPostgresTracker(ctx context.Context, databaseURL string, ttl time.Duration) (*PostgresTracker, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &PostgresTracker{pool: pool, ttl: ttl}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS voice_sessions (
			id TEXT PRIMARY KEY,
			first_seen_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			last_seen_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_voice_sessions_last_seen ON voice_sessions (last_seen_at);`,
	}
	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (p *PostgresTracker) cutoff() time.Time {
	return time.Now().UTC().Add(-p.ttl)
}

func (p *PostgresTracker) HasSeenFirstTurn(ctx context.Context, sessionID string) (bool, error) {
	if err := validID(sessionID); err != nil {
		return false, err
	}
	tag, err := p.pool.Exec(ctx,
		`UPDATE voice_sessions SET last_seen_at = now() WHERE id = $1 AND last_seen_at > $2`,
		sessionID, p.cutoff(),
	)
	if err != nil {
		return false, fmt.Errorf("touch session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresTracker) MarkSeen(ctx context.Context, sessionID string) error {
	if err := validID(sessionID); err != nil {
		return err
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO voice_sessions (id) VALUES ($1)
		 ON CONFLICT (id) DO UPDATE SET last_seen_at = now()`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("mark session: %w", err)
	}
	return nil
}

// CheckAndMark inserts the row, or revives an expired one. A live row is left
// alone apart from its last_seen_at, so exactly one caller observes first=true.
func (p *PostgresTracker) CheckAndMark(ctx context.Context, sessionID string) (bool, error) {
	if err := validID(sessionID); err != nil {
		return false, err
	}
	var first bool
	err := p.pool.QueryRow(ctx,
		`INSERT INTO voice_sessions AS s (id) VALUES ($1)
		 ON CONFLICT (id) DO UPDATE
		   SET first_seen_at = CASE WHEN s.last_seen_at <= $2 THEN now() ELSE s.first_seen_at END,
		       last_seen_at = now()
		 RETURNING (xmax = 0) OR first_seen_at = last_seen_at`,
		sessionID, p.cutoff(),
	).Scan(&first)
	if err != nil {
		return false, fmt.Errorf("check session: %w", err)
	}
	return first, nil
}

// Sweep deletes rows idle past the TTL and reports how many were removed.
func (p *PostgresTracker) Sweep(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM voice_sessions WHERE last_seen_at <= $1`, p.cutoff())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *PostgresTracker) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresTracker) Close() error {
	p.pool.Close()
	return nil
}
