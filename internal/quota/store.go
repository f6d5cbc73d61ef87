package quota

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/DINO060/RENAMBOT/internal/db"
)

// merge applies a commit to the stored usage.
func merge(cur Usage, day string, bytes int64, at time.Time) Usage {
	switch {
	case cur.Day == day:
		cur.UsedBytes += bytes
	case cur.Day < day:
		cur.Day = day
		cur.UsedBytes = bytes
	}
	cur.LastFileAt = at
	return cur
}

// MemoryStore keeps usage in process memory.
type MemoryStore struct {
	mu     sync.Mutex
	usage  map[int64]Usage
	totals Totals
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{usage: make(map[int64]Usage)}
}

func (m *MemoryStore) Usage(_ context.Context, userID int64) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.usage[userID], nil
}

func (m *MemoryStore) Commit(_ context.Context, userID int64, day string, bytes int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[userID] = merge(m.usage[userID], day, bytes, at)
	return nil
}

func (m *MemoryStore) RecordRename(_ context.Context, bytes int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totals.Files++
	m.totals.Bytes += bytes
	return nil
}

func (m *MemoryStore) Totals(_ context.Context) (Totals, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals, nil
}

// PostgresStore keeps usage in the user_quota and rename_stats tables.
type PostgresStore struct {
	db db.DBTX
}

func NewPostgresStore(conn db.DBTX) *PostgresStore {
	return &PostgresStore{db: conn}
}

const getUsage = `
SELECT to_char(day, 'YYYY-MM-DD'), used_bytes, last_file_at
FROM user_quota
WHERE user_id = $1
`

func (s *PostgresStore) Usage(ctx context.Context, userID int64) (Usage, error) {
	var (
		u    Usage
		last pgtype.Timestamptz
	)
	err := s.db.QueryRow(ctx, getUsage, userID).Scan(&u.Day, &u.UsedBytes, &last)
	if errors.Is(err, pgx.ErrNoRows) {
		return Usage{}, nil
	}
	if err != nil {
		return Usage{}, err
	}
	if last.Valid {
		u.LastFileAt = last.Time
	}
	return u, nil
}

const commitUsage = `
INSERT INTO user_quota (user_id, day, used_bytes, last_file_at, updated_at)
VALUES ($1, $2::date, $3, $4, now())
ON CONFLICT (user_id) DO UPDATE SET
  used_bytes = CASE
    WHEN user_quota.day = EXCLUDED.day THEN user_quota.used_bytes + EXCLUDED.used_bytes
    WHEN user_quota.day < EXCLUDED.day THEN EXCLUDED.used_bytes
    ELSE user_quota.used_bytes
  END,
  day = GREATEST(user_quota.day, EXCLUDED.day),
  last_file_at = EXCLUDED.last_file_at,
  updated_at = now()
`

func (s *PostgresStore) Commit(ctx context.Context, userID int64, day string, bytes int64, at time.Time) error {
	_, err := s.db.Exec(ctx, commitUsage, userID, day, bytes, at)
	return err
}

const recordRename = `
INSERT INTO rename_stats (id, total_files, total_bytes, updated_at)
VALUES (1, 1, $1, now())
ON CONFLICT (id) DO UPDATE SET
  total_files = rename_stats.total_files + 1,
  total_bytes = rename_stats.total_bytes + EXCLUDED.total_bytes,
  updated_at = now()
`

func (s *PostgresStore) RecordRename(ctx context.Context, bytes int64) error {
	_, err := s.db.Exec(ctx, recordRename, bytes)
	return err
}

const getTotals = `SELECT total_files, total_bytes FROM rename_stats WHERE id = 1`

func (s *PostgresStore) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRow(ctx, getTotals).Scan(&t.Files, &t.Bytes)
	if errors.Is(err, pgx.ErrNoRows) {
		return Totals{}, nil
	}
	return t, err
}
