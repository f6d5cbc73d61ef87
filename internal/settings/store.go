package settings

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/DINO060/RENAMBOT/internal/db"
	"github.com/DINO060/RENAMBOT/internal/filename"
)

// MemoryStore keeps preferences in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	prefs map[int64]filename.Preferences
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{prefs: make(map[int64]filename.Preferences)}
}

func (m *MemoryStore) Get(_ context.Context, userID int64) (filename.Preferences, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if p, ok := m.prefs[userID]; ok {
		return p, nil
	}
	return filename.DefaultPreferences(), nil
}

func (m *MemoryStore) Save(_ context.Context, userID int64, prefs filename.Preferences) error {
	m.mu.Lock()
	m.prefs[userID] = prefs
	m.mu.Unlock()
	return nil
}

// PostgresStore keeps preferences in the user_preferences table.
type PostgresStore struct {
	db db.DBTX
}

func NewPostgresStore(conn db.DBTX) *PostgresStore {
	return &PostgresStore{db: conn}
}

const getPreferences = `
SELECT clean_tags, custom_text, text_position, custom_username
FROM user_preferences
WHERE user_id = $1
`

func (s *PostgresStore) Get(ctx context.Context, userID int64) (filename.Preferences, error) {
	var (
		p        filename.Preferences
		position string
	)
	err := s.db.QueryRow(ctx, getPreferences, userID).Scan(&p.CleanTags, &p.CustomText, &position, &p.Username)
	if errors.Is(err, pgx.ErrNoRows) {
		return filename.DefaultPreferences(), nil
	}
	if err != nil {
		return filename.Preferences{}, err
	}
	p.Position = filename.Position(position)
	if p.Position == "" {
		p.Position = filename.PositionEnd
	}
	return p, nil
}

const upsertPreferences = `
INSERT INTO user_preferences (user_id, clean_tags, custom_text, text_position, custom_username, updated_at)
VALUES ($1, $2, $3, $4, $5, now())
ON CONFLICT (user_id) DO UPDATE SET
  clean_tags = EXCLUDED.clean_tags,
  custom_text = EXCLUDED.custom_text,
  text_position = EXCLUDED.text_position,
  custom_username = EXCLUDED.custom_username,
  updated_at = now()
`

func (s *PostgresStore) Save(ctx context.Context, userID int64, p filename.Preferences) error {
	_, err := s.db.Exec(ctx, upsertPreferences, userID, p.CleanTags, p.CustomText, string(p.Position), p.Username)
	return err
}
