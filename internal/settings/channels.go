package settings

import (
	"context"
	"slices"
	"sync"

	"github.com/jackc/pgx/v5"

	"github.com/DINO060/RENAMBOT/internal/db"
)

// ChannelStore persists the channels a user must join before using the bot.
// Channels are kept in the order they were first added.
type ChannelStore interface {
	ForcedChannels(ctx context.Context) ([]string, error)
	AddForcedChannels(ctx context.Context, channels []string) error
	RemoveForcedChannels(ctx context.Context, channels []string) error
	ClearForcedChannels(ctx context.Context) error
}

// MemoryChannelStore keeps forced channels in process memory.
type MemoryChannelStore struct {
	mu       sync.RWMutex
	channels []string
}

func NewMemoryChannelStore() *MemoryChannelStore {
	return &MemoryChannelStore{}
}

func (m *MemoryChannelStore) ForcedChannels(context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.channels), nil
}

func (m *MemoryChannelStore) AddForcedChannels(_ context.Context, channels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range channels {
		if !slices.Contains(m.channels, ch) {
			m.channels = append(m.channels, ch)
		}
	}
	return nil
}

func (m *MemoryChannelStore) RemoveForcedChannels(_ context.Context, channels []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels = slices.DeleteFunc(m.channels, func(ch string) bool {
		return slices.Contains(channels, ch)
	})
	return nil
}

func (m *MemoryChannelStore) ClearForcedChannels(context.Context) error {
	m.mu.Lock()
	m.channels = nil
	m.mu.Unlock()
	return nil
}

// PostgresChannelStore keeps forced channels in the forced_channels table.
type PostgresChannelStore struct {
	db db.DBTX
}

func NewPostgresChannelStore(conn db.DBTX) *PostgresChannelStore {
	return &PostgresChannelStore{db: conn}
}

const listForcedChannels = `SELECT channel FROM forced_channels ORDER BY added_at, channel`

func (s *PostgresChannelStore) ForcedChannels(ctx context.Context) ([]string, error) {
	rows, err := s.db.Query(ctx, listForcedChannels)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

const addForcedChannels = `
INSERT INTO forced_channels (channel)
SELECT unnest($1::text[])
ON CONFLICT (channel) DO NOTHING
`

func (s *PostgresChannelStore) AddForcedChannels(ctx context.Context, channels []string) error {
	if len(channels) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, addForcedChannels, channels)
	return err
}

const removeForcedChannels = `DELETE FROM forced_channels WHERE channel = ANY($1::text[])`

func (s *PostgresChannelStore) RemoveForcedChannels(ctx context.Context, channels []string) error {
	if len(channels) == 0 {
		return nil
	}
	_, err := s.db.Exec(ctx, removeForcedChannels, channels)
	return err
}

func (s *PostgresChannelStore) ClearForcedChannels(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM forced_channels`)
	return err
}
