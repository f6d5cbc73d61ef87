// Package refcache holds inbound file messages that the user has not acted on
// yet. Entries are keyed by the chat and message the file arrived in.
package refcache

import (
	"errors"
	"hash/maphash"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/DINO060/RENAMBOT/internal/channel"
)

// DefaultTTL is how long an untouched reference stays available.
const DefaultTTL = time.Hour

const shardCount = 16

var (
	// ErrNotFound reports a missing or expired reference.
	ErrNotFound = errors.New("refcache: reference not found")
	// ErrClaimed reports a reference already taken by a transfer.
	ErrClaimed = errors.New("refcache: reference already claimed")
)

// Key identifies a file message.
type Key struct {
	ChatID    int64
	MessageID int
}

// FileReference is one inbound file message not yet acted upon.
type FileReference struct {
	Key         Key
	OwnerUserID int64
	Name        string
	Size        int64
	Mime        string
	IsVideo     bool
	DurationS   int
	File        channel.FileHandle
	CreatedAt   time.Time
}

type entry struct {
	ref     FileReference
	temps   []string
	claimed bool
}

type shard struct {
	mu      sync.RWMutex
	entries map[Key]*entry
}

// Cache is a striped map of FileReference values with TTL expiry.
type Cache struct {
	logger *slog.Logger
	ttl    time.Duration
	now    func() time.Time
	seed   maphash.Seed
	shards [shardCount]shard
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New creates a Cache whose entries expire after ttl.
func New(log *slog.Logger, ttl time.Duration, opts ...Option) *Cache {
	if log == nil {
		log = slog.Default()
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		logger: log.With(slog.String("component", "refcache")),
		ttl:    ttl,
		now:    time.Now,
		seed:   maphash.MakeSeed(),
	}
	for i := range c.shards {
		c.shards[i].entries = make(map[Key]*entry)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) shardFor(key Key) *shard {
	return &c.shards[maphash.Comparable(c.seed, key)%shardCount]
}

// Put stores ref under its key, replacing any previous entry. CreatedAt is
// stamped when unset.
func (c *Cache) Put(ref FileReference) {
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = c.now()
	}
	s := c.shardFor(ref.Key)
	s.mu.Lock()
	s.entries[ref.Key] = &entry{ref: ref}
	s.mu.Unlock()
}

// Get returns the live reference for key.
func (c *Cache) Get(key Key) (FileReference, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return FileReference{}, false
	}
	if c.expired(e.ref) {
		return FileReference{}, false
	}
	return e.ref, true
}

// Remove deletes the entry for key. Registered temp files are left alone: the
// pipeline that registered them owns their cleanup on the normal path.
func (c *Cache) Remove(key Key) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	_, ok := s.entries[key]
	delete(s.entries, key)
	s.mu.Unlock()
	return ok
}

// Touch restarts the TTL of a live entry.
func (c *Cache) Touch(key Key) bool {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || c.expired(e.ref) {
		return false
	}
	e.ref.CreatedAt = c.now()
	return true
}

// Claim marks the live entry for key as taken by a transfer. At most one
// claim is held per entry; Release or removal of the entry ends it.
func (c *Cache) Claim(key Key) error {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok || c.expired(e.ref) {
		return ErrNotFound
	}
	if e.claimed {
		return ErrClaimed
	}
	e.claimed = true
	return nil
}

// Release ends the claim on key. It is a no-op for a removed entry.
func (c *Cache) Release(key Key) {
	s := c.shardFor(key)
	s.mu.Lock()
	if e, ok := s.entries[key]; ok {
		e.claimed = false
	}
	s.mu.Unlock()
}

// Claimed reports whether a transfer holds the entry for key.
func (c *Cache) Claimed(key Key) bool {
	s := c.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[key]
	return ok && e.claimed
}

// RegisterTemp ties a local temp file to key so that expiry removes it.
func (c *Cache) RegisterTemp(key Key, path string) bool {
	if path == "" {
		return false
	}
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return false
	}
	e.temps = append(e.temps, path)
	return true
}

// RemoveOwnedBy drops every entry that belongs to userID and returns the keys removed.
func (c *Cache) RemoveOwnedBy(userID int64) []Key {
	var removed []Key
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for key, e := range s.entries {
			if e.ref.OwnerUserID == userID {
				delete(s.entries, key)
				removed = append(removed, key)
			}
		}
		s.mu.Unlock()
	}
	return removed
}

// Len returns the number of stored entries, expired ones included until swept.
func (c *Cache) Len() int {
	n := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.RLock()
		n += len(s.entries)
		s.mu.RUnlock()
	}
	return n
}

// Sweep evicts expired entries and deletes their registered temp files.
// Claimed entries are kept until their transfer ends.
func (c *Cache) Sweep() int {
	var temps []string
	evicted := 0
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for key, e := range s.entries {
			if !e.claimed && c.expired(e.ref) {
				temps = append(temps, e.temps...)
				delete(s.entries, key)
				evicted++
			}
		}
		s.mu.Unlock()
	}
	removeFiles(c.logger, temps)
	if evicted > 0 {
		c.logger.Debug("swept expired references", slog.Int("count", evicted))
	}
	return evicted
}

// TTL returns the configured entry lifetime.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

func (c *Cache) expired(ref FileReference) bool {
	return c.now().Sub(ref.CreatedAt) >= c.ttl
}

func removeFiles(log *slog.Logger, paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			log.Warn("remove temp file failed", slog.String("path", p), slog.Any("error", err))
		}
	}
}
