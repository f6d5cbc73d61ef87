// Package prompt tracks "reply with a new name" prompts and matches user
// replies against them.
package prompt

import (
	"sync"
	"time"

	"github.com/DINO060/RENAMBOT/internal/refcache"
)

// DefaultTTL is how long a prompt waits for its reply.
const DefaultTTL = 10 * time.Minute

// Action is the operation a prompt was issued for.
type Action string

const (
	ActionRenameOnly          Action = "rename"
	ActionRenameWithThumbnail Action = "thumb"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	return a == ActionRenameOnly || a == ActionRenameWithThumbnail
}

// PendingPrompt is an outstanding request for a new filename.
type PendingPrompt struct {
	UserID          int64
	ChatID          int64
	PromptMessageID int
	// CardMessageID is the file info message whose button issued the prompt.
	CardMessageID int
	Action        Action
	Ref           refcache.FileReference
	IssuedAt      time.Time
}

// Store keeps at most one live prompt per user. Issuing a new prompt replaces
// the previous one.
type Store struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	byUser map[int64]PendingPrompt
}

// NewStore creates a Store with the given TTL and clock. A nil clock uses time.Now.
func NewStore(ttl time.Duration, now func() time.Time) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if now == nil {
		now = time.Now
	}
	return &Store{ttl: ttl, now: now, byUser: make(map[int64]PendingPrompt)}
}

// Issue records p as the live prompt for its user and returns the prompt it
// replaced, if any was still live.
func (s *Store) Issue(p PendingPrompt) (PendingPrompt, bool) {
	if p.IssuedAt.IsZero() {
		p.IssuedAt = s.now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.byUser[p.UserID]
	s.byUser[p.UserID] = p
	if ok && s.expired(prev) {
		return prev, false
	}
	return prev, ok
}

// Live returns the user's prompt if it has not expired.
func (s *Store) Live(userID int64) (PendingPrompt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byUser[userID]
	if !ok || s.expired(p) {
		return PendingPrompt{}, false
	}
	return p, true
}

// Match returns the user's live prompt when repliedTo is its message id.
func (s *Store) Match(userID int64, repliedTo int) (PendingPrompt, bool) {
	if repliedTo == 0 {
		return PendingPrompt{}, false
	}
	p, ok := s.Live(userID)
	if !ok || p.PromptMessageID != repliedTo {
		return PendingPrompt{}, false
	}
	return p, true
}

// Consume deletes the user's prompt if it is still the one identified by
// promptMessageID and live. Exactly one caller wins for a given prompt.
func (s *Store) Consume(userID int64, promptMessageID int) (PendingPrompt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byUser[userID]
	if !ok || p.PromptMessageID != promptMessageID || s.expired(p) {
		return PendingPrompt{}, false
	}
	delete(s.byUser, userID)
	return p, true
}

// Remove drops the user's prompt regardless of state.
func (s *Store) Remove(userID int64) (PendingPrompt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.byUser[userID]
	delete(s.byUser, userID)
	return p, ok
}

// RemoveByKey drops any prompt issued for the file message key.
func (s *Store) RemoveByKey(key refcache.Key) []PendingPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []PendingPrompt
	for userID, p := range s.byUser {
		if p.Ref.Key == key {
			delete(s.byUser, userID)
			removed = append(removed, p)
		}
	}
	return removed
}

// Sweep drops expired prompts and returns them.
func (s *Store) Sweep() []PendingPrompt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var expired []PendingPrompt
	for userID, p := range s.byUser {
		if s.expired(p) {
			delete(s.byUser, userID)
			expired = append(expired, p)
		}
	}
	return expired
}

// Len returns the number of tracked prompts.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byUser)
}

func (s *Store) expired(p PendingPrompt) bool {
	return s.now().Sub(p.IssuedAt) >= s.ttl
}
