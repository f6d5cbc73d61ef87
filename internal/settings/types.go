package settings

import (
	"context"
	"errors"

	"github.com/DINO060/RENAMBOT/internal/filename"
)

const (
	// MaxCustomTextLength caps the custom text in characters.
	MaxCustomTextLength = 50
	// MaxUsernameLength caps the custom username in characters.
	MaxUsernameLength = 63
)

var (
	ErrCustomTextTooLong = errors.New("custom text is too long")
	ErrInvalidUsername   = errors.New("username must start with @ and be shorter than 64 characters")
	ErrInvalidPosition   = errors.New("position must be start or end")
)

// Store persists per-user naming preferences. Get returns the defaults for a
// user that never saved anything.
type Store interface {
	Get(ctx context.Context, userID int64) (filename.Preferences, error)
	Save(ctx context.Context, userID int64, prefs filename.Preferences) error
}
