package settings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/DINO060/RENAMBOT/internal/filename"
)

type Service struct {
	store  Store
	logger *slog.Logger
}

func NewService(log *slog.Logger, store Store) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		store:  store,
		logger: log.With(slog.String("service", "settings")),
	}
}

func (s *Service) Get(ctx context.Context, userID int64) (filename.Preferences, error) {
	prefs, err := s.store.Get(ctx, userID)
	if err != nil {
		return filename.DefaultPreferences(), fmt.Errorf("load preferences: %w", err)
	}
	return prefs, nil
}

// SetCustomText stores text to add to every filename. Empty text clears it.
func (s *Service) SetCustomText(ctx context.Context, userID int64, text string) (filename.Preferences, error) {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) > MaxCustomTextLength {
		return filename.Preferences{}, ErrCustomTextTooLong
	}
	return s.update(ctx, userID, func(p *filename.Preferences) {
		p.CustomText = text
		if p.Position == "" {
			p.Position = filename.PositionEnd
		}
	})
}

func (s *Service) SetPosition(ctx context.Context, userID int64, raw string) (filename.Preferences, error) {
	pos, ok := filename.ParsePosition(raw)
	if !ok {
		return filename.Preferences{}, ErrInvalidPosition
	}
	return s.update(ctx, userID, func(p *filename.Preferences) {
		p.Position = pos
	})
}

func (s *Service) SetCleanTags(ctx context.Context, userID int64, enabled bool) (filename.Preferences, error) {
	return s.update(ctx, userID, func(p *filename.Preferences) {
		p.CleanTags = enabled
	})
}

// SetUsername stores the @name appended to filenames. Empty clears it.
func (s *Service) SetUsername(ctx context.Context, userID int64, username string) (filename.Preferences, error) {
	username = strings.TrimSpace(username)
	if username != "" {
		if !strings.HasPrefix(username, "@") || utf8.RuneCountInString(username) > MaxUsernameLength || len(username) < 2 {
			return filename.Preferences{}, ErrInvalidUsername
		}
	}
	return s.update(ctx, userID, func(p *filename.Preferences) {
		p.Username = username
	})
}

func (s *Service) update(ctx context.Context, userID int64, mutate func(*filename.Preferences)) (filename.Preferences, error) {
	prefs, err := s.Get(ctx, userID)
	if err != nil {
		return filename.Preferences{}, err
	}
	mutate(&prefs)
	if err := s.store.Save(ctx, userID, prefs); err != nil {
		return filename.Preferences{}, fmt.Errorf("save preferences: %w", err)
	}
	s.logger.Info("preferences updated", slog.Int64("user_id", userID))
	return prefs, nil
}
