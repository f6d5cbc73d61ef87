package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
)

// ThumbnailStore keeps one JPEG thumbnail per user on a storage provider.
type ThumbnailStore struct {
	provider StorageProvider
	maxBytes int64
	logger   *slog.Logger
}

// NewThumbnailStore creates a store. maxBytes <= 0 uses MaxThumbnailBytes.
func NewThumbnailStore(log *slog.Logger, provider StorageProvider, maxBytes int64) *ThumbnailStore {
	if log == nil {
		log = slog.Default()
	}
	if maxBytes <= 0 {
		maxBytes = MaxThumbnailBytes
	}
	return &ThumbnailStore{
		provider: provider,
		maxBytes: maxBytes,
		logger:   log.With(slog.String("service", "thumbnails")),
	}
}

func thumbnailKey(userID int64) string {
	return strconv.FormatInt(userID, 10) + ".jpg"
}

// Path returns the local path of the user's thumbnail when one exists.
func (s *ThumbnailStore) Path(userID int64) (string, bool) {
	if s == nil || s.provider == nil {
		return "", false
	}
	p := s.provider.AccessPath(thumbnailKey(userID))
	if p == "" {
		return "", false
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return "", false
	}
	return p, true
}

// Has reports whether the user has a thumbnail.
func (s *ThumbnailStore) Has(userID int64) bool {
	_, ok := s.Path(userID)
	return ok
}

// Save stores image data read from r as the user's thumbnail. Payloads
// above the size cap are rejected with ErrAssetTooLarge.
func (s *ThumbnailStore) Save(ctx context.Context, userID int64, r io.Reader) error {
	if s == nil || s.provider == nil {
		return ErrProviderUnavailable
	}
	data, err := ReadAllWithLimit(r, s.maxBytes)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return fmt.Errorf("thumbnail is empty")
	}
	if err := s.provider.Put(ctx, thumbnailKey(userID), bytes.NewReader(data)); err != nil {
		return fmt.Errorf("store thumbnail: %w", err)
	}
	s.logger.Info("thumbnail saved", slog.Int64("user_id", userID), slog.Int("bytes", len(data)))
	return nil
}

// Import moves a downloaded image file into the store. The source is
// removed afterwards whether or not the import succeeds.
func (s *ThumbnailStore) Import(ctx context.Context, userID int64, srcPath string) error {
	defer func() {
		_ = os.Remove(srcPath)
	}()
	f, err := os.Open(srcPath)
	if err != nil {
		return fmt.Errorf("open thumbnail: %w", err)
	}
	defer f.Close()
	return s.Save(ctx, userID, f)
}

// Delete removes the user's thumbnail. It returns ErrThumbnailNotFound when
// there was none.
func (s *ThumbnailStore) Delete(ctx context.Context, userID int64) error {
	if s == nil || s.provider == nil {
		return ErrProviderUnavailable
	}
	if !s.Has(userID) {
		return ErrThumbnailNotFound
	}
	if err := s.provider.Delete(ctx, thumbnailKey(userID)); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrThumbnailNotFound
		}
		return fmt.Errorf("delete thumbnail: %w", err)
	}
	s.logger.Info("thumbnail deleted", slog.Int64("user_id", userID))
	return nil
}
