package media

import (
	"context"
	"io"
)

// VideoInfo is what a probe learns about a video file.
type VideoInfo struct {
	DurationS  int
	Width      int
	Height     int
	VideoCodec string
	AudioCodec string
}

// Compatible reports whether the file already plays inline everywhere.
func (v VideoInfo) Compatible() bool {
	return v.VideoCodec == "h264" && (v.AudioCodec == "" || v.AudioCodec == "aac")
}

// Prober inspects a local video file. ok is false when nothing usable was found.
type Prober interface {
	Probe(ctx context.Context, path string) (info VideoInfo, ok bool)
}

// Transcoder rewrites a video into the compatible codec pair. On failure it
// returns the original path together with the error.
type Transcoder interface {
	Transcode(ctx context.Context, path string) (string, error)
}

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// Delete removes the object at key.
	Delete(ctx context.Context, key string) error
	// AccessPath returns the local path for a storage key.
	AccessPath(key string) string
}
