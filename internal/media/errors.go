package media

import "errors"

var (
	// ErrThumbnailNotFound indicates the user has no stored thumbnail.
	ErrThumbnailNotFound = errors.New("thumbnail not found")
	// ErrProviderUnavailable indicates the storage provider is not configured.
	ErrProviderUnavailable = errors.New("storage provider unavailable")
	// ErrAssetTooLarge indicates the payload exceeds the configured max size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrPathTraversal indicates a storage key attempted directory traversal.
	ErrPathTraversal = errors.New("path traversal is forbidden")
	// ErrProbeFailed indicates ffprobe could not read the file.
	ErrProbeFailed = errors.New("media probe failed")
	// ErrTranscodeFailed indicates ffmpeg did not produce an output.
	ErrTranscodeFailed = errors.New("media transcode failed")
)
