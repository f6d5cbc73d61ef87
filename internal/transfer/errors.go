package transfer

import "errors"

var (
	// ErrAdmissionDenied means the quota gate refused the transfer.
	ErrAdmissionDenied = errors.New("admission denied")
	// ErrTransferFailed means a download or upload did not complete.
	ErrTransferFailed = errors.New("transfer failed")
	// ErrNormalizeFailed means transcoding failed and the original file was used.
	ErrNormalizeFailed = errors.New("normalize failed")
	// ErrRateLimited means the platform kept asking to slow down past the retry budget.
	ErrRateLimited = errors.New("rate limited")
	// ErrStaleReference means the file reference is gone and the user must resend.
	ErrStaleReference = errors.New("session expired, resend the file")
	// ErrUnauthorized means someone other than the file owner acted on it.
	ErrUnauthorized = errors.New("not your file")
)
