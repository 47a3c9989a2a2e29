package adapter

import (
	"errors"
	"net/http"

	"github.com/kallebysantos/meteoritus/pkg/vault"
)

// Error represents a protocol-facing failure: an error code for log
// correlation, a short client-safe message, and the exact HTTP response to
// send. Never wraps or leaks an underlying vault/filesystem error message.
type Error struct {
	Code     string
	Message  string
	Response HTTPResponse
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

// NewError builds an Error whose response carries statusCode and a short
// plain-text body of "<code>: <message>".
func NewError(code, message string, statusCode int) Error {
	return Error{
		Code:    code,
		Message: message,
		Response: HTTPResponse{
			StatusCode: statusCode,
			Body:       code + ": " + message + "\n",
			Header: HTTPHeader{
				"Content-Type": "text/plain; charset=utf-8",
			},
		},
	}
}

// Predefined errors covering every status code in spec §6.1.
var (
	ErrMissingTusResumable = NewError("ErrMissingTusResumable", "Tus-Resumable header missing or invalid", http.StatusBadRequest)
	ErrMissingUploadLength = NewError("ErrMissingUploadLength", "Upload-Length header missing or invalid", http.StatusBadRequest)
	ErrMissingUploadOffset = NewError("ErrMissingUploadOffset", "Upload-Offset header missing or invalid", http.StatusBadRequest)
	ErrMissingContentType  = NewError("ErrMissingContentType", "Content-Type header missing", http.StatusBadRequest)
	ErrUnsupportedMediaType = NewError("ErrUnsupportedMediaType", "Content-Type must be application/offset+octet-stream", http.StatusUnsupportedMediaType)
	ErrUploadTooLarge      = NewError("ErrUploadTooLarge", "Upload-Length exceeds the configured maximum", http.StatusRequestEntityTooLarge)
	ErrUploadNotFound      = NewError("ErrUploadNotFound", "no upload exists for this id", http.StatusNotFound)
	ErrUploadGone          = NewError("ErrUploadGone", "upload has already been terminated", http.StatusGone)
	ErrOffsetConflict      = NewError("ErrOffsetConflict", "Upload-Offset does not match the upload's current offset", http.StatusConflict)
	ErrCallbackRejected    = NewError("ErrCallbackRejected", "upload rejected by callback", http.StatusUnprocessableEntity)
	ErrBodyReadFailed      = NewError("ErrBodyReadFailed", "failed to read request body", http.StatusUnprocessableEntity)
	ErrWriteFailed         = NewError("ErrWriteFailed", "failed to persist uploaded bytes", http.StatusUnprocessableEntity)
	ErrInternal            = NewError("ErrInternal", "internal server error", http.StatusInternalServerError)
)

// mapVaultError translates a pkg/vault sentinel error into the adapter
// Error with the closest matching HTTP semantics, defaulting to 500 for
// anything unrecognized so that no internal detail leaks to the client.
// Used by Status; Terminate maps ErrNotFound to 410 itself, and Patch uses
// mapPatchError instead, since PATCH has its own error-to-status contract.
func mapVaultError(err error) Error {
	switch {
	case errors.Is(err, vault.ErrNotFound):
		return ErrUploadNotFound
	case errors.Is(err, vault.ErrOffsetMismatch):
		return ErrOffsetConflict
	case errors.Is(err, vault.ErrWriteExceedsLength):
		return ErrWriteFailed
	case errors.Is(err, vault.ErrAlreadyExists):
		return ErrInternal
	default:
		return ErrInternal
	}
}

// mapPatchError translates a PatchFile error per spec.md's PATCH
// algorithm: an offset mismatch is a conflict, an unknown id is reported
// as not-found, and every other failure - I/O, sidecar serialization, or
// anything unrecognized - is a write failure, since any write error during
// PATCH must surface as 422.
func mapPatchError(err error) Error {
	switch {
	case errors.Is(err, vault.ErrOffsetMismatch):
		return ErrOffsetConflict
	case errors.Is(err, vault.ErrNotFound):
		return ErrUploadNotFound
	default:
		return ErrWriteFailed
	}
}
