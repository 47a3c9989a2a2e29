// Package vault defines the persistence abstraction for upload resources:
// a replaceable storage backend owning allocation, append semantics, offset
// bookkeeping, and the metadata sidecar. The default implementation is
// pkg/vault/localvault; pkg/vault/s3vault provides an object-storage-backed
// alternative.
package vault

import (
	"context"
	"errors"

	"github.com/kallebysantos/meteoritus/pkg/fileinfo"
	"github.com/kallebysantos/meteoritus/pkg/metadata"
)

// Sentinel errors returned (optionally wrapped with an underlying cause via
// %w) by Vault implementations. Callers should check these with errors.Is.
var (
	// ErrNotFound is returned by GetFile, PatchFile and TerminateFile when
	// no resource exists for the given id.
	ErrNotFound = errors.New("vault: upload not found")
	// ErrAlreadyExists is returned by CreateFile when allocation for the
	// given id's storage location is attempted twice.
	ErrAlreadyExists = errors.New("vault: upload already exists")
	// ErrOffsetMismatch is returned by PatchFile when the client-supplied
	// offset does not match the resource's current durable offset.
	ErrOffsetMismatch = errors.New("vault: client offset does not match current offset")
	// ErrWriteExceedsLength is returned by PatchFile when client_offset +
	// len(buffer) would exceed length; no bytes are committed in this case.
	ErrWriteExceedsLength = errors.New("vault: write would exceed upload length")
	// ErrIOFailure wraps an underlying filesystem/network error.
	ErrIOFailure = errors.New("vault: I/O failure")
	// ErrSerializationFailure wraps a sidecar marshal/unmarshal error.
	ErrSerializationFailure = errors.New("vault: sidecar serialization failure")
	// ErrCreationFailure wraps any failure encountered while building or
	// allocating a new upload resource.
	ErrCreationFailure = errors.New("vault: failed to create upload")
)

// PatchOutcome distinguishes a partial append from one that completed the
// upload, mirroring the Patched(new_offset) / Completed(FileInfo) result in
// spec.md's patch_file contract.
type PatchOutcome struct {
	// NewOffset is the resource's durable offset after the patch.
	NewOffset uint64
	// Completed is true iff NewOffset == length; Info reflects the
	// Completed snapshot in that case, otherwise it still reflects Created.
	Completed bool
	// Info is the up to date FileInfo snapshot after the patch.
	Info fileinfo.Snapshot
}

// Vault is the minimal interface any persistence backend must satisfy.
// Implementations must be safe for concurrent calls on different ids;
// concurrent calls on the same id are undefined at this layer (see
// pkg/lock for optional per-id serialization).
type Vault interface {
	// BuildFile parses raw Upload-Metadata (if any) and constructs a Built
	// FileInfo with a fresh id. It performs no I/O.
	BuildFile(ctx context.Context, length uint64, rawMetadata string) (*fileinfo.FileInfo, error)

	// CreateFile allocates storage for a Built FileInfo, persists the
	// sidecar, and returns the FileInfo transitioned to Created with its
	// Location populated.
	CreateFile(ctx context.Context, info *fileinfo.FileInfo) (*fileinfo.FileInfo, error)

	// Exists reports whether both the data and the sidecar are present
	// for id.
	Exists(ctx context.Context, id string) bool

	// GetFile loads the sidecar for id and returns a FileInfo in the
	// Created (or Completed) state.
	GetFile(ctx context.Context, id string) (*fileinfo.FileInfo, error)

	// PatchFile appends data at clientOffset iff clientOffset equals the
	// resource's current durable offset, then atomically advances the
	// sidecar's offset. A buffer that would drive the new offset past
	// length is rejected with ErrWriteExceedsLength before any byte is
	// written. A short write (the backend storing fewer bytes than given)
	// is success, with NewOffset reflecting only the bytes committed.
	PatchFile(ctx context.Context, id string, data []byte, clientOffset uint64) (PatchOutcome, error)

	// TerminateFile removes the data and sidecar for id and returns the
	// last snapshot taken before removal, in the Terminated state. A second
	// call for the same id returns ErrNotFound.
	TerminateFile(ctx context.Context, id string) (fileinfo.Snapshot, error)
}

// ParseMetadata is a small helper most Vault implementations use inside
// BuildFile: an empty rawMetadata is treated as "no metadata supplied"
// rather than a parse error.
func ParseMetadata(rawMetadata string) (metadata.Metadata, error) {
	if rawMetadata == "" {
		return metadata.Metadata{}, nil
	}
	return metadata.Parse(rawMetadata)
}
