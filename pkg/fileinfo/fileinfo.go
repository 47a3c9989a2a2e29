// Package fileinfo holds the typed record describing a single upload
// resource and enforces the legal transitions between its lifecycle
// states: Building -> Built -> Created -> (Uploading) -> Completed, with a
// terminal transition to Terminated from Created or Completed.
//
// Go has no phantom-type trick to make invalid transitions a compile error,
// so the state is tracked with an unexported tag and every exported method
// documents, and checks, which state(s) it is valid in.
package fileinfo

import (
	"errors"
	"fmt"

	"github.com/kallebysantos/meteoritus/internal/uid"
	"github.com/kallebysantos/meteoritus/pkg/metadata"
)

// State identifies where in its lifecycle a FileInfo currently is.
type State int

const (
	Building State = iota
	Built
	Created
	Completed
	Terminated
)

func (s State) String() string {
	switch s {
	case Building:
		return "Building"
	case Built:
		return "Built"
	case Created:
		return "Created"
	case Completed:
		return "Completed"
	case Terminated:
		return "Terminated"
	default:
		return "Unknown"
	}
}

// ErrInvalidState is returned when a transition is attempted from a state
// that does not support it.
var ErrInvalidState = errors.New("fileinfo: operation not valid in current state")

// ErrOffsetExceedsLength is returned by SetOffset when the requested offset
// would violate offset <= length.
var ErrOffsetExceedsLength = errors.New("fileinfo: offset exceeds length")

// FileInfo describes a single upload resource: its id, the total length
// promised by the client, the bytes durably stored so far, any parsed
// Upload-Metadata, and the backend-defined storage location.
type FileInfo struct {
	id       string
	length   uint64
	offset   uint64
	meta     metadata.Metadata
	location string
	state    State
}

// New constructs a FileInfo in the Building state for the given total
// length. Offset starts at zero, id is unset, and metadata is empty.
func New(length uint64) *FileInfo {
	return &FileInfo{
		length: length,
		state:  Building,
	}
}

func (f *FileInfo) invalidState(op string) error {
	return fmt.Errorf("%w: %s is not valid while in state %s", ErrInvalidState, op, f.state)
}

// WithID sets the id. Valid only in Building. id must be non-empty.
func (f *FileInfo) WithID(id string) error {
	if f.state != Building {
		return f.invalidState("WithID")
	}
	if id == "" {
		return errors.New("fileinfo: id must not be empty")
	}
	f.id = id
	return nil
}

// WithUUID assigns a fresh 128-bit id, rendered as 32 hex characters. Valid
// only in Building.
func (f *FileInfo) WithUUID() error {
	if f.state != Building {
		return f.invalidState("WithUUID")
	}
	f.id = uid.New()
	return nil
}

// WithMetadata attaches parsed Upload-Metadata. Valid only in Building.
func (f *FileInfo) WithMetadata(m metadata.Metadata) error {
	if f.state != Building {
		return f.invalidState("WithMetadata")
	}
	f.meta = m
	return nil
}

// Build freezes the attributes collected so far and transitions to Built.
// Requires a non-empty id (call WithID or WithUUID first).
func (f *FileInfo) Build() error {
	if f.state != Building {
		return f.invalidState("Build")
	}
	if f.id == "" {
		return errors.New("fileinfo: cannot build without an id")
	}
	f.state = Built
	return nil
}

// MarkCreated transitions a Built FileInfo to Created once the vault has
// allocated storage for it. location must be non-empty.
func (f *FileInfo) MarkCreated(location string) error {
	if f.state != Built {
		return f.invalidState("MarkCreated")
	}
	if location == "" {
		return errors.New("fileinfo: location must not be empty")
	}
	f.location = location
	f.state = Created
	return nil
}

// SetOffset advances the durable offset. Valid only in Created. Fails with
// ErrOffsetExceedsLength if offset would exceed length.
func (f *FileInfo) SetOffset(offset uint64) error {
	if f.state != Created {
		return f.invalidState("SetOffset")
	}
	if offset > f.length {
		return fmt.Errorf("%w: offset %d, length %d", ErrOffsetExceedsLength, offset, f.length)
	}
	f.offset = offset
	return nil
}

// CheckCompletion transitions Created to Completed if offset == length and
// reports whether the FileInfo is now Completed. It is a no-op, returning
// false, if offset < length or if called outside Created/Completed.
func (f *FileInfo) CheckCompletion() bool {
	switch f.state {
	case Created:
		if f.offset == f.length {
			f.state = Completed
			return true
		}
		return false
	case Completed:
		return true
	default:
		return false
	}
}

// Terminate transitions a Created or Completed FileInfo to Terminated.
func (f *FileInfo) Terminate() error {
	if f.state != Created && f.state != Completed {
		return f.invalidState("Terminate")
	}
	f.state = Terminated
	return nil
}

// ID returns the resource's server-assigned identifier.
func (f *FileInfo) ID() string { return f.id }

// Length returns the total byte count the client promised to upload.
func (f *FileInfo) Length() uint64 { return f.length }

// Offset returns the number of bytes successfully stored so far.
func (f *FileInfo) Offset() uint64 { return f.offset }

// Metadata returns the parsed Upload-Metadata mapping, which may be empty.
func (f *FileInfo) Metadata() metadata.Metadata { return f.meta }

// State returns the FileInfo's current lifecycle state.
func (f *FileInfo) State() State { return f.state }

// Location returns the backend-defined storage handle. It is only
// meaningful once the FileInfo has reached Created or later; before that
// it is the empty string.
func (f *FileInfo) Location() string { return f.location }

// IsCompleted reports whether offset == length, without mutating state.
func (f *FileInfo) IsCompleted() bool {
	return f.offset == f.length
}

// Snapshot captures the FileInfo's fields as a value, for passing to
// callbacks or serializing to the on-disk sidecar without exposing the
// mutable pointer.
type Snapshot struct {
	ID       string
	Length   uint64
	Offset   uint64
	Metadata metadata.Metadata
	Location string
	State    State
}

// Snapshot returns an immutable copy of the FileInfo's current fields.
func (f *FileInfo) Snapshot() Snapshot {
	return Snapshot{
		ID:       f.id,
		Length:   f.length,
		Offset:   f.offset,
		Metadata: f.meta,
		Location: f.location,
		State:    f.state,
	}
}

// FromSnapshot reconstructs a FileInfo in the Created state from
// previously-persisted fields, e.g. after loading the sidecar from the
// vault. It bypasses the usual Building/Built progression since the
// resource is already allocated on storage.
func FromSnapshot(s Snapshot) *FileInfo {
	return &FileInfo{
		id:       s.ID,
		length:   s.Length,
		offset:   s.Offset,
		meta:     s.Metadata,
		location: s.Location,
		state:    Created,
	}
}
