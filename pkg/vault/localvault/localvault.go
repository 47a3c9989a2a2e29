// Package localvault is the default filesystem-backed implementation of
// pkg/vault.Vault. Each upload owns a subdirectory named after its id,
// containing a preallocated data file ("file") and a JSON metadata sidecar
// ("info.json"), per spec.md §4.3.1.
package localvault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kallebysantos/meteoritus/pkg/fileinfo"
	"github.com/kallebysantos/meteoritus/pkg/metadata"
	"github.com/kallebysantos/meteoritus/pkg/vault"
)

// defaultFilePerm matches the permission used by the teacher's filestore
// package for both the data file and the sidecar.
const defaultFilePerm = os.FileMode(0664)

const (
	dataFileName = "file"
	infoFileName = "info.json"
)

// Vault persists uploads under Root, one subdirectory per upload id.
type Vault struct {
	// Root is the directory under which every upload's subdirectory is
	// created. It is created (with any missing parents) lazily on the
	// first CreateFile call.
	Root string
}

// New returns a Vault rooted at dir. The directory is not required to
// exist yet; CreateFile will create it as needed.
func New(dir string) *Vault {
	return &Vault{Root: dir}
}

var _ vault.Vault = (*Vault)(nil)

// sidecar is the on-disk JSON representation of info.json, matching the
// schema in spec.md §6.2 exactly (including the "file_name" field name for
// what the rest of this codebase calls Location).
type sidecar struct {
	ID       string            `json:"id"`
	FileName string            `json:"file_name"`
	Length   uint64            `json:"length"`
	Offset   uint64            `json:"offset"`
	Metadata map[string]string `json:"metadata"`
}

func (v *Vault) uploadDir(id string) string {
	return filepath.Join(v.Root, id)
}

func (v *Vault) dataPath(id string) string {
	return filepath.Join(v.uploadDir(id), dataFileName)
}

func (v *Vault) infoPath(id string) string {
	return filepath.Join(v.uploadDir(id), infoFileName)
}

// BuildFile parses rawMetadata and constructs a Built FileInfo with a fresh
// id. It performs no I/O.
func (v *Vault) BuildFile(ctx context.Context, length uint64, rawMetadata string) (*fileinfo.FileInfo, error) {
	meta, err := vault.ParseMetadata(rawMetadata)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", vault.ErrCreationFailure, err)
	}

	info := fileinfo.New(length)
	if err := info.WithUUID(); err != nil {
		return nil, fmt.Errorf("%w: %s", vault.ErrCreationFailure, err)
	}
	if err := info.WithMetadata(meta); err != nil {
		return nil, fmt.Errorf("%w: %s", vault.ErrCreationFailure, err)
	}
	if err := info.Build(); err != nil {
		return nil, fmt.Errorf("%w: %s", vault.ErrCreationFailure, err)
	}

	return info, nil
}

// CreateFile allocates the upload directory, preallocates the data file to
// exactly info.Length() bytes, writes the sidecar, and transitions info to
// Created. Steps follow spec.md §4.3.2 in order; a failure at any step
// leaves partial state that a retry with the same id will fail fast on.
func (v *Vault) CreateFile(ctx context.Context, info *fileinfo.FileInfo) (*fileinfo.FileInfo, error) {
	id := info.ID()
	dir := v.uploadDir(id)

	if err := os.MkdirAll(dir, 0775); err != nil {
		return nil, fmt.Errorf("%w: creating upload directory: %s", vault.ErrCreationFailure, err)
	}

	dataFile, err := os.OpenFile(v.dataPath(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, defaultFilePerm)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: %s", vault.ErrAlreadyExists, err)
		}
		return nil, fmt.Errorf("%w: creating data file: %s", vault.ErrCreationFailure, err)
	}
	if err := dataFile.Truncate(int64(info.Length())); err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("%w: preallocating data file: %s", vault.ErrCreationFailure, err)
	}
	if err := dataFile.Close(); err != nil {
		return nil, fmt.Errorf("%w: closing data file: %s", vault.ErrCreationFailure, err)
	}

	if err := info.MarkCreated(dir); err != nil {
		return nil, fmt.Errorf("%w: %s", vault.ErrCreationFailure, err)
	}

	if err := v.writeSidecar(info); err != nil {
		return nil, err
	}

	return info, nil
}

func (v *Vault) writeSidecar(info *fileinfo.FileInfo) error {
	snap := info.Snapshot()
	sc := sidecar{
		ID:       snap.ID,
		FileName: snap.Location,
		Length:   snap.Length,
		Offset:   snap.Offset,
		Metadata: map[string]string(snap.Metadata),
	}

	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("%w: %s", vault.ErrSerializationFailure, err)
	}

	if err := os.WriteFile(v.infoPath(snap.ID), data, defaultFilePerm); err != nil {
		return fmt.Errorf("%w: writing sidecar: %s", vault.ErrIOFailure, err)
	}

	return nil
}

func (v *Vault) readSidecar(id string) (sidecar, error) {
	data, err := os.ReadFile(v.infoPath(id))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return sidecar{}, vault.ErrNotFound
		}
		return sidecar{}, fmt.Errorf("%w: reading sidecar: %s", vault.ErrIOFailure, err)
	}

	var sc sidecar
	if err := json.Unmarshal(data, &sc); err != nil {
		return sidecar{}, fmt.Errorf("%w: %s", vault.ErrSerializationFailure, err)
	}

	if sc.ID == "" {
		return sidecar{}, fmt.Errorf("%w: sidecar missing id", vault.ErrSerializationFailure)
	}

	return sc, nil
}

// Exists reports whether both the data file and the sidecar are present.
func (v *Vault) Exists(ctx context.Context, id string) bool {
	if _, err := os.Stat(v.dataPath(id)); err != nil {
		return false
	}
	if _, err := os.Stat(v.infoPath(id)); err != nil {
		return false
	}
	return true
}

func (v *Vault) fileInfoFromSidecar(sc sidecar) *fileinfo.FileInfo {
	info := fileinfo.FromSnapshot(fileinfo.Snapshot{
		ID:       sc.ID,
		Length:   sc.Length,
		Offset:   sc.Offset,
		Metadata: metadata.Metadata(sc.Metadata),
		Location: sc.FileName,
	})
	info.CheckCompletion()
	return info
}

// GetFile loads the sidecar for id.
func (v *Vault) GetFile(ctx context.Context, id string) (*fileinfo.FileInfo, error) {
	sc, err := v.readSidecar(id)
	if err != nil {
		return nil, err
	}
	return v.fileInfoFromSidecar(sc), nil
}

// PatchFile implements spec.md §4.3.3's hot path: load the sidecar, check
// the client offset, reject-before-write if the buffer would overrun
// length, append in place, and rewrite the sidecar with the new offset.
func (v *Vault) PatchFile(ctx context.Context, id string, data []byte, clientOffset uint64) (vault.PatchOutcome, error) {
	sc, err := v.readSidecar(id)
	if err != nil {
		return vault.PatchOutcome{}, err
	}

	if sc.Offset != clientOffset {
		return vault.PatchOutcome{}, vault.ErrOffsetMismatch
	}

	if clientOffset+uint64(len(data)) > sc.Length {
		return vault.PatchOutcome{}, vault.ErrWriteExceedsLength
	}

	file, err := os.OpenFile(v.dataPath(id), os.O_WRONLY, defaultFilePerm)
	if err != nil {
		return vault.PatchOutcome{}, fmt.Errorf("%w: opening data file: %s", vault.ErrIOFailure, err)
	}
	defer file.Close()

	if _, err := file.Seek(int64(clientOffset), 0); err != nil {
		return vault.PatchOutcome{}, fmt.Errorf("%w: seeking data file: %s", vault.ErrIOFailure, err)
	}

	written, writeErr := file.Write(data)

	newOffset := clientOffset + uint64(written)
	sc.Offset = newOffset

	info := v.fileInfoFromSidecar(sc)
	if sidecarErr := v.writeSidecar(info); sidecarErr != nil {
		if writeErr != nil {
			return vault.PatchOutcome{}, errors.Join(writeErr, sidecarErr)
		}
		return vault.PatchOutcome{}, sidecarErr
	}

	if writeErr != nil {
		return vault.PatchOutcome{}, fmt.Errorf("%w: writing data file: %s", vault.ErrIOFailure, writeErr)
	}

	return vault.PatchOutcome{
		NewOffset: newOffset,
		Completed: info.IsCompleted(),
		Info:      info.Snapshot(),
	}, nil
}

// TerminateFile removes the data file and sidecar for id and, if the
// directory is now empty, removes it too. A second call for an already
// removed id returns ErrNotFound, matching the protocol's idempotency
// requirement.
func (v *Vault) TerminateFile(ctx context.Context, id string) (fileinfo.Snapshot, error) {
	sc, err := v.readSidecar(id)
	if err != nil {
		return fileinfo.Snapshot{}, err
	}

	info := v.fileInfoFromSidecar(sc)

	if err := os.Remove(v.infoPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fileinfo.Snapshot{}, fmt.Errorf("%w: removing sidecar: %s", vault.ErrIOFailure, err)
	}
	if err := os.Remove(v.dataPath(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fileinfo.Snapshot{}, fmt.Errorf("%w: removing data file: %s", vault.ErrIOFailure, err)
	}

	// Best-effort: remove the now-empty upload directory. A non-empty
	// directory (unexpected extra files) is left alone.
	_ = os.Remove(v.uploadDir(id))

	if err := info.Terminate(); err != nil {
		return fileinfo.Snapshot{}, err
	}

	return info.Snapshot(), nil
}
