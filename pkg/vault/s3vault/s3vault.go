// Package s3vault implements pkg/vault.Vault against an S3-compatible
// bucket, demonstrating that the persistence layer is replaceable. Each
// upload gets a "<prefix><id>.info" object holding the JSON sidecar (same
// schema as localvault) and an S3 multipart upload against "<prefix><id>"
// that receives one part per PATCH. Since this spec only supports a single
// writer per resource (see pkg/lock for serializing concurrent clients),
// parts can be numbered in the order PATCHes arrive.
//
// S3 requires every part but the last to be at least 5 MiB; callers
// chunking uploads smaller than that per PATCH will see S3 reject the
// multipart upload at completion time. This mirrors the same constraint
// the teacher's s3store package documents in its own package comment.
package s3vault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/kallebysantos/meteoritus/pkg/fileinfo"
	"github.com/kallebysantos/meteoritus/pkg/metadata"
	"github.com/kallebysantos/meteoritus/pkg/vault"
)

// S3API is the subset of *s3.Client this package depends on, narrowed so
// tests can supply an in-memory fake instead of a live bucket.
type S3API interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, input *s3.CreateMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, input *s3.UploadPartInput, opts ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, input *s3.CompleteMultipartUploadInput, opts ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, input *s3.AbortMultipartUploadInput, opts ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Vault persists uploads in Bucket, with every object key prefixed by
// Prefix (which may be empty).
type Vault struct {
	Bucket  string
	Prefix  string
	Service S3API
}

// New returns a Vault writing to bucket via service, with every S3 object
// key prefixed by prefix (e.g. "uploads/").
func New(bucket, prefix string, service S3API) *Vault {
	return &Vault{Bucket: bucket, Prefix: prefix, Service: service}
}

var _ vault.Vault = (*Vault)(nil)

func (v *Vault) dataKey(id string) string {
	return v.Prefix + id
}

func (v *Vault) infoKey(id string) string {
	return v.Prefix + id + ".info"
}

// completedPart mirrors the subset of types.CompletedPart this package
// needs to persist across requests in the sidecar.
type completedPart struct {
	PartNumber int32  `json:"part_number"`
	ETag       string `json:"etag"`
}

type sidecar struct {
	ID       string            `json:"id"`
	FileName string            `json:"file_name"`
	Length   uint64            `json:"length"`
	Offset   uint64            `json:"offset"`
	Metadata map[string]string `json:"metadata"`
	UploadID string            `json:"upload_id"`
	NextPart int32             `json:"next_part"`
	Parts    []completedPart   `json:"parts"`
	Finished bool              `json:"finished"`
}

// BuildFile parses rawMetadata and constructs a Built FileInfo. No I/O.
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

// CreateFile opens an S3 multipart upload for the resource and writes the
// initial sidecar.
func (v *Vault) CreateFile(ctx context.Context, info *fileinfo.FileInfo) (*fileinfo.FileInfo, error) {
	id := info.ID()

	created, err := v.Service.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(v.Bucket),
		Key:    aws.String(v.dataKey(id)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: creating multipart upload: %s", vault.ErrCreationFailure, err)
	}

	location := v.dataKey(id)
	if err := info.MarkCreated(location); err != nil {
		return nil, fmt.Errorf("%w: %s", vault.ErrCreationFailure, err)
	}

	sc := sidecar{
		ID:       id,
		FileName: location,
		Length:   info.Length(),
		Offset:   0,
		Metadata: map[string]string(info.Metadata()),
		UploadID: aws.ToString(created.UploadId),
		NextPart: 1,
	}

	if err := v.putSidecar(ctx, sc); err != nil {
		return nil, err
	}

	return info, nil
}

func (v *Vault) putSidecar(ctx context.Context, sc sidecar) error {
	data, err := json.Marshal(sc)
	if err != nil {
		return fmt.Errorf("%w: %s", vault.ErrSerializationFailure, err)
	}

	_, err = v.Service.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(v.Bucket),
		Key:    aws.String(v.infoKey(sc.ID)),
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return fmt.Errorf("%w: writing sidecar: %s", vault.ErrIOFailure, err)
	}

	return nil
}

func (v *Vault) getSidecar(ctx context.Context, id string) (sidecar, error) {
	out, err := v.Service.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(v.Bucket),
		Key:    aws.String(v.infoKey(id)),
	})
	if err != nil {
		if isNotFound(err) {
			return sidecar{}, vault.ErrNotFound
		}
		return sidecar{}, fmt.Errorf("%w: reading sidecar: %s", vault.ErrIOFailure, err)
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return sidecar{}, fmt.Errorf("%w: reading sidecar body: %s", vault.ErrIOFailure, err)
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

func isNotFound(err error) bool {
	var noSuchKey *types.NoSuchKey
	if errors.As(err, &noSuchKey) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NoSuchKey" || apiErr.ErrorCode() == "NotFound"
	}
	return false
}

func (v *Vault) toFileInfo(sc sidecar) *fileinfo.FileInfo {
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

// Exists reports whether a sidecar is present for id.
func (v *Vault) Exists(ctx context.Context, id string) bool {
	_, err := v.getSidecar(ctx, id)
	return err == nil
}

// GetFile loads the sidecar for id.
func (v *Vault) GetFile(ctx context.Context, id string) (*fileinfo.FileInfo, error) {
	sc, err := v.getSidecar(ctx, id)
	if err != nil {
		return nil, err
	}
	return v.toFileInfo(sc), nil
}

// PatchFile uploads data as the next part of id's multipart upload, then
// completes the upload if the resulting offset reaches length.
func (v *Vault) PatchFile(ctx context.Context, id string, data []byte, clientOffset uint64) (vault.PatchOutcome, error) {
	sc, err := v.getSidecar(ctx, id)
	if err != nil {
		return vault.PatchOutcome{}, err
	}

	if sc.Offset != clientOffset {
		return vault.PatchOutcome{}, vault.ErrOffsetMismatch
	}
	if clientOffset+uint64(len(data)) > sc.Length {
		return vault.PatchOutcome{}, vault.ErrWriteExceedsLength
	}

	if len(data) > 0 {
		partNumber := sc.NextPart
		out, err := v.Service.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:     aws.String(v.Bucket),
			Key:        aws.String(v.dataKey(id)),
			UploadId:   aws.String(sc.UploadID),
			PartNumber: aws.Int32(partNumber),
			Body:       bytes.NewReader(data),
		})
		if err != nil {
			return vault.PatchOutcome{}, fmt.Errorf("%w: uploading part: %s", vault.ErrIOFailure, err)
		}

		sc.Parts = append(sc.Parts, completedPart{PartNumber: partNumber, ETag: aws.ToString(out.ETag)})
		sc.NextPart++
	}

	sc.Offset = clientOffset + uint64(len(data))

	if sc.Offset == sc.Length {
		if err := v.completeUpload(ctx, sc); err != nil {
			return vault.PatchOutcome{}, err
		}
		sc.Finished = true
	}

	if err := v.putSidecar(ctx, sc); err != nil {
		return vault.PatchOutcome{}, err
	}

	info := v.toFileInfo(sc)

	return vault.PatchOutcome{
		NewOffset: sc.Offset,
		Completed: info.IsCompleted(),
		Info:      info.Snapshot(),
	}, nil
}

func (v *Vault) completeUpload(ctx context.Context, sc sidecar) error {
	parts := make([]types.CompletedPart, len(sc.Parts))
	for i, p := range sc.Parts {
		parts[i] = types.CompletedPart{PartNumber: aws.Int32(p.PartNumber), ETag: aws.String(p.ETag)}
	}
	sort.Slice(parts, func(i, j int) bool {
		return aws.ToInt32(parts[i].PartNumber) < aws.ToInt32(parts[j].PartNumber)
	})

	_, err := v.Service.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(v.Bucket),
		Key:             aws.String(v.dataKey(sc.ID)),
		UploadId:        aws.String(sc.UploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
	})
	if err != nil {
		return fmt.Errorf("%w: completing multipart upload: %s", vault.ErrIOFailure, err)
	}

	return nil
}

// TerminateFile aborts any open multipart upload, deletes the sidecar, and
// deletes the final object if the upload had completed.
func (v *Vault) TerminateFile(ctx context.Context, id string) (fileinfo.Snapshot, error) {
	sc, err := v.getSidecar(ctx, id)
	if err != nil {
		return fileinfo.Snapshot{}, err
	}

	info := v.toFileInfo(sc)

	if !sc.Finished {
		_, _ = v.Service.AbortMultipartUpload(ctx, &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(v.Bucket),
			Key:      aws.String(v.dataKey(id)),
			UploadId: aws.String(sc.UploadID),
		})
	} else {
		_, _ = v.Service.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(v.Bucket),
			Key:    aws.String(v.dataKey(id)),
		})
	}

	if _, err := v.Service.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(v.Bucket),
		Key:    aws.String(v.infoKey(id)),
	}); err != nil {
		return fileinfo.Snapshot{}, fmt.Errorf("%w: removing sidecar: %s", vault.ErrIOFailure, err)
	}

	if err := info.Terminate(); err != nil {
		return fileinfo.Snapshot{}, err
	}

	return info.Snapshot(), nil
}
