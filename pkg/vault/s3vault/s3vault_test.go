package s3vault

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kallebysantos/meteoritus/pkg/vault"
)

// fakeS3 is an in-memory stand-in for a bucket, just enough to exercise
// Vault without a live AWS connection.
type fakeS3 struct {
	mu         sync.Mutex
	objects    map[string][]byte
	uploads    map[string]map[int32][]byte
	nextUpload int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{
		objects: make(map[string][]byte),
		uploads: make(map[string]map[int32][]byte),
	}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(in.Key)] = data
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	data, ok := f.objects[aws.ToString(in.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(in.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	f.nextUpload++
	id := "upload-" + strconv.Itoa(f.nextUpload)
	f.uploads[id] = make(map[int32][]byte)
	f.mu.Unlock()
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(ctx context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	parts, ok := f.uploads[aws.ToString(in.UploadId)]
	if ok {
		parts[aws.ToInt32(in.PartNumber)] = data
	}
	f.mu.Unlock()
	etag := "etag-" + strconv.FormatInt(int64(aws.ToInt32(in.PartNumber)), 10)
	return &s3.UploadPartOutput{ETag: aws.String(etag)}, nil
}

func (f *fakeS3) CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := f.uploads[aws.ToString(in.UploadId)]
	numbers := make([]int32, 0, len(parts))
	for n := range parts {
		numbers = append(numbers, n)
	}
	sort.Slice(numbers, func(i, j int) bool { return numbers[i] < numbers[j] })

	var buf bytes.Buffer
	for _, n := range numbers {
		buf.Write(parts[n])
	}

	f.objects[aws.ToString(in.Key)] = buf.Bytes()
	delete(f.uploads, aws.ToString(in.UploadId))

	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	delete(f.uploads, aws.ToString(in.UploadId))
	f.mu.Unlock()
	return &s3.AbortMultipartUploadOutput{}, nil
}

var _ S3API = (*fakeS3)(nil)

func newTestVault() *Vault {
	return New("test-bucket", "uploads/", newFakeS3())
}

func TestCreateFile_OpensMultipartUploadAndSidecar(t *testing.T) {
	ctx := context.Background()
	v := newTestVault()

	built, err := v.BuildFile(ctx, 10, "")
	require.NoError(t, err)

	created, err := v.CreateFile(ctx, built)
	require.NoError(t, err)
	assert.Equal(t, "uploads/"+created.ID(), created.Location())

	assert.True(t, v.Exists(ctx, created.ID()))
}

func TestPatchFile_TwoPartsThenComplete(t *testing.T) {
	ctx := context.Background()
	v := newTestVault()

	built, err := v.BuildFile(ctx, 10, "")
	require.NoError(t, err)
	created, err := v.CreateFile(ctx, built)
	require.NoError(t, err)
	id := created.ID()

	outcome, err := v.PatchFile(ctx, id, []byte("HELLO"), 0)
	require.NoError(t, err)
	assert.EqualValues(t, 5, outcome.NewOffset)
	assert.False(t, outcome.Completed)

	outcome, err = v.PatchFile(ctx, id, []byte("WORLD"), 5)
	require.NoError(t, err)
	assert.EqualValues(t, 10, outcome.NewOffset)
	assert.True(t, outcome.Completed)

	info, err := v.GetFile(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.IsCompleted())
}

func TestPatchFile_OffsetMismatch(t *testing.T) {
	ctx := context.Background()
	v := newTestVault()

	built, _ := v.BuildFile(ctx, 10, "")
	created, _ := v.CreateFile(ctx, built)

	_, err := v.PatchFile(ctx, created.ID(), []byte("X"), 3)
	assert.ErrorIs(t, err, vault.ErrOffsetMismatch)
}

func TestPatchFile_RejectsOverrun(t *testing.T) {
	ctx := context.Background()
	v := newTestVault()

	built, _ := v.BuildFile(ctx, 4, "")
	created, _ := v.CreateFile(ctx, built)

	_, err := v.PatchFile(ctx, created.ID(), []byte("TOOLONG"), 0)
	assert.ErrorIs(t, err, vault.ErrWriteExceedsLength)
}

func TestTerminateFile_AbortsInProgressUpload(t *testing.T) {
	ctx := context.Background()
	v := newTestVault()

	built, _ := v.BuildFile(ctx, 10, "")
	created, _ := v.CreateFile(ctx, built)
	id := created.ID()

	_, err := v.PatchFile(ctx, id, []byte("HELLO"), 0)
	require.NoError(t, err)

	_, err = v.TerminateFile(ctx, id)
	require.NoError(t, err)
	assert.Empty(t, v.Service.(*fakeS3).uploads)

	_, err = v.TerminateFile(ctx, id)
	assert.ErrorIs(t, err, vault.ErrNotFound)
}

func TestTerminateFile_CompletedUploadDeletesFinalObject(t *testing.T) {
	ctx := context.Background()
	v := newTestVault()

	built, _ := v.BuildFile(ctx, 5, "")
	created, _ := v.CreateFile(ctx, built)
	id := created.ID()

	_, err := v.PatchFile(ctx, id, []byte("HELLO"), 0)
	require.NoError(t, err)

	_, err = v.TerminateFile(ctx, id)
	require.NoError(t, err)

	assert.False(t, v.Exists(ctx, id))
	_, err = v.Service.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(v.Bucket), Key: aws.String(v.dataKey(id))})
	assert.True(t, isNotFound(err))
}

func TestGetFile_UnknownIDReturnsNotFound(t *testing.T) {
	ctx := context.Background()
	v := newTestVault()

	_, err := v.GetFile(ctx, "does-not-exist")
	assert.ErrorIs(t, err, vault.ErrNotFound)
}
