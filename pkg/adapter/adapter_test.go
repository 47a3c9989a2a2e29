package adapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kallebysantos/meteoritus/pkg/vault"
	"github.com/kallebysantos/meteoritus/pkg/vault/localvault"
)

func newTestAdapter(t *testing.T, configure func(*Config)) *Adapter {
	t.Helper()

	cfg := Config{
		Vault:         localvault.New(t.TempDir()),
		BasePath:      "/meteoritus",
		MaxSize:       1024,
		AutoTerminate: true,
	}
	if configure != nil {
		configure(&cfg)
	}

	a, err := New(cfg)
	require.NoError(t, err)
	return a
}

func doRequest(a *Adapter, method, path string, headers map[string]string, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	a.Handler().ServeHTTP(rr, req)
	return rr
}

func tusHeaders(extra map[string]string) map[string]string {
	h := map[string]string{"Tus-Resumable": "1.0.0"}
	for k, v := range extra {
		h[k] = v
	}
	return h
}

func TestHappyPath_TwoChunkUpload(t *testing.T) {
	a := newTestAdapter(t, nil)

	createResp := doRequest(a, http.MethodPost, "/meteoritus/", tusHeaders(map[string]string{"Upload-Length": "10"}), "")
	require.Equal(t, http.StatusCreated, createResp.Code)

	location := createResp.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, "/meteoritus/"))
	id := strings.TrimPrefix(location, "/meteoritus/")

	patch1 := doRequest(a, http.MethodPatch, location, tusHeaders(map[string]string{
		"Upload-Offset": "0",
		"Content-Type":  "application/offset+octet-stream",
	}), "HELLO")
	require.Equal(t, http.StatusNoContent, patch1.Code)
	assert.Equal(t, "5", patch1.Header().Get("Upload-Offset"))

	patch2 := doRequest(a, http.MethodPatch, location, tusHeaders(map[string]string{
		"Upload-Offset": "5",
		"Content-Type":  "application/offset+octet-stream",
	}), "WORLD")
	require.Equal(t, http.StatusNoContent, patch2.Code)
	assert.Equal(t, "10", patch2.Header().Get("Upload-Offset"))

	head := doRequest(a, http.MethodHead, "/meteoritus/"+id, tusHeaders(nil), "")
	assert.Equal(t, http.StatusNotFound, head.Code)
}

func TestOffsetConflict(t *testing.T) {
	a := newTestAdapter(t, nil)

	createResp := doRequest(a, http.MethodPost, "/meteoritus/", tusHeaders(map[string]string{"Upload-Length": "10"}), "")
	location := createResp.Header().Get("Location")

	doRequest(a, http.MethodPatch, location, tusHeaders(map[string]string{
		"Upload-Offset": "0",
		"Content-Type":  "application/offset+octet-stream",
	}), "HELLO")

	conflict := doRequest(a, http.MethodPatch, location, tusHeaders(map[string]string{
		"Upload-Offset": "3",
		"Content-Type":  "application/offset+octet-stream",
	}), "X")
	assert.Equal(t, http.StatusConflict, conflict.Code)
}

func TestOversizeUploadRejected(t *testing.T) {
	a := newTestAdapter(t, func(c *Config) { c.MaxSize = 1024 })

	resp := doRequest(a, http.MethodPost, "/meteoritus/", tusHeaders(map[string]string{"Upload-Length": "2048"}), "")
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
}

func TestMetadataRoundTrip(t *testing.T) {
	a := newTestAdapter(t, nil)

	resp := doRequest(a, http.MethodPost, "/meteoritus/", tusHeaders(map[string]string{
		"Upload-Length":   "4",
		"Upload-Metadata": "filename bXlfdmlkZW8ubXA0, filetype dmlkZW8vbXA0",
	}), "")
	require.Equal(t, http.StatusCreated, resp.Code)

	location := resp.Header().Get("Location")
	id := strings.TrimPrefix(location, "/meteoritus/")

	info, err := a.cfg.Vault.GetFile(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "bXlfdmlkZW8ubXA0", info.Metadata()["filename"])

	raw, err := info.Metadata().GetRaw("filename")
	require.NoError(t, err)
	assert.Equal(t, "my_video.mp4", string(raw))
}

func TestMissingTusResumableHeader(t *testing.T) {
	a := newTestAdapter(t, nil)

	resp := doRequest(a, http.MethodPatch, "/meteoritus/some-id", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestTerminateTwice(t *testing.T) {
	a := newTestAdapter(t, func(c *Config) { c.AutoTerminate = false })

	createResp := doRequest(a, http.MethodPost, "/meteoritus/", tusHeaders(map[string]string{"Upload-Length": "1"}), "")
	location := createResp.Header().Get("Location")

	first := doRequest(a, http.MethodDelete, location, tusHeaders(nil), "")
	assert.Equal(t, http.StatusNoContent, first.Code)

	second := doRequest(a, http.MethodDelete, location, tusHeaders(nil), "")
	assert.Equal(t, http.StatusGone, second.Code)
}

func TestZeroLengthUploadCompletesImmediately(t *testing.T) {
	a := newTestAdapter(t, func(c *Config) { c.AutoTerminate = false })

	createResp := doRequest(a, http.MethodPost, "/meteoritus/", tusHeaders(map[string]string{"Upload-Length": "0"}), "")
	location := createResp.Header().Get("Location")

	head := doRequest(a, http.MethodHead, location, tusHeaders(nil), "")
	require.Equal(t, http.StatusNoContent, head.Code)
	assert.Equal(t, "0", head.Header().Get("Upload-Length"))
	assert.Equal(t, "0", head.Header().Get("Upload-Offset"))
}

func TestOptions_ReportsCapabilities(t *testing.T) {
	a := newTestAdapter(t, nil)

	resp := doRequest(a, http.MethodOptions, "/meteoritus/", nil, "")
	assert.Equal(t, http.StatusNoContent, resp.Code)
	assert.Equal(t, "1.0.0", resp.Header().Get("Tus-Version"))
	assert.Equal(t, "creation,termination", resp.Header().Get("Tus-Extension"))
	assert.Equal(t, "1024", resp.Header().Get("Tus-Max-Size"))
}

func TestPatch_WrongContentTypeIsUnsupportedMediaType(t *testing.T) {
	a := newTestAdapter(t, nil)

	createResp := doRequest(a, http.MethodPost, "/meteoritus/", tusHeaders(map[string]string{"Upload-Length": "5"}), "")
	location := createResp.Header().Get("Location")

	resp := doRequest(a, http.MethodPatch, location, tusHeaders(map[string]string{
		"Upload-Offset": "0",
		"Content-Type":  "text/plain",
	}), "hello")
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.Code)
}

func TestOnCreationCanAbort(t *testing.T) {
	a := newTestAdapter(t, func(c *Config) {
		c.OnCreation = func(HookEvent) error {
			return assert.AnError
		}
	})

	resp := doRequest(a, http.MethodPost, "/meteoritus/", tusHeaders(map[string]string{"Upload-Length": "5"}), "")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}

// failingPatchVault wraps a real vault but injects an I/O failure from
// PatchFile, standing in for whatever underlying failure a backend might
// hit mid-write (disk full, sidecar rewrite failure, a dropped S3 part).
type failingPatchVault struct {
	*localvault.Vault
}

func (failingPatchVault) PatchFile(ctx context.Context, id string, data []byte, clientOffset uint64) (vault.PatchOutcome, error) {
	return vault.PatchOutcome{}, vault.ErrIOFailure
}

func TestPatch_WriteFailureIsUnprocessableEntity(t *testing.T) {
	a := newTestAdapter(t, func(c *Config) {
		c.Vault = failingPatchVault{Vault: localvault.New(t.TempDir())}
	})

	createResp := doRequest(a, http.MethodPost, "/meteoritus/", tusHeaders(map[string]string{"Upload-Length": "5"}), "")
	require.Equal(t, http.StatusCreated, createResp.Code)
	location := createResp.Header().Get("Location")

	resp := doRequest(a, http.MethodPatch, location, tusHeaders(map[string]string{
		"Upload-Offset": "0",
		"Content-Type":  "application/offset+octet-stream",
	}), "HELLO")
	assert.Equal(t, http.StatusUnprocessableEntity, resp.Code)
}
