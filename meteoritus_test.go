package meteoritus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIgnite_DefaultsAreApplied(t *testing.T) {
	m, err := NewBuilder().WithTempPath(t.TempDir()).Ignite()
	require.NoError(t, err)

	cfg := m.Config()
	assert.Equal(t, DefaultBasePath+"/", cfg.BasePath)
	assert.EqualValues(t, DefaultMaxSize, cfg.MaxSize)
	assert.True(t, cfg.AutoTerminate)
}

func TestIgnite_HonorsOverrides(t *testing.T) {
	m, err := NewBuilder().
		WithTempPath(t.TempDir()).
		WithBasePath("/uploads").
		WithMaxSize(2048).
		WithAutoTerminate(false).
		Ignite()
	require.NoError(t, err)

	cfg := m.Config()
	assert.Equal(t, "/uploads/", cfg.BasePath)
	assert.EqualValues(t, 2048, cfg.MaxSize)
	assert.False(t, cfg.AutoTerminate)
}

func TestHandler_CreatesAnUpload(t *testing.T) {
	m, err := NewBuilder().WithTempPath(t.TempDir()).WithBasePath("/uploads").Ignite()
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/uploads/", nil)
	req.Header.Set("Tus-Resumable", "1.0.0")
	req.Header.Set("Upload-Length", "5")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Location"), "/uploads/"))
}
