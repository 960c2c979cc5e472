package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_UploadDownload(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, s.Upload(ctx, "corpus/articles.json", strings.NewReader(`[{"number":1}]`)))

	rc, err := s.Download(ctx, "corpus/articles.json")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, `[{"number":1}]`, string(data))
}

func TestLocalStorage_DownloadMissing(t *testing.T) {
	s, err := NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	_, err = s.Download(context.Background(), "missing.json")
	assert.ErrorIs(t, err, ErrObjectNotFound)
}

func TestLocalStorage_TraversalStaysInsideBase(t *testing.T) {
	base := t.TempDir()
	s, err := NewLocalStorage(base)
	require.NoError(t, err)

	require.NoError(t, s.Upload(context.Background(), "../../escape.json", strings.NewReader("x")))

	_, err = os.Stat(filepath.Join(base, "escape.json"))
	assert.NoError(t, err)
}

func TestCleanStoragePath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "articles.json", want: "articles.json"},
		{in: "/data/articles.json", want: "data/articles.json"},
		{in: `data\articles.json`, want: "data/articles.json"},
		{in: "../../etc/passwd", want: "etc/passwd"},
		{in: "", wantErr: true},
		{in: "/", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := cleanStoragePath(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewStorage(t *testing.T) {
	s, err := NewStorage(StorageConfig{LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = NewStorage(StorageConfig{Type: StorageTypeS3})
	assert.Error(t, err)

	_, err = NewStorage(StorageConfig{Type: "ftp"})
	assert.Error(t, err)
}

func TestGetContentType(t *testing.T) {
	assert.Equal(t, "application/json", getContentType("a/articles.json"))
	assert.Equal(t, "application/yaml", getContentType("articles.yml"))
	assert.Equal(t, "application/octet-stream", getContentType("articles"))
}
