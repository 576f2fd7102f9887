package source_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ogulcanaydogan/finops-hub/pkg/source"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestLocal_ListAndOpen(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "subscriptions/sub-1/daily/20240101-20240131/g1/part_0_0001.csv", "a")
	writeFile(t, root, "subscriptions/sub-2/daily/20240101-20240131/g2/part_0_0001.csv", "bb")
	writeFile(t, root, "other/readme.txt", "x")

	src, err := source.New(context.Background(), source.Config{Type: "local", Local: source.LocalConfig{Dir: root}})
	require.NoError(t, err)
	assert.Contains(t, src.Name(), "local:")

	blobs, err := src.List(t.Context(), "subscriptions/")
	require.NoError(t, err)
	require.Len(t, blobs, 2)
	assert.Equal(t, "subscriptions/sub-1/daily/20240101-20240131/g1/part_0_0001.csv", blobs[0].Name)
	assert.Equal(t, int64(2), blobs[1].Size)
	assert.NotEmpty(t, blobs[0].ETag)
	assert.False(t, blobs[0].LastModified.IsZero())

	rc, err := src.Open(t.Context(), blobs[1].Name)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "bb", string(data))

	_, err = src.Open(t.Context(), "../escape.csv")
	assert.Error(t, err)
}

func TestNew_Errors(t *testing.T) {
	_, err := source.New(context.Background(), source.Config{Type: "ftp"})
	assert.Error(t, err)

	_, err = source.New(context.Background(), source.Config{Type: "local"})
	assert.Error(t, err)

	_, err = source.New(context.Background(), source.Config{Type: "azure"})
	assert.Error(t, err)

	_, err = source.New(context.Background(), source.Config{Type: "s3"})
	assert.Error(t, err)
}
