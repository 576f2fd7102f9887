package source

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// LocalConfig points at a directory laid out like an export container.
type LocalConfig struct {
	Dir string
}

// Local reads cost exports from a directory tree. Blob names are
// slash-separated paths relative to the root.
type Local struct {
	root string
}

// NewLocal creates a directory-backed source.
func NewLocal(dir string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("local source requires a directory")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat source directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	return &Local{root: dir}, nil
}

func (l *Local) Name() string {
	return "local:" + l.root
}

func (l *Local) List(ctx context.Context, prefix string) ([]BlobInfo, error) {
	var blobs []BlobInfo
	err := filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		if !strings.HasPrefix(name, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		mod := info.ModTime().UTC()
		blobs = append(blobs, BlobInfo{
			Name:         name,
			LastModified: mod,
			ETag:         strconv.FormatInt(mod.UnixNano(), 16) + "-" + strconv.FormatInt(info.Size(), 16),
			Size:         info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", l.root, err)
	}
	sort.Slice(blobs, func(i, j int) bool { return blobs[i].Name < blobs[j].Name })
	return blobs, nil
}

func (l *Local) Open(_ context.Context, name string) (io.ReadCloser, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return nil, fmt.Errorf("blob name %q escapes source root", name)
	}
	f, err := os.Open(filepath.Join(l.root, clean))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}
