// Package objectstore abstracts the bucket-style storage the backup and
// download units move scene data through. Paths are bucket URLs such as
// gs://bucket/prefix/file; the filesystem implementation maps buckets onto
// directories under a configured root, which is what local runs and tests use.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var ErrObjectNotFound = errors.New("object not found")

// storeURL splits scheme://bucket/path. The scheme is accepted but not
// interpreted; routing happens at Store construction time.
var storeURL = regexp.MustCompile(`^([a-z][a-z0-9]*)://([^/]+)/?(.*)$`)

// ParseURL splits an object URL into bucket and object path.
func ParseURL(raw string) (bucket, path string, err error) {
	m := storeURL.FindStringSubmatch(raw)
	if m == nil {
		return "", "", fmt.Errorf("malformed object url %q", raw)
	}
	return m[2], m[3], nil
}

// Store lists and moves objects between buckets.
type Store interface {
	// List returns the object paths under the prefix, relative to the bucket.
	List(ctx context.Context, bucket, prefix string) ([]string, error)
	// Copy duplicates one object, possibly across buckets.
	Copy(ctx context.Context, srcBucket, srcPath, dstBucket, dstPath string) error
	// Download writes an object to a local file, creating parent directories.
	Download(ctx context.Context, bucket, path, localPath string) error
}

// FS is a Store over a local directory tree. Each bucket is a directory under
// Root.
type FS struct {
	Root string
}

func NewFS(root string) *FS { return &FS{Root: root} }

func (s *FS) List(ctx context.Context, bucket, prefix string) ([]string, error) {
	base := filepath.Join(s.Root, bucket)
	var out []string
	err := filepath.WalkDir(base, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && p == base {
				return filepath.SkipAll
			}
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(base, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(rel, prefix) {
			out = append(out, rel)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}
	return out, nil
}

func (s *FS) Copy(ctx context.Context, srcBucket, srcPath, dstBucket, dstPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := filepath.Join(s.Root, srcBucket, filepath.FromSlash(srcPath))
	dst := filepath.Join(s.Root, dstBucket, filepath.FromSlash(dstPath))
	return copyFile(src, dst)
}

func (s *FS) Download(ctx context.Context, bucket, path, localPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src := filepath.Join(s.Root, bucket, filepath.FromSlash(path))
	return copyFile(src, localPath)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", src, ErrObjectNotFound)
		}
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
