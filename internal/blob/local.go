package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
)

// Local stores objects in a directory and returns file:// URLs.
type Local struct {
	root string
}

func NewLocal(root string) (*Local, error) {
	if err := os.MkdirAll(root, 0700); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

func (l *Local) PutFile(ctx context.Context, key, localPath string) (Object, error) {
	if err := validKey(key); err != nil {
		return Object{}, err
	}
	if err := ctx.Err(); err != nil {
		return Object{}, err
	}
	src, err := os.Open(localPath)
	if err != nil {
		return Object{}, fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = src.Close() }()

	dst := filepath.Join(l.root, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return Object{}, fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return Object{}, fmt.Errorf("create %s: %w", dst, err)
	}
	n, err := io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return Object{}, fmt.Errorf("copy %s: %w", localPath, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(dst)}
	return Object{URL: u.String(), Size: n, MimeType: mimeType(localPath)}, nil
}
