package fileproducer

import (
	"context"
	"errors"
	"io/fs"
	"path"
	"strings"
	"time"
)

// ResourceProducer serves files out of a compiled-in fs.FS (assets built with
// go:embed), the classpath-resource equivalent: content that ships inside the
// binary rather than on disk, so a server started with no webroot still
// answers its built-in pages and static assets.
type ResourceProducer struct {
	fsys        fs.FS
	prefix      string
	ContentType *ContentTypeProducer
}

// NewResourceProducer serves fsys rooted at "/", stripping prefix (e.g.
// "assets/static") off the front of every embedded path before matching it
// against the request path.
func NewResourceProducer(fsys fs.FS, prefix string, ct *ContentTypeProducer) *ResourceProducer {
	return &ResourceProducer{fsys: fsys, prefix: strings.Trim(prefix, "/"), ContentType: ct}
}

func (r *ResourceProducer) Produce(ctx context.Context, reqPath string) (*Blob, error) {
	clean := strings.TrimPrefix(path.Clean("/"+reqPath), "/")
	if clean == "." || clean == "" {
		return nil, nil
	}
	full := clean
	if r.prefix != "" {
		full = r.prefix + "/" + clean
	}

	data, err := fs.ReadFile(r.fsys, full)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	return &Blob{
		Bytes:       data,
		ContentType: r.ContentType.Lookup("/" + clean),
		GeneratedAt: time.Now(),
	}, nil
}
