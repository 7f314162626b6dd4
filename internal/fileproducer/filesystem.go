package fileproducer

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// FilesystemProducer serves files rooted at Webroot, but only for paths
// matching one of Whitelist. Paths outside the whitelist, and paths that
// escape Webroot via "..", are declined (nil, nil) rather than erroring, so
// the chain falls through to the built-in 404 hook.
type FilesystemProducer struct {
	Webroot     string
	Whitelist   []*regexp.Regexp
	ContentType *ContentTypeProducer
}

// NewFilesystemProducer compiles whitelist into regexes; it panics on an
// invalid pattern since the whitelist is a startup-time configuration, not
// user input.
func NewFilesystemProducer(webroot string, whitelist []string, ct *ContentTypeProducer) *FilesystemProducer {
	compiled := make([]*regexp.Regexp, len(whitelist))
	for i, pattern := range whitelist {
		compiled[i] = regexp.MustCompile(pattern)
	}
	return &FilesystemProducer{Webroot: webroot, Whitelist: compiled, ContentType: ct}
}

func (f *FilesystemProducer) Produce(ctx context.Context, path string) (*Blob, error) {
	if !f.whitelisted(path) {
		return nil, nil
	}

	cleaned := filepath.Clean("/" + path)
	full := filepath.Join(f.Webroot, cleaned)
	if !strings.HasPrefix(full, filepath.Clean(f.Webroot)+string(os.PathSeparator)) && full != filepath.Clean(f.Webroot) {
		return nil, nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	return &Blob{
		Bytes:       data,
		ContentType: f.ContentType.Lookup(cleaned),
		GeneratedAt: time.Now(),
	}, nil
}

func (f *FilesystemProducer) whitelisted(path string) bool {
	for _, re := range f.Whitelist {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}
