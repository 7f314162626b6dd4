package fileproducer

import "strings"

// ContentTypeProducer maps a file extension to a MIME type via an ordered
// list of (suffix → content-type) rules; the first matching suffix wins.
type ContentTypeProducer struct {
	rules []contentTypeRule
}

type contentTypeRule struct {
	suffix      string
	contentType string
}

// DefaultContentTypes is the built-in extension table covering everything
// the bundled pages and static assets serve.
func DefaultContentTypes() *ContentTypeProducer {
	return &ContentTypeProducer{rules: []contentTypeRule{
		{".html", "text/html; charset=utf-8"},
		{".css", "text/css; charset=utf-8"},
		{".js", "application/javascript; charset=utf-8"},
		{".svg", "image/svg+xml; charset=utf-8"},
		{".png", "image/png"},
		{".ico", "image/vnd.microsoft.icon"},
	}}
}

// Lookup returns the content-type for path's extension, or
// "application/octet-stream" if nothing matches.
func (c *ContentTypeProducer) Lookup(path string) string {
	for _, r := range c.rules {
		if strings.HasSuffix(path, r.suffix) {
			return r.contentType
		}
	}
	return "application/octet-stream"
}
