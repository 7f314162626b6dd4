package fileproducer

import (
	"context"
	"time"
)

// SyntheticProducer serves a fixed set of statically registered paths, such
// as /static/version.js, whose content is generated once at registration
// time rather than read from disk.
type SyntheticProducer struct {
	entries map[string]syntheticEntry
}

type syntheticEntry struct {
	body        []byte
	contentType string
}

// NewSyntheticProducer returns an empty producer; use Register to add paths.
func NewSyntheticProducer() *SyntheticProducer {
	return &SyntheticProducer{entries: make(map[string]syntheticEntry)}
}

// Register associates path with fixed body bytes and a content-type.
func (s *SyntheticProducer) Register(path string, body []byte, contentType string) {
	s.entries[path] = syntheticEntry{body: body, contentType: contentType}
}

func (s *SyntheticProducer) Produce(ctx context.Context, path string) (*Blob, error) {
	entry, ok := s.entries[path]
	if !ok {
		return nil, nil
	}
	return &Blob{
		Bytes:       entry.body,
		ContentType: entry.contentType,
		GeneratedAt: time.Now(),
	}, nil
}
