// Package fileproducer resolves a URL path to a cached byte blob with a
// content-type, by walking an ordered chain of producers: the first one to
// return a non-nil Blob wins. Results are cached by path with a configurable
// max age, and concurrent requests for the same uncached path share a single
// in-flight fetch via golang.org/x/sync/singleflight.
package fileproducer

import (
	"context"
	"errors"
	"time"
)

// Blob is a resolved response body plus its content-type and the time it was
// produced, cached verbatim until it expires.
type Blob struct {
	Bytes       []byte
	ContentType string
	GeneratedAt time.Time
}

// Producer resolves a single path to a Blob, or returns nil with no error
// when it has nothing to say about that path; the pipeline then asks the
// next producer in the chain. A non-nil error aborts the chain and is
// reported to the caller as a transient 500 for that request only.
type Producer interface {
	Produce(ctx context.Context, path string) (*Blob, error)
}

// ErrCycle is returned when alias resolution does not reach a fixed point.
var ErrCycle = errors.New("fileproducer: alias cycle detected")

// Pipeline is the ordered producer chain plus its single-flight cache.
type Pipeline struct {
	alias     *AliasResolver
	producers []Producer
	cache     *cache
}

// New builds a Pipeline from producers in registration/priority order and a
// cache TTL; ttl <= 0 disables caching (every request re-runs the chain).
// alias may be nil to skip alias resolution entirely.
func New(ttl time.Duration, alias *AliasResolver, producers ...Producer) *Pipeline {
	return &Pipeline{
		alias:     alias,
		producers: producers,
		cache:     newCache(ttl),
	}
}

// Get resolves path through alias rewriting and then the producer chain,
// using the cache to collapse concurrent lookups for the same final path
// into one underlying fetch.
func (p *Pipeline) Get(ctx context.Context, path string) (*Blob, error) {
	resolved := path
	if p.alias != nil {
		r, err := p.alias.Resolve(path)
		if err != nil {
			return nil, err
		}
		resolved = r
	}

	return p.cache.get(ctx, resolved, func(ctx context.Context) (*Blob, error) {
		for _, producer := range p.producers {
			blob, err := producer.Produce(ctx, resolved)
			if err != nil {
				return nil, err
			}
			if blob != nil {
				return blob, nil
			}
		}
		return nil, nil
	})
}
