package fileprod

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/instant-hq/instant/internal/metrics"
)

// Pipeline ties the alias table, producer chain, content-type map and blob
// cache together. Concurrent requests for the same path share one producer
// invocation.
type Pipeline struct {
	aliases   *AliasTable
	producers []Producer
	ctypes    *ContentTypeMap

	ttl   time.Duration
	mu    sync.Mutex
	cache map[string]*Blob
	group singleflight.Group

	now func() time.Time
}

// NewPipeline builds a pipeline. A ttl of zero disables caching.
func NewPipeline(aliases *AliasTable, ctypes *ContentTypeMap, ttl time.Duration, producers ...Producer) *Pipeline {
	return &Pipeline{
		aliases:   aliases,
		producers: producers,
		ctypes:    ctypes,
		ttl:       ttl,
		cache:     make(map[string]*Blob),
		now:       time.Now,
	}
}

// Append adds a producer at the end of the chain. Registration order is
// lookup order.
func (p *Pipeline) Append(prod Producer) {
	p.producers = append(p.producers, prod)
}

// Get resolves a URL path to a blob. It returns (nil, nil) when no producer
// claims the path, and ErrAliasCycle when alias expansion diverges.
func (p *Pipeline) Get(path string) (*Blob, error) {
	resolved, err := p.aliases.Resolve(path)
	if err != nil {
		return nil, err
	}

	if blob := p.cached(resolved); blob != nil {
		metrics.ProducerCacheHits.Inc()
		return blob, nil
	}
	metrics.ProducerCacheMisses.Inc()

	v, err, _ := p.group.Do(resolved, func() (interface{}, error) {
		// Re-check under the flight: a concurrent fetch may have filled the
		// cache between our miss and this call.
		if blob := p.cached(resolved); blob != nil {
			return blob, nil
		}
		blob, err := p.produce(resolved)
		if err != nil || blob == nil {
			return nil, err
		}
		p.store(resolved, blob)
		return blob, nil
	})
	if err != nil {
		return nil, err
	}
	if v == nil {
		return nil, nil
	}
	return v.(*Blob), nil
}

func (p *Pipeline) produce(path string) (*Blob, error) {
	for _, prod := range p.producers {
		blob, err := prod.Produce(path)
		if err != nil {
			return nil, err
		}
		if blob == nil {
			continue
		}
		if blob.ContentType == "" {
			blob.ContentType = p.ctypes.Lookup(path)
		}
		if blob.Generated.IsZero() {
			blob.Generated = p.now()
		}
		return blob, nil
	}
	return nil, nil
}

func (p *Pipeline) cached(path string) *Blob {
	if p.ttl <= 0 {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	blob, ok := p.cache[path]
	if !ok {
		return nil
	}
	if p.now().Sub(blob.Generated) > p.ttl {
		delete(p.cache, path)
		return nil
	}
	return blob
}

func (p *Pipeline) store(path string, blob *Blob) {
	if p.ttl <= 0 {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[path] = blob
}
