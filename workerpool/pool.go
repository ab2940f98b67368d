// Package workerpool parses a pool spec into Workers, probes each for
// health and encoder class, and ranks the healthy ones so the dispatch
// modes can hand chunks to the fastest hardware first.
package workerpool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
	"github.com/plexbeam/cartridge/cartridgeerrors"
	"github.com/plexbeam/cartridge/log"
	"github.com/plexbeam/cartridge/workerclient"
)

const (
	healthCacheTTL     = 1 * time.Second
	healthCacheCleanup = 10 * time.Minute
)

// Worker is one entry from a parsed pool spec. Tag is the entry's
// optional "@tag" suffix, kept as written; a "local" tag marks a worker
// that can read the input path directly. The tag plays no part in
// encoder classification, which comes from /health alone.
type Worker struct {
	URL         string
	Tag         string
	Encoder     workerclient.EncoderClass
	Healthy     bool
	LastChecked time.Time
}

// encoderRank orders encoder classes from fastest to slowest for chunk
// assignment purposes; unknown classes sort last.
var encoderRank = map[workerclient.EncoderClass]int{
	workerclient.EncoderNVENC:   0,
	workerclient.EncoderQSV:     1,
	workerclient.EncoderVAAPI:   2,
	workerclient.EncoderUnknown: 3,
}

// Pool holds the parsed, health-checked worker set for one session.
type Pool struct {
	sessionID string
	client    *workerclient.Client
	workers   []*Worker
	cache     *cache.Cache
	mu        sync.Mutex
}

// ParseSpec parses a comma-separated "url1[@tag],url2[@tag],..." pool
// spec, same shape as PLEXBEAM_WORKER_POOL.
func ParseSpec(spec string) ([]*Worker, error) {
	if strings.TrimSpace(spec) == "" {
		return nil, cartridgeerrors.NewConfigError("empty worker pool spec", nil)
	}

	var workers []*Worker
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		url, tag, _ := strings.Cut(entry, "@")
		url = strings.TrimRight(strings.TrimSpace(url), "/")
		if url == "" {
			return nil, cartridgeerrors.NewConfigError(fmt.Sprintf("malformed pool entry %q", entry), nil)
		}
		workers = append(workers, &Worker{URL: url, Tag: strings.TrimSpace(tag), Encoder: workerclient.EncoderUnknown})
	}
	if len(workers) == 0 {
		return nil, cartridgeerrors.NewConfigError("worker pool spec contained no usable entries", nil)
	}
	return workers, nil
}

// New builds a Pool from a spec string and a worker HTTP client shared
// with the rest of the session.
func New(sessionID string, spec string, client *workerclient.Client) (*Pool, error) {
	workers, err := ParseSpec(spec)
	if err != nil {
		return nil, err
	}
	return &Pool{
		sessionID: sessionID,
		client:    client,
		workers:   workers,
		cache:     cache.New(healthCacheTTL, healthCacheCleanup),
	}, nil
}

// ProbeAll health-checks every worker concurrently and records
// encoder class + health. Returns an error only when the whole pool is
// unreachable; individual worker failures are recorded, not returned.
func (p *Pool) ProbeAll(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, w := range p.workers {
		wg.Add(1)
		go func(w *Worker) {
			defer wg.Done()
			p.probeOne(ctx, w)
		}(w)
	}
	wg.Wait()

	if len(p.Healthy()) == 0 {
		return cartridgeerrors.NewNetworkTransientError("worker pool probe", fmt.Errorf("no healthy workers in pool of %d", len(p.workers)))
	}
	return nil
}

func (p *Pool) probeOne(ctx context.Context, w *Worker) {
	cacheKey := "health:" + w.URL
	if cached, ok := p.cache.Get(cacheKey); ok {
		h := cached.(*workerclient.HealthResponse)
		p.applyHealth(w, h, true)
		return
	}

	h, err := p.client.Health(ctx, w.URL)
	if err != nil {
		p.mu.Lock()
		w.Healthy = false
		w.LastChecked = time.Now()
		p.mu.Unlock()
		log.Log(p.sessionID, "worker health probe failed", "worker", w.URL, "err", err)
		return
	}
	p.cache.Set(cacheKey, h, healthCacheTTL)
	p.applyHealth(w, h, false)
}

func (p *Pool) applyHealth(w *Worker, h *workerclient.HealthResponse, cached bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	w.Healthy = h.Status == "ok"
	if h.HWAccel != "" {
		w.Encoder = h.HWAccel
	}
	w.LastChecked = time.Now()
	if !cached {
		log.Log(p.sessionID, "worker health probe ok", "worker", w.URL, "encoder", w.Encoder)
	}
}

// Healthy returns the healthy workers ranked by encoder class, fastest
// hardware first; workers tied on encoder class keep pool-spec order.
func (p *Pool) Healthy() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []*Worker
	for _, w := range p.workers {
		if w.Healthy {
			out = append(out, w)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return encoderRank[out[i].Encoder] < encoderRank[out[j].Encoder]
	})
	return out
}

// All returns every worker the pool spec named, healthy or not.
func (p *Pool) All() []*Worker {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Worker, len(p.workers))
	copy(out, p.workers)
	return out
}

// Size reports the configured pool size regardless of current health.
func (p *Pool) Size() int {
	return len(p.workers)
}
