package strategy

import (
	"context"
	"errors"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"buildexpr/materializer-go/pkg/compiler"
	"buildexpr/materializer-go/pkg/host"
	"buildexpr/materializer-go/pkg/loader"
	"buildexpr/materializer-go/pkg/vm"
)

type Option func(*Pipeline)

func WithLogger(log *zap.Logger) Option {
	return func(p *Pipeline) {
		if log != nil {
			p.log = log
		}
	}
}

func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		if m != nil {
			p.metrics = m
		}
	}
}

// WithCache reuses loaded handles for identical source units.
func WithCache() Option {
	return func(p *Pipeline) {
		p.cache = &moduleCache{handles: make(map[string]*loader.Handle)}
	}
}

// WithMaxCallDepth bounds nested calls in loaded modules.
func WithMaxCallDepth(depth int) Option {
	return func(p *Pipeline) {
		if depth > 0 {
			p.maxDepth = depth
		}
	}
}

// Pipeline compiles and loads source units. Safe for concurrent use.
type Pipeline struct {
	reg      *host.Registry
	log      *zap.Logger
	metrics  *Metrics
	maxDepth int
	cache    *moduleCache

	compiler *compiler.Compiler
	loader   *loader.Loader
}

func NewPipeline(reg *host.Registry, opts ...Option) *Pipeline {
	if reg == nil {
		reg = host.Default()
	}
	p := &Pipeline{reg: reg, log: zap.NewNop(), metrics: NewMetrics(), maxDepth: vm.DefaultMaxDepth}
	for _, opt := range opts {
		opt(p)
	}
	p.compiler = compiler.New(reg, compiler.WithLogger(p.log))
	p.loader = loader.New(reg, loader.WithLogger(p.log), loader.WithMaxCallDepth(p.maxDepth))
	return p
}

func (p *Pipeline) Metrics() *Metrics { return p.metrics }

func (p *Pipeline) Host() *host.Registry { return p.reg }

type materialized struct {
	handle *loader.Handle
	err    error
}

// Materialize compiles and loads unit on its own goroutine. If ctx is done
// first Materialize returns ctx.Err(); the work still finishes and its result
// is dropped.
func (p *Pipeline) Materialize(ctx context.Context, unit compiler.SourceUnit) (*loader.Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done := make(chan materialized, 1)
	go func() {
		h, err := p.materialize(unit)
		done <- materialized{handle: h, err: err}
	}()
	select {
	case <-ctx.Done():
		p.log.Debug("Materialize abandoned", zap.String("module", unit.Name), zap.Error(ctx.Err()))
		return nil, ctx.Err()
	case r := <-done:
		return r.handle, r.err
	}
}

func (p *Pipeline) materialize(unit compiler.SourceUnit) (*loader.Handle, error) {
	if p.cache == nil {
		return p.build(unit)
	}
	key := cacheKey(unit)
	if h, ok := p.cache.get(key); ok {
		p.metrics.CacheLookups.WithLabelValues(LabelCacheHit).Inc()
		return h, nil
	}
	p.metrics.CacheLookups.WithLabelValues(LabelCacheMiss).Inc()
	v, err, _ := p.cache.group.Do(key, func() (any, error) {
		if h, ok := p.cache.get(key); ok {
			return h, nil
		}
		h, err := p.build(unit)
		if err != nil {
			return nil, err
		}
		p.cache.put(key, h)
		return h, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*loader.Handle), nil
}

func (p *Pipeline) build(unit compiler.SourceUnit) (*loader.Handle, error) {
	start := time.Now()
	mod, err := p.compiler.Compile(unit)
	p.observe(StageCompile, start, err)
	if err != nil {
		return nil, err
	}

	start = time.Now()
	h, err := p.loader.Load(mod.Image)
	p.observe(StageLoad, start, err)
	if err != nil {
		return nil, err
	}
	p.log.Debug("Materialized module",
		zap.String("module", h.Name()),
		zap.String("digest", strconv.FormatUint(h.Digest(), 16)),
		zap.Strings("functions", h.Functions()),
		zap.Strings("types", h.Types()),
	)
	return h, nil
}

func (p *Pipeline) observe(stage string, start time.Time, err error) {
	p.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
	p.metrics.Stages.WithLabelValues(stage, resultLabel(err)).Inc()
}

func resultLabel(err error) string {
	var (
		compileErr *compiler.CompileError
		loadErr    *loader.LoadError
	)
	switch {
	case err == nil:
		return LabelSuccess
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return LabelCanceled
	case errors.As(err, &compileErr):
		return LabelCompileError
	case errors.As(err, &loadErr):
		return LabelLoadError
	default:
		return invokeLabel(err)
	}
}

type moduleCache struct {
	group singleflight.Group

	mu      sync.RWMutex
	handles map[string]*loader.Handle
}

func (c *moduleCache) get(key string) (*loader.Handle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.handles[key]
	return h, ok
}

func (c *moduleCache) put(key string, h *loader.Handle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handles[key] = h
}

// cacheKey hashes everything that affects the compiled module.
func cacheKey(unit compiler.SourceUnit) string {
	refs := slices.Clone(unit.References)
	slices.Sort(refs)

	d := xxhash.New()
	_, _ = d.WriteString(unit.Name)
	_, _ = d.Write([]byte{0})
	for _, ref := range refs {
		_, _ = d.WriteString(ref)
		_, _ = d.Write([]byte{0})
	}
	_, _ = d.Write([]byte{0})
	_, _ = d.WriteString(unit.Text)
	return strconv.FormatUint(d.Sum64(), 16)
}

func (p *Pipeline) timeInvoke(fn func() (float64, error)) (float64, error) {
	start := time.Now()
	v, err := fn()
	p.observe(StageInvoke, start, err)
	return v, err
}
