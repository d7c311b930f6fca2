// Package builder constructs control flow graphs from method bytecode: it
// forms basic blocks and their edges, infers the exceptional edges, and runs
// registered transformers over the result.
package builder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/internal/metrics"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cache"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
	"github.com/l3aro/go-cfg-engine/pkg/handler"
	"github.com/l3aro/go-cfg-engine/pkg/inference"
	"github.com/l3aro/go-cfg-engine/pkg/irg"
)

// ErrMethodNotFound is returned for signatures no class declares.
var ErrMethodNotFound = errors.New("method not found")

// ErrNoClassLoaded is returned by operations on the loaded class before
// LoadClass succeeds.
var ErrNoClassLoaded = errors.New("no class loaded")

// Transformer rewrites a graph once construction finishes, for example to
// assign branch IDs.
type Transformer interface {
	Transform(g *cfg.Graph) error
}

// Options configures a Builder.
type Options struct {
	Level inference.Level
	// Classes lists the program classes; required by the interprocedural
	// inference levels.
	Classes []string
	// IRG is built from Classes when nil and an interprocedural level is
	// selected.
	IRG *irg.IRG
	// ExcludedPackages defaults to DefaultExcludedPackages.
	ExcludedPackages  []string
	ClassCacheSize    int
	BindingCacheBytes int64
	// Graphs defaults to an unbounded in-memory cache.
	Graphs *cache.GraphCache
	Logger log.Logger
}

// Builder builds and caches graphs for the methods of a program. A Builder
// is not safe for concurrent use.
type Builder struct {
	h            *inference.Hierarchy
	graphs       *cache.GraphCache
	inferrer     *inference.Inferrer
	transformers []Transformer
	excluded     []string
	logger       log.Logger

	class *bytecode.Class
}

// New returns a builder reading classes from loader.
func New(loader bytecode.ClassLoader, opts Options) (*Builder, error) {
	b := &Builder{
		h:        inference.NewHierarchy(loader, opts.ClassCacheSize),
		graphs:   opts.Graphs,
		excluded: opts.ExcludedPackages,
		logger:   log.OrDefault(opts.Logger),
	}
	if b.graphs == nil {
		b.graphs = cache.NewGraphCache(cache.GraphOptions{Logger: b.logger})
	}
	if b.excluded == nil {
		b.excluded = DefaultExcludedPackages
	}
	inf, err := inference.NewInferrer(b.h, inference.InferrerOptions{
		Level:             opts.Level,
		Classes:           opts.Classes,
		IRG:               opts.IRG,
		Graphs:            b,
		BindingCacheBytes: opts.BindingCacheBytes,
		Logger:            b.logger,
	})
	if err != nil {
		return nil, err
	}
	b.inferrer = inf
	return b, nil
}

// AddTransformer registers t to run on every graph built from now on.
func (b *Builder) AddTransformer(t Transformer) {
	b.transformers = append(b.transformers, t)
}

// Cache returns the graph cache.
func (b *Builder) Cache() *cache.GraphCache { return b.graphs }

// Inferrer returns the type inferrer.
func (b *Builder) Inferrer() *inference.Inferrer { return b.inferrer }

// Hierarchy returns the class hierarchy used for inference.
func (b *Builder) Hierarchy() *inference.Hierarchy { return b.h }

// LoadClass makes name the class BuildAll and Methods operate on.
func (b *Builder) LoadClass(name string) error {
	c, err := b.h.Class(name)
	if err != nil {
		return err
	}
	b.class = c
	return nil
}

// LoadedClass returns the name of the loaded class, or "".
func (b *Builder) LoadedClass() string {
	if b.class == nil {
		return ""
	}
	return b.class.Name
}

// Methods returns the signatures of the loaded class's methods in
// declaration order.
func (b *Builder) Methods() ([]bytecode.MethodSignature, error) {
	if b.class == nil {
		return nil, ErrNoClassLoaded
	}
	sigs := make([]bytecode.MethodSignature, len(b.class.Methods))
	for i, m := range b.class.Methods {
		sigs[i] = m.Signature()
	}
	return sigs, nil
}

func (b *Builder) method(sig bytecode.MethodSignature) (*bytecode.Method, error) {
	c, err := b.h.Class(sig.Class)
	if err != nil {
		return nil, err
	}
	m, ok := c.Method(sig.Name, sig.Descriptor)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMethodNotFound, sig)
	}
	return m, nil
}

// Build constructs the graph of sig, reusing a complete graph that was
// built on demand for interprocedural inference and not handed out since.
// Abstract and native methods have no graph and yield nil.
func (b *Builder) Build(ctx context.Context, sig bytecode.MethodSignature) (*cfg.Graph, error) {
	m, err := b.method(sig)
	if err != nil {
		return nil, err
	}
	return b.build(ctx, m, false)
}

// Graph returns the cached graph of sig, building it on a cache miss.
func (b *Builder) Graph(ctx context.Context, sig bytecode.MethodSignature) (*cfg.Graph, error) {
	entry, ok, err := b.graphs.Get(sig)
	if err != nil {
		return nil, err
	}
	if ok {
		return entry.Graph(), nil
	}
	return b.Build(ctx, sig)
}

// GraphFor implements inference.GraphSource. Graphs it builds stay fresh so
// the next Build of the same method reuses them.
func (b *Builder) GraphFor(ctx context.Context, sig bytecode.MethodSignature) (*cfg.Graph, error) {
	entry, ok, err := b.graphs.Get(sig)
	if err != nil {
		return nil, err
	}
	if ok {
		return entry.Graph(), nil
	}
	m, err := b.method(sig)
	if err != nil {
		return nil, err
	}
	return b.build(ctx, m, true)
}

// BuildAll returns the graphs of every concrete method of the loaded class
// in method-name order. With rebuild set every graph is constructed anew;
// otherwise cached graphs are reused. A method that fails to build does not
// stop the others: the graphs that were built are returned together with
// the joined errors.
func (b *Builder) BuildAll(ctx context.Context, rebuild bool) ([]*cfg.Graph, error) {
	if b.class == nil {
		return nil, ErrNoClassLoaded
	}
	var errs []error
	for _, m := range b.class.Methods {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var err error
		if rebuild {
			_, err = b.build(ctx, m, false)
		} else {
			_, err = b.Graph(ctx, m.Signature())
		}
		if err != nil {
			b.logger.Warn("method skipped", "method", m.Signature(), "error", err)
			errs = append(errs, err)
		}
	}
	graphs, err := b.graphs.ForClass(b.class.Name)
	// A class without concrete methods has no entries.
	if err != nil && !errors.Is(err, cache.ErrKeyNotFound) {
		return nil, err
	}
	return graphs, errors.Join(errs...)
}

// Graphs returns the graphs of the loaded class keyed by signature,
// building them as BuildAll does.
func (b *Builder) Graphs(ctx context.Context, rebuild bool) (map[bytecode.MethodSignature]*cfg.Graph, error) {
	graphs, err := b.BuildAll(ctx, rebuild)
	if graphs == nil {
		return nil, err
	}
	out := make(map[bytecode.MethodSignature]*cfg.Graph, len(graphs))
	for _, g := range graphs {
		out[g.Signature] = g
	}
	return out, err
}

// WriteFiles builds the loaded class and writes its map and control flow
// files into dir. It returns the paths written.
//
// Files are only written when every method builds, and not at all for a
// class without concrete methods.
func (b *Builder) WriteFiles(ctx context.Context, dir string, rebuild bool, opts handler.Options) ([]string, error) {
	graphs, err := b.BuildAll(ctx, rebuild)
	if err != nil || len(graphs) == 0 {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = b.logger
	}
	return handler.New(b.graphs, opts).WriteFiles(dir, b.class.Name)
}

func (b *Builder) build(ctx context.Context, m *bytecode.Method, auto bool) (*cfg.Graph, error) {
	if m.Abstract || m.Native || !m.HasCode() {
		metrics.RecordGraph("skipped", 0)
		return nil, nil
	}
	sig := m.Signature()
	entry, ok, err := b.graphs.Get(sig)
	if err != nil {
		return nil, err
	}
	if ok && entry.Complete() && entry.Fresh() {
		if !auto {
			b.graphs.MarkFresh(sig, false)
		}
		metrics.RecordGraph("reused", 0)
		return entry.Graph(), nil
	}

	start := time.Now()
	b.logger.Debug("building graph", "method", sig)
	g := cfg.NewGraph(sig)
	g.DisplayName = sig.Pretty()
	g.SetLogger(b.logger)
	// Incomplete entries are never spilled, so g stays ours until marked.
	if err := b.graphs.Put(sig, g, 0); err != nil {
		return nil, err
	}
	if err := b.construct(ctx, m, g); err != nil {
		b.graphs.Remove(sig)
		metrics.RecordGraph("failed", 0)
		return nil, fmt.Errorf("failed to build graph for %s: %w", sig, err)
	}
	if auto {
		b.graphs.MarkFresh(sig, true)
	}
	b.graphs.MarkComplete(sig)
	metrics.RecordGraph("built", time.Since(start).Seconds())
	return g, nil
}

// construct forms the blocks and edges of g, adds the inferred exceptional
// edges with an exit block for each edge leaving the method, and runs the
// transformers.
func (b *Builder) construct(ctx context.Context, m *bytecode.Method, g *cfg.Graph) error {
	f := newFormer(m, g, b.excluded)
	if err := f.formBlocks(); err != nil {
		return err
	}
	sites, err := f.formEdges()
	if err != nil {
		return err
	}

	res, err := b.inferrer.Infer(ctx, m, g, sites)
	if err != nil {
		return err
	}
	next := g.NextEdgeID
	for _, site := range sites {
		set, ok := res.Edges[site.ID]
		if !ok {
			return fmt.Errorf("no exceptional edges inferred for block %d", site.ID)
		}
		for _, e := range set.Edges() {
			if e.Succ == -1 {
				e.Succ = g.AddExceptionalExit(site).ID
			}
			e.ID = next
			next++
			if err := g.AddEdge(e); err != nil {
				return err
			}
		}
	}
	g.NextEdgeID = next

	for _, t := range b.transformers {
		if err := t.Transform(g); err != nil {
			return err
		}
	}
	return nil
}
