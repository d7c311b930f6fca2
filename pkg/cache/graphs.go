package cache

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/internal/metrics"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// ErrIncomplete is returned when a caller asks for graphs of a class whose
// construction has not finished.
var ErrIncomplete = errors.New("incomplete graph")

// Status holds the cache flags of one graph.
type Status uint8

const (
	StatusComplete     Status = 1
	StatusCachedToDisk Status = 2
	StatusFresh        Status = 4
)

// Spiller persists graphs evicted from memory. store.Store implementations
// satisfy it.
type Spiller interface {
	Write(sig bytecode.MethodSignature, g *cfg.Graph) error
	Read(sig bytecode.MethodSignature) (*cfg.Graph, error)
}

// CachedGraph is a snapshot of a cache entry taken under the cache lock.
// Its graph stays valid after the entry is spilled.
type CachedGraph struct {
	Signature bytecode.MethodSignature

	graph  *cfg.Graph
	status Status
}

// Graph returns the graph. Snapshots returned by GraphCache.Get always
// carry one.
func (c CachedGraph) Graph() *cfg.Graph { return c.graph }

// Status returns the entry's flags at the time of the snapshot.
func (c CachedGraph) Status() Status { return c.status }

// Complete reports whether construction of the graph finished.
func (c CachedGraph) Complete() bool { return c.status&StatusComplete != 0 }

// Fresh reports whether the graph may be reused without a rebuild.
func (c CachedGraph) Fresh() bool { return c.status&StatusFresh != 0 }

// CachedToDisk reports whether the graph had been spilled before the
// snapshot reloaded it.
func (c CachedGraph) CachedToDisk() bool { return c.status&StatusCachedToDisk != 0 }

// entry is the mutable cache record. Only code holding GraphCache.mu
// touches it.
type entry struct {
	sig    bytecode.MethodSignature
	graph  *cfg.Graph
	status Status
}

func (e *entry) has(f Status) bool { return e.status&f != 0 }

func (e *entry) set(f Status, v bool) {
	if v {
		e.status |= f
	} else {
		e.status &^= f
	}
}

func (e *entry) snapshot() CachedGraph {
	return CachedGraph{Signature: e.sig, graph: e.graph, status: e.status}
}

// GraphOptions configures a GraphCache.
type GraphOptions struct {
	// MaxResident bounds the number of graphs held in memory. When it is
	// exceeded the least recently used complete graphs are written to Spill.
	// 0, or a nil Spill, keeps every graph resident.
	MaxResident int
	Spill       Spiller
	Logger      log.Logger
}

// GraphCache keys method graphs by signature and tracks their completeness
// and freshness. It is safe for concurrent use: entries are only read and
// flagged under its lock, and callers get snapshots. Concurrent
// construction of the same signature must be serialized by the caller.
type GraphCache struct {
	mu          sync.Mutex
	entries     map[string]map[bytecode.MethodSignature]*entry
	resident    *LRUCache
	maxResident int
	spill       Spiller
	logger      log.Logger
}

// NewGraphCache returns an empty graph cache.
func NewGraphCache(opts GraphOptions) *GraphCache {
	return &GraphCache{
		entries:     make(map[string]map[bytecode.MethodSignature]*entry),
		resident:    New(Options{}),
		maxResident: opts.MaxResident,
		spill:       opts.Spill,
		logger:      log.OrDefault(opts.Logger),
	}
}

// Put registers a graph under sig with the given flags, replacing any
// previous entry.
func (c *GraphCache) Put(sig bytecode.MethodSignature, g *cfg.Graph, status Status) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	methods, ok := c.entries[sig.Class]
	if !ok {
		methods = make(map[bytecode.MethodSignature]*entry)
		c.entries[sig.Class] = methods
	}
	e := &entry{sig: sig, graph: g, status: status &^ StatusCachedToDisk}
	methods[sig] = e

	key := sig.String()
	c.resident.Delete(key)
	if err := c.makeRoom(); err != nil {
		return err
	}
	c.resident.Set(key, e)
	return nil
}

// Get returns a snapshot of the entry for sig, reloading a spilled graph
// from the backing store. The boolean is false when no entry exists.
func (c *GraphCache) Get(sig bytecode.MethodSignature) (CachedGraph, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[sig.Class][sig]
	if !ok {
		metrics.RecordCacheLookup("miss")
		return CachedGraph{}, false, nil
	}
	if err := c.load(e); err != nil {
		return CachedGraph{}, false, err
	}
	return e.snapshot(), true, nil
}

// MarkComplete flags the entry of sig as constructed, so it may be spilled.
// It reports whether the entry exists.
func (c *GraphCache) MarkComplete(sig bytecode.MethodSignature) bool {
	return c.mark(sig, StatusComplete, true)
}

// MarkFresh sets or clears the fresh flag of sig's entry. It reports
// whether the entry exists.
func (c *GraphCache) MarkFresh(sig bytecode.MethodSignature, fresh bool) bool {
	return c.mark(sig, StatusFresh, fresh)
}

func (c *GraphCache) mark(sig bytecode.MethodSignature, f Status, v bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[sig.Class][sig]
	if !ok {
		return false
	}
	e.set(f, v)
	return true
}

// load makes e resident and marks it recently used. Callers hold mu.
func (c *GraphCache) load(e *entry) error {
	key := e.sig.String()
	if !e.has(StatusCachedToDisk) {
		c.resident.Get(key)
		metrics.RecordCacheLookup("hit")
		return nil
	}

	g, err := c.spill.Read(e.sig)
	if err != nil {
		return fmt.Errorf("failed to reload graph for %s: %w", e.sig, err)
	}
	if err := c.makeRoom(); err != nil {
		return err
	}
	e.graph = g
	e.set(StatusCachedToDisk, false)
	c.resident.Set(key, e)
	metrics.RecordCacheLookup("reload")
	return nil
}

// makeRoom spills least recently used complete graphs until one more graph
// fits. Callers hold mu.
func (c *GraphCache) makeRoom() error {
	if c.maxResident <= 0 || c.spill == nil || c.resident.Len() < c.maxResident {
		return nil
	}
	excess := c.resident.Len() - c.maxResident + 1
	spilled := 0
	for _, key := range c.resident.Keys() {
		if spilled == excess {
			break
		}
		v, _ := c.resident.Peek(key)
		e := v.(*entry)
		if !e.has(StatusComplete) {
			continue
		}
		if err := c.spill.Write(e.sig, e.graph); err != nil {
			return fmt.Errorf("failed to spill graph for %s: %w", e.sig, err)
		}
		e.graph = nil
		e.set(StatusCachedToDisk, true)
		c.resident.Delete(key)
		spilled++
	}
	if spilled < excess {
		c.logger.Warn("unable to keep resident graphs under limit", "limit", c.maxResident,
			"resident", c.resident.Len())
	}
	metrics.RecordCacheSpill(spilled)
	return nil
}

// Remove drops the entry for sig and reports whether it existed. A copy in
// the backing store is left alone.
func (c *GraphCache) Remove(sig bytecode.MethodSignature) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	methods, ok := c.entries[sig.Class]
	if !ok {
		return false
	}
	if _, ok := methods[sig]; !ok {
		return false
	}
	delete(methods, sig)
	if len(methods) == 0 {
		delete(c.entries, sig.Class)
	}
	c.resident.Delete(sig.String())
	return true
}

// Clear drops every entry.
func (c *GraphCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]map[bytecode.MethodSignature]*entry)
	c.resident.Clear()
}

// Len returns the number of entries, resident or spilled.
func (c *GraphCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, methods := range c.entries {
		n += len(methods)
	}
	return n
}

// Contains reports whether sig has an entry.
func (c *GraphCache) Contains(sig bytecode.MethodSignature) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[sig.Class][sig]
	return ok
}

// Keys returns every cached signature sorted by method name.
func (c *GraphCache) Keys() []bytecode.MethodSignature {
	c.mu.Lock()
	defer c.mu.Unlock()
	var keys []bytecode.MethodSignature
	for _, methods := range c.entries {
		for sig := range methods {
			keys = append(keys, sig)
		}
	}
	bytecode.SortByName(keys)
	return keys
}

// KeysForClass returns the cached signatures of one class sorted by method
// name. Asking for a class with no entries is an error.
func (c *GraphCache) KeysForClass(class string) ([]bytecode.MethodSignature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.keysForClass(class)
}

func (c *GraphCache) keysForClass(class string) ([]bytecode.MethodSignature, error) {
	methods, ok := c.entries[class]
	if !ok {
		return nil, fmt.Errorf("%w: class %s is not in the cache", ErrKeyNotFound, class)
	}
	keys := make([]bytecode.MethodSignature, 0, len(methods))
	for sig := range methods {
		keys = append(keys, sig)
	}
	bytecode.SortByName(keys)
	return keys, nil
}

// ForClass returns the graphs of a class in method-name order. Every entry of
// the class must be complete.
func (c *GraphCache) ForClass(class string) ([]*cfg.Graph, error) {
	var graphs []*cfg.Graph
	err := c.Iterate(class, func(g *cfg.Graph) error {
		graphs = append(graphs, g)
		return nil
	})
	return graphs, err
}

// Iterate calls fn for each complete graph of class in method-name order,
// reloading spilled graphs as it goes. An empty class iterates every class.
// An incomplete entry stops the iteration with ErrIncomplete.
func (c *GraphCache) Iterate(class string, fn func(g *cfg.Graph) error) error {
	var keys []bytecode.MethodSignature
	if class == "" {
		keys = c.Keys()
	} else {
		var err error
		c.mu.Lock()
		keys, err = c.keysForClass(class)
		c.mu.Unlock()
		if err != nil {
			return err
		}
	}

	for _, sig := range keys {
		snap, ok, err := c.Get(sig)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		if !snap.Complete() {
			return fmt.Errorf("%w: %s", ErrIncomplete, sig)
		}
		if err := fn(snap.Graph()); err != nil {
			return err
		}
	}
	return nil
}

// Sorted returns the resident-or-spilled graphs of every class in method-name
// order.
func (c *GraphCache) Sorted() ([]*cfg.Graph, error) {
	return c.ForClass("")
}

// ClassNames returns the classes with cached graphs, sorted.
func (c *GraphCache) ClassNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.entries))
	for n := range c.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
