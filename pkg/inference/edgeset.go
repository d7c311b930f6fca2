package inference

import (
	"strings"

	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// EdgeSet is an ordered list of exceptional edges leaving one block. Typed
// edges are kept so that a subclass precedes its superclasses, which is the
// order a handler search must try them in. Catch-all edges go last.
type EdgeSet struct {
	h     *Hierarchy
	edges []*cfg.Edge
}

// NewEdgeSet returns an empty set ordering types with h.
func NewEdgeSet(h *Hierarchy) *EdgeSet {
	return &EdgeSet{h: h}
}

// Add inserts e and reports whether the set changed. An edge whose exception
// type is already present is discarded. A typed edge is placed directly
// after the last entry that is a subclass of its type, or first if there is
// none. A catch-all edge is appended unless the set already ends with one.
func (s *EdgeSet) Add(e *cfg.Edge) (bool, error) {
	if e.TypeKind != cfg.TypeExact {
		if n := len(s.edges); n > 0 && s.edges[n-1].TypeKind != cfg.TypeExact {
			return false, nil
		}
		s.edges = append(s.edges, e)
		return true, nil
	}

	for i := len(s.edges) - 1; i >= 0; i-- {
		entry := s.edges[i]
		if entry.TypeKind != cfg.TypeExact {
			continue
		}
		if entry.Exception == e.Exception {
			return false, nil
		}
		sub, err := s.h.SubclassOf(entry.Exception, e.Exception)
		if err != nil {
			return false, err
		}
		if sub {
			s.insert(i+1, e)
			return true, nil
		}
	}
	s.insert(0, e)
	return true, nil
}

func (s *EdgeSet) insert(i int, e *cfg.Edge) {
	s.edges = append(s.edges, nil)
	copy(s.edges[i+1:], s.edges[i:])
	s.edges[i] = e
}

// Contains reports whether the set holds e itself.
func (s *EdgeSet) Contains(e *cfg.Edge) bool {
	return s.index(e) >= 0
}

// Remove deletes e and reports whether it was present.
func (s *EdgeSet) Remove(e *cfg.Edge) bool {
	i := s.index(e)
	if i < 0 {
		return false
	}
	s.edges = append(s.edges[:i], s.edges[i+1:]...)
	return true
}

func (s *EdgeSet) index(e *cfg.Edge) int {
	for i, x := range s.edges {
		if x == e {
			return i
		}
	}
	return -1
}

// Len returns the number of edges.
func (s *EdgeSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.edges)
}

// Edges returns the edges in order.
func (s *EdgeSet) Edges() []*cfg.Edge {
	if s == nil {
		return nil
	}
	return append([]*cfg.Edge(nil), s.edges...)
}

func (s *EdgeSet) String() string {
	parts := make([]string, len(s.edges))
	for i, e := range s.edges {
		parts[i] = e.String()
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Result is the precision of the inference for one exception site.
type Result struct {
	// Precise is true when every type the site can throw is known exactly.
	Precise bool
	// Conservative is the widest type the site may throw; empty when nothing
	// narrower than "any throwable" is known and no type applies.
	Conservative string
}

// Results collects the output of a strategy, keyed by exception site block
// ID.
type Results struct {
	Edges     map[int]*EdgeSet
	Precision map[int]Result
}

// NewResults returns empty results.
func NewResults() *Results {
	return &Results{
		Edges:     make(map[int]*EdgeSet),
		Precision: make(map[int]Result),
	}
}

// Imprecise returns the sites whose result is not precise, keeping the
// order of sites.
func (r *Results) Imprecise(sites []*cfg.Block) []*cfg.Block {
	var out []*cfg.Block
	for _, b := range sites {
		if res, ok := r.Precision[b.ID]; ok && !res.Precise {
			out = append(out, b)
		}
	}
	return out
}
