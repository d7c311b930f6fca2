package cfg

import "fmt"

// AnyLabel labels catch-all exceptional edges.
const AnyLabel = "<any>"

// TypeKind says whether an edge carries an exception type.
type TypeKind uint8

const (
	TypeUnknown TypeKind = iota // Normal control flow, no exception type
	TypeAny                     // Any throwable (catch-all)
	TypeExact                   // Edge.Exception names the type
)

// Edge is a directed control flow edge. The graph owns edges; blocks refer to
// each other by ID.
type Edge struct {
	ID       int    `json:"id"`
	Pred     int    `json:"pred"`
	Succ     int    `json:"succ"`
	Label    string `json:"label"`
	AuxLabel string `json:"aux_label,omitempty"`
	HasAux   bool   `json:"-"`
	// SpecialNodeID links a subroutine call edge to the block of the matching
	// subroutine return; -1 when unused.
	SpecialNodeID int `json:"special_node_id"`

	TypeKind  TypeKind `json:"type_kind"`
	Exception string   `json:"exception,omitempty"`

	branchIDs *IDSet
}

// NewEdge returns a normal control flow edge.
func NewEdge(id, succ, pred int, label string) *Edge {
	return &Edge{ID: id, Succ: succ, Pred: pred, Label: label, SpecialNodeID: -1}
}

// NewAuxEdge returns an edge with a secondary label and a special node link.
func NewAuxEdge(id, succ, pred int, label, aux string, special int) *Edge {
	e := NewEdge(id, succ, pred, label)
	e.SetAuxLabel(aux)
	e.SpecialNodeID = special
	return e
}

// NewTypedEdge returns an exceptional edge for the given exception class. An
// empty class yields a catch-all edge labelled "<any>".
func NewTypedEdge(id, succ, pred int, exception string) *Edge {
	e := NewEdge(id, succ, pred, "")
	e.SetException(exception)
	return e
}

// SetException sets the edge's exception type and label. An empty class
// marks the edge as catch-all.
func (e *Edge) SetException(class string) {
	if class == "" {
		e.TypeKind = TypeAny
		e.Exception = ""
		e.Label = AnyLabel
		return
	}
	e.TypeKind = TypeExact
	e.Exception = class
	e.Label = class
}

// SetAuxLabel sets the secondary label.
func (e *Edge) SetAuxLabel(s string) {
	e.AuxLabel = s
	e.HasAux = true
}

// Exceptional reports whether the edge carries an exception type.
func (e *Edge) Exceptional() bool {
	return e.TypeKind != TypeUnknown
}

// AddBranchID adds a branch ID to the edge.
func (e *Edge) AddBranchID(b BranchID) {
	if e.branchIDs == nil {
		e.branchIDs = &IDSet{}
	}
	e.branchIDs.Add(b)
}

// SetBranchIDs replaces the edge's branch IDs with those of s.
func (e *Edge) SetBranchIDs(s *IDSet) {
	e.branchIDs = &IDSet{}
	for _, b := range s.Slice() {
		e.AddBranchID(b)
	}
}

// BranchIDs returns a copy of the edge's branch IDs.
func (e *Edge) BranchIDs() *IDSet {
	if e.branchIDs == nil {
		return &IDSet{}
	}
	return e.branchIDs.Clone()
}

// BranchIDCount returns the number of branch IDs on the edge.
func (e *Edge) BranchIDCount() int {
	return e.branchIDs.Len()
}

// FirstBranchID returns the smallest branch ID.
func (e *Edge) FirstBranchID() (BranchID, bool) {
	return e.branchIDs.First()
}

// LabelKey joins the label and aux label the way subroutine return edges are
// matched to their call edges.
func (e *Edge) LabelKey() string {
	aux := "null"
	if e.HasAux {
		aux = e.AuxLabel
	}
	return e.Label + "&&" + aux
}

func (e *Edge) String() string {
	if e.Label == "" {
		return fmt.Sprintf("(nl): %d -> %d", e.Pred, e.Succ)
	}
	return fmt.Sprintf("%s: %d -> %d", e.Label, e.Pred, e.Succ)
}
