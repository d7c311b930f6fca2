// Package irg builds the interclass relationship graph of a program: for every
// class in the input list, its superclass, the input classes extending it and
// the input classes implementing it.
//
// The graph is immutable once built and safe for concurrent reads.
package irg

import (
	"fmt"
	"sort"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
)

// Names returned by ClassNode.Superclass when there is no recorded superclass.
const (
	// BaseID is the superclass of java.lang.Object.
	BaseID = "<base class>"
	// UndefinedID is the superclass of interfaces and of classes outside the
	// input list.
	UndefinedID = "<undefined>"
)

// ClassNode holds the relations of one class.
type ClassNode struct {
	Name string

	super        string
	subclasses   []string
	implementors []string
}

// Superclass returns the superclass name, BaseID for java.lang.Object, or
// UndefinedID when no superclass is known.
func (n *ClassNode) Superclass() string {
	if n.super != "" {
		return n.super
	}
	if n.Name == bytecode.ObjectClass {
		return BaseID
	}
	return UndefinedID
}

// Subclasses returns the input classes that directly extend the class.
func (n *ClassNode) Subclasses() []string { return n.subclasses }

// Implementors returns the input classes that directly implement the
// interface.
func (n *ClassNode) Implementors() []string { return n.implementors }

// IRG is an interclass relationship graph.
type IRG struct {
	nodes map[string]*ClassNode
	names []string
}

// New builds the graph for the named classes. Classes referenced as
// superclass or interface but missing from the list get nodes with no
// relations of their own.
func New(loader bytecode.ClassLoader, classes []string) (*IRG, error) {
	input := make(map[string]bool, len(classes))
	for _, c := range classes {
		input[c] = true
	}
	names := make([]string, 0, len(input))
	for c := range input {
		names = append(names, c)
	}
	sort.Strings(names)

	g := &IRG{nodes: make(map[string]*ClassNode)}
	for _, name := range names {
		cls, err := loader.LoadClass(name)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s for relationship graph: %w", name, err)
		}
		node := g.node(cls.Name)

		if !cls.Interface && cls.Super != "" {
			node.super = cls.Super
			parent := g.node(cls.Super)
			if input[cls.Super] {
				parent.subclasses = append(parent.subclasses, cls.Name)
			}
		}
		for _, iface := range cls.Interfaces {
			in := g.node(iface)
			if input[iface] {
				in.implementors = append(in.implementors, cls.Name)
			}
		}
	}

	g.names = make([]string, 0, len(g.nodes))
	for n := range g.nodes {
		g.names = append(g.names, n)
	}
	sort.Strings(g.names)
	return g, nil
}

func (g *IRG) node(name string) *ClassNode {
	n, ok := g.nodes[name]
	if !ok {
		n = &ClassNode{Name: name}
		g.nodes[name] = n
	}
	return n
}

// Class returns the relations of a class. Asking for a class the graph has
// never seen returns an error wrapping bytecode.ErrClassNotFound.
func (g *IRG) Class(name string) (*ClassNode, error) {
	n, ok := g.nodes[name]
	if !ok {
		return nil, fmt.Errorf("relationship graph: %w: %s", bytecode.ErrClassNotFound, name)
	}
	return n, nil
}

// ClassNames returns every class with a node, sorted.
func (g *IRG) ClassNames() []string {
	return append([]string(nil), g.names...)
}
