package inference

import (
	"context"

	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// Conservative estimates exception types from declarations alone: throw
// sites get an edge per enclosing handler and per declared type of the
// method, call sites get the callee's declared types. Only the
// "new T; invokespecial T.<init>; athrow" pattern yields a precise result.
type Conservative struct {
	algorithm
}

// NewConservative returns the declaration-based strategy.
func NewConservative(h *Hierarchy, logger log.Logger) *Conservative {
	return &Conservative{algorithm: newAlgorithm(h, logger)}
}

// Infer implements Strategy.
func (c *Conservative) Infer(ctx context.Context, m *bytecode.Method, g *cfg.Graph, sites []*cfg.Block, res *Results) (err error) {
	defer catch(&err)
	c.init(m, g)

	for _, site := range sites {
		if err := ctx.Err(); err != nil {
			return err
		}
		ins := c.endInstruction(site)
		set := NewEdgeSet(c.h)

		switch {
		case ins.Op == bytecode.ATHROW:
			if r := c.immediate(site.EndRef); r.Precise {
				succ := c.handlerBlock(ins.Offset, r.Conservative)
				c.add(set, cfg.NewTypedEdge(0, succ, site.ID, r.Conservative))
				res.Precision[site.ID] = r
			} else {
				widest := c.estimate(ins.Offset, site, set)
				res.Precision[site.ID] = Result{Precise: false, Conservative: widest}
			}

		case ins.Op.IsInvoke():
			widest, types := c.conservativeThrown(ins.Offset, ins.CalledMethod())
			for _, t := range types {
				c.add(set, cfg.NewTypedEdge(0, c.handlerBlock(ins.Offset, t), site.ID, t))
			}
			c.add(set, cfg.NewTypedEdge(0, c.handlerBlock(ins.Offset, ""), site.ID, ""))
			res.Precision[site.ID] = Result{Precise: false, Conservative: widest}

		default:
			c.fail("block does not end in an exception throwing instruction", nil)
		}
		res.Edges[site.ID] = set
	}
	return nil
}

// estimate adds an edge to every handler covering the throw, then an exit
// edge per declared type of the method and, unless a catch-all handler was
// found, an exit edge for any throwable. It returns the widest type added.
func (c *Conservative) estimate(offset int, site *cfg.Block, set *EdgeSet) string {
	widest := ""
	catchAll := false
	for _, h := range c.handlers {
		if !h.Covers(offset) {
			continue
		}
		b, ok := c.g.BlockAtOffset(h.HandlerPC)
		if !ok {
			c.malformed(site, "handler entry is not a block leader")
		}
		c.add(set, cfg.NewTypedEdge(0, b.ID, site.ID, h.CatchType))
		if h.CatchAll() {
			catchAll = true
			widest = bytecode.ThrowableClass
			break
		}
		widest = c.common(widest, h.CatchType)
	}
	for _, t := range c.thrown {
		c.add(set, cfg.NewTypedEdge(0, -1, site.ID, t))
		widest = c.common(widest, t)
	}
	if !catchAll {
		c.add(set, cfg.NewTypedEdge(0, -1, site.ID, ""))
	}
	if widest == "" {
		return bytecode.ThrowableClass
	}
	return widest
}
