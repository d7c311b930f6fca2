package handler

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// normalLabels are the labels of edges that carry no exception type. Any
// other label that is not a switch case value names an exception class.
var normalLabels = map[string]bool{
	"": true, "T": true, "F": true, "Default": true, "<r>": true, "jsr": true,
}

// WriteCF writes the control flow file of class: per method a header with
// the branch count and summary branch when branch extensions are on, the
// signature record ("4 0" for legacy files), and one record per edge.
func (h *Handler) WriteCF(w io.Writer, class string) error {
	graphs, err := h.graphsFor(class)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	h.writeHeader(bw, "Control Flow Information", class)
	for _, g := range graphs {
		fmt.Fprintf(bw, "1 \"%s\" %d %d", g.DisplayName, g.NodeCount(), g.HighestNodeID())
		if h.opts.BranchExtensions {
			fmt.Fprintf(bw, " %d %d", g.BranchCount, g.SummaryBranchID)
		}
		bw.WriteByte('\n')
		if h.legacy {
			fmt.Fprintln(bw, "4 0")
		} else {
			fmt.Fprintf(bw, "4 %s\n", formatSignature(g.Signature))
		}
		for _, e := range g.Edges() {
			line, err := h.edgeRecord(g, e)
			if err != nil {
				return err
			}
			fmt.Fprintln(bw, line)
		}
		fmt.Fprintf(bw, "0 end of method %s\n", g.DisplayName)
	}
	return bw.Flush()
}

func (h *Handler) edgeRecord(g *cfg.Graph, e *cfg.Edge) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "3 %d %d %d", e.ID, e.Succ, e.Pred)
	if h.opts.BranchExtensions {
		ids := e.BranchIDs().Slice()
		if len(ids) == 0 {
			return "", fmt.Errorf("edge %d of %s has no branch IDs", e.ID, g.DisplayName)
		}
		for i, id := range ids {
			if i == 0 {
				sb.WriteByte(' ')
			} else {
				sb.WriteByte(',')
			}
			fmt.Fprintf(&sb, "%d:%d", id.ID, int(id.Type))
		}
	}
	if e.Label != "" {
		sb.WriteString(" " + e.Label)
		if e.HasAux {
			sb.WriteString(":" + e.AuxLabel)
		}
		if e.SpecialNodeID != -1 {
			if !e.HasAux {
				sb.WriteString(":null")
			}
			sb.WriteString(":" + strconv.Itoa(e.SpecialNodeID))
		}
	}
	return sb.String(), nil
}

// ReadCF reads a control flow file into the graphs of the map file read
// before it.
func (h *Handler) ReadCF(r io.Reader, fileName string) error {
	lr := newLineReader(r, fileName+CFSuffix)
	class, err := lr.header(fileName)
	if err != nil {
		return err
	}
	if h.className == "" || class != h.className {
		return ErrMapNotLoaded
	}

	for {
		rec, ok, err := lr.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		name, nums, err := lr.methodHeader(rec)
		if err != nil {
			return err
		}

		rec, ok, err = lr.next()
		if err != nil {
			return err
		}
		if !ok || rec.kind != recSignature || len(rec.fields) != 1 {
			return lr.errorf(rec.line, "illegal record where signature expected")
		}
		g, err := h.cfGraph(lr, rec, name)
		if err != nil {
			return err
		}
		if h.opts.BranchExtensions {
			if len(nums) < 4 {
				return lr.errorf(rec.line, "method header lacks branch information")
			}
			g.BranchCount, g.SummaryBranchID = nums[2], nums[3]
		}

		for {
			rec, ok, err = lr.next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if rec.kind != recEdge {
				lr.unread(rec)
				break
			}
			e, err := h.parseEdge(lr, rec)
			if err != nil {
				return err
			}
			if err := g.AddEdge(e); err != nil {
				return lr.errorf(rec.line, "%v", err)
			}
			if e.ID >= g.NextEdgeID {
				g.NextEdgeID = e.ID + 1
			}
		}
	}
}

// cfGraph finds the map graph a method's edges belong to.
func (h *Handler) cfGraph(lr *lineReader, rec record, name string) (*cfg.Graph, error) {
	if !h.legacy {
		if sig, ok := parseSignature(rec.fields[0]); ok {
			g, err := h.Graph(sig)
			if err != nil {
				return nil, lr.errorf(rec.line, "unable to read map information: %v", err)
			}
			return g, nil
		}
		h.legacy = true
		h.logger.Info("legacy control flow file, consider rebuilding it", "file", lr.file)
	}
	g, err := h.GraphByName(name)
	if err != nil {
		return nil, lr.errorf(rec.line, "unable to read map information: %v", err)
	}
	return g, nil
}

// parseEdge reads `3 <id> <succ> <pred> [<branch IDs>] [<label>[:aux][:special]]`.
// Branch IDs are written `id:type` separated by commas; an ID without a
// type reads as "don't care".
func (h *Handler) parseEdge(lr *lineReader, rec record) (*cfg.Edge, error) {
	if len(rec.fields) < 3 {
		return nil, lr.errorf(rec.line, "edge record is incomplete")
	}
	nums, err := lr.ints(rec, rec.fields[:3])
	if err != nil {
		return nil, err
	}
	e := cfg.NewEdge(nums[0], nums[1], nums[2], "")
	rest := rec.fields[3:]

	if h.opts.BranchExtensions {
		if len(rest) == 0 {
			return nil, lr.errorf(rec.line, "branch ID information is incomplete")
		}
		ids, err := parseBranchIDs(rest[0])
		if err != nil {
			return nil, lr.errorf(rec.line, "%v", err)
		}
		e.SetBranchIDs(ids)
		rest = rest[1:]
	}

	if len(rest) > 0 {
		parts := strings.Split(rest[0], ":")
		e.Label = parts[0]
		if len(parts) > 1 && parts[1] != "null" {
			e.SetAuxLabel(parts[1])
		}
		if len(parts) > 2 {
			special, err := strconv.Atoi(parts[2])
			if err != nil {
				return nil, lr.errorf(rec.line, "special node ID %q is not a number", parts[2])
			}
			e.SpecialNodeID = special
		}
	}
	restoreType(e)
	return e, nil
}

func parseBranchIDs(s string) (*cfg.IDSet, error) {
	ids := cfg.NewIDSet()
	for _, part := range strings.Split(s, ",") {
		idStr, typeStr, typed := strings.Cut(part, ":")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			return nil, fmt.Errorf("non-numeric branch ID %q", idStr)
		}
		bt := cfg.BranchDontCare
		if typed {
			code, err := strconv.Atoi(typeStr)
			if err != nil {
				return nil, fmt.Errorf("non-numeric branch type %q", typeStr)
			}
			if bt, err = cfg.BranchTypeFromCode(code); err != nil {
				return nil, err
			}
		}
		ids.Add(cfg.BranchID{ID: id, Type: bt})
	}
	return ids, nil
}

// restoreType derives an edge's exception type from its label.
func restoreType(e *cfg.Edge) {
	switch {
	case e.Label == cfg.AnyLabel:
		e.TypeKind = cfg.TypeAny
	case normalLabels[e.Label]:
	default:
		if _, err := strconv.Atoi(e.Label); err == nil {
			return
		}
		e.TypeKind = cfg.TypeExact
		e.Exception = e.Label
	}
}
