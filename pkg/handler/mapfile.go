package handler

import (
	"bufio"
	"fmt"
	"io"

	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cache"
	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// Record types of the interchange files.
const (
	recMethod    = 1
	recBlock     = 2
	recEdge      = 3
	recSignature = 4
)

func (h *Handler) writeHeader(w *bufio.Writer, title, class string) {
	fmt.Fprintf(w, "0 %s\n", title)
	fmt.Fprintf(w, "0 File: %s Created: %s\n", FileName(class), h.opts.Now().Format(dateLayout))
	fmt.Fprintf(w, "0 version %s\n", h.opts.Version)
	fmt.Fprintln(w, "0")
}

// WriteMap writes the map file of class: per method a header, its
// signature unless writing legacy files, and one record per block.
func (h *Handler) WriteMap(w io.Writer, class string) error {
	graphs, err := h.graphsFor(class)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	h.writeHeader(bw, "Mapping Information", class)
	for _, g := range graphs {
		fmt.Fprintf(bw, "1 \"%s\" %d %d\n", g.DisplayName, g.NodeCount(), g.HighestNodeID())
		if !h.legacy {
			fmt.Fprintf(bw, "4 %s\n", formatSignature(g.Signature))
		}
		for _, b := range g.Blocks() {
			fmt.Fprintf(bw, "2 %d %c %d %d %d %d  0  0 \n",
				b.ID, byte(b.Label), int(b.Type), int(b.SubType), b.StartOffset, b.EndOffset)
		}
		fmt.Fprintf(bw, "0 end of method %s\n", g.DisplayName)
	}
	return bw.Flush()
}

// ReadMap reads a map file. fileName is the base name recorded in the
// header, e.g. "demo.Io.java". Graphs previously held for the same class
// are replaced. A method without a signature record marks the file as
// legacy.
func (h *Handler) ReadMap(r io.Reader, fileName string) error {
	lr := newLineReader(r, fileName+MapSuffix)
	class, err := lr.header(fileName)
	if err != nil {
		return err
	}
	h.className = class
	h.legacy = false
	h.byName = make(map[string]*cfg.Graph)
	if keys, err := h.graphs.KeysForClass(class); err == nil {
		for _, sig := range keys {
			h.graphs.Remove(sig)
		}
	}

	for {
		rec, ok, err := lr.next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		name, _, err := lr.methodHeader(rec)
		if err != nil {
			return err
		}

		sig := bytecode.MethodSignature{Class: class}
		rec, ok, err = lr.next()
		if err != nil {
			return err
		}
		if !ok {
			return lr.errorf(lr.line, "unexpected end of file after method header")
		}
		if !h.legacy {
			parsed := false
			if rec.kind == recSignature && len(rec.fields) == 1 {
				sig, parsed = parseSignature(rec.fields[0])
			}
			if !parsed {
				h.legacy = true
				h.logger.Info("legacy map file, consider rebuilding it", "file", lr.file)
				lr.unread(rec)
			} else {
				h.className = sig.Class
			}
		} else {
			lr.unread(rec)
		}

		g := cfg.NewGraph(sig)
		g.DisplayName = name
		g.SetLogger(h.logger)
		for {
			rec, ok, err = lr.next()
			if err != nil {
				return err
			}
			if !ok {
				break
			}
			if rec.kind != recBlock {
				lr.unread(rec)
				break
			}
			b, err := h.parseBlock(lr, rec)
			if err != nil {
				return err
			}
			g.AddBlock(b)
		}

		if h.legacy {
			h.byName[name] = g
			continue
		}
		if err := h.graphs.Put(sig, g, cache.StatusComplete); err != nil {
			return err
		}
	}
}

// parseBlock reads `2 <id> <label> <type> <subtype> <start> <end> ...`.
func (h *Handler) parseBlock(lr *lineReader, rec record) (*cfg.Block, error) {
	if len(rec.fields) < 6 || len(rec.fields[1]) != 1 {
		return nil, lr.errorf(rec.line, "block record is incomplete")
	}
	nums, err := lr.ints(rec, []string{rec.fields[0], rec.fields[2], rec.fields[3], rec.fields[4], rec.fields[5]})
	if err != nil {
		return nil, err
	}
	label, err := cfg.BlockLabelFromChar(rec.fields[1][0])
	if err != nil {
		return nil, lr.errorf(rec.line, "%v", err)
	}
	t, err := cfg.BlockTypeFromCode(nums[1])
	if err != nil {
		return nil, lr.errorf(rec.line, "%v", err)
	}
	s, err := cfg.BlockSubTypeFromCode(nums[2])
	if err != nil {
		return nil, lr.errorf(rec.line, "%v", err)
	}
	return cfg.NewBlock(nums[0], t, s, label, nums[3], nums[4]), nil
}
