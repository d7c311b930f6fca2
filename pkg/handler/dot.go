package handler

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/l3aro/go-cfg-engine/pkg/cfg"
)

// WriteDot renders g in Graphviz dot syntax. Decision blocks are diamonds,
// exits circles (double for exceptional exits), and each edge is labelled
// with its branch IDs and its label.
func WriteDot(w io.Writer, g *cfg.Graph) error {
	bw := bufio.NewWriter(w)
	title := g.Signature.String()
	if g.Signature.Name == "" {
		title = g.DisplayName
	}
	fmt.Fprintf(bw, "digraph %s {\n", strconv.Quote(title))
	fmt.Fprintln(bw, "    // Basic blocks")
	names := make(map[int]string)
	for _, b := range g.Blocks() {
		names[b.ID] = dotBlock(bw, b)
	}

	fmt.Fprintln(bw, "    // Edges")
	for _, e := range g.Edges() {
		var label strings.Builder
		label.WriteByte('[')
		for i, id := range e.BranchIDs().Slice() {
			if i > 0 {
				label.WriteByte(',')
			}
			label.WriteString(strconv.Itoa(id.ID))
		}
		label.WriteByte(']')
		if e.Label != "" {
			label.WriteString(" " + e.Label)
		}
		fmt.Fprintf(bw, "    %s -> %s [label=%s]\n", names[e.Pred], names[e.Succ], strconv.Quote(label.String()))
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}

func dotBlock(w *bufio.Writer, b *cfg.Block) string {
	id := strconv.Itoa(b.ID)
	name, label, shape, margin := "b"+id, id, "box", ""
	switch b.Type {
	case cfg.BlockEntry:
		name, label, shape, margin = "E", id+"(E)", "circle", "0"
	case cfg.BlockBasic:
		if b.SubType == cfg.SubIf || b.SubType == cfg.SubSwitch {
			shape, margin = "diamond", "0.02"
		}
	case cfg.BlockCall:
		label, shape = id+"(C)", "ellipse"
	case cfg.BlockExit:
		label, shape, margin = id+"(X)", "circle", "0"
		if b.SubType == cfg.SubThrow || b.SubType == cfg.SubSummaryThrow {
			shape = "doublecircle"
		}
	case cfg.BlockReturn:
	default:
		label, shape = "<unknown>("+id+")", "doubleoctagon"
	}
	fmt.Fprintf(w, "    %s [label=\"%s\\n[%d:%d]\",shape=%s,height=0.01,width=0.01",
		name, label, b.StartOffset, b.EndOffset, shape)
	if margin != "" {
		fmt.Fprintf(w, ",margin=%s", margin)
	}
	fmt.Fprintln(w, "];")
	return name
}

// WriteDotFile writes g to dir as <name>.dot and returns the path.
func WriteDotFile(dir, name string, g *cfg.Graph) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory: %w", err)
	}
	path := filepath.Join(dir, name+DotSuffix)
	return path, writeFile(path, func(f *os.File) error { return WriteDot(f, g) })
}
