package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-cfg-engine/pkg/cfg"
	"github.com/l3aro/go-cfg-engine/pkg/handler"
)

// GraphSummary is the JSON form of one method graph.
type GraphSummary struct {
	Method          string        `json:"method"`
	Signature       string        `json:"signature,omitempty"`
	Blocks          []BlockOutput `json:"blocks"`
	Edges           []EdgeOutput  `json:"edges"`
	BranchCount     int           `json:"branch_count,omitempty"`
	SummaryBranchID int           `json:"summary_branch_id,omitempty"`
}

// BlockOutput is the JSON form of a block.
type BlockOutput struct {
	ID      int    `json:"id"`
	Label   string `json:"label"`
	Type    string `json:"type"`
	SubType string `json:"subtype"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// EdgeOutput is the JSON form of an edge.
type EdgeOutput struct {
	ID        int      `json:"id"`
	Pred      int      `json:"pred"`
	Succ      int      `json:"succ"`
	Label     string   `json:"label,omitempty"`
	Aux       string   `json:"aux,omitempty"`
	BranchIDs []string `json:"branch_ids,omitempty"`
}

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show <class> [method]",
	Short: "Inspect map and control flow files",
	Long: `Reads the map and control flow files written for a class and prints the
methods they hold. Given a method (its display name, e.g. "int demo.A.max(int, int)",
or just its name), prints that method's blocks and edges.

Legacy files without method signatures are recognised automatically.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		dir, _ := cmd.Flags().GetString("dir")
		if dir == "" {
			dir = conf.OutputDir
		}
		branchExt := conf.BranchExtensions
		if cmd.Flags().Changed("no-branch-ids") {
			noIDs, _ := cmd.Flags().GetBool("no-branch-ids")
			branchExt = !noIDs
		}
		jsonOutput, _ := cmd.Flags().GetBool("json")
		dot, _ := cmd.Flags().GetBool("dot")
		dotDir, _ := cmd.Flags().GetString("dot-dir")

		h := handler.New(nil, handler.Options{BranchExtensions: branchExt, Logger: logger})
		if err := h.ReadFiles(dir, args[0]); err != nil {
			return fmt.Errorf("reading files of %s: %w", args[0], err)
		}

		graphs, err := selectGraphs(h, args[1:])
		if err != nil {
			return err
		}

		if dotDir != "" {
			for _, g := range graphs {
				path, err := handler.WriteDotFile(dotDir, dotName(g), g)
				if err != nil {
					return err
				}
				fmt.Fprintln(os.Stderr, "wrote", path)
			}
		}

		switch {
		case dot:
			for _, g := range graphs {
				if err := handler.WriteDot(os.Stdout, g); err != nil {
					return err
				}
			}
		case jsonOutput:
			out := make([]GraphSummary, 0, len(graphs))
			for _, g := range graphs {
				out = append(out, summarize(g))
			}
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
		case len(args) == 1:
			if h.Legacy() {
				fmt.Println("(legacy files: methods have no signatures)")
			}
			for _, g := range graphs {
				fmt.Printf("%-50s %3d blocks %3d edges\n", g.DisplayName, g.NodeCount(), g.EdgeCount())
			}
		default:
			for _, g := range graphs {
				printGraph(g)
			}
		}
		return nil
	},
}

// selectGraphs returns every graph the handler holds, or those matching the
// method argument by display name or by method name.
func selectGraphs(h *handler.Handler, args []string) ([]*cfg.Graph, error) {
	names, err := h.Methods()
	if err != nil {
		return nil, err
	}
	var graphs []*cfg.Graph
	for _, name := range names {
		if len(args) > 0 && name != args[0] && methodName(name) != args[0] {
			continue
		}
		g, err := h.GraphByName(name)
		if err != nil {
			return nil, err
		}
		graphs = append(graphs, g)
	}
	if len(args) > 0 && len(graphs) == 0 {
		return nil, fmt.Errorf("method %q not found", args[0])
	}
	return graphs, nil
}

// methodName extracts "max" from "int demo.A.max(int, int)".
func methodName(display string) string {
	name, _, _ := strings.Cut(display, "(")
	if i := strings.LastIndexAny(name, ". "); i >= 0 {
		name = name[i+1:]
	}
	return name
}

var dotNameReplacer = strings.NewReplacer("/", "_", ";", "_", "<", "_", ">", "_")

// dotName is a file name distinguishing overloads, e.g. "demo.A.max(II)I".
func dotName(g *cfg.Graph) string {
	if g.Signature.Name != "" {
		return dotNameReplacer.Replace(g.Signature.String())
	}
	return methodName(g.DisplayName)
}

func summarize(g *cfg.Graph) GraphSummary {
	s := GraphSummary{Method: g.DisplayName, BranchCount: g.BranchCount, SummaryBranchID: g.SummaryBranchID}
	if g.Signature.Name != "" {
		s.Signature = g.Signature.String()
	}
	for _, b := range g.Blocks() {
		s.Blocks = append(s.Blocks, BlockOutput{
			ID:      b.ID,
			Label:   string(rune(b.Label)),
			Type:    b.Type.String(),
			SubType: b.SubType.String(),
			Start:   b.StartOffset,
			End:     b.EndOffset,
		})
	}
	for _, e := range g.Edges() {
		eo := EdgeOutput{ID: e.ID, Pred: e.Pred, Succ: e.Succ, Label: e.Label}
		if e.HasAux {
			eo.Aux = e.AuxLabel
		}
		for _, id := range e.BranchIDs().Slice() {
			eo.BranchIDs = append(eo.BranchIDs, id.String())
		}
		s.Edges = append(s.Edges, eo)
	}
	return s
}

func printGraph(g *cfg.Graph) {
	fmt.Printf("=== %s ===\n", g.DisplayName)
	if g.BranchCount > 1 || g.SummaryBranchID > 0 {
		fmt.Printf("Branches: %d (summary %d)\n", g.BranchCount, g.SummaryBranchID)
	}
	fmt.Printf("\nBlocks (%d):\n", g.NodeCount())
	for _, b := range g.Blocks() {
		fmt.Printf("  %3d %c %-7s %-12s [%d:%d]\n", b.ID, byte(b.Label), b.Type, b.SubType, b.StartOffset, b.EndOffset)
	}
	fmt.Printf("\nEdges (%d):\n", g.EdgeCount())
	for _, e := range g.Edges() {
		label := e.Label
		if e.HasAux {
			label += ":" + e.AuxLabel
		}
		ids := make([]string, 0)
		for _, id := range e.BranchIDs().Slice() {
			ids = append(ids, id.String())
		}
		fmt.Printf("  %3d %3d -> %-3d %-30s %s\n", e.ID, e.Pred, e.Succ, label, strings.Join(ids, ","))
	}
	fmt.Println()
}

func init() {
	showCmd.Flags().String("dir", "", "Directory holding the files (default: output_dir)")
	showCmd.Flags().Bool("no-branch-ids", false, "Files were written without branch IDs")
	showCmd.Flags().BoolP("json", "j", false, "Output as JSON")
	showCmd.Flags().Bool("dot", false, "Print Graphviz dot to stdout")
	showCmd.Flags().String("dot-dir", "", "Write one .dot file per method into this directory")
}
