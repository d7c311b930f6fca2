package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/l3aro/go-cfg-engine/internal/config"
	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/internal/metrics"
	"github.com/l3aro/go-cfg-engine/pkg/branch"
	"github.com/l3aro/go-cfg-engine/pkg/builder"
	"github.com/l3aro/go-cfg-engine/pkg/bytecode"
	"github.com/l3aro/go-cfg-engine/pkg/cache"
	"github.com/l3aro/go-cfg-engine/pkg/dirty"
	"github.com/l3aro/go-cfg-engine/pkg/handler"
	"github.com/l3aro/go-cfg-engine/pkg/inference"
	"github.com/l3aro/go-cfg-engine/pkg/irg"
	"github.com/l3aro/go-cfg-engine/pkg/store"
)

// ClassResult is the outcome of building one class.
type ClassResult struct {
	Class   string   `json:"class"`
	Methods int      `json:"methods"`
	Files   []string `json:"files,omitempty"`
	Error   string   `json:"error,omitempty"`

	classCache cache.Stats
}

// CacheSummary reports the parsed-class cache lookups of a build.
type CacheSummary struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// BuildOutput represents the output of the build command
type BuildOutput struct {
	RunID   string        `json:"run_id,omitempty"`
	Level   string        `json:"level"`
	OutDir  string        `json:"out_dir"`
	Classes []ClassResult `json:"classes"`
	Failed  int           `json:"failed"`

	ClassCache *CacheSummary `json:"class_cache,omitempty"`

	// UpToDate is set when a changed-only build found nothing to do.
	UpToDate bool `json:"up_to_date,omitempty"`
}

// buildCmd represents the build command
var buildCmd = &cobra.Command{
	Use:   "build [path...]",
	Short: "Build graphs for the classes of YAML programs",
	Long: `Loads the YAML program descriptions found in the given files and directories
(default: the current directory), builds the control flow graph of every
concrete method, and writes a map and a control flow file per class.

Built graphs are also written to the graph store (see "jcfg cache").
With --changed, nothing is built unless a program description changed since
the last complete build.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		if err := applyBuildFlags(cmd, cfg); err != nil {
			return err
		}
		classes, _ := cmd.Flags().GetStringSlice("class")
		rebuild, _ := cmd.Flags().GetBool("rebuild")
		changed, _ := cmd.Flags().GetBool("changed")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		out, err := runBuild(cmd.Context(), cfg, logger, buildRequest{
			paths:       args,
			classes:     classes,
			rebuild:     rebuild,
			changedOnly: changed,
			progress:    !jsonOutput && log.IsTTY(),
		})
		if err != nil {
			return err
		}

		if jsonOutput {
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
		} else {
			printBuildOutput(out)
		}
		if out.Failed > 0 {
			return fmt.Errorf("%d of %d classes failed", out.Failed, len(out.Classes))
		}
		return nil
	},
}

func applyBuildFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("level") {
		cfg.InferenceLevel, _ = flags.GetString("level")
	}
	if flags.Changed("out") {
		cfg.OutputDir, _ = flags.GetString("out")
	}
	if flags.Changed("legacy") {
		cfg.LegacyFiles, _ = flags.GetBool("legacy")
	}
	if flags.Changed("no-branch-ids") {
		noIDs, _ := flags.GetBool("no-branch-ids")
		cfg.BranchExtensions = !noIDs
	}
	if flags.Changed("workers") {
		cfg.Workers, _ = flags.GetInt("workers")
	}
	return cfg.Validate()
}

type buildRequest struct {
	paths       []string
	classes     []string
	rebuild     bool
	changedOnly bool
	progress    bool
}


// runBuild builds every requested class. Classes are built in parallel by
// independent builders sharing one graph cache, which spills to the graph
// store. A failed class does not stop the others.
func runBuild(ctx context.Context, cfg *config.Config, logger log.Logger, req buildRequest) (*BuildOutput, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	level, err := inference.ParseLevel(cfg.InferenceLevel)
	if err != nil {
		return nil, err
	}

	files, scanned, err := programFiles(req.paths)
	if err != nil {
		return nil, err
	}
	tracker, err := dirty.Open(cfg.StateDir())
	if err != nil {
		// Unreadable state counts as no state and is replaced by the next save.
		logger.Warn("program state ignored", "error", err)
		tracker, err = dirty.Open(cfg.StateDir(), dirty.WithoutLoad())
		if err != nil {
			return nil, err
		}
	}
	if req.changedOnly {
		changed, err := tracker.Changed(files)
		if err != nil {
			return nil, err
		}
		if len(changed) == 0 {
			logger.Info("programs unchanged", "files", len(files))
			return &BuildOutput{Level: level.String(), OutDir: cfg.OutputDir, UpToDate: true}, nil
		}
		logger.Debug("programs changed", "files", changed)
	}
	prog, err := loadPrograms(files, scanned, logger)
	if err != nil {
		return nil, err
	}
	classes := prog.ClassNames()
	if len(req.classes) > 0 {
		for _, c := range req.classes {
			if !slices.Contains(classes, c) {
				return nil, fmt.Errorf("class %s is not part of the program", c)
			}
		}
		classes = req.classes
	}

	runID := uuid.NewString()
	st, err := store.Open(store.Options{
		Backend:          store.Backend(cfg.StoreBackend),
		Dir:              cfg.CacheDir,
		BranchExtensions: cfg.BranchExtensions,
		RunID:            runID,
		Logger:           logger,
	})
	if err != nil {
		return nil, fmt.Errorf("opening graph store: %w", err)
	}
	defer st.Close()

	graphs := cache.NewGraphCache(cache.GraphOptions{
		MaxResident: cfg.MaxResidentGraphs,
		Spill:       st,
		Logger:      logger,
	})

	opts := builder.Options{
		Level:            level,
		ExcludedPackages: cfg.ExcludedPackages,
		ClassCacheSize:    cfg.ClassCacheSize,
		BindingCacheBytes: cfg.BindingCacheBytes,
		Graphs:            graphs,
		Logger:            logger,
	}
	workers := cfg.Workers
	if level.Interprocedural() {
		// Interprocedural inference builds callee graphs of other classes on
		// demand, so builds of different classes may touch the same entries.
		workers = 1
		all := prog.ClassNames()
		rel, err := irg.New(prog, all)
		if err != nil {
			return nil, fmt.Errorf("building class relationships: %w", err)
		}
		opts.Classes = all
		opts.IRG = rel
	}

	logger.Info("building", "classes", len(classes), "level", level, "workers", workers, "run", runID)

	var progress *log.BatchProgress
	if req.progress {
		progress = log.NewBatchProgress("building", len(classes))
	}

	results := make([]ClassResult, len(classes))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, class := range classes {
		i, class := i, class
		g.Go(func() error {
			res := buildClass(gctx, prog, class, req.rebuild, opts, cfg, st)
			if res.Error != "" {
				logger.Error("class failed", "class", class, "error", res.Error)
			}
			mu.Lock()
			results[i] = res
			mu.Unlock()
			if progress != nil {
				progress.Done(class, res.Error != "")
			}
			// Only cancellation stops the batch.
			return gctx.Err()
		})
	}
	waitErr := g.Wait()
	if progress != nil {
		progress.Close()
	}
	if waitErr != nil {
		return nil, waitErr
	}

	out := &BuildOutput{RunID: runID, Level: level.String(), OutDir: cfg.OutputDir, Classes: results}
	var lookups cache.Stats
	for _, r := range results {
		if r.Error != "" {
			out.Failed++
		}
		lookups = lookups.Add(r.classCache)
	}
	metrics.RecordClassCache(lookups.HitCount, lookups.MissCount)
	out.ClassCache = &CacheSummary{Hits: lookups.HitCount, Misses: lookups.MissCount, HitRate: lookups.HitRate()}
	logger.Debug("class cache", "hits", lookups.HitCount, "misses", lookups.MissCount,
		"hit_rate", fmt.Sprintf("%.2f", lookups.HitRate()))

	// Partial builds leave the recorded state alone.
	if out.Failed == 0 && len(req.classes) == 0 {
		if err := tracker.Record(files); err != nil {
			logger.Warn("program state not recorded", "error", err)
		} else if err := tracker.Save(); err != nil {
			logger.Warn("program state not saved", "error", err)
		}
	}

	if cfg.MetricsFile != "" {
		if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
			logger.Warn("metrics not written", "error", err)
		}
	}
	return out, nil
}

func buildClass(ctx context.Context, prog *bytecode.Program, class string, rebuild bool, opts builder.Options, cfg *config.Config, st store.Store) (res ClassResult) {
	res.Class = class
	fail := func(err error) ClassResult {
		res.Error = err.Error()
		return res
	}

	b, err := builder.New(prog, opts)
	if err != nil {
		return fail(err)
	}
	defer func() { res.classCache = b.Hierarchy().Stats() }()
	if cfg.BranchExtensions {
		b.AddTransformer(branch.NewProcessor(opts.Logger))
	}
	if err := b.LoadClass(class); err != nil {
		return fail(err)
	}

	files, err := b.WriteFiles(ctx, cfg.OutputDir, rebuild, handler.Options{
		Legacy:           cfg.LegacyFiles,
		BranchExtensions: cfg.BranchExtensions,
		Version:          appVersion,
		Logger:           opts.Logger,
	})
	if err != nil {
		return fail(err)
	}
	res.Files = files

	graphs, err := b.Graphs(ctx, false)
	if err != nil {
		return fail(err)
	}
	for sig, g := range graphs {
		if err := st.Write(sig, g); err != nil {
			return fail(err)
		}
	}
	res.Methods = len(graphs)
	return res
}

func printBuildOutput(out *BuildOutput) {
	if out.UpToDate {
		fmt.Println("programs unchanged since the last build")
		return
	}
	for _, r := range out.Classes {
		if r.Error != "" {
			fmt.Fprintf(os.Stderr, "FAIL  %s: %s\n", r.Class, r.Error)
			continue
		}
		if len(r.Files) == 0 {
			fmt.Printf("skip  %s (no concrete methods)\n", r.Class)
			continue
		}
		fmt.Printf("ok    %s (%d methods)\n", r.Class, r.Methods)
	}
	fmt.Printf("\n%d classes, %d failed, level %s, output in %s\n",
		len(out.Classes), out.Failed, out.Level, out.OutDir)
	if cc := out.ClassCache; cc != nil && cc.Hits+cc.Misses > 0 {
		fmt.Printf("class cache: %.1f%% of %d lookups hit\n", cc.HitRate*100, cc.Hits+cc.Misses)
	}
}

func init() {
	buildCmd.Flags().StringP("out", "o", "", "Output directory for map and control flow files")
	buildCmd.Flags().String("level", "", "Type inference level (conservative, flow-sensitive, flow-insensitive, combined)")
	buildCmd.Flags().StringSlice("class", nil, "Build only these classes")
	buildCmd.Flags().Bool("rebuild", false, "Construct graphs anew even when another class already built them")
	buildCmd.Flags().Bool("changed", false, "Build only if a program description changed since the last build")
	buildCmd.Flags().Bool("legacy", false, "Write legacy files without method signatures")
	buildCmd.Flags().Bool("no-branch-ids", false, "Do not assign branch IDs")
	buildCmd.Flags().Int("workers", 0, "Classes built in parallel")
	buildCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}
