package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/l3aro/go-cfg-engine/internal/config"
	"github.com/l3aro/go-cfg-engine/internal/daemon"
	"github.com/l3aro/go-cfg-engine/internal/log"
	"github.com/l3aro/go-cfg-engine/internal/scanner"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch [dir]",
	Short: "Rebuild programs when they change",
	Long: `Builds every program below dir (default: the current directory), then
watches it and rebuilds whenever a program description changes, until
interrupted. One watcher may run per state directory.

With --status, reports the running watcher and its latest build instead.`,
	Args: cobra.RangeArgs(0, 1),
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, logger, err := setup(cmd)
		if err != nil {
			return err
		}
		if showStatus, _ := cmd.Flags().GetBool("status"); showStatus {
			jsonOutput, _ := cmd.Flags().GetBool("json")
			return printWatchStatus(conf, jsonOutput)
		}
		if err := applyBuildFlags(cmd, conf); err != nil {
			return err
		}
		dir := "."
		if len(args) > 0 {
			dir = args[0]
		}

		session, err := daemon.Acquire(conf.StateDir(), dir, appVersion)
		if err != nil {
			return err
		}
		defer func() {
			if err := session.Release(); err != nil {
				logger.Warn("watch state not released", "error", err)
			}
		}()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		w, err := scanner.NewWatcher(dir, scanner.DefaultWatchOptions())
		if err != nil {
			return err
		}
		rebuild(ctx, conf, logger, session, []string{dir}, false)
		logger.Info("watching for changes", "dir", dir)

		// Classes of one program refer to classes of others, so every change
		// rebuilds the whole tree. Saves that keep the content are skipped.
		err = w.Run(ctx, func(c scanner.Change) {
			logger.Debug("files touched", "files", len(c.Paths), "first", c.Paths[0])
			rebuild(ctx, conf, logger, session, []string{dir}, true)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	},
}

// rebuild runs one build and reports its outcome. Failures are logged so
// the watch goes on.
func rebuild(ctx context.Context, conf *config.Config, logger log.Logger, session *daemon.Session, paths []string, changedOnly bool) {
	out, err := runBuild(ctx, conf, logger, buildRequest{paths: paths, rebuild: true, changedOnly: changedOnly})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logger.Error("build failed", "error", err)
		if rerr := session.Record(daemon.BuildReport{Err: err}); rerr != nil {
			logger.Warn("watch status not written", "error", rerr)
		}
		return
	}
	if out.UpToDate {
		return
	}
	for _, r := range out.Classes {
		if r.Error != "" {
			fmt.Fprintf(os.Stderr, "FAIL  %s: %s\n", r.Class, r.Error)
		}
	}
	logger.Info("build finished", "classes", len(out.Classes), "failed", out.Failed)
	if err := session.Record(daemon.BuildReport{RunID: out.RunID, Classes: len(out.Classes), Failed: out.Failed}); err != nil {
		logger.Warn("watch status not written", "error", err)
	}
}

func printWatchStatus(conf *config.Config, jsonOutput bool) error {
	status, err := daemon.CheckStatus(conf.StateDir())
	if err != nil {
		return err
	}
	if jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("marshaling JSON: %w", err)
		}
		fmt.Println(string(data))
		return nil
	}

	if status.Running {
		fmt.Printf("Watcher running (pid %d) on %s since %s\n", status.PID, status.Dir, humanize.Time(status.StartedAt))
	} else {
		fmt.Println("No watcher running")
	}
	if status.Builds == 0 {
		return nil
	}
	fmt.Printf("Builds: %d, last %s\n", status.Builds, humanize.Time(status.LastBuild))
	if status.Error != "" {
		fmt.Printf("Last build failed: %s\n", status.Error)
		return nil
	}
	fmt.Printf("Last build: %d classes, %d failed (run %s)\n", status.Classes, status.Failed, status.LastRunID)
	return nil
}

func init() {
	watchCmd.Flags().StringP("out", "o", "", "Output directory for map and control flow files")
	watchCmd.Flags().String("level", "", "Type inference level (conservative, flow-sensitive, flow-insensitive, combined)")
	watchCmd.Flags().Bool("legacy", false, "Write legacy files without method signatures")
	watchCmd.Flags().Bool("no-branch-ids", false, "Do not assign branch IDs")
	watchCmd.Flags().Int("workers", 0, "Classes built in parallel")
	watchCmd.Flags().Bool("status", false, "Report the running watcher and exit")
	watchCmd.Flags().BoolP("json", "j", false, "Output the status as JSON")
}
