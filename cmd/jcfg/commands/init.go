package commands

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/l3aro/go-cfg-engine/internal/config"
	"github.com/l3aro/go-cfg-engine/internal/healthcheck"
)

// initCmd represents the init command
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a configuration file interactively",
	Long: `Guides you through the jcfg settings and writes them to .jcfg/config.yaml,
or to ~/.jcfg/config.yaml with --global.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		global, _ := cmd.Flags().GetBool("global")
		force, _ := cmd.Flags().GetBool("force")
		path := config.ProjectConfigFilePath()
		if global {
			path = config.GlobalConfigFilePath()
		}
		return runInit(path, force)
	},
}

func runInit(path string, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		overwrite := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("%s exists. Overwrite it?", path)).
			Value(&overwrite).
			Run()
		if err != nil {
			return fmt.Errorf("interactive prompt failed: %w", err)
		}
		if !overwrite {
			fmt.Println("Configuration left unchanged.")
			return nil
		}
	}

	cfg := config.DefaultConfig()
	backend := string(cfg.StoreBackend)
	workers := strconv.Itoa(cfg.Workers)

	levelOptions := make([]huh.Option[string], 0, len(config.InferenceLevels()))
	for _, l := range config.InferenceLevels() {
		levelOptions = append(levelOptions, huh.NewOption(l, l))
	}

	form := huh.NewForm(
		// === SECTION 1: Graph construction ===
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Type inference level").
				Description("How precisely the exceptions thrown at each site are inferred").
				Options(levelOptions...).
				Value(&cfg.InferenceLevel),
			huh.NewConfirm().
				Title("Assign branch IDs?").
				Description("Branch IDs are written to control flow files and the graph store").
				Value(&cfg.BranchExtensions),
			huh.NewConfirm().
				Title("Write legacy files?").
				Description("Legacy map and control flow files carry no method signatures").
				Affirmative("Yes, legacy").
				Negative("No").
				Value(&cfg.LegacyFiles),
		),
		// === SECTION 2: Storage and output ===
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Graph store backend").
				Options(
					huh.NewOption("Files (one per graph)", string(config.StoreFile)),
					huh.NewOption("Badger key-value store", string(config.StoreBadger)),
					huh.NewOption("Memory (nothing kept between runs)", string(config.StoreMemory)),
				).
				Value(&backend),
			huh.NewInput().
				Title("Graph store directory").
				Placeholder(cfg.CacheDir).
				Value(&cfg.CacheDir),
			huh.NewInput().
				Title("Output directory for map and control flow files").
				Placeholder(cfg.OutputDir).
				Value(&cfg.OutputDir),
			huh.NewInput().
				Title("Classes built in parallel").
				Value(&workers).
				Validate(func(s string) error {
					n, err := strconv.Atoi(s)
					if err != nil || n <= 0 {
						return errors.New("enter a positive number")
					}
					return nil
				}),
		),
	)
	if err := form.Run(); err != nil {
		return fmt.Errorf("interactive prompt failed: %w", err)
	}

	cfg.StoreBackend = config.StoreBackend(backend)
	cfg.Workers, _ = strconv.Atoi(workers)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.Save(path); err != nil {
		return err
	}

	fmt.Printf("\nConfiguration saved to %s\n\n", path)
	if result, err := healthcheck.Check(cfg, path, healthcheck.EffectiveConfigPath("")); err == nil {
		printHealth(result)
		fmt.Println()
	}
	fmt.Println("Run 'jcfg build' to build the programs in this directory.")
	return nil
}

func init() {
	initCmd.Flags().Bool("global", false, "Write the global configuration (~/.jcfg/config.yaml)")
	initCmd.Flags().BoolP("force", "f", false, "Overwrite an existing file without asking")
}
