// Package commands provides the CLI commands of jcfg.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-cfg-engine/internal/config"
	"github.com/l3aro/go-cfg-engine/internal/log"
)

var (
	appVersion   = "dev"
	appBuildTime = ""
)

// SetVersion records the version stamped into the binary.
func SetVersion(version, buildTime string) {
	appVersion = version
	appBuildTime = buildTime
	RootCmd.Version = version
}

// RootCmd represents the base command when called without any subcommands
var RootCmd = &cobra.Command{
	Use:   "jcfg",
	Short: "jcfg - control flow graphs for JVM bytecode",
	Long: `jcfg builds control flow graphs for the methods of JVM programs, including
the exceptional edges found by type inference, and writes them as map and
control flow files.

Commands:
  build       Build graphs for the classes of YAML programs
  show        Inspect map and control flow files
  cache       List or remove graphs in the graph store
  watch       Rebuild programs when they change
  init        Create a configuration file interactively
  doctor      Check the configured store and output locations
  version     Print version information

Use "jcfg [command] --help" for more information about a command.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately
func Execute() error {
	return RootCmd.Execute()
}

func init() {
	RootCmd.PersistentFlags().String("config", "", "Config file path (default: ~/.jcfg/config.yaml then .jcfg/config.yaml)")
	RootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	RootCmd.PersistentFlags().Bool("json-logs", false, "Write logs as JSON lines")
	RootCmd.SetVersionTemplate("jcfg version {{.Version}}\n")

	RootCmd.AddCommand(buildCmd)
	RootCmd.AddCommand(showCmd)
	RootCmd.AddCommand(cacheCmd)
	RootCmd.AddCommand(watchCmd)
	RootCmd.AddCommand(initCmd)
	RootCmd.AddCommand(doctorCmd)
	RootCmd.AddCommand(versionCmd)
}

// loadConfig reads the configuration and applies the global flags to it.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path, _ := cmd.Flags().GetString("config"); path != "" {
		cfg, err = config.LoadFromFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel, _ = cmd.Flags().GetString("log-level")
	}
	if cmd.Flags().Changed("json-logs") {
		cfg.JSONLogs, _ = cmd.Flags().GetBool("json-logs")
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) (*log.DefaultLogger, error) {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	return log.New(log.LoggerConfig{Level: level, JSONOutput: cfg.JSONLogs}), nil
}

// setup loads the configuration and the logger every command starts from.
func setup(cmd *cobra.Command) (*config.Config, *log.DefaultLogger, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}
