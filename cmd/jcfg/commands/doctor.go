package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/l3aro/go-cfg-engine/internal/healthcheck"
)

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the configured store and output locations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		conf, _, err := setup(cmd)
		if err != nil {
			return err
		}
		explicit, _ := cmd.Flags().GetString("config")
		result, err := healthcheck.Check(conf, "", healthcheck.EffectiveConfigPath(explicit))
		if err != nil {
			return err
		}
		printHealth(result)
		if !result.Healthy() {
			return errors.New("some locations are unusable")
		}
		return nil
	},
}

func printHealth(r *healthcheck.HealthCheckResult) {
	if r.SavedPath != "" {
		fmt.Printf("Saved:     %s (%s)\n", r.SavedPath, r.SavedScope)
	}
	if r.EffectivePath != "" {
		fmt.Printf("In effect: %s (%s)\n", r.EffectivePath, r.EffectiveScope)
	} else {
		fmt.Println("In effect: defaults")
	}
	if r.SavedPath != "" && r.EffectivePath != "" && r.SavedPath != r.EffectivePath {
		fmt.Printf("Note: %s takes priority over the saved file here.\n", r.EffectivePath)
	}
	fmt.Println()
	for _, c := range r.Components() {
		line := fmt.Sprintf("  %-22s %-9s", c.Name, c.Status)
		if c.Path != "" {
			line += " " + c.Path
		}
		if c.Detail != "" {
			line += " (" + c.Detail + ")"
		}
		if c.Error != "" {
			line += ": " + c.Error
		}
		fmt.Println(line)
	}
}
