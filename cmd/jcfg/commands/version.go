package commands

import (
	"encoding/json"
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// VersionOutput represents the output of the version command
type VersionOutput struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time,omitempty"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := VersionOutput{
			Version:   appVersion,
			BuildTime: appBuildTime,
			GoVersion: runtime.Version(),
			Platform:  runtime.GOOS + "/" + runtime.GOARCH,
		}
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			data, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("marshaling JSON: %w", err)
			}
			fmt.Println(string(data))
			return nil
		}
		fmt.Printf("jcfg %s (%s, %s)\n", out.Version, out.GoVersion, out.Platform)
		if out.BuildTime != "" {
			fmt.Printf("built %s\n", out.BuildTime)
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolP("json", "j", false, "Output as JSON")
}
