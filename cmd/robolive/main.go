// Command robolive talks to a live generative-audio model through the local
// microphone, speaker and camera.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/AltairaLabs/robolive/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "robolive",
	Short:         "Live voice and vision session with a generative model",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	Long: `robolive streams microphone audio and camera frames to a live model,
plays its spoken replies, and answers its tool calls. With detection enabled
it also points at objects in view and plans robot trajectories.`,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		if cmd.Flags().Changed("verbose") {
			verbose, err := cmd.Flags().GetBool("verbose")
			if err == nil {
				logger.SetVerbose(verbose)
			}
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringP("config", "c", "", "Config file (YAML)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
