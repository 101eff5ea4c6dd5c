package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/BioHazard786/Tandem/internal/ui"
	"github.com/BioHazard786/Tandem/internal/version"
)

var flagServer string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "tandem",
	Short:   "Anonymous one-to-one video calls with a random stranger",
	Long:    `Tandem pairs you with another person who is looking for a chat, then connects the two of you directly over WebRTC for a video call with text chat on the side.`,
	Version: version.Version,
}

// Execute runs the root command. It is called once by main.main().
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "", "Signaling server host or URL")
}
