package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	noStream   bool
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dcloud",
		Short: "Docker Cloud client",
		Long: `dcloud manages Docker Cloud stacks, services and containers.

Mutating commands accept --wait to block until the resource converges.
Waits listen to the audit event stream and poll the REST API in parallel,
whichever observes the desired state first wins.

Credentials are read from the config file or from DOCKERCLOUD_USER and
DOCKERCLOUD_APIKEY.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (.yaml or .toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVar(&noStream, "no-stream", false, "do not connect to the event stream; waits poll only")

	rootCmd.AddCommand(newStackCommand())
	rootCmd.AddCommand(newServiceCommand())
	rootCmd.AddCommand(newContainerCommand())
	rootCmd.AddCommand(newActionCommand())
	rootCmd.AddCommand(newWaitCommand())
	rootCmd.AddCommand(newEventsCommand())
	rootCmd.AddCommand(newHistoryCommand())

	return rootCmd
}
