// Swarmweaver coordinates a roster of AI agents collaborating in chat
// threads on a shared software workflow.
//
// Usage:
//
//	# Start the coordinator with ~/.config/swarmweaver/config.yaml
//	swarmweaver serve
//
//	# Check a configuration file without starting anything
//	swarmweaver config validate --config ./config.yaml
//
//	# Show the agent roster
//	swarmweaver agents
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configPath is the --config flag shared by every command.
var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "swarmweaver",
		Short: "Multi-agent chat coordinator",
		Long: `swarmweaver routes chat messages between AI agents, tracks the
issue -> branch -> commit -> pull request workflow of each conversation and
executes the functions agents request.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/swarmweaver/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newAgentsCmd())
	root.AddCommand(newConfigCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "swarmweaver\n")
			fmt.Fprintf(out, "Version:    %s\n", version)
			fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
			fmt.Fprintf(out, "Build Date: %s\n", buildDate)
		},
	}
}
