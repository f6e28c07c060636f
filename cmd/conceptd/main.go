// Conceptd joins live sessions, turns their transcripts into concept trees
// and publishes them on a message bus.
//
// Usage:
//
//	# Serve every session announced on the transport
//	conceptd serve
//
//	# Replay a transcript file to stdout
//	conceptd replay --stdout lecture.txt
//
//	# Query a running instance
//	conceptd status --server http://localhost:9191
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

var configPath string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "conceptd",
		Short: "Real-time concept extraction for live sessions",
		Long: `conceptd listens to the transcripts of live sessions, asks a language
model for the concepts discussed and publishes them as a tree on a
message bus.

Without a subcommand it behaves like "conceptd serve".`,
		Version:      version,
		SilenceUsage: true,
		RunE:         runServe,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/conceptd/config.yaml)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newReplayCmd())
	root.AddCommand(newStatusCmd())
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			printVersion(cmd)
		},
	}
}

func printVersion(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "conceptd %s\n", version)
	fmt.Fprintf(out, "  commit: %s\n", gitCommit)
	fmt.Fprintf(out, "  built:  %s\n", buildDate)
}
