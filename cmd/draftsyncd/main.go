package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "draftsyncd",
		Short: "Real-time sync server for draft records",
		Long: `draftsyncd keeps a user's draft records in sync across devices.

Clients connect over WebSocket, identify themselves with an init
command, and from then on every draft saved or updated anywhere
is pushed to the user's other open connections. A small REST API
covers non-WebSocket writers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		serveCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
