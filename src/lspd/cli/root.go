// Package cli implements the lspd command line: the daemon entrypoint plus
// client commands that talk to a running daemon over its unix socket.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	_outputFormat  string
	_timeoutFlag   int
	_noSpawnFlag   bool
	_rootCmdGroups = []*cobra.Command{
		daemonCmd,
		hoverCmd,
		definitionCmd,
		typeDefinitionCmd,
		implementationCmd,
		referencesCmd,
		outlineCmd,
		symbolCmd,
		renameCmd,
		serverCmd,
	}
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "lspd",
		Short: "Language server session daemon and client",
		Long: `lspd keeps one language server alive per workspace and exposes its
capabilities to short-lived callers. Client commands locate the workspace
from a FILE[:LINE[:COL]] argument and dispatch to the daemon, starting it
on demand.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&_outputFormat, "output", "o", "json", "output format: json or yaml")
	rootCmd.PersistentFlags().IntVar(&_timeoutFlag, "timeout", 60, "request timeout in seconds")
	rootCmd.PersistentFlags().BoolVar(&_noSpawnFlag, "no-spawn", false, "fail instead of starting the daemon when it is not running")

	rootCmd.AddCommand(_rootCmdGroups...)
	return rootCmd
}

// Execute runs the lspd command line.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
