package cli

import (
	"github.com/spf13/cobra"
)

type stopParams struct {
	Path string `json:"path"`
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Inspect and control the daemon",
}

var serverListCmd = &cobra.Command{
	Use:   "list",
	Short: "List live language-server sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdmin(cmd, "server/list", nil)
	},
}

var serverCapabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "List the capabilities the daemon dispatches",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdmin(cmd, "server/capabilities", nil)
	},
}

var serverStopCmd = &cobra.Command{
	Use:   "stop [PATH]",
	Short: "Stop the session owning the workspace at PATH",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "."
		if len(args) == 1 {
			path = args[0]
		}
		return runAdmin(cmd, "server/stop", stopParams{Path: path})
	},
}

var serverShutdownCmd = &cobra.Command{
	Use:   "shutdown",
	Short: "Stop the daemon and all of its sessions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAdmin(cmd, "server/shutdown", nil)
	},
}

func init() {
	serverCmd.AddCommand(serverListCmd, serverCapabilitiesCmd, serverStopCmd, serverShutdownCmd)
}

// runAdmin dispatches one admin call and renders the result.
func runAdmin(cmd *cobra.Command, method string, params interface{}) error {
	ctx, cancel := callContext()
	defer cancel()

	c, err := dial(ctx)
	if err != nil {
		return err
	}
	defer c.close()

	result, err := c.call(ctx, method, params)
	if err != nil {
		return err
	}
	return render(cmd.OutOrStdout(), result)
}
