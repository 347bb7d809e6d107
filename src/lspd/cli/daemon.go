package cli

import (
	"github.com/lsp-cli/lspd/src/lspd/app"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the lspd daemon in the foreground",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fx.New(app.Module).Run()
	},
}
