package main

import "github.com/lsp-cli/lspd/src/lspd/cli"

func main() {
	cli.Execute()
}
