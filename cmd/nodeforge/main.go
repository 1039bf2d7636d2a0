// Command nodeforge serves a node-graph workflow document to agents as MCP
// tools and offers offline validation of workflow files.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nodeforge",
		Short: "Transactional editing of node-graph workflows over MCP",
		Long: `nodeforge keeps one node-graph workflow document in memory and exposes
structural commands on it as MCP tools. Multi-command batches are atomic and
can refer to nodes created earlier in the same batch.

Configuration: defaults < ~/.nodeforge/settings.json < NODEFORGE_* env vars.`,
		SilenceUsage: true,
	}
	root.AddCommand(
		newServeCmd(),
		newHTTPCmd(),
		newValidateCmd(),
		newTypesCmd(),
		newInitCmd(),
		newVersionCmd(),
	)
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
