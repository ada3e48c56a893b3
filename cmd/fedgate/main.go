// Command fedgate runs the federation gateway and its offline tools.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configPath string
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "fedgate",
		Short:         "Federated GraphQL gateway",
		Long:          "fedgate executes federated query plans against GraphQL subgraphs over HTTP or gRPC.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "fedgate.yaml", "configuration file")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newSignatureCommand())
	cmd.AddCommand(newSubgraphProtoCommand())
	cmd.AddCommand(newValidatePlanCommand())
	return cmd
}
