package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/hanpama/fedgate/internal/dispatch"
	"github.com/hanpama/fedgate/internal/plan"
	"github.com/hanpama/fedgate/internal/plancache"
)

// readInput reads path, or stdin when path is "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(path)
}

func newSignatureCommand() *cobra.Command {
	var (
		operationName string
		supergraph    string
	)
	cmd := &cobra.Command{
		Use:   "signature <operation-file|->",
		Short: "Print the plan cache signature of an operation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var version string
			if supergraph != "" {
				sdl, err := os.ReadFile(supergraph)
				if err != nil {
					return err
				}
				version = plancache.SchemaVersion(sdl)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), plancache.ComputeSignature(string(query), operationName, version))
			return err
		},
	}
	cmd.Flags().StringVarP(&operationName, "operation-name", "o", "", "operation name")
	cmd.Flags().StringVarP(&supergraph, "supergraph", "s", "", "supergraph SDL the signature is bound to")
	return cmd
}

func newSubgraphProtoCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "subgraph-proto",
		Short: "Print the .proto contract gRPC subgraphs implement",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return dispatch.WriteContract(cmd.OutOrStdout())
		},
	}
}

func newValidatePlanCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-plan <plan.json|->...",
		Short: "Check query plans for structural errors",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			failed := 0
			for _, path := range args {
				b, err := readInput(cmd, path)
				if err == nil {
					var p *plan.QueryPlan
					if p, err = plan.Parse(b); err == nil {
						err = p.Check()
					}
				}
				if err != nil {
					failed++
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", path, err)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d plans invalid", failed, len(args))
			}
			return nil
		},
	}
}
