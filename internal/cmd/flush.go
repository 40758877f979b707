package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hackerby888/qubic-core-lite/internal/output"
)

func addFlushCommand(rootCmd *cobra.Command) {
	var size int
	var changedOnly bool

	flushCmd := &cobra.Command{
		Use:   "flush <contract-index>",
		Short: "Persist resident chunks of a contract to disk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			contractIndex, err := parseContractIndex(args[0])
			if err != nil {
				return err
			}

			reg, cfg, err := openRegistry()
			if err != nil {
				return err
			}
			defer reg.CloseAll()

			e, err := reg.Create(contractIndex, "", size, cfg.SecurityLevel)
			if err != nil {
				return err
			}

			if err := e.FlushAll(changedOnly); err != nil {
				return fmt.Errorf("flushing contract %d: %w", contractIndex, err)
			}

			if !output.IsQuiet() && !output.IsJSON() {
				fmt.Fprintf(cmd.OutOrStdout(), "flushed contract %d\n", contractIndex)
			}
			if output.IsJSON() {
				return output.PrintJSON(cmd.OutOrStdout(), map[string]any{
					"contract_index": contractIndex,
					"changed_only":   changedOnly,
				})
			}
			return nil
		},
	}

	flushCmd.Flags().IntVar(&size, "size", 0, "non-padded size in bytes of the contract's state (required)")
	flushCmd.Flags().BoolVar(&changedOnly, "changed-only", false, "only flush chunks currently marked dirty")
	flushCmd.MarkFlagRequired("size")

	rootCmd.AddCommand(flushCmd)
}
