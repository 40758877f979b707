package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hackerby888/qubic-core-lite/internal/output"
)

func addDigestCommand(rootCmd *cobra.Command) {
	var size int
	var outLen int

	digestCmd := &cobra.Command{
		Use:   "digest <contract-index>",
		Short: "Compute the tree hash of a freshly created, zero-filled contract region",
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

			out := make([]byte, outLen)
			if err := e.Digest(out, outLen, true); err != nil {
				return fmt.Errorf("computing digest: %w", err)
			}

			if output.IsJSON() {
				return output.PrintJSON(cmd.OutOrStdout(), map[string]any{
					"contract_index": contractIndex,
					"digest":         fmt.Sprintf("%x", out),
				})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%x\n", out)
			return nil
		},
	}

	digestCmd.Flags().IntVar(&size, "size", 0, "non-padded size in bytes of the contract's state (required)")
	digestCmd.Flags().IntVar(&outLen, "out-len", 32, "digest length in bytes")
	digestCmd.MarkFlagRequired("size")

	rootCmd.AddCommand(digestCmd)
}
