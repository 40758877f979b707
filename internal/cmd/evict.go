package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hackerby888/qubic-core-lite/internal/output"
)

func addEvictCommand(rootCmd *cobra.Command) {
	var size int
	var chunk int
	var all bool

	evictCmd := &cobra.Command{
		Use:   "evict <contract-index>",
		Short: "Force one or all resident chunks of a contract out to disk",
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

			evicted := 0
			if all {
				for i := 0; i < e.GetMaxChunks(); i++ {
					if err := e.SaveChunkToDisk(i); err != nil {
						return fmt.Errorf("evicting chunk %d: %w", i, err)
					}
					evicted++
				}
			} else {
				if err := e.SaveChunkToDisk(chunk); err != nil {
					return fmt.Errorf("evicting chunk %d: %w", chunk, err)
				}
				evicted = 1
			}

			if output.IsJSON() {
				return output.PrintJSON(cmd.OutOrStdout(), map[string]any{
					"contract_index": contractIndex,
					"evicted_chunks": evicted,
				})
			}
			if !output.IsQuiet() {
				fmt.Fprintf(cmd.OutOrStdout(), "evicted %d chunk(s)\n", evicted)
			}
			return nil
		},
	}

	evictCmd.Flags().IntVar(&size, "size", 0, "non-padded size in bytes of the contract's state (required)")
	evictCmd.Flags().IntVar(&chunk, "chunk", 0, "chunk index to evict")
	evictCmd.Flags().BoolVar(&all, "all", false, "evict every resident chunk instead of a single one")
	evictCmd.MarkFlagRequired("size")

	rootCmd.AddCommand(evictCmd)
}
