package cmd

import (
	"crypto/rand"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/hackerby888/qubic-core-lite/internal/output"
)

func addBenchCommand(rootCmd *cobra.Command) {
	var size int
	var iterations int
	var dirtyChunks int

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure digest throughput for a synthetic contract region",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runID := uuid.New().String()

			reg, cfg, err := openRegistry()
			if err != nil {
				return err
			}
			defer reg.CloseAll()

			const contractIndex = 0
			e, err := reg.Create(contractIndex, "bench", size, cfg.SecurityLevel)
			if err != nil {
				return err
			}

			if _, err := rand.Read(e.Bytes()[:size]); err != nil {
				return fmt.Errorf("filling region with random data: %w", err)
			}

			out := make([]byte, 32)
			start := time.Now()
			if err := e.Digest(out, 32, true); err != nil {
				return fmt.Errorf("cold digest: %w", err)
			}
			coldElapsed := time.Since(start)

			warmStart := time.Now()
			for i := 0; i < iterations; i++ {
				for c := 0; c < dirtyChunks; c++ {
					e.MarkChunkChanged(c)
				}
				if err := e.Digest(out, 32, true); err != nil {
					return fmt.Errorf("iteration %d: %w", i, err)
				}
			}
			warmElapsed := time.Since(warmStart)

			result := map[string]any{
				"run_id":            runID,
				"size_bytes":        size,
				"iterations":        iterations,
				"dirty_chunks":      dirtyChunks,
				"cold_digest_ns":    coldElapsed.Nanoseconds(),
				"warm_total_ns":     warmElapsed.Nanoseconds(),
				"warm_avg_per_iter": (warmElapsed / time.Duration(max(iterations, 1))).Nanoseconds(),
			}
			if output.IsJSON() {
				return output.PrintJSON(cmd.OutOrStdout(), result)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "run %s: cold digest %v, %d iterations (%d dirty chunks each) averaging %v/iter\n",
				runID, coldElapsed, iterations, dirtyChunks, warmElapsed/time.Duration(max(iterations, 1)))
			return nil
		},
	}

	benchCmd.Flags().IntVar(&size, "size", 8*1024*1024, "synthetic region size in bytes")
	benchCmd.Flags().IntVar(&iterations, "iterations", 100, "number of warm digest iterations")
	benchCmd.Flags().IntVar(&dirtyChunks, "dirty-chunks", 1, "chunks marked changed before each warm iteration")

	rootCmd.AddCommand(benchCmd)
}
