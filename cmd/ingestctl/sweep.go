package main

import (
	"github.com/spf13/cobra"
)

var sweepWorkerID string

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a single poll tick and process what it claims",
	Long: `Fails exhausted stale claims, lists claimable jobs and processes them once,
then prints the sweep statistics. Safe to run next to live workers.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, deps, logger, err := setup(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer deps.Close()

		if sweepWorkerID != "" {
			cfg.Worker.ID = sweepWorkerID
		}
		stats, err := deps.NewWorkerPool(cfg.Worker, logger).Sweep(cmd.Context())
		if err != nil {
			return err
		}
		return printJSON(stats)
	},
}

func init() {
	sweepCmd.Flags().StringVar(&sweepWorkerID, "worker-id", "ingestctl", "worker id recorded in the audit trail")
	rootCmd.AddCommand(sweepCmd)
}
