package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"doc-ingest-service/internal/service"
)

var jobCmd = &cobra.Command{
	Use:   "job <id>",
	Short: "Show a job with its status display name",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid job id: %w", err)
		}
		_, deps, _, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer deps.Close()

		j, err := service.NewJobService(deps.Store).GetJob(cmd.Context(), id)
		if err != nil {
			return err
		}
		return printJSON(j)
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit <table> <record-id>",
	Short: "List the audit trail of a record, newest first",
	Example: `  ingestctl audit ingest_jobs 6f1c...
  ingestctl audit upload_batches 0b7e...`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, deps, _, err := setup(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer deps.Close()

		entries, err := service.NewJobService(deps.Store).Audit(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		return printJSON(entries)
	},
}

func init() {
	rootCmd.AddCommand(jobCmd, auditCmd)
}
