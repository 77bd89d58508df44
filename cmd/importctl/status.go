package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/importwizard/internal/core"
)

var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the backend status of a job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newExtractClient()
		if err != nil {
			return err
		}

		status, err := client.Status(cmd.Context(), core.JobHandle(args[0]))
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
