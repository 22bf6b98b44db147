package cmd

import (
	"github.com/spf13/cobra"
	"worker-transcribe/config"
	server2 "worker-transcribe/server"
)

func scan(config *config.Config) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "check diarization metadata against job records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return server2.RunScan(config, limit, cmd.OutOrStdout())
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum number of jobs to check")
	return cmd
}
