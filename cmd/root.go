package cmd

import (
	"github.com/spf13/cobra"
	"worker-transcribe/config"
)

func Root(config *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "worker-transcribe",
		Short: "audio transcription and speaker diarization service",
	}
	rootCmd.AddCommand(server(config), worker(config), scan(config))
	return rootCmd
}
