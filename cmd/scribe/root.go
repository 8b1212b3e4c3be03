package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/skypro1111/meeting-scribe/internal/config"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "scribe",
		Short:         "Live meeting transcription for voice channels",
		Long:          "A bot that joins voice channels, streams live transcripts into a meeting thread, and posts a diarized transcript and summary when the meeting ends.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.Version = serviceVersion
	rootCmd.PersistentFlags().String("config", defaultConfigPath, "Path to configuration file")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newValidateConfigCmd())

	return rootCmd
}

func newValidateConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-config",
		Short: "Load and validate the configuration, then report missing credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Configuration %s is valid\n", path)
			if cfg.Discord.Token == "" {
				fmt.Fprintf(out, "  %s: not set, the bot cannot connect\n", config.EnvDiscordToken)
			}
			for _, name := range missingCredentials(cfg) {
				fmt.Fprintf(out, "  %s: not set, meetings will be rejected\n", name)
			}
			return nil
		},
	}
}
