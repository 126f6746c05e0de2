package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var serverFlag string
	var tokenFlag string

	client := &apiClient{server: &serverFlag, token: &tokenFlag}

	rootCmd := &cobra.Command{
		Use:           "trestle",
		Short:         "Trestle pinning service CLI",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVar(&serverFlag, "server", "http://127.0.0.1:3001", "Daemon API address")
	rootCmd.PersistentFlags().StringVar(&tokenFlag, "token", "", "API token")

	rootCmd.AddCommand(newStatusCommand(client))
	rootCmd.AddCommand(newJobsCommand(client))
	rootCmd.AddCommand(newShowCommand(client))
	rootCmd.AddCommand(newPinCommand(client))
	rootCmd.AddCommand(newPinCIDCommand(client))
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
