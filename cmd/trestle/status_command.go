package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check whether the daemon is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.health(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Daemon at %s is healthy\n", client.baseURL())
			return nil
		},
	}
}
