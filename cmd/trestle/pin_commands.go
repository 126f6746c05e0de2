package main

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newPinCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "pin <file>",
		Short: "Pin a local file through the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outcome, err := client.pinFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if outcome.AlreadyPinned {
				fmt.Fprintln(out, "Already pinned")
			} else {
				fmt.Fprintln(out, "Pinned")
			}
			fmt.Fprintf(out, "CID:     %s\n", outcome.CID)
			fmt.Fprintf(out, "URI:     %s\n", outcome.URI)
			fmt.Fprintf(out, "Gateway: %s\n", outcome.GatewayURL)
			if outcome.SizeBytes > 0 {
				fmt.Fprintf(out, "Size:    %s\n", humanize.Bytes(uint64(outcome.SizeBytes)))
			}
			return nil
		},
	}
}

func newPinCIDCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "pin-cid <cid>",
		Short: "Pin existing network content on the local node",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cid := strings.TrimSpace(args[0])
			already, err := client.pinCID(cmd.Context(), cid)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if already {
				fmt.Fprintf(out, "%s is already pinned locally\n", cid)
			} else {
				fmt.Fprintf(out, "%s pinned locally\n", cid)
			}
			return nil
		},
	}
}
