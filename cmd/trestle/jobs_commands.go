package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"trestle/internal/jobs"
)

func newJobsCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "jobs",
		Short: "List recent transcode jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			listed, err := client.listJobs(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(listed) == 0 {
				fmt.Fprintln(out, "No jobs recorded")
				return nil
			}

			rows := make([][]string, 0, len(listed))
			for _, job := range listed {
				rows = append(rows, []string{
					job.ID,
					string(job.Status),
					shortCID(job.SourceCID),
					shortCID(job.ResultCID),
					formatQualities(job.Qualities),
					formatTimestamp(job.CreatedAt),
				})
			}

			if !isTerminal(out) {
				for _, row := range rows {
					fmt.Fprintln(out, strings.Join(row, "\t"))
				}
				return nil
			}
			headers := []string{"ID", "Status", "Source", "Result", "Qualities", "Created"}
			aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft}
			fmt.Fprintln(out, renderTable(headers, rows, aligns))
			return nil
		},
	}
}

func newShowCommand(client *apiClient) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show a single job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := client.getJob(cmd.Context(), strings.TrimSpace(args[0]))
			if err != nil {
				return err
			}
			printJob(cmd, job)
			return nil
		},
	}
}

func printJob(cmd *cobra.Command, job *jobs.Job) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Job:       %s\n", job.ID)
	fmt.Fprintf(out, "Status:    %s\n", job.Status)
	fmt.Fprintf(out, "Source:    %s\n", job.SourceCID)
	fmt.Fprintf(out, "Qualities: %s\n", formatQualities(job.Qualities))
	if job.ProviderJobID != "" {
		fmt.Fprintf(out, "Provider:  %s\n", job.ProviderJobID)
	}
	if job.Requester != "" {
		fmt.Fprintf(out, "Requester: %s\n", job.Requester)
	}
	fmt.Fprintf(out, "Created:   %s\n", formatTimestamp(job.CreatedAt))
	if job.CompletedAt != nil {
		fmt.Fprintf(out, "Completed: %s\n", formatTimestamp(*job.CompletedAt))
	}
	if job.FailedAt != nil {
		fmt.Fprintf(out, "Failed:    %s\n", formatTimestamp(*job.FailedAt))
	}
	if job.ResultCID != "" {
		fmt.Fprintf(out, "Result:    ipfs://%s\n", job.ResultCID)
	}
	if job.ErrorMessage != "" {
		fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
	}
}

func shortCID(cid string) string {
	if cid == "" {
		return "-"
	}
	if len(cid) <= 16 {
		return cid
	}
	return cid[:8] + "..." + cid[len(cid)-5:]
}

func formatQualities(qualities []int) string {
	if len(qualities) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(qualities))
	for _, q := range qualities {
		parts = append(parts, strconv.Itoa(q)+"p")
	}
	return strings.Join(parts, ",")
}
