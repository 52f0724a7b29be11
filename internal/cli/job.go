package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/virgo-archive/tapir/pkg/model"
)

// NewJobCmd creates the job command with its subcommands.
func NewJobCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Inspect and control asynchronous jobs",
	}
	cmd.AddCommand(
		newJobStatusCmd(),
		newJobAbortCmd(),
		newJobRemoveCmd(),
	)
	return cmd
}

// jobHandle rebuilds a pollable handle for a server-side job id.
func jobHandle(id string) *model.Job {
	return &model.Job{ID: id, Mode: model.ModeAsync, Phase: model.PhasePending}
}

func newJobStatusCmd() *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the current phase of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := buildClient(cfg, service)
			if err != nil {
				return err
			}
			job, err := client.Poll(cmd.Context(), jobHandle(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job:    %s\nPhase:  %s\n", job.ID, job.Phase)
			if job.ErrorMessage != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "Error:  %s\n", job.ErrorMessage)
			}
			for _, ref := range job.Results {
				fmt.Fprintf(cmd.OutOrStdout(), "Result: %s\n", ref.URL)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "configured service name (required)")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func newJobAbortCmd() *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "abort <job-id>",
		Short: "Request server-side cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := buildClient(cfg, service)
			if err != nil {
				return err
			}
			job, err := client.Abort(cmd.Context(), jobHandle(args[0]))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s is now %s\n", job.ID, job.Phase)
			return nil
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "configured service name (required)")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}

func newJobRemoveCmd() *cobra.Command {
	var service string
	cmd := &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a job on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			client, err := buildClient(cfg, service)
			if err != nil {
				return err
			}
			if err := client.Remove(cmd.Context(), jobHandle(args[0])); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %s removed\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&service, "service", "s", "", "configured service name (required)")
	_ = cmd.MarkFlagRequired("service")
	return cmd
}
