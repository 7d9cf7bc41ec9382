package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuongbtq/lineageq/internal/domain"
	"github.com/cuongbtq/lineageq/internal/storage"
)

const defaultListLimit = 20

func parseID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid job id %q", arg)
	}
	return id, nil
}

// enqueueCmd writes the job straight to the store; idle workers pick it up on their next poll
func enqueueCmd(a *app) *cobra.Command {
	var (
		spec       domain.JobSpec
		scheduleAt string
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Queue an ingest job",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if scheduleAt != "" {
				at, err := time.Parse(time.RFC3339, scheduleAt)
				if err != nil {
					return fmt.Errorf("--schedule-at must be RFC3339: %w", err)
				}
				at = at.UTC()
				spec.ScheduledAt = &at
			}

			id, err := a.store.InsertJob(cmd.Context(), spec)
			if err != nil {
				return fmt.Errorf("failed to enqueue job: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Job %d queued.\n", id)
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&spec.RepoPath, "repo-path", "", "Local repository path to scan")
	flags.StringVar(&spec.GitURL, "git-url", "", "Repository URL to clone and scan")
	flags.StringVar(&spec.GitBranch, "branch", "", "Branch to clone (with --git-url)")
	flags.StringVar(&spec.ConnName, "conn", "", "Connection name passed to the scanner")
	flags.StringVar(&spec.Owner, "owner", "", "Owner recorded on the job")
	flags.IntVar(&spec.Priority, "priority", 0, "Higher runs first")
	flags.IntVar(&spec.MaxAttempts, "max-attempts", 0, "Attempts before the job fails (default 3)")
	flags.StringVar(&scheduleAt, "schedule-at", "", "Earliest start time (RFC3339)")
	_ = cmd.MarkFlagRequired("conn")

	return cmd
}

func listCmd(a *app) *cobra.Command {
	var (
		status string
		limit  int
		before int64
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := storage.JobFilter{Limit: limit, BeforeID: before}
			if filter.Limit <= 0 {
				filter.Limit = defaultListLimit
			}
			if filter.Limit > storage.MaxListLimit {
				filter.Limit = storage.MaxListLimit
			}
			if status != "" {
				s, err := domain.ParseJobStatus(status)
				if err != nil {
					return err
				}
				filter.Status = s
			}

			jobs, err := a.store.ListJobs(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("failed to list jobs: %w", err)
			}

			out := cmd.OutOrStdout()
			if len(jobs) == 0 {
				fmt.Fprintln(out, "No jobs found.")
				return nil
			}

			tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSTATUS\tPRIORITY\tATTEMPTS\tSCHEDULED\tSOURCE\tCONN")
			for _, job := range jobs {
				fmt.Fprintf(tw, "%d\t%s\t%d\t%d/%d\t%s\t%s\t%s\n",
					job.ID,
					job.Status,
					job.Priority,
					job.Attempts,
					job.MaxAttempts,
					job.ScheduledAt.Format(time.RFC3339),
					jobSource(job),
					job.ConnName,
				)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status (queued, running, done, error, canceled)")
	cmd.Flags().IntVar(&limit, "limit", defaultListLimit, "Maximum number of jobs")
	cmd.Flags().Int64Var(&before, "before", 0, "Only jobs with a smaller id")
	return cmd
}

func jobSource(job domain.Job) string {
	if job.GitURL != nil {
		if job.GitBranch != nil {
			return *job.GitURL + "@" + *job.GitBranch
		}
		return *job.GitURL
	}
	if job.RepoPath != nil {
		return *job.RepoPath
	}
	return "-"
}

func getCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <job-id>",
		Short: "Show one job as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			job, err := a.store.GetJob(cmd.Context(), id)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		},
	}
}

func cancelCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a queued or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}

			changed, err := a.store.CancelJob(cmd.Context(), id)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !changed {
				job, err := a.store.GetJob(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "Job %d is already %s.\n", id, job.Status)
				return nil
			}
			fmt.Fprintf(out, "Job %d canceled.\n", id)
			return nil
		},
	}
}

var statusOrder = []domain.JobStatus{
	domain.JobStatusQueued,
	domain.JobStatusRunning,
	domain.JobStatusDone,
	domain.JobStatusError,
	domain.JobStatusCanceled,
}

func statsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show job counts per status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			counts, err := a.store.JobStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}
			depth, err := a.store.QueueDepth(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get queue depth: %w", err)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, s := range statusOrder {
				fmt.Fprintf(tw, "%s\t%d\n", s, counts[s])
			}
			fmt.Fprintf(tw, "eligible now\t%d\n", depth)
			return tw.Flush()
		},
	}
}
