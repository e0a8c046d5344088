package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/lotsales/lotsales/internal/app"
)

// ExitError carries a non-zero exit code out of a command.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// ServeFunc starts the HTTP server and blocks until ctx is done.
type ServeFunc func(ctx context.Context) error

// NewRootCommand assembles the lotsales command tree.
func NewRootCommand(serve ServeFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "lotsales",
		Short:         "Lot sales installment service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCommand(serve), newScheduleCommand(), newJobsCommand())
	return root
}

func newServeCommand(serve ServeFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serve == nil {
				return fmt.Errorf("serve: not configured")
			}
			return serve(cmd.Context())
		},
	}
}

func newScheduleCommand() *cobra.Command {
	schedule := &cobra.Command{
		Use:   "schedule",
		Short: "Quota schedule tools",
	}
	preview := &cobra.Command{
		Use:   "preview",
		Short: "Print the quota schedule for a financed amount",
		RunE: func(cmd *cobra.Command, args []string) error {
			total, _ := cmd.Flags().GetString("total")
			quotas, _ := cmd.Flags().GetInt("quotas")
			start, _ := cmd.Flags().GetString("start")
			custom, _ := cmd.Flags().GetStringSlice("custom")
			asJSON, _ := cmd.Flags().GetBool("json")
			code := PreviewCommand(ScheduleOptions{
				Total:      total,
				Quotas:     quotas,
				Start:      start,
				Custom:     custom,
				JSONOutput: asJSON,
				Stdout:     cmd.OutOrStdout(),
				Stderr:     cmd.ErrOrStderr(),
			})
			if code != 0 {
				return ExitError{Code: code}
			}
			return nil
		},
	}
	preview.Flags().String("total", "", "financed amount")
	preview.Flags().Int("quotas", 0, "number of quotas")
	preview.Flags().String("start", "", "sale date (YYYY-MM-DD)")
	preview.Flags().StringSlice("custom", nil, "custom quota amounts, comma separated")
	preview.Flags().Bool("json", false, "emit JSON")
	_ = preview.MarkFlagRequired("total")
	_ = preview.MarkFlagRequired("start")
	schedule.AddCommand(preview)
	return schedule
}

func newJobsCommand() *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	jobsCmd.PersistentFlags().String("redis-addr", "", "Redis address (defaults to REDIS_ADDR)")

	trigger := &cobra.Command{
		Use:   "trigger <job>",
		Short: "Enqueue a job (overdue-scan)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			asOf, _ := cmd.Flags().GetString("as-of")
			return withJobsCLI(cmd, func(c *JobsCLI) error {
				info, err := c.Trigger(cmd.Context(), args[0], asOf)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "enqueued %s id=%s queue=%s\n", info.Type, info.ID, info.Queue)
				return nil
			})
		},
	}
	trigger.Flags().String("as-of", "", "reference date (YYYY-MM-DD)")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Show queue statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobsCLI(cmd, func(c *JobsCLI) error {
				s, err := c.InspectQueue(cmd.Context())
				if err != nil {
					return err
				}
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(s)
			})
		},
	}

	scheduled := &cobra.Command{
		Use:   "scheduled",
		Short: "List scheduled tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			size, _ := cmd.Flags().GetInt("size")
			return withJobsCLI(cmd, func(c *JobsCLI) error {
				infos, err := c.ListScheduled(cmd.Context(), size)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				_, _ = fmt.Fprintln(tw, "ID\tTYPE\tNEXT RUN")
				for _, info := range infos {
					_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\n", info.ID, info.Type, info.NextProcessAt.Format("2006-01-02 15:04"))
				}
				return tw.Flush()
			})
		},
	}
	scheduled.Flags().Int("size", 10, "page size")

	jobsCmd.AddCommand(trigger, stats, scheduled)
	return jobsCmd
}

func withJobsCLI(cmd *cobra.Command, fn func(*JobsCLI) error) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	opts := cfg.AsynqRedis()
	if addr, _ := cmd.Flags().GetString("redis-addr"); strings.TrimSpace(addr) != "" {
		opts.Addr = addr
	}
	c, err := NewJobsCLI(opts)
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	return fn(c)
}
