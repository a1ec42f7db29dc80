package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/Leavesfly/TinyClaw-sub001/internal/config"
	"github.com/Leavesfly/TinyClaw-sub001/internal/schedule"
	"github.com/Leavesfly/TinyClaw-sub001/internal/scheduler"
)

func cronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
		Long:  "List, add, remove, enable or disable the gateway's scheduled jobs.\nChanges are picked up by a running gateway on its next restart; the\ngateway's own cron tool edits the same document live.",
	}
	cmd.AddCommand(cronListCmd())
	cmd.AddCommand(cronAddCmd())
	cmd.AddCommand(cronRemoveCmd())
	cmd.AddCommand(cronEnableCmd())
	cmd.AddCommand(cronDisableCmd())
	return cmd
}

// openCronService loads the job document into a service that never ticks;
// the CLI only edits state.
func openCronService() (*scheduler.Service, func(), error) {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	_, cronStore, closeStores, err := openStores(cfg, cfg.WorkspacePath())
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	return scheduler.New(cronStore, nil), closeStores, nil
}

func cronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, closeStores, err := openCronService()
			if err != nil {
				return err
			}
			defer closeStores()

			jobs := svc.List()
			if len(jobs) == 0 {
				fmt.Println("No scheduled jobs.")
				return nil
			}
			for _, job := range jobs {
				state := "enabled"
				if !job.Enabled {
					state = "disabled"
				}
				fmt.Printf("%s  %-20s %-24s %s", job.ID, job.Name, job.Schedule.Describe(), state)
				if job.State.NextRunAtMs > 0 {
					fmt.Printf("  next %s", time.UnixMilli(job.State.NextRunAtMs).Format(time.RFC3339))
				}
				if job.State.LastStatus != "" {
					fmt.Printf("  last %s", job.State.LastStatus)
					if job.State.LastError != "" {
						fmt.Printf(" (%s)", job.State.LastError)
					}
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func cronAddCmd() *cobra.Command {
	var (
		name     string
		message  string
		cronExpr string
		every    time.Duration
		at       string
		channel  string
		chatID   string
		deliver  bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a scheduled job",
		Long: `Add a scheduled job. Exactly one of --cron, --every or --at is required.

Examples:
  tinyclaw cron add --name standup --message "Post the standup summary" --cron "0 9 * * 1-5"
  tinyclaw cron add --name news --message "Summarise HN" --every 6h --deliver --channel telegram --chat 42
  tinyclaw cron add --name reminder --message "Dentist!" --at 2026-09-01T09:00:00Z`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if message == "" {
				return fmt.Errorf("--message is required")
			}

			given := 0
			var sched schedule.Schedule
			if cronExpr != "" {
				sched = schedule.Cron(cronExpr)
				given++
			}
			if every > 0 {
				sched = schedule.Every(every)
				given++
			}
			if at != "" {
				t, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("--at must be RFC3339: %w", err)
				}
				sched = schedule.At(t)
				given++
			}
			if given != 1 {
				return fmt.Errorf("exactly one of --cron, --every or --at is required")
			}

			payload := scheduler.Payload{Message: message}
			if deliver {
				if channel == "" || chatID == "" {
					return fmt.Errorf("--deliver requires --channel and --chat")
				}
				payload.Deliver = true
			}
			payload.Channel = channel
			payload.ChatID = chatID

			svc, closeStores, err := openCronService()
			if err != nil {
				return err
			}
			defer closeStores()

			job, err := svc.Add(name, sched, payload)
			if err != nil {
				return err
			}
			fmt.Printf("Created job %s (%s), next run %s\n",
				job.ID, job.Schedule.Describe(),
				time.UnixMilli(job.State.NextRunAtMs).Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "short job name")
	cmd.Flags().StringVar(&message, "message", "", "prompt the agent runs when the job fires")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "five-field cron expression, e.g. '0 9 * * *'")
	cmd.Flags().DurationVar(&every, "every", 0, "repeat interval, e.g. 30m or 6h")
	cmd.Flags().StringVar(&at, "at", "", "one-shot fire time, RFC3339")
	cmd.Flags().StringVar(&channel, "channel", "", "channel the job runs against")
	cmd.Flags().StringVar(&chatID, "chat", "", "chat id the job runs against")
	cmd.Flags().BoolVar(&deliver, "deliver", false, "deliver the reply to --channel/--chat")

	return cmd
}

func cronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cronStateOp(args[0], "removed", (*scheduler.Service).Remove)
		},
	}
}

func cronEnableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "enable <job-id>",
		Short: "Enable a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cronStateOp(args[0], "enabled", (*scheduler.Service).Enable)
		},
	}
}

func cronDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <job-id>",
		Short: "Disable a scheduled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cronStateOp(args[0], "disabled", (*scheduler.Service).Disable)
		},
	}
}

func cronStateOp(id, verb string, op func(*scheduler.Service, string) error) error {
	svc, closeStores, err := openCronService()
	if err != nil {
		return err
	}
	defer closeStores()
	if err := op(svc, id); err != nil {
		return err
	}
	fmt.Printf("Job %s %s\n", id, verb)
	return nil
}
