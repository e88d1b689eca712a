// Package cli wires the gptrader command tree. Every command except serve
// talks to the daemon through the sdk and starts it on demand.
package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/etrobot/gpt-trader/daemon/server"
	"github.com/etrobot/gpt-trader/internals/conf"
	"github.com/etrobot/gpt-trader/sdk"
)

const requestTimeout = 3 * time.Second

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "gptraderd",
		Short:         "Market analysis task daemon and client",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newVersionCommand(),
		newRunCommand(),
		newStatusCommand(),
		newStopCommand(),
		newWatchCommand(),
		newTasksCommand(),
		newResultsCommand(),
		newSchedulerCommand(),
		newShutdownCommand(),
	)

	return rootCmd
}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the daemon in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return server.New().Start()
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the local and daemon versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("local: %s\n", conf.GetConfig().Version)

			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			remote, err := client.Version(ctx)
			if err != nil {
				fmt.Println("daemon: not running")
				return nil
			}
			fmt.Printf("daemon: %s\n", remote)
			return nil
		},
	}
}

func newRunCommand() *cobra.Command {
	var topN int
	var wait bool

	cmd := &cobra.Command{
		Use:   "run [kind]",
		Short: "Submit a job (defaults to analysis)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := "analysis"
			if len(args) == 1 {
				kind = args[0]
			}

			client := sdk.NewClient()
			if err := EnsureDaemonRunning(client); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			accepted, err := client.Submit(ctx, kind, topN)
			if err != nil {
				if errors.Is(err, sdk.ErrBusy) {
					return errors.New("another task is already running; stop it or wait")
				}
				return err
			}

			fmt.Printf("task: %s\nkind: %s\nstatus: %s\n", accepted.TaskID, accepted.Kind, accepted.Status)
			if wait {
				return watchTask(client, accepted.TaskID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&topN, "top-n", 0, "number of top symbols to analyse (daemon default when unset)")
	cmd.Flags().BoolVar(&wait, "wait", false, "stream updates until the task finishes")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <task-id>",
		Short: "Show a task's current state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			task, err := client.TaskStatus(ctx, args[0])
			if err != nil {
				return err
			}
			printTask(task)
			return nil
		},
	}
}

func newStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <task-id>",
		Short: "Request cancellation of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			task, err := client.StopTask(ctx, args[0])
			if err != nil {
				return err
			}
			printTask(task)
			return nil
		},
	}
}

func newWatchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <task-id>",
		Short: "Stream a task's updates until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return watchTask(sdk.NewClient(), args[0])
		},
	}
}

func newTasksCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks",
		Short: "List all tasks known to the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			list, err := client.ListTasks(ctx)
			if err != nil {
				return err
			}
			if len(list.Tasks) == 0 {
				fmt.Println("no tasks")
				return nil
			}
			for _, task := range list.Tasks {
				fmt.Printf("%s  %-20s %-10s %s\n", task.TaskID, task.Kind, task.Status, task.Message)
			}
			return nil
		},
	}
}

func newResultsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "results [kind]",
		Short: "Show the latest completed result",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind := ""
			if len(args) == 1 {
				kind = args[0]
			}

			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			result, err := client.LatestResult(ctx, kind)
			if err != nil {
				return err
			}
			printTaskWithResult(result)
			return nil
		},
	}
}

func newSchedulerCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Inspect and control the recurring job scheduler",
	}

	cmd.AddCommand(
		newSchedulerStatusCommand(),
		newSchedulerEnableCommand(true),
		newSchedulerEnableCommand(false),
		newSchedulerStopCommand(),
		newSchedulerRunNowCommand(),
	)

	return cmd
}

func newSchedulerStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show scheduler state and next run times",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			if err := EnsureDaemonRunning(client); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			status, err := client.SchedulerStatus(ctx)
			if err != nil {
				return err
			}
			printSchedulerStatus(status)
			return nil
		},
	}
}

func newSchedulerEnableCommand(enable bool) *cobra.Command {
	use := "enable"
	short := "Enable recurring job dispatch"
	if !enable {
		use = "disable"
		short = "Disable recurring job dispatch"
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			if err := EnsureDaemonRunning(client); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			status, err := client.SchedulerEnable(ctx, enable)
			if err != nil {
				return err
			}
			printSchedulerStatus(status)
			return nil
		},
	}
}

func newSchedulerStopCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Cancel the currently dispatched scheduled task",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			stop, err := client.SchedulerStop(ctx)
			if err != nil {
				return err
			}
			if !stop.Stopped {
				fmt.Println("no scheduled task running")
				return nil
			}
			if stop.Task != nil {
				printTask(stop.Task)
			}
			return nil
		},
	}
}

func newSchedulerRunNowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run-now <kind>",
		Short: "Trigger a recurring job immediately",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			if err := EnsureDaemonRunning(client); err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			accepted, err := client.SchedulerRunNow(ctx, args[0])
			if err != nil {
				if errors.Is(err, sdk.ErrBusy) {
					return errors.New("another task is already running; stop it or wait")
				}
				return err
			}
			fmt.Printf("task: %s\nkind: %s\nstatus: %s\n", accepted.TaskID, accepted.Kind, accepted.Status)
			return nil
		},
	}
}

func newShutdownCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "shutdown",
		Short: "Stop the daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := sdk.NewClient()
			ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
			defer cancel()
			if err := client.Shutdown(ctx); err != nil {
				return err
			}
			fmt.Println("shutdown requested")
			return nil
		},
	}
}

func watchTask(client *sdk.Client, taskID string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, err := client.WatchTask(ctx, taskID)
	if err != nil {
		return err
	}

	var last string
	for task := range updates {
		printTaskProgress(&task)
		last = task.Status
	}

	if last == "failed" {
		return errors.New("task failed")
	}
	if last == "" {
		return fmt.Errorf("lost connection watching task %s", taskID)
	}
	return nil
}
