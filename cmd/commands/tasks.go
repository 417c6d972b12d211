package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// NewTasksCommand returns the tasks subcommand group.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Inspect and control tasks",
		Commands: []*cli.Command{
			newTasksListCommand(),
			newTasksCreateCommand(),
			newTasksCancelCommand(),
		},
	}
}

type taskJSON struct {
	ID              int64   `json:"id"`
	Status          string  `json:"status"`
	Kind            string  `json:"kind"`
	Title           string  `json:"title"`
	TargetRef       string  `json:"target_ref"`
	AssignedRobotID *string `json:"assigned_robot_id"`
}

func newTasksListCommand() *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List tasks",
		Flags: []cli.Flag{
			addrFlag(),
			&cli.StringFlag{
				Name:  "status",
				Usage: "Filter by status (PENDING, READY, ASSIGNED, DONE, CANCELED)",
			},
			&cli.IntFlag{
				Name:  "limit",
				Value: 50,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			addr, err := apiAddr(cmd)
			if err != nil {
				return err
			}

			url := fmt.Sprintf("%s/api/tasks?limit=%d", addr, cmd.Int("limit"))
			if v := cmd.String("status"); v != "" {
				url += "&status=" + v
			}

			var tasks []taskJSON
			if err := apiCall(ctx, "GET", url, nil, &tasks); err != nil {
				return err
			}
			for _, t := range tasks {
				robot := "-"
				if t.AssignedRobotID != nil {
					robot = *t.AssignedRobotID
				}
				fmt.Printf("%-6d %-9s %-9s %-12s %-10s %s\n",
					t.ID, t.Status, t.Kind, robot, t.TargetRef, t.Title)
			}
			return nil
		},
	}
}

func newTasksCreateCommand() *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a task",
		Flags: []cli.Flag{
			addrFlag(),
			&cli.StringFlag{
				Name:     "kind",
				Usage:    "Task kind (ORDERING, DELIVERY, CLEANUP, BILLING, NAVIGATE, CHARGING)",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "title",
				Usage: "Task title",
			},
			&cli.StringFlag{
				Name:  "target-kind",
				Value: "POI",
			},
			&cli.StringFlag{
				Name:     "target",
				Usage:    "Target reference (POI name or mapped ref)",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			addr, err := apiAddr(cmd)
			if err != nil {
				return err
			}

			body := map[string]any{
				"kind":        cmd.String("kind"),
				"title":       cmd.String("title"),
				"target_kind": cmd.String("target-kind"),
				"target_ref":  cmd.String("target"),
			}
			var task taskJSON
			if err := apiCall(ctx, "POST", addr+"/api/tasks", body, &task); err != nil {
				return err
			}
			fmt.Printf("created task %d (%s %s)\n", task.ID, task.Kind, task.Status)
			return nil
		},
	}
}

func newTasksCancelCommand() *cli.Command {
	return &cli.Command{
		Name:      "cancel",
		Usage:     "Cancel a task",
		ArgsUsage: "<task-id>",
		Flags: []cli.Flag{
			addrFlag(),
			&cli.StringFlag{
				Name:  "reason",
				Usage: "Cancellation reason recorded on the task",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			if cmd.Args().Len() != 1 {
				return fmt.Errorf("expected one task id")
			}
			addr, err := apiAddr(cmd)
			if err != nil {
				return err
			}

			url := fmt.Sprintf("%s/api/tasks/%s/cancel", addr, cmd.Args().First())
			var task taskJSON
			if err := apiCall(ctx, "POST", url, map[string]string{"reason": cmd.String("reason")}, &task); err != nil {
				return err
			}
			fmt.Printf("task %d is %s\n", task.ID, task.Status)
			return nil
		},
	}
}
