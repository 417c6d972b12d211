package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"
)

// NewTickCommand returns the tick subcommand.
func NewTickCommand() *cli.Command {
	return &cli.Command{
		Name:  "tick",
		Usage: "Run one orchestration tick against the daemon",
		Flags: []cli.Flag{
			addrFlag(),
			&cli.IntFlag{
				Name:  "max",
				Usage: "Maximum assignments this tick",
				Value: 5,
			},
			&cli.StringFlag{
				Name:  "robot",
				Usage: "Preferred robot id",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			addr, err := apiAddr(cmd)
			if err != nil {
				return err
			}

			body := map[string]any{"max_assignments": cmd.Int("max")}
			if cmd.IsSet("robot") {
				body["preferred_robot"] = cmd.String("robot")
			}

			var result struct {
				Promoted   int `json:"promoted"`
				Assigned   int `json:"assigned"`
				Progressed int `json:"progressed_runs"`
				Waiting    int `json:"waiting_runs"`
				Finished   int `json:"finished_runs"`
				Failed     int `json:"failed_runs"`
				Canceled   int `json:"canceled_runs"`
			}
			if err := apiCall(ctx, "POST", addr+"/api/tick", body, &result); err != nil {
				return err
			}

			fmt.Printf("promoted=%d assigned=%d progressed=%d waiting=%d finished=%d failed=%d canceled=%d\n",
				result.Promoted, result.Assigned, result.Progressed, result.Waiting,
				result.Finished, result.Failed, result.Canceled)
			return nil
		},
	}
}
