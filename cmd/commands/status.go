package commands

import (
	"context"
	"fmt"
	"sort"

	"github.com/urfave/cli/v3"
)

// NewStatusCommand returns the status subcommand.
func NewStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show daemon health, queue stats, and robots",
		Flags: []cli.Flag{addrFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			addr, err := apiAddr(cmd)
			if err != nil {
				return err
			}

			var health struct {
				Status    string `json:"status"`
				WSClients int    `json:"ws_clients"`
				SafeMode  bool   `json:"safe_mode"`
			}
			if err := apiCall(ctx, "GET", addr+"/api/health", nil, &health); err != nil {
				fmt.Println("Daemon: NOT RUNNING")
				return err
			}
			fmt.Printf("Daemon: %s (ws clients %d, safe mode %v)\n",
				health.Status, health.WSClients, health.SafeMode)

			var stats map[string]int
			if err := apiCall(ctx, "GET", addr+"/api/queue/stats", nil, &stats); err != nil {
				return err
			}
			keys := make([]string, 0, len(stats))
			for k := range stats {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			fmt.Println("Tasks:")
			for _, k := range keys {
				fmt.Printf("  %-10s %d\n", k, stats[k])
			}

			var robots []struct {
				RobotID  string `json:"robot_id"`
				Eligible bool   `json:"eligible"`
				Busy     bool   `json:"busy"`
				Reason   string `json:"reason"`
			}
			if err := apiCall(ctx, "GET", addr+"/api/robots", nil, &robots); err != nil {
				return err
			}
			fmt.Println("Robots:")
			for _, r := range robots {
				state := "eligible"
				if !r.Eligible {
					state = r.Reason
				}
				fmt.Printf("  %-12s busy=%v %s\n", r.RobotID, r.Busy, state)
			}
			return nil
		},
	}
}
