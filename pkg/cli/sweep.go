package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"

	"github.com/secmon-lab/mnemosyne/pkg/cli/config"
	"github.com/secmon-lab/mnemosyne/pkg/domain/model"
	"github.com/secmon-lab/mnemosyne/pkg/domain/types"
	"github.com/secmon-lab/mnemosyne/pkg/usecase"
	"github.com/secmon-lab/mnemosyne/pkg/utils/logging"
)

func cmdSweep() *cli.Command {
	var repoCfg config.Repository
	var policyCfg config.Policy
	var dryRun bool
	var token string
	var batchLimit int
	var agent string

	var flags []cli.Flag
	flags = append(flags, repoCfg.Flags()...)
	flags = append(flags, policyCfg.Flags()...)
	flags = append(flags,
		&cli.BoolFlag{
			Name:        "dry-run",
			Usage:       "Report pending transitions without applying them",
			Destination: &dryRun,
		},
		&cli.StringFlag{
			Name:        "token",
			Usage:       "Confirmation token from a previous dry run, required to apply destructive transitions",
			Destination: &token,
		},
		&cli.IntFlag{
			Name:        "batch-limit",
			Usage:       "Maximum records to examine per state in one pass (0 uses the policy default)",
			Destination: &batchLimit,
		},
		&cli.StringFlag{
			Name:        "agent",
			Usage:       "Agent ID the sweep runs as",
			Value:       "operator",
			Sources:     cli.EnvVars("MNEMOSYNE_AGENT"),
			Destination: &agent,
		},
	)

	return &cli.Command{
		Name:  "sweep",
		Usage: "Run one lifecycle sweep pass against the store",
		Flags:   flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			logger := logging.Default()

			policy, err := policyCfg.Configure()
			if err != nil {
				return goerr.Wrap(err, "failed to load policy configuration")
			}

			repo, err := repoCfg.Configure(ctx)
			if err != nil {
				return goerr.Wrap(err, "failed to initialize repository")
			}
			defer func() {
				if err := repo.Close(); err != nil {
					logger.Error("failed to close repository", "error", err.Error())
				}
			}()

			uc, err := usecase.New(repo, usecase.WithPolicy(policy))
			if err != nil {
				return goerr.Wrap(err, "failed to initialize use cases")
			}

			report, err := uc.Lifecycle.Sweep(ctx, types.AgentID(agent), usecase.SweepOptions{
				DryRun:     dryRun,
				Token:      token,
				BatchLimit: batchLimit,
			})
			if err != nil {
				return goerr.Wrap(err, "sweep failed")
			}

			printSweepReport(report)
			return nil
		},
	}
}

func printSweepReport(report *model.SweepReport) {
	header := color.New(color.Bold).SprintFunc()
	destructive := color.New(color.FgRed).SprintFunc()
	transition := color.New(color.FgYellow).SprintFunc()
	ok := color.New(color.FgGreen).SprintFunc()

	mode := "applied"
	if report.DryRun {
		mode = "dry run"
	}
	fmt.Printf("%s (%s)\n", header("Lifecycle sweep"), mode)
	fmt.Printf("  examined: %d, transitions: %d, errors: %d, took: %s\n",
		report.Examined, len(report.Changes), len(report.Errors),
		report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))

	if len(report.Changes) == 0 {
		fmt.Printf("  %s\n", ok("nothing to do"))
		return
	}

	for _, change := range report.Changes {
		arrow := transition(fmt.Sprintf("%s -> %s", change.From, change.To))
		if change.Destructive() {
			arrow = destructive(fmt.Sprintf("%s -> %s", change.From, change.To))
		}
		fmt.Printf("  %s  %s  owner=%s  reason=%s\n", change.RecordID, arrow, change.AgentID, change.Reason)
	}

	for _, swErr := range report.Errors {
		fmt.Printf("  %s  %s\n", swErr.RecordID, destructive("error: "+swErr.Message))
	}

	if report.DryRun && report.Token != "" {
		fmt.Printf("\n%s destructive transitions pending, re-run with --token %s to apply\n",
			header("Note:"), report.Token)
	}
}
