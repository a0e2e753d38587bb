package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/changegate/internal/config"
	"github.com/changegate/internal/gate"
	"github.com/changegate/internal/logging"
)

// GateCommand returns the gate command
func GateCommand() *cli.Command {
	return &cli.Command{
		Name:  "gate",
		Usage: "Evaluate change coverage and approvals for a merge request",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "dry-run",
				Aliases: []string{"d"},
				Usage:   "Evaluate without posting the report or updating labels",
			},
			&cli.StringFlag{
				Name:  "diff-file",
				Usage: "Read the bundle diff document from `FILE` instead of the bundle service",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "Enable verbose output for this command",
			},
		},
		ArgsUsage: "MR_URL",
		Action:    runGate,
	}
}

func runGate(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("missing required argument: MR URL")
	}
	mrURL := c.Args().Get(0)
	logging.Setup(c.Bool("verbose"))

	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	service, err := gate.NewService(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	result, err := service.Run(ctx, mrURL, c.String("diff-file"), c.Bool("dry-run"))
	if err != nil {
		return err
	}

	fmt.Print(result.Report.Table())
	for _, actor := range result.GoodToTest {
		fmt.Printf("good-to-test admitted for %s\n", actor)
	}
	return nil
}
