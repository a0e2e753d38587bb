package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/changegate/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "changegate.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "show",
				Usage:  "Show the effective configuration",
				Action: runConfigShow,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigShow(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Printf("gitlab.url: %s\n", cfg.GitLab.URL)
	fmt.Printf("gitlab.token: %s\n", maskToken(cfg.GitLab.Token))
	fmt.Printf("bundle_service.url: %s\n", cfg.BundleService.URL)
	fmt.Printf("bundle_service.token: %s\n", maskToken(cfg.BundleService.Token))
	fmt.Printf("gate.bot_username: %s\n", cfg.Gate.BotUsername)
	fmt.Printf("gate.good_to_test_approvers: %v\n", cfg.Gate.GoodToTestApprovers)
	fmt.Printf("gate.shard_timeout_seconds: %d\n", cfg.Gate.ShardTimeoutSeconds)
	return nil
}

func maskToken(token string) string {
	if token == "" {
		return "(unset)"
	}
	if len(token) <= 4 {
		return "****"
	}
	return "****" + token[len(token)-4:]
}
