package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/changegate/cmd"
)

const (
	version = "0.1.0"
)

func main() {
	app := &cli.App{
		Name:    "changegate",
		Usage:   "Change-control gate for configuration bundle merge requests",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Load configuration from `FILE`",
				Value:   "changegate.toml",
			},
		},
		Commands: []*cli.Command{
			cmd.GateCommand(),
			cmd.ShardDiffCommand(),
			cmd.ConfigCommand(),
		},
	}

	err := app.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
