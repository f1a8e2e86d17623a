package main

import (
	"context"
	"fmt"
	"os"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/tanda/internal"
)

const version = "0.2.0"

func main() {
	cmd := &cli.Command{
		Name:    "td",
		Usage:   "Persistent test registry for AI-orchestrated test suites",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "dir",
				Usage:   "Registry directory",
				Value:   internal.DefaultRegistryDir,
				Sources: cli.EnvVars("TD_DIR"),
			},
		},
		Commands: []*cli.Command{
			initCommand(),
			quickstartCommand(),
			createCommand(),
			listCommand(),
			showCommand(),
			updateCommand(),
			depCommand(),
			readyCommand(),
			discoverCommand(),
			traceCommand(),
			generateCommand(),
			syncCommand(),
			daemonCommand(),
			mcpCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "%std: %v%s\n", red, err, reset)
		os.Exit(1)
	}
}
