// Package main is the entry point for the prefix-fallback gateway. The serve
// command loads configuration, assembles the handler tree, starts the HTTP
// server, and shuts down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"github.com/dskow/prefix-fallback/internal/config"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "0.1.0"

const (
	appName           = "prefix-fallback"
	defaultConfigPath = "configs/gateway.yaml"
)

const description = `Retries requests that match no route once, with a configured
prefix prepended to the path.

Configuration (configs/gateway.yaml):
   retry:
     prefix: "api"     # prepended to unmatched paths
     enabled: true     # install the fallback stage
     log: true         # log retries and failed retries

Example:
   Request: GET /users
   Not found, retrying with: GET /api/users`

func main() {
	// A missing .env file is normal outside development.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := newCommand(os.Stdout, os.Stderr).Run(ctx, os.Args)
	stop()
	if err == nil {
		return
	}

	var exit cli.ExitCoder
	if errors.As(err, &exit) {
		if msg := exit.Error(); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(exit.ExitCode())
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(1)
}

func configFlag() *cli.StringFlag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to configuration file",
		Value:   defaultConfigPath,
		Sources: cli.EnvVars(config.EnvPrefix + "CONFIG"),
	}
}

// newCommand builds the command tree. Errors are returned from Run rather
// than exiting so main decides the status code.
func newCommand(stdout, stderr io.Writer) *cli.Command {
	return &cli.Command{
		Name:        appName,
		Usage:       "HTTP gateway with a single-retry prefix fallback for unmatched routes",
		Version:     version,
		Description: description,
		Writer:      stdout,
		ErrWriter:   stderr,
		ExitErrHandler: func(context.Context, *cli.Command, error) {
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the gateway",
				Flags:  []cli.Flag{configFlag()},
				Action: serveAction,
			},
			{
				Name:  "version",
				Usage: "print the version",
				Action: func(_ context.Context, cmd *cli.Command) error {
					cli.ShowVersion(cmd.Root())
					return nil
				},
			},
			{
				Name:   "config",
				Usage:  "print the effective retry configuration",
				Flags:  []cli.Flag{configFlag()},
				Action: configAction,
			},
		},
		Action: func(_ context.Context, cmd *cli.Command) error {
			if name := cmd.Args().First(); name != "" {
				fmt.Fprintf(cmd.Root().ErrWriter, "Unknown command: %s\n", name)
				fmt.Fprintf(cmd.Root().ErrWriter, "Run '%s help' for usage information\n", appName)
				return cli.Exit("", 1)
			}
			return cli.ShowAppHelp(cmd)
		},
	}
}

func configAction(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return cli.Exit(fmt.Sprintf("loading config: %v", err), 1)
	}

	logger := "disabled"
	if cfg.Retry.LogEnabled() {
		logger = "slog (" + cfg.Logging.Output + ")"
	}

	w := cmd.Root().Writer
	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintf(w, "  Prefix: %q\n", cfg.Retry.Prefix)
	fmt.Fprintf(w, "  Enabled: %t\n", cfg.Retry.IsEnabled())
	fmt.Fprintf(w, "  Logger: %s\n", logger)
	fmt.Fprintf(w, "  Routes: %d\n", len(cfg.Routes))
	for _, warning := range cfg.Warnings {
		fmt.Fprintf(w, "  Warning: %s\n", warning)
	}
	return nil
}
