package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"
)

func main() {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	app := &cli.Command{
		Name:   "codepack",
		Usage:  "Pack source-code datasets into fixed-length FIM training sequences",
		Flags:  rootFlags(),
		Before: setup,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return cli.ShowAppHelp(cmd)
		},
		Commands: []*cli.Command{
			packCmd(),
			ratioCmd(),
			serveCmd(),
			inspectCmd(),
			versionCmd(),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := app.Run(ctx, os.Args)
	stop()
	if err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
