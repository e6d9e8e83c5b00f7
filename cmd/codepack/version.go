package main

import (
	"context"
	"fmt"
	"runtime"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/codepack/internal/version"
)

func versionCmd() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Print version information",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			info := version.Resolve()
			fmt.Printf("codepack %s\n", info.Version)
			if info.Commit != "" {
				fmt.Printf("  commit:     %s\n", info.Commit)
			}
			if info.BuildTime != "" {
				fmt.Printf("  built:      %s\n", info.BuildTime)
			}
			fmt.Printf("  go:         %s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
			return nil
		},
	}
}
