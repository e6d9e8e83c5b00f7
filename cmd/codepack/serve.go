package main

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/codepack/internal/api"
	"github.com/samcharles93/codepack/internal/logger"
)

func serveCmd() *cli.Command {
	var (
		addr        string
		readTimeout time.Duration
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Stream packed examples over HTTP",
		Flags: append(pipelineFlags(),
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8080",
				Sources:     env("ADDR"),
				Destination: &addr,
			},
			&cli.DurationFlag{
				Name:        "read-timeout",
				Usage:       "read header timeout",
				Value:       30 * time.Second,
				Destination: &readTimeout,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyServeConfig(cmd, fileConfig, &addr)
			if err := requirePaths(); err != nil {
				return err
			}
			cfg, err := pipelineConfig()
			if err != nil {
				return err
			}
			sources, err := openSources()
			if err != nil {
				return err
			}
			tok, err := loadTokenizer()
			if err != nil {
				return err
			}

			log := logger.FromContext(ctx)
			server := api.NewServer(tok, sources, cfg, log)
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)
			log.Info("starting server", "address", addr, "data", dataPath)
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = readTimeout
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
