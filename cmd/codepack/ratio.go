package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/codepack/internal/logger"
	"github.com/samcharles93/codepack/internal/ratio"
)

func ratioCmd() *cli.Command {
	var samples int64

	return &cli.Command{
		Name:  "ratio",
		Usage: "Estimate the characters-per-token ratio of the training split",
		Flags: append(datasetFlags(),
			&cli.Int64Flag{
				Name:        "samples",
				Usage:       "documents to sample",
				Value:       ratio.DefaultSampleSize,
				Destination: &samples,
			},
			&cli.Uint64Flag{
				Name:        "seed",
				Usage:       "shuffle seed for the training split",
				Sources:     env("SEED"),
				Destination: &seed,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyDatasetConfig(cmd, fileConfig)
			if fileConfig.Seed != nil && !cmd.IsSet("seed") {
				seed = *fileConfig.Seed
			}
			if err := requirePaths(); err != nil {
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
			log.Debug("sampling documents", "data", dataPath, "samples", samples)
			res, err := ratio.Estimate(ctx, sources.TrainStream(seed), tok, contentField, int(samples))
			if err != nil {
				return err
			}
			log.Info("sampled", "documents", res.Documents, "chars", res.Chars, "tokens", res.Tokens)
			fmt.Printf("The character to token ratio of the dataset is: %.2f\n", res.Ratio)
			return nil
		},
	}
}
