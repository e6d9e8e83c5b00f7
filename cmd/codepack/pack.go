package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/samcharles93/codepack/internal/logger"
	"github.com/samcharles93/codepack/internal/pipeline"
	"github.com/samcharles93/codepack/internal/shard"
)

// packJob is one split being written to one shard.
type packJob struct {
	split    splitName
	out      string
	limit    int
	pipeline *pipeline.Pipeline
	written  int
}

func packCmd() *cli.Command {
	var (
		outPath  string
		validOut string
		split    string
		count    int64
		infinite bool
		every    int64
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Pack a dataset split into a shard of fixed-length examples",
		Flags: append(pipelineFlags(),
			&cli.StringFlag{
				Name:        "out",
				Aliases:     []string{"o"},
				Usage:       "output shard path",
				Required:    true,
				Destination: &outPath,
			},
			&cli.StringFlag{
				Name:        "valid-out",
				Usage:       "also pack the validation split to this path, concurrently",
				Destination: &validOut,
			},
			&cli.StringFlag{
				Name:        "split",
				Usage:       "dataset split to pack (train, valid)",
				Value:       string(splitTrain),
				Destination: &split,
			},
			&cli.Int64Flag{
				Name:        "count",
				Aliases:     []string{"n"},
				Usage:       "stop after this many examples (0 packs the whole split)",
				Destination: &count,
			},
			&cli.BoolFlag{
				Name:        "infinite",
				Usage:       "restart the split when it is exhausted (requires --count)",
				Destination: &infinite,
			},
			&cli.Int64Flag{
				Name:        "progress-every",
				Usage:       "log progress every N examples (0 disables)",
				Value:       10000,
				Destination: &every,
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyPipelineConfig(cmd, fileConfig)
			if err := requirePaths(); err != nil {
				return err
			}
			if infinite && count <= 0 {
				return fmt.Errorf("--infinite requires --count")
			}
			sp, err := parseSplit(split)
			if err != nil {
				return err
			}
			if validOut != "" && sp == splitValid {
				return fmt.Errorf("--valid-out only applies when packing the train split")
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

			log := logger.FromContext(ctx).With("run_id", uuid.NewString())
			newJob := func(s splitName, out string, limit int, infinite bool) (*packJob, error) {
				src, err := s.source(sources)
				if err != nil {
					return nil, err
				}
				c := cfg
				c.Infinite = infinite
				p, err := pipeline.New(tok, src, c, log.With("split", string(s)))
				if err != nil {
					return nil, err
				}
				return &packJob{split: s, out: filepath.Clean(out), limit: limit, pipeline: p}, nil
			}

			primary, err := newJob(sp, outPath, int(count), infinite)
			if err != nil {
				return err
			}
			jobs := []*packJob{primary}
			if validOut != "" {
				valid, err := newJob(splitValid, validOut, 0, false)
				if err != nil {
					return err
				}
				jobs = append(jobs, valid)
			}
			log.Info("packing", "data", dataPath, "seq_length", cfg.SeqLength, "fim", primary.pipeline.FIMEnabled(), "shards", len(jobs))

			start := time.Now()
			g, gctx := errgroup.WithContext(ctx)
			for _, job := range jobs {
				g.Go(func() error {
					n, err := writeShard(gctx, job.pipeline, job.out, job.limit, int(every), log.With("split", string(job.split)))
					job.written = n
					if err != nil {
						return fmt.Errorf("pack %s: %w", job.split, err)
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			log.Info("pack complete", "elapsed", time.Since(start))
			printPackSummary(os.Stdout, jobs)
			return nil
		},
	}
}

// writeShard drains p into a shard at path. limit <= 0 drains everything.
func writeShard(ctx context.Context, p *pipeline.Pipeline, path string, limit, every int, log logger.Logger) (int, error) {
	w, err := shard.Create(path, p.Config().SeqLength)
	if err != nil {
		return 0, err
	}
	for ex, err := range p.Examples(ctx) {
		if err != nil {
			w.Abort()
			return w.Count(), err
		}
		if err := w.Write(ex.InputIDs); err != nil {
			w.Abort()
			return w.Count(), err
		}
		if every > 0 && w.Count()%every == 0 {
			log.Info("progress", "examples", w.Count())
		}
		if limit > 0 && w.Count() >= limit {
			break
		}
	}
	return w.Count(), w.Close()
}

func printPackSummary(out io.Writer, jobs []*packJob) {
	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"SPLIT", "SHARD", "EXAMPLES", "DOCUMENTS", "PSM", "SPM", "ABANDONED", "DROPPED TOKENS"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	for _, job := range jobs {
		st := job.pipeline.Stats()
		table.Append([]string{
			string(job.split),
			job.out,
			humanize.Comma(int64(job.written)),
			humanize.Comma(st.Documents),
			humanize.Comma(st.PSM),
			humanize.Comma(st.SPM),
			humanize.Comma(st.Abandoned),
			humanize.Comma(st.DroppedTokens),
		})
	}
	table.Render()
}
