package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/codepack/internal/logger"
	"github.com/samcharles93/codepack/internal/pipeline"
)

var (
	configFile string
	logLevel   string
	logFormat  string
	debug      bool

	tokenizerDir string
	dataPath     string
	contentField string
	idField      string

	seqLength      int64
	numOfSequences int64
	charsPerToken  float64
	fimRate        float64
	fimSPMRate     float64
	truncateOrPad  bool
	seed           uint64

	validSize     int64
	shuffleBuffer int64

	// fileConfig is loaded once by setup and applied per command.
	fileConfig Config
)

func env(name string) cli.ValueSourceChain {
	return cli.EnvVars("CODEPACK_" + name)
}

func rootFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config.yaml",
			Value:       configPath(),
			Sources:     env("CONFIG"),
			Destination: &configFile,
		},
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Sources:     env("LOG_LEVEL"),
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Sources:     env("LOG_FORMAT"),
			Destination: &logFormat,
		},
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
	}
}

func datasetFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "data",
			Aliases:     []string{"d"},
			Usage:       "JSONL file or directory of JSONL files",
			Sources:     env("DATA"),
			Destination: &dataPath,
		},
		&cli.StringFlag{
			Name:        "tokenizer",
			Aliases:     []string{"t"},
			Usage:       "directory containing tokenizer.json and tokenizer_config.json",
			Sources:     env("TOKENIZER"),
			Destination: &tokenizerDir,
		},
		&cli.StringFlag{
			Name:        "content-field",
			Usage:       "document column holding the source text",
			Value:       "content",
			Sources:     env("CONTENT_FIELD"),
			Destination: &contentField,
		},
		&cli.StringFlag{
			Name:        "id-field",
			Usage:       "document column used as the document id (string or number)",
			Sources:     env("ID_FIELD"),
			Destination: &idField,
		},
		&cli.Int64Flag{
			Name:        "valid-size",
			Usage:       "documents held out from the start of the stream for validation",
			Value:       4000,
			Sources:     env("VALID_SIZE"),
			Destination: &validSize,
		},
		&cli.Int64Flag{
			Name:        "shuffle-buffer",
			Usage:       "document shuffle buffer for the train split (0 disables)",
			Value:       5000,
			Sources:     env("SHUFFLE_BUFFER"),
			Destination: &shuffleBuffer,
		},
	}
}

func pipelineFlags() []cli.Flag {
	def := pipeline.DefaultConfig()
	return append(datasetFlags(),
		&cli.Int64Flag{
			Name:        "seq-length",
			Usage:       "tokens per packed example",
			Value:       int64(def.SeqLength),
			Sources:     env("SEQ_LENGTH"),
			Destination: &seqLength,
		},
		&cli.Int64Flag{
			Name:        "num-sequences",
			Usage:       "examples worth of text buffered per packing cycle",
			Value:       int64(def.NumOfSequences),
			Sources:     env("NUM_SEQUENCES"),
			Destination: &numOfSequences,
		},
		&cli.Float64Flag{
			Name:        "chars-per-token",
			Usage:       "estimated characters per token (see the ratio command)",
			Value:       def.CharsPerToken,
			Sources:     env("CHARS_PER_TOKEN"),
			Destination: &charsPerToken,
		},
		&cli.Float64Flag{
			Name:        "fim-rate",
			Usage:       "probability that a document is FIM-permuted",
			Value:       def.FIMRate,
			Sources:     env("FIM_RATE"),
			Destination: &fimRate,
		},
		&cli.Float64Flag{
			Name:        "fim-spm-rate",
			Usage:       "probability that a permutation uses SPM rather than PSM",
			Value:       def.FIMSPMRate,
			Sources:     env("FIM_SPM_RATE"),
			Destination: &fimSPMRate,
		},
		&cli.BoolFlag{
			Name:        "truncate-or-pad",
			Usage:       "keep permuted documents at their original token length",
			Sources:     env("TRUNCATE_OR_PAD"),
			Destination: &truncateOrPad,
		},
		&cli.Uint64Flag{
			Name:        "seed",
			Usage:       "random seed for shuffling and FIM",
			Sources:     env("SEED"),
			Destination: &seed,
		},
	)
}

// setup loads the config file and installs the logger in the context.
func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return ctx, err
	}
	fileConfig = cfg
	if cfg.LogLevel != "" && !cmd.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !cmd.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}

	level := logger.ParseLevel(logLevel)
	if debug {
		level = slog.LevelDebug
	}
	log := logger.NewFor(os.Stderr, logFormat, level)
	return logger.WithContext(ctx, log), nil
}

// pipelineConfig assembles a pipeline.Config from the parsed flags.
func pipelineConfig() (pipeline.Config, error) {
	cfg := pipeline.Config{
		SeqLength:      int(seqLength),
		NumOfSequences: int(numOfSequences),
		CharsPerToken:  charsPerToken,
		ContentField:   contentField,
		FIMRate:        fimRate,
		FIMSPMRate:     fimSPMRate,
		TruncateOrPad:  truncateOrPad,
		Seed:           seed,
	}
	return cfg, cfg.Validate()
}

func requirePaths() error {
	if dataPath == "" {
		return fmt.Errorf("--data is required")
	}
	if tokenizerDir == "" {
		return fmt.Errorf("--tokenizer is required")
	}
	return nil
}
