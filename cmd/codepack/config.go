package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the codepack configuration file
// (~/.config/codepack/config.yaml). Numeric fields are pointers so we can
// distinguish "not set" from zero values.
type Config struct {
	Data         string `yaml:"data"`
	Tokenizer    string `yaml:"tokenizer"`
	ContentField string `yaml:"content_field"`
	IDField      string `yaml:"id_field"`

	SeqLength      *int64   `yaml:"seq_length"`
	NumOfSequences *int64   `yaml:"num_of_sequences"`
	CharsPerToken  *float64 `yaml:"chars_per_token"`
	FIMRate        *float64 `yaml:"fim_rate"`
	FIMSPMRate     *float64 `yaml:"fim_spm_rate"`
	TruncateOrPad  *bool    `yaml:"truncate_or_pad"`
	Seed           *uint64  `yaml:"seed"`

	ValidSize     *int64 `yaml:"valid_size"`
	ShuffleBuffer *int64 `yaml:"shuffle_buffer"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "codepack", "config.yaml")
}

// LoadConfig reads the config file. A missing file yields a zero Config.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		return Config{}, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Config{}, nil
	}
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return cfg, nil
}

// applyDatasetConfig applies config file defaults to dataset flags that
// were not set on the command line or through the environment.
func applyDatasetConfig(c *cli.Command, cfg Config) {
	if cfg.Data != "" && !c.IsSet("data") {
		dataPath = cfg.Data
	}
	if cfg.Tokenizer != "" && !c.IsSet("tokenizer") {
		tokenizerDir = cfg.Tokenizer
	}
	if cfg.ContentField != "" && !c.IsSet("content-field") {
		contentField = cfg.ContentField
	}
	if cfg.IDField != "" && !c.IsSet("id-field") {
		idField = cfg.IDField
	}
	if cfg.ValidSize != nil && !c.IsSet("valid-size") {
		validSize = *cfg.ValidSize
	}
	if cfg.ShuffleBuffer != nil && !c.IsSet("shuffle-buffer") {
		shuffleBuffer = *cfg.ShuffleBuffer
	}
}

// applyPipelineConfig is applyDatasetConfig plus the packing knobs.
func applyPipelineConfig(c *cli.Command, cfg Config) {
	applyDatasetConfig(c, cfg)
	if cfg.SeqLength != nil && !c.IsSet("seq-length") {
		seqLength = *cfg.SeqLength
	}
	if cfg.NumOfSequences != nil && !c.IsSet("num-sequences") {
		numOfSequences = *cfg.NumOfSequences
	}
	if cfg.CharsPerToken != nil && !c.IsSet("chars-per-token") {
		charsPerToken = *cfg.CharsPerToken
	}
	if cfg.FIMRate != nil && !c.IsSet("fim-rate") {
		fimRate = *cfg.FIMRate
	}
	if cfg.FIMSPMRate != nil && !c.IsSet("fim-spm-rate") {
		fimSPMRate = *cfg.FIMSPMRate
	}
	if cfg.TruncateOrPad != nil && !c.IsSet("truncate-or-pad") {
		truncateOrPad = *cfg.TruncateOrPad
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		seed = *cfg.Seed
	}
}

// applyServeConfig applies config file defaults to serve command variables.
func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyPipelineConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
