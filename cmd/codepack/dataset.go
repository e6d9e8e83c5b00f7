package main

import (
	"fmt"

	"github.com/samcharles93/codepack/internal/api"
	"github.com/samcharles93/codepack/internal/dataset"
	"github.com/samcharles93/codepack/internal/tokenizer"
)

type splitName string

const (
	splitTrain splitName = "train"
	splitValid splitName = "valid"
)

func parseSplit(s string) (splitName, error) {
	switch splitName(s) {
	case splitTrain, splitValid:
		return splitName(s), nil
	}
	return "", fmt.Errorf("unknown split %q (want train or valid)", s)
}

func (s splitName) source(sources api.Sources) (dataset.Source, error) {
	if s == splitValid {
		if sources.Valid == nil {
			return nil, fmt.Errorf("validation split is empty; set --valid-size")
		}
		return sources.Valid, nil
	}
	return sources.TrainStream(seed), nil
}

// openSources splits the dataset into a held-out validation prefix and a
// training remainder that is shuffled per seed.
func openSources() (api.Sources, error) {
	src, err := dataset.OpenPath(dataPath, idField)
	if err != nil {
		return api.Sources{}, err
	}
	var sources api.Sources
	if validSize > 0 {
		sources.Valid = dataset.Take(src, int(validSize))
		src = dataset.Skip(src, int(validSize))
	}
	sources.Train = src
	sources.ShuffleBuffer = int(shuffleBuffer)
	return sources, nil
}

func loadTokenizer() (*tokenizer.BPE, error) {
	tok, err := tokenizer.LoadDir(tokenizerDir)
	if err != nil {
		return nil, fmt.Errorf("load tokenizer: %w", err)
	}
	return tok, nil
}
