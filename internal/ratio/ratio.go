// Package ratio estimates the average number of characters per token of a
// dataset, the figure the pipeline uses to size its raw buffers.
package ratio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/samcharles93/codepack/internal/dataset"
	"github.com/samcharles93/codepack/internal/tokenizer"
)

// DefaultSampleSize is the number of documents sampled when n <= 0.
const DefaultSampleSize = 400

// ErrEmptySample is returned when the sampled documents produce no tokens.
var ErrEmptySample = errors.New("sample produced no tokens")

type Result struct {
	Documents int     `json:"documents"`
	Chars     int     `json:"chars"`
	Tokens    int     `json:"tokens"`
	Ratio     float64 `json:"chars_per_token"`
}

// Estimate tokenizes the first n documents of src one at a time and
// returns total characters over total tokens. Characters are Unicode code
// points.
func Estimate(ctx context.Context, src dataset.Source, tok tokenizer.Tokenizer, field string, n int) (Result, error) {
	if n <= 0 {
		n = DefaultSampleSize
	}
	it, err := src.Open(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = it.Close() }()

	var res Result
	for res.Documents < n {
		doc, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return res, err
		}
		text, ok := doc.Text(field)
		if !ok {
			return res, fmt.Errorf("document %s has no field %q", doc.ID, field)
		}
		ids, err := tok.Encode(text)
		if err != nil {
			return res, fmt.Errorf("encode %s: %w", doc.ID, err)
		}
		res.Documents++
		res.Chars += utf8.RuneCountInString(text)
		res.Tokens += len(ids)
	}
	if res.Tokens == 0 {
		return res, ErrEmptySample
	}
	res.Ratio = float64(res.Chars) / float64(res.Tokens)
	return res, nil
}
