// Package pipeline turns a document stream into fixed-length training
// examples.
//
// Each cycle fills a raw buffer of documents, tokenizes it as one batch,
// optionally applies FIM permutations, packs the sequences into windows
// separated by the end-of-document token, shuffles the windows and emits
// them. A single seeded generator drives every random decision, so a
// Pipeline with the same source and Config always yields the same stream.
package pipeline

import (
	"context"
	"fmt"
	"iter"
	"math/rand/v2"
	"slices"
	"sync/atomic"

	"github.com/samcharles93/codepack/internal/dataset"
	"github.com/samcharles93/codepack/internal/fim"
	"github.com/samcharles93/codepack/internal/logger"
	"github.com/samcharles93/codepack/internal/packer"
	"github.com/samcharles93/codepack/internal/tokenizer"
)

// Example is one packed training example. Labels is a separate slice equal
// in value to InputIDs.
type Example struct {
	InputIDs []int `json:"input_ids"`
	Labels   []int `json:"labels"`
}

// Encoder is what the pipeline needs from a tokenizer.
type Encoder interface {
	tokenizer.Tokenizer
	tokenizer.Vocabulary
}

// Stats is a snapshot of a Pipeline's counters, summed over every
// iteration of Examples.
type Stats struct {
	Documents     int64 `json:"documents"`
	Buffers       int64 `json:"buffers"`
	Reopens       int64 `json:"reopens"`
	PSM           int64 `json:"psm"`
	SPM           int64 `json:"spm"`
	Abandoned     int64 `json:"abandoned"`
	DroppedTokens int64 `json:"dropped_tokens"`
	Examples      int64 `json:"examples"`
}

type counters struct {
	documents, buffers, reopens atomic.Int64
	psm, spm, abandoned         atomic.Int64
	dropped, examples           atomic.Int64
}

// Pipeline turns a document source into fixed-length training examples.
type Pipeline struct {
	enc    Encoder
	src    dataset.Source
	cfg    Config
	eos    int
	tokens fim.TokenSet
	opts   fim.Options
	log    logger.Logger

	stats counters
}

// New validates cfg and resolves the FIM tokens once. When the tokenizer
// has no FIM tokens the pipeline runs with a FIM rate of zero.
func New(enc Encoder, src dataset.Source, cfg Config, log logger.Logger) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if enc.EOSID() < 0 {
		return nil, fmt.Errorf("%w: tokenizer has no end-of-document token", ErrInvalidConfig)
	}
	if log == nil {
		log = logger.Discard()
	}
	p := &Pipeline{
		enc: enc,
		src: src,
		cfg: cfg,
		eos: enc.EOSID(),
		log: log.With("component", "pipeline"),
		opts: fim.Options{
			Rate:          cfg.FIMRate,
			SPMRate:       cfg.FIMSPMRate,
			TruncateOrPad: cfg.TruncateOrPad,
		},
	}
	if cfg.FIMRate > 0 {
		tokens, ok := fim.Resolve(enc)
		if !ok {
			p.log.Warn("FIM is not supported by tokenizer, disabling FIM")
			p.opts.Rate = 0
		}
		p.tokens = tokens
	}
	return p, nil
}

// Config returns the effective configuration. FIMRate is zero when FIM was
// disabled at construction.
func (p *Pipeline) Config() Config {
	cfg := p.cfg
	cfg.FIMRate = p.opts.Rate
	return cfg
}

// FIMEnabled reports whether sequences may be FIM-permuted.
func (p *Pipeline) FIMEnabled() bool { return p.opts.Rate > 0 }

// Stats returns a snapshot of the counters. It is safe to call while
// Examples is running.
func (p *Pipeline) Stats() Stats {
	c := &p.stats
	return Stats{
		Documents:     c.documents.Load(),
		Buffers:       c.buffers.Load(),
		Reopens:       c.reopens.Load(),
		PSM:           c.psm.Load(),
		SPM:           c.spm.Load(),
		Abandoned:     c.abandoned.Load(),
		DroppedTokens: c.dropped.Load(),
		Examples:      c.examples.Load(),
	}
}

// Examples streams packed examples. Every call restarts from the beginning
// of the source with a freshly seeded generator. Iteration stops at the
// first error, which is yielded once, or when ctx is done. In infinite mode
// the sequence only ends on error, cancellation or when the consumer stops
// ranging.
func (p *Pipeline) Examples(ctx context.Context) iter.Seq2[Example, error] {
	return func(yield func(Example, error) bool) {
		rng := rand.New(rand.NewPCG(p.cfg.Seed, 0))
		acc := newAccumulator(p.src, p.cfg, &p.stats)
		defer func() {
			if err := acc.closeIter(); err != nil {
				p.log.Warn("close source", "error", err)
			}
		}()

		for !acc.done {
			if err := ctx.Err(); err != nil {
				yield(Example{}, err)
				return
			}
			texts, chars, err := acc.fill(ctx)
			if err != nil {
				yield(Example{}, err)
				return
			}
			windows, err := p.pack(texts, rng)
			if err != nil {
				yield(Example{}, err)
				return
			}
			rng.Shuffle(len(windows), func(i, j int) {
				windows[i], windows[j] = windows[j], windows[i]
			})
			p.stats.buffers.Add(1)
			p.log.Debug("buffer packed", "documents", len(texts), "chars", chars, "windows", len(windows))

			for _, w := range windows {
				if err := ctx.Err(); err != nil {
					yield(Example{}, err)
					return
				}
				p.stats.examples.Add(1)
				if !yield(Example{InputIDs: w, Labels: slices.Clone(w)}, nil) {
					return
				}
			}
		}
	}
}

// pack tokenizes one raw buffer and returns its windows in stream order.
func (p *Pipeline) pack(texts []string, rng *rand.Rand) ([][]int, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	seqs, err := tokenizer.EncodeBatch(p.enc, texts)
	if err != nil {
		return nil, fmt.Errorf("tokenize buffer: %w", err)
	}
	if p.opts.Rate > 0 {
		for i, seq := range seqs {
			out, outcome := fim.Permute(seq, rng, p.tokens, p.opts)
			switch outcome {
			case fim.PSM:
				p.stats.psm.Add(1)
			case fim.SPM:
				p.stats.spm.Add(1)
			case fim.Abandoned:
				p.stats.abandoned.Add(1)
				p.log.Debug("fim truncation abandoned", "tokens", len(seq))
			}
			seqs[i] = out
		}
	}
	windows, dropped := packer.Pack(seqs, p.eos, p.cfg.SeqLength)
	p.stats.dropped.Add(int64(dropped))
	return windows, nil
}

// Collect drains up to n examples. It is a convenience for tests and
// tools that want a slice.
func Collect(ctx context.Context, p *Pipeline, n int) ([]Example, error) {
	var out []Example
	if n == 0 {
		return out, nil
	}
	for ex, err := range p.Examples(ctx) {
		if err != nil {
			return out, err
		}
		out = append(out, ex)
		if n > 0 && len(out) >= n {
			break
		}
	}
	return out, nil
}
