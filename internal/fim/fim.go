// Package fim implements fill-in-the-middle permutations of token
// sequences.
//
// A permuted sequence is cut at two random points into prefix, middle and
// suffix and rearranged around three marker tokens so that the middle span
// comes last:
//
//	PSM: <pre> prefix <suf> suffix <mid> middle
//	SPM: <pre> <suf> suffix <mid> prefix middle
//
// All randomness comes from the *rand.Rand passed by the caller.
package fim

import (
	"math/rand/v2"
	"slices"
)

// Outcome describes what Permute did to a sequence.
type Outcome uint8

const (
	Unchanged Outcome = iota
	PSM
	SPM
	// Abandoned means the sequence was selected for FIM but its suffix was
	// too short to absorb truncation, so it was returned as-is.
	Abandoned
)

func (o Outcome) String() string {
	switch o {
	case PSM:
		return "psm"
	case SPM:
		return "spm"
	case Abandoned:
		return "abandoned"
	default:
		return "unchanged"
	}
}

// Permuted reports whether the output differs in layout from the input.
func (o Outcome) Permuted() bool { return o == PSM || o == SPM }

// Options control how often and how sequences are permuted.
type Options struct {
	// Rate is the probability that a sequence is permuted at all.
	Rate float64
	// SPMRate is the probability that a permuted sequence uses SPM.
	SPMRate float64
	// TruncateOrPad keeps the output length equal to the input length by
	// trimming or padding the suffix to account for the three markers.
	TruncateOrPad bool
}

// Permute applies a FIM transformation to seq with probability opts.Rate.
// When the sequence is left unchanged the returned slice is seq itself;
// otherwise it is newly allocated.
func Permute(seq []int, rng *rand.Rand, tok TokenSet, opts Options) ([]int, Outcome) {
	if !bernoulli(rng, opts.Rate) {
		return seq, Unchanged
	}

	b0 := rng.IntN(len(seq) + 1)
	b1 := rng.IntN(len(seq) + 1)
	if b0 > b1 {
		b0, b1 = b1, b0
	}
	prefix := seq[:b0]
	middle := seq[b0:b1]
	suffix := seq[b1:]

	if opts.TruncateOrPad {
		diff := len(prefix) + len(middle) + len(suffix) + 3 - len(seq)
		switch {
		case diff > 0:
			if len(suffix) <= diff {
				return seq, Abandoned
			}
			suffix = suffix[:len(suffix)-diff]
		case diff < 0:
			suffix = append(slices.Clip(suffix), repeat(tok.Pad, -diff)...)
		}
	}

	out := make([]int, 0, len(prefix)+len(middle)+len(suffix)+3)
	if bernoulli(rng, opts.SPMRate) {
		out = append(out, tok.Prefix, tok.Suffix)
		out = append(out, suffix...)
		out = append(out, tok.Middle)
		out = append(out, prefix...)
		out = append(out, middle...)
		return out, SPM
	}
	out = append(out, tok.Prefix)
	out = append(out, prefix...)
	out = append(out, tok.Suffix)
	out = append(out, suffix...)
	out = append(out, tok.Middle)
	out = append(out, middle...)
	return out, PSM
}

// bernoulli draws one trial; p <= 0 never succeeds and p >= 1 always does.
func bernoulli(rng *rand.Rand, p float64) bool {
	return rng.Float64() < p
}

func repeat(v, n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = v
	}
	return out
}
