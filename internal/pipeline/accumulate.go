package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"

	"github.com/samcharles93/codepack/internal/dataset"
)

var (
	// ErrEmptySource is returned in infinite mode when a full pass over the
	// source contributes no characters, so a buffer could never fill.
	ErrEmptySource = errors.New("source yielded no content")
	// ErrMissingField is returned when a document lacks the content field.
	ErrMissingField = errors.New("document is missing content field")
)

// accumulator pulls documents into raw buffers. It is the only place that
// observes the end of the source.
type accumulator struct {
	src      dataset.Source
	field    string
	budget   float64
	infinite bool
	stats    *counters

	it        dataset.Iterator
	passChars int
	done      bool
}

func newAccumulator(src dataset.Source, cfg Config, stats *counters) *accumulator {
	return &accumulator{
		src:      src,
		field:    cfg.ContentField,
		budget:   cfg.BufferChars(),
		infinite: cfg.Infinite,
		stats:    stats,
	}
}

// fill returns the next raw buffer. In finite mode the final buffer may be
// short or empty, after which done reports true.
func (a *accumulator) fill(ctx context.Context) ([]string, int, error) {
	var (
		buf   []string
		chars int
	)
	for float64(chars) < a.budget {
		if a.it == nil {
			it, err := a.src.Open(ctx)
			if err != nil {
				return nil, 0, fmt.Errorf("open source: %w", err)
			}
			a.it = it
			a.passChars = 0
		}

		doc, err := a.it.Next(ctx)
		if errors.Is(err, io.EOF) {
			empty := a.passChars == 0
			if err := a.closeIter(); err != nil {
				return nil, 0, err
			}
			if !a.infinite {
				a.done = true
				break
			}
			if empty {
				return nil, 0, ErrEmptySource
			}
			a.stats.reopens.Add(1)
			continue
		}
		if err != nil {
			return nil, 0, err
		}

		text, ok := doc.Text(a.field)
		if !ok {
			return nil, 0, fmt.Errorf("%w %q: %s", ErrMissingField, a.field, doc.ID)
		}
		n := utf8.RuneCountInString(text)
		buf = append(buf, text)
		chars += n
		a.passChars += n
		a.stats.documents.Add(1)
	}
	return buf, chars, nil
}

func (a *accumulator) closeIter() error {
	if a.it == nil {
		return nil
	}
	err := a.it.Close()
	a.it = nil
	return err
}
