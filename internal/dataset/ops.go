package dataset

import (
	"context"
	"io"
	"math/rand/v2"
)

// Take yields at most the first n documents of src.
func Take(src Source, n int) Source {
	return Func(func(ctx context.Context) (Iterator, error) {
		it, err := src.Open(ctx)
		if err != nil {
			return nil, err
		}
		return &takeIterator{Iterator: it, left: n}, nil
	})
}

type takeIterator struct {
	Iterator
	left int
}

func (it *takeIterator) Next(ctx context.Context) (Document, error) {
	if it.left <= 0 {
		return Document{}, io.EOF
	}
	d, err := it.Iterator.Next(ctx)
	if err != nil {
		return Document{}, err
	}
	it.left--
	return d, nil
}

// Skip drops the first n documents of src.
func Skip(src Source, n int) Source {
	return Func(func(ctx context.Context) (Iterator, error) {
		it, err := src.Open(ctx)
		if err != nil {
			return nil, err
		}
		return &skipIterator{Iterator: it, skip: n}, nil
	})
}

type skipIterator struct {
	Iterator
	skip int
}

func (it *skipIterator) Next(ctx context.Context) (Document, error) {
	for it.skip > 0 {
		if _, err := it.Iterator.Next(ctx); err != nil {
			return Document{}, err
		}
		it.skip--
	}
	return it.Iterator.Next(ctx)
}

// Shuffle approximates a shuffle of src with a fixed-size buffer: once the
// buffer is full each incoming document replaces a randomly chosen buffered
// one, which is emitted. Every Open replays the same order for a given seed.
func Shuffle(src Source, bufferSize int, seed uint64) Source {
	if bufferSize <= 1 {
		return src
	}
	return Func(func(ctx context.Context) (Iterator, error) {
		it, err := src.Open(ctx)
		if err != nil {
			return nil, err
		}
		return &shuffleIterator{
			Iterator: it,
			rng:      rand.New(rand.NewPCG(seed, 0x5eed)),
			buf:      make([]Document, 0, bufferSize),
			size:     bufferSize,
		}, nil
	})
}

type shuffleIterator struct {
	Iterator
	rng     *rand.Rand
	buf     []Document
	size    int
	drained bool
}

func (it *shuffleIterator) Next(ctx context.Context) (Document, error) {
	for !it.drained {
		d, err := it.Iterator.Next(ctx)
		if err == io.EOF {
			it.drained = true
			it.rng.Shuffle(len(it.buf), func(i, j int) {
				it.buf[i], it.buf[j] = it.buf[j], it.buf[i]
			})
			break
		}
		if err != nil {
			return Document{}, err
		}
		if len(it.buf) < it.size {
			it.buf = append(it.buf, d)
			continue
		}
		i := it.rng.IntN(len(it.buf))
		out := it.buf[i]
		it.buf[i] = d
		return out, nil
	}
	if len(it.buf) == 0 {
		return Document{}, io.EOF
	}
	out := it.buf[len(it.buf)-1]
	it.buf = it.buf[:len(it.buf)-1]
	return out, nil
}
