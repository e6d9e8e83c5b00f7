// Package dataset provides the upstream document streams read by the
// packing pipeline, plus the operators used to carve train and validation
// ranges out of a single stream.
package dataset

import (
	"context"
	"io"
	"strconv"
)

// Document is one raw record. Fields holds the record's string columns.
type Document struct {
	ID     string
	Fields map[string]string
}

// Text returns the named column.
func (d Document) Text(field string) (string, bool) {
	s, ok := d.Fields[field]
	return s, ok
}

// Iterator pulls documents sequentially. Next returns io.EOF once the
// stream is exhausted.
type Iterator interface {
	Next(ctx context.Context) (Document, error)
	Close() error
}

// Source can be iterated any number of times, each Open starting from the
// beginning of the underlying data.
type Source interface {
	Open(ctx context.Context) (Iterator, error)
}

// Memory is a Source over a fixed slice of documents.
type Memory struct {
	docs []Document
}

func NewMemory(docs []Document) *Memory {
	return &Memory{docs: docs}
}

// FromTexts builds a Memory source with one document per text, each
// stored under field.
func FromTexts(field string, texts ...string) *Memory {
	docs := make([]Document, len(texts))
	for i, text := range texts {
		docs[i] = Document{
			ID:     "doc-" + strconv.Itoa(i),
			Fields: map[string]string{field: text},
		}
	}
	return NewMemory(docs)
}

func (m *Memory) Len() int { return len(m.docs) }

func (m *Memory) Open(context.Context) (Iterator, error) {
	return &memoryIterator{docs: m.docs}, nil
}

type memoryIterator struct {
	docs []Document
	pos  int
}

func (it *memoryIterator) Next(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	if it.pos >= len(it.docs) {
		return Document{}, io.EOF
	}
	d := it.docs[it.pos]
	it.pos++
	return d, nil
}

func (it *memoryIterator) Close() error { return nil }

// Func adapts a function to the Source interface.
type Func func(ctx context.Context) (Iterator, error)

func (f Func) Open(ctx context.Context) (Iterator, error) { return f(ctx) }

// Collect drains up to limit documents from src. A negative limit drains
// the whole stream.
func Collect(ctx context.Context, src Source, limit int) ([]Document, error) {
	it, err := src.Open(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = it.Close() }()

	var out []Document
	for limit < 0 || len(out) < limit {
		d, err := it.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
		out = append(out, d)
	}
	return out, nil
}
