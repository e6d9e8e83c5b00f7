package shard

import (
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/samcharles93/codepack/internal/mapfile"
)

// Reader gives random access to the examples of a shard.
type Reader struct {
	file   *mapfile.File
	header Header
	body   []byte
	count  int
}

func Open(path string) (*Reader, error) {
	f, err := mapfile.Open(path)
	if err != nil {
		return nil, err
	}
	r, err := newReader(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func newReader(f *mapfile.File) (*Reader, error) {
	h, err := decodeHeader(f.Data)
	if err != nil {
		return nil, err
	}
	body := f.Data[HeaderSize:]
	stride := int(h.SeqLength) * int(h.Width)
	if len(body)%stride != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(body)%stride)
	}
	return &Reader{file: f, header: h, body: body, count: len(body) / stride}, nil
}

func (r *Reader) Header() Header { return r.header }
func (r *Reader) Len() int       { return r.count }
func (r *Reader) SeqLength() int { return int(r.header.SeqLength) }

// Mapped reports whether the shard is served from a memory mapping.
func (r *Reader) Mapped() bool { return r.file.Mapped() }

// Example decodes example i.
func (r *Reader) Example(i int) ([]int, error) {
	if i < 0 || i >= r.count {
		return nil, fmt.Errorf("%w: %d of %d", ErrIndexRange, i, r.count)
	}
	n := r.SeqLength()
	raw := r.body[i*n*4 : (i+1)*n*4]
	ids := make([]int, n)
	for j := range ids {
		ids[j] = int(binary.LittleEndian.Uint32(raw[j*4:]))
	}
	return ids, nil
}

// All yields every example in file order.
func (r *Reader) All() iter.Seq2[int, []int] {
	return func(yield func(int, []int) bool) {
		for i := range r.count {
			ids, _ := r.Example(i)
			if !yield(i, ids) {
				return
			}
		}
	}
}

// Close unmaps the file. The Reader must not be used afterwards.
func (r *Reader) Close() error {
	return r.file.Close()
}
