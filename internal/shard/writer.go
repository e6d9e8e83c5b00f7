package shard

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// Writer appends examples to a shard. The file only appears at its final
// path once Close succeeds.
type Writer struct {
	path      string
	tmp       *os.File
	bw        *bufio.Writer
	seqLength int
	count     int
	scratch   []byte
	closed    bool
}

// Create starts a shard at path for examples of seqLength tokens.
func Create(path string, seqLength int) (*Writer, error) {
	if seqLength <= 0 || int64(seqLength) > math.MaxUint32 {
		return nil, fmt.Errorf("shard: invalid sequence length %d", seqLength)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return nil, err
	}
	w := &Writer{
		path:      path,
		tmp:       tmp,
		bw:        bufio.NewWriterSize(tmp, 1<<20),
		seqLength: seqLength,
		scratch:   make([]byte, seqLength*int(TokenWidth)),
	}
	h := Header{Version: CurrentVersion, Width: TokenWidth, SeqLength: uint32(seqLength)}
	if _, err := w.bw.Write(h.encode()); err != nil {
		w.Abort()
		return nil, err
	}
	return w, nil
}

// Write appends one example.
func (w *Writer) Write(ids []int) error {
	if w.closed {
		return ErrWriterClosed
	}
	if len(ids) != w.seqLength {
		return fmt.Errorf("%w: got %d tokens, want %d", ErrSeqLength, len(ids), w.seqLength)
	}
	for i, id := range ids {
		if id < 0 || int64(id) > math.MaxUint32 {
			return fmt.Errorf("%w: %d", ErrTokenRange, id)
		}
		binary.LittleEndian.PutUint32(w.scratch[i*4:], uint32(id))
	}
	if _, err := w.bw.Write(w.scratch); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count is the number of examples written so far.
func (w *Writer) Count() int { return w.count }

// Close flushes the shard and moves it into place.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	err := w.bw.Flush()
	if err == nil {
		err = w.tmp.Sync()
	}
	if cerr := w.tmp.Close(); err == nil {
		err = cerr
	}
	if err == nil {
		err = os.Rename(w.tmp.Name(), w.path)
	}
	if err != nil {
		_ = os.Remove(w.tmp.Name())
	}
	return err
}

// Abort discards everything written. It is a no-op after Close.
func (w *Writer) Abort() {
	if w.closed {
		return
	}
	w.closed = true
	_ = w.tmp.Close()
	_ = os.Remove(w.tmp.Name())
}

