// Package mapfile exposes a whole file as a read-only byte slice, backed by
// mmap where the platform supports it.
package mapfile

import (
	"errors"
	"io"
	"os"
)

var ErrTooLarge = errors.New("mapfile: file too large to address")

// File is a read-only view of a file's contents. Data must not be
// modified and must not be used after Close.
type File struct {
	Data    []byte
	mmapped bool
}

// Open maps path read-only. If mapping is unavailable it falls back to
// reading the file into memory.
func Open(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}
	size64 := stat.Size()
	if size64 > int64(int(^uint(0)>>1)) {
		return nil, ErrTooLarge
	}
	size := int(size64)
	if size == 0 {
		return &File{Data: []byte{}}, nil
	}

	if data, err := mmap(f, size); err == nil {
		return &File{Data: data, mmapped: true}, nil
	}

	data, err := readAllAt(f, size)
	if err != nil {
		return nil, err
	}
	return &File{Data: data}, nil
}

// Mapped reports whether Data is backed by a memory mapping.
func (f *File) Mapped() bool {
	return f != nil && f.mmapped
}

// Close releases the mapping. It is safe to call more than once.
func (f *File) Close() error {
	if f == nil || f.Data == nil {
		return nil
	}
	var err error
	if f.mmapped {
		err = munmap(f.Data)
	}
	f.Data = nil
	f.mmapped = false
	return err
}

func readAllAt(r io.ReaderAt, size int) ([]byte, error) {
	out := make([]byte, size)
	var off int64
	for off < int64(size) {
		n, err := r.ReadAt(out[off:], off)
		off += int64(n)
		if err == nil {
			continue
		}
		if err == io.EOF && off == int64(size) {
			break
		}
		return nil, err
	}
	return out, nil
}
