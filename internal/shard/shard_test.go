package shard

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func writeShard(t *testing.T, path string, seqLength int, examples [][]int) {
	t.Helper()
	w, err := Create(path, seqLength)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for _, ex := range examples {
		if err := w.Write(ex); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if w.Count() != len(examples) {
		t.Fatalf("count: got %d want %d", w.Count(), len(examples))
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestWriteRead(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "train.cpk")
	examples := [][]int{{1, 2, 3, 0}, {4, 5, 6, 0}, {49152, 7, 0, 1 << 30}}
	writeShard(t, path, 4, examples)

	st, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(HeaderSize + 3*4*4); st.Size() != want {
		t.Fatalf("size: got %d want %d", st.Size(), want)
	}

	r, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer r.Close()

	if r.Len() != 3 || r.SeqLength() != 4 {
		t.Fatalf("got len %d seq %d", r.Len(), r.SeqLength())
	}
	for i, want := range examples {
		got, err := r.Example(i)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(got, want) {
			t.Fatalf("example %d: got %v want %v", i, got, want)
		}
	}
	var n int
	for i, ids := range r.All() {
		if !slices.Equal(ids, examples[i]) {
			t.Fatalf("All example %d: got %v", i, ids)
		}
		n++
	}
	if n != 3 {
		t.Fatalf("All yielded %d examples", n)
	}
	if _, err := r.Example(3); !errors.Is(err, ErrIndexRange) {
		t.Fatalf("expected ErrIndexRange, got %v", err)
	}
}

func TestEmptyShard(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "empty.cpk")
	writeShard(t, path, 8, nil)

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()
	if r.Len() != 0 || r.SeqLength() != 8 {
		t.Fatalf("got len %d seq %d", r.Len(), r.SeqLength())
	}
}

func TestWriterRejectsBadExamples(t *testing.T) {
	t.Parallel()
	w, err := Create(filepath.Join(t.TempDir(), "x.cpk"), 2)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Abort()

	if err := w.Write([]int{1, 2, 3}); !errors.Is(err, ErrSeqLength) {
		t.Fatalf("expected ErrSeqLength, got %v", err)
	}
	if err := w.Write([]int{1, -1}); !errors.Is(err, ErrTokenRange) {
		t.Fatalf("expected ErrTokenRange, got %v", err)
	}
	if w.Count() != 0 {
		t.Fatalf("rejected writes were counted: %d", w.Count())
	}
}

func TestAbortLeavesNothing(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "x.cpk")
	w, err := Create(path, 2)
	if err != nil {
		t.Fatal(err)
	}
	if err := w.Write([]int{1, 2}); err != nil {
		t.Fatal(err)
	}
	w.Abort()
	if err := w.Write([]int{1, 2}); !errors.Is(err, ErrWriterClosed) {
		t.Fatalf("expected ErrWriterClosed, got %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected empty dir after abort, found %d entries", len(entries))
	}
}

func TestOpenCorrupt(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	valid := Header{Version: CurrentVersion, Width: TokenWidth, SeqLength: 2}.encode()

	tests := map[string][]byte{
		"short":         []byte("CPK"),
		"bad magic":     append([]byte("NOPE"), valid[4:]...),
		"bad version":   func() []byte { b := slices.Clone(valid); b[4] = 9; return b }(),
		"bad width":     func() []byte { b := slices.Clone(valid); b[6] = 2; return b }(),
		"zero length":   Header{Version: CurrentVersion, Width: TokenWidth}.encode(),
		"trailing body": append(slices.Clone(valid), 1, 0, 0, 0),
	}
	for name, data := range tests {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, data, 0o644); err != nil {
			t.Fatal(err)
		}
		if _, err := Open(path); !errors.Is(err, ErrCorrupt) {
			t.Errorf("%s: expected ErrCorrupt, got %v", name, err)
		}
	}
}
