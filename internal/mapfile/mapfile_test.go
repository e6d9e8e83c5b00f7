package mapfile

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestOpenReadsContents(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "data.bin")
	want := []byte("line one\nline two\n")
	if err := os.WriteFile(path, want, 0o644); err != nil {
		t.Fatal(err)
	}

	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if string(f.Data) != string(want) {
		t.Fatalf("got %q want %q", f.Data, want)
	}
	if runtime.GOOS == "linux" && !f.Mapped() {
		t.Fatalf("expected mmap on linux")
	}
	if err := f.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestOpenEmptyFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "empty")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	if len(f.Data) != 0 || f.Mapped() {
		t.Fatalf("expected empty unmapped file, got %d bytes mapped=%v", len(f.Data), f.Mapped())
	}
}

func TestOpenMissing(t *testing.T) {
	t.Parallel()
	if _, err := Open(filepath.Join(t.TempDir(), "missing")); !os.IsNotExist(err) {
		t.Fatalf("expected not-exist error, got %v", err)
	}
}
