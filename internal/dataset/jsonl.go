package dataset

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"github.com/samcharles93/codepack/internal/mapfile"
)

// JSONL reads one JSON object per line from a file. Top-level string values
// become document fields; other values are ignored, except that a numeric
// id column is kept in its textual form. Blank lines are skipped.
type JSONL struct {
	Path string
	// IDField names the column used as the document id. When empty or
	// missing from a record the id is "<path>:<line>".
	IDField string
}

func NewJSONL(path, idField string) *JSONL {
	return &JSONL{Path: path, IDField: idField}
}

func (s *JSONL) Open(ctx context.Context) (Iterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := mapfile.Open(s.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.Path, err)
	}
	return &jsonlIterator{file: f, data: f.Data, path: s.Path, idField: s.IDField}, nil
}

type jsonlIterator struct {
	file    *mapfile.File
	data    []byte
	off     int
	line    int
	path    string
	idField string
}

func (it *jsonlIterator) Next(ctx context.Context) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	for it.off < len(it.data) {
		rest := it.data[it.off:]
		end := bytes.IndexByte(rest, '\n')
		if end < 0 {
			end = len(rest)
		}
		raw := bytes.TrimSpace(rest[:end])
		it.off += end + 1
		it.line++
		if len(raw) == 0 {
			continue
		}
		return it.decode(raw)
	}
	return Document{}, io.EOF
}

func (it *jsonlIterator) decode(raw []byte) (Document, error) {
	var rec map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&rec); err != nil {
		return Document{}, fmt.Errorf("%s:%d: %w", it.path, it.line, err)
	}
	doc := Document{Fields: make(map[string]string, len(rec))}
	for k, v := range rec {
		switch v := v.(type) {
		case string:
			doc.Fields[k] = v
		case json.Number:
			if k == it.idField {
				doc.Fields[k] = v.String()
			}
		}
	}
	if it.idField != "" {
		doc.ID = doc.Fields[it.idField]
	}
	if doc.ID == "" {
		doc.ID = it.path + ":" + strconv.Itoa(it.line)
	}
	return doc, nil
}

func (it *jsonlIterator) Close() error {
	it.data = nil
	return it.file.Close()
}

// Dir chains every *.jsonl file below Root, in lexical path order.
type Dir struct {
	Root    string
	IDField string
}

func NewDir(root, idField string) *Dir {
	return &Dir{Root: root, IDField: idField}
}

// Files lists the JSONL files the source will read.
func (s *Dir) Files() ([]string, error) {
	var paths []string
	err := filepath.WalkDir(s.Root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), ".jsonl") {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%s does not contain any .jsonl files", s.Root)
	}
	slices.Sort(paths)
	return paths, nil
}

func (s *Dir) Open(ctx context.Context) (Iterator, error) {
	paths, err := s.Files()
	if err != nil {
		return nil, err
	}
	return &chainIterator{paths: paths, idField: s.IDField}, nil
}

type chainIterator struct {
	paths   []string
	idField string
	cur     Iterator
}

func (it *chainIterator) Next(ctx context.Context) (Document, error) {
	for {
		if it.cur == nil {
			if len(it.paths) == 0 {
				return Document{}, io.EOF
			}
			next, err := NewJSONL(it.paths[0], it.idField).Open(ctx)
			if err != nil {
				return Document{}, err
			}
			it.paths = it.paths[1:]
			it.cur = next
		}
		d, err := it.cur.Next(ctx)
		if err != io.EOF {
			return d, err
		}
		if err := it.cur.Close(); err != nil {
			return Document{}, err
		}
		it.cur = nil
	}
}

func (it *chainIterator) Close() error {
	if it.cur == nil {
		return nil
	}
	err := it.cur.Close()
	it.cur = nil
	return err
}

// OpenPath picks a Dir source for directories and a JSONL source otherwise.
func OpenPath(path, idField string) (Source, error) {
	st, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if st.IsDir() {
		return NewDir(path, idField), nil
	}
	return NewJSONL(path, idField), nil
}
