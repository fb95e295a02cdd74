package storage

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Sriram-PR/biblecom-crawler/pkg/utils"
)

// Table is a header plus rows read from a tab-separated file
type Table struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// Col returns the index of a named column, or -1
func (t *Table) Col(name string) int {
	if t.index == nil {
		t.index = make(map[string]int, len(t.Header))
		for i, h := range t.Header {
			t.index[strings.TrimSpace(h)] = i
		}
	}
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Get returns row[col(name)], or "" when the column or cell is missing
func (t *Table) Get(row []string, name string) string {
	i := t.Col(name)
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// ReadTable loads a TSV file with a header row.
// Missing files surface as os.ErrNotExist wrapped in ErrFilesystem.
func ReadTable(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open '%s': %w", utils.ErrFilesystem, path, err)
	}
	defer f.Close()

	br := bufio.NewReader(f)
	// Skip a UTF-8 BOM if a spreadsheet added one
	if first3, _ := br.Peek(3); len(first3) == 3 && first3[0] == 0xEF && first3[1] == 0xBB && first3[2] == 0xBF {
		_, _ = br.Discard(3)
	}

	r := csv.NewReader(br)
	r.Comma = '\t'
	r.LazyQuotes = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return &Table{}, nil
	}
	if err != nil {
		return nil, utils.WrapErrorf(utils.ErrParsing, "TSV header of '%s': %v", path, err)
	}

	t := &Table{Header: header}
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, utils.WrapErrorf(utils.ErrParsing, "TSV row in '%s': %v", path, err)
		}
		t.Rows = append(t.Rows, row)
	}
	return t, nil
}

// WriteTable writes header and rows as TSV, replacing path atomically via a temp file + rename.
func WriteTable(path string, header []string, rows [][]string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create directory '%s': %w", utils.ErrFilesystem, dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp file in '%s': %w", utils.ErrFilesystem, dir, err)
	}
	tmpPath := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	w := csv.NewWriter(tmp)
	w.Comma = '\t'
	if err := w.Write(header); err != nil {
		cleanup()
		return fmt.Errorf("%w: write header to '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := w.WriteAll(rows); err != nil {
		cleanup()
		return fmt.Errorf("%w: write rows to '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("%w: sync '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close '%s': %w", utils.ErrFilesystem, tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename '%s' -> '%s': %w", utils.ErrFilesystem, tmpPath, path, err)
	}
	return nil
}
