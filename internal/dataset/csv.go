// Package dataset pages through the CSV of recorded doctor-patient
// conversations.  The file is re-read on every call so edits on disk are
// picked up without a restart; pages are small and the generated notes are
// cached further up.
package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
)

var (
	// ErrInvalidPage is returned for page numbers or sizes below one.
	ErrInvalidPage = errors.New("page and size must be at least 1")
	// ErrUnreadable wraps failures to open or parse the file.
	ErrUnreadable = errors.New("dataset unreadable")
)

// CSVSource reads pages of records from a CSV file with a header row.
type CSVSource struct {
	path string
}

// Open returns a CSVSource for path after checking the file can be read.
func Open(path string) (*CSVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	_ = f.Close()
	return &CSVSource{path: path}, nil
}

// Path returns the file backing the source.
func (s *CSVSource) Path() string { return s.path }

// Total counts the data records in the file, excluding the header.  Quoted
// fields spanning several lines count as a single record.
func (s *CSVSource) Total(ctx context.Context) (int, error) {
	n := 0
	err := s.scan(ctx, func(_ []string) bool {
		n++
		return true
	})
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	return n - 1, nil
}

// Page returns the header and the records [(page-1)*size, page*size).
// Pages past the end of the file yield no rows and no error.
func (s *CSVSource) Page(ctx context.Context, page, size int) ([]string, [][]string, error) {
	if page < 1 || size < 1 {
		return nil, nil, ErrInvalidPage
	}
	start := (page - 1) * size
	end := start + size

	var header []string
	rows := make([][]string, 0, size)
	i := -1
	err := s.scan(ctx, func(record []string) bool {
		if i == -1 {
			header = record
			i++
			return true
		}
		if i >= start {
			rows = append(rows, record)
		}
		i++
		return i < end
	})
	if err != nil {
		return nil, nil, err
	}
	return header, rows, nil
}

// scan feeds records to fn until it returns false or the file ends.
func (s *CSVSource) scan(ctx context.Context, fn func(record []string) bool) error {
	f, err := os.Open(s.path)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnreadable, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUnreadable, s.path, err)
		}
		if !fn(record) {
			return nil
		}
	}
}
