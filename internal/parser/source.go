// Package parser decodes a source file into a lazy, chunked, restartable
// sequence of validated row records, applying the job's frozen column
// mapping and the field normalizers as it goes.
package parser

import "io"

// Source yields one raw record (a slice of cells) per call. It returns
// io.EOF when the file is exhausted. Sources do not drop blank lines or
// assign row numbers; that is the parse loop's job.
type Source interface {
	Next() ([]string, error)
}

// sliceSource serves records from memory. Used by the XLSX source (the
// format is not streamable) and by tests.
type sliceSource struct {
	records [][]string
	pos     int
}

func (s *sliceSource) Next() ([]string, error) {
	if s.pos >= len(s.records) {
		return nil, io.EOF
	}
	rec := s.records[s.pos]
	s.pos++
	return rec, nil
}

// NewSliceSource wraps pre-read records as a Source.
func NewSliceSource(records [][]string) Source {
	return &sliceSource{records: records}
}
