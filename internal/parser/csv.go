package parser

import (
	"bufio"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// delimiterCandidates are tried when sniffing a delimited-text file, in
// tie-break order. The most frequent candidate in the first line wins.
var delimiterCandidates = []rune{',', ';', '\t', '|'}

// DelimitedOptions configures the delimited-text source.
type DelimitedOptions struct {
	// Delimiter overrides sniffing when non-zero.
	Delimiter rune

	// SkipHeader drops the first record (the header row was already
	// consumed for mapping detection at job creation).
	SkipHeader bool
}

type delimitedSource struct {
	reader     *csv.Reader
	skipHeader bool
}

// NewDelimited builds a Source over delimited text. The delimiter is
// sniffed from the first line unless fixed in opts. Quoted fields with
// embedded delimiters and doubled escape-quotes are handled by the csv
// reader; malformed quoting surfaces as a parse error.
func NewDelimited(r io.Reader, opts DelimitedOptions) (Source, error) {
	br := bufio.NewReaderSize(r, 64*1024)

	delim := opts.Delimiter
	if delim == 0 {
		sniffed, err := sniffDelimiter(br)
		if err != nil {
			return nil, err
		}
		delim = sniffed
	}

	cr := csv.NewReader(br)
	cr.Comma = delim
	cr.FieldsPerRecord = -1 // ragged rows are a validation concern, not a parse error

	return &delimitedSource{reader: cr, skipHeader: opts.SkipHeader}, nil
}

func (s *delimitedSource) Next() ([]string, error) {
	if s.skipHeader {
		s.skipHeader = false
		if _, err := s.reader.Read(); err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, eris.Wrap(err, "parser: read header")
		}
	}

	rec, err := s.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, eris.Wrap(err, "parser: read record")
	}
	return rec, nil
}

// sniffDelimiter counts candidate delimiters in the first line (quoted
// sections excluded) and picks the most frequent one. Ties and an empty
// first line fall back to comma.
func sniffDelimiter(br *bufio.Reader) (rune, error) {
	peek, err := br.Peek(64 * 1024)
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return 0, eris.Wrap(err, "parser: sniff delimiter")
	}

	line := peek
	for i, b := range peek {
		if b == '\n' || b == '\r' {
			line = peek[:i]
			break
		}
	}

	counts := make(map[rune]int, len(delimiterCandidates))
	inQuotes := false
	for _, b := range line {
		if b == '"' {
			inQuotes = !inQuotes
			continue
		}
		if inQuotes {
			continue
		}
		for _, cand := range delimiterCandidates {
			if rune(b) == cand {
				counts[cand]++
			}
		}
	}

	best := delimiterCandidates[0]
	bestCount := counts[best]
	for _, cand := range delimiterCandidates[1:] {
		if counts[cand] > bestCount {
			best = cand
			bestCount = counts[cand]
		}
	}
	return best, nil
}
