package staging

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
)

var byteOrderMark = []byte{0xEF, 0xBB, 0xBF}

// RowSource yields the records of a report one at a time. Next returns io.EOF
// after the last record.
type RowSource interface {
	Next() ([]string, error)
	Line() int
	Close() error
}

// OpenSource picks the reader for an extension
func OpenSource(ext string, r io.Reader) (RowSource, error) {
	switch ext {
	case "csv", "txt":
		return newDelimitedSource(r), nil
	case "xlsx":
		return newXLSXSource(r)
	default:
		return nil, fmt.Errorf("unsupported report format %q", ext)
	}
}

type delimitedSource struct {
	reader *csv.Reader
	line   int
}

func newDelimitedSource(r io.Reader) *delimitedSource {
	br := bufio.NewReader(r)
	if prefix, err := br.Peek(len(byteOrderMark)); err == nil && bytes.Equal(prefix, byteOrderMark) {
		_, _ = br.Discard(len(byteOrderMark))
	}

	reader := csv.NewReader(br)
	reader.Comma = sniffDelimiter(br)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	return &delimitedSource{reader: reader}
}

// sniffDelimiter chooses tab when the first line has tabs and no commas
func sniffDelimiter(br *bufio.Reader) rune {
	head, _ := br.Peek(4096)
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	if bytes.Count(head, []byte{'\t'}) > 0 && bytes.Count(head, []byte{','}) == 0 {
		return '\t'
	}
	return ','
}

func (s *delimitedSource) Next() ([]string, error) {
	record, err := s.reader.Read()
	if err != nil {
		return nil, err
	}
	s.line++
	return record, nil
}

func (s *delimitedSource) Line() int {
	return s.line
}

func (s *delimitedSource) Close() error {
	return nil
}

type xlsxSource struct {
	file *excelize.File
	rows *excelize.Rows
	line int
}

func newXLSXSource(r io.Reader) (*xlsxSource, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open xlsx: %w", err)
	}

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		_ = f.Close()
		return nil, errors.New("xlsx file has no sheets")
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to read rows from xlsx: %w", err)
	}
	return &xlsxSource{file: f, rows: rows}, nil
}

func (s *xlsxSource) Next() ([]string, error) {
	if !s.rows.Next() {
		if err := s.rows.Error(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	s.line++
	return s.rows.Columns()
}

func (s *xlsxSource) Line() int {
	return s.line
}

func (s *xlsxSource) Close() error {
	rowsErr := s.rows.Close()
	if err := s.file.Close(); err != nil {
		return err
	}
	return rowsErr
}
