// Package snapindex parses the RFC822-style paragraph format used by Debian
// Release, Packages, Sources and Buildinfo files, lazily, without
// materializing the whole decompressed stream in memory.
package snapindex

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Paragraph is a case-insensitive-keyed view of one RFC822-style stanza.
// Field order is not preserved; Debian index files never depend on it.
type Paragraph struct {
	fields map[string]string // lowercased field name -> raw value (continuations folded in)
}

// Get returns the raw value for a field name, case-insensitively, and
// whether it was present.
func (p Paragraph) Get(field string) (string, bool) {
	v, ok := p.fields[strings.ToLower(field)]
	return v, ok
}

// MustGet returns the raw value or a ParseError if the field is missing.
func (p Paragraph) MustGet(field string) (string, error) {
	v, ok := p.Get(field)
	if !ok {
		return "", &ParseError{Field: field, Reason: "missing required field"}
	}
	return v, nil
}

// Scanner yields a lazy finite sequence of paragraphs from a decompressed
// byte stream, separated by blank lines, with folded continuation lines
// (lines starting with whitespace) joined onto the previous field's value.
type Scanner struct {
	r    *bufio.Reader
	line int
}

func NewScanner(r io.Reader) *Scanner {
	return &Scanner{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next reads and returns the next paragraph, or io.EOF when the stream is
// exhausted. A malformed line (no colon, not a continuation) is reported as
// a *ParseError for that paragraph; the caller decides whether to skip it
// and keep scanning or treat it as fatal.
func (s *Scanner) Next() (*Paragraph, error) {
	fields := map[string]string{}
	lastField := ""
	sawAnyLine := false

	for {
		raw, err := s.r.ReadString('\n')
		if err != nil && raw == "" {
			if err == io.EOF {
				if sawAnyLine {
					return &Paragraph{fields: fields}, nil
				}
				return nil, io.EOF
			}
			return nil, err
		}

		s.line++
		line := strings.TrimRight(raw, "\r\n")

		if line == "" {
			if sawAnyLine {
				return &Paragraph{fields: fields}, nil
			}
			// leading blank lines between paragraphs are skipped
			if err == io.EOF {
				return nil, io.EOF
			}
			continue
		}

		sawAnyLine = true

		if line[0] == ' ' || line[0] == '\t' {
			if lastField == "" {
				return nil, &ParseError{Reason: fmt.Sprintf("line %d: continuation with no preceding field", s.line)}
			}
			folded := strings.TrimLeft(line, " \t")
			if fields[lastField] == "" {
				fields[lastField] = folded
			} else {
				fields[lastField] += "\n" + folded
			}
		} else {
			name, value, ok := splitField(line)
			if !ok {
				return nil, &ParseError{Reason: fmt.Sprintf("line %d: no ':' separator", s.line)}
			}
			key := strings.ToLower(name)
			fields[key] = value
			lastField = key
		}

		if err == io.EOF {
			return &Paragraph{fields: fields}, nil
		}
	}
}

// SkipToNextParagraph discards input up to and including the next blank
// line, so scanning can resume after a malformed paragraph without
// re-parsing the garbage that caused the failure.
func (s *Scanner) SkipToNextParagraph() error {
	for {
		raw, err := s.r.ReadString('\n')
		if strings.TrimRight(raw, "\r\n") == "" && raw != "" {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func splitField(line string) (name, value string, ok bool) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return "", "", false
	}
	return line[:idx], strings.TrimLeft(line[idx+1:], " \t"), true
}
