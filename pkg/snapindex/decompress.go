package snapindex

import (
	"compress/bzip2"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/ulikunitz/xz"
)

// Decompress wraps r with a transparent decompressor chosen by the file
// name's extension, per spec §4.3. Uncompressed input (no recognized
// extension) is passed through unchanged.
func Decompress(name string, r io.Reader) (io.Reader, error) {
	switch {
	case strings.HasSuffix(name, ".gz"):
		return gzip.NewReader(r)
	case strings.HasSuffix(name, ".bz2"):
		return bzip2.NewReader(r), nil
	case strings.HasSuffix(name, ".xz"):
		return xz.NewReader(r)
	default:
		return r, nil
	}
}

// ParseError records a recoverable failure parsing one paragraph or field.
type ParseError struct {
	Field  string
	Reason string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("snapindex: field %q: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("snapindex: %s", e.Reason)
}
