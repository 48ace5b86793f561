package snapindex

import (
	"io"
	"strconv"
)

// PackageRecord is the typed view of one Packages paragraph (spec §4.3).
type PackageRecord struct {
	Package      string
	Version      string
	Architecture string
	Filename     string
	Size         uint64
	Sha256       string
}

// PackagesView lazily yields PackageRecord from a Packages stream, skipping
// malformed paragraphs (reported via onError) rather than aborting.
func PackagesView(r io.Reader, onError func(error)) func() (*PackageRecord, bool) {
	scanner := NewScanner(r)

	return func() (*PackageRecord, bool) {
		for {
			para, err := scanner.Next()
			if err == io.EOF {
				return nil, false
			}
			if err != nil {
				reportAndResync(scanner, err, onError)
				continue
			}

			record, err := packageRecordFromParagraph(para)
			if err != nil {
				if onError != nil {
					onError(err)
				}
				continue // scanner already sits at the next paragraph's start
			}

			return record, true
		}
	}
}

func packageRecordFromParagraph(para *Paragraph) (*PackageRecord, error) {
	pkg, err := para.MustGet("Package")
	if err != nil {
		return nil, err
	}

	version, err := para.MustGet("Version")
	if err != nil {
		return nil, err
	}

	arch, err := para.MustGet("Architecture")
	if err != nil {
		return nil, err
	}

	filename, err := para.MustGet("Filename")
	if err != nil {
		return nil, err
	}

	sizeRaw, err := para.MustGet("Size")
	if err != nil {
		return nil, err
	}

	size, err := strconv.ParseUint(sizeRaw, 10, 64)
	if err != nil {
		return nil, &ParseError{Field: "Size", Reason: err.Error()}
	}

	sha256, err := para.MustGet("SHA256")
	if err != nil {
		return nil, err
	}

	return &PackageRecord{
		Package:      pkg,
		Version:      version,
		Architecture: arch,
		Filename:     filename,
		Size:         size,
		Sha256:       sha256,
	}, nil
}
