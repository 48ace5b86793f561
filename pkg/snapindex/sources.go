package snapindex

import (
	"io"
)

// SourceRecord is the typed view of one Sources paragraph (spec §4.3).
type SourceRecord struct {
	Package   string
	Version   string
	Directory string
	Checksums []ChecksumEntry
}

// SourcesView lazily yields SourceRecord from a Sources stream. Malformed
// paragraphs are skipped (recorded via onError, if non-nil) rather than
// aborting the whole file, per spec §4.3.
func SourcesView(r io.Reader, onError func(error)) func() (*SourceRecord, bool) {
	scanner := NewScanner(r)

	return func() (*SourceRecord, bool) {
		for {
			para, err := scanner.Next()
			if err == io.EOF {
				return nil, false
			}
			if err != nil {
				reportAndResync(scanner, err, onError)
				continue
			}

			record, err := sourceRecordFromParagraph(para)
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

func sourceRecordFromParagraph(para *Paragraph) (*SourceRecord, error) {
	pkg, err := para.MustGet("Package")
	if err != nil {
		return nil, err
	}

	version, err := para.MustGet("Version")
	if err != nil {
		return nil, err
	}

	directory, err := para.MustGet("Directory")
	if err != nil {
		return nil, err
	}

	checksumsRaw, _ := para.Get("Checksums-Sha256")

	checksums, err := parseChecksumBlock(checksumsRaw)
	if err != nil {
		return nil, err
	}

	return &SourceRecord{
		Package:   pkg,
		Version:   version,
		Directory: directory,
		Checksums: checksums,
	}, nil
}

func reportAndResync(scanner *Scanner, err error, onError func(error)) {
	if onError != nil {
		onError(err)
	}
	_ = scanner.SkipToNextParagraph()
}
