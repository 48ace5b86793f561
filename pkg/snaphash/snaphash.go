// Package snaphash streams downloaded or on-disk package files through
// SHA256 and places them on disk without ever leaving a partial file at a
// canonical path: every write lands at a sibling "<dest>.part" path first
// and is only renamed into place once the digest and size check out.
package snaphash

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/minio/sha256-simd"
)

// Sum is a raw 32-byte SHA256 digest, the identity of a File (spec §3).
type Sum [32]byte

// Hex renders the digest in canonical lowercase hex.
func (s Sum) Hex() string {
	return fmt.Sprintf("%x", [32]byte(s))
}

// ParseHex parses a canonical lowercase hex sha256 into a Sum.
func ParseHex(hex string) (Sum, error) {
	if len(hex) != 64 {
		return Sum{}, fmt.Errorf("snaphash: sha256 must be 64 hex chars, got %d", len(hex))
	}

	var sum Sum
	if _, err := fmt.Sscanf(hex, "%x", &sum); err != nil {
		return Sum{}, fmt.Errorf("snaphash: invalid sha256 hex %q: %w", hex, err)
	}

	return sum, nil
}

// MismatchError is returned when a stream's observed digest or size doesn't
// match what the caller expected.
type MismatchError struct {
	Expected Sum
	Got      Sum
	ExpectedSize uint64
	GotSize      uint64
}

func (e *MismatchError) Error() string {
	if e.Expected != e.Got {
		return fmt.Sprintf("snaphash: sha256 mismatch: expected %s got %s", e.Expected.Hex(), e.Got.Hex())
	}

	return fmt.Sprintf("snaphash: size mismatch: expected %d got %d", e.ExpectedSize, e.GotSize)
}

// StreamResult describes a completed, verified write.
type StreamResult struct {
	Sum  Sum
	Size uint64
}

// StreamToFile copies src into destination through a ".part" sibling file,
// hashing as it goes, and atomically renames into place once complete.
// If expectedSum/expectedSize are non-nil, a mismatch renders the stream a
// MismatchError and the ".part" file is removed (unless retainPartOnError).
//
// On success the ".part" file no longer exists; destination holds the
// verified content.
func StreamToFile(src io.Reader, destination string, expectedSum *Sum, expectedSize *uint64, retainPartOnError bool) (*StreamResult, error) {
	if err := os.MkdirAll(filepath.Dir(destination), 0755); err != nil {
		return nil, err
	}

	partPath := destination + ".part"

	partFile, err := os.Create(partPath)
	if err != nil {
		return nil, err
	}

	hasher := sha256.New()
	counter := &countingWriter{}

	written, copyErr := io.Copy(io.MultiWriter(partFile, hasher, counter), src)

	closeErr := partFile.Close()

	cleanup := func() {
		if !retainPartOnError {
			_ = os.Remove(partPath)
		}
	}

	if copyErr != nil {
		cleanup()
		return nil, fmt.Errorf("snaphash: reading stream: %w", copyErr)
	}

	if closeErr != nil {
		cleanup()
		return nil, fmt.Errorf("snaphash: closing part file: %w", closeErr)
	}

	var got Sum
	copy(got[:], hasher.Sum(nil))

	result := &StreamResult{Sum: got, Size: uint64(written)}

	if expectedSize != nil && *expectedSize != result.Size {
		cleanup()
		return nil, &MismatchError{ExpectedSize: *expectedSize, GotSize: result.Size}
	}

	if expectedSum != nil && *expectedSum != got {
		cleanup()
		return nil, &MismatchError{Expected: *expectedSum, Got: got}
	}

	if err := os.Rename(partPath, destination); err != nil {
		cleanup()
		return nil, fmt.Errorf("snaphash: rename into place: %w", err)
	}

	return result, nil
}

// HashExistingFile computes the SHA256 and size of a file already on disk,
// used by the ingester's --check-only drift detection.
func HashExistingFile(path string) (*StreamResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	hasher := sha256.New()
	counter := &countingWriter{}

	if _, err := io.Copy(io.MultiWriter(hasher, counter), f); err != nil {
		return nil, err
	}

	var sum Sum
	copy(sum[:], hasher.Sum(nil))

	return &StreamResult{Sum: sum, Size: uint64(counter.n)}, nil
}

// VerifyBytes checks an already-read-into-memory body against
// expectedSum/expectedSize, for fetch paths that buffer the body rather
// than streaming it to disk (e.g. index files). Mirrors StreamToFile's
// check without any file I/O.
func VerifyBytes(data []byte, expectedSum *Sum, expectedSize *uint64) error {
	if expectedSize != nil && uint64(len(data)) != *expectedSize {
		return &MismatchError{ExpectedSize: *expectedSize, GotSize: uint64(len(data))}
	}

	if expectedSum != nil {
		hasher := sha256.New()
		hasher.Write(data)

		var got Sum
		copy(got[:], hasher.Sum(nil))

		if *expectedSum != got {
			return &MismatchError{Expected: *expectedSum, Got: got}
		}
	}

	return nil
}

// Hardlink hard-links the by-hash physical copy into a timestamped logical
// location (spec §4.4), creating parent directories as needed. If the
// target already exists it is left untouched (idempotent).
func Hardlink(physicalPath, logicalPath string) error {
	if err := os.MkdirAll(filepath.Dir(logicalPath), 0755); err != nil {
		return err
	}

	if _, err := os.Stat(logicalPath); err == nil {
		return nil // already linked
	} else if !os.IsNotExist(err) {
		return err
	}

	return os.Link(physicalPath, logicalPath)
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
