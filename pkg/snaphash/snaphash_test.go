package snaphash

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestStreamToFileSuccess(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "hello.bin")

	content := "hello world"
	sum, err := ParseHex("b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9")
	assert.Ok(t, err)
	size := uint64(len(content))

	result, err := StreamToFile(strings.NewReader(content), dest, &sum, &size, false)
	assert.Ok(t, err)

	assert.Assert(t, result.Sum == sum)

	_, err = os.Stat(dest)
	assert.Ok(t, err)

	_, err = os.Stat(dest + ".part")
	assert.Assert(t, os.IsNotExist(err))
}

func TestStreamToFileHashMismatchCleansUpPart(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "hello.bin")

	wrongSum, _ := ParseHex(strings.Repeat("a", 64))

	_, err := StreamToFile(strings.NewReader("hello world"), dest, &wrongSum, nil, false)
	assert.Assert(t, err != nil)

	var mismatch *MismatchError
	assert.Assert(t, asMismatch(err, &mismatch))

	_, err = os.Stat(dest + ".part")
	assert.Assert(t, os.IsNotExist(err))

	_, err = os.Stat(dest)
	assert.Assert(t, os.IsNotExist(err))
}

func TestStreamToFileRetainPartOnError(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "hello.bin")

	wrongSize := uint64(999)

	_, err := StreamToFile(strings.NewReader("hello world"), dest, nil, &wrongSize, true)
	assert.Assert(t, err != nil)

	_, err = os.Stat(dest + ".part")
	assert.Ok(t, err)
}

func TestHardlinkIdempotent(t *testing.T) {
	dir := t.TempDir()
	physical := filepath.Join(dir, "by-hash", "aa", "aaaa")
	logical := filepath.Join(dir, "archive", "x", "pool", "hello.deb")

	assert.Ok(t, os.MkdirAll(filepath.Dir(physical), 0755))
	assert.Ok(t, os.WriteFile(physical, []byte("data"), 0644))

	assert.Ok(t, Hardlink(physical, logical))

	// idempotent: linking the same pair again must not error
	assert.Ok(t, Hardlink(physical, logical))
}

func asMismatch(err error, target **MismatchError) bool {
	m, ok := err.(*MismatchError)
	if ok {
		*target = m
	}
	return ok
}
