package snapindex

import (
	"strings"
	"testing"

	"github.com/function61/gokit/assert"
)

func TestParseRelease(t *testing.T) {
	input := `Suite: bullseye
Codename: bullseye
Components: main contrib non-free
Architectures: amd64 arm64
SHA256:
 aaaa 123 main/binary-amd64/Packages
 bbbb 456 main/binary-arm64/Packages
`

	rel, err := ParseRelease(strings.NewReader(input))
	assert.Ok(t, err)

	assert.EqualString(t, rel.Suite, "bullseye")
	assert.Assert(t, len(rel.Components) == 3)
	assert.Assert(t, len(rel.Sha256) == 2)
	assert.EqualString(t, rel.Sha256[0].Sha256, "aaaa")
	assert.Assert(t, rel.Sha256[0].Size == 123)
}

func TestParseReleaseMissingFieldIsFatal(t *testing.T) {
	_, err := ParseRelease(strings.NewReader("Codename: bullseye\n"))
	assert.Assert(t, err != nil)
}

func TestPackagesViewSkipsMalformedParagraph(t *testing.T) {
	input := `Package: a
Version: 1
Architecture: amd64
Filename: pool/a.deb
Size: not-a-number
SHA256: aaaa

Package: b
Version: 2
Architecture: amd64
Filename: pool/b.deb
Size: 10
SHA256: bbbb
`

	var errs []error
	next := PackagesView(strings.NewReader(input), func(err error) { errs = append(errs, err) })

	first, ok := next()
	assert.Assert(t, ok)
	assert.EqualString(t, first.Package, "b")
	assert.Assert(t, len(errs) == 1)

	_, ok = next()
	assert.Assert(t, !ok)
}

func TestParseBuildinfoInstalledBuildDepends(t *testing.T) {
	input := `Source: hello
Architecture: amd64
Installed-Build-Depends:
 gcc-10 (= 10.2.1-6),
 libc6:amd64 (= 2.31-13),
`

	bi, err := ParseBuildinfo(strings.NewReader(input))
	assert.Ok(t, err)

	assert.Assert(t, len(bi.InstalledBuildDepends) == 2)
	assert.EqualString(t, bi.InstalledBuildDepends[0].Name, "gcc-10")
	assert.EqualString(t, bi.InstalledBuildDepends[0].Version, "10.2.1-6")
	assert.EqualString(t, bi.InstalledBuildDepends[1].Name, "libc6")
	assert.EqualString(t, bi.InstalledBuildDepends[1].ArchQualifier, "amd64")
}
