package snapindex

import (
	"io"
	"strings"
)

// BuildDependency is one entry of a Buildinfo file's Installed-Build-Depends
// field: "name[:arch] (= version)". ArchQualifier is empty when the name
// carried no ":arch" suffix.
type BuildDependency struct {
	Name          string
	Version       string
	ArchQualifier string
}

// Buildinfo is the typed view of a .buildinfo file's single paragraph.
type Buildinfo struct {
	Source               string
	Architecture         string
	InstalledBuildDepends []BuildDependency
}

// ParseBuildinfo reads the single paragraph of a .buildinfo stream.
func ParseBuildinfo(r io.Reader) (*Buildinfo, error) {
	scanner := NewScanner(r)

	para, err := scanner.Next()
	if err != nil {
		return nil, err
	}

	source, err := para.MustGet("Source")
	if err != nil {
		return nil, err
	}

	arch, err := para.MustGet("Architecture")
	if err != nil {
		return nil, err
	}

	dependsRaw, _ := para.Get("Installed-Build-Depends")

	deps, err := parseInstalledBuildDepends(dependsRaw)
	if err != nil {
		return nil, err
	}

	return &Buildinfo{Source: source, Architecture: arch, InstalledBuildDepends: deps}, nil
}

// parseInstalledBuildDepends splits the comma-separated
// "name[:arch] (= version)" entries, the format deb822's BuildInfo.relations
// parser produces (original_source/api/snapshot_api.py's upload_buildinfo
// reads the same field via python-debian).
func parseInstalledBuildDepends(raw string) ([]BuildDependency, error) {
	raw = strings.ReplaceAll(raw, "\n", " ")

	entries := strings.Split(raw, ",")

	deps := make([]BuildDependency, 0, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		dep, err := parseOneBuildDependency(entry)
		if err != nil {
			return nil, err
		}

		deps = append(deps, dep)
	}

	return deps, nil
}

func parseOneBuildDependency(entry string) (BuildDependency, error) {
	name := entry
	archQualifier := ""

	if idx := strings.IndexByte(entry, ':'); idx >= 0 && !strings.Contains(entry[:idx], "(") {
		name = entry[:idx]
		rest := entry[idx+1:]
		// the arch qualifier ends at the first space or opening paren
		end := strings.IndexAny(rest, " (")
		if end < 0 {
			archQualifier = rest
		} else {
			archQualifier = rest[:end]
			name = entry[:idx] + rest[end:]
		}
	}

	version := ""
	if open := strings.IndexByte(name, '('); open >= 0 {
		close := strings.IndexByte(name[open:], ')')
		if close < 0 {
			return BuildDependency{}, &ParseError{Field: "Installed-Build-Depends", Reason: "unterminated version constraint in " + entry}
		}
		constraint := strings.TrimSpace(name[open+1 : open+close])
		version = strings.TrimPrefix(strings.TrimPrefix(constraint, "="), " ")
		version = strings.TrimSpace(version)
		name = strings.TrimSpace(name[:open])
	} else {
		name = strings.TrimSpace(name)
	}

	return BuildDependency{Name: name, Version: version, ArchQualifier: archQualifier}, nil
}
