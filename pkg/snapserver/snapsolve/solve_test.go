package snapsolve

import (
	"testing"

	"github.com/function61/gokit/assert"
)

func TestSolveCoversWithFewestTimestamps(t *testing.T) {
	hello := RequiredPackage{Name: "hello", Version: "2.10-2", Arch: "amd64"}
	world := RequiredPackage{Name: "world", Version: "1.0", Arch: "amd64"}

	byLocation := map[string][]Observation{
		"debian:bullseye:main:amd64": {
			{Package: hello, Timestamp: "20210221T150011Z"},
			{Package: hello, Timestamp: "20210222T150011Z"},
			{Package: world, Timestamp: "20210222T150011Z"},
		},
	}

	results := Solve([]RequiredPackage{hello, world}, byLocation)

	assert.Assert(t, len(results) == 1)

	r := results[0]
	assert.Assert(t, len(r.Missing) == 0)
	assert.Assert(t, len(r.Timestamps) == 1)
	assert.EqualString(t, r.Timestamps[0], "20210222T150011Z")
}

func TestSolveReportsMissingWhenNoTimestampCovers(t *testing.T) {
	hello := RequiredPackage{Name: "hello", Version: "2.10-2", Arch: "amd64"}

	byLocation := map[string][]Observation{
		"debian:bullseye:main": {},
	}

	results := Solve([]RequiredPackage{hello}, byLocation)

	assert.Assert(t, len(results) == 1)
	assert.Assert(t, len(results[0].Timestamps) == 0)
	assert.Assert(t, len(results[0].Missing) == 1)
	assert.Assert(t, results[0].Missing[0] == hello)
}
