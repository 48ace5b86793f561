package snaplayout

import (
	"testing"

	"github.com/function61/gokit/assert"
)

func TestPoolPrefixLibConvention(t *testing.T) {
	assert.EqualString(t, PoolPrefix("libc6"), "libc")
	assert.EqualString(t, PoolPrefix("hello"), "h")
}

func TestPhysicalPoolPath(t *testing.T) {
	got, err := PhysicalPoolPath("/srv/snapshot", "aabbccdd")
	assert.Ok(t, err)
	assert.EqualString(t, got, "/srv/snapshot/by-hash/aa/aabbccdd")
}

func TestEffectiveTimestampQubesOverride(t *testing.T) {
	assert.EqualString(t, EffectiveTimestamp(QubesOSArchive, "20240101T000000Z"), QubesOSSentinelTimestamp)
	assert.EqualString(t, EffectiveTimestamp("debian", "20240101T000000Z"), "20240101T000000Z")
}

func TestUpstreamURL(t *testing.T) {
	got := UpstreamURL("https://snapshot.example.org", "debian", "20240101T000000Z", "dists/bullseye/Release")
	assert.EqualString(t, got, "https://snapshot.example.org/archive/debian/20240101T000000Z/dists/bullseye/Release")
}
