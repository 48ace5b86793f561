package snapstore

import "strings"

const keySep = "\x00"

// joinKey builds a composite bbolt key from parts, NUL-separated so no part
// can collide across a boundary (none of our identifiers contain NUL).
func joinKey(parts ...string) string {
	return strings.Join(parts, keySep)
}

func archiveKey(archive string) []byte {
	return []byte(archive)
}

func suiteKey(archive, suite string) []byte {
	return []byte(joinKey(archive, suite))
}

func componentKey(archive, suite, component string) []byte {
	return []byte(joinKey(archive, suite, component))
}

func packageKey(kind PackageKind, name, version string) []byte {
	return []byte(joinKey(string(kind), name, version))
}

func fileKey(sha256Hex string) []byte {
	return []byte(sha256Hex)
}

func observationKey(o Observation) []byte {
	return []byte(joinKey(o.FileSha256Hex, o.LocationID, o.ArchitectureIfBinary, o.Timestamp))
}

func timestampRangePartitionKey(fileSha256Hex, locationID, archIfBinary string) string {
	return joinKey(fileSha256Hex, locationID, archIfBinary)
}

func timestampRangeKey(r TimestampRange) []byte {
	return []byte(joinKey(timestampRangePartitionKey(r.FileSha256Hex, r.LocationID, r.ArchitectureIfBinary), r.Begin))
}

func provisionedKey(p Provisioned) []byte {
	return []byte(joinKey(p.Archive, p.Timestamp, p.Suite, p.Component, p.Architecture))
}

func timestampKey(t Timestamp) []byte {
	return []byte(joinKey(t.Archive, t.Value))
}

func packageFileKey(pf PackageFile) []byte {
	return []byte(joinKey(string(pf.PackageKind), pf.PackageName, pf.PackageVersion, pf.FileSha256Hex, pf.ArchitectureIfBinary))
}
