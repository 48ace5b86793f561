package snapstore

import "fmt"

// StorageError reports a violation of a store invariant: a sha256 that was
// previously recorded at a different size (spec §3 invariant 1; StoredSize
// and ObservedSize set), or, with Reason set, an archive that would mix the
// sentinel timestamp with real ones (EnsureTimestamp). The offending
// tuple's transaction is aborted rather than silently overwritten.
type StorageError struct {
	Sha256Hex    string
	StoredSize   uint64
	ObservedSize uint64
	Reason       string
}

func (e *StorageError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("snapstore: sha256 %s: %s", e.Sha256Hex, e.Reason)
	}
	return fmt.Sprintf("snapstore: sha256 %s: size drift, stored=%d observed=%d", e.Sha256Hex, e.StoredSize, e.ObservedSize)
}
