package blorm

import (
	"bytes"

	"go.etcd.io/bbolt"
)

/*	types of indices
	================

	setIndex (example: blobs pending replication)
	--------
	(" ", id) = nil

	valueIndex (example: locations by directory)
	-----------
	(value, id) = nil

	rangeIndex (example: timestamps by archive, ordered)
	----------
	(sortKey) = id
*/

var StartFromFirst = []byte("")

type Index interface {
	// only for our internal use
	extractIndexRefs(record any) []qualifiedIndexRef
}

// fully qualified index reference, including the index name
type qualifiedIndexRef struct {
	indexName []byte // looks like locations:by_directory
	partition []byte // for setIndex this is always " "
	sortKey   []byte
	value     []byte
}

func (i *qualifiedIndexRef) Equals(other *qualifiedIndexRef) bool {
	return bytes.Equal(i.indexName, other.indexName) &&
		bytes.Equal(i.partition, other.partition) &&
		bytes.Equal(i.sortKey, other.sortKey) &&
		bytes.Equal(i.value, other.value)
}

func (i *qualifiedIndexRef) Write(tx *bbolt.Tx) error {
	return indexBucketRefForWrite(i, tx).Put(i.sortKey, i.value)
}

func (i *qualifiedIndexRef) Drop(tx *bbolt.Tx) error {
	return indexBucketRefForWrite(i, tx).Delete(i.sortKey)
}

func indexBucketRefForWrite(ref *qualifiedIndexRef, tx *bbolt.Tx) *bbolt.Bucket {
	indexBucket, err := tx.CreateBucketIfNotExists(ref.indexName)
	if err != nil {
		panic(err)
	}

	if len(ref.partition) == 0 { // no separate partition
		return indexBucket
	}

	partitionBucket, err := indexBucket.CreateBucketIfNotExists(ref.partition)
	if err != nil {
		panic(err)
	}

	return partitionBucket
}

func mkIndexRef(indexName []byte, partition []byte, sortKey []byte, value []byte) qualifiedIndexRef {
	return qualifiedIndexRef{indexName, partition, sortKey, value}
}

type SetIndexApi interface {
	// return ErrStopIteration if you want to stop mid-iteration (nil error returned by Query())
	Query(start []byte, fn func(sortKey []byte) error, tx *bbolt.Tx) error
	Index
}

type ByValueIndexApi interface {
	// return ErrStopIteration if you want to stop mid-iteration (nil error returned by Query())
	Query(partition []byte, start []byte, fn func(sortKey []byte) error, tx *bbolt.Tx) error
	Index
}

type RangeIndexApi interface {
	Index
	// return ErrStopIteration if you want to stop mid-iteration (nil error returned by Query())
	Query(start []byte, fn func(sortKey []byte, value []byte) error, tx *bbolt.Tx) error
}

type setIndex struct {
	repo            *SimpleRepository
	indexName       []byte
	memberEvaluator func(record any) bool
}

func (s *setIndex) extractIndexRefs(record any) []qualifiedIndexRef {
	if s.memberEvaluator(record) {
		return []qualifiedIndexRef{
			mkIndexRef(s.indexName, []byte(" "), s.repo.idExtractor(record), nil),
		}
	}

	return []qualifiedIndexRef{}
}

func (s *setIndex) Query(start []byte, fn func(sortKey []byte) error, tx *bbolt.Tx) error {
	// " " is required because empty bucket names are not supported
	return indexQueryShared(s.indexName, []byte(" "), start, ignoreVal(fn), tx)
}

func NewSetIndex(name string, repo *SimpleRepository, memberEvaluator func(record any) bool) SetIndexApi {
	idx := &setIndex{repo, mkIndexName(name, repo), memberEvaluator}

	repo.indices = append(repo.indices, idx)

	return idx
}

type byValueIndex struct {
	repo            *SimpleRepository
	indexName       []byte
	memberEvaluator func(record any, push func(partition []byte))
}

func (b *byValueIndex) extractIndexRefs(record any) []qualifiedIndexRef {
	qualifiedRefs := []qualifiedIndexRef{}
	b.memberEvaluator(record, func(partition []byte) {
		if len(partition) == 0 {
			panic("blorm: cannot index by empty value")
		}
		qualifiedRefs = append(qualifiedRefs, mkIndexRef(b.indexName, partition, b.repo.idExtractor(record), nil))
	})

	return qualifiedRefs
}

func (b *byValueIndex) Query(partition []byte, start []byte, fn func(sortKey []byte) error, tx *bbolt.Tx) error {
	return indexQueryShared(b.indexName, partition, start, ignoreVal(fn), tx)
}

func NewValueIndex(name string, repo *SimpleRepository, memberEvaluator func(record any, push func(partition []byte))) ByValueIndexApi {
	idx := &byValueIndex{repo, mkIndexName(name, repo), memberEvaluator}

	repo.indices = append(repo.indices, idx)

	return idx
}

// used for indices whose entries carry no value of their own (the sort key is the payload)
func ignoreVal(fn func(sortKey []byte) error) func(sortKey []byte, val []byte) error {
	return func(sortKey []byte, _ []byte) error {
		return fn(sortKey)
	}
}

func indexQueryShared(
	indexName []byte,
	partition []byte,
	sortKeyStartInclusive []byte,
	fn func(sortKey []byte, val []byte) error,
	tx *bbolt.Tx,
) error {
	indexBucket := tx.Bucket(indexName)
	if indexBucket == nil {
		return nil // index doesn't exist yet => no matching entries
	}

	bucketToScan := indexBucket
	if len(partition) > 0 {
		partitionBucket := indexBucket.Bucket(partition)
		if partitionBucket == nil {
			return nil
		}

		bucketToScan = partitionBucket
	}

	cursor := bucketToScan.Cursor()

	var sortKey, value []byte
	if bytes.Equal(sortKeyStartInclusive, StartFromFirst) {
		sortKey, value = cursor.First()
	} else {
		sortKey, value = cursor.Seek(sortKeyStartInclusive)
	}

	for ; sortKey != nil; sortKey, value = cursor.Next() {
		if err := fn(makeCopy(sortKey), makeCopy(value)); err != nil {
			if err == ErrStopIteration {
				return nil
			}
			return err
		}
	}

	return nil
}

func indexRefExistsIn(ir qualifiedIndexRef, coll []qualifiedIndexRef) bool {
	for _, other := range coll {
		other := other
		if ir.Equals(&other) {
			return true
		}
	}

	return false
}

// https://github.com/boltdb/bolt/issues/658#issuecomment-277898467
func makeCopy(from []byte) []byte {
	copied := make([]byte, len(from))
	copy(copied, from)
	return copied
}

// rangeIndex stores (sortKey) -> id, e.g. all ingested timestamps for an
// archive ordered chronologically since the lexicographic YYYYMMDDThhmmssZ
// form sorts the same as chronological order.
type rangeIndex struct {
	repo            *SimpleRepository
	indexName       []byte
	memberEvaluator func(record any, index func(sortKey []byte))
}

func (r *rangeIndex) Query(start []byte, fn func(sortKey []byte, value []byte) error, tx *bbolt.Tx) error {
	return indexQueryShared(r.indexName, nil, start, fn, tx)
}

func (r *rangeIndex) extractIndexRefs(record any) []qualifiedIndexRef {
	refs := []qualifiedIndexRef{}

	r.memberEvaluator(record, func(sortKey []byte) {
		refs = append(refs, mkIndexRef(r.indexName, nil, sortKey, r.repo.idExtractor(record)))
	})

	return refs
}

func NewRangeIndex(name string, repo *SimpleRepository, memberEvaluator func(record any, index func(sortKey []byte))) RangeIndexApi {
	idx := &rangeIndex{repo, mkIndexName(name, repo), memberEvaluator}

	repo.indices = append(repo.indices, idx)

	return idx
}

func mkIndexName(name string, repo *SimpleRepository) []byte {
	return []byte(string(repo.bucketName) + ":" + name)
}
