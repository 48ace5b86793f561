// "Bolt Light ORM" - persists typed Go structs into buckets of an embedded
// bbolt database, with a small set of secondary-index flavors layered on top.
package blorm

import (
	"errors"

	"go.etcd.io/bbolt"
)

var (
	ErrNotFound     = errors.New("blorm: record not found")
	ErrBucketNotFound = errors.New("blorm: bucket not found")
	ErrStopIteration  = errors.New("blorm: stop iteration")
)

type Repository interface {
	Bootstrap(tx *bbolt.Tx) error
	OpenByPrimaryKey(id []byte, record any, tx *bbolt.Tx) error
	Update(record any, tx *bbolt.Tx) error
	Delete(record any, tx *bbolt.Tx) error
	// return ErrStopIteration from "fn" to stop iteration; that error is not
	// propagated to the caller of Each()/EachFrom()
	Each(fn func(record any) error, tx *bbolt.Tx) error
	EachFrom(from []byte, fn func(record any) error, tx *bbolt.Tx) error
	Alloc() any
}
