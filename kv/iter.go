package kv

import (
	"bytes"

	bolt "go.etcd.io/bbolt"
)

// BoundKind says whether a range bound includes its key.
type BoundKind int

const (
	Unbounded BoundKind = iota
	Included
	Excluded
)

// Bound is one end of a key range.  The zero value is unbounded.
type Bound[K any] struct {
	Kind BoundKind
	Key  K
}

// Inclusive returns a bound that includes k.
func Inclusive[K any](k K) Bound[K] {
	return Bound[K]{Kind: Included, Key: k}
}

// Exclusive returns a bound that excludes k.
func Exclusive[K any](k K) Bound[K] {
	return Bound[K]{Kind: Excluded, Key: k}
}

// Range selects the keys between Start and End.
type Range[K any] struct {
	Start Bound[K]
	End   Bound[K]
}

type rawBound struct {
	kind BoundKind
	key  []byte
}

// under reports whether k is within hi, read as an upper bound.
func (hi rawBound) under(k []byte) bool {
	switch hi.kind {
	case Included:
		return bytes.Compare(k, hi.key) <= 0
	case Excluded:
		return bytes.Compare(k, hi.key) < 0
	}
	return true
}

// over reports whether k is within lo, read as a lower bound.
func (lo rawBound) over(k []byte) bool {
	switch lo.kind {
	case Included:
		return bytes.Compare(k, lo.key) >= 0
	case Excluded:
		return bytes.Compare(k, lo.key) > 0
	}
	return true
}

func (db *Database[K, V]) encodeBound(b Bound[K]) (rawBound, error) {
	if b.Kind == Unbounded {
		return rawBound{}, nil
	}
	kb, err := db.encodeKey(b.Key)
	if err != nil {
		return rawBound{}, err
	}
	return rawBound{kind: b.Kind, key: kb}, nil
}

func (db *Database[K, V]) encodeRange(r Range[K]) (lo, hi rawBound, err error) {
	lo, err = db.encodeBound(r.Start)
	if err != nil {
		return
	}
	hi, err = db.encodeBound(r.End)
	return
}

// prefixRange returns the bounds of all keys starting with prefix.
func prefixRange(prefix []byte) (lo, hi rawBound) {
	if len(prefix) == 0 {
		return
	}
	lo = rawBound{kind: Included, key: prefix}
	succ := append([]byte(nil), prefix...)
	for i := len(succ) - 1; i >= 0; i-- {
		if succ[i] < 0xff {
			succ[i]++
			hi = rawBound{kind: Excluded, key: succ[:i+1]}
			return
		}
	}
	// all 0xff: no upper bound
	return
}

// plainCursor walks a bucket's plain entries, stepping over nested
// buckets, which bbolt reports with a nil value.
type plainCursor struct {
	c *bolt.Cursor
}

func (p plainCursor) fwd(k, v []byte) ([]byte, []byte) {
	for k != nil && v == nil {
		k, v = p.c.Next()
	}
	return k, v
}

func (p plainCursor) back(k, v []byte) ([]byte, []byte) {
	for k != nil && v == nil {
		k, v = p.c.Prev()
	}
	return k, v
}

func (p plainCursor) first() ([]byte, []byte)         { return p.fwd(p.c.First()) }
func (p plainCursor) last() ([]byte, []byte)          { return p.back(p.c.Last()) }
func (p plainCursor) next() ([]byte, []byte)          { return p.fwd(p.c.Next()) }
func (p plainCursor) prev() ([]byte, []byte)          { return p.back(p.c.Prev()) }
func (p plainCursor) seek(k []byte) ([]byte, []byte)  { return p.fwd(p.c.Seek(k)) }
func (p plainCursor) below(k []byte) ([]byte, []byte) { return p.end(rawBound{Excluded, k}) }

// start positions on the first entry within lo.
func (p plainCursor) start(lo rawBound) ([]byte, []byte) {
	switch lo.kind {
	case Included:
		return p.seek(lo.key)
	case Excluded:
		k, v := p.seek(lo.key)
		if k != nil && bytes.Equal(k, lo.key) {
			return p.next()
		}
		return k, v
	}
	return p.first()
}

// end positions on the last entry within hi.
func (p plainCursor) end(hi rawBound) ([]byte, []byte) {
	if hi.kind == Unbounded {
		return p.last()
	}
	k, v := p.c.Seek(hi.key)
	switch {
	case k == nil:
		return p.last()
	case hi.kind == Included && bytes.Equal(k, hi.key):
		return p.back(k, v)
	}
	return p.prev()
}

// Iter walks a database in key order or in reverse.  Every step goes
// through the transaction or view the iterator was opened with, so a
// step after that handle is finished, released or split fails.
//
//	it, err := db.Iter(txn)
//	for it.Next() {
//		use(it.Key(), it.Value())
//	}
//	err = it.Err()
//
// Iterators never mutate the database.  Writing the iterated database
// through a split WriteView while iterating makes the iterator skip or
// repeat entries; see Classify.
type Iter[K, V any] struct {
	db      *Database[K, V]
	txn     ReadTxn
	c       plainCursor
	lo, hi  rawBound
	reverse bool
	started bool
	done    bool
	key     K
	val     V
	err     error
}

func (db *Database[K, V]) iter(txn ReadTxn, lo, hi rawBound, reverse bool) (*Iter[K, V], error) {
	tx, leave, err := db.begin(txn, false)
	if err != nil {
		return nil, err
	}
	defer leave()
	it := &Iter[K, V]{db: db, txn: txn, lo: lo, hi: hi, reverse: reverse}
	b := db.bucket(tx)
	if b == nil {
		it.done = true
		return it, nil
	}
	it.c = plainCursor{b.Cursor()}
	return it, nil
}

// Iter iterates over every entry in key order.
func (db *Database[K, V]) Iter(txn ReadTxn) (*Iter[K, V], error) {
	return db.iter(txn, rawBound{}, rawBound{}, false)
}

// RevIter iterates over every entry in reverse key order.
func (db *Database[K, V]) RevIter(txn ReadTxn) (*Iter[K, V], error) {
	return db.iter(txn, rawBound{}, rawBound{}, true)
}

// Range iterates over the entries in r in key order.
func (db *Database[K, V]) Range(txn ReadTxn, r Range[K]) (*Iter[K, V], error) {
	lo, hi, err := db.encodeRange(r)
	if err != nil {
		return nil, err
	}
	return db.iter(txn, lo, hi, false)
}

// RevRange iterates over the entries in r in reverse key order.
func (db *Database[K, V]) RevRange(txn ReadTxn, r Range[K]) (*Iter[K, V], error) {
	lo, hi, err := db.encodeRange(r)
	if err != nil {
		return nil, err
	}
	return db.iter(txn, lo, hi, true)
}

// Prefix iterates over the entries whose encoded key starts with the
// encoding of prefix.
func (db *Database[K, V]) Prefix(txn ReadTxn, prefix K) (*Iter[K, V], error) {
	pb, err := db.encodeKey(prefix)
	if err != nil {
		return nil, err
	}
	lo, hi := prefixRange(pb)
	return db.iter(txn, lo, hi, false)
}

// RevPrefix is Prefix in reverse key order.
func (db *Database[K, V]) RevPrefix(txn ReadTxn, prefix K) (*Iter[K, V], error) {
	pb, err := db.encodeKey(prefix)
	if err != nil {
		return nil, err
	}
	lo, hi := prefixRange(pb)
	return db.iter(txn, lo, hi, true)
}

// Next advances to the next entry and reports whether there is one.
func (it *Iter[K, V]) Next() bool {
	if it.done || it.err != nil {
		return false
	}
	_, leave, err := it.txn.begin(it.db.name, false)
	if err != nil {
		it.err = err
		return false
	}
	defer leave()

	var k, v []byte
	switch {
	case !it.started && it.reverse:
		k, v = it.c.end(it.hi)
	case !it.started:
		k, v = it.c.start(it.lo)
	case it.reverse:
		k, v = it.c.prev()
	default:
		k, v = it.c.next()
	}
	it.started = true

	if k == nil || !it.hi.under(k) || !it.lo.over(k) {
		it.done = true
		return false
	}
	it.key, it.val, it.err = it.db.decode(k, v)
	return it.err == nil
}

// Key returns the current key.
func (it *Iter[K, V]) Key() K { return it.key }

// Value returns the current value.
func (it *Iter[K, V]) Value() V { return it.val }

// Err returns the error that stopped the iteration, if any.
func (it *Iter[K, V]) Err() error { return it.err }

// Collect drains the iterator into a slice of keys and a slice of
// values.
func (it *Iter[K, V]) Collect() (keys []K, vals []V, err error) {
	for it.Next() {
		keys = append(keys, it.Key())
		vals = append(vals, it.Value())
	}
	return keys, vals, it.Err()
}
