package kv

import (
	"bytes"
	"fmt"

	"github.com/stevegt/splitkv/kv/codec"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Database is a typed handle on one sub-store.  The unnamed database
// (name "") is the root directory itself; named databases are buckets
// nested in it.  A handle holds no transaction and can be reused
// across transactions of its environment.
type Database[K, V any] struct {
	env  *Env
	name string
	kc   codec.Codec[K]
	vc   codec.Codec[V]
}

// Name returns the database name; "" for the unnamed database.
func (db *Database[K, V]) Name() string {
	return db.name
}

func validName(name string) error {
	if len(name) > bolt.MaxKeySize {
		return fmt.Errorf("%w: %d bytes", ErrInvalidName, len(name))
	}
	return nil
}

// CreateDatabase opens the named database, creating it if needed.
// The empty name returns the unnamed database.
func CreateDatabase[K, V any](txn WriteTxn, name string, kc codec.Codec[K], vc codec.Codec[V]) (*Database[K, V], error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	db := &Database[K, V]{env: txn.Env(), name: name, kc: kc, vc: vc}
	tx, leave, err := txn.begin(name, true)
	if err != nil {
		return nil, err
	}
	defer leave()
	if _, err := db.writeBucket(tx); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenDatabase opens an existing database.  It returns
// ErrDatabaseNotFound if a named database does not exist.
func OpenDatabase[K, V any](txn ReadTxn, name string, kc codec.Codec[K], vc codec.Codec[V]) (*Database[K, V], error) {
	if err := validName(name); err != nil {
		return nil, err
	}
	db := &Database[K, V]{env: txn.Env(), name: name, kc: kc, vc: vc}
	tx, leave, err := txn.begin(name, false)
	if err != nil {
		return nil, err
	}
	defer leave()
	if name != "" && db.bucket(tx) == nil {
		return nil, fmt.Errorf("%w: %s", ErrDatabaseNotFound, name)
	}
	return db, nil
}

// DropDatabase deletes a named database and all of its entries.  It
// reports whether the database existed.
func DropDatabase(txn WriteTxn, name string) (bool, error) {
	if name == "" {
		return false, fmt.Errorf("%w: the unnamed database cannot be dropped", ErrInvalidName)
	}
	if err := validName(name); err != nil {
		return false, err
	}
	tx, leave, err := txn.begin(name, true)
	if err != nil {
		return false, err
	}
	defer leave()
	root := tx.Bucket(rootBucket)
	if root == nil || root.Bucket([]byte(name)) == nil {
		return false, nil
	}
	if err := root.DeleteBucket([]byte(name)); err != nil {
		return false, fmt.Errorf("kv: drop %s: %w", name, err)
	}
	if n := dbCount(tx); n > 0 {
		if err := setDbCount(tx, n-1); err != nil {
			return false, fmt.Errorf("kv: drop %s: %w", name, err)
		}
	}
	txn.Env().log.Debug("database dropped", zap.String("name", name))
	return true, nil
}

// ListDatabases returns the names of the named databases in key order.
// Listing reads the root directory, so it counts as a read of the
// unnamed database.
func (env *Env) ListDatabases(txn ReadTxn) (names []string, err error) {
	if txn.Env() != env {
		return nil, ErrEnvMismatch
	}
	tx, leave, err := txn.begin("", false)
	if err != nil {
		return nil, err
	}
	defer leave()
	root := tx.Bucket(rootBucket)
	if root == nil {
		return
	}
	c := root.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if v == nil {
			names = append(names, string(k))
		}
	}
	return
}

func (db *Database[K, V]) begin(txn ReadTxn, write bool) (*bolt.Tx, func(), error) {
	if txn.Env() != db.env {
		return nil, nil, ErrEnvMismatch
	}
	return txn.begin(db.name, write)
}

// bucket returns the database's bucket, or nil if it does not exist.
func (db *Database[K, V]) bucket(tx *bolt.Tx) *bolt.Bucket {
	root := tx.Bucket(rootBucket)
	if root == nil || db.name == "" {
		return root
	}
	return root.Bucket([]byte(db.name))
}

// writeBucket returns the database's bucket, creating a missing named
// bucket.
func (db *Database[K, V]) writeBucket(tx *bolt.Tx) (*bolt.Bucket, error) {
	root, err := tx.CreateBucketIfNotExists(rootBucket)
	if err != nil {
		return nil, fmt.Errorf("kv: root directory: %w", err)
	}
	if db.name == "" {
		return root, nil
	}
	if b := root.Bucket([]byte(db.name)); b != nil {
		return b, nil
	}
	n := dbCount(tx)
	if max := db.env.opts.MaxDBs; max > 0 && n >= uint64(max) {
		return nil, fmt.Errorf("%w: %d", ErrDbsFull, max)
	}
	b, err := root.CreateBucket([]byte(db.name))
	if err != nil {
		return nil, fmt.Errorf("kv: create %s: %w", db.name, err)
	}
	if err := setDbCount(tx, n+1); err != nil {
		return nil, fmt.Errorf("kv: create %s: %w", db.name, err)
	}
	db.env.log.Debug("database created", zap.String("name", db.name))
	return b, nil
}

func (db *Database[K, V]) encodeKey(key K) ([]byte, error) {
	kb, err := db.kc.Encode(key)
	if err != nil {
		return nil, fmt.Errorf("kv: encode key: %w", err)
	}
	return kb, nil
}

func (db *Database[K, V]) encodeValue(val V) ([]byte, error) {
	vb, err := db.vc.Encode(val)
	if err != nil {
		return nil, fmt.Errorf("kv: encode value: %w", err)
	}
	// bbolt keeps the value slice until commit, so the caller's buffer
	// must not be stored.  The copy is never nil, which would read as a
	// nested bucket.
	return append([]byte{}, vb...), nil
}

func (db *Database[K, V]) decode(k, v []byte) (key K, val V, err error) {
	key, err = db.kc.Decode(k)
	if err != nil {
		err = fmt.Errorf("kv: decode key: %w", err)
		return
	}
	val, err = db.vc.Decode(v)
	if err != nil {
		err = fmt.Errorf("kv: decode value: %w", err)
	}
	return
}

// Get returns the value stored under key.  Values decoded without a
// copy, such as those of codec.Bytes, are valid until the transaction
// ends, unless the same sub-store is written through a split view.
func (db *Database[K, V]) Get(txn ReadTxn, key K) (val V, ok bool, err error) {
	tx, leave, err := db.begin(txn, false)
	if err != nil {
		return
	}
	defer leave()
	b := db.bucket(tx)
	if b == nil {
		return
	}
	kb, err := db.encodeKey(key)
	if err != nil {
		return
	}
	raw := b.Get(kb)
	if raw == nil {
		return
	}
	val, err = db.vc.Decode(raw)
	if err != nil {
		err = fmt.Errorf("kv: decode value: %w", err)
		return
	}
	return val, true, nil
}

// GetGreaterThanOrEqual returns the first entry whose key is at least
// key.
func (db *Database[K, V]) GetGreaterThanOrEqual(txn ReadTxn, key K) (k K, v V, ok bool, err error) {
	tx, leave, err := db.begin(txn, false)
	if err != nil {
		return
	}
	defer leave()
	b := db.bucket(tx)
	if b == nil {
		return
	}
	kb, err := db.encodeKey(key)
	if err != nil {
		return
	}
	rk, rv := plainCursor{b.Cursor()}.seek(kb)
	if rk == nil {
		return
	}
	k, v, err = db.decode(rk, rv)
	return k, v, err == nil, err
}

// GetLowerThan returns the last entry whose key is strictly less than
// key.
func (db *Database[K, V]) GetLowerThan(txn ReadTxn, key K) (k K, v V, ok bool, err error) {
	tx, leave, err := db.begin(txn, false)
	if err != nil {
		return
	}
	defer leave()
	b := db.bucket(tx)
	if b == nil {
		return
	}
	kb, err := db.encodeKey(key)
	if err != nil {
		return
	}
	rk, rv := plainCursor{b.Cursor()}.below(kb)
	if rk == nil {
		return
	}
	k, v, err = db.decode(rk, rv)
	return k, v, err == nil, err
}

// First returns the entry with the lowest key.
func (db *Database[K, V]) First(txn ReadTxn) (k K, v V, ok bool, err error) {
	tx, leave, err := db.begin(txn, false)
	if err != nil {
		return
	}
	defer leave()
	b := db.bucket(tx)
	if b == nil {
		return
	}
	rk, rv := plainCursor{b.Cursor()}.first()
	if rk == nil {
		return
	}
	k, v, err = db.decode(rk, rv)
	return k, v, err == nil, err
}

// Last returns the entry with the highest key.
func (db *Database[K, V]) Last(txn ReadTxn) (k K, v V, ok bool, err error) {
	tx, leave, err := db.begin(txn, false)
	if err != nil {
		return
	}
	defer leave()
	b := db.bucket(tx)
	if b == nil {
		return
	}
	rk, rv := plainCursor{b.Cursor()}.last()
	if rk == nil {
		return
	}
	k, v, err = db.decode(rk, rv)
	return k, v, err == nil, err
}

// Len counts the entries.  The unnamed database does not count the
// directory entries of named databases.
func (db *Database[K, V]) Len(txn ReadTxn) (n int, err error) {
	tx, leave, err := db.begin(txn, false)
	if err != nil {
		return
	}
	defer leave()
	b := db.bucket(tx)
	if b == nil {
		return
	}
	c := b.Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		if v != nil {
			n++
		}
	}
	return
}

// IsEmpty reports whether the database has no entries.
func (db *Database[K, V]) IsEmpty(txn ReadTxn) (bool, error) {
	tx, leave, err := db.begin(txn, false)
	if err != nil {
		return false, err
	}
	defer leave()
	b := db.bucket(tx)
	if b == nil {
		return true, nil
	}
	k, _ := plainCursor{b.Cursor()}.first()
	return k == nil, nil
}

// Put stores val under key, replacing any previous value.
func (db *Database[K, V]) Put(txn WriteTxn, key K, val V) error {
	tx, leave, err := db.begin(txn, true)
	if err != nil {
		return err
	}
	defer leave()
	b, err := db.writeBucket(tx)
	if err != nil {
		return err
	}
	kb, err := db.encodeKey(key)
	if err != nil {
		return err
	}
	vb, err := db.encodeValue(val)
	if err != nil {
		return err
	}
	if err := b.Put(kb, vb); err != nil {
		return fmt.Errorf("kv: put: %w", err)
	}
	return nil
}

// PutNoOverwrite stores val under key unless key is already present,
// in which case it returns ErrKeyExists.
func (db *Database[K, V]) PutNoOverwrite(txn WriteTxn, key K, val V) error {
	tx, leave, err := db.begin(txn, true)
	if err != nil {
		return err
	}
	defer leave()
	b, err := db.writeBucket(tx)
	if err != nil {
		return err
	}
	kb, err := db.encodeKey(key)
	if err != nil {
		return err
	}
	if b.Get(kb) != nil || b.Bucket(kb) != nil {
		return ErrKeyExists
	}
	vb, err := db.encodeValue(val)
	if err != nil {
		return err
	}
	if err := b.Put(kb, vb); err != nil {
		return fmt.Errorf("kv: put: %w", err)
	}
	return nil
}

// Append stores val under key, which must sort after every key already
// in the database.  Pages filled by appends are packed full.
func (db *Database[K, V]) Append(txn WriteTxn, key K, val V) error {
	tx, leave, err := db.begin(txn, true)
	if err != nil {
		return err
	}
	defer leave()
	b, err := db.writeBucket(tx)
	if err != nil {
		return err
	}
	kb, err := db.encodeKey(key)
	if err != nil {
		return err
	}
	if last, _ := (plainCursor{b.Cursor()}).last(); last != nil && bytes.Compare(kb, last) <= 0 {
		return ErrNotAppendOrder
	}
	vb, err := db.encodeValue(val)
	if err != nil {
		return err
	}
	b.FillPercent = 1.0
	if err := b.Put(kb, vb); err != nil {
		return fmt.Errorf("kv: append: %w", err)
	}
	return nil
}

// Delete removes key and reports whether it was present.
func (db *Database[K, V]) Delete(txn WriteTxn, key K) (bool, error) {
	tx, leave, err := db.begin(txn, true)
	if err != nil {
		return false, err
	}
	defer leave()
	b := db.bucket(tx)
	if b == nil {
		return false, nil
	}
	kb, err := db.encodeKey(key)
	if err != nil {
		return false, err
	}
	if b.Get(kb) == nil {
		return false, nil
	}
	if err := b.Delete(kb); err != nil {
		return false, fmt.Errorf("kv: delete: %w", err)
	}
	return true, nil
}

// DeleteRange removes every entry in r and returns how many were
// removed.
func (db *Database[K, V]) DeleteRange(txn WriteTxn, r Range[K]) (int, error) {
	tx, leave, err := db.begin(txn, true)
	if err != nil {
		return 0, err
	}
	defer leave()
	b := db.bucket(tx)
	if b == nil {
		return 0, nil
	}
	lo, hi, err := db.encodeRange(r)
	if err != nil {
		return 0, err
	}
	return deleteKeys(b, collectKeys(b, lo, hi))
}

// Clear removes every entry.  Named databases nested in the unnamed
// database are left alone.
func (db *Database[K, V]) Clear(txn WriteTxn) (int, error) {
	tx, leave, err := db.begin(txn, true)
	if err != nil {
		return 0, err
	}
	defer leave()
	b := db.bucket(tx)
	if b == nil {
		return 0, nil
	}
	return deleteKeys(b, collectKeys(b, rawBound{}, rawBound{}))
}

// collectKeys copies the keys of the plain entries between lo and hi.
func collectKeys(b *bolt.Bucket, lo, hi rawBound) (keys [][]byte) {
	c := plainCursor{b.Cursor()}
	for k, _ := c.start(lo); k != nil && hi.under(k); k, _ = c.next() {
		keys = append(keys, append([]byte(nil), k...))
	}
	return
}

func deleteKeys(b *bolt.Bucket, keys [][]byte) (int, error) {
	for i, k := range keys {
		if err := b.Delete(k); err != nil {
			return i, fmt.Errorf("kv: delete: %w", err)
		}
	}
	return len(keys), nil
}
