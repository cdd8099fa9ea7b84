package kv

import (
	"bytes"
	"fmt"

	bolt "go.etcd.io/bbolt"
)

// RoCursor is a positioned read cursor over one database.  Like Iter,
// every move goes through the handle the cursor was opened with.
type RoCursor[K, V any] struct {
	db  *Database[K, V]
	txn ReadTxn
	b   *bolt.Bucket
	c   plainCursor
	// key under the cursor, nil when unpositioned
	cur     []byte
	deleted bool
}

// OpenRoCursor opens a read cursor.  It starts unpositioned.
func (db *Database[K, V]) OpenRoCursor(txn ReadTxn) (*RoCursor[K, V], error) {
	tx, leave, err := db.begin(txn, false)
	if err != nil {
		return nil, err
	}
	defer leave()
	c := &RoCursor[K, V]{db: db, txn: txn}
	if b := db.bucket(tx); b != nil {
		c.b = b
		c.c = plainCursor{b.Cursor()}
	}
	return c, nil
}

func (c *RoCursor[K, V]) move(step func() ([]byte, []byte)) (k K, v V, ok bool, err error) {
	_, leave, err := c.txn.begin(c.db.name, false)
	if err != nil {
		return
	}
	defer leave()
	if c.b == nil {
		return
	}
	rk, rv := step()
	c.cur = rk
	c.deleted = false
	if rk == nil {
		return
	}
	k, v, err = c.db.decode(rk, rv)
	return k, v, err == nil, err
}

// First moves to the first entry.
func (c *RoCursor[K, V]) First() (K, V, bool, error) {
	return c.move(c.c.first)
}

// Last moves to the last entry.
func (c *RoCursor[K, V]) Last() (K, V, bool, error) {
	return c.move(c.c.last)
}

// Next moves to the following entry.
func (c *RoCursor[K, V]) Next() (K, V, bool, error) {
	return c.move(func() ([]byte, []byte) {
		if c.deleted {
			// bbolt leaves the cursor on the successor of a deleted key
			return c.c.seek(c.cur)
		}
		return c.c.next()
	})
}

// Prev moves to the preceding entry.
func (c *RoCursor[K, V]) Prev() (K, V, bool, error) {
	return c.move(func() ([]byte, []byte) {
		if c.deleted {
			return c.c.below(c.cur)
		}
		return c.c.prev()
	})
}

// Seek moves to the first entry whose key is at least key.
func (c *RoCursor[K, V]) Seek(key K) (k K, v V, ok bool, err error) {
	kb, err := c.db.encodeKey(key)
	if err != nil {
		return
	}
	return c.move(func() ([]byte, []byte) {
		return c.c.seek(kb)
	})
}

// SeekExact moves to the entry stored under key.  If there is none
// the cursor is left unpositioned.
func (c *RoCursor[K, V]) SeekExact(key K) (v V, ok bool, err error) {
	kb, err := c.db.encodeKey(key)
	if err != nil {
		return
	}
	_, v, ok, err = c.move(func() ([]byte, []byte) {
		rk, rv := c.c.seek(kb)
		if !bytes.Equal(rk, kb) {
			return nil, nil
		}
		return rk, rv
	})
	return
}

// Current returns the entry under the cursor.  The value is read
// again, so it reflects writes made since the cursor moved there; ok
// is false if the cursor is unpositioned or its key has since been
// deleted.
func (c *RoCursor[K, V]) Current() (k K, v V, ok bool, err error) {
	_, leave, err := c.txn.begin(c.db.name, false)
	if err != nil {
		return
	}
	defer leave()
	if c.b == nil || c.cur == nil || c.deleted {
		return
	}
	rv := c.b.Get(c.cur)
	if rv == nil {
		return
	}
	k, v, err = c.db.decode(c.cur, rv)
	return k, v, err == nil, err
}

// RwCursor is a cursor that can change the entry under it.
//
// The mutating methods are unsafe: they shift bbolt's in-memory node
// under every other cursor and iterator open on the same database in
// this transaction.  They are refused while the transaction is split
// and on cursors opened through a WriteView.
type RwCursor[K, V any] struct {
	RoCursor[K, V]
	viaView bool
}

// OpenRwCursor opens a read-write cursor, creating a missing named
// database.
func (db *Database[K, V]) OpenRwCursor(txn WriteTxn) (*RwCursor[K, V], error) {
	tx, leave, err := db.begin(txn, true)
	if err != nil {
		return nil, err
	}
	defer leave()
	b, err := db.writeBucket(tx)
	if err != nil {
		return nil, err
	}
	_, viaView := txn.(*WriteView)
	c := &RwCursor[K, V]{
		RoCursor: RoCursor[K, V]{db: db, txn: txn, b: b, c: plainCursor{b.Cursor()}},
		viaView:  viaView,
	}
	return c, nil
}

func (c *RwCursor[K, V]) beginUnsafe() (func(), error) {
	if c.viaView {
		return nil, ErrSplitOutstanding
	}
	_, leave, err := c.txn.begin(c.db.name, true)
	if err != nil {
		return nil, err
	}
	return leave, nil
}

// UnsafeDeleteCurrent deletes the entry under the cursor and reports
// whether there was one.  The following Next or Prev moves relative to
// the deleted key.
func (c *RwCursor[K, V]) UnsafeDeleteCurrent() (bool, error) {
	leave, err := c.beginUnsafe()
	if err != nil {
		return false, err
	}
	defer leave()
	if c.cur == nil || c.deleted {
		return false, nil
	}
	c.cur = append([]byte(nil), c.cur...)
	if err := c.c.c.Delete(); err != nil {
		return false, fmt.Errorf("kv: delete current: %w", err)
	}
	c.deleted = true
	return true, nil
}

// UnsafePutCurrent replaces the value of the entry under the cursor
// and reports whether there was one.
func (c *RwCursor[K, V]) UnsafePutCurrent(val V) (bool, error) {
	leave, err := c.beginUnsafe()
	if err != nil {
		return false, err
	}
	defer leave()
	if c.cur == nil || c.deleted {
		return false, nil
	}
	vb, err := c.db.encodeValue(val)
	if err != nil {
		return false, err
	}
	if err := c.b.Put(append([]byte(nil), c.cur...), vb); err != nil {
		return false, fmt.Errorf("kv: put current: %w", err)
	}
	return true, nil
}
