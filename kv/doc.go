/*
Package kv is a typed key-value layer over bbolt whose read-write
transactions can be split into a read view and a write view.

An Env is a directory holding one bbolt file.  It holds any number of
databases: the unnamed database, whose entries live in the root
directory bucket, and named databases, which are buckets nested in
that root directory.  Database[K, V] is a typed handle on one of
them; its accessors take a ReadTxn or a WriteTxn:

	ReadTxn:  *RoTxn  *RwTxn  *ReadView  *WriteView
	WriteTxn:         *RwTxn             *WriteView

# Splitting

RwTxn.Split returns a ReadView and a WriteView over the same bbolt
transaction, so one database can be read, with zero-copy values, while
another is written:

	err := txn.WithSplit(func(r *kv.ReadView, w *kv.WriteView) error {
		it, err := src.Iter(r)
		if err != nil {
			return err
		}
		for it.Next() {
			err = dst.Put(w, it.Key(), it.Value())
			if err != nil {
				return err
			}
		}
		return it.Err()
	})

While the views are alive the RwTxn refuses Commit, Abort, direct use
and a second Split.  Release both views, or return from WithSplit, to
get the transaction back.  A released view fails every call with
ErrViewReleased.

# Safety rules

bbolt keeps the nodes a transaction modifies on the Go heap and shifts
their entries in place on put and delete.  Pages freed by a
transaction are not reused before it commits.  From that:

  - Reading database A through the ReadView while writing database B
    through the WriteView is sound.  Values read from A stay valid and
    iterators over A are unaffected.
  - Reading and writing the same database is not sound.  Open
    iterators and cursors skip or repeat entries.
  - Reading the unnamed database while writing a named one is not
    sound.  Creating or dropping a named database, including the
    implicit creation on first write, moves entries in the root
    directory under the reader.
  - Write-mapped, in-place engine configurations are not supported;
    Open rejects Options.WriteMap.

Classify encodes these rules.  A split records the databases touched
through each view and logs a warning for every unsound pairing; the
pairings are available from RwTxn.SplitHazards afterwards.  They are
not errors.  Only the Database accessors and cursors are recorded;
work done on the raw bbolt transaction returned by a view's Tx is not.

Transactions and their views are used by one goroutine.  A call that
enters while another call on the same transaction is running fails
with ErrConcurrentUse.

There are no mutating iterators.  RwCursor.UnsafeDeleteCurrent and
RwCursor.UnsafePutCurrent are the only in-place mutations and are
refused while the transaction is split.  A cursor remembers the key it
is on: Current reads that key again, while its next step follows
bbolt's node position, which writes to the same database shift.

Env.Update finishes the transaction it passes to its function, so
Commit and Abort on it fail with ErrTxnManaged.
*/
package kv
