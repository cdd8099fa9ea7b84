package kv

import "errors"

// Lifecycle misuse.  These replace what a borrow checker would reject
// at compile time.
var (
	// ErrSplitOutstanding is returned when a transaction is committed,
	// aborted or used directly while its split views are alive, and
	// when an unsafe cursor mutation is attempted during a split.
	ErrSplitOutstanding = errors.New("kv: transaction has outstanding split views")
	// ErrAlreadySplit is returned by Split while a previous split's
	// views are still alive.
	ErrAlreadySplit = errors.New("kv: transaction is already split")
	// ErrViewReleased is returned by any operation on a released view.
	ErrViewReleased = errors.New("kv: view has been released")
	// ErrTxnDone is returned by any operation on a committed or
	// aborted transaction.
	ErrTxnDone = errors.New("kv: transaction has been committed or aborted")
	// ErrConcurrentUse is returned when a transaction, or one of its
	// views, is entered while another call on the same transaction is
	// still running.
	ErrConcurrentUse = errors.New("kv: transaction used from more than one goroutine")
	// ErrTxnManaged is returned by Commit and Abort on the transaction
	// passed to Env.Update, which finishes it on return.
	ErrTxnManaged = errors.New("kv: managed transaction cannot be committed or aborted")
)

// Environment and directory errors.
var (
	ErrEnvLocked           = errors.New("kv: environment is locked by another process")
	ErrWriteMapUnsupported = errors.New("kv: write-mapped environments are not supported")
	ErrFormatTooNew        = errors.New("kv: environment format is newer than this code")
	ErrDatabaseNotFound    = errors.New("kv: database not found")
	ErrDbsFull             = errors.New("kv: maximum number of named databases reached")
	ErrInvalidName         = errors.New("kv: invalid database name")
)

// Accessor errors.
var (
	ErrKeyExists      = errors.New("kv: key already exists")
	ErrNotAppendOrder = errors.New("kv: appended key is not greater than the last key")
)

// ErrEnvMismatch is returned when a database handle is used with a
// transaction of another environment.
var ErrEnvMismatch = errors.New("kv: database belongs to another environment")
