package kv

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// ReadTxn is any handle that may read sub-stores: *RoTxn, *RwTxn,
// *ReadView and *WriteView.  The interface is sealed; only this
// package provides implementations.
type ReadTxn interface {
	// Tx returns the underlying bbolt transaction.  It fails when the
	// handle is finished or released, and on a split RwTxn.
	Tx() (*bolt.Tx, error)
	Env() *Env
	begin(name string, write bool) (*bolt.Tx, func(), error)
}

// WriteTxn is any handle that may also write sub-stores: *RwTxn and
// *WriteView.
type WriteTxn interface {
	ReadTxn
	writable()
}

var (
	_ ReadTxn  = (*RoTxn)(nil)
	_ WriteTxn = (*RwTxn)(nil)
	_ ReadTxn  = (*ReadView)(nil)
	_ WriteTxn = (*WriteView)(nil)
)

// txnState is shared by a transaction and the views split from it.
// A transaction is owned by one goroutine; busy only catches a second
// goroutine entering while a call is in progress.
type txnState struct {
	env  *Env
	tx   *bolt.Tx
	done atomic.Bool
	busy atomic.Bool
	// gen counts splits made on this transaction.
	gen   atomic.Uint64
	split *session
	// hazards recorded by finished splits
	hazards []Hazard
}

func newTxnState(env *Env, tx *bolt.Tx) *txnState {
	return &txnState{env: env, tx: tx}
}

func (st *txnState) live() error {
	if st.done.Load() {
		return ErrTxnDone
	}
	return nil
}

func (st *txnState) enter() error {
	if !st.busy.CompareAndSwap(false, true) {
		return ErrConcurrentUse
	}
	return nil
}

func (st *txnState) leave() {
	st.busy.Store(false)
}

// direct gates use of the transaction itself, as opposed to a view.
func (st *txnState) direct() (*bolt.Tx, func(), error) {
	if err := st.live(); err != nil {
		return nil, nil, err
	}
	if st.split != nil {
		return nil, nil, ErrSplitOutstanding
	}
	if err := st.enter(); err != nil {
		return nil, nil, err
	}
	return st.tx, st.leave, nil
}

// RoTxn is a read-only transaction over a consistent snapshot.
type RoTxn struct {
	st *txnState
}

func (t *RoTxn) Tx() (*bolt.Tx, error) {
	if err := t.st.live(); err != nil {
		return nil, err
	}
	return t.st.tx, nil
}

func (t *RoTxn) Env() *Env { return t.st.env }

func (t *RoTxn) begin(string, bool) (*bolt.Tx, func(), error) {
	return t.st.direct()
}

// ID returns the bbolt transaction id.
func (t *RoTxn) ID() int { return t.st.tx.ID() }

// Abort ends the read transaction.  Aborting twice returns ErrTxnDone.
func (t *RoTxn) Abort() error {
	st := t.st
	if err := st.enter(); err != nil {
		return err
	}
	defer st.leave()
	if !st.done.CompareAndSwap(false, true) {
		return ErrTxnDone
	}
	if err := st.tx.Rollback(); err != nil {
		return fmt.Errorf("kv: abort: %w", err)
	}
	return nil
}

// RwTxn is the read-write transaction.  It can be split into a
// ReadView and a WriteView; while the views are outstanding the
// transaction itself can be neither used nor finished.
type RwTxn struct {
	st *txnState
	// set inside Env.Update, which finishes the transaction itself
	managed bool
}

func (t *RwTxn) Tx() (*bolt.Tx, error) {
	if err := t.st.live(); err != nil {
		return nil, err
	}
	if t.st.split != nil {
		return nil, ErrSplitOutstanding
	}
	return t.st.tx, nil
}

func (t *RwTxn) Env() *Env { return t.st.env }

func (t *RwTxn) begin(string, bool) (*bolt.Tx, func(), error) {
	return t.st.direct()
}

func (t *RwTxn) writable() {}

// ID returns the bbolt transaction id.
func (t *RwTxn) ID() int { return t.st.tx.ID() }

// Commit writes the transaction.  It fails with ErrSplitOutstanding
// while split views are alive and with ErrTxnManaged inside
// Env.Update.
func (t *RwTxn) Commit() error {
	if t.managed {
		return ErrTxnManaged
	}
	return t.commit()
}

func (t *RwTxn) commit() error {
	_, leave, err := t.st.direct()
	if err != nil {
		return err
	}
	defer leave()
	st := t.st
	st.done.Store(true)
	if err := st.tx.Commit(); err != nil {
		st.env.log.Warn("commit failed", zap.Int("txid", st.tx.ID()), zap.Error(err))
		return fmt.Errorf("kv: commit: %w", err)
	}
	st.env.metrics.commit()
	return nil
}

// Abort discards the transaction.  It fails with ErrSplitOutstanding
// while split views are alive and with ErrTxnManaged inside
// Env.Update.
func (t *RwTxn) Abort() error {
	if t.managed {
		return ErrTxnManaged
	}
	return t.abort()
}

func (t *RwTxn) abort() error {
	_, leave, err := t.st.direct()
	if err != nil {
		return err
	}
	defer leave()
	st := t.st
	st.done.Store(true)
	if err := st.tx.Rollback(); err != nil {
		return fmt.Errorf("kv: abort: %w", err)
	}
	st.env.metrics.abort()
	return nil
}

// SplitHazards returns the unsound pairings recorded by the finished
// splits of this transaction, in the order they were observed.
func (t *RwTxn) SplitHazards() []Hazard {
	return t.st.hazards
}
