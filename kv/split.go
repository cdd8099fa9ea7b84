package kv

import (
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// session is one split of a transaction.
type session struct {
	st          *txnState
	gen         uint64
	outstanding int
	closed      bool
	audit       *audit
}

func (s *session) leave() {
	s.outstanding--
	if s.outstanding == 0 {
		s.close()
	}
}

func (s *session) close() {
	if s.closed {
		return
	}
	s.closed = true
	st := s.st
	if st.split == s {
		st.split = nil
	}
	st.hazards = append(st.hazards, s.audit.hazards...)
	st.env.log.Debug("split released",
		zap.Uint64("split", s.gen),
		zap.Int("hazards", len(s.audit.hazards)))
}

// revokeSplit invalidates the outstanding views, if any.
func (st *txnState) revokeSplit() {
	if st.split != nil {
		st.split.close()
	}
}

// Split divides the transaction into a ReadView and a WriteView over
// the same bbolt transaction.  Until both views are released the
// transaction cannot be used directly, committed or aborted.
//
// The views may be used alternately, from one goroutine, provided the
// ReadView only reads sub-stores the WriteView does not write and the
// ReadView does not read the unnamed sub-store while the WriteView
// writes a named one.  See Classify.
func (t *RwTxn) Split() (*ReadView, *WriteView, error) {
	st := t.st
	if err := st.live(); err != nil {
		return nil, nil, err
	}
	if st.split != nil {
		return nil, nil, ErrAlreadySplit
	}
	if err := st.enter(); err != nil {
		return nil, nil, err
	}
	defer st.leave()

	s := &session{
		st:          st,
		gen:         st.gen.Inc(),
		outstanding: 2,
		audit:       newAudit(),
	}
	st.split = s
	st.env.metrics.split()
	st.env.log.Debug("split", zap.Int("txid", st.tx.ID()), zap.Uint64("split", s.gen))
	return &ReadView{view{sess: s}}, &WriteView{view{sess: s}}, nil
}

// WithSplit splits the transaction, calls fn with the views and
// releases both when fn returns.
func (t *RwTxn) WithSplit(fn func(r *ReadView, w *WriteView) error) error {
	r, w, err := t.Split()
	if err != nil {
		return err
	}
	defer w.Release()
	defer r.Release()
	return fn(r, w)
}

type view struct {
	sess     *session
	released bool
}

func (v *view) check() error {
	if v.released || v.sess.closed {
		return ErrViewReleased
	}
	return v.sess.st.live()
}

func (v *view) tx() (*bolt.Tx, error) {
	if err := v.check(); err != nil {
		return nil, err
	}
	return v.sess.st.tx, nil
}

func (v *view) enter() (*bolt.Tx, func(), error) {
	if err := v.check(); err != nil {
		return nil, nil, err
	}
	st := v.sess.st
	if err := st.enter(); err != nil {
		return nil, nil, err
	}
	return st.tx, st.leave, nil
}

func (v *view) release() {
	if v.released {
		return
	}
	v.released = true
	if !v.sess.closed {
		v.sess.leave()
	}
}

// ReadView grants read access to the transaction it was split from.
type ReadView struct {
	view
}

// Tx returns the shared bbolt transaction, which is writable.  The
// view grants read access only: a write made through the raw
// transaction escapes the split audit, and a read is not attributed to
// any database.  Use the Database accessors.
func (r *ReadView) Tx() (*bolt.Tx, error) { return r.tx() }

func (r *ReadView) Env() *Env { return r.sess.st.env }

func (r *ReadView) begin(name string, write bool) (*bolt.Tx, func(), error) {
	tx, leave, err := r.enter()
	if err != nil {
		return nil, nil, err
	}
	r.sess.noteRead(name)
	return tx, leave, nil
}

// Release gives the view back.  Releasing twice is a no-op.
func (r *ReadView) Release() { r.release() }

// WriteView grants read and write access to the transaction it was
// split from.
type WriteView struct {
	view
}

// Tx returns the shared bbolt transaction.  Writes made through it are
// not audited.
func (w *WriteView) Tx() (*bolt.Tx, error) { return w.tx() }

func (w *WriteView) Env() *Env { return w.sess.st.env }

func (w *WriteView) begin(name string, write bool) (*bolt.Tx, func(), error) {
	tx, leave, err := w.enter()
	if err != nil {
		return nil, nil, err
	}
	if write {
		w.sess.noteWrite(name)
	}
	return tx, leave, nil
}

func (w *WriteView) writable() {}

// Release gives the view back.  Releasing twice is a no-op.
func (w *WriteView) Release() { w.release() }
