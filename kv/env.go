package kv

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	. "github.com/stevegt/goadapt"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

const (
	// DataFile is the bbolt file inside an environment directory.
	DataFile = "data.db"
	// LockFile guards the environment directory across processes.
	LockFile = "lock"
)

var (
	// rootBucket is the root directory: the unnamed database's entries
	// live directly in it and every named database is a nested bucket
	// inside it.
	rootBucket = []byte("main")
	metaBucket = []byte("meta")
)

// Env is an open environment: a directory holding one bbolt data file
// and a lock file.  An Env hands out transactions; all reads and writes
// go through them.
type Env struct {
	dir     string
	opts    Options
	bdb     *bolt.DB
	lock    *flock.Flock
	log     *zap.Logger
	metrics *metrics
	format  string
	id      uuid.UUID
}

// Open opens the environment in dir, creating it unless opts.ReadOnly
// is set.
func Open(dir string, opts Options) (env *Env, err error) {
	var lock *flock.Flock
	var bdb *bolt.DB
	defer func() {
		if err == nil {
			return
		}
		if bdb != nil {
			bdb.Close()
		}
		if lock != nil {
			lock.Unlock()
		}
	}()
	defer Return(&err)

	opts = opts.withDefaults()
	if opts.WriteMap {
		return nil, ErrWriteMapUnsupported
	}
	if !opts.ReadOnly {
		err = os.MkdirAll(dir, 0700)
		Ck(err)
	}

	lock = flock.New(filepath.Join(dir, LockFile))
	var locked bool
	if opts.ReadOnly {
		locked, err = lock.TryRLock()
	} else {
		locked, err = lock.TryLock()
	}
	Ck(err)
	if !locked {
		lock = nil
		return nil, fmt.Errorf("%w: %s", ErrEnvLocked, dir)
	}

	bdb, err = bolt.Open(filepath.Join(dir, DataFile), opts.FileMode, opts.bolt())
	Ck(err)

	env = &Env{
		dir:     dir,
		opts:    opts,
		bdb:     bdb,
		lock:    lock,
		log:     opts.Logger.Named("splitkv"),
		metrics: newMetrics(opts.Registerer),
	}
	if opts.ReadOnly {
		err = bdb.View(env.checkFormat)
	} else {
		err = bdb.Update(env.bootstrap)
	}
	if err != nil {
		return nil, err
	}

	env.log.Info("environment opened",
		zap.String("dir", dir),
		zap.String("format", env.format),
		zap.Stringer("id", env.id),
		zap.Bool("readOnly", opts.ReadOnly))
	return
}

// Close closes the data file and releases the directory lock.  All
// transactions must be finished first.
func (env *Env) Close() (err error) {
	defer Return(&err)
	err = env.bdb.Close()
	Ck(err)
	err = env.lock.Unlock()
	Ck(err)
	env.log.Info("environment closed", zap.String("dir", env.dir))
	return
}

// Dir returns the environment directory.
func (env *Env) Dir() string {
	return env.dir
}

// Format returns the on-disk format version of the environment.
func (env *Env) Format() string {
	return env.format
}

// ID returns the id assigned when the environment was created.  It is
// uuid.Nil for a read-only open of an environment that was never
// written.  Backups carry the id of their source.
func (env *Env) ID() uuid.UUID {
	return env.id
}

// Logger returns the environment's logger.
func (env *Env) Logger() *zap.Logger {
	return env.log
}

// Options returns the options the environment was opened with.
func (env *Env) Options() Options {
	return env.opts
}

// WriteTxn begins a read-write transaction.  bbolt allows one writer at
// a time; WriteTxn blocks until the previous writer finishes.
func (env *Env) WriteTxn() (*RwTxn, error) {
	tx, err := env.bdb.Begin(true)
	if err != nil {
		return nil, fmt.Errorf("kv: begin write transaction: %w", err)
	}
	return &RwTxn{st: newTxnState(env, tx)}, nil
}

// ReadTxn begins a read-only transaction over the last committed state.
func (env *Env) ReadTxn() (*RoTxn, error) {
	tx, err := env.bdb.Begin(false)
	if err != nil {
		return nil, fmt.Errorf("kv: begin read transaction: %w", err)
	}
	return &RoTxn{st: newTxnState(env, tx)}, nil
}

// Update runs fn in a write transaction and commits it if fn returns
// nil.  fn must not commit or abort the transaction itself.  A split left outstanding by fn is revoked and the transaction
// is aborted with ErrSplitOutstanding.
func (env *Env) Update(fn func(*RwTxn) error) (err error) {
	t, err := env.WriteTxn()
	if err != nil {
		return err
	}
	t.managed = true
	defer func() {
		if p := recover(); p != nil {
			t.st.revokeSplit()
			t.abort()
			panic(p)
		}
	}()

	err = fn(t)
	if t.st.split != nil {
		t.st.revokeSplit()
		if err == nil {
			err = ErrSplitOutstanding
		}
	}
	if err != nil {
		if aerr := t.abort(); aerr != nil {
			env.log.Warn("abort failed", zap.Error(aerr))
		}
		return err
	}
	return t.commit()
}

// View runs fn in a read transaction.
func (env *Env) View(fn func(*RoTxn) error) error {
	t, err := env.ReadTxn()
	if err != nil {
		return err
	}
	defer t.Abort()
	return fn(t)
}

// Backup writes a consistent copy of the data file to path.  The copy
// can be opened by placing it in a directory as DataFile.
func (env *Env) Backup(path string) error {
	err := env.bdb.View(func(tx *bolt.Tx) error {
		return tx.CopyFile(path, env.opts.FileMode)
	})
	if err != nil {
		return fmt.Errorf("kv: backup: %w", err)
	}
	env.log.Info("backup written", zap.String("path", path))
	return nil
}

// Stats returns engine statistics.
func (env *Env) Stats() bolt.Stats {
	return env.bdb.Stats()
}
