package kv

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/splitkv/kv/codec"
)

func newEnv(t *testing.T, opts ...Options) *Env {
	t.Helper()
	o := Options{NoSync: true}
	if len(opts) > 0 {
		o = opts[0]
	}
	env, err := Open(t.TempDir(), o)
	Tassert(t, err == nil, "open: %v", err)
	t.Cleanup(func() { env.Close() })
	return env
}

// update runs fn in a write transaction that must commit.
func update(t *testing.T, env *Env, fn func(txn *RwTxn)) {
	t.Helper()
	err := env.Update(func(txn *RwTxn) error {
		fn(txn)
		return nil
	})
	Tassert(t, err == nil, "update: %v", err)
}

func strDb(t *testing.T, txn WriteTxn, name string) *Database[string, string] {
	t.Helper()
	db, err := CreateDatabase[string, string](txn, name, codec.Str{}, codec.Str{})
	Tassert(t, err == nil, "create %q: %v", name, err)
	return db
}

// As a caller, I want to open a new environment in an empty directory.
func TestOpen(t *testing.T) {
	env := newEnv(t)
	Tassert(t, env.Format() == FormatVersion, "%v", env.Format())
	Tassert(t, env.Dir() != "")
}

// As a caller, I want a second open of the same directory to fail
// instead of corrupting the environment.
func TestOpenLocked(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, Options{NoSync: true})
	Tassert(t, err == nil, "%v", err)
	defer env.Close()

	_, err = Open(dir, Options{NoSync: true})
	Tassert(t, errors.Is(err, ErrEnvLocked), "%v", err)
}

func TestOpenWriteMap(t *testing.T) {
	_, err := Open(t.TempDir(), Options{WriteMap: true})
	Tassert(t, errors.Is(err, ErrWriteMapUnsupported), "%v", err)
}

func TestCloseReopen(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, Options{NoSync: true})
	Tassert(t, err == nil, "%v", err)
	id := env.ID()
	Tassert(t, id != uuid.Nil, "no environment id")
	update(t, env, func(txn *RwTxn) {
		db := strDb(t, txn, "fruit")
		err := db.Put(txn, "apple", "red")
		Tassert(t, err == nil, "%v", err)
	})
	err = env.Close()
	Tassert(t, err == nil, "%v", err)

	env, err = Open(dir, Options{ReadOnly: true})
	Tassert(t, err == nil, "%v", err)
	defer env.Close()
	Tassert(t, env.ID() == id, "id changed from %s to %s", id, env.ID())
	err = env.View(func(txn *RoTxn) error {
		db, err := OpenDatabase[string, string](txn, "fruit", codec.Str{}, codec.Str{})
		Tassert(t, err == nil, "%v", err)
		v, ok, err := db.Get(txn, "apple")
		Tassert(t, err == nil, "%v", err)
		Tassert(t, ok && v == "red", "%v", v)
		return nil
	})
	Tassert(t, err == nil, "%v", err)

	_, err = env.WriteTxn()
	Tassert(t, err != nil, "read-only environment accepted a write transaction")
}

func setFormat(t *testing.T, env *Env, version string) {
	t.Helper()
	update(t, env, func(txn *RwTxn) {
		tx, err := txn.Tx()
		Tassert(t, err == nil, "%v", err)
		err = tx.Bucket(metaBucket).Put(formatKey, []byte(version))
		Tassert(t, err == nil, "%v", err)
	})
}

// As a caller, I want an environment written by newer code to be
// refused.
func TestFormatTooNew(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, Options{NoSync: true})
	Tassert(t, err == nil, "%v", err)
	setFormat(t, env, "9.0.0")
	env.Close()

	_, err = Open(dir, Options{NoSync: true})
	Tassert(t, errors.Is(err, ErrFormatTooNew), "%v", err)

	// the failed open must release the directory lock
	_, err = Open(dir, Options{ReadOnly: true})
	Tassert(t, errors.Is(err, ErrFormatTooNew), "%v", err)
}

// As a caller, I want an environment written by older code to be
// upgraded when opened for writing.
func TestFormatUpgrade(t *testing.T) {
	dir := t.TempDir()
	env, err := Open(dir, Options{NoSync: true})
	Tassert(t, err == nil, "%v", err)
	setFormat(t, env, "0.9.1")
	env.Close()

	env, err = Open(dir, Options{NoSync: true})
	Tassert(t, err == nil, "%v", err)
	defer env.Close()
	Tassert(t, env.Format() == FormatVersion, "%v", env.Format())
	err = env.View(func(txn *RoTxn) error {
		tx, err := txn.Tx()
		Tassert(t, err == nil, "%v", err)
		got := string(tx.Bucket(metaBucket).Get(formatKey))
		Tassert(t, got == FormatVersion, "%v", got)
		return nil
	})
	Tassert(t, err == nil, "%v", err)
}

func TestUpdateAbortsOnError(t *testing.T) {
	env := newEnv(t)
	boom := errors.New("boom")
	err := env.Update(func(txn *RwTxn) error {
		db := strDb(t, txn, "")
		err := db.Put(txn, "k", "v")
		Tassert(t, err == nil, "%v", err)
		return boom
	})
	Tassert(t, err == boom, "%v", err)

	err = env.View(func(txn *RoTxn) error {
		db, err := OpenDatabase[string, string](txn, "", codec.Str{}, codec.Str{})
		Tassert(t, err == nil, "%v", err)
		n, err := db.Len(txn)
		Tassert(t, err == nil, "%v", err)
		Tassert(t, n == 0, "%v", n)
		return nil
	})
	Tassert(t, err == nil, "%v", err)
}

// As a caller, I want to back up an environment while it is open and
// open the backup as an environment of its own.
func TestBackup(t *testing.T) {
	env := newEnv(t)
	update(t, env, func(txn *RwTxn) {
		fill(t, txn, strDb(t, txn, "a"), "x", "y")
	})

	dir := t.TempDir()
	err := env.Backup(filepath.Join(dir, DataFile))
	Tassert(t, err == nil, "%v", err)

	backup, err := Open(dir, Options{ReadOnly: true})
	Tassert(t, err == nil, "%v", err)
	defer backup.Close()
	Tassert(t, backup.ID() == env.ID(), "%s != %s", backup.ID(), env.ID())
	err = backup.View(func(txn *RoTxn) error {
		db, err := OpenDatabase[string, string](txn, "a", codec.Str{}, codec.Str{})
		Tassert(t, err == nil, "%v", err)
		n, err := db.Len(txn)
		Tassert(t, err == nil && n == 2, "%d %v", n, err)
		return nil
	})
	Tassert(t, err == nil, "%v", err)
}

// The transaction handed to Update is finished by Update alone.
func TestUpdateManaged(t *testing.T) {
	env := newEnv(t)
	err := env.Update(func(txn *RwTxn) error {
		err := strDb(t, txn, "a").Put(txn, "k", "v")
		Tassert(t, err == nil, "%v", err)
		err = txn.Commit()
		Tassert(t, errors.Is(err, ErrTxnManaged), "%v", err)
		err = txn.Abort()
		Tassert(t, errors.Is(err, ErrTxnManaged), "%v", err)
		return nil
	})
	Tassert(t, err == nil, "%v", err)

	err = env.View(func(txn *RoTxn) error {
		db, err := OpenDatabase[string, string](txn, "a", codec.Str{}, codec.Str{})
		Tassert(t, err == nil, "%v", err)
		v, ok, err := db.Get(txn, "k")
		Tassert(t, err == nil && ok && v == "v", "%q %v", v, err)
		return nil
	})
	Tassert(t, err == nil, "%v", err)
}
