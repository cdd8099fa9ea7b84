package kv

import (
	"errors"
	"testing"

	. "github.com/stevegt/goadapt"
	"github.com/stevegt/splitkv/kv/codec"
)

func fill(t *testing.T, txn WriteTxn, db *Database[string, string], keys ...string) {
	t.Helper()
	for _, k := range keys {
		err := db.Put(txn, k, "v"+k)
		Tassert(t, err == nil, "put %s: %v", k, err)
	}
}

// As a caller, I want to put, get and delete typed entries.
func TestPutGetDelete(t *testing.T) {
	env := newEnv(t)
	txn, err := env.WriteTxn()
	Tassert(t, err == nil, "%v", err)
	defer txn.Abort()
	db, err := CreateDatabase[uint64, []string](txn, "nums", codec.Uint64{}, codec.CBOR[[]string]{})
	Tassert(t, err == nil, "%v", err)
	Tassert(t, db.Name() == "nums")

	err = db.Put(txn, 42, []string{"forty", "two"})
	Tassert(t, err == nil, "%v", err)
	v, ok, err := db.Get(txn, 42)
	Tassert(t, err == nil && ok, "%v", err)
	Tassert(t, len(v) == 2 && v[1] == "two", "%v", v)

	_, ok, err = db.Get(txn, 43)
	Tassert(t, err == nil && !ok, "%v", err)

	ok, err = db.Delete(txn, 42)
	Tassert(t, err == nil && ok, "%v", err)
	ok, err = db.Delete(txn, 42)
	Tassert(t, err == nil && !ok, "%v", err)
	empty, err := db.IsEmpty(txn)
	Tassert(t, err == nil && empty, "%v", err)
}

func TestPutNoOverwrite(t *testing.T) {
	env := newEnv(t)
	txn, err := env.WriteTxn()
	Tassert(t, err == nil, "%v", err)
	defer txn.Abort()
	db := strDb(t, txn, "a")

	err = db.PutNoOverwrite(txn, "k", "one")
	Tassert(t, err == nil, "%v", err)
	err = db.PutNoOverwrite(txn, "k", "two")
	Tassert(t, errors.Is(err, ErrKeyExists), "%v", err)
	v, _, err := db.Get(txn, "k")
	Tassert(t, err == nil && v == "one", "%q %v", v, err)

	// a directory entry counts as an existing key
	root := strDb(t, txn, "")
	err = root.PutNoOverwrite(txn, "a", "x")
	Tassert(t, errors.Is(err, ErrKeyExists), "%v", err)
}

func TestAppend(t *testing.T) {
	env := newEnv(t)
	txn, err := env.WriteTxn()
	Tassert(t, err == nil, "%v", err)
	defer txn.Abort()
	db, err := CreateDatabase[uint64, string](txn, "log", codec.Uint64{}, codec.Str{})
	Tassert(t, err == nil, "%v", err)

	for i := uint64(1); i <= 100; i++ {
		err = db.Append(txn, i, Spf("entry %d", i))
		Tassert(t, err == nil, "%v", err)
	}
	err = db.Append(txn, 50, "late")
	Tassert(t, errors.Is(err, ErrNotAppendOrder), "%v", err)
	err = db.Append(txn, 100, "dup")
	Tassert(t, errors.Is(err, ErrNotAppendOrder), "%v", err)

	n, err := db.Len(txn)
	Tassert(t, err == nil && n == 100, "%d %v", n, err)
	k, v, ok, err := db.Last(txn)
	Tassert(t, err == nil && ok, "%v", err)
	Tassert(t, k == 100 && v == "entry 100", "%d %q", k, v)
}

// Directory entries of named databases are not entries of the unnamed
// database, so they do not constrain appends to it.
func TestAppendSkipsDirectory(t *testing.T) {
	env := newEnv(t)
	txn, err := env.WriteTxn()
	Tassert(t, err == nil, "%v", err)
	defer txn.Abort()
	strDb(t, txn, "zzz")
	root := strDb(t, txn, "")

	err = root.Append(txn, "a", "first")
	Tassert(t, err == nil, "%v", err)
	err = root.Append(txn, "b", "second")
	Tassert(t, err == nil, "%v", err)
	err = root.Append(txn, "a", "again")
	Tassert(t, errors.Is(err, ErrNotAppendOrder), "%v", err)
}

// Callers may reuse their key and value buffers between writes.
func TestPutReusedBuffer(t *testing.T) {
	env := newEnv(t)
	key := make([]byte, 1)
	val := make([]byte, 1)
	update(t, env, func(txn *RwTxn) {
		db := bytesDb(t, txn, "")
		for i, k := range "abc" {
			key[0], val[0] = byte(k), byte('0'+i)
			err := db.Put(txn, key, val)
			Tassert(t, err == nil, "%v", err)
		}
		key[0], val[0] = 'd', '3'
		err := db.PutNoOverwrite(txn, key, val)
		Tassert(t, err == nil, "%v", err)
		key[0], val[0] = 'e', '4'
		err = db.Append(txn, key, val)
		Tassert(t, err == nil, "%v", err)

		c, err := db.OpenRwCursor(txn)
		Tassert(t, err == nil, "%v", err)
		_, _, ok, err := c.Seek([]byte("b"))
		Tassert(t, err == nil && ok, "%v", err)
		val[0] = 'x'
		ok, err = c.UnsafePutCurrent(val)
		Tassert(t, err == nil && ok, "%v", err)
		val[0] = 'y'
	})

	err := env.View(func(txn *RoTxn) error {
		db, err := OpenDatabase[string, string](txn, "", codec.Str{}, codec.Str{})
		Tassert(t, err == nil, "%v", err)
		var got []string
		it := mustIter(db.Iter(txn))
		for it.Next() {
			got = append(got, it.Key()+"="+it.Value())
		}
		Tassert(t, it.Err() == nil, "%v", it.Err())
		Tassert(t, Spf("%v", got) == "[a=0 b=x c=2 d=3 e=4]", "%v", got)
		return nil
	})
	Tassert(t, err == nil, "%v", err)
}

func TestFirstLastSeek(t *testing.T) {
	env := newEnv(t)
	txn, err := env.WriteTxn()
	Tassert(t, err == nil, "%v", err)
	defer txn.Abort()
	db := strDb(t, txn, "a")

	_, _, ok, err := db.First(txn)
	Tassert(t, err == nil && !ok, "%v", err)
	fill(t, txn, db, "b", "d", "f")

	k, _, ok, err := db.First(txn)
	Tassert(t, err == nil && ok && k == "b", "%q %v", k, err)
	k, _, ok, err = db.Last(txn)
	Tassert(t, err == nil && ok && k == "f", "%q %v", k, err)

	k, v, ok, err := db.GetGreaterThanOrEqual(txn, "c")
	Tassert(t, err == nil && ok && k == "d" && v == "vd", "%q %q %v", k, v, err)
	k, _, ok, err = db.GetGreaterThanOrEqual(txn, "d")
	Tassert(t, err == nil && ok && k == "d", "%q %v", k, err)
	_, _, ok, err = db.GetGreaterThanOrEqual(txn, "g")
	Tassert(t, err == nil && !ok, "%v", err)

	k, _, ok, err = db.GetLowerThan(txn, "d")
	Tassert(t, err == nil && ok && k == "b", "%q %v", k, err)
	k, _, ok, err = db.GetLowerThan(txn, "z")
	Tassert(t, err == nil && ok && k == "f", "%q %v", k, err)
	_, _, ok, err = db.GetLowerThan(txn, "b")
	Tassert(t, err == nil && !ok, "%v", err)
}

// The unnamed database shares the root directory with the directory
// entries of named databases; those entries are never returned as
// data.
func TestUnnamedSkipsDirectory(t *testing.T) {
	env := newEnv(t)
	txn, err := env.WriteTxn()
	Tassert(t, err == nil, "%v", err)
	defer txn.Abort()
	root := strDb(t, txn, "")
	strDb(t, txn, "a")
	strDb(t, txn, "m")
	strDb(t, txn, "z")
	fill(t, txn, root, "b", "n")

	n, err := root.Len(txn)
	Tassert(t, err == nil && n == 2, "%d %v", n, err)
	_, ok, err := root.Get(txn, "m")
	Tassert(t, err == nil && !ok, "%v", err)
	k, _, ok, err := root.First(txn)
	Tassert(t, err == nil && ok && k == "b", "%q %v", k, err)
	k, _, ok, err = root.Last(txn)
	Tassert(t, err == nil && ok && k == "n", "%q %v", k, err)
	k, _, ok, err = root.GetGreaterThanOrEqual(txn, "c")
	Tassert(t, err == nil && ok && k == "n", "%q %v", k, err)
	k, _, ok, err = root.GetLowerThan(txn, "n")
	Tassert(t, err == nil && ok && k == "b", "%q %v", k, err)
	ok, err = root.Delete(txn, "m")
	Tassert(t, err == nil && !ok, "%v", err)

	n, err = root.Clear(txn)
	Tassert(t, err == nil && n == 2, "%d %v", n, err)
	names, err := env.ListDatabases(txn)
	Tassert(t, err == nil, "%v", err)
	Tassert(t, len(names) == 3, "%v", names)
}

func TestDeleteRangeAndClear(t *testing.T) {
	env := newEnv(t)
	txn, err := env.WriteTxn()
	Tassert(t, err == nil, "%v", err)
	defer txn.Abort()
	db := strDb(t, txn, "a")
	fill(t, txn, db, "a", "b", "c", "d", "e", "f")

	n, err := db.DeleteRange(txn, Range[string]{Start: Exclusive("a"), End: Inclusive("c")})
	Tassert(t, err == nil && n == 2, "%d %v", n, err)
	keys, _, err := mustIter(db.Iter(txn)).Collect()
	Tassert(t, err == nil, "%v", err)
	Tassert(t, Spf("%v", keys) == "[a d e f]", "%v", keys)

	n, err = db.DeleteRange(txn, Range[string]{Start: Inclusive("e")})
	Tassert(t, err == nil && n == 2, "%d %v", n, err)

	n, err = db.Clear(txn)
	Tassert(t, err == nil && n == 2, "%d %v", n, err)
	empty, err := db.IsEmpty(txn)
	Tassert(t, err == nil && empty, "%v", err)
}

// As a caller, I want to create, list, open and drop named databases.
func TestDatabaseDirectory(t *testing.T) {
	env := newEnv(t, Options{NoSync: true, MaxDBs: 2})
	txn, err := env.WriteTxn()
	Tassert(t, err == nil, "%v", err)
	defer txn.Abort()

	_, err = OpenDatabase[string, string](txn, "a", codec.Str{}, codec.Str{})
	Tassert(t, errors.Is(err, ErrDatabaseNotFound), "%v", err)
	strDb(t, txn, "a")
	strDb(t, txn, "b")
	strDb(t, txn, "a")
	_, err = CreateDatabase[string, string](txn, "c", codec.Str{}, codec.Str{})
	Tassert(t, errors.Is(err, ErrDbsFull), "%v", err)

	// a write to a missing database creates it, within the limit
	lazy := &Database[string, string]{env: env, name: "lazy", kc: codec.Str{}, vc: codec.Str{}}
	err = lazy.Put(txn, "k", "v")
	Tassert(t, errors.Is(err, ErrDbsFull), "%v", err)

	names, err := env.ListDatabases(txn)
	Tassert(t, err == nil, "%v", err)
	Tassert(t, Spf("%v", names) == "[a b]", "%v", names)

	ok, err := DropDatabase(txn, "a")
	Tassert(t, err == nil && ok, "%v", err)
	ok, err = DropDatabase(txn, "a")
	Tassert(t, err == nil && !ok, "%v", err)
	_, err = DropDatabase(txn, "")
	Tassert(t, errors.Is(err, ErrInvalidName), "%v", err)

	err = lazy.Put(txn, "k", "v")
	Tassert(t, err == nil, "%v", err)
	names, err = env.ListDatabases(txn)
	Tassert(t, err == nil, "%v", err)
	Tassert(t, Spf("%v", names) == "[b lazy]", "%v", names)

	// a dropped database reads as empty through an old handle
	_, ok, err = lazy.Get(txn, "k")
	Tassert(t, err == nil && ok, "%v", err)
	_, err = DropDatabase(txn, "lazy")
	Tassert(t, err == nil, "%v", err)
	_, ok, err = lazy.Get(txn, "k")
	Tassert(t, err == nil && !ok, "%v", err)
}

func TestRoTxnAccessors(t *testing.T) {
	env := newEnv(t)
	update(t, env, func(txn *RwTxn) {
		fill(t, txn, strDb(t, txn, "a"), "x", "y")
	})
	txn, err := env.ReadTxn()
	Tassert(t, err == nil, "%v", err)
	defer txn.Abort()
	db, err := OpenDatabase[string, string](txn, "a", codec.Str{}, codec.Str{})
	Tassert(t, err == nil, "%v", err)
	n, err := db.Len(txn)
	Tassert(t, err == nil && n == 2, "%d %v", n, err)
	v, ok, err := db.Get(txn, "y")
	Tassert(t, err == nil && ok && v == "vy", "%q %v", v, err)
}

func mustIter[K, V any](it *Iter[K, V], err error) *Iter[K, V] {
	Ck(err)
	return it
}
