package transform

import (
	"errors"
	"fmt"

	"github.com/stevegt/splitkv/kv"
	"github.com/stevegt/splitkv/kv/codec"
	"go.uber.org/zap"
)

// ErrUnsoundPairing is returned by Copy when reading src while writing
// dst through split views is not sound.
var ErrUnsoundPairing = errors.New("transform: unsound source and destination")

// Copy reads every entry of database src through the read view of a
// split of txn and writes fn's result into database dst through the
// write view.  Values are read without copying.  dst is created if
// missing.  Copy returns the number of entries written; the caller
// commits txn.
func Copy(txn *kv.RwTxn, src, dst string, fn Transform) (n int, err error) {
	if p := kv.Classify(src, dst); !p.Sound() {
		return 0, fmt.Errorf("%w: read %q, write %q: %v", ErrUnsoundPairing, src, dst, p)
	}
	if fn == nil {
		fn = Identity
	}
	sdb, err := kv.OpenDatabase[[]byte, []byte](txn, src, codec.Bytes{}, codec.Bytes{})
	if err != nil {
		return 0, err
	}
	// create dst before splitting so its directory entry is not
	// written through the split
	ddb, err := kv.CreateDatabase[[]byte, []byte](txn, dst, codec.Bytes{}, codec.Bytes{})
	if err != nil {
		return 0, err
	}

	err = txn.WithSplit(func(r *kv.ReadView, w *kv.WriteView) error {
		it, err := sdb.Iter(r)
		if err != nil {
			return err
		}
		for it.Next() {
			k, v, err := fn(it.Key(), it.Value())
			if err != nil {
				return fmt.Errorf("transform %q: %w", it.Key(), err)
			}
			err = ddb.Put(w, k, v)
			if err != nil {
				return err
			}
			n++
		}
		return it.Err()
	})
	if err != nil {
		return 0, err
	}
	txn.Env().Logger().Debug("copied",
		zap.String("src", src), zap.String("dst", dst), zap.Int("entries", n))
	return n, nil
}

// CopyAndCommit runs Copy in its own write transaction.
func CopyAndCommit(env *kv.Env, src, dst string, fn Transform) (n int, err error) {
	err = env.Update(func(txn *kv.RwTxn) error {
		n, err = Copy(txn, src, dst, fn)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}
