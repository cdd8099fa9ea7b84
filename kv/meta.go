package kv

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	. "github.com/stevegt/goadapt"
	"github.com/stevegt/semver"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// FormatVersion is the on-disk format written by this code.  Older
// formats are upgraded in place on a writable open; newer ones are
// refused.
const FormatVersion = "1.0.0"

var (
	formatKey  = []byte("format")
	dbCountKey = []byte("dbcount")
	idKey      = []byte("id")
)

// bootstrap creates the reserved buckets and brings the stored format
// version up to date.
func (env *Env) bootstrap(tx *bolt.Tx) (err error) {
	defer Return(&err)
	_, err = tx.CreateBucketIfNotExists(rootBucket)
	Ck(err)
	meta, err := tx.CreateBucketIfNotExists(metaBucket)
	Ck(err)
	err = env.loadID(meta, true)
	Ck(err)

	was := string(meta.Get(formatKey))
	if was == "" {
		err = meta.Put(formatKey, []byte(FormatVersion))
		Ck(err)
		env.format = FormatVersion
		return
	}
	err = env.checkFormat(tx)
	if err != nil {
		return
	}
	if env.format == FormatVersion {
		return
	}

	// no format change so far needs more than a version bump
	err = meta.Put(formatKey, []byte(FormatVersion))
	Ck(err)
	env.log.Info("environment format upgraded",
		zap.String("was", was), zap.String("now", FormatVersion))
	env.format = FormatVersion
	return
}

// checkFormat refuses environments written by newer code.
func (env *Env) checkFormat(tx *bolt.Tx) (err error) {
	defer Return(&err)
	meta := tx.Bucket(metaBucket)
	if meta == nil {
		// fresh read-only environment
		env.format = FormatVersion
		return
	}
	err = env.loadID(meta, false)
	Ck(err)
	was := string(meta.Get(formatKey))
	if was == "" {
		was = FormatVersion
	}
	dbver, err := semver.Parse([]byte(was))
	Ck(err)
	codever, err := semver.Parse([]byte(FormatVersion))
	Ck(err)
	if semver.Cmp(dbver, codever) > 0 {
		err = fmt.Errorf("%w: environment is %s, code is %s", ErrFormatTooNew, was, FormatVersion)
		return
	}
	env.format = was
	return
}

// loadID reads the environment's instance id, assigning a new one
// when create is set and none is stored yet.
func (env *Env) loadID(meta *bolt.Bucket, create bool) (err error) {
	raw := meta.Get(idKey)
	if raw == nil {
		if !create {
			return
		}
		env.id = uuid.New()
		return meta.Put(idKey, env.id[:])
	}
	env.id, err = uuid.FromBytes(raw)
	if err != nil {
		return fmt.Errorf("bad environment id: %w", err)
	}
	return
}

func dbCount(tx *bolt.Tx) uint64 {
	meta := tx.Bucket(metaBucket)
	if meta == nil {
		return 0
	}
	v := meta.Get(dbCountKey)
	if len(v) != 8 {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func setDbCount(tx *bolt.Tx, n uint64) error {
	meta, err := tx.CreateBucketIfNotExists(metaBucket)
	if err != nil {
		return err
	}
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return meta.Put(dbCountKey, buf)
}
