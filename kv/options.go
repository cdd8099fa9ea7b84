package kv

import (
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/zap"
)

// Options configures an environment.
type Options struct {
	// MapSize is the initial size of the memory map in bytes.  The map
	// grows on demand; a large initial size avoids remapping while
	// readers are open.
	MapSize int
	// MaxDBs limits the number of named databases.  Zero means no
	// limit.
	MaxDBs int
	// ReadOnly opens the environment with a shared lock and refuses
	// write transactions.
	ReadOnly bool
	// NoSync skips fsync after commit.  Only for tests and bulk loads.
	NoSync bool
	// Timeout bounds the wait for the engine's file lock.
	Timeout time.Duration
	// FileMode is used when the data file is created.
	FileMode os.FileMode
	// WriteMap requests an in-place-mutation configuration.  bbolt has
	// no such mode and split views would not be sound under one, so
	// Open rejects it.
	WriteMap bool

	Logger     *zap.Logger
	Registerer prometheus.Registerer
}

// DefaultOptions returns the options used when none are given.
func DefaultOptions() Options {
	return Options{
		MapSize:  10 * 1024 * 1024,
		Timeout:  10 * time.Second,
		FileMode: 0600,
	}
}

func (o Options) withDefaults() Options {
	def := DefaultOptions()
	if o.Timeout == 0 {
		o.Timeout = def.Timeout
	}
	if o.FileMode == 0 {
		o.FileMode = def.FileMode
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

func (o Options) bolt() *bolt.Options {
	return &bolt.Options{
		Timeout:         o.Timeout,
		ReadOnly:        o.ReadOnly,
		NoSync:          o.NoSync,
		InitialMmapSize: o.MapSize,
	}
}
