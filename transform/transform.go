// Package transform copies one database into another through a split
// transaction, rewriting entries on the way.
package transform

import (
	"bytes"
	"compress/zlib"
	"io"

	. "github.com/stevegt/goadapt"
)

// Transform maps a source entry to the entry written to the
// destination.  The input slices are only valid during the call; a
// Transform that keeps them must copy.
type Transform func(key, val []byte) (newKey, newVal []byte, err error)

// Identity copies entries unchanged.
func Identity(key, val []byte) ([]byte, []byte, error) {
	return key, val, nil
}

// Compress zlib-compresses values.
func Compress(key, val []byte) (newKey, newVal []byte, err error) {
	newVal, err = compress(val)
	return key, newVal, err
}

// Decompress reverses Compress.
func Decompress(key, val []byte) (newKey, newVal []byte, err error) {
	newVal, err = decompress(val)
	return key, newVal, err
}

// Chain applies transforms left to right.
func Chain(ts ...Transform) Transform {
	return func(key, val []byte) ([]byte, []byte, error) {
		var err error
		for _, t := range ts {
			key, val, err = t(key, val)
			if err != nil {
				return nil, nil, err
			}
		}
		return key, val, nil
	}
}

// compress compresses data using zlib.
func compress(data []byte) (compressed []byte, err error) {
	defer Return(&err)
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	_, err = w.Write(data)
	Ck(err)
	err = w.Close()
	Ck(err)
	return buf.Bytes(), nil
}

// decompress decompresses data using zlib.
func decompress(data []byte) (decompressed []byte, err error) {
	defer Return(&err)
	r, err := zlib.NewReader(bytes.NewReader(data))
	Ck(err)
	defer r.Close()
	return io.ReadAll(r)
}
