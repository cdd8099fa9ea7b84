// Package codec converts typed keys and values to and from the byte
// slices stored in a splitkv database.
package codec

import (
	"encoding/binary"
	"fmt"
)

// Codec encodes values of type T for storage and decodes them back.
//
// Decode may return a value that aliases data.  Such a value is only
// valid for as long as the transaction or view it was read through;
// see the Bytes codec.
type Codec[T any] interface {
	Encode(v T) ([]byte, error)
	Decode(data []byte) (T, error)
}

// Bytes stores byte slices unchanged.  Decode does not copy: the
// returned slice points into engine memory.
type Bytes struct{}

func (Bytes) Encode(v []byte) ([]byte, error) {
	if v == nil {
		return []byte{}, nil
	}
	return v, nil
}

func (Bytes) Decode(data []byte) ([]byte, error) {
	return data, nil
}

// Str stores strings as their UTF-8 bytes.
type Str struct{}

func (Str) Encode(v string) ([]byte, error) {
	return []byte(v), nil
}

func (Str) Decode(data []byte) (string, error) {
	return string(data), nil
}

// Uint64 stores integers big-endian so that byte order matches
// numeric order.
type Uint64 struct{}

func (Uint64) Encode(v uint64) ([]byte, error) {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf, nil
}

func (Uint64) Decode(data []byte) (uint64, error) {
	if len(data) != 8 {
		return 0, fmt.Errorf("codec: uint64 needs 8 bytes, got %d", len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// Unit stores nothing.  Useful for set-like databases where only the
// key matters.
type Unit struct{}

func (Unit) Encode(struct{}) ([]byte, error) {
	return []byte{}, nil
}

func (Unit) Decode(data []byte) (struct{}, error) {
	if len(data) != 0 {
		return struct{}{}, fmt.Errorf("codec: unit value must be empty, got %d bytes", len(data))
	}
	return struct{}{}, nil
}
