package transform

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	. "github.com/stevegt/goadapt"
)

// Hash returns the hex sha256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ContentAddress stores each value as a compressed object keyed by its
// hash, the way git stores blobs: the object is a "<kind> <length>\0"
// header followed by the value, the key is the hash of the object, and
// the stored value is the zlib-compressed object.  Equal values
// collapse into one entry.
func ContentAddress(kind string) Transform {
	return func(key, val []byte) (newKey, newVal []byte, err error) {
		hash, data, err := MarshalObject(kind, val)
		if err != nil {
			return nil, nil, err
		}
		return []byte(hash), data, nil
	}
}

// MarshalObject returns the hash and the compressed bytes of an object
// holding content.
func MarshalObject(kind string, content []byte) (hash string, data []byte, err error) {
	defer Return(&err)
	header := fmt.Sprintf("%s %d\x00", kind, len(content))
	data = append([]byte(header), content...)
	hash = Hash(data)
	data, err = compress(data)
	Ck(err)
	return
}

// UnmarshalObject parses the compressed bytes of an object.
func UnmarshalObject(data []byte) (kind string, content []byte, err error) {
	data, err = decompress(data)
	if err != nil {
		return
	}
	i := bytes.IndexByte(data, 0)
	if i < 0 {
		return "", nil, fmt.Errorf("invalid object header")
	}
	header := string(data[:i])
	content = data[i+1:]
	sp := bytes.LastIndexByte(data[:i], ' ')
	if sp < 0 {
		return "", nil, fmt.Errorf("invalid object header: %q", header)
	}
	n, err := strconv.Atoi(header[sp+1:])
	if err != nil {
		return "", nil, fmt.Errorf("invalid object header: %q", header)
	}
	if len(content) != n {
		return "", nil, fmt.Errorf("object length %d, header says %d", len(content), n)
	}
	return header[:sp], content, nil
}

// VerifyObject checks that data is the object stored under hash.
func VerifyObject(hash string, data []byte) error {
	raw, err := decompress(data)
	if err != nil {
		return err
	}
	if got := Hash(raw); got != hash {
		return fmt.Errorf("object hash %s, stored under %s", got, hash)
	}
	return nil
}
