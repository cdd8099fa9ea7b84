package codec

import (
	"github.com/fxamacker/cbor/v2"
	. "github.com/stevegt/goadapt"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// canonical form so equal values always produce equal bytes
	encMode, err = cbor.EncOptions{Sort: cbor.SortCanonical}.EncMode()
	Ck(err)
	decMode, err = cbor.DecOptions{}.DecMode()
	Ck(err)
}

// CBOR stores any value as canonical CBOR.
type CBOR[T any] struct{}

func (CBOR[T]) Encode(v T) ([]byte, error) {
	return encMode.Marshal(v)
}

func (CBOR[T]) Decode(data []byte) (v T, err error) {
	err = decMode.Unmarshal(data, &v)
	return
}
