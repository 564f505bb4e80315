package wire

import (
	"fmt"

	"github.com/zeebo/bencode"
)

// decode unmarshals bencoded b into v, converting decoder panics on hostile
// input into ErrMalformed.
func decode(b []byte, v interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = malformed("bencode decoder panic: %v", r)
		}
	}()
	if len(b) == 0 {
		return malformed("empty input")
	}
	if err := bencode.DecodeBytes(b, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return nil
}

func encode(v interface{}) ([]byte, error) {
	b, err := bencode.EncodeBytes(v)
	if err != nil {
		return nil, fmt.Errorf("bencode: %w", err)
	}
	return b, nil
}

func copyFixed(dst []byte, src []byte, field string) error {
	if len(src) != len(dst) {
		return malformed("field %s has length %d, want %d", field, len(src), len(dst))
	}
	copy(dst, src)
	return nil
}
