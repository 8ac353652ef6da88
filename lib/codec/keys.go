package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// --------------------------------------------------------------------------
// Order-Preserving Key Encoding
// --------------------------------------------------------------------------

/*
	A key is a tuple of elements; a scalar key is a tuple with one element, so
	"a" and ["a"] address the same entry. Every element is self-delimiting and
	starts with a type tag, which gives the global order

		null < false < true < numbers < strings < arrays

	Strings escape 0x00 as 0x00 0xFF and end with 0x00, nested arrays end with
	0x00. A shorter tuple therefore sorts before every tuple it prefixes.
*/

const (
	keyTerminator byte = 0x00
	keyEscape     byte = 0xFF
	keyTagNull    byte = 0x01
	keyTagFalse   byte = 0x02
	keyTagTrue    byte = 0x03
	keyTagNumber  byte = 0x04
	keyTagString  byte = 0x05
	keyTagArray   byte = 0x06
)

// ErrInvalidKey is returned for keys that cannot be encoded or decoded.
var ErrInvalidKey = errors.New("invalid key")

// EncodeKey encodes a key (nil, bool, number, string or array of those) so that
// bytewise order equals key order.
func EncodeKey(key any) ([]byte, error) {
	if arr, ok := key.([]any); ok {
		var buf []byte
		var err error
		for _, el := range arr {
			if buf, err = appendKeyElement(buf, el); err != nil {
				return nil, err
			}
		}
		return buf, nil
	}
	return appendKeyElement(nil, key)
}

func appendKeyElement(buf []byte, el any) ([]byte, error) {
	switch v := el.(type) {
	case nil:
		return append(buf, keyTagNull), nil
	case bool:
		if v {
			return append(buf, keyTagTrue), nil
		}
		return append(buf, keyTagFalse), nil
	case string:
		buf = append(buf, keyTagString)
		for i := 0; i < len(v); i++ {
			buf = append(buf, v[i])
			if v[i] == keyTerminator {
				buf = append(buf, keyEscape)
			}
		}
		return append(buf, keyTerminator), nil
	case Symbol:
		return appendKeyElement(buf, string(v))
	case []any:
		buf = append(buf, keyTagArray)
		var err error
		for _, sub := range v {
			if buf, err = appendKeyElement(buf, sub); err != nil {
				return nil, err
			}
		}
		return append(buf, keyTerminator), nil
	}
	if f, ok := toFloat(el); ok {
		bits := math.Float64bits(f)
		if bits&(1<<63) != 0 {
			bits = ^bits
		} else {
			bits |= 1 << 63
		}
		buf = append(buf, keyTagNumber)
		return binary.BigEndian.AppendUint64(buf, bits), nil
	}
	return nil, fmt.Errorf("%w: unsupported key element of type %T", ErrInvalidKey, el)
}

// DecodeKey is the inverse of EncodeKey. Single element tuples decode to the
// bare element unless that element is itself an array.
func DecodeKey(b []byte) (any, error) {
	var elements []any
	for len(b) > 0 {
		el, rest, err := decodeKeyElement(b)
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
		b = rest
	}
	if len(elements) == 1 {
		if _, nested := elements[0].([]any); !nested {
			return elements[0], nil
		}
	}
	if elements == nil {
		return []any{}, nil
	}
	return elements, nil
}

func decodeKeyElement(b []byte) (any, []byte, error) {
	tag, b := b[0], b[1:]
	switch tag {
	case keyTagNull:
		return nil, b, nil
	case keyTagFalse:
		return false, b, nil
	case keyTagTrue:
		return true, b, nil
	case keyTagNumber:
		if len(b) < 8 {
			return nil, nil, fmt.Errorf("%w: truncated number", ErrInvalidKey)
		}
		bits := binary.BigEndian.Uint64(b[:8])
		if bits&(1<<63) != 0 {
			bits &^= 1 << 63
		} else {
			bits = ^bits
		}
		return math.Float64frombits(bits), b[8:], nil
	case keyTagString:
		var s []byte
		for i := 0; i < len(b); i++ {
			if b[i] != keyTerminator {
				s = append(s, b[i])
				continue
			}
			if i+1 < len(b) && b[i+1] == keyEscape {
				s = append(s, keyTerminator)
				i++
				continue
			}
			return string(s), b[i+1:], nil
		}
		return nil, nil, fmt.Errorf("%w: unterminated string", ErrInvalidKey)
	case keyTagArray:
		arr := []any{}
		for len(b) > 0 {
			if b[0] == keyTerminator {
				return arr, b[1:], nil
			}
			el, rest, err := decodeKeyElement(b)
			if err != nil {
				return nil, nil, err
			}
			arr = append(arr, el)
			b = rest
		}
		return nil, nil, fmt.Errorf("%w: unterminated array", ErrInvalidKey)
	}
	return nil, nil, fmt.Errorf("%w: unknown tag 0x%02x", ErrInvalidKey, tag)
}
