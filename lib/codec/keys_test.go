package codec

import (
	"bytes"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyOrdering(t *testing.T) {
	// ascending
	keys := []any{
		nil,
		false,
		true,
		math.Inf(-1),
		-10.5,
		-1.0,
		0.0,
		1.0,
		2.0,
		1e9,
		math.Inf(1),
		"",
		"a",
		[]any{"a", 1.0},
		[]any{"a", "b"},
		"a\x00",
		"a\x00b",
		"ab",
		"b",
		[]any{[]any{}},
		[]any{[]any{1.0}},
	}

	var prev []byte
	for i, k := range keys {
		enc, err := EncodeKey(k)
		require.NoError(t, err)
		if i > 0 {
			assert.Equal(t, -1, bytes.Compare(prev, enc), "key %d (%#v) must sort after key %d (%#v)", i, k, i-1, keys[i-1])
		}
		prev = enc
	}
}

func TestKeyRoundTrip(t *testing.T) {
	keys := []any{
		"hello",
		"with\x00nul",
		3.25,
		-0.5,
		true,
		nil,
		[]any{"user", 42.0, []any{"nested", false}},
		[]any{[]any{1.0, 2.0}},
	}
	for _, k := range keys {
		enc, err := EncodeKey(k)
		require.NoError(t, err)
		dec, err := DecodeKey(enc)
		require.NoError(t, err)
		assert.True(t, Equal(k, dec), "key %#v decoded as %#v", k, dec)
	}
}

func TestScalarKeyEqualsSingleTuple(t *testing.T) {
	scalar, err := EncodeKey("hello")
	require.NoError(t, err)
	tuple, err := EncodeKey([]any{"hello"})
	require.NoError(t, err)
	assert.Equal(t, scalar, tuple)

	// every "helloN" key sorts after ["hello"]
	next, err := EncodeKey("hello1")
	require.NoError(t, err)
	assert.Equal(t, -1, bytes.Compare(tuple, next))
}

func TestInvalidKeys(t *testing.T) {
	_, err := EncodeKey(map[string]any{"a": 1.0})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = DecodeKey([]byte{keyTagString, 'a'})
	assert.ErrorIs(t, err, ErrInvalidKey)

	_, err = DecodeKey([]byte{0x7f})
	assert.ErrorIs(t, err, ErrInvalidKey)
}
