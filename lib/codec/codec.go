package codec

import (
	"bytes"
	"encoding/json"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"time"
)

// --------------------------------------------------------------------------
// Sentinels
// --------------------------------------------------------------------------

const (
	sentinelUndefined = "@undefined"
	sentinelNaN       = "@NaN"
	sentinelInf       = "@Infinity"
	sentinelNegInf    = "@-Infinity"
)

var sentinelPattern = regexp.MustCompile(`(?s)^@(BigInt|Date|RegExp|Symbol)\((.*)\)$`)

// fromSentinel substitutes a sentinel string with its extended value.
// The second return value is false if s is an ordinary string.
func fromSentinel(s string, nested bool) (any, bool) {
	if len(s) == 0 || s[0] != '@' {
		return s, false
	}
	switch s {
	case sentinelUndefined:
		if nested {
			return Undefined, true
		}
		return s, false
	case sentinelNaN:
		return math.NaN(), true
	case sentinelInf:
		return math.Inf(1), true
	case sentinelNegInf:
		return math.Inf(-1), true
	}

	m := sentinelPattern.FindStringSubmatch(s)
	if m == nil {
		return s, false
	}
	arg := m[2]
	switch m[1] {
	case "BigInt":
		if n, ok := new(big.Int).SetString(arg, 10); ok {
			return n, true
		}
	case "Date":
		if ms, err := strconv.ParseInt(arg, 10, 64); err == nil {
			return time.UnixMilli(ms).UTC(), true
		}
		if f, err := strconv.ParseFloat(arg, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return time.UnixMilli(int64(f)).UTC(), true
		}
	case "RegExp":
		return ParseRegExp(arg), true
	case "Symbol":
		return Symbol(arg), true
	}
	return s, false
}

// --------------------------------------------------------------------------
// Tree Conversion
// --------------------------------------------------------------------------

// FromPlain walks a plain JSON tree (as produced by encoding/json or msgpack)
// depth-first and substitutes every sentinel string with its extended value.
// Numbers of any Go numeric kind are normalized to float64.
func FromPlain(v any) any {
	return fromPlain(v, false)
}

func fromPlain(v any, nested bool) any {
	switch t := v.(type) {
	case string:
		out, _ := fromSentinel(t, nested)
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			out[k] = fromPlain(el, true)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = fromPlain(el, true)
		}
		return out
	case float64, bool, nil:
		return t
	}
	if f, ok := toFloat(v); ok {
		return f
	}
	return v
}

// ToPlain converts an extended value into its plain sentinel form, which
// encoding/json and msgpack can represent. Undefined fields are dropped
// unless keepUndefined is set; undefined array elements become null.
// A top-level Undefined converts to nil.
func ToPlain(v any, keepUndefined bool) any {
	return toPlain(v, keepUndefined)
}

func toPlain(v any, keep bool) any {
	switch t := v.(type) {
	case nil, bool, string:
		return t
	case undefinedType:
		return nil
	case float64:
		return plainFloat(t)
	case *big.Int:
		if t == nil {
			return nil
		}
		return "@BigInt(" + t.String() + ")"
	case big.Int:
		return "@BigInt(" + t.String() + ")"
	case time.Time:
		return "@Date(" + strconv.FormatInt(t.UnixMilli(), 10) + ")"
	case RegExp:
		return "@RegExp(" + t.String() + ")"
	case Symbol:
		return "@Symbol(" + string(t) + ")"
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, el := range t {
			if IsUndefined(el) {
				if keep {
					out[k] = sentinelUndefined
				}
				continue
			}
			out[k] = toPlain(el, keep)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			if IsUndefined(el) && keep {
				out[i] = sentinelUndefined
				continue
			}
			out[i] = toPlain(el, keep)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = el
		}
		return out
	}
	if f, ok := toFloat(v); ok {
		return plainFloat(f)
	}
	return v
}

func plainFloat(f float64) any {
	switch {
	case math.IsNaN(f):
		return sentinelNaN
	case math.IsInf(f, 1):
		return sentinelInf
	case math.IsInf(f, -1):
		return sentinelNegInf
	}
	return f
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// --------------------------------------------------------------------------
// Wire Encoding
// --------------------------------------------------------------------------

// Option configures Encode.
type Option func(*options)

type options struct {
	keepUndefined bool
}

// WithKeepUndefined emits nested Undefined values as @undefined instead of dropping them.
func WithKeepUndefined() Option {
	return func(o *options) { o.keepUndefined = true }
}

// Encode converts an extended value into wire text. The result is always valid JSON.
func Encode(v any, opts ...Option) ([]byte, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if s, ok := v.(string); ok {
		return marshal(s)
	}
	return marshal(toPlain(v, o.keepUndefined))
}

// MustEncode is like Encode but panics on error. Only for values built from the codec's own types.
func MustEncode(v any, opts ...Option) []byte {
	b, err := Encode(v, opts...)
	if err != nil {
		panic(err)
	}
	return b
}

// Decode converts wire text into an extended value. It never fails: text that
// is not valid JSON is returned as a literal string.
func Decode(data []byte) any {
	text := string(data)
	if v, ok := fromSentinel(text, false); ok {
		return v
	}
	var plain any
	if err := json.Unmarshal(data, &plain); err != nil {
		return text
	}
	return fromPlain(plain, false)
}

// DecodeParam decodes a query parameter with the same rules as Decode.
func DecodeParam(s string) any {
	return Decode([]byte(s))
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
