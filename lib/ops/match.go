package ops

import (
	"regexp"

	"github.com/ValentinKolb/hKV/lib/codec"
)

// --------------------------------------------------------------------------
// Predicate Matcher
// --------------------------------------------------------------------------

// Matcher tests values against a partial pattern.
//
//   - object patterns match objects that have every pattern field, each matching recursively
//   - array patterns match arrays on the length of the pattern (a prefix match);
//     a scalar is treated as a one element array
//   - RegExp patterns match strings
//   - every other pattern must be equal (codec.Equal)
//
// A nil Matcher matches everything.
type Matcher struct {
	pattern any
	regexps map[codec.RegExp]*regexp.Regexp
}

// NewMatcher compiles a pattern. A nil pattern returns a nil Matcher.
func NewMatcher(pattern any) (*Matcher, error) {
	if pattern == nil {
		return nil, nil
	}
	m := &Matcher{pattern: pattern, regexps: map[codec.RegExp]*regexp.Regexp{}}
	if err := m.compile(pattern); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Matcher) compile(p any) error {
	switch t := p.(type) {
	case codec.RegExp:
		if _, ok := m.regexps[t]; ok {
			return nil
		}
		re, err := t.Compile()
		if err != nil {
			return err
		}
		m.regexps[t] = re
	case map[string]any:
		for _, v := range t {
			if err := m.compile(v); err != nil {
				return err
			}
		}
	case []any:
		for _, v := range t {
			if err := m.compile(v); err != nil {
				return err
			}
		}
	}
	return nil
}

// Match reports whether v matches the pattern.
func (m *Matcher) Match(v any) bool {
	if m == nil {
		return true
	}
	return m.match(m.pattern, v)
}

func (m *Matcher) match(p, v any) bool {
	switch t := p.(type) {
	case map[string]any:
		obj, ok := v.(map[string]any)
		if !ok {
			return false
		}
		for field, sub := range t {
			fv, ok := obj[field]
			if !ok || !m.match(sub, fv) {
				return false
			}
		}
		return true
	case []any:
		arr, ok := v.([]any)
		if !ok {
			arr = []any{v}
		}
		if len(t) > len(arr) {
			return false
		}
		for i, sub := range t {
			if !m.match(sub, arr[i]) {
				return false
			}
		}
		return true
	case codec.RegExp:
		if s, ok := v.(string); ok {
			return m.regexps[t].MatchString(s)
		}
		re, ok := v.(codec.RegExp)
		return ok && re == t
	}
	return codec.Equal(p, v)
}

// Select projects the listed top-level fields of an object. Values that are
// not objects and an empty field list are returned unchanged.
func Select(v any, fields []string) any {
	obj, ok := v.(map[string]any)
	if !ok || len(fields) == 0 {
		return v
	}
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if fv, ok := obj[f]; ok {
			out[f] = fv
		}
	}
	return out
}
