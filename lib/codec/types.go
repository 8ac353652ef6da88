package codec

import (
	"fmt"
	"regexp"
	"strings"
)

// --------------------------------------------------------------------------
// Extended Value Types
// --------------------------------------------------------------------------

type undefinedType struct{}

// Undefined marks a field without a value. Inside a patch it requests the
// removal of the field; it is never stored.
var Undefined = undefinedType{}

// IsUndefined reports whether v is the Undefined marker.
func IsUndefined(v any) bool {
	_, ok := v.(undefinedType)
	return ok
}

func (undefinedType) String() string { return "undefined" }

// Symbol is a symbol registered by name. Two symbols are equal when their names are equal.
type Symbol string

func (s Symbol) String() string { return fmt.Sprintf("Symbol(%s)", string(s)) }

// RegExp holds a regular expression in its source form. Flags follow the
// ECMAScript letters (g, i, m, s, u, y, d, v); only i, m and s change Compile.
type RegExp struct {
	Source string
	Flags  string
}

// String returns the literal form /source/flags.
func (r RegExp) String() string {
	return "/" + r.Source + "/" + r.Flags
}

// Compile translates the expression into a Go regexp.
// Syntax that RE2 does not support results in an error.
func (r RegExp) Compile() (*regexp.Regexp, error) {
	var inline strings.Builder
	for _, f := range r.Flags {
		switch f {
		case 'i', 'm', 's':
			inline.WriteRune(f)
		}
	}
	expr := r.Source
	if inline.Len() > 0 {
		expr = "(?" + inline.String() + ")" + expr
	}
	return regexp.Compile(expr)
}

const regExpFlags = "dgimsuvy"

// ParseRegExp parses either the literal form /source/flags or a bare source.
func ParseRegExp(s string) RegExp {
	if len(s) >= 2 && s[0] == '/' {
		if last := strings.LastIndexByte(s, '/'); last > 0 {
			flags := s[last+1:]
			valid := true
			for _, f := range flags {
				if !strings.ContainsRune(regExpFlags, f) {
					valid = false
					break
				}
			}
			if valid {
				return RegExp{Source: s[1:last], Flags: flags}
			}
		}
	}
	return RegExp{Source: s}
}
