package server

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/ValentinKolb/hKV/lib/codec"
	"github.com/ValentinKolb/hKV/lib/ops"
	"github.com/ValentinKolb/hKV/lib/store"
)

// --------------------------------------------------------------------------
// Query Parameter Coercion
// --------------------------------------------------------------------------

// query wraps url.Values with coercing getters. A parameter that is absent
// yields the zero value; a parameter that cannot be coerced is a bad request.
type query url.Values

func badParam(name, want, got string) error {
	return store.Errorf(store.RetCInvalidOperation, "query parameter %s must be %s, got %q", name, want, got)
}

func (q query) raw(name string) (string, bool) {
	vs, ok := q[name]
	if !ok || len(vs) == 0 {
		return "", false
	}
	return vs[0], true
}

// unsigned returns a non-negative integer parameter, nil if absent.
func (q query) unsigned(name string) (*uint64, error) {
	s, ok := q.raw(name)
	if !ok {
		return nil, nil
	}
	f, isNum := codec.DecodeParam(s).(float64)
	if !isNum || f < 0 || f != float64(uint64(f)) {
		return nil, badParam(name, "a non-negative integer", s)
	}
	v := uint64(f)
	return &v, nil
}

// integer returns an integer parameter or def if absent.
func (q query) integer(name string, def int) (int, error) {
	s, ok := q.raw(name)
	if !ok {
		return def, nil
	}
	f, isNum := codec.DecodeParam(s).(float64)
	if !isNum || f != float64(int(f)) {
		return 0, badParam(name, "an integer", s)
	}
	return int(f), nil
}

// boolean returns a boolean parameter. Numbers are true unless zero; a bare
// parameter without a value is true.
func (q query) boolean(name string) (bool, error) {
	s, ok := q.raw(name)
	if !ok {
		return false, nil
	}
	if s == "" {
		return true, nil
	}
	switch v := codec.DecodeParam(s).(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	}
	return false, badParam(name, "a boolean", s)
}

// value returns a structured parameter decoded by the codec, falling back to
// the literal string. nil if absent.
func (q query) value(name string) any {
	s, ok := q.raw(name)
	if !ok {
		return nil
	}
	return codec.DecodeParam(s)
}

// fields returns a field list given either as a JSON array or comma separated.
func (q query) fields(name string) ([]string, error) {
	s, ok := q.raw(name)
	if !ok || s == "" {
		return nil, nil
	}
	if arr, isArr := codec.DecodeParam(s).([]any); isArr {
		out := make([]string, 0, len(arr))
		for _, el := range arr {
			f, isStr := el.(string)
			if !isStr {
				return nil, badParam(name, "a list of field names", s)
			}
			out = append(out, f)
		}
		return out, nil
	}
	return strings.Split(s, ","), nil
}

func (q query) conditions() (ops.Conditions, error) {
	version, err := q.unsigned("version")
	if err != nil {
		return ops.Conditions{}, err
	}
	ifVersion, err := q.unsigned("ifVersion")
	if err != nil {
		return ops.Conditions{}, err
	}
	return ops.Conditions{Version: version, IfVersion: ifVersion}, nil
}

func (q query) scanRequest() (ops.ScanRequest, error) {
	var (
		req ops.ScanRequest
		err error
	)
	if req.Limit, err = q.integer("limit", -1); err != nil {
		return req, err
	}
	if req.Offset, err = q.integer("offset", 0); err != nil {
		return req, err
	}
	if req.Version, err = q.unsigned("version"); err != nil {
		return req, err
	}
	if req.Versions, err = q.boolean("versions"); err != nil {
		return req, err
	}
	if req.Select, err = q.fields("select"); err != nil {
		return req, err
	}
	req.Start = q.value("start")
	req.End = q.value("end")
	req.KeyMatch = q.value("keyMatch")
	req.ValueMatch = q.value("valueMatch")
	return req, nil
}

// --------------------------------------------------------------------------
// Keys, Paths and Bodies
// --------------------------------------------------------------------------

// parseKey turns a path segment into a key. Segments that are JSON arrays are
// tuple keys, everything else is a literal string.
func parseKey(raw string) any {
	if strings.HasPrefix(raw, "[") {
		if tuple, ok := codec.DecodeParam(raw).([]any); ok {
			return tuple
		}
	}
	return raw
}

// parsePath splits the path suffix of a nested read or patch. Empty segments are dropped.
func parsePath(raw string) []string {
	var out []string
	for _, seg := range strings.Split(raw, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

// readBody decodes the request body. Bodies that are not JSON are taken as literal strings.
func readBody(r *http.Request) (any, error) {
	defer r.Body.Close()
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, err
		}
		return nil, store.Errorf(store.RetCInvalidOperation, "failed to read request body: %v", err)
	}
	return codec.Decode(data), nil
}
