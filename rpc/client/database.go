package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/ValentinKolb/hKV/lib/codec"
	"github.com/ValentinKolb/hKV/lib/ops"
	"github.com/ValentinKolb/hKV/lib/store"
)

// Database is a client bound to one {environment}/{name}.
type Database struct {
	c    *Client
	base string
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

// Get returns the value of key or nil. With version set, nil is also returned
// when the stored version differs.
func (d *Database) Get(ctx context.Context, key any, version *uint64) (any, error) {
	q := url.Values{}
	setUint(q, "version", version)
	data, err := d.c.do(ctx, http.MethodGet, d.keyPath(key), q, nil)
	if err != nil {
		return nil, err
	}
	return codec.Decode(data), nil
}

// GetEntry is like Get but returns key, value and version.
func (d *Database) GetEntry(ctx context.Context, key any, version *uint64) (*store.Entry, error) {
	q := url.Values{"entry": {"true"}}
	setUint(q, "version", version)
	data, err := d.c.do(ctx, http.MethodGet, d.keyPath(key), q, nil)
	if err != nil {
		return nil, err
	}
	obj, ok := codec.Decode(data).(map[string]any)
	if !ok {
		return nil, nil
	}
	return &store.Entry{Key: obj["key"], Value: obj["value"], Version: toUint(obj["version"])}, nil
}

// GetPath returns the value at path inside the value of key, nil if missing.
func (d *Database) GetPath(ctx context.Context, key any, path []string, ifVersion *uint64) (any, error) {
	q := url.Values{}
	setUint(q, "ifVersion", ifVersion)
	data, err := d.c.do(ctx, http.MethodGet, d.keyPath(key)+pathSuffix(path), q, nil)
	if err != nil {
		return nil, err
	}
	return codec.Decode(data), nil
}

// Range reads one page of a range scan. A zero Limit is left to the server
// default (ops.DefaultLimit); use HasMore for a page without items.
func (d *Database) Range(ctx context.Context, req ops.ScanRequest) (*ops.ScanResult, error) {
	q, err := scanQuery(req)
	if err != nil {
		return nil, err
	}
	if req.Limit != 0 {
		q.Set("limit", strconv.Itoa(req.Limit))
	}
	return d.scan(ctx, q)
}

// HasMore reports whether the range has raw positions left after
// req.Offset. It reads no items.
func (d *Database) HasMore(ctx context.Context, req ops.ScanRequest) (bool, error) {
	q, err := scanQuery(req)
	if err != nil {
		return false, err
	}
	q.Set("limit", "0")
	page, err := d.scan(ctx, q)
	if err != nil {
		return false, err
	}
	return !page.Done, nil
}

func scanQuery(req ops.ScanRequest) (url.Values, error) {
	q := url.Values{}
	if req.Offset > 0 {
		q.Set("offset", strconv.Itoa(req.Offset))
	}
	setUint(q, "version", req.Version)
	if req.Versions {
		q.Set("versions", "true")
	}
	for name, v := range map[string]any{"start": req.Start, "end": req.End, "keyMatch": req.KeyMatch, "valueMatch": req.ValueMatch} {
		if v == nil {
			continue
		}
		enc, err := codec.Encode(v)
		if err != nil {
			return nil, store.Errorf(store.RetCInvalidOperation, "%s: %v", name, err)
		}
		q.Set(name, string(enc))
	}
	if len(req.Select) > 0 {
		q.Set("select", strings.Join(req.Select, ","))
	}
	return q, nil
}

func (d *Database) scan(ctx context.Context, q url.Values) (*ops.ScanResult, error) {
	data, err := d.c.do(ctx, http.MethodGet, d.base, q, nil)
	if err != nil {
		return nil, err
	}

	page, ok := codec.Decode(data).(map[string]any)
	if !ok {
		return nil, store.Errorf(store.RetCInternalError, "unexpected range response: %s", data)
	}
	result := &ops.ScanResult{Items: []ops.Item{}}
	result.Done, _ = page["done"].(bool)
	if f, ok := page["offset"].(float64); ok {
		offset := int(f)
		result.Offset = &offset
	}
	items, _ := page["value"].([]any)
	for _, raw := range items {
		obj, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		item := ops.Item{Key: obj["key"], Value: obj["value"]}
		if _, ok := obj["version"]; ok {
			v := toUint(obj["version"])
			item.Version = &v
		}
		result.Items = append(result.Items, item)
	}
	return result, nil
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

func (d *Database) Put(ctx context.Context, key, value any, cond ops.Conditions) (bool, error) {
	return d.write(ctx, http.MethodPut, d.keyPath(key), conditions(cond), value, true)
}

func (d *Database) Remove(ctx context.Context, key any, ifVersion *uint64) (bool, error) {
	q := url.Values{}
	setUint(q, "ifVersion", ifVersion)
	return d.write(ctx, http.MethodDelete, d.keyPath(key), q, nil, false)
}

// Patch merges partial into the stored object. Fields set to codec.Undefined are removed.
func (d *Database) Patch(ctx context.Context, key any, partial map[string]any, cond ops.Conditions) (bool, error) {
	return d.write(ctx, http.MethodPatch, d.keyPath(key), conditions(cond), partial, true)
}

func (d *Database) PatchPath(ctx context.Context, key any, path []string, leaf any, ifVersion *uint64, extend bool) (bool, error) {
	q := url.Values{}
	setUint(q, "ifVersion", ifVersion)
	q.Set("extend", strconv.FormatBool(extend))
	return d.write(ctx, http.MethodPatch, d.keyPath(key)+pathSuffix(path), q, leaf, true)
}

func (d *Database) Copy(ctx context.Context, src, dst any, cond ops.Conditions, overwrite bool) (bool, error) {
	return d.compound(ctx, "COPY", src, dst, cond, overwrite)
}

func (d *Database) Move(ctx context.Context, src, dst any, cond ops.Conditions, overwrite bool) (bool, error) {
	return d.compound(ctx, "MOVE", src, dst, cond, overwrite)
}

func (d *Database) compound(ctx context.Context, method string, src, dst any, cond ops.Conditions, overwrite bool) (bool, error) {
	q := conditions(cond)
	q.Set("key", keySegment(dst))
	if overwrite {
		q.Set("overwrite", "true")
	}
	return d.write(ctx, method, d.keyPath(src), q, nil, false)
}

// write sends a mutation and parses the boolean answer.
func (d *Database) write(ctx context.Context, method, path string, q url.Values, value any, withBody bool) (bool, error) {
	var body []byte
	if withBody {
		var err error
		if body, err = codec.Encode(value, codec.WithKeepUndefined()); err != nil {
			return false, store.Errorf(store.RetCInvalidOperation, "failed to encode value: %v", err)
		}
	}
	data, err := d.c.do(ctx, method, path, q, body)
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(string(data)) == "true", nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// keySegment renders a key the way the server parses it: strings are sent
// literally, everything else as a JSON array (a scalar is a one element tuple).
func keySegment(key any) string {
	if s, ok := key.(string); ok {
		return s
	}
	if _, ok := key.([]any); !ok {
		key = []any{key}
	}
	return string(codec.MustEncode(key))
}

func (d *Database) keyPath(key any) string {
	return d.base + url.PathEscape(keySegment(key))
}

func pathSuffix(path []string) string {
	var sb strings.Builder
	for _, seg := range path {
		sb.WriteString("/")
		sb.WriteString(url.PathEscape(seg))
	}
	return sb.String()
}

func conditions(cond ops.Conditions) url.Values {
	q := url.Values{}
	setUint(q, "version", cond.Version)
	setUint(q, "ifVersion", cond.IfVersion)
	return q
}

func setUint(q url.Values, name string, v *uint64) {
	if v != nil {
		q.Set(name, strconv.FormatUint(*v, 10))
	}
}

func toUint(v any) uint64 {
	if f, ok := v.(float64); ok && f > 0 {
		return uint64(f)
	}
	return 0
}
