package ops

import (
	"context"
	"strconv"

	"github.com/ValentinKolb/hKV/lib/codec"
	"github.com/ValentinKolb/hKV/lib/store"
)

// --------------------------------------------------------------------------
// Patch
// --------------------------------------------------------------------------

// Patch merges the top-level fields of partial into the object stored under
// key. Fields set to codec.Undefined are removed. A missing key is created
// from partial.
func Patch(ctx context.Context, s store.IStore, key, partial any, cond Conditions) (bool, error) {
	return patch(ctx, s, key, partial, cond, mergeShallow)
}

// DeepPatch is like Patch but merges nested objects recursively.
func DeepPatch(ctx context.Context, s store.IStore, key, partial any, cond Conditions) (bool, error) {
	return patch(ctx, s, key, partial, cond, mergeDeep)
}

func patch(ctx context.Context, s store.IStore, key, partial any, cond Conditions, merge func(base, p map[string]any)) (bool, error) {
	p, isObj := partial.(map[string]any)
	if !isObj {
		return false, store.NewError(store.RetCInvalidOperation, "patch: body must be an object")
	}

	var ok bool
	err := s.Update(ctx, func(txn store.Txn) error {
		e, err := txn.Get(key)
		if err != nil {
			return err
		}
		if !matches(e, cond.IfVersion) {
			return nil
		}

		base := map[string]any{}
		if e != nil {
			stored, isObj := e.Value.(map[string]any)
			if !isObj {
				return store.NewError(store.RetCInvalidOperation, "patch: stored value is not an object")
			}
			base = stored
		}
		merge(base, p)

		ok, err = txn.Put(key, base, cond.Version, cond.IfVersion)
		return err
	})
	return ok && err == nil, err
}

func mergeShallow(base, p map[string]any) {
	for field, v := range p {
		if codec.IsUndefined(v) {
			delete(base, field)
			continue
		}
		base[field] = v
	}
}

func mergeDeep(base, p map[string]any) {
	for field, v := range p {
		if codec.IsUndefined(v) {
			delete(base, field)
			continue
		}
		sub, isObj := v.(map[string]any)
		existing, wasObj := base[field].(map[string]any)
		if isObj && wasObj {
			mergeDeep(existing, sub)
			continue
		}
		base[field] = v
	}
}

// --------------------------------------------------------------------------
// Path Patch
// --------------------------------------------------------------------------

// PatchPath assigns leaf at path inside the value stored under key and writes
// the whole value back. A missing or non-structured intermediate (a missing
// key counts as a missing root) is replaced by an empty object when extend is
// set; otherwise nothing is written and false is returned. A codec.Undefined
// leaf removes the field.
func PatchPath(ctx context.Context, s store.IStore, key any, path []string, leaf any, ifVersion *uint64, extend bool) (bool, error) {
	if len(path) == 0 {
		return false, store.NewError(store.RetCInvalidOperation, "patch: empty path")
	}

	var ok bool
	err := s.Update(ctx, func(txn store.Txn) error {
		e, err := txn.Get(key)
		if err != nil {
			return err
		}
		if !matches(e, ifVersion) {
			return nil
		}

		var root any
		if e != nil {
			root = e.Value
		}
		if !isContainer(root) {
			if !extend {
				return nil
			}
			root = map[string]any{}
		}

		cur := root
		for _, seg := range path[:len(path)-1] {
			next, found := child(cur, seg)
			if !found || !isContainer(next) {
				if !extend {
					return nil
				}
				next = map[string]any{}
				if !setChild(cur, seg, next) {
					return nil
				}
			}
			cur = next
		}

		last := path[len(path)-1]
		if codec.IsUndefined(leaf) {
			deleteChild(cur, last)
		} else if !setChild(cur, last, leaf) {
			return nil
		}

		ok, err = txn.Put(key, root, nil, ifVersion)
		return err
	})
	return ok && err == nil, err
}

// GetPath reads the value at path inside the value stored under key. It
// returns nil if any segment is missing or ifVersion does not match.
func GetPath(ctx context.Context, s store.IStore, key any, path []string, ifVersion *uint64) (any, error) {
	var out any
	err := s.View(ctx, func(txn store.Txn) error {
		e, err := txn.Get(key)
		if err != nil || e == nil {
			return err
		}
		if ifVersion != nil && e.Version != *ifVersion {
			return nil
		}
		cur := e.Value
		for _, seg := range path {
			next, found := child(cur, seg)
			if !found {
				return nil
			}
			cur = next
		}
		out = cur
		return nil
	})
	return out, err
}

// --------------------------------------------------------------------------
// Path Helper Functions
// --------------------------------------------------------------------------

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func index(arr []any, seg string) (int, bool) {
	i, err := strconv.Atoi(seg)
	return i, err == nil && i >= 0 && i < len(arr)
}

func child(container any, seg string) (any, bool) {
	switch t := container.(type) {
	case map[string]any:
		v, ok := t[seg]
		return v, ok
	case []any:
		if i, ok := index(t, seg); ok {
			return t[i], true
		}
	}
	return nil, false
}

func setChild(container any, seg string, v any) bool {
	switch t := container.(type) {
	case map[string]any:
		t[seg] = v
		return true
	case []any:
		if i, ok := index(t, seg); ok {
			t[i] = v
			return true
		}
	}
	return false
}

// deleteChild removes a field. Array elements become null.
func deleteChild(container any, seg string) {
	switch t := container.(type) {
	case map[string]any:
		delete(t, seg)
	case []any:
		if i, ok := index(t, seg); ok {
			t[i] = nil
		}
	}
}
