package server

import (
	"net/http"

	"github.com/ValentinKolb/hKV/lib/ops"
	"github.com/ValentinKolb/hKV/lib/registry"
	"github.com/ValentinKolb/hKV/lib/store"
)

// dbHandler handles a request against an acquired database. Returned errors
// are written as JSON error responses.
type dbHandler func(w http.ResponseWriter, r *http.Request, d *registry.Database) error

// database resolves {environment}/{name} and hands the handle to h.
func (s *Server) database(h dbHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := s.registry.Acquire(r.Context(), r.PathValue("environment"), r.PathValue("name"))
		if err != nil {
			writeError(w, err)
			return
		}
		defer d.Release()

		if err := h(w, r, d); err != nil {
			writeError(w, err)
		}
	}
}

// --------------------------------------------------------------------------
// Reads
// --------------------------------------------------------------------------

func (s *Server) handleRange(w http.ResponseWriter, r *http.Request, d *registry.Database) error {
	req, err := query(r.URL.Query()).scanRequest()
	if err != nil {
		return err
	}
	scan, err := d.Functions.Query()
	if err != nil {
		return err
	}
	page, err := scan(r.Context(), d.Store, req)
	if err != nil {
		return err
	}
	return writeValue(w, pageValue(page))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request, d *registry.Database) error {
	q := query(r.URL.Query())
	key := parseKey(r.PathValue("key"))

	if path := parsePath(r.PathValue("path")); len(path) > 0 {
		ifVersion, err := q.unsigned("ifVersion")
		if err != nil {
			return err
		}
		v, err := ops.GetPath(r.Context(), d.Store, key, path, ifVersion)
		if err != nil {
			return err
		}
		return writeValue(w, v)
	}

	version, err := q.unsigned("version")
	if err != nil {
		return err
	}
	withEntry, err := q.boolean("entry")
	if err != nil {
		return err
	}

	e, err := ops.Get(r.Context(), d.Store, key, version)
	if err != nil {
		return err
	}
	switch {
	case e == nil:
		return writeValue(w, nil)
	case withEntry:
		return writeValue(w, entryValue(e))
	default:
		return writeValue(w, e.Value)
	}
}

// --------------------------------------------------------------------------
// Writes
// --------------------------------------------------------------------------

func (s *Server) handlePut(w http.ResponseWriter, r *http.Request, d *registry.Database) error {
	cond, err := query(r.URL.Query()).conditions()
	if err != nil {
		return err
	}
	value, err := readBody(r)
	if err != nil {
		return err
	}
	ok, err := ops.Put(r.Context(), d.Store, parseKey(r.PathValue("key")), value, cond)
	if err != nil {
		return err
	}
	writeBool(w, ok)
	return nil
}

func (s *Server) handlePatch(w http.ResponseWriter, r *http.Request, d *registry.Database) error {
	q := query(r.URL.Query())
	key := parseKey(r.PathValue("key"))

	body, err := readBody(r)
	if err != nil {
		return err
	}

	var ok bool
	if path := parsePath(r.PathValue("path")); len(path) > 0 {
		ifVersion, err := q.unsigned("ifVersion")
		if err != nil {
			return err
		}
		extend, err := q.boolean("extend")
		if err != nil {
			return err
		}
		if ok, err = ops.PatchPath(r.Context(), d.Store, key, path, body, ifVersion, extend); err != nil {
			return err
		}
	} else {
		cond, err := q.conditions()
		if err != nil {
			return err
		}
		patch, err := d.Functions.Patch()
		if err != nil {
			return err
		}
		if ok, err = patch(r.Context(), d.Store, key, body, cond); err != nil {
			return err
		}
	}
	writeBool(w, ok)
	return nil
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request, d *registry.Database) error {
	ifVersion, err := query(r.URL.Query()).unsigned("ifVersion")
	if err != nil {
		return err
	}
	ok, err := ops.Remove(r.Context(), d.Store, parseKey(r.PathValue("key")), ifVersion)
	if err != nil {
		return err
	}
	writeBool(w, ok)
	return nil
}

// handleCompound serves COPY and MOVE. The destination is the key query parameter.
func (s *Server) handleCompound(slot ops.Slot) dbHandler {
	return func(w http.ResponseWriter, r *http.Request, d *registry.Database) error {
		q := query(r.URL.Query())
		cond, err := q.conditions()
		if err != nil {
			return err
		}
		overwrite, err := q.boolean("overwrite")
		if err != nil {
			return err
		}
		dst, ok := q.raw("key")
		if !ok || dst == "" {
			return store.Errorf(store.RetCInvalidOperation, "%s requires the destination key parameter", slot)
		}

		var fn ops.CompoundFunc
		if slot == ops.SlotMove {
			fn, err = d.Functions.Move()
		} else {
			fn, err = d.Functions.Copy()
		}
		if err != nil {
			return err
		}

		done, err := fn(r.Context(), d.Store, parseKey(r.PathValue("key")), parseKey(dst), cond, overwrite)
		if err != nil {
			return err
		}
		writeBool(w, done)
		return nil
	}
}

// --------------------------------------------------------------------------
// Service Routes
// --------------------------------------------------------------------------

func (s *Server) handleBanner(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("hKV Server"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if err := writePlainJSON(w, s.registry.Stats()); err != nil {
		writeError(w, err)
	}
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	s.metrics.WritePrometheus(w)
}
