package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ValentinKolb/hKV/lib/codec"
	"github.com/ValentinKolb/hKV/lib/ops"
	"github.com/ValentinKolb/hKV/lib/store"
)

const contentTypeJSON = "application/json; charset=utf-8"

// --------------------------------------------------------------------------
// Responses
// --------------------------------------------------------------------------

func writeRaw(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		Logger.Debugf("failed to write response: %v", err)
	}
}

// writeValue encodes an extended value with the wire codec.
func writeValue(w http.ResponseWriter, v any) error {
	body, err := codec.Encode(v)
	if err != nil {
		return store.Errorf(store.RetCInternalError, "failed to encode response: %v", err)
	}
	writeRaw(w, http.StatusOK, body)
	return nil
}

func writeBool(w http.ResponseWriter, ok bool) {
	if ok {
		writeRaw(w, http.StatusOK, []byte("true"))
	} else {
		writeRaw(w, http.StatusOK, []byte("false"))
	}
}

// writePlainJSON is used for responses that carry no extended values (stats).
func writePlainJSON(w http.ResponseWriter, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return store.Errorf(store.RetCInternalError, "failed to encode response: %v", err)
	}
	writeRaw(w, http.StatusOK, body)
	return nil
}

// entryValue is the {key, value, version} wrapper of a single read.
func entryValue(e *store.Entry) map[string]any {
	return map[string]any{
		"key":     e.Key,
		"value":   e.Value,
		"version": float64(e.Version),
	}
}

// pageValue is the response of a range read. The offset is left out once the range is done.
func pageValue(page *ops.ScanResult) map[string]any {
	items := make([]any, len(page.Items))
	for i, it := range page.Items {
		item := map[string]any{"key": it.Key, "value": it.Value}
		if it.Version != nil {
			item["version"] = float64(*it.Version)
		}
		items[i] = item
	}
	out := map[string]any{"value": items, "done": page.Done}
	if page.Offset != nil {
		out["offset"] = float64(*page.Offset)
	}
	return out
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

// statusOf maps an error to its HTTP status.
func statusOf(err error) int {
	var se *store.Error
	if errors.As(err, &se) {
		switch se.Code {
		case store.RetCNotFound:
			return http.StatusNotFound
		case store.RetCInvalidOperation:
			return http.StatusBadRequest
		case store.RetCUnsupportedOperation:
			return http.StatusMethodNotAllowed
		case store.RetCAborted:
			return http.StatusConflict
		}
		return http.StatusInternalServerError
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return http.StatusConflict
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		Logger.Errorf("request failed: %v", err)
	}
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	writeRaw(w, status, body)
}
