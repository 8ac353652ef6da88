package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/ValentinKolb/hKV/lib/ops"
	"github.com/ValentinKolb/hKV/lib/registry"
	"github.com/ValentinKolb/hKV/rpc/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, regConfig registry.Config) http.Handler {
	regConfig.DataDir = t.TempDir()
	regConfig.Defaults.Engine = registry.EngineMemory
	reg, err := registry.New(regConfig)
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Close() })

	s := NewServer(common.ServerConfig{TimeoutSecond: 5, MaxBodyMB: 1, LogLevel: "info", Registry: regConfig}, reg)
	return s.Handler()
}

func newDynamicServer(t *testing.T) http.Handler {
	return newTestServer(t, registry.Config{
		DynamicEnvironment: &registry.EnvironmentConfig{},
		DynamicDatabase:    &registry.DatabaseConfig{},
	})
}

func do(t *testing.T, h http.Handler, method, target, body string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code, rec.Body.String()
}

func expect(t *testing.T, h http.Handler, method, target, body, want string) {
	t.Helper()
	code, got := do(t, h, method, target, body)
	require.Equal(t, http.StatusOK, code, "%s %s: %s", method, target, got)
	assert.Equal(t, want, got, "%s %s", method, target)
}

func decodeJSON(t *testing.T, body string) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(body), &out), body)
	return out
}

// --------------------------------------------------------------------------
// Data Routes
// --------------------------------------------------------------------------

func TestVersionedReadWriteDelete(t *testing.T) {
	h := newDynamicServer(t)

	expect(t, h, http.MethodPut, "/data/test/test/hello?version=1", `"world"`, "true")
	expect(t, h, http.MethodGet, "/data/test/test/hello", "", `"world"`)
	expect(t, h, http.MethodGet, "/data/test/test/hello?version=2", "", "null")
	expect(t, h, http.MethodDelete, "/data/test/test/hello?ifVersion=2", "", "false")
	expect(t, h, http.MethodDelete, "/data/test/test/hello?ifVersion=1", "", "true")
	expect(t, h, http.MethodGet, "/data/test/test/hello", "", "null")
}

func TestRangePages(t *testing.T) {
	h := newDynamicServer(t)
	for _, k := range []string{"a", "b", "c", "d", "e", "f", "g", "h", "i", "j"} {
		expect(t, h, http.MethodPut, "/data/test/test/"+k+"?version=2", `{"name":"`+k+`"}`, "true")
	}

	code, body := do(t, h, http.MethodGet, "/data/test/test/?limit=5", "")
	require.Equal(t, http.StatusOK, code, body)
	page := decodeJSON(t, body)
	assert.Len(t, page["value"], 5)
	assert.Equal(t, false, page["done"])
	assert.Equal(t, 5.0, page["offset"])

	code, body = do(t, h, http.MethodGet, "/data/test/test/?limit=5&offset=5", "")
	require.Equal(t, http.StatusOK, code, body)
	page = decodeJSON(t, body)
	require.Len(t, page["value"], 5)
	assert.Equal(t, true, page["done"])
	assert.NotContains(t, page, "offset")

	first := page["value"].([]any)[0].(map[string]any)
	assert.Equal(t, "f", first["key"])
	assert.NotContains(t, first, "version")

	// version filter includes versions
	code, body = do(t, h, http.MethodGet, "/data/test/test/?version=2&limit=1&select=name", "")
	require.Equal(t, http.StatusOK, code, body)
	page = decodeJSON(t, body)
	item := page["value"].([]any)[0].(map[string]any)
	assert.Equal(t, 2.0, item["version"])
	assert.Equal(t, map[string]any{"name": "a"}, item["value"])

	// structured params
	target := "/data/test/test/?start=" + url.QueryEscape(`"c"`) + "&end=e&valueMatch=" + url.QueryEscape(`{"name":"@RegExp(/^[cd]$/)"}`)
	code, body = do(t, h, http.MethodGet, target, "")
	require.Equal(t, http.StatusOK, code, body)
	page = decodeJSON(t, body)
	assert.Len(t, page["value"], 2)
	assert.Equal(t, true, page["done"])
}

func TestEntryAndTupleKeys(t *testing.T) {
	h := newDynamicServer(t)
	tuple := "/data/test/test/" + url.PathEscape(`["user",1]`)

	expect(t, h, http.MethodPut, tuple, `{"name":"joe"}`, "true")
	expect(t, h, http.MethodGet, tuple, "", `{"name":"joe"}`)

	code, body := do(t, h, http.MethodGet, tuple+"?entry=true", "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Equal(t, map[string]any{
		"key":     []any{"user", 1.0},
		"value":   map[string]any{"name": "joe"},
		"version": 1.0,
	}, decodeJSON(t, body))

	code, body = do(t, h, http.MethodGet, "/data/test/test/?keyMatch="+url.QueryEscape(`["user"]`), "")
	require.Equal(t, http.StatusOK, code, body)
	assert.Len(t, decodeJSON(t, body)["value"], 1)
}

func TestSpecialValues(t *testing.T) {
	h := newDynamicServer(t)

	expect(t, h, http.MethodPut, "/data/test/test/v", `{"n":"@NaN","d":"@Date(1700000000000)"}`, "true")
	expect(t, h, http.MethodGet, "/data/test/test/v", "", `{"d":"@Date(1700000000000)","n":"@NaN"}`)

	// not JSON: stored as a literal string
	expect(t, h, http.MethodPut, "/data/test/test/s", `plain text`, "true")
	expect(t, h, http.MethodGet, "/data/test/test/s", "", `"plain text"`)
}

func TestPatchRoutes(t *testing.T) {
	h := newDynamicServer(t)

	expect(t, h, http.MethodPut, "/data/test/test/u", `{"a":1,"b":1}`, "true")
	expect(t, h, http.MethodPatch, "/data/test/test/u?ifVersion=1", `{"b":2,"a":"@undefined"}`, "true")
	expect(t, h, http.MethodGet, "/data/test/test/u", "", `{"b":2}`)
	expect(t, h, http.MethodPatch, "/data/test/test/u?ifVersion=1", `{"c":3}`, "false")

	expect(t, h, http.MethodPatch, "/data/test/test/doc/a/b?extend=false", `1`, "false")
	expect(t, h, http.MethodGet, "/data/test/test/doc", "", "null")
	expect(t, h, http.MethodPatch, "/data/test/test/doc/a/b?extend=true", `1`, "true")
	expect(t, h, http.MethodGet, "/data/test/test/doc/a/b", "", "1")
	expect(t, h, http.MethodGet, "/data/test/test/doc/a/x", "", "null")
	expect(t, h, http.MethodGet, "/data/test/test/doc", "", `{"a":{"b":1}}`)

	code, _ := do(t, h, http.MethodPatch, "/data/test/test/u", `"scalar"`, "")
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestCopyMoveRoutes(t *testing.T) {
	h := newDynamicServer(t)

	expect(t, h, http.MethodPut, "/data/test/test/src", `"v"`, "true")
	expect(t, h, methodCopy, "/data/test/test/src?key=dst", "", "true")
	expect(t, h, methodCopy, "/data/test/test/src?key=dst", "", "false")
	expect(t, h, methodCopy, "/data/test/test/src?key=dst&overwrite=true&version=7", "", "true")
	expect(t, h, http.MethodGet, "/data/test/test/dst?version=7", "", `"v"`)

	expect(t, h, methodMove, "/data/test/test/src?key=moved&ifVersion=2", "", "false")
	expect(t, h, methodMove, "/data/test/test/src?key=moved&ifVersion=1", "", "true")
	expect(t, h, http.MethodGet, "/data/test/test/src", "", "null")
	expect(t, h, http.MethodGet, "/data/test/test/moved", "", `"v"`)

	code, _ := do(t, h, methodMove, "/data/test/test/moved", "", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

// --------------------------------------------------------------------------
// Errors
// --------------------------------------------------------------------------

func TestErrorStatus(t *testing.T) {
	h := newTestServer(t, registry.Config{
		Environments: map[string]registry.EnvironmentConfig{
			"test": {
				Functions: map[string]string{"move": ops.Disabled},
				Databases: map[string]registry.DatabaseConfig{"test": {}},
			},
		},
	})

	code, body := do(t, h, http.MethodGet, "/data/other/test/k", "")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, decodeJSON(t, body)["error"], "environment")

	code, _ = do(t, h, http.MethodGet, "/data/test/other/k", "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = do(t, h, methodMove, "/data/test/test/k?key=x", "")
	assert.Equal(t, http.StatusMethodNotAllowed, code)

	code, _ = do(t, h, http.MethodGet, "/data/test/test/k?version=abc", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodGet, "/data/test/test/?limit=1.5", "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = do(t, h, http.MethodPut, "/data/test/test/big", strings.Repeat("x", 2<<20))
	assert.Equal(t, http.StatusRequestEntityTooLarge, code)

	code, _ = do(t, h, http.MethodGet, "/data/test/test/k?entry=maybe", "")
	assert.Equal(t, http.StatusBadRequest, code)
}

// --------------------------------------------------------------------------
// Service Routes
// --------------------------------------------------------------------------

func TestServiceRoutes(t *testing.T) {
	h := newDynamicServer(t)

	code, body := do(t, h, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "hKV Server", body)

	expect(t, h, http.MethodPut, "/data/shop/users/joe", `1`, "true")

	code, body = do(t, h, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, body, `hkv_requests_total{method="PUT",status="200"} 1`)
	assert.Contains(t, body, `hkv_request_duration_seconds_count{method="PUT"} 1`)

	code, body = do(t, h, http.MethodGet, "/stats", "")
	require.Equal(t, http.StatusOK, code)
	var stats []registry.EnvironmentStats
	require.NoError(t, json.Unmarshal([]byte(body), &stats))
	require.Len(t, stats, 1)
	assert.Equal(t, "shop", stats[0].Name)
	assert.True(t, stats[0].Open)
	assert.Equal(t, 1.0, stats[0].Metrics["db.users.writes"])
}

func TestParseKey(t *testing.T) {
	assert.Equal(t, "hello", parseKey("hello"))
	assert.Equal(t, "42", parseKey("42"))
	assert.Equal(t, []any{"a", 1.0}, parseKey(`["a",1]`))
	assert.Equal(t, "[broken", parseKey("[broken"))
	assert.Equal(t, []string{"a", "b"}, parsePath("a//b/"))
	assert.Nil(t, parsePath(""))
}
