// Package server implements the HTTP front end of hKV.
//
// Every data route addresses a database as {environment}/{name} below a configurable
// prefix (default /data) and is served against a database acquired from a
// registry.Registry for the duration of the request.
//
// Wire format:
//
//   - Bodies and structured query parameters (start, end, keyMatch, valueMatch) are
//     decoded with lib/codec; text that is not JSON is taken as a literal string.
//   - Keys in the path are literal strings. A key that is a JSON array is a tuple key.
//   - Writes answer with the JSON literals true or false. A failed version check is
//     false, never an error.
//   - Errors are JSON objects {"error": "..."} with the status derived from the
//     store.RetCode: 404 not found, 400 invalid request, 405 disabled function,
//     409 aborted, 500 engine failure.
//
// Service routes:
//
//	GET /          banner
//	GET /metrics   Prometheus metrics (hkv_requests_total, hkv_request_duration_seconds)
//	GET /stats     environments, engine info and store counters as JSON
//
// Usage Example:
//
//	reg, _ := registry.New(config.Registry)
//	defer reg.Close()
//
//	s := server.NewServer(config, reg)
//	if err := s.Serve(ctx); err != nil {
//		log.Fatal(err)
//	}
package server
