// Package client implements an HTTP client for the hKV server.
//
// A Client spreads requests round-robin over the configured endpoints and
// retries requests that fail to reach a server on the next endpoint. Error
// responses are converted back into *store.Error values, so callers can use
// store.CodeOf to tell a missing database (RetCNotFound) from a bad request
// (RetCInvalidOperation) or a disabled function (RetCUnsupportedOperation).
//
// Keys are sent the way the server parses them: strings literally, numbers
// and tuples as JSON arrays. Values are encoded with the extended value codec,
// so NaN, dates, regular expressions and codec.Undefined survive the round trip.
//
// Usage Example:
//
//	c, err := client.NewClient(common.ClientConfig{
//		Endpoints:     []string{"localhost:8080"},
//		TimeoutSecond: 5,
//		RetryCount:    3,
//	})
//	if err != nil {
//		panic(err)
//	}
//	defer c.Close()
//
//	db := c.Database("shop", "users")
//	ok, err := db.Put(ctx, []any{"user", 1}, map[string]any{"name": "joe"}, ops.Conditions{})
//	page, err := db.Range(ctx, ops.ScanRequest{Limit: 100})
package client
