// Package rpc contains the network layer of hKV.
//
// The package is organized into several subpackages:
//
//   - common: configuration structures and logging shared by server and client.
//
//   - server: the HTTP server exposing the databases of a registry under
//     {prefix}/{environment}/{name}/{key}, plus /metrics and /stats.
//
//   - client: a Go client for that API with round-robin endpoints and retries.
package rpc
