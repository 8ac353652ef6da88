// Package cmd implements the command-line interface of hKV. It provides a
// hierarchical command structure for running the server and talking to it
// as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts the HTTP server over the configured environments
//   - kv: Client commands (get, put, del, patch, copy, move, range, perf)
//   - util: Shared utilities for flags and configuration (internal use)
//
// See hkv -help for a list of all commands.
package cmd
