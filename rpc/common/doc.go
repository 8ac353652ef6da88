// Package common holds what the HTTP server, the client and the command line
// share.
//
//   - ServerConfig: endpoint, route prefix, body and time limits, log level and
//     the registry configuration of the server.
//
//   - ClientConfig: endpoints, timeout and retry behavior of the client.
//
//   - Logger: a custom logger factory for the dragonboat logger facade, used by
//     all hKV packages so their output shares one format and one level.
package common
