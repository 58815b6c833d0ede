// Package clients provides typed Go clients for the oracle bridge HTTP API.
package clients
