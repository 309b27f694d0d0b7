// Package httputil writes JSON responses for the operator API and maps
// engine errors onto HTTP status codes and machine-readable error codes.
package httputil
