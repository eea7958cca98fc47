// Package httpserver runs an http.Server bound to a context with graceful
// shutdown, and provides a JSON health handler over named dependency checks.
package httpserver
