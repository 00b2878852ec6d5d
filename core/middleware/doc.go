// Package middleware groups the HTTP middleware used by the server:
// requestid (per-request correlation id) and auth (api key check).
package middleware
