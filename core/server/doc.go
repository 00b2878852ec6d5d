// Package server holds the HTTP server configuration partial.
package server
