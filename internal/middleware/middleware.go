// Package middleware provides request-scoped context plumbing shared by all
// routes: request ids and per-request loggers. Cross-cutting HTTP concerns
// (recovery, access logging, CORS) live in the router package.
package middleware

// contextKey is a private type for context keys to avoid collisions
// with other packages storing values in the same context.
type contextKey string
