// Package middleware provides HTTP middleware shared across routes.
package middleware

// contextKey is a private type for request context keys.
type contextKey string
