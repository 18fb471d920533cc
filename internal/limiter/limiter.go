// Package limiter defines interfaces and implementations for request rate limiting.
package limiter

// Limiter throttles brute-force attempts per caller identifier.
type Limiter interface {
	// Allow reports whether a request from the identifier is currently permitted.
	Allow(identifier string) bool
}
