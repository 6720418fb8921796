// Package tokenstore holds the bearer token the chat client attaches to
// requests. A Store is created once, loaded from its persisted form, read and
// written on demand, and cleared on logout.
package tokenstore

import "context"

// Store is the token lifecycle the HTTP client and auth commands depend on.
type Store interface {
	// Load reads the persisted token, if any. A missing token is not an error.
	Load(ctx context.Context) error

	// Token returns the current token, or "" when logged out.
	Token() string

	// Set replaces the token and persists it.
	Set(ctx context.Context, token string) error

	// Clear forgets the token and removes its persisted form.
	Clear(ctx context.Context) error
}
