// Package identity abstracts the external authentication provider. The core
// only needs two things from it: which owner a request acts as, and a signal
// when the signed-in identity changes so the realtime bridge can re-arm.
package identity

import (
	"context"
	"errors"
	"sync"
)

// ErrUnauthenticated is returned when no identity can be resolved. Callers
// fail closed on it: autosave stops and the user is asked to re-authenticate.
var ErrUnauthenticated = errors.New("unauthenticated")

// Resolver maps a bearer token to an owner id.
type Resolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// Change announces that the signed-in owner changed. An empty OwnerID means
// signed out.
type Change struct {
	OwnerID string
}

// StaticResolver resolves tokens from a fixed map. It stands in for the real
// managed auth provider, which lives outside this service.
type StaticResolver struct {
	mu     sync.RWMutex
	tokens map[string]string

	changes chan Change
}

func NewStaticResolver(tokens map[string]string) *StaticResolver {
	owned := make(map[string]string, len(tokens))
	for token, owner := range tokens {
		owned[token] = owner
	}
	return &StaticResolver{
		tokens:  owned,
		changes: make(chan Change, 8),
	}
}

func (r *StaticResolver) Resolve(_ context.Context, token string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.tokens[token]
	if !ok || owner == "" {
		return "", ErrUnauthenticated
	}
	return owner, nil
}

// Changes exposes identity-change notifications for bridge re-arming.
func (r *StaticResolver) Changes() <-chan Change {
	return r.changes
}

// SetToken adds or replaces a token binding and announces the change.
func (r *StaticResolver) SetToken(token, ownerID string) {
	r.mu.Lock()
	r.tokens[token] = ownerID
	r.mu.Unlock()
	r.notify(Change{OwnerID: ownerID})
}

// RevokeToken removes a token binding and announces a sign-out.
func (r *StaticResolver) RevokeToken(token string) {
	r.mu.Lock()
	delete(r.tokens, token)
	r.mu.Unlock()
	r.notify(Change{})
}

func (r *StaticResolver) notify(change Change) {
	select {
	case r.changes <- change:
	default:
		// A slow listener only delays a re-arm; dropping is acceptable
		// because the next resolved request re-establishes state.
	}
}
