package auth

import (
	"context"
	"fmt"

	"amana.org/internal/fault"
)

// Principal is an authenticated identity with resolved capabilities.
type Principal struct {
	Identity     string
	Capabilities map[string]struct{}
}

// NewPrincipal constructs a principal with the given capability keys.
func NewPrincipal(identity string, capabilities []string) Principal {
	set := make(map[string]struct{}, len(capabilities))
	for _, c := range capabilities {
		set[c] = struct{}{}
	}
	return Principal{Identity: identity, Capabilities: set}
}

// HasCapability reports whether the principal holds the capability key.
func (p Principal) HasCapability(key string) bool {
	_, ok := p.Capabilities[key]
	return ok
}

// Require extracts the principal from the context and checks the capability.
// Pass an empty capability to only require authentication.
func Require(ctx context.Context, capability string) (Principal, error) {
	principal, ok := PrincipalFromContext(ctx)
	if !ok {
		return Principal{}, fmt.Errorf("%w: authentication required", fault.ErrUnauthorized)
	}
	if capability != "" && !principal.HasCapability(capability) {
		return Principal{}, fmt.Errorf("%w: missing capability %s", fault.ErrUnauthorized, capability)
	}
	return principal, nil
}
