// Package providers tracks the service providers allowed to redeem
// entitlement tokens.
package providers

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"amana.org/internal/auth"
	"amana.org/internal/fault"
	"amana.org/internal/ids"
	"amana.org/internal/stream"
)

// Status is the provider lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusVerified  Status = "verified"
	StatusRejected  Status = "rejected"
	StatusSuspended Status = "suspended"
)

// Provider is a vetted service vendor (clinic, school, pharmacy) that
// performs services against entitlement tokens.
type Provider struct {
	ID              string    `json:"id"`
	Identity        string    `json:"identity"`
	Name            string    `json:"name"`
	ServiceType     string    `json:"service_type"`
	Region          string    `json:"region"`
	DocRef          string    `json:"doc_ref"`
	Status          Status    `json:"status"`
	RedemptionCount int64     `json:"redemption_count"`
	RedeemedAmount  int64     `json:"redeemed_amount"`
	RegisteredAt    time.Time `json:"registered_at"`
	VerifiedAt      time.Time `json:"verified_at,omitempty"`
}

// Registry holds providers keyed by id and by controlling identity.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*Provider
	byIdentity map[string]string

	events *stream.Stream
	now    func() time.Time
}

// Option configures Registry behavior.
type Option func(*Registry)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Registry) {
		if fn != nil {
			r.now = fn
		}
	}
}

// WithEvents attaches the mutation event stream.
func WithEvents(s *stream.Stream) Option {
	return func(r *Registry) { r.events = s }
}

// NewRegistry creates an empty provider registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byID:       make(map[string]*Provider),
		byIdentity: make(map[string]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register enrolls the caller's identity as a Pending provider. One provider
// per identity.
func (r *Registry) Register(ctx context.Context, name, serviceType, region, docRef string) (Provider, error) {
	principal, err := auth.Require(ctx, "")
	if err != nil {
		return Provider{}, err
	}
	name = strings.TrimSpace(name)
	serviceType = strings.TrimSpace(serviceType)
	region = strings.TrimSpace(region)
	docRef = strings.TrimSpace(docRef)
	if name == "" || serviceType == "" || region == "" || docRef == "" {
		return Provider{}, fmt.Errorf("%w: name, service type, region and document are required", fault.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byIdentity[principal.Identity]; exists {
		return Provider{}, fmt.Errorf("%w: identity already registered a provider", fault.ErrState)
	}
	p := &Provider{
		ID:           ids.New(ids.Provider),
		Identity:     principal.Identity,
		Name:         name,
		ServiceType:  serviceType,
		Region:       region,
		DocRef:       docRef,
		Status:       StatusPending,
		RegisteredAt: r.now(),
	}
	r.byID[p.ID] = p
	r.byIdentity[p.Identity] = p.ID

	r.emit("provider.register", p.ID, map[string]string{
		"identity":     p.Identity,
		"service_type": serviceType,
	})
	return *p, nil
}

// Verify approves a Pending provider and grants it the redeemer role.
func (r *Registry) Verify(ctx context.Context, providerID string) (Provider, error) {
	if _, err := auth.Require(ctx, auth.CapVerifier); err != nil {
		return Provider{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.get(providerID)
	if err != nil {
		return Provider{}, err
	}
	if p.Status != StatusPending {
		return Provider{}, fmt.Errorf("%w: provider is %s", fault.ErrState, p.Status)
	}
	p.Status = StatusVerified
	p.VerifiedAt = r.now()
	r.emit("provider.verify", p.ID, map[string]string{"identity": p.Identity})
	return *p, nil
}

// Reject declines a Pending provider.
func (r *Registry) Reject(ctx context.Context, providerID, reason string) (Provider, error) {
	if _, err := auth.Require(ctx, auth.CapVerifier); err != nil {
		return Provider{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Provider{}, fmt.Errorf("%w: reason is required", fault.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.get(providerID)
	if err != nil {
		return Provider{}, err
	}
	if p.Status != StatusPending {
		return Provider{}, fmt.Errorf("%w: provider is %s", fault.ErrState, p.Status)
	}
	p.Status = StatusRejected
	r.emit("provider.reject", p.ID, map[string]string{"reason": reason})
	return *p, nil
}

// Suspend removes a Verified provider from service.
func (r *Registry) Suspend(ctx context.Context, providerID, reason string) (Provider, error) {
	if _, err := auth.Require(ctx, auth.CapAdmin); err != nil {
		return Provider{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Provider{}, fmt.Errorf("%w: reason is required", fault.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.get(providerID)
	if err != nil {
		return Provider{}, err
	}
	if p.Status != StatusVerified {
		return Provider{}, fmt.Errorf("%w: provider is %s", fault.ErrState, p.Status)
	}
	p.Status = StatusSuspended
	r.emit("provider.suspend", p.ID, map[string]string{"reason": reason})
	return *p, nil
}

// Reinstate returns a Suspended provider to Verified.
func (r *Registry) Reinstate(ctx context.Context, providerID string) (Provider, error) {
	if _, err := auth.Require(ctx, auth.CapAdmin); err != nil {
		return Provider{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.get(providerID)
	if err != nil {
		return Provider{}, err
	}
	if p.Status != StatusSuspended {
		return Provider{}, fmt.Errorf("%w: provider is %s", fault.ErrState, p.Status)
	}
	p.Status = StatusVerified
	r.emit("provider.reinstate", p.ID, nil)
	return *p, nil
}

// RecordRedemption updates a Verified provider's redemption statistics after
// a settled token.
func (r *Registry) RecordRedemption(ctx context.Context, providerID string, amount int64) error {
	if _, err := auth.Require(ctx, auth.CapAdmin); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", fault.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.get(providerID)
	if err != nil {
		return err
	}
	if p.Status != StatusVerified {
		return fmt.Errorf("%w: provider is %s", fault.ErrState, p.Status)
	}
	p.RedemptionCount++
	p.RedeemedAmount += amount
	r.emit("provider.record_redemption", p.ID, map[string]string{
		"amount": fmt.Sprintf("%d", amount),
	})
	return nil
}

// IsVerified reports whether the identity controls a Verified provider.
func (r *Registry) IsVerified(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdentity[identity]
	if !ok {
		return false
	}
	return r.byID[id].Status == StatusVerified
}

// Get returns a point-in-time snapshot of a provider.
func (r *Registry) Get(providerID string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, err := r.get(providerID)
	if err != nil {
		return Provider{}, err
	}
	return *p, nil
}

// GetByIdentity resolves a provider by its controlling identity.
func (r *Registry) GetByIdentity(identity string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdentity[identity]
	if !ok {
		return Provider{}, fmt.Errorf("%w: provider for identity %s", fault.ErrNotFound, identity)
	}
	return *r.byID[id], nil
}

// List returns providers sorted by registration time, optionally filtered by
// status and service type.
func (r *Registry) List(status Status, serviceType string) []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Provider, 0, len(r.byID))
	for _, p := range r.byID {
		if status != "" && p.Status != status {
			continue
		}
		if serviceType != "" && p.ServiceType != serviceType {
			continue
		}
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RegisteredAt.Equal(out[j].RegisteredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RegisteredAt.Before(out[j].RegisteredAt)
	})
	return out
}

func (r *Registry) get(providerID string) (*Provider, error) {
	p, ok := r.byID[providerID]
	if !ok {
		return nil, fmt.Errorf("%w: provider %s", fault.ErrNotFound, providerID)
	}
	return p, nil
}

func (r *Registry) emit(op, providerID string, fields map[string]string) {
	if r.events == nil {
		return
	}
	r.events.Publish(stream.Event{Operation: op, Entity: "provider", EntityID: providerID, Fields: fields})
}
