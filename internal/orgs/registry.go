package orgs

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"amana.org/internal/auth"
	"amana.org/internal/fault"
	"amana.org/internal/ids"
	"amana.org/internal/stream"
)

// ReputationSource reports the governance reputation of an identity. The
// governance engine implements it; the registry only reads scores when the
// community verification path is taken.
type ReputationSource interface {
	Reputation(identity string) int64
}

// Registry tracks organizations and drives their verification state machine.
// All operations are atomic: preconditions are checked in full before any
// mutation under a single lock.
type Registry struct {
	mu         sync.RWMutex
	byID       map[string]*Organization
	byIdentity map[string]string

	frozen        bool
	verifiedCount int64

	reputation ReputationSource
	events     *stream.Stream
	now        func() time.Time
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

// NewRegistry creates an empty organization registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		byID:       make(map[string]*Organization),
		byIdentity: make(map[string]string),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetReputationSource wires the governance reputation reader. Must be called
// before the governance verification path is used.
func (r *Registry) SetReputationSource(src ReputationSource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reputation = src
}

// Register creates a new organization in Pending status owned by the caller.
func (r *Registry) Register(ctx context.Context, name, registrationNumber, country, category, kycDocRef string) (Organization, error) {
	principal, err := auth.Require(ctx, "")
	if err != nil {
		return Organization{}, err
	}
	name = strings.TrimSpace(name)
	registrationNumber = strings.TrimSpace(registrationNumber)
	country = strings.TrimSpace(country)
	category = strings.TrimSpace(category)
	kycDocRef = strings.TrimSpace(kycDocRef)
	if name == "" || registrationNumber == "" || country == "" || category == "" || kycDocRef == "" {
		return Organization{}, fmt.Errorf("%w: all registration fields are required", fault.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.byIdentity[principal.Identity]; ok {
		return Organization{}, fmt.Errorf("%w: identity already registered an organization", fault.ErrState)
	}

	now := r.now()
	org := &Organization{
		ID:                 ids.New(ids.Organization),
		Identity:           principal.Identity,
		Name:               name,
		RegistrationNumber: registrationNumber,
		Country:            country,
		Category:           category,
		KYCDocRef:          kycDocRef,
		Status:             StatusPending,
		Reputation:         DefaultReputation,
		Active:             true,
		RegisteredAt:       now,
		Activity:           []ActivityEntry{{At: now, Note: "registered"}},
	}
	r.byID[org.ID] = org
	r.byIdentity[org.Identity] = org.ID

	r.emit("org.register", org.ID, map[string]string{
		"identity": org.Identity,
		"name":     org.Name,
		"country":  org.Country,
	})
	return copyOrg(org), nil
}

// Verify transitions a Pending organization to Verified through the direct
// verifier path. Fails permanently once admin verification is frozen.
func (r *Registry) Verify(ctx context.Context, orgID string) error {
	if _, err := auth.Require(ctx, auth.CapVerifier); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: admin verification is frozen", fault.ErrState)
	}
	org, err := r.pending(orgID)
	if err != nil {
		return err
	}
	r.markVerified(org)
	return nil
}

// VerifyThroughGovernance transitions a Pending organization to Verified via
// the community path. While admin verification is not frozen a Verifier
// capability also suffices; once frozen only reputation counts. Both paths
// converge on the same transition.
func (r *Registry) VerifyThroughGovernance(ctx context.Context, orgID string) error {
	principal, err := auth.Require(ctx, "")
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	allowed := !r.frozen && principal.HasCapability(auth.CapVerifier)
	if !allowed {
		if r.reputation == nil {
			return fmt.Errorf("%w: governance reputation source not configured", fault.ErrState)
		}
		if r.reputation.Reputation(principal.Identity) < GovernanceVerifyReputation {
			return fmt.Errorf("%w: reputation below %d", fault.ErrUnauthorized, GovernanceVerifyReputation)
		}
	}
	org, err := r.pending(orgID)
	if err != nil {
		return err
	}
	r.markVerified(org)
	return nil
}

// Reject transitions a Pending organization to Rejected.
func (r *Registry) Reject(ctx context.Context, orgID, reason string) error {
	if _, err := auth.Require(ctx, auth.CapVerifier); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: reason is required", fault.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	org, err := r.pending(orgID)
	if err != nil {
		return err
	}
	org.Status = StatusRejected
	org.Active = false
	r.recordActivity(org, "rejected: "+reason)
	r.emit("org.reject", org.ID, map[string]string{"reason": reason})
	return nil
}

// Suspend transitions a Verified organization to Suspended (admin path).
func (r *Registry) Suspend(ctx context.Context, orgID, reason string) error {
	if _, err := auth.Require(ctx, auth.CapAdmin); err != nil {
		return err
	}
	return r.suspend(orgID, reason)
}

// SuspendThroughGovernance suspends a Verified organization when the caller's
// governance reputation is high enough.
func (r *Registry) SuspendThroughGovernance(ctx context.Context, orgID, reason string) error {
	principal, err := auth.Require(ctx, "")
	if err != nil {
		return err
	}
	r.mu.RLock()
	src := r.reputation
	r.mu.RUnlock()
	if src == nil {
		return fmt.Errorf("%w: governance reputation source not configured", fault.ErrState)
	}
	if src.Reputation(principal.Identity) < GovernanceSuspendReputation {
		return fmt.Errorf("%w: reputation below %d", fault.ErrUnauthorized, GovernanceSuspendReputation)
	}
	return r.suspend(orgID, reason)
}

func (r *Registry) suspend(orgID, reason string) error {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: reason is required", fault.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	org, ok := r.byID[orgID]
	if !ok {
		return fmt.Errorf("%w: organization %s", fault.ErrNotFound, orgID)
	}
	if org.Status != StatusVerified {
		return fmt.Errorf("%w: only verified organizations can be suspended", fault.ErrState)
	}
	org.Status = StatusSuspended
	org.Active = false
	r.recordActivity(org, "suspended: "+reason)
	r.emit("org.suspend", org.ID, map[string]string{"reason": reason})
	return nil
}

// Blacklist moves an organization from any status to Blacklisted.
func (r *Registry) Blacklist(ctx context.Context, orgID, reason string) error {
	if _, err := auth.Require(ctx, auth.CapAdmin); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return fmt.Errorf("%w: reason is required", fault.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	org, ok := r.byID[orgID]
	if !ok {
		return fmt.Errorf("%w: organization %s", fault.ErrNotFound, orgID)
	}
	org.Status = StatusBlacklisted
	org.Active = false
	r.recordActivity(org, "blacklisted: "+reason)
	r.emit("org.blacklist", org.ID, map[string]string{"reason": reason})
	return nil
}

// UpdateReputation overwrites an organization's reputation score.
func (r *Registry) UpdateReputation(ctx context.Context, orgID string, score int64) error {
	if _, err := auth.Require(ctx, auth.CapAdmin); err != nil {
		return err
	}
	if score < 0 || score > MaxReputation {
		return fmt.Errorf("%w: reputation must be within [0,%d]", fault.ErrValidation, MaxReputation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	org, ok := r.byID[orgID]
	if !ok {
		return fmt.Errorf("%w: organization %s", fault.ErrNotFound, orgID)
	}
	org.Reputation = score
	r.emit("org.update_reputation", org.ID, map[string]string{"score": fmt.Sprintf("%d", score)})
	return nil
}

// UpdateStatistics overwrites an organization's aggregate counters.
func (r *Registry) UpdateStatistics(ctx context.Context, orgID string, campaigns, totalRaised, beneficiaries int64) error {
	if _, err := auth.Require(ctx, auth.CapAdmin); err != nil {
		return err
	}
	if campaigns < 0 || totalRaised < 0 || beneficiaries < 0 {
		return fmt.Errorf("%w: counters must be non-negative", fault.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	org, ok := r.byID[orgID]
	if !ok {
		return fmt.Errorf("%w: organization %s", fault.ErrNotFound, orgID)
	}
	org.CampaignCount = campaigns
	org.TotalRaised = totalRaised
	org.BeneficiaryCount = beneficiaries
	r.emit("org.update_statistics", org.ID, map[string]string{
		"campaigns":     fmt.Sprintf("%d", campaigns),
		"total_raised":  fmt.Sprintf("%d", totalRaised),
		"beneficiaries": fmt.Sprintf("%d", beneficiaries),
	})
	return nil
}

// FreezeAdminVerification is a one-way switch: after it fires, only the
// governance path can verify organizations. It can never be unset.
func (r *Registry) FreezeAdminVerification(ctx context.Context) error {
	if _, err := auth.Require(ctx, auth.CapAdmin); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.frozen {
		return fmt.Errorf("%w: admin verification already frozen", fault.ErrState)
	}
	r.frozen = true
	r.emit("org.freeze_admin_verification", "", nil)
	return nil
}

// AdminVerificationFrozen reports whether the one-way freeze has fired.
func (r *Registry) AdminVerificationFrozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// IsVerified reports whether the identity owns a Verified, active organization.
func (r *Registry) IsVerified(identity string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdentity[identity]
	if !ok {
		return false
	}
	org := r.byID[id]
	return org.Status == StatusVerified && org.Active
}

// VerifiedOrganization returns the organization id owned by the identity if
// that organization is Verified and active.
func (r *Registry) VerifiedOrganization(identity string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdentity[identity]
	if !ok {
		return "", fmt.Errorf("%w: no organization for identity", fault.ErrNotFound)
	}
	org := r.byID[id]
	if org.Status != StatusVerified || !org.Active {
		return "", fmt.Errorf("%w: organization is not verified", fault.ErrState)
	}
	return id, nil
}

// Get returns a point-in-time snapshot of an organization.
func (r *Registry) Get(orgID string) (Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	org, ok := r.byID[orgID]
	if !ok {
		return Organization{}, fmt.Errorf("%w: organization %s", fault.ErrNotFound, orgID)
	}
	return copyOrg(org), nil
}

// GetByIdentity returns the organization owned by the identity.
func (r *Registry) GetByIdentity(identity string) (Organization, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byIdentity[identity]
	if !ok {
		return Organization{}, fmt.Errorf("%w: no organization for identity", fault.ErrNotFound)
	}
	return copyOrg(r.byID[id]), nil
}

// List returns snapshots of all organizations. Bounded by total entity count;
// callers paginate externally.
func (r *Registry) List() []Organization {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Organization, 0, len(r.byID))
	for _, org := range r.byID {
		out = append(out, copyOrg(org))
	}
	return out
}

// VerifiedCount returns the global count of verified organizations.
func (r *Registry) VerifiedCount() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.verifiedCount
}

// pending fetches an organization that must be in Pending status.
// Callers hold r.mu.
func (r *Registry) pending(orgID string) (*Organization, error) {
	org, ok := r.byID[orgID]
	if !ok {
		return nil, fmt.Errorf("%w: organization %s", fault.ErrNotFound, orgID)
	}
	if org.Status != StatusPending {
		return nil, fmt.Errorf("%w: organization is not pending verification", fault.ErrState)
	}
	return org, nil
}

// markVerified is the single transition both verification paths converge on.
// Callers hold r.mu.
func (r *Registry) markVerified(org *Organization) {
	org.Status = StatusVerified
	org.VerifiedAt = r.now()
	r.verifiedCount++
	r.recordActivity(org, "verified")
	r.emit("org.verify", org.ID, map[string]string{"identity": org.Identity})
}

func (r *Registry) recordActivity(org *Organization, note string) {
	org.Activity = append(org.Activity, ActivityEntry{At: r.now(), Note: note})
}

func (r *Registry) emit(op, orgID string, fields map[string]string) {
	if r.events == nil {
		return
	}
	r.events.Publish(stream.Event{Operation: op, Entity: "organization", EntityID: orgID, Fields: fields})
}

func copyOrg(org *Organization) Organization {
	out := *org
	out.Activity = append([]ActivityEntry(nil), org.Activity...)
	return out
}
