// Package token mints and settles non-transferable entitlement records.
package token

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"amana.org/internal/auth"
	"amana.org/internal/fault"
	"amana.org/internal/ids"
	"amana.org/internal/obs"
	"amana.org/internal/stream"
)

// Registry holds all entitlement tokens with per-beneficiary and
// per-campaign indexes.
type Registry struct {
	mu            sync.RWMutex
	tokens        map[string]*Token
	byBeneficiary map[string][]string
	byCampaign    map[string][]string

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

// NewRegistry creates an empty token registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		tokens:        make(map[string]*Token),
		byBeneficiary: make(map[string][]string),
		byCampaign:    make(map[string][]string),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Mint creates an Active token for the beneficiary. Only the campaign ledger
// holds the minter capability.
func (r *Registry) Mint(ctx context.Context, beneficiary, campaignID string, amount int64, serviceType string, validity time.Duration) (Token, error) {
	if _, err := auth.Require(ctx, auth.CapMinter); err != nil {
		return Token{}, err
	}
	beneficiary = strings.TrimSpace(beneficiary)
	campaignID = strings.TrimSpace(campaignID)
	serviceType = strings.TrimSpace(serviceType)
	if beneficiary == "" || campaignID == "" || serviceType == "" {
		return Token{}, fmt.Errorf("%w: beneficiary, campaign and service type are required", fault.ErrValidation)
	}
	if amount <= 0 {
		return Token{}, fmt.Errorf("%w: amount must be positive", fault.ErrValidation)
	}
	if validity <= 0 {
		return Token{}, fmt.Errorf("%w: validity period must be positive", fault.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	tok := &Token{
		ID:          ids.New(ids.Token),
		Beneficiary: beneficiary,
		CampaignID:  campaignID,
		Amount:      amount,
		ServiceType: serviceType,
		IssuedAt:    now,
		ExpiresAt:   now.Add(validity),
		Status:      StatusActive,
	}
	r.tokens[tok.ID] = tok
	r.byBeneficiary[beneficiary] = append(r.byBeneficiary[beneficiary], tok.ID)
	r.byCampaign[campaignID] = append(r.byCampaign[campaignID], tok.ID)

	obs.ObserveTokenIssued()
	r.emit("token.mint", tok.ID, map[string]string{
		"beneficiary":  beneficiary,
		"campaign_id":  campaignID,
		"amount":       fmt.Sprintf("%d", amount),
		"service_type": serviceType,
	})
	return *tok, nil
}

// Redeem settles a token exactly once. A token is redeemable while it is
// Active and now <= expiry; redemption at the expiry instant is accepted.
func (r *Registry) Redeem(ctx context.Context, tokenID, proofRef string) (Token, error) {
	principal, err := auth.Require(ctx, auth.CapRedeemer)
	if err != nil {
		return Token{}, err
	}
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return Token{}, fmt.Errorf("%w: proof of service is required", fault.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[tokenID]
	if !ok {
		return Token{}, fmt.Errorf("%w: token %s", fault.ErrNotFound, tokenID)
	}
	if tok.Status == StatusRedeemed {
		return Token{}, fmt.Errorf("%w: token already redeemed", fault.ErrState)
	}
	if !canTransition(tok.Status, StatusRedeemed) {
		return Token{}, fmt.Errorf("%w: token is %s", fault.ErrState, tok.Status)
	}
	now := r.now()
	if now.After(tok.ExpiresAt) {
		return Token{}, fmt.Errorf("%w: token expired", fault.ErrTemporal)
	}

	tok.Status = StatusRedeemed
	tok.Redeemer = principal.Identity
	tok.RedeemedAt = now
	tok.ProofRef = proofRef

	obs.ObserveTokenRedeemed()
	r.emit("token.redeem", tok.ID, map[string]string{
		"redeemer":    principal.Identity,
		"campaign_id": tok.CampaignID,
		"amount":      fmt.Sprintf("%d", tok.Amount),
	})
	return *tok, nil
}

// Revoke terminates an Active token through the emergency admin path. It
// bypasses expiry but never a terminal state.
func (r *Registry) Revoke(ctx context.Context, tokenID, reason string) (Token, error) {
	if _, err := auth.Require(ctx, auth.CapAdmin); err != nil {
		return Token{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Token{}, fmt.Errorf("%w: reason is required", fault.ErrValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[tokenID]
	if !ok {
		return Token{}, fmt.Errorf("%w: token %s", fault.ErrNotFound, tokenID)
	}
	if !canTransition(tok.Status, StatusRevoked) {
		return Token{}, fmt.Errorf("%w: token is %s", fault.ErrState, tok.Status)
	}
	tok.Status = StatusRevoked
	tok.Reason = reason
	r.emit("token.revoke", tok.ID, map[string]string{"reason": reason, "campaign_id": tok.CampaignID})
	return *tok, nil
}

// MarkExpired lets any observer move a stale Active token into the Expired
// terminal state; no background scheduler is needed.
func (r *Registry) MarkExpired(ctx context.Context, tokenID string) (Token, error) {
	if _, err := auth.Require(ctx, ""); err != nil {
		return Token{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tok, ok := r.tokens[tokenID]
	if !ok {
		return Token{}, fmt.Errorf("%w: token %s", fault.ErrNotFound, tokenID)
	}
	if !canTransition(tok.Status, StatusExpired) {
		return Token{}, fmt.Errorf("%w: token is %s", fault.ErrState, tok.Status)
	}
	if !r.now().After(tok.ExpiresAt) {
		return Token{}, fmt.Errorf("%w: token has not expired yet", fault.ErrTemporal)
	}
	tok.Status = StatusExpired
	r.emit("token.expire", tok.ID, map[string]string{"campaign_id": tok.CampaignID})
	return *tok, nil
}

// Transfer always fails: the holder recorded at mint time is permanent.
// This is an invariant of the type, not a permission check.
func (r *Registry) Transfer(ctx context.Context, tokenID, recipient string) error {
	return fmt.Errorf("%w: entitlement tokens are non-transferable", fault.ErrState)
}

// Approve always fails for the same reason as Transfer.
func (r *Registry) Approve(ctx context.Context, tokenID, spender string) error {
	return fmt.Errorf("%w: entitlement tokens are non-transferable", fault.ErrState)
}

// IsRedeemable reports whether a token exists, is Active and not expired.
func (r *Registry) IsRedeemable(tokenID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.tokens[tokenID]
	if !ok {
		return false
	}
	return tok.Status == StatusActive && !r.now().After(tok.ExpiresAt)
}

// Get returns a point-in-time snapshot of a token.
func (r *Registry) Get(tokenID string) (Token, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tok, ok := r.tokens[tokenID]
	if !ok {
		return Token{}, fmt.Errorf("%w: token %s", fault.ErrNotFound, tokenID)
	}
	return *tok, nil
}

// BeneficiaryTokens returns the token ids held by an identity, in mint order.
func (r *Registry) BeneficiaryTokens(identity string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.byBeneficiary[identity]...)
}

// CampaignTokens returns the token ids issued against a campaign, in mint order.
func (r *Registry) CampaignTokens(campaignID string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.byCampaign[campaignID]...)
}

func (r *Registry) emit(op, tokenID string, fields map[string]string) {
	if r.events == nil {
		return
	}
	r.events.Publish(stream.Event{Operation: op, Entity: "token", EntityID: tokenID, Fields: fields})
}
