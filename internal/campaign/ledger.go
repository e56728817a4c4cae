// Package campaign implements the escrow ledger orchestrating donations,
// milestones, entitlement issuance and fund release.
package campaign

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
	"amana.org/internal/token"
)

const (
	// MaxFeeBasisPoints caps the platform fee at 10%.
	MaxFeeBasisPoints = 1000

	basisPointDenominator = 10000
)

// OrgDirectory resolves the verified organization owned by an identity.
// The organization registry implements it.
type OrgDirectory interface {
	VerifiedOrganization(identity string) (string, error)
}

// Minter mints entitlement tokens. The token registry implements it; the
// ledger calls it with its own minter principal.
type Minter interface {
	Mint(ctx context.Context, beneficiary, campaignID string, amount int64, serviceType string, validity time.Duration) (token.Token, error)
}

// Transferor performs the external value transfer of a fund release. It runs
// strictly after all internal bookkeeping (checks-effects-interactions).
type Transferor interface {
	Transfer(ctx context.Context, recipient string, amount int64) error
}

// TransferorFunc adapts a function to the Transferor interface.
type TransferorFunc func(ctx context.Context, recipient string, amount int64) error

func (f TransferorFunc) Transfer(ctx context.Context, recipient string, amount int64) error {
	return f(ctx, recipient, amount)
}

// Ledger is the campaign escrow engine. Every operation is atomic: all
// preconditions are validated before any state changes, under one lock.
type Ledger struct {
	mu        sync.RWMutex
	campaigns map[string]*Campaign
	byOrg     map[string][]string
	donations map[string]map[string]int64 // campaign id -> donor -> amount
	donors    map[string][]string         // campaign id -> donors in arrival order
	releasing map[string]bool             // reentrancy guard per campaign

	orgs         OrgDirectory
	minter       Minter
	transferor   Transferor
	minterCtx    auth.Principal
	feeBps       int64
	feeCollector string

	events *stream.Stream
	now    func() time.Time
}

// Option configures Ledger behavior.
type Option func(*Ledger)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) {
		if fn != nil {
			l.now = fn
		}
	}
}

// WithEvents attaches the mutation event stream.
func WithEvents(s *stream.Stream) Option {
	return func(l *Ledger) { l.events = s }
}

// WithFee configures the platform fee in basis points and its collector.
func WithFee(bps int64, collector string) Option {
	return func(l *Ledger) {
		l.feeBps = bps
		l.feeCollector = collector
	}
}

// NewLedger creates a campaign ledger wired to the organization directory,
// the token minter and the external transferor.
func NewLedger(orgs OrgDirectory, minter Minter, transferor Transferor, opts ...Option) (*Ledger, error) {
	if orgs == nil || minter == nil || transferor == nil {
		return nil, fmt.Errorf("org directory, minter and transferor are required")
	}
	l := &Ledger{
		campaigns:  make(map[string]*Campaign),
		byOrg:      make(map[string][]string),
		donations:  make(map[string]map[string]int64),
		donors:     make(map[string][]string),
		releasing:  make(map[string]bool),
		orgs:       orgs,
		minter:     minter,
		transferor: transferor,
		minterCtx:  auth.NewPrincipal("campaign-ledger", []string{auth.CapMinter}),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.feeBps < 0 || l.feeBps > MaxFeeBasisPoints {
		return nil, fmt.Errorf("fee must be within [0,%d] basis points", MaxFeeBasisPoints)
	}
	if l.feeBps > 0 && strings.TrimSpace(l.feeCollector) == "" {
		return nil, fmt.Errorf("fee collector is required when a fee is configured")
	}
	return l, nil
}

// CreateCampaign opens an Active campaign owned by the caller's verified
// organization.
func (l *Ledger) CreateCampaign(ctx context.Context, title, description, category string, target int64, duration time.Duration, docRef string) (Campaign, error) {
	principal, err := auth.Require(ctx, "")
	if err != nil {
		return Campaign{}, err
	}
	title = strings.TrimSpace(title)
	description = strings.TrimSpace(description)
	category = strings.TrimSpace(category)
	docRef = strings.TrimSpace(docRef)
	if title == "" || description == "" || category == "" || docRef == "" {
		return Campaign{}, fmt.Errorf("%w: title, description, category and document are required", fault.ErrValidation)
	}
	if target <= 0 {
		return Campaign{}, fmt.Errorf("%w: target amount must be positive", fault.ErrValidation)
	}
	if duration <= 0 {
		return Campaign{}, fmt.Errorf("%w: duration must be positive", fault.ErrValidation)
	}
	orgID, err := l.orgs.VerifiedOrganization(principal.Identity)
	if err != nil {
		return Campaign{}, fmt.Errorf("%w: caller has no verified organization", fault.ErrUnauthorized)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	c := &Campaign{
		ID:          ids.New(ids.Campaign),
		OrgID:       orgID,
		Owner:       principal.Identity,
		Title:       title,
		Description: description,
		Category:    category,
		Target:      target,
		Status:      StatusActive,
		DocRef:      docRef,
		CreatedAt:   now,
		EndTime:     now.Add(duration),
	}
	l.campaigns[c.ID] = c
	l.byOrg[orgID] = append(l.byOrg[orgID], c.ID)
	l.donations[c.ID] = make(map[string]int64)

	l.emit("campaign.create", c.ID, map[string]string{
		"org_id": orgID,
		"owner":  c.Owner,
		"target": fmt.Sprintf("%d", target),
	})
	return copyCampaign(c), nil
}

// AddMilestone appends a milestone to a Draft or Active campaign.
func (l *Ledger) AddMilestone(ctx context.Context, campaignID, description string, target int64, deadline time.Time) error {
	principal, err := auth.Require(ctx, "")
	if err != nil {
		return err
	}
	description = strings.TrimSpace(description)
	if description == "" {
		return fmt.Errorf("%w: description is required", fault.ErrValidation)
	}
	if target <= 0 {
		return fmt.Errorf("%w: target amount must be positive", fault.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.owned(campaignID, principal.Identity)
	if err != nil {
		return err
	}
	if c.Status != StatusDraft && c.Status != StatusActive {
		return fmt.Errorf("%w: campaign is %s", fault.ErrState, c.Status)
	}
	c.Milestones = append(c.Milestones, Milestone{
		Description: description,
		Target:      target,
		Deadline:    deadline,
		Status:      MilestonePending,
	})
	l.emit("campaign.add_milestone", c.ID, map[string]string{
		"index":  fmt.Sprintf("%d", len(c.Milestones)-1),
		"target": fmt.Sprintf("%d", target),
	})
	return nil
}

// Donate escrows a donation. Donations apply in arrival order and are
// strictly additive; reaching the target completes the campaign.
func (l *Ledger) Donate(ctx context.Context, campaignID string, amount int64) (Campaign, error) {
	principal, err := auth.Require(ctx, "")
	if err != nil {
		return Campaign{}, err
	}
	if amount <= 0 {
		return Campaign{}, fmt.Errorf("%w: amount must be positive", fault.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.campaigns[campaignID]
	if !ok {
		return Campaign{}, fmt.Errorf("%w: campaign %s", fault.ErrNotFound, campaignID)
	}
	if c.Status != StatusActive {
		return Campaign{}, fmt.Errorf("%w: campaign is %s", fault.ErrState, c.Status)
	}
	now := l.now()
	if now.After(c.EndTime) {
		return Campaign{}, fmt.Errorf("%w: campaign window has ended", fault.ErrTemporal)
	}

	raised, err := addChecked(c.Raised, amount)
	if err != nil {
		return Campaign{}, err
	}
	escrow, err := addChecked(c.EscrowAvailable, amount)
	if err != nil {
		return Campaign{}, err
	}
	donorTotal, err := addChecked(l.donations[c.ID][principal.Identity], amount)
	if err != nil {
		return Campaign{}, err
	}

	if _, seen := l.donations[c.ID][principal.Identity]; !seen {
		c.DonorCount++
		l.donors[c.ID] = append(l.donors[c.ID], principal.Identity)
	}
	l.donations[c.ID][principal.Identity] = donorTotal
	c.Raised = raised
	c.EscrowAvailable = escrow
	if c.Raised >= c.Target {
		c.Status = StatusCompleted
	}

	obs.ObserveDonation(amount)
	l.emit("campaign.donate", c.ID, map[string]string{
		"donor":  principal.Identity,
		"amount": fmt.Sprintf("%d", amount),
		"raised": fmt.Sprintf("%d", c.Raised),
		"status": string(c.Status),
	})
	return copyCampaign(c), nil
}

// IssueEntitlementToken reserves escrow for a beneficiary by minting an
// entitlement token. Funds are reserved, not yet moved.
func (l *Ledger) IssueEntitlementToken(ctx context.Context, campaignID, beneficiary string, amount int64, serviceType string, validity time.Duration) (token.Token, error) {
	principal, err := auth.Require(ctx, "")
	if err != nil {
		return token.Token{}, err
	}
	if amount <= 0 {
		return token.Token{}, fmt.Errorf("%w: amount must be positive", fault.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.owned(campaignID, principal.Identity)
	if err != nil {
		return token.Token{}, err
	}
	if c.Status != StatusActive && c.Status != StatusCompleted {
		return token.Token{}, fmt.Errorf("%w: campaign is %s", fault.ErrState, c.Status)
	}
	if c.EscrowAvailable < amount {
		return token.Token{}, fmt.Errorf("%w: escrow available %d, requested %d", fault.ErrResource, c.EscrowAvailable, amount)
	}

	// The mint runs under the ledger's own minter principal; on failure
	// nothing here has changed.
	mintCtx := auth.ContextWithPrincipal(ctx, l.minterCtx)
	tok, err := l.minter.Mint(mintCtx, beneficiary, c.ID, amount, serviceType, validity)
	if err != nil {
		return token.Token{}, err
	}

	c.EscrowAvailable -= amount
	c.BeneficiaryCount++
	l.emit("campaign.issue_token", c.ID, map[string]string{
		"token_id":    tok.ID,
		"beneficiary": beneficiary,
		"amount":      fmt.Sprintf("%d", amount),
		"escrow":      fmt.Sprintf("%d", c.EscrowAvailable),
	})
	return tok, nil
}

// RestoreEscrow returns a revoked token's reservation to the campaign's
// available escrow. Admin follow-up to a token revocation.
func (l *Ledger) RestoreEscrow(ctx context.Context, campaignID string, amount int64) error {
	if _, err := auth.Require(ctx, auth.CapAdmin); err != nil {
		return err
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", fault.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.campaigns[campaignID]
	if !ok {
		return fmt.Errorf("%w: campaign %s", fault.ErrNotFound, campaignID)
	}
	if c.EscrowAvailable+amount+c.Released > c.Raised {
		return fmt.Errorf("%w: restore would exceed raised funds", fault.ErrValidation)
	}
	c.EscrowAvailable += amount
	l.emit("campaign.restore_escrow", c.ID, map[string]string{
		"amount": fmt.Sprintf("%d", amount),
		"escrow": fmt.Sprintf("%d", c.EscrowAvailable),
	})
	return nil
}

// ReleaseFunds pays a redeemed reservation out of escrow with the platform
// fee split. Bookkeeping commits before any external transfer, and a
// per-campaign reentrancy lock rejects nested re-entry during the transfer.
// A settled fee is never rolled back: if the net transfer fails after the
// collector was paid, the fee portion stays recorded as released and the
// remainder of the reservation can be retried.
func (l *Ledger) ReleaseFunds(ctx context.Context, campaignID, recipient string, amount int64) error {
	if _, err := auth.Require(ctx, auth.CapAdmin); err != nil {
		return err
	}
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return fmt.Errorf("%w: recipient is required", fault.ErrValidation)
	}
	if amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", fault.ErrValidation)
	}

	// Checks and effects under the lock.
	l.mu.Lock()
	c, ok := l.campaigns[campaignID]
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("%w: campaign %s", fault.ErrNotFound, campaignID)
	}
	if l.releasing[campaignID] {
		l.mu.Unlock()
		return fmt.Errorf("%w: release already in progress for campaign", fault.ErrState)
	}
	reserved := c.Raised - c.EscrowAvailable - c.Released
	if amount > reserved {
		l.mu.Unlock()
		return fmt.Errorf("%w: reserved %d, requested %d", fault.ErrResource, reserved, amount)
	}
	released, err := addChecked(c.Released, amount)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	l.releasing[campaignID] = true
	c.Released = released
	fee := amount * l.feeBps / basisPointDenominator
	net := amount - fee
	l.mu.Unlock()

	// Interactions strictly last. The fee settles first and stays
	// committed once it has left the system; a failed net transfer rolls
	// back only the unsettled portion while the guard is still held, so
	// the books always match what was actually paid out.
	feePaid := false
	if fee > 0 {
		err = l.transferor.Transfer(ctx, l.feeCollector, fee)
		feePaid = err == nil
	}
	if err == nil {
		err = l.transferor.Transfer(ctx, recipient, net)
	}

	l.mu.Lock()
	l.releasing[campaignID] = false
	if err != nil {
		rollback := amount
		if feePaid {
			rollback = net
		}
		c.Released -= rollback
		l.mu.Unlock()
		if feePaid {
			obs.ObserveFundsReleased(fee)
			l.emit("campaign.release_funds", campaignID, map[string]string{
				"recipient": l.feeCollector,
				"amount":    fmt.Sprintf("%d", fee),
				"fee":       fmt.Sprintf("%d", fee),
				"net":       "0",
			})
		}
		return fmt.Errorf("external transfer failed: %w", err)
	}
	l.mu.Unlock()

	obs.ObserveFundsReleased(amount)
	l.emit("campaign.release_funds", campaignID, map[string]string{
		"recipient": recipient,
		"amount":    fmt.Sprintf("%d", amount),
		"fee":       fmt.Sprintf("%d", fee),
		"net":       fmt.Sprintf("%d", net),
	})
	return nil
}

// CompleteMilestone marks a Pending or InProgress milestone Completed.
func (l *Ledger) CompleteMilestone(ctx context.Context, campaignID string, index int, proofRef string) error {
	principal, err := auth.Require(ctx, "")
	if err != nil {
		return err
	}
	proofRef = strings.TrimSpace(proofRef)
	if proofRef == "" {
		return fmt.Errorf("%w: proof is required", fault.ErrValidation)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, err := l.owned(campaignID, principal.Identity)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(c.Milestones) {
		return fmt.Errorf("%w: milestone index %d", fault.ErrNotFound, index)
	}
	m := &c.Milestones[index]
	if m.Status != MilestonePending && m.Status != MilestoneInProgress {
		return fmt.Errorf("%w: milestone is %s", fault.ErrState, m.Status)
	}
	m.Status = MilestoneCompleted
	m.ProofRef = proofRef
	m.CompletedAt = l.now()
	l.emit("campaign.complete_milestone", c.ID, map[string]string{
		"index": fmt.Sprintf("%d", index),
	})
	return nil
}

// PauseCampaign moves an Active campaign to Paused. Owner or admin.
func (l *Ledger) PauseCampaign(ctx context.Context, campaignID string) error {
	return l.setPaused(ctx, campaignID, true)
}

// ResumeCampaign moves a Paused campaign back to Active. Owner or admin.
func (l *Ledger) ResumeCampaign(ctx context.Context, campaignID string) error {
	return l.setPaused(ctx, campaignID, false)
}

func (l *Ledger) setPaused(ctx context.Context, campaignID string, pause bool) error {
	principal, err := auth.Require(ctx, "")
	if err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	c, ok := l.campaigns[campaignID]
	if !ok {
		return fmt.Errorf("%w: campaign %s", fault.ErrNotFound, campaignID)
	}
	if c.Owner != principal.Identity && !principal.HasCapability(auth.CapAdmin) {
		return fmt.Errorf("%w: caller is neither owner nor admin", fault.ErrUnauthorized)
	}
	if pause {
		if c.Status != StatusActive {
			return fmt.Errorf("%w: campaign is %s", fault.ErrState, c.Status)
		}
		c.Status = StatusPaused
		l.emit("campaign.pause", c.ID, nil)
		return nil
	}
	if c.Status != StatusPaused {
		return fmt.Errorf("%w: campaign is %s", fault.ErrState, c.Status)
	}
	c.Status = StatusActive
	l.emit("campaign.resume", c.ID, nil)
	return nil
}

// Get returns a point-in-time snapshot of a campaign.
func (l *Ledger) Get(campaignID string) (Campaign, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.campaigns[campaignID]
	if !ok {
		return Campaign{}, fmt.Errorf("%w: campaign %s", fault.ErrNotFound, campaignID)
	}
	return copyCampaign(c), nil
}

// Milestones returns a campaign's milestone list.
func (l *Ledger) Milestones(campaignID string) ([]Milestone, error) {
	c, err := l.Get(campaignID)
	if err != nil {
		return nil, err
	}
	return c.Milestones, nil
}

// Donors returns a campaign's donor identities in arrival order.
func (l *Ledger) Donors(campaignID string) ([]string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.campaigns[campaignID]; !ok {
		return nil, fmt.Errorf("%w: campaign %s", fault.ErrNotFound, campaignID)
	}
	return append([]string(nil), l.donors[campaignID]...), nil
}

// DonorAmount returns the cumulative amount donated by one identity.
func (l *Ledger) DonorAmount(campaignID, donor string) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if _, ok := l.campaigns[campaignID]; !ok {
		return 0, fmt.Errorf("%w: campaign %s", fault.ErrNotFound, campaignID)
	}
	return l.donations[campaignID][donor], nil
}

// ByOrganization returns the campaign ids created by an organization.
func (l *Ledger) ByOrganization(orgID string) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.byOrg[orgID]...)
}

// CanIssueTokens reports whether the campaign could reserve the amount.
func (l *Ledger) CanIssueTokens(campaignID string, amount int64) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.campaigns[campaignID]
	if !ok || amount <= 0 {
		return false
	}
	if c.Status != StatusActive && c.Status != StatusCompleted {
		return false
	}
	return c.EscrowAvailable >= amount
}

// GetFunds returns the campaign's money view.
func (l *Ledger) GetFunds(campaignID string) (Funds, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	c, ok := l.campaigns[campaignID]
	if !ok {
		return Funds{}, fmt.Errorf("%w: campaign %s", fault.ErrNotFound, campaignID)
	}
	return Funds{Raised: c.Raised, EscrowAvailable: c.EscrowAvailable, Released: c.Released}, nil
}

// owned fetches a campaign the identity must own. Callers hold l.mu.
func (l *Ledger) owned(campaignID, identity string) (*Campaign, error) {
	c, ok := l.campaigns[campaignID]
	if !ok {
		return nil, fmt.Errorf("%w: campaign %s", fault.ErrNotFound, campaignID)
	}
	if c.Owner != identity {
		return nil, fmt.Errorf("%w: caller does not own campaign", fault.ErrUnauthorized)
	}
	return c, nil
}

func (l *Ledger) emit(op, campaignID string, fields map[string]string) {
	if l.events == nil {
		return
	}
	l.events.Publish(stream.Event{Operation: op, Entity: "campaign", EntityID: campaignID, Fields: fields})
}

func copyCampaign(c *Campaign) Campaign {
	out := *c
	out.Milestones = append([]Milestone(nil), c.Milestones...)
	return out
}

// addChecked adds two non-negative amounts, rejecting int64 overflow.
func addChecked(a, b int64) (int64, error) {
	sum := a + b
	if sum < a {
		return 0, fmt.Errorf("%w: amount overflow", fault.ErrValidation)
	}
	return sum, nil
}
