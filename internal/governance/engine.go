// Package governance implements the reputation-weighted proposal and voting
// system used to verify or challenge organizations by community consensus.
package governance

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

const (
	// VotingPeriod is the fixed length of every voting window.
	VotingPeriod = 7 * 24 * time.Hour

	// MinVoteReputation gates proposal creation and vote casting.
	MinVoteReputation = 100

	// VoteWeightBase scales reputation into voting power:
	// weight = reputation * VoteWeightBase / MaxReputation.
	VoteWeightBase = 100

	// ReputationDelta is the fixed score movement per resolved proposal.
	ReputationDelta = 10

	// MaxReputation bounds every user score.
	MaxReputation = 1000
)

// Engine owns proposals, votes and per-user reputation. A verification
// proposal is singular per organization; challenges may pile up.
type Engine struct {
	mu           sync.RWMutex
	proposals    map[string]*Proposal
	voted        map[string]map[string]struct{} // proposal id -> voter set
	verification map[string]string              // org id -> verification proposal id
	challenges   map[string][]string            // org id -> challenge proposal ids
	reputation   map[string]*UserReputation

	events *stream.Stream
	now    func() time.Time
}

// Option configures Engine behavior.
type Option func(*Engine)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(e *Engine) {
		if fn != nil {
			e.now = fn
		}
	}
}

// WithEvents attaches the mutation event stream.
func WithEvents(s *stream.Stream) Option {
	return func(e *Engine) { e.events = s }
}

// NewEngine creates an empty governance engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{
		proposals:    make(map[string]*Proposal),
		voted:        make(map[string]map[string]struct{}),
		verification: make(map[string]string),
		challenges:   make(map[string][]string),
		reputation:   make(map[string]*UserReputation),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// CreateVerificationProposal opens a verification vote for an organization.
// Only one verification proposal may ever exist per organization; the
// proposer's own vote is cast automatically as an upvote.
func (e *Engine) CreateVerificationProposal(ctx context.Context, orgID, description, evidenceRef string) (Proposal, error) {
	return e.createProposal(ctx, KindVerification, orgID, description, evidenceRef)
}

// ChallengeOrganization opens a challenge vote against an organization. The
// proposer's own vote is cast automatically as a downvote. Many challenges
// may exist concurrently for the same organization.
func (e *Engine) ChallengeOrganization(ctx context.Context, orgID, description, evidenceRef string) (Proposal, error) {
	return e.createProposal(ctx, KindChallenge, orgID, description, evidenceRef)
}

func (e *Engine) createProposal(ctx context.Context, kind Kind, orgID, description, evidenceRef string) (Proposal, error) {
	principal, err := auth.Require(ctx, "")
	if err != nil {
		return Proposal{}, err
	}
	orgID = strings.TrimSpace(orgID)
	description = strings.TrimSpace(description)
	evidenceRef = strings.TrimSpace(evidenceRef)
	if orgID == "" || description == "" || evidenceRef == "" {
		return Proposal{}, fmt.Errorf("%w: org id, description and evidence are required", fault.ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	rep := e.score(principal.Identity)
	if rep < MinVoteReputation {
		return Proposal{}, fmt.Errorf("%w: reputation %d below minimum %d", fault.ErrUnauthorized, rep, MinVoteReputation)
	}
	if kind == KindVerification {
		if _, exists := e.verification[orgID]; exists {
			return Proposal{}, fmt.Errorf("%w: verification proposal already exists for organization", fault.ErrState)
		}
	}

	now := e.now()
	p := &Proposal{
		ID:          ids.New(ids.Proposal),
		OrgID:       orgID,
		Kind:        kind,
		Proposer:    principal.Identity,
		Description: description,
		EvidenceRef: evidenceRef,
		VotingStart: now,
		VotingEnd:   now.Add(VotingPeriod),
	}
	e.proposals[p.ID] = p
	e.voted[p.ID] = make(map[string]struct{})
	if kind == KindVerification {
		e.verification[orgID] = p.ID
	} else {
		e.challenges[orgID] = append(e.challenges[orgID], p.ID)
	}

	user := e.user(principal.Identity)
	user.Proposals++
	user.LastActive = now

	// The proposer votes with the proposal itself.
	choice := ChoiceUp
	if kind == KindChallenge {
		choice = ChoiceDown
	}
	e.applyVote(p, principal.Identity, choice, rep, now)

	e.emit("governance.propose", p.ID, map[string]string{
		"org_id":   orgID,
		"kind":     string(kind),
		"proposer": principal.Identity,
	})
	return copyProposal(p), nil
}

// CastVote records one reputation-weighted vote. Each voter may appear at
// most once per proposal, and only while the window is open.
func (e *Engine) CastVote(ctx context.Context, proposalID string, choice Choice) error {
	principal, err := auth.Require(ctx, "")
	if err != nil {
		return err
	}
	if choice != ChoiceUp && choice != ChoiceDown {
		return fmt.Errorf("%w: choice must be up or down", fault.ErrValidation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return fmt.Errorf("%w: proposal %s", fault.ErrNotFound, proposalID)
	}
	now := e.now()
	if !now.Before(p.VotingEnd) {
		return fmt.Errorf("%w: voting window closed", fault.ErrTemporal)
	}
	rep := e.score(principal.Identity)
	if rep < MinVoteReputation {
		return fmt.Errorf("%w: reputation %d below minimum %d", fault.ErrUnauthorized, rep, MinVoteReputation)
	}
	if _, already := e.voted[p.ID][principal.Identity]; already {
		return fmt.Errorf("%w: already voted", fault.ErrState)
	}

	e.applyVote(p, principal.Identity, choice, rep, now)
	e.user(principal.Identity).LastActive = now
	e.emit("governance.vote", p.ID, map[string]string{
		"voter":  principal.Identity,
		"choice": string(choice),
	})
	return nil
}

// ExecuteProposal resolves a proposal once its window has closed. Callable by
// anyone; the executed flag flips exactly once. Only the proposer's
// reputation moves: the reference behavior never touched the other voters and
// changing that would be a different economic model.
func (e *Engine) ExecuteProposal(ctx context.Context, proposalID string) (Proposal, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.proposals[proposalID]
	if !ok {
		return Proposal{}, fmt.Errorf("%w: proposal %s", fault.ErrNotFound, proposalID)
	}
	now := e.now()
	if !now.After(p.VotingEnd) {
		return Proposal{}, fmt.Errorf("%w: voting window still open", fault.ErrTemporal)
	}
	if p.Executed {
		return Proposal{}, fmt.Errorf("%w: proposal already executed", fault.ErrState)
	}

	p.Executed = true
	p.ExecutedAt = now
	p.Passed = p.Upvotes > p.Downvotes

	proposer := e.user(p.Proposer)
	if p.Passed {
		proposer.Score = clampScore(proposer.Score + 2*ReputationDelta)
		if p.Kind == KindVerification {
			proposer.Verifications++
		} else {
			proposer.Challenges++
		}
	} else {
		proposer.Score = clampScore(proposer.Score - ReputationDelta)
	}
	proposer.LastActive = now

	e.emit("governance.execute", p.ID, map[string]string{
		"org_id": p.OrgID,
		"passed": fmt.Sprintf("%t", p.Passed),
	})
	return copyProposal(p), nil
}

// SetReputation initializes or overwrites a user's reputation score.
func (e *Engine) SetReputation(ctx context.Context, identity string, score int64) error {
	if _, err := auth.Require(ctx, auth.CapAdmin); err != nil {
		return err
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return fmt.Errorf("%w: identity is required", fault.ErrValidation)
	}
	if score < 0 || score > MaxReputation {
		return fmt.Errorf("%w: reputation must be within [0,%d]", fault.ErrValidation, MaxReputation)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	user := e.user(identity)
	user.Score = score
	e.emit("governance.set_reputation", identity, map[string]string{"score": fmt.Sprintf("%d", score)})
	return nil
}

// Reputation implements orgs.ReputationSource.
func (e *Engine) Reputation(identity string) int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.score(identity)
}

// GetUserReputation returns the reputation record for an identity.
// Identities never seen before report a zero score.
func (e *Engine) GetUserReputation(identity string) UserReputation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if user, ok := e.reputation[identity]; ok {
		return *user
	}
	return UserReputation{Identity: identity}
}

// GetProposal returns a point-in-time snapshot of a proposal.
func (e *Engine) GetProposal(proposalID string) (Proposal, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.proposals[proposalID]
	if !ok {
		return Proposal{}, fmt.Errorf("%w: proposal %s", fault.ErrNotFound, proposalID)
	}
	return copyProposal(p), nil
}

// CanVote reports whether the identity may still vote on the proposal.
func (e *Engine) CanVote(identity, proposalID string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.proposals[proposalID]
	if !ok {
		return false
	}
	if !e.now().Before(p.VotingEnd) {
		return false
	}
	if e.score(identity) < MinVoteReputation {
		return false
	}
	_, already := e.voted[p.ID][identity]
	return !already
}

// Challenges returns the challenge proposal ids recorded against an
// organization, in creation order.
func (e *Engine) Challenges(orgID string) []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.challenges[orgID]...)
}

// applyVote accumulates one weighted vote. Callers hold e.mu and have
// validated every precondition.
func (e *Engine) applyVote(p *Proposal, voter string, choice Choice, reputation int64, now time.Time) {
	weight := reputation * VoteWeightBase / MaxReputation
	vote := Vote{Voter: voter, Choice: choice, Weight: weight, CastAt: now}
	p.Votes = append(p.Votes, vote)
	e.voted[p.ID][voter] = struct{}{}
	if choice == ChoiceUp {
		p.Upvotes += weight
	} else {
		p.Downvotes += weight
	}
}

// score reads a user's reputation without creating a record. Callers hold e.mu.
func (e *Engine) score(identity string) int64 {
	if user, ok := e.reputation[identity]; ok {
		return user.Score
	}
	return 0
}

// user fetches or lazily creates a reputation record. Callers hold e.mu.
func (e *Engine) user(identity string) *UserReputation {
	if u, ok := e.reputation[identity]; ok {
		return u
	}
	u := &UserReputation{Identity: identity}
	e.reputation[identity] = u
	return u
}

func clampScore(score int64) int64 {
	if score < 0 {
		return 0
	}
	if score > MaxReputation {
		return MaxReputation
	}
	return score
}

func (e *Engine) emit(op, entityID string, fields map[string]string) {
	if e.events == nil {
		return
	}
	e.events.Publish(stream.Event{Operation: op, Entity: "proposal", EntityID: entityID, Fields: fields})
}

func copyProposal(p *Proposal) Proposal {
	out := *p
	out.Votes = append([]Vote(nil), p.Votes...)
	return out
}
