package governance

import "time"

// Kind distinguishes verification proposals from challenges.
type Kind string

const (
	KindVerification Kind = "verification"
	KindChallenge    Kind = "challenge"
)

// Choice is a vote direction.
type Choice string

const (
	ChoiceUp   Choice = "up"
	ChoiceDown Choice = "down"
)

// Vote is one voter's recorded decision. A voter appears at most once per
// proposal.
type Vote struct {
	Voter  string    `json:"voter"`
	Choice Choice    `json:"choice"`
	Weight int64     `json:"weight"`
	CastAt time.Time `json:"cast_at"`
}

// Proposal is a time-boxed, reputation-weighted vote on an organization's
// trust status. It is mutated only by vote casting before the window closes
// and by a single terminal execution after it.
type Proposal struct {
	ID          string    `json:"id"`
	OrgID       string    `json:"org_id"`
	Kind        Kind      `json:"kind"`
	Proposer    string    `json:"proposer"`
	Description string    `json:"description"`
	EvidenceRef string    `json:"evidence_ref"`
	VotingStart time.Time `json:"voting_start"`
	VotingEnd   time.Time `json:"voting_end"`
	Upvotes     int64     `json:"upvotes"`
	Downvotes   int64     `json:"downvotes"`
	Executed    bool      `json:"executed"`
	Passed      bool      `json:"passed"`
	ExecutedAt  time.Time `json:"executed_at,omitempty"`
	Votes       []Vote    `json:"votes"`
}

// UserReputation is a bounded score driving voting power and eligibility.
type UserReputation struct {
	Identity      string    `json:"identity"`
	Score         int64     `json:"score"`
	Proposals     int64     `json:"proposals"`
	Verifications int64     `json:"verifications"`
	Challenges    int64     `json:"challenges"`
	LastActive    time.Time `json:"last_active"`
}
