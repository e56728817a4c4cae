package campaign

import "time"

// Status is the campaign lifecycle state.
type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// MilestoneStatus progresses one way; there is no regression edge.
type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in_progress"
	MilestoneCompleted  MilestoneStatus = "completed"
	MilestoneFailed     MilestoneStatus = "failed"
)

// Milestone is a sub-goal of a campaign with its own target and deadline.
type Milestone struct {
	Description string          `json:"description"`
	Target      int64           `json:"target"`
	Deadline    time.Time       `json:"deadline"`
	Status      MilestoneStatus `json:"status"`
	ProofRef    string          `json:"proof_ref,omitempty"`
	CompletedAt time.Time       `json:"completed_at,omitempty"`
}

// Campaign escrows donations for a cause run by a verified organization.
//
// Escrow arithmetic: Raised accumulates every donation; EscrowAvailable is
// Raised minus the amounts reserved by non-revoked entitlement tokens and is
// never negative; Released tracks funds paid out after redemptions and never
// exceeds the reserved portion.
type Campaign struct {
	ID               string      `json:"id"`
	OrgID            string      `json:"org_id"`
	Owner            string      `json:"owner"`
	Title            string      `json:"title"`
	Description      string      `json:"description"`
	Category         string      `json:"category"`
	Target           int64       `json:"target"`
	Raised           int64       `json:"raised"`
	EscrowAvailable  int64       `json:"escrow_available"`
	Released         int64       `json:"released"`
	Status           Status      `json:"status"`
	DonorCount       int64       `json:"donor_count"`
	BeneficiaryCount int64       `json:"beneficiary_count"`
	Milestones       []Milestone `json:"milestones,omitempty"`
	DocRef           string      `json:"doc_ref"`
	CreatedAt        time.Time   `json:"created_at"`
	EndTime          time.Time   `json:"end_time"`
}

// Funds is the point-in-time money view of a campaign.
type Funds struct {
	Raised          int64 `json:"raised"`
	EscrowAvailable int64 `json:"escrow_available"`
	Released        int64 `json:"released"`
}
