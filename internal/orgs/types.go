package orgs

import "time"

// Status is the organization verification state.
type Status string

const (
	StatusPending     Status = "pending"
	StatusVerified    Status = "verified"
	StatusRejected    Status = "rejected"
	StatusSuspended   Status = "suspended"
	StatusBlacklisted Status = "blacklisted"
)

const (
	// DefaultReputation is assigned to every newly registered organization.
	DefaultReputation = 500

	// MaxReputation bounds all reputation scores.
	MaxReputation = 1000

	// GovernanceVerifyReputation is the minimum caller reputation for the
	// governance verification path.
	GovernanceVerifyReputation = 100

	// GovernanceSuspendReputation is the minimum caller reputation for the
	// governance suspension path.
	GovernanceSuspendReputation = 200
)

// ActivityEntry is one line of an organization's append-only activity log.
type ActivityEntry struct {
	At   time.Time `json:"at"`
	Note string    `json:"note"`
}

// Organization is a registered fundraising entity. Records are never deleted;
// all lifecycle changes go through the registry's transition functions.
type Organization struct {
	ID                 string          `json:"id"`
	Identity           string          `json:"identity"`
	Name               string          `json:"name"`
	RegistrationNumber string          `json:"registration_number"`
	Country            string          `json:"country"`
	Category           string          `json:"category"`
	KYCDocRef          string          `json:"kyc_doc_ref"`
	Status             Status          `json:"status"`
	Reputation         int64           `json:"reputation"`
	CampaignCount      int64           `json:"campaign_count"`
	TotalRaised        int64           `json:"total_raised"`
	BeneficiaryCount   int64           `json:"beneficiary_count"`
	Active             bool            `json:"active"`
	RegisteredAt       time.Time       `json:"registered_at"`
	VerifiedAt         time.Time       `json:"verified_at,omitempty"`
	Activity           []ActivityEntry `json:"activity,omitempty"`
}
