package token

import "time"

// Status is the lifecycle state of an entitlement token. Transitions only
// move forward: Active is the sole non-terminal state.
type Status string

const (
	StatusActive   Status = "active"
	StatusRedeemed Status = "redeemed"
	StatusExpired  Status = "expired"
	StatusRevoked  Status = "revoked"
)

// transitions is the complete edge table; anything absent is rejected.
var transitions = map[Status][]Status{
	StatusActive: {StatusRedeemed, StatusExpired, StatusRevoked},
}

func canTransition(from, to Status) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Token is a non-transferable entitlement: a fixed claim against one
// campaign's escrow, held by one beneficiary, redeemable once before expiry.
// The holder is fixed at mint time and can never change.
type Token struct {
	ID          string    `json:"id"`
	Beneficiary string    `json:"beneficiary"`
	CampaignID  string    `json:"campaign_id"`
	Amount      int64     `json:"amount"`
	ServiceType string    `json:"service_type"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Status      Status    `json:"status"`
	Redeemer    string    `json:"redeemer,omitempty"`
	RedeemedAt  time.Time `json:"redeemed_at,omitempty"`
	ProofRef    string    `json:"proof_ref,omitempty"`
	Reason      string    `json:"reason,omitempty"`
}
