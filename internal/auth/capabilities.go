package auth

// Capability keys gate mutating operations across the core services. Who
// holds which capability is pre-established trust configuration: it is set
// when a bearer token is issued and only read afterwards.
const (
	// CapVerifier may verify or reject pending organizations and
	// service providers while the admin path is not frozen.
	CapVerifier = "registry.verify"

	// CapAdmin may suspend/blacklist organizations, revoke tokens,
	// release escrowed funds and overwrite statistics.
	CapAdmin = "registry.admin"

	// CapMinter may mint entitlement tokens. Held by the campaign
	// ledger itself, never by an end user.
	CapMinter = "token.mint"

	// CapRedeemer may redeem entitlement tokens for payment.
	CapRedeemer = "token.redeem"
)

// Capability describes a named capability for introspection endpoints.
type Capability struct {
	Key         string `json:"key"`
	Description string `json:"description"`
}

var BuiltinCapabilities = []Capability{
	{Key: CapVerifier, Description: "Verify or reject pending organizations and providers"},
	{Key: CapAdmin, Description: "Administrative control over registries and escrow"},
	{Key: CapMinter, Description: "Mint entitlement tokens against campaign escrow"},
	{Key: CapRedeemer, Description: "Redeem entitlement tokens for payment"},
}
