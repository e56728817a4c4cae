package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"amana.org/internal/auth"
	"amana.org/internal/campaign"
	"amana.org/internal/governance"
	"amana.org/internal/orgs"
	"amana.org/internal/providers"
	"amana.org/internal/stream"
	"amana.org/internal/token"
)

const testOperatorKey = "op-secret"

type apiClient struct {
	baseURL   string
	client    *http.Client
	t         *testing.T
	now       *time.Time
	transfers *[]string
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("AMANA_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	events := stream.New()
	orgReg := orgs.NewRegistry(orgs.WithClock(clock), orgs.WithEvents(events))
	gov := governance.NewEngine(governance.WithClock(clock), governance.WithEvents(events))
	orgReg.SetReputationSource(gov)
	tokens := token.NewRegistry(token.WithClock(clock), token.WithEvents(events))

	var transfers []string
	ledger, err := campaign.NewLedger(orgReg, tokens,
		campaign.TransferorFunc(func(ctx context.Context, recipient string, amount int64) error {
			transfers = append(transfers, recipient)
			return nil
		}),
		campaign.WithClock(clock), campaign.WithEvents(events))
	if err != nil {
		t.Fatalf("NewLedger: %v", err)
	}

	hash, err := auth.HashPassword(testOperatorKey)
	if err != nil {
		t.Fatalf("hash operator key: %v", err)
	}

	api := New(Config{
		Orgs:            orgReg,
		Governance:      gov,
		Campaigns:       ledger,
		Tokens:          tokens,
		Providers:       providers.NewRegistry(providers.WithClock(clock), providers.WithEvents(events)),
		Events:          events,
		Version:         "test",
		OperatorKeyHash: hash,
	})

	srv := httptest.NewServer(RequestID(api.Handler()))
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL:   srv.URL,
		client:    srv.Client(),
		t:         t,
		now:       &now,
		transfers: &transfers,
	}
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) obtainToken(identity string, capabilities []string) map[string]string {
	c.t.Helper()
	body := map[string]any{"identity": identity}
	if len(capabilities) > 0 {
		body["capabilities"] = capabilities
		body["operator_key"] = testOperatorKey
	}
	resp := c.post("/v1/auth/token", body, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.t.Fatalf("unexpected token status: %d", resp.StatusCode)
	}
	var payload tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode token response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return map[string]string{"Authorization": "Bearer " + payload.Token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func wantStatus(t *testing.T, resp *http.Response, code int) {
	t.Helper()
	if resp.StatusCode != code {
		t.Fatalf("unexpected status: %d, want %d", resp.StatusCode, code)
	}
}

func TestAPICampaignLifecycle(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("0xadmin", []string{auth.CapAdmin, auth.CapVerifier})
	org := api.obtainToken("0xorg", nil)
	donor := api.obtainToken("0xdonor", nil)

	// Register and verify the organization.
	resp := api.post("/v1/orgs", map[string]any{
		"name":                "Amana Relief",
		"registration_number": "REG-001",
		"country":             "KZ",
		"category":            "health",
		"kyc_doc_ref":         "bafykyc",
	}, org)
	wantStatus(t, resp, http.StatusCreated)
	orgBody := decode[map[string]any](t, resp)
	orgID := orgBody["id"].(string)

	resp = api.post("/v1/orgs/"+orgID+"/verify", nil, admin)
	wantStatus(t, resp, http.StatusOK)

	// Create a campaign and donate up to the target.
	resp = api.post("/v1/campaigns", map[string]any{
		"title":         "Cataract surgeries",
		"description":   "Restore sight for 100 patients",
		"category":      "health",
		"target":        1000,
		"duration_days": 30,
		"doc_ref":       "bafydoc",
	}, org)
	wantStatus(t, resp, http.StatusCreated)
	campaignBody := decode[map[string]any](t, resp)
	campaignID := campaignBody["id"].(string)

	resp = api.post("/v1/campaigns/"+campaignID+"/donations", map[string]any{"amount": 1000}, donor)
	wantStatus(t, resp, http.StatusCreated)
	donated := decode[map[string]any](t, resp)
	if donated["status"].(string) != "completed" {
		t.Fatalf("campaign should complete at target, got %v", donated["status"])
	}

	// Issue an entitlement token from escrow.
	resp = api.post("/v1/campaigns/"+campaignID+"/tokens", map[string]any{
		"beneficiary":   "0xben",
		"amount":        100,
		"service_type":  "Eye Surgery",
		"validity_days": 30,
	}, org)
	wantStatus(t, resp, http.StatusCreated)
	tokBody := decode[map[string]any](t, resp)
	tokenID := tokBody["id"].(string)

	resp = api.get("/v1/campaigns/"+campaignID+"/funds", nil, donor)
	wantStatus(t, resp, http.StatusOK)
	funds := decode[map[string]any](t, resp)
	if funds["escrow_available"].(float64) != 900 {
		t.Fatalf("escrow = %v", funds["escrow_available"])
	}

	resp = api.get("/v1/tokens?beneficiary=0xben", nil, donor)
	wantStatus(t, resp, http.StatusOK)
	held := decode[map[string]any](t, resp)
	if items := held["items"].([]any); len(items) != 1 || items[0].(string) != tokenID {
		t.Fatalf("beneficiary tokens = %v", held["items"])
	}

	// Over-issuing is a conflict.
	resp = api.post("/v1/campaigns/"+campaignID+"/tokens", map[string]any{
		"beneficiary":   "0xben2",
		"amount":        10000,
		"service_type":  "Eye Surgery",
		"validity_days": 30,
	}, org)
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// Register and verify a provider, then redeem with it.
	prov := api.obtainToken("0xprov", []string{auth.CapRedeemer})
	resp = api.post("/v1/providers", map[string]any{
		"name":         "City Eye Clinic",
		"service_type": "health",
		"region":       "almaty",
		"doc_ref":      "bafyprov",
	}, prov)
	wantStatus(t, resp, http.StatusCreated)
	provBody := decode[map[string]any](t, resp)
	providerID := provBody["id"].(string)

	resp = api.post("/v1/providers/"+providerID+"/verify", nil, admin)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.post("/v1/tokens/"+tokenID+"/redeem", map[string]any{"proof_ref": "bafyproof"}, prov)
	wantStatus(t, resp, http.StatusOK)
	redeemed := decode[map[string]any](t, resp)
	if redeemed["status"].(string) != "redeemed" || redeemed["redeemer"].(string) != "0xprov" {
		t.Fatalf("unexpected redemption: %v", redeemed)
	}

	// Second redemption conflicts.
	resp = api.post("/v1/tokens/"+tokenID+"/redeem", map[string]any{"proof_ref": "bafyproof2"}, prov)
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// Entitlements are bound to the beneficiary; transfer and approval are
	// rejected no matter who asks.
	resp = api.post("/v1/tokens/"+tokenID+"/transfer", map[string]any{"recipient": "0xother"}, admin)
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()
	resp = api.post("/v1/tokens/"+tokenID+"/approve", map[string]any{"spender": "0xother"}, admin)
	wantStatus(t, resp, http.StatusConflict)
	resp.Body.Close()

	// Provider statistics were recorded.
	resp = api.get("/v1/providers/"+providerID, nil, admin)
	wantStatus(t, resp, http.StatusOK)
	provAfter := decode[map[string]any](t, resp)
	if provAfter["redemption_count"].(float64) != 1 {
		t.Fatalf("redemption count = %v", provAfter["redemption_count"])
	}

	// Release the redeemed reservation.
	resp = api.post("/v1/campaigns/"+campaignID+"/release", map[string]any{
		"recipient": "0xprov",
		"amount":    100,
	}, admin)
	wantStatus(t, resp, http.StatusOK)
	released := decode[map[string]any](t, resp)
	if released["released"].(float64) != 100 {
		t.Fatalf("released = %v", released["released"])
	}
}

func TestAPIGovernanceFlow(t *testing.T) {
	api := newTestAPI(t)
	admin := api.obtainToken("0xadmin", []string{auth.CapAdmin})
	proposer := api.obtainToken("0xproposer", nil)
	org := api.obtainToken("0xorg2", nil)

	resp := api.post("/v1/orgs", map[string]any{
		"name":                "Shelter Fund",
		"registration_number": "REG-002",
		"country":             "KZ",
		"category":            "housing",
		"kyc_doc_ref":         "bafykyc2",
	}, org)
	wantStatus(t, resp, http.StatusCreated)
	orgBody := decode[map[string]any](t, resp)
	orgID := orgBody["id"].(string)

	// Proposer needs standing before opening a proposal.
	resp = api.post("/v1/governance/proposals", map[string]any{
		"org_id":       orgID,
		"kind":         "verification",
		"description":  "registered charity since 2019",
		"evidence_ref": "bafyevidence",
	}, proposer)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()

	resp = api.post("/v1/governance/reputation", map[string]any{
		"identity": "0xproposer",
		"score":    500,
	}, admin)
	wantStatus(t, resp, http.StatusOK)
	resp.Body.Close()

	resp = api.post("/v1/governance/proposals", map[string]any{
		"org_id":       orgID,
		"kind":         "verification",
		"description":  "registered charity since 2019",
		"evidence_ref": "bafyevidence",
	}, proposer)
	wantStatus(t, resp, http.StatusCreated)
	proposal := decode[map[string]any](t, resp)
	proposalID := proposal["id"].(string)

	// Executing before the window closes is rejected.
	resp = api.post("/v1/governance/proposals/"+proposalID+"/execute", nil, proposer)
	wantStatus(t, resp, http.StatusUnprocessableEntity)
	resp.Body.Close()

	*api.now = api.now.Add(governance.VotingPeriod + time.Hour)

	resp = api.post("/v1/governance/proposals/"+proposalID+"/execute", nil, proposer)
	wantStatus(t, resp, http.StatusOK)
	outcome := decode[executeResponse](t, resp)
	if !outcome.Proposal.Passed || !outcome.Applied {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}

	resp = api.get("/v1/orgs/"+orgID, nil, proposer)
	wantStatus(t, resp, http.StatusOK)
	verified := decode[map[string]any](t, resp)
	if verified["status"].(string) != "verified" {
		t.Fatalf("org status = %v", verified["status"])
	}
}

func TestAPIEnforcesAuth(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/campaigns", map[string]any{"title": "x"}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
	var errBody map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&errBody); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if errBody["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestTokenEndpointValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.post("/v1/auth/token", map[string]any{"identity": ""}, nil)
	wantStatus(t, resp, http.StatusBadRequest)
	resp.Body.Close()

	// Capability grants need the operator key.
	resp = api.post("/v1/auth/token", map[string]any{
		"identity":     "0xmallory",
		"capabilities": []string{auth.CapAdmin},
		"operator_key": "wrong",
	}, nil)
	wantStatus(t, resp, http.StatusForbidden)
	resp.Body.Close()
}

func TestAPIArchiveDisabled(t *testing.T) {
	api := newTestAPI(t)
	caller := api.obtainToken("0xanyone", nil)

	resp := api.get("/v1/events/archive", nil, caller)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}
