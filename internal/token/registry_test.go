package token

import (
	"context"
	"errors"
	"testing"
	"time"

	"amana.org/internal/auth"
	"amana.org/internal/fault"
)

func ctxWith(identity string, capabilities ...string) context.Context {
	return auth.ContextWithPrincipal(context.Background(), auth.NewPrincipal(identity, capabilities))
}

func testRegistry() (*Registry, *time.Time) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	r := NewRegistry(WithClock(func() time.Time { return now }))
	return r, &now
}

func mint(t *testing.T, r *Registry, beneficiary string) Token {
	t.Helper()
	tok, err := r.Mint(ctxWith("ledger", auth.CapMinter), beneficiary, "cmp_1", 100, "Eye Surgery", 30*24*time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	return tok
}

func TestMintRequiresMinterCapability(t *testing.T) {
	r, _ := testRegistry()
	if _, err := r.Mint(ctxWith("0xa"), "0xb", "cmp_1", 100, "Eye Surgery", time.Hour); !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, err := r.Mint(ctxWith("ledger", auth.CapMinter), "0xb", "cmp_1", 0, "Eye Surgery", time.Hour); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected validation error for zero amount, got %v", err)
	}
}

func TestRedeemExactlyOnce(t *testing.T) {
	r, _ := testRegistry()
	tok := mint(t, r, "0xben")

	if !r.IsRedeemable(tok.ID) {
		t.Fatal("freshly minted token should be redeemable")
	}
	redeemed, err := r.Redeem(ctxWith("0xprov", auth.CapRedeemer), tok.ID, "bafyproof")
	if err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if redeemed.Status != StatusRedeemed || redeemed.Redeemer != "0xprov" || redeemed.ProofRef != "bafyproof" {
		t.Fatalf("unexpected redeemed token: %#v", redeemed)
	}

	if _, err := r.Redeem(ctxWith("0xother", auth.CapRedeemer), tok.ID, "bafyproof2"); !errors.Is(err, fault.ErrState) {
		t.Fatalf("second redemption must fail with state error, got %v", err)
	}

	// Terminal data is stable across repeated reads.
	first, _ := r.Get(tok.ID)
	second, _ := r.Get(tok.ID)
	if first != second {
		t.Fatalf("reads diverged: %#v vs %#v", first, second)
	}
}

func TestRedeemRequiresProof(t *testing.T) {
	r, _ := testRegistry()
	tok := mint(t, r, "0xben")
	if _, err := r.Redeem(ctxWith("0xprov", auth.CapRedeemer), tok.ID, "  "); !errors.Is(err, fault.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestExpiryBoundary(t *testing.T) {
	r, now := testRegistry()
	tok := mint(t, r, "0xben")

	// Exactly at expiry: still redeemable.
	*now = tok.ExpiresAt
	if !r.IsRedeemable(tok.ID) {
		t.Fatal("token at expiry instant should be redeemable")
	}
	if _, err := r.MarkExpired(ctxWith("0xany"), tok.ID); !errors.Is(err, fault.ErrTemporal) {
		t.Fatalf("markExpired at expiry instant must fail, got %v", err)
	}

	// One second past: redemption fails, expiry sweep succeeds.
	*now = tok.ExpiresAt.Add(time.Second)
	if _, err := r.Redeem(ctxWith("0xprov", auth.CapRedeemer), tok.ID, "bafyproof"); !errors.Is(err, fault.ErrTemporal) {
		t.Fatalf("expected temporal error past expiry, got %v", err)
	}
	expired, err := r.MarkExpired(ctxWith("0xany"), tok.ID)
	if err != nil {
		t.Fatalf("markExpired: %v", err)
	}
	if expired.Status != StatusExpired {
		t.Fatalf("status = %s", expired.Status)
	}

	// Already expired: a no-op failure, not a double transition.
	if _, err := r.MarkExpired(ctxWith("0xany"), tok.ID); !errors.Is(err, fault.ErrState) {
		t.Fatalf("expected state error, got %v", err)
	}
}

func TestRevoke(t *testing.T) {
	r, _ := testRegistry()
	tok := mint(t, r, "0xben")

	if _, err := r.Revoke(ctxWith("0xuser"), tok.ID, "issued in error"); !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	revoked, err := r.Revoke(ctxWith("0xadm", auth.CapAdmin), tok.ID, "issued in error")
	if err != nil {
		t.Fatal(err)
	}
	if revoked.Status != StatusRevoked {
		t.Fatalf("status = %s", revoked.Status)
	}
	if _, err := r.Redeem(ctxWith("0xprov", auth.CapRedeemer), tok.ID, "bafyproof"); !errors.Is(err, fault.ErrState) {
		t.Fatalf("revoked token must not redeem, got %v", err)
	}
}

func TestNonTransferable(t *testing.T) {
	r, _ := testRegistry()
	tok := mint(t, r, "0xben")

	callers := []context.Context{
		ctxWith("0xben"),
		ctxWith("0xadm", auth.CapAdmin, auth.CapMinter, auth.CapRedeemer),
		context.Background(),
	}
	for _, ctx := range callers {
		if err := r.Transfer(ctx, tok.ID, "0xother"); !errors.Is(err, fault.ErrState) {
			t.Fatalf("transfer must fail unconditionally, got %v", err)
		}
		if err := r.Approve(ctx, tok.ID, "0xother"); !errors.Is(err, fault.ErrState) {
			t.Fatalf("approve must fail unconditionally, got %v", err)
		}
	}
	got, _ := r.Get(tok.ID)
	if got.Beneficiary != "0xben" {
		t.Fatal("holder changed")
	}
}

func TestIndexes(t *testing.T) {
	r, _ := testRegistry()
	a := mint(t, r, "0xa")
	b := mint(t, r, "0xa")
	c := mint(t, r, "0xb")

	got := r.BeneficiaryTokens("0xa")
	if len(got) != 2 || got[0] != a.ID || got[1] != b.ID {
		t.Fatalf("beneficiary index: %v", got)
	}
	if got := r.CampaignTokens("cmp_1"); len(got) != 3 || got[2] != c.ID {
		t.Fatalf("campaign index: %v", got)
	}
	if got := r.BeneficiaryTokens("0xnone"); len(got) != 0 {
		t.Fatalf("expected empty index, got %v", got)
	}
}
