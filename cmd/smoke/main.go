// Command smoke drives a donation lifecycle against a running amana-api
// using in-process services, end to end: register, verify, campaign, donate,
// issue, redeem, release.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"amana.org/internal/auth"
	"amana.org/internal/campaign"
	"amana.org/internal/governance"
	"amana.org/internal/orgs"
	"amana.org/internal/providers"
	"amana.org/internal/stream"
	"amana.org/internal/token"
)

func ctxWith(identity string, capabilities ...string) context.Context {
	return auth.ContextWithPrincipal(context.Background(), auth.NewPrincipal(identity, capabilities))
}

func main() {
	events := stream.New()
	orgReg := orgs.NewRegistry(orgs.WithEvents(events))
	gov := governance.NewEngine(governance.WithEvents(events))
	orgReg.SetReputationSource(gov)
	tokens := token.NewRegistry(token.WithEvents(events))
	providerReg := providers.NewRegistry(providers.WithEvents(events))

	var transferred int64
	ledger, err := campaign.NewLedger(orgReg, tokens,
		campaign.TransferorFunc(func(ctx context.Context, recipient string, amount int64) error {
			transferred += amount
			return nil
		}))
	if err != nil {
		log.Fatalf("campaign ledger: %v", err)
	}

	admin := ctxWith("smoke-admin", auth.CapAdmin, auth.CapVerifier)
	orgCtx := ctxWith("0xorg")
	donor := ctxWith("0xdonor")

	org, err := orgReg.Register(orgCtx, "Amana Relief", "REG-001", "KZ", "health", "bafykyc")
	if err != nil {
		log.Fatalf("register org: %v", err)
	}
	if err := orgReg.Verify(admin, org.ID); err != nil {
		log.Fatalf("verify org: %v", err)
	}

	c, err := ledger.CreateCampaign(orgCtx, "Cataract surgeries", "Restore sight", "health", 10_000, 30*24*time.Hour, "bafydoc")
	if err != nil {
		log.Fatalf("create campaign: %v", err)
	}
	if _, err := ledger.Donate(donor, c.ID, 10_000); err != nil {
		log.Fatalf("donate: %v", err)
	}

	tok, err := ledger.IssueEntitlementToken(orgCtx, c.ID, "0xben", 1_000, "Eye Surgery", 30*24*time.Hour)
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}

	prov, err := providerReg.Register(ctxWith("0xclinic"), "City Eye Clinic", "health", "almaty", "bafyprov")
	if err != nil {
		log.Fatalf("register provider: %v", err)
	}
	if _, err := providerReg.Verify(admin, prov.ID); err != nil {
		log.Fatalf("verify provider: %v", err)
	}

	redeemed, err := tokens.Redeem(ctxWith("0xclinic", auth.CapRedeemer), tok.ID, "bafyproof")
	if err != nil {
		log.Fatalf("redeem: %v", err)
	}
	if err := providerReg.RecordRedemption(admin, prov.ID, redeemed.Amount); err != nil {
		log.Fatalf("record redemption: %v", err)
	}
	if err := ledger.ReleaseFunds(admin, c.ID, "0xclinic", redeemed.Amount); err != nil {
		log.Fatalf("release: %v", err)
	}

	funds, err := ledger.GetFunds(c.ID)
	if err != nil {
		log.Fatalf("funds: %v", err)
	}
	if funds.Raised != 10_000 || funds.EscrowAvailable != 9_000 || funds.Released != 1_000 {
		log.Fatalf("escrow accounting broken: %+v", funds)
	}
	if transferred != 1_000 {
		log.Fatalf("external transfer mismatch: %d", transferred)
	}

	fmt.Printf("✅ smoke test passed: campaign=%s token=%s\n", c.ID, tok.ID)
}
