package governance

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

// testEngine returns an engine with a movable clock and seeded reputations.
func testEngine(t *testing.T, scores map[string]int64) (*Engine, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := NewEngine(WithClock(func() time.Time { return now }))
	admin := ctxWith("0xadm", auth.CapAdmin)
	for identity, score := range scores {
		if err := e.SetReputation(admin, identity, score); err != nil {
			t.Fatalf("seed reputation: %v", err)
		}
	}
	return e, &now
}

func TestProposalReputationGate(t *testing.T) {
	e, _ := testEngine(t, map[string]int64{"0xlow": 50, "0xok": 150})

	if _, err := e.CreateVerificationProposal(ctxWith("0xlow"), "org_1", "verify them", "bafyevid"); !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected unauthorized for reputation 50, got %v", err)
	}
	p, err := e.CreateVerificationProposal(ctxWith("0xok"), "org_1", "verify them", "bafyevid")
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if len(p.Votes) != 1 || p.Votes[0].Choice != ChoiceUp {
		t.Fatalf("proposer vote not auto-cast: %#v", p.Votes)
	}
	// weight = 150 * 100 / 1000
	if p.Upvotes != 15 {
		t.Fatalf("upvotes = %d", p.Upvotes)
	}

	if _, err := e.CreateVerificationProposal(ctxWith("0xok"), "org_1", "again", "bafyevid"); !errors.Is(err, fault.ErrState) {
		t.Fatalf("expected singular verification proposal, got %v", err)
	}
}

func TestChallengeAutoDownvoteAndList(t *testing.T) {
	e, _ := testEngine(t, map[string]int64{"0xok": 200})

	first, err := e.ChallengeOrganization(ctxWith("0xok"), "org_1", "fake receipts", "bafyevid")
	if err != nil {
		t.Fatal(err)
	}
	if first.Downvotes != 20 || first.Upvotes != 0 {
		t.Fatalf("expected auto downvote, got up=%d down=%d", first.Upvotes, first.Downvotes)
	}
	second, err := e.ChallengeOrganization(ctxWith("0xok"), "org_1", "more evidence", "bafyevid2")
	if err != nil {
		t.Fatalf("challenges must not be singular: %v", err)
	}
	got := e.Challenges("org_1")
	if len(got) != 2 || got[0] != first.ID || got[1] != second.ID {
		t.Fatalf("unexpected challenge list: %v", got)
	}
}

func TestCastVoteRules(t *testing.T) {
	e, now := testEngine(t, map[string]int64{"0xprop": 150, "0xvoter": 300, "0xlow": 10})

	p, err := e.CreateVerificationProposal(ctxWith("0xprop"), "org_1", "verify", "bafyevid")
	if err != nil {
		t.Fatal(err)
	}

	if err := e.CastVote(ctxWith("0xlow"), p.ID, ChoiceUp); !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected reputation gate, got %v", err)
	}
	if err := e.CastVote(ctxWith("0xprop"), p.ID, ChoiceUp); !errors.Is(err, fault.ErrState) {
		t.Fatalf("proposer voting twice must fail, got %v", err)
	}
	if !e.CanVote("0xvoter", p.ID) {
		t.Fatal("voter should be eligible")
	}
	if err := e.CastVote(ctxWith("0xvoter"), p.ID, ChoiceDown); err != nil {
		t.Fatal(err)
	}
	if e.CanVote("0xvoter", p.ID) {
		t.Fatal("voter voted already")
	}
	if err := e.CastVote(ctxWith("0xvoter"), p.ID, ChoiceDown); !errors.Is(err, fault.ErrState) {
		t.Fatalf("double vote must fail, got %v", err)
	}

	// Window closes at exactly VotingEnd.
	*now = now.Add(VotingPeriod)
	if err := e.CastVote(ctxWith("0xvoter"), p.ID, ChoiceUp); !errors.Is(err, fault.ErrTemporal) {
		t.Fatalf("expected temporal error at window end, got %v", err)
	}
}

func TestExecuteProposalOutcome(t *testing.T) {
	e, now := testEngine(t, map[string]int64{"0xprop": 150, "0xvoter": 300})

	p, err := e.CreateVerificationProposal(ctxWith("0xprop"), "org_1", "verify", "bafyevid")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.CastVote(ctxWith("0xvoter"), p.ID, ChoiceDown); err != nil {
		t.Fatal(err)
	}

	if _, err := e.ExecuteProposal(context.Background(), p.ID); !errors.Is(err, fault.ErrTemporal) {
		t.Fatalf("execution before window close must fail, got %v", err)
	}

	*now = now.Add(VotingPeriod + time.Second)
	executed, err := e.ExecuteProposal(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	// up 15 vs down 30: proposal fails, proposer loses delta.
	if executed.Passed {
		t.Fatal("proposal should have failed")
	}
	if got := e.GetUserReputation("0xprop").Score; got != 150-ReputationDelta {
		t.Fatalf("proposer score = %d", got)
	}
	// Non-proposer voters are untouched.
	if got := e.GetUserReputation("0xvoter").Score; got != 300 {
		t.Fatalf("voter score moved: %d", got)
	}

	if _, err := e.ExecuteProposal(context.Background(), p.ID); !errors.Is(err, fault.ErrState) {
		t.Fatalf("second execution must fail, got %v", err)
	}
}

func TestExecutePassIncrementsCounters(t *testing.T) {
	e, now := testEngine(t, map[string]int64{"0xprop": 400})

	p, err := e.CreateVerificationProposal(ctxWith("0xprop"), "org_1", "verify", "bafyevid")
	if err != nil {
		t.Fatal(err)
	}
	*now = now.Add(VotingPeriod + time.Second)
	executed, err := e.ExecuteProposal(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !executed.Passed {
		t.Fatal("unopposed proposal should pass")
	}
	user := e.GetUserReputation("0xprop")
	if user.Score != 400+2*ReputationDelta {
		t.Fatalf("proposer score = %d", user.Score)
	}
	if user.Verifications != 1 || user.Proposals != 1 {
		t.Fatalf("counters = %#v", user)
	}
}

func TestReputationFloorAndCeiling(t *testing.T) {
	e, now := testEngine(t, map[string]int64{"0xprop": 105, "0xvoter": 900})

	// Failing proposal drains the proposer toward zero, never below.
	p, err := e.ChallengeOrganization(ctxWith("0xprop"), "org_1", "weak claim", "bafyevid")
	if err != nil {
		t.Fatal(err)
	}
	if err := e.CastVote(ctxWith("0xvoter"), p.ID, ChoiceDown); err != nil {
		t.Fatal(err)
	}
	*now = now.Add(VotingPeriod + time.Second)
	executed, err := e.ExecuteProposal(context.Background(), p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if executed.Passed {
		t.Fatal("downvoted proposal should not pass")
	}
	if got := e.GetUserReputation("0xprop").Score; got != 95 {
		t.Fatalf("score = %d", got)
	}

	if clampScore(-5) != 0 || clampScore(1005) != MaxReputation {
		t.Fatal("clamp broken")
	}
}
