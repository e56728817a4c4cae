package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"amana.org/internal/fault"
)

func withSecret(t *testing.T) {
	t.Helper()
	t.Setenv("AMANA_AUTH_SECRET", "test-secret")
	ResetSecretForTests()
	t.Cleanup(ResetSecretForTests)
}

func TestTokenRoundTrip(t *testing.T) {
	withSecret(t)

	token, err := GenerateToken("0xabc", []string{CapVerifier, CapVerifier, " "}, time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	principal, err := PrincipalFromToken(token)
	if err != nil {
		t.Fatalf("PrincipalFromToken: %v", err)
	}
	if principal.Identity != "0xabc" {
		t.Fatalf("unexpected identity: %s", principal.Identity)
	}
	if !principal.HasCapability(CapVerifier) {
		t.Fatal("expected verifier capability")
	}
	if principal.HasCapability(CapAdmin) {
		t.Fatal("unexpected admin capability")
	}
	if len(principal.Capabilities) != 1 {
		t.Fatalf("capabilities not deduplicated: %v", principal.Capabilities)
	}
}

func TestTokenRejectsGarbage(t *testing.T) {
	withSecret(t)

	for _, raw := range []string{"", "not-a-token", "a.b.c"} {
		if _, err := ParseAndValidate(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("expected ErrInvalidToken for %q, got %v", raw, err)
		}
	}
}

func TestRequireCapability(t *testing.T) {
	ctx := context.Background()
	if _, err := Require(ctx, CapAdmin); !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without principal, got %v", err)
	}

	ctx = ContextWithPrincipal(ctx, NewPrincipal("0xabc", []string{CapRedeemer}))
	if _, err := Require(ctx, CapAdmin); !errors.Is(err, fault.ErrUnauthorized) {
		t.Fatalf("expected unauthorized without capability, got %v", err)
	}
	principal, err := Require(ctx, CapRedeemer)
	if err != nil {
		t.Fatalf("Require: %v", err)
	}
	if principal.Identity != "0xabc" {
		t.Fatalf("unexpected identity: %s", principal.Identity)
	}
	if _, err := Require(ctx, ""); err != nil {
		t.Fatalf("authentication-only Require: %v", err)
	}
}

func TestPasswordHashRoundTrip(t *testing.T) {
	encoded, err := HashPassword("hunter2")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	ok, err := VerifyPassword("hunter2", encoded)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	ok, err = VerifyPassword("wrong", encoded)
	if err != nil {
		t.Fatalf("VerifyPassword: %v", err)
	}
	if ok {
		t.Fatal("wrong password accepted")
	}
	if _, err := VerifyPassword("x", "not-a-hash"); err == nil {
		t.Fatal("expected error for malformed hash")
	}
}
