package auth

import (
	"testing"
	"time"

	"github.com/huntrelay/huntrelay/internal/ids"
)

func newTestIssuer(t *testing.T) *HMACIssuer {
	t.Helper()
	key, err := GenerateSigningKey()
	if err != nil {
		t.Fatalf("GenerateSigningKey: %v", err)
	}
	issuer, err := NewHMACIssuer(key)
	if err != nil {
		t.Fatalf("NewHMACIssuer: %v", err)
	}
	return issuer
}

func TestIssueAndVerifyAccessToken(t *testing.T) {
	issuer := newTestIssuer(t)
	sub := ids.AnalystID("analyst-1")

	token, err := issuer.IssueAccessToken(sub, time.Hour)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != sub {
		t.Fatalf("expected subject %s, got %s", sub, claims.Subject)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	issuer := newTestIssuer(t)
	token, err := issuer.IssueAccessToken("analyst-1", -time.Minute)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := issuer.Verify(token); err == nil {
		t.Fatalf("expected expiry error")
	}
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	issuer := newTestIssuer(t)
	token, err := issuer.IssueAccessToken("analyst-1", time.Hour)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	tampered := token[:len(token)-1] + "x"
	if _, err := issuer.Verify(tampered); err == nil {
		t.Fatalf("expected signature error")
	}
}

func TestVerifyRejectsRefreshTokenAsAccess(t *testing.T) {
	issuer := newTestIssuer(t)
	refresh, err := issuer.IssueRefreshToken("analyst-1")
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if _, err := issuer.Verify(refresh); err == nil {
		t.Fatalf("expected type mismatch error")
	}
	if _, err := issuer.VerifyRefresh(refresh); err != nil {
		t.Fatalf("VerifyRefresh: %v", err)
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if !CheckPassword(hash, "correct horse battery staple") {
		t.Fatalf("expected password to check out")
	}
	if CheckPassword(hash, "wrong") {
		t.Fatalf("expected wrong password to fail")
	}
}
