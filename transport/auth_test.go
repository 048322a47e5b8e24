package transport

import (
	"testing"
	"time"
)

func TestIssueAndDecryptTokenRoundTrip(t *testing.T) {
	secret := []byte("shared-secret")
	tok, err := IssueToken(secret, "node-a", 3, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}

	claims, err := DecryptToken(tok, secret)
	if err != nil {
		t.Fatalf("DecryptToken: %v", err)
	}
	if claims.NodeID != "node-a" || claims.Epoch != 3 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestDecryptTokenRejectsWrongSecret(t *testing.T) {
	tok, err := IssueToken([]byte("secret-a"), "node-a", 1, time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := DecryptToken(tok, []byte("secret-b")); err == nil {
		t.Fatal("expected an error verifying against the wrong secret")
	}
}

func TestDecryptTokenRejectsExpiredToken(t *testing.T) {
	secret := []byte("shared-secret")
	tok, err := IssueToken(secret, "node-a", 1, -time.Minute)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	if _, err := DecryptToken(tok, secret); err != ErrTokenExpired {
		t.Fatalf("err = %v, want ErrTokenExpired", err)
	}
}

func TestAuthenticatorRejectsStaleEpoch(t *testing.T) {
	secret := []byte("shared-secret")
	issuer := NewAuthenticator(secret, 1)
	tok, err := issuer.Issue("node-a")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	rotated := NewAuthenticator(secret, 2)
	if _, err := rotated.Verify(tok); err == nil {
		t.Fatal("expected verification to fail after an epoch rotation")
	}

	same := NewAuthenticator(secret, 1)
	if _, err := same.Verify(tok); err != nil {
		t.Fatalf("Verify with matching epoch: %v", err)
	}
}
