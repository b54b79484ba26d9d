package auth

import (
	"strings"
	"testing"
	"time"
)

func TestIssuer_RoundTrip(t *testing.T) {
	t.Parallel()

	issuer, err := NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	token, err := issuer.Issue("amina", RoleNurse)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "amina" {
		t.Errorf("subject = %q, want amina", claims.Subject)
	}
	if claims.Role != RoleNurse {
		t.Errorf("role = %q, want nurse", claims.Role)
	}
}

func TestNewIssuer_RequiresSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewIssuer(""); err == nil {
		t.Fatal("NewIssuer accepted an empty secret")
	}
}

func TestIssuer_RejectsExpiredToken(t *testing.T) {
	t.Parallel()

	issuer, err := NewIssuer("test-secret")
	if err != nil {
		t.Fatalf("NewIssuer: %v", err)
	}

	issued := time.Now()
	issuer.now = func() time.Time { return issued }
	token, err := issuer.Issue("amina", RoleNurse)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	issuer.now = func() time.Time { return issued.Add(SessionTTL + time.Minute) }
	if _, err := issuer.Verify(token); err == nil {
		t.Fatal("Verify accepted an expired token")
	}
}

func TestIssuer_RejectsForeignSignature(t *testing.T) {
	t.Parallel()

	a, _ := NewIssuer("secret-a")
	b, _ := NewIssuer("secret-b")

	token, err := a.Issue("amina", RoleNurse)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := b.Verify(token); err == nil {
		t.Fatal("Verify accepted a token signed with another secret")
	}
}

func TestIssuer_RejectsTamperedToken(t *testing.T) {
	t.Parallel()

	issuer, _ := NewIssuer("test-secret")
	token, err := issuer.Issue("amina", RoleNurse)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		t.Fatalf("token has %d parts", len(parts))
	}
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))
	if _, err := issuer.Verify(tampered); err == nil {
		t.Fatal("Verify accepted a tampered signature")
	}
}
