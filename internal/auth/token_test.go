package auth

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNewTokenServiceRejectsWeakSecret(t *testing.T) {
	if _, err := NewTokenService([]byte("short")); !errors.Is(err, ErrWeakSecret) {
		t.Fatalf("expected ErrWeakSecret, got %v", err)
	}
}

func TestIssueAndVerify(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc, err := NewTokenService(testSecret, WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("NewTokenService: %v", err)
	}

	token, expiresAt, err := svc.Issue(42, "alice@example.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if !expiresAt.Equal(now.Add(10 * time.Minute)) {
		t.Fatalf("unexpected expiry %v", expiresAt)
	}

	id, err := svc.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if id.AccountID != 42 || id.Username != "alice@example.com" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if id.TokenID == "" || !id.IssuedAt.Equal(now) {
		t.Fatalf("unexpected token metadata %+v", id)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	issuer, _ := NewTokenService(testSecret, WithClock(fixedClock(now)))
	token, _, err := issuer.Issue(7, "bob")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	within, _ := NewTokenService(testSecret, WithClock(fixedClock(now.Add(9*time.Minute))))
	if _, err := within.Verify(token); err != nil {
		t.Fatalf("token should still be valid: %v", err)
	}

	later, _ := NewTokenService(testSecret, WithClock(fixedClock(now.Add(10*time.Minute+time.Second))))
	if _, err := later.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	svc, _ := NewTokenService(testSecret)
	other, _ := NewTokenService([]byte("ffffffffffffffffffffffffffffffff"))

	token, _, err := other.Issue(1, "mallory")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsAlgorithmConfusion(t *testing.T) {
	svc, _ := NewTokenService(testSecret)
	now := time.Now()
	claims := Claims{
		UserID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    defaultIssuer,
			Subject:   "admin",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign none: %v", err)
	}
	if _, err := svc.Verify(none); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg=none accepted: %v", err)
	}

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign HS512: %v", err)
	}
	if _, err := svc.Verify(hs512); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("HS512 accepted: %v", err)
	}
}

func TestVerifyRejectsMalformedAndIncompleteTokens(t *testing.T) {
	svc, _ := NewTokenService(testSecret)
	for _, token := range []string{"", "   ", "not-a-jwt", "a.b.c"} {
		if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q): expected ErrInvalidToken, got %v", token, err)
		}
	}

	now := time.Now()
	noUID := Claims{RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    defaultIssuer,
		Subject:   "nobody",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}}
	token, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, noUID).SignedString(testSecret)
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token without uid accepted: %v", err)
	}

	wrongIssuer := Claims{UserID: 3, RegisteredClaims: jwt.RegisteredClaims{
		Issuer:    "someone-else",
		Subject:   "carol",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}}
	token, _ = jwt.NewWithClaims(jwt.SigningMethodHS256, wrongIssuer).SignedString(testSecret)
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token with foreign issuer accepted: %v", err)
	}
}

func TestIssueValidatesInput(t *testing.T) {
	svc, _ := NewTokenService(testSecret)
	if _, _, err := svc.Issue(0, "x"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, _, err := svc.Issue(1, "  "); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestRotatedSecretInvalidatesTokens(t *testing.T) {
	old, _ := NewTokenService(testSecret)
	token, _, _ := old.Issue(5, "dave")

	rotated := []byte(strings.Repeat("r", MinSecretBytes))
	svc, _ := NewTokenService(rotated)
	if _, err := svc.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("token survived secret rotation: %v", err)
	}
}
