package auth

import (
	"encoding/hex"
	"testing"
	"time"
)

func testJWTConfig() *JWTConfig {
	return &JWTConfig{
		Secret:   []byte("test-secret-key"),
		Issuer:   "aidlink",
		Audience: "aidlink-api",
		TTL:      time.Hour,
	}
}

func TestGenerateAndValidateToken(t *testing.T) {
	cfg := testJWTConfig()

	token, err := GenerateToken(cfg, "v1", RoleVolunteer)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	claims, err := ValidateToken(cfg, token)
	if err != nil {
		t.Fatalf("validate token: %v", err)
	}
	if claims.SubjectID != "v1" {
		t.Errorf("expected subject v1, got %s", claims.SubjectID)
	}
	if claims.Role != RoleVolunteer {
		t.Errorf("expected role volunteer, got %s", claims.Role)
	}
}

func TestValidateTokenRejectsWrongSecret(t *testing.T) {
	cfg := testJWTConfig()

	token, err := GenerateToken(cfg, "op1", RoleOperator)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	other := testJWTConfig()
	other.Secret = []byte("different-secret")
	if _, err := ValidateToken(other, token); err == nil {
		t.Fatalf("expected validation to fail with wrong secret")
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	cfg := testJWTConfig()
	cfg.TTL = -time.Minute

	token, err := GenerateToken(cfg, "v1", RoleVolunteer)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	if _, err := ValidateToken(cfg, token); err == nil {
		t.Fatalf("expected expired token to fail validation")
	}
}

func TestChatTokensAreDistinct(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		tok, err := NewChatToken()
		if err != nil {
			t.Fatalf("generate chat token: %v", err)
		}
		if len(tok) != 32 {
			t.Fatalf("expected 32 hex chars, got %d", len(tok))
		}
		if _, err := hex.DecodeString(tok); err != nil {
			t.Fatalf("token is not hex: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate chat token after %d iterations", i)
		}
		seen[tok] = true
	}
}

func TestDigestCodeIsStable(t *testing.T) {
	code, err := NewVerificationCode()
	if err != nil {
		t.Fatalf("generate verification code: %v", err)
	}

	d1 := DigestCode(code)
	d2 := DigestCode(code)
	if d1 != d2 {
		t.Fatalf("digest not deterministic")
	}
	if d1 == code {
		t.Fatalf("digest must differ from the code")
	}
	if len(d1) != 64 {
		t.Fatalf("expected sha256 hex digest, got length %d", len(d1))
	}
}

func TestHashAndComparePassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if err := ComparePassword(hash, "correct horse battery staple"); err != nil {
		t.Errorf("expected matching password to verify: %v", err)
	}
	if err := ComparePassword(hash, "wrong"); err == nil {
		t.Errorf("expected wrong password to fail")
	}
}
