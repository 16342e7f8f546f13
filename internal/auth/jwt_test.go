package auth

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestJWTManager(t *testing.T) {
	m := NewJWTManager("secret")

	token, err := m.GenerateToken("ops", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	claims, err := m.ValidateToken(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "ops" {
		t.Fatalf("unexpected subject %s", claims.Subject)
	}

	if _, err := NewJWTManager("other").ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for a wrong secret, got %v", err)
	}

	expired, err := m.GenerateToken("ops", -time.Minute)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := m.ValidateToken(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for an expired token, got %v", err)
	}
}

func TestValidateRequest(t *testing.T) {
	m := NewJWTManager("secret")
	token, err := m.GenerateToken("ops", time.Hour)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	tests := []struct {
		name    string
		header  string
		wantErr error
	}{
		{"valid", "Bearer " + token, nil},
		{"missing", "", ErrMissingToken},
		{"wrong scheme", "Basic " + token, ErrInvalidToken},
		{"garbage", "Bearer abc", ErrInvalidToken},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/api/v1/servers", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}

			_, err := m.ValidateRequest(r)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
		})
	}
}
