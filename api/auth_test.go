package api

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

var testSecret = []byte("s3cret")

func signHS256(t *testing.T, claims jwt.MapClaims, secret []byte) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return token
}

func TestTestAuthAcceptsSignedToken(t *testing.T) {
	auth := NewTestAuth(testSecret)
	token := signHS256(t, jwt.MapClaims{"sub": "user-1", "exp": time.Now().Add(time.Hour).Unix()}, testSecret)

	userID, err := auth.UserIDFromAuthHeader("Bearer " + token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if userID != "user-1" {
		t.Fatalf("unexpected user %q", userID)
	}
}

func TestTestAuthRejections(t *testing.T) {
	auth := NewTestAuth(testSecret)
	hour := time.Hour
	tests := []struct {
		name  string
		claim jwt.MapClaims
		key   []byte
	}{
		{name: "wrongSecret", claim: jwt.MapClaims{"sub": "u", "exp": time.Now().Add(hour).Unix()}, key: []byte("other")},
		{name: "expired", claim: jwt.MapClaims{"sub": "u", "exp": time.Now().Add(-hour).Unix()}, key: testSecret},
		{name: "missingSub", claim: jwt.MapClaims{"exp": time.Now().Add(hour).Unix()}, key: testSecret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			token := signHS256(t, tt.claim, tt.key)
			if _, err := auth.UserIDFromAuthHeader("Bearer " + token); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestTestAuthChecksAudience(t *testing.T) {
	auth := NewTestAuth(testSecret)
	auth.Audience = "taskmaster"
	exp := time.Now().Add(time.Hour).Unix()

	if _, err := auth.UserIDFromAuthHeader("Bearer " + signHS256(t, jwt.MapClaims{"sub": "u", "exp": exp, "aud": "other"}, testSecret)); err == nil {
		t.Fatalf("expected audience mismatch")
	}
	if _, err := auth.UserIDFromAuthHeader("Bearer " + signHS256(t, jwt.MapClaims{"sub": "u", "exp": exp, "aud": "taskmaster"}, testSecret)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBearerToken(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		want    string
		wantErr error
	}{
		{name: "missing", header: "", wantErr: errMissingAuthorization},
		{name: "blank", header: "   ", wantErr: errMissingAuthorization},
		{name: "basic", header: "Basic abc", wantErr: errBadAuthorization},
		{name: "noToken", header: "Bearer ", wantErr: errBadAuthorization},
		{name: "notJWT", header: "Bearer abc", wantErr: errBadAuthorization},
		{name: "ok", header: "Bearer a.b.c", want: "a.b.c"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bearerToken(tt.header)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("bearerToken(%q) error = %v, want %v", tt.header, err, tt.wantErr)
			}
			if got != tt.want {
				t.Fatalf("bearerToken(%q) = %q, want %q", tt.header, got, tt.want)
			}
		})
	}
}

func TestAuthWithoutJWKSFails(t *testing.T) {
	auth := NewAuth(nil, "aud", "iss")
	token := signHS256(t, jwt.MapClaims{"sub": "u"}, testSecret)
	if _, err := auth.UserIDFromAuthHeader("Bearer " + token); err == nil {
		t.Fatalf("HS256 tokens must be rejected outside test mode")
	}
}

func TestSignTestTokenRoundTrip(t *testing.T) {
	token, err := SignTestToken(testSecret, "dev-user", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	userID, err := NewTestAuth(testSecret).UserIDFromBearer(token)
	if err != nil || userID != "dev-user" {
		t.Fatalf("round trip = %q, %v", userID, err)
	}
	if _, err := SignTestToken(nil, "u", time.Hour); err == nil {
		t.Fatalf("expected error for empty secret")
	}
}
