package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"
const testIssuer = "songforge"

func signToken(t *testing.T, secret string, c claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func userClaims(subject, role string) claims {
	return claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    testIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
}

func TestVerify_ValidToken(t *testing.T) {
	verifier := NewVerifier(testSecret, testIssuer)

	identity, err := verifier.Verify(signToken(t, testSecret, userClaims("alice", "moderator")))
	require.NoError(t, err)
	assert.Equal(t, "alice", identity.UserID)
	assert.Equal(t, RoleModerator, identity.Role)
	assert.True(t, identity.Moderator())
}

func TestVerify_RoleDefaultsToUser(t *testing.T) {
	verifier := NewVerifier(testSecret, testIssuer)

	identity, err := verifier.Verify(signToken(t, testSecret, userClaims("alice", "")))
	require.NoError(t, err)
	assert.Equal(t, RoleUser, identity.Role)
	assert.False(t, identity.Moderator())
}

func TestVerify_Rejections(t *testing.T) {
	verifier := NewVerifier(testSecret, testIssuer)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", signToken(t, "other-secret", userClaims("alice", ""))},
		{"wrong issuer", signToken(t, testSecret, claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: "alice", Issuer: "someone-else"},
		})},
		{"missing subject", signToken(t, testSecret, claims{
			RegisteredClaims: jwt.RegisteredClaims{Issuer: testIssuer},
		})},
		{"expired", signToken(t, testSecret, claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   "alice",
				Issuer:    testIssuer,
				ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
			},
		})},
		{"garbage", "not-a-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := verifier.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func TestVerify_RejectsNonHMACAlgorithm(t *testing.T) {
	verifier := NewVerifier(testSecret, testIssuer)

	token := jwt.NewWithClaims(jwt.SigningMethodNone, userClaims("alice", ""))
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = verifier.Verify(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestMiddleware(t *testing.T) {
	verifier := NewVerifier(testSecret, testIssuer)

	var seen Identity
	handler := verifier.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := FromContext(r.Context())
		require.True(t, ok)
		seen = identity
		w.WriteHeader(http.StatusNoContent)
	}))

	t.Run("valid token passes identity through", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+signToken(t, testSecret, userClaims("alice", "admin")))
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "alice", seen.UserID)
		assert.Equal(t, RoleAdmin, seen.Role)
	})

	t.Run("missing header", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("invalid token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()

		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestFromContext_Missing(t *testing.T) {
	_, ok := FromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context())
	assert.False(t, ok)
}
