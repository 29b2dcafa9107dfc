package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// Role is the caller's coarse authorization level, supplied by the identity
// layer. The core trusts it fully.
type Role string

const (
	RoleUser      Role = "user"
	RoleModerator Role = "moderator"
	RoleAdmin     Role = "admin"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   Role
}

// Moderator reports whether the identity carries moderation privileges.
func (i Identity) Moderator() bool {
	return i.Role == RoleModerator || i.Role == RoleAdmin
}

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid bearer token")
)

type contextKey struct{}

// Verifier validates bearer tokens and produces identities.
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a verifier for HMAC-signed tokens from the given
// issuer.
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

type claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Verify parses and validates a token string, returning the identity it
// carries.
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return Identity{}, ErrInvalidToken
	}
	if v.issuer != "" && c.Issuer != v.issuer {
		return Identity{}, fmt.Errorf("%w: wrong issuer", ErrInvalidToken)
	}
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	role := Role(c.Role)
	if role == "" {
		role = RoleUser
	}

	return Identity{UserID: c.Subject, Role: role}, nil
}

// Middleware extracts the bearer token, verifies it and stores the identity
// in the request context.
func (v *Verifier) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			http.Error(w, ErrMissingToken.Error(), http.StatusUnauthorized)
			return
		}

		identity, err := v.Verify(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			http.Error(w, ErrInvalidToken.Error(), http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
	})
}

// WithIdentity stores an identity in the context.
func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// FromContext retrieves the identity the middleware stored.
func FromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(Identity)
	return identity, ok
}
