package auth

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims extends jwt.RegisteredClaims with the tenant scope.
type Claims struct {
	jwt.RegisteredClaims
	OrgID uuid.UUID `json:"org_id"`
}

// JWTManager issues and validates HS256 tokens.
type JWTManager struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTManager creates a JWTManager. With an empty secret an ephemeral one
// is generated, which invalidates outstanding tokens on restart; fine for
// development, logged so production misconfiguration is visible.
func NewJWTManager(secret string, expiration time.Duration) (*JWTManager, error) {
	key := []byte(secret)
	if len(key) == 0 {
		slog.Warn("auth: no JWT secret configured, generating ephemeral secret (not for production)")
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("auth: generate secret: %w", err)
		}
	}
	if expiration <= 0 {
		expiration = 24 * time.Hour
	}
	return &JWTManager{secret: key, expiration: expiration}, nil
}

// Issue creates a token scoped to the organization.
func (m *JWTManager) Issue(orgID uuid.UUID) (string, time.Time, error) {
	now := time.Now().UTC()
	expiresAt := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   orgID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		OrgID: orgID,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return token, expiresAt, nil
}

// Verify parses and validates a token, returning its claims.
func (m *JWTManager) Verify(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return m.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("auth: parse token: %w", err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token")
	}
	if claims.OrgID == uuid.Nil {
		return nil, fmt.Errorf("auth: token missing org scope")
	}
	return claims, nil
}
