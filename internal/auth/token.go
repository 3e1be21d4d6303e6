package auth

import (
	"errors"
	"strconv"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/helpdesk-engine/internal/domain"
)

// TokenManager validates bearer tokens issued by the identity provider. It can
// also sign tokens, which local tooling and tests use.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute}
}

// Claims describes JWT payload.
type Claims struct {
	TenantID       int64       `json:"tenant_id"`
	BusinessUnitID int64       `json:"business_unit_id"`
	Name           string      `json:"name,omitempty"`
	Role           domain.Role `json:"role"`
	Superuser      bool        `json:"superuser,omitempty"`
	Permissions    []string    `json:"perms,omitempty"`
	jwt.RegisteredClaims
}

// Actor converts verified claims into the engine's caller.
func (c *Claims) Actor() (*domain.Actor, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil {
		return nil, errors.New("subject is not a numeric id")
	}
	return &domain.Actor{
		ID:             id,
		TenantID:       c.TenantID,
		BusinessUnitID: c.BusinessUnitID,
		Name:           c.Name,
		Role:           c.Role,
		IsSuperuser:    c.Superuser,
		Permissions:    c.Permissions,
	}, nil
}

// GenerateToken builds and signs a JWT for the actor.
func (tm *TokenManager) GenerateToken(actor *domain.Actor) (string, time.Time, error) {
	now := time.Now()
	expiresAt := now.Add(tm.ttl)
	claims := &Claims{
		TenantID:       actor.TenantID,
		BusinessUnitID: actor.BusinessUnitID,
		Name:           actor.Name,
		Role:           actor.Role,
		Superuser:      actor.IsSuperuser,
		Permissions:    actor.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(actor.ID, 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	return claims, nil
}
