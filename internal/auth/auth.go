package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const TokenExp = time.Hour * 3

type Role string

const (
	RoleOwner     Role = "owner"
	RoleAdmin     Role = "admin"
	RoleAffiliate Role = "affiliate"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid or expired token")
)

// Identity is the caller resolved from a bearer credential.
type Identity struct {
	UserID uuid.UUID
	Email  string
	Roles  []Role
}

func (i Identity) HasRole(role Role) bool {
	for _, r := range i.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsOwner reports the narrow privilege required for approving or
// rejecting withdrawals.
func (i Identity) IsOwner() bool {
	return i.HasRole(RoleOwner)
}

// IsAdmin is true for admins and owners.
func (i Identity) IsAdmin() bool {
	return i.HasRole(RoleAdmin) || i.HasRole(RoleOwner)
}

type Gate interface {
	ResolveIdentity(credential string) (Identity, error)
}

type Claims struct {
	Email string   `json:"email,omitempty"`
	Roles []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// JWTGate verifies HS256 tokens signed with a shared secret.
type JWTGate struct {
	secret []byte
}

func NewJWTGate(secret string) *JWTGate {
	return &JWTGate{secret: []byte(secret)}
}

func (g *JWTGate) ResolveIdentity(credential string) (Identity, error) {
	if credential == "" {
		return Identity{}, ErrMissingToken
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(credential, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return g.secret, nil
	})
	if err != nil || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	identity := Identity{UserID: userID, Email: claims.Email}
	for _, r := range claims.Roles {
		identity.Roles = append(identity.Roles, Role(r))
	}

	return identity, nil
}

// GenerateToken signs a token for identity. Used by operational tooling
// and tests; production tokens come from the identity provider.
func (g *JWTGate) GenerateToken(identity Identity, ttl time.Duration) (string, error) {
	roles := make([]string, 0, len(identity.Roles))
	for _, r := range identity.Roles {
		roles = append(roles, string(r))
	}

	claims := Claims{
		Email: identity.Email,
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.UserID.String(),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(g.secret)
}
