package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Jovells/dchain/pkg/shipment"
)

// DefaultIssuer is used when a TokenManager is built without one.
const DefaultIssuer = "dchain"

// Audience every caller token is minted for.
const Audience = "dchain.api"

// CallerClaims binds a token to a ledger address. The subject is the
// caller's address in canonical lowercase form.
type CallerClaims struct {
	jwt.RegisteredClaims
	Label string `json:"label,omitempty"`
}

// TokenManager issues and validates caller tokens.
type TokenManager struct {
	keySet KeySet
	issuer string
	now    func() time.Time
}

func NewTokenManager(ks KeySet, issuer string) *TokenManager {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &TokenManager{keySet: ks, issuer: issuer, now: time.Now}
}

// Issue signs a token for caller valid for ttl.
func (tm *TokenManager) Issue(ctx context.Context, caller shipment.Address, label string, ttl time.Duration) (string, error) {
	caller = shipment.NewAddress(string(caller))
	if caller.IsZero() {
		return "", errors.New("caller address is required")
	}
	if ttl <= 0 {
		return "", fmt.Errorf("token ttl must be positive, got %s", ttl)
	}
	now := tm.now().UTC()
	claims := CallerClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   caller.String(),
			Issuer:    tm.issuer,
			Audience:  jwt.ClaimStrings{Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Label: label,
	}
	return tm.keySet.Sign(ctx, claims)
}

// Validate parses tokenStr and returns the caller it was issued to.
func (tm *TokenManager) Validate(tokenStr string) (shipment.Address, *CallerClaims, error) {
	claims := &CallerClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, tm.keySet.KeyFunc(),
		jwt.WithIssuer(tm.issuer),
		jwt.WithAudience(Audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(tm.now),
	)
	if err != nil {
		return "", nil, fmt.Errorf("token validation failed: %w", err)
	}
	if !token.Valid {
		return "", nil, errors.New("invalid token")
	}
	caller := shipment.NewAddress(claims.Subject)
	if caller.IsZero() {
		return "", nil, errors.New("token subject is required")
	}
	return caller, claims, nil
}
