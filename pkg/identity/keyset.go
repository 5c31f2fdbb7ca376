package identity

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// KeySet signs caller tokens and resolves verification keys by kid.
type KeySet interface {
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	KeyFunc() jwt.Keyfunc
}

// HMACKeySet signs with a shared secret (HS256). Used when JWT_SECRET is set
// so tokens survive restarts and can be minted by other services.
type HMACKeySet struct {
	kid    string
	secret []byte
}

// MinSecretLen is the shortest accepted HMAC secret.
const MinSecretLen = 16

func NewHMACKeySet(secret string) (*HMACKeySet, error) {
	if len(secret) < MinSecretLen {
		return nil, fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLen)
	}
	sum := sha256.Sum256([]byte(secret))
	return &HMACKeySet{
		kid:    "hs-" + hex.EncodeToString(sum[:4]),
		secret: []byte(secret),
	}, nil
}

func (ks *HMACKeySet) Sign(_ context.Context, claims jwt.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = ks.kid
	return token.SignedString(ks.secret)
}

func (ks *HMACKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		if kid, _ := token.Header["kid"].(string); kid != ks.kid {
			return nil, fmt.Errorf("key not found: %v", token.Header["kid"])
		}
		return ks.secret, nil
	}
}

// InMemoryKeySet holds Ed25519 keys in memory. Keys are lost on restart, so
// it suits tests and the ephemeral dev server.
type InMemoryKeySet struct {
	mu         sync.RWMutex
	currentKID string
	keys       map[string]ed25519.PrivateKey
	order      []string
	seq        int
}

// maxKeys bounds how many rotated keys remain valid for verification.
const maxKeys = 4

func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{keys: make(map[string]ed25519.PrivateKey)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate makes a fresh key current. Older keys keep verifying until evicted.
func (ks *InMemoryKeySet) Rotate() error {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("failed to generate key: %w", err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()

	ks.seq++
	kid := fmt.Sprintf("ed-%d-%d", time.Now().Unix(), ks.seq)
	ks.keys[kid] = priv
	ks.order = append(ks.order, kid)
	ks.currentKID = kid

	for len(ks.order) > maxKeys {
		delete(ks.keys, ks.order[0])
		ks.order = ks.order[1:]
	}
	return nil
}

func (ks *InMemoryKeySet) Sign(_ context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	key := ks.keys[ks.currentKID]
	kid := ks.currentKID
	ks.mu.RUnlock()

	if key == nil {
		return "", fmt.Errorf("no active key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, fmt.Errorf("missing kid in header")
		}

		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", kid)
		}
		return key.Public(), nil
	}
}
