// Package commitment derives the opaque route commitment stored on private
// shipments.
//
// A commitment is the Keccak-256 digest of the route document's canonical
// JSON form (RFC 8785). Strings are NFC-normalised first so that visually
// identical routes typed on different systems commit to the same digest.
package commitment

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/sha3"
	"golang.org/x/text/unicode/norm"
)

// Size is the digest length in bytes.
const Size = 32

// ErrInvalidDigest is returned when a digest cannot be decoded.
var ErrInvalidDigest = errors.New("commitment: invalid digest")

// Digest is a fixed-size route commitment.
type Digest [Size]byte

// IsZero reports whether d is the all-zero digest, which means "no commitment".
func (d Digest) IsZero() bool {
	return d == Digest{}
}

// Hex returns the 0x-prefixed hex form of d.
func (d Digest) Hex() string {
	return "0x" + hex.EncodeToString(d[:])
}

func (d Digest) String() string {
	return d.Hex()
}

// MarshalText encodes d as 0x-prefixed hex. The zero digest encodes as "".
func (d Digest) MarshalText() ([]byte, error) {
	if d.IsZero() {
		return []byte{}, nil
	}
	return []byte(d.Hex()), nil
}

// UnmarshalText accepts "" (zero digest) or 64 hex characters with an
// optional 0x prefix.
func (d *Digest) UnmarshalText(text []byte) error {
	parsed, err := ParseDigest(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ParseDigest decodes a hex digest. An empty string yields the zero digest.
func ParseDigest(s string) (Digest, error) {
	var d Digest
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return d, nil
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return d, fmt.Errorf("%w: %v", ErrInvalidDigest, err)
	}
	if len(raw) != Size {
		return d, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidDigest, len(raw), Size)
	}
	copy(d[:], raw)
	return d, nil
}

// Route is the confidential route document behind a private shipment.
// Salt should be random when the route is guessable.
type Route struct {
	Origin      string   `json:"origin"`
	Destination string   `json:"destination"`
	Waypoints   []string `json:"waypoints,omitempty"`
	Salt        string   `json:"salt,omitempty"`
}

func (r Route) normalized() Route {
	out := Route{
		Origin:      norm.NFC.String(strings.TrimSpace(r.Origin)),
		Destination: norm.NFC.String(strings.TrimSpace(r.Destination)),
		Salt:        r.Salt,
	}
	for _, w := range r.Waypoints {
		out.Waypoints = append(out.Waypoints, norm.NFC.String(strings.TrimSpace(w)))
	}
	return out
}

// Canonical returns the RFC 8785 encoding of the normalised route.
func Canonical(r Route) ([]byte, error) {
	raw, err := json.Marshal(r.normalized())
	if err != nil {
		return nil, fmt.Errorf("commitment: marshal route: %w", err)
	}
	out, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("commitment: canonicalize route: %w", err)
	}
	return out, nil
}

// Sum returns the Keccak-256 digest of data.
func Sum(data []byte) Digest {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data)
	var d Digest
	copy(d[:], h.Sum(nil))
	return d
}

// Commit computes the commitment for r.
func Commit(r Route) (Digest, error) {
	canonical, err := Canonical(r)
	if err != nil {
		return Digest{}, err
	}
	return Sum(canonical), nil
}

// Verify reports whether r opens the commitment d.
func Verify(r Route, d Digest) (bool, error) {
	got, err := Commit(r)
	if err != nil {
		return false, err
	}
	return got == d, nil
}
