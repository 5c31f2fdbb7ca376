package commitment

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSumIsLegacyKeccak(t *testing.T) {
	// keccak256("") as produced by ethers.keccak256("0x")
	want := "0xc5d2460186f7233c927e7db2dcc703c0e500b653ca82273b7bfad8045d85a470"
	assert.Equal(t, want, Sum(nil).Hex())
}

func TestCanonicalSortsKeysAndDropsEmpty(t *testing.T) {
	got, err := Canonical(Route{Origin: " Boston ", Destination: "Seattle"})
	require.NoError(t, err)
	assert.Equal(t, `{"destination":"Seattle","origin":"Boston"}`, string(got))
}

func TestCommitNormalizesUnicode(t *testing.T) {
	composed, err := Commit(Route{Origin: "München", Destination: "Hamburg"})
	require.NoError(t, err)
	decomposed, err := Commit(Route{Origin: "Mu\u0308nchen", Destination: "Hamburg"})
	require.NoError(t, err)
	assert.Equal(t, composed, decomposed)
	assert.False(t, composed.IsZero())
}

func TestVerify(t *testing.T) {
	r := Route{Origin: "Boston", Destination: "Seattle", Salt: "s1"}
	d, err := Commit(r)
	require.NoError(t, err)

	ok, err := Verify(r, d)
	require.NoError(t, err)
	assert.True(t, ok)

	r.Salt = "s2"
	ok, err = Verify(r, d)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDigestText(t *testing.T) {
	d := Sum([]byte("route"))
	text, err := d.MarshalText()
	require.NoError(t, err)

	var back Digest
	require.NoError(t, back.UnmarshalText(text))
	assert.Equal(t, d, back)

	zero, err := Digest{}.MarshalText()
	require.NoError(t, err)
	assert.Empty(t, zero)

	_, err = ParseDigest("0x1234")
	assert.ErrorIs(t, err, ErrInvalidDigest)
	_, err = ParseDigest("zz")
	assert.ErrorIs(t, err, ErrInvalidDigest)
}

func TestDigestJSONRoundTrip(t *testing.T) {
	type wrapper struct {
		D Digest `json:"d"`
	}
	in := wrapper{D: Sum([]byte("x"))}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out wrapper
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in.D, out.D)
}
