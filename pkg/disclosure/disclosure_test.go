package disclosure

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Jovells/dchain/pkg/commitment"
	"github.com/Jovells/dchain/pkg/custody"
	"github.com/Jovells/dchain/pkg/ledger"
	"github.com/Jovells/dchain/pkg/shipment"
	"github.com/Jovells/dchain/pkg/store"
)

const (
	supplier    shipment.Address = "0x5000000000000000000000000000000000000005"
	transporter shipment.Address = "0x6000000000000000000000000000000000000006"
	retailer    shipment.Address = "0x7000000000000000000000000000000000000007"
)

var route = commitment.Route{Origin: "Kumasi", Destination: "Accra", Waypoints: []string{"Nkawkaw"}, Salt: "9f2c"}

func setup(t *testing.T) (*Service, *ledger.Engine, *FileStore) {
	t.Helper()
	blobs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	engine := ledger.New(store.NewMemoryStore(), custody.NewMemory())
	return NewService(engine, blobs, nil), engine, blobs
}

func createPrivate(t *testing.T, e *ledger.Engine, r commitment.Route) uint64 {
	t.Helper()
	digest, err := commitment.Commit(r)
	require.NoError(t, err)
	id, err := e.CreateShipment(context.Background(), supplier, shipment.Draft{
		Visibility:      shipment.VisibilityPrivate,
		RouteCommitment: digest,
		Transporter:     transporter,
		Retailer:        retailer,
		Policy:          shipment.PolicyEscrowed,
		Amount:          10,
	})
	require.NoError(t, err)
	return id
}

func TestDisclose_StoresUnderCommitment(t *testing.T) {
	ctx := context.Background()
	svc, engine, blobs := setup(t)
	id := createPrivate(t, engine, route)

	digest, err := svc.Disclose(ctx, supplier, id, route)
	require.NoError(t, err)

	sh, err := engine.GetShipment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sh.RouteCommitment, digest)

	ok, err := blobs.Exists(ctx, digest)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := svc.Lookup(ctx, digest)
	require.NoError(t, err)
	assert.Equal(t, route, got)

	got, err = svc.LookupShipment(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, route, got)

	// idempotent
	again, err := svc.Disclose(ctx, supplier, id, route)
	require.NoError(t, err)
	assert.Equal(t, digest, again)
}

func TestDisclose_Mismatch(t *testing.T) {
	ctx := context.Background()
	svc, engine, _ := setup(t)
	id := createPrivate(t, engine, route)

	wrong := route
	wrong.Salt = "other"
	_, err := svc.Disclose(ctx, supplier, id, wrong)
	assert.ErrorIs(t, err, ErrCommitmentMismatch)

	_, err = svc.LookupShipment(ctx, id)
	assert.ErrorIs(t, err, ErrBlobNotFound)
}

func TestDisclose_PublicShipment(t *testing.T) {
	ctx := context.Background()
	svc, engine, _ := setup(t)
	id, err := engine.CreateShipment(ctx, supplier, shipment.Draft{
		Visibility:  shipment.VisibilityPublic,
		Origin:      "Kumasi",
		Destination: "Accra",
		Transporter: transporter,
		Retailer:    retailer,
		Policy:      shipment.PolicyPrepaid,
		Amount:      10,
	})
	require.NoError(t, err)

	_, err = svc.Disclose(ctx, supplier, id, route)
	assert.ErrorIs(t, err, ErrNotPrivate)
	_, err = svc.LookupShipment(ctx, id)
	assert.ErrorIs(t, err, ErrNotPrivate)
}

func TestDisclose_Authorization(t *testing.T) {
	ctx := context.Background()
	svc, engine, _ := setup(t)
	id := createPrivate(t, engine, route)

	_, err := svc.Disclose(ctx, transporter, id, route)
	assert.ErrorIs(t, err, shipment.ErrNotAuthorized)

	_, err = svc.Disclose(ctx, supplier, 99, route)
	assert.ErrorIs(t, err, shipment.ErrNotFound)
}

func TestLookup_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	svc, engine, blobs := setup(t)
	id := createPrivate(t, engine, route)
	digest, err := svc.Disclose(ctx, supplier, id, route)
	require.NoError(t, err)

	path := filepath.Join(blobs.baseDir, objectName("", digest))
	require.NoError(t, os.WriteFile(path, []byte(`{"origin":"X","destination":"Y"}`), 0o644))

	_, err = svc.Lookup(ctx, digest)
	assert.ErrorIs(t, err, ErrCorrupt)
}

func TestNewStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := NewStore(ctx, StoreConfig{DataDir: dir})
	require.NoError(t, err)
	fs, ok := s.(*FileStore)
	require.True(t, ok, "expected *FileStore, got %T", s)
	assert.Equal(t, filepath.Join(dir, "disclosures"), fs.baseDir)

	_, err = NewStore(ctx, StoreConfig{Type: StoreTypeS3})
	assert.Error(t, err)
	_, err = NewStore(ctx, StoreConfig{Type: StoreTypeGCS})
	assert.Error(t, err)
	_, err = NewStore(ctx, StoreConfig{Type: "ftp"})
	assert.Error(t, err)
}

func TestFileStore_MissingDigest(t *testing.T) {
	blobs, err := NewFileStore(t.TempDir())
	require.NoError(t, err)
	_, err = blobs.Get(context.Background(), commitment.Sum([]byte("nothing")))
	assert.ErrorIs(t, err, ErrBlobNotFound)
}
