// Package disclosure publishes the route documents behind private shipment
// commitments. A document is accepted only if its commitment equals the one
// recorded on the shipment, and it is stored under that commitment so anyone
// holding the shipment record can fetch and verify it.
package disclosure

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Jovells/dchain/pkg/authz"
	"github.com/Jovells/dchain/pkg/commitment"
	"github.com/Jovells/dchain/pkg/shipment"
)

var (
	// ErrCommitmentMismatch is returned when a route does not hash to the
	// shipment's commitment.
	ErrCommitmentMismatch = errors.New("route does not match commitment")
	// ErrNotPrivate is returned when disclosing a public shipment.
	ErrNotPrivate = errors.New("shipment is not private")
	// ErrCorrupt is returned when stored bytes no longer hash to their key.
	ErrCorrupt = errors.New("stored disclosure is corrupt")
)

// ShipmentReader loads shipment records.
type ShipmentReader interface {
	GetShipment(ctx context.Context, id uint64) (shipment.Shipment, error)
}

// Service verifies and stores route disclosures.
type Service struct {
	shipments ShipmentReader
	blobs     BlobStore
	authz     authz.Authorizer
	logger    *slog.Logger
}

// NewService creates a disclosure service. A nil authorizer uses the default
// role rules.
func NewService(shipments ShipmentReader, blobs BlobStore, a authz.Authorizer) *Service {
	if a == nil {
		a = authz.RoleAuthorizer{}
	}
	return &Service{
		shipments: shipments,
		blobs:     blobs,
		authz:     a,
		logger:    slog.Default().With("component", "disclosure"),
	}
}

// Disclose verifies route against the commitment of a private shipment and
// stores its canonical form. It returns the commitment the document is
// stored under.
func (s *Service) Disclose(ctx context.Context, caller shipment.Address, shipmentID uint64, route commitment.Route) (commitment.Digest, error) {
	sh, err := s.shipments.GetShipment(ctx, shipmentID)
	if err != nil {
		return commitment.Digest{}, err
	}
	ok, err := s.authz.Allow(ctx, &sh, caller, authz.ActionDiscloseRoute)
	if err != nil {
		return commitment.Digest{}, fmt.Errorf("authorize disclosure: %w", err)
	}
	if !ok {
		return commitment.Digest{}, &shipment.Error{
			Kind:       shipment.ErrNotAuthorized,
			Op:         "disclose_route",
			ShipmentID: sh.ID,
			Detail:     fmt.Sprintf("%s may not %s", caller, authz.ActionDiscloseRoute),
		}
	}
	if sh.Visibility != shipment.VisibilityPrivate {
		return commitment.Digest{}, fmt.Errorf("shipment %d: %w", sh.ID, ErrNotPrivate)
	}

	canonical, err := commitment.Canonical(route)
	if err != nil {
		return commitment.Digest{}, err
	}
	if commitment.Sum(canonical) != sh.RouteCommitment {
		return commitment.Digest{}, fmt.Errorf("shipment %d: %w", sh.ID, ErrCommitmentMismatch)
	}

	digest, err := s.blobs.Put(ctx, canonical)
	if err != nil {
		return commitment.Digest{}, fmt.Errorf("store disclosure: %w", err)
	}
	s.logger.InfoContext(ctx, "route disclosed", "shipment_id", sh.ID, "commitment", digest.Hex())
	return digest, nil
}

// Lookup returns the route disclosed under digest.
func (s *Service) Lookup(ctx context.Context, digest commitment.Digest) (commitment.Route, error) {
	data, err := s.blobs.Get(ctx, digest)
	if err != nil {
		return commitment.Route{}, err
	}
	if commitment.Sum(data) != digest {
		return commitment.Route{}, fmt.Errorf("%w: %s", ErrCorrupt, digest)
	}
	var route commitment.Route
	if err := json.Unmarshal(data, &route); err != nil {
		return commitment.Route{}, fmt.Errorf("decode disclosure %s: %w", digest, err)
	}
	return route, nil
}

// LookupShipment returns the disclosed route of a private shipment.
func (s *Service) LookupShipment(ctx context.Context, shipmentID uint64) (commitment.Route, error) {
	sh, err := s.shipments.GetShipment(ctx, shipmentID)
	if err != nil {
		return commitment.Route{}, err
	}
	if sh.Visibility != shipment.VisibilityPrivate {
		return commitment.Route{}, fmt.Errorf("shipment %d: %w", sh.ID, ErrNotPrivate)
	}
	return s.Lookup(ctx, sh.RouteCommitment)
}
