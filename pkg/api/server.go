package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Jovells/dchain/pkg/commitment"
	"github.com/Jovells/dchain/pkg/custody"
	"github.com/Jovells/dchain/pkg/events"
	"github.com/Jovells/dchain/pkg/identity"
	"github.com/Jovells/dchain/pkg/shipment"
	"github.com/Jovells/dchain/pkg/store"
)

// DefaultMaxBodyBytes caps request bodies.
const DefaultMaxBodyBytes = 64 << 10

// Ledger is the engine surface the API drives.
type Ledger interface {
	CreateShipment(ctx context.Context, caller shipment.Address, d shipment.Draft) (uint64, error)
	UpdateStatus(ctx context.Context, caller shipment.Address, shipmentID uint64, next shipment.Status) error
	HandlePayment(ctx context.Context, caller shipment.Address, shipmentID uint64, offered uint64) error
	ReleasePayment(ctx context.Context, caller shipment.Address, shipmentID uint64) error
	RefundPayment(ctx context.Context, caller shipment.Address, shipmentID uint64) error

	GetShipment(ctx context.Context, id uint64) (shipment.Shipment, error)
	GetPayment(ctx context.Context, id uint64) (shipment.Payment, error)
	PaymentForShipment(ctx context.Context, shipmentID uint64) (shipment.Payment, error)
	ListShipments(ctx context.Context, f store.Filter) ([]shipment.Shipment, error)
	Events(ctx context.Context, afterSeq uint64, limit int) ([]events.Event, error)
}

// Disclosures verifies and serves private route documents.
type Disclosures interface {
	Disclose(ctx context.Context, caller shipment.Address, shipmentID uint64, route commitment.Route) (commitment.Digest, error)
	LookupShipment(ctx context.Context, shipmentID uint64) (commitment.Route, error)
}

// Server is the HTTP front end of the ledger.
type Server struct {
	ledger      Ledger
	disclosures Disclosures
	tokens      *identity.TokenManager
	asset       custody.Asset
	limiter     *RateLimiter
	health      func(ctx context.Context) error
	maxBody     int64
	schemas     schemas
	logger      *slog.Logger
}

// Option configures a Server.
type Option func(*Server)

func WithDisclosures(d Disclosures) Option {
	return func(s *Server) { s.disclosures = d }
}

func WithAsset(a custody.Asset) Option {
	return func(s *Server) { s.asset = a }
}

// WithRateLimit enables per-caller rate limiting.
func WithRateLimit(rps float64, burst int) Option {
	return func(s *Server) {
		if rps > 0 && burst > 0 {
			s.limiter = NewRateLimiter(rps, burst)
		}
	}
}

// WithHealthCheck sets the dependency check behind /health.
func WithHealthCheck(fn func(ctx context.Context) error) Option {
	return func(s *Server) { s.health = fn }
}

func WithMaxBodyBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxBody = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// NewServer builds the API. tokens authenticates callers; a nil manager
// rejects every protected route.
func NewServer(l Ledger, tokens *identity.TokenManager, opts ...Option) (*Server, error) {
	compiled, err := compileSchemas()
	if err != nil {
		return nil, err
	}
	s := &Server{
		ledger:  l,
		tokens:  tokens,
		asset:   custody.DefaultAsset,
		maxBody: DefaultMaxBodyBytes,
		schemas: compiled,
		logger:  slog.Default().With("component", "api"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the routed handler with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /v1/shipments", s.handleCreateShipment)
	mux.HandleFunc("GET /v1/shipments", s.handleListShipments)
	mux.HandleFunc("GET /v1/shipments/{id}", s.handleGetShipment)
	mux.HandleFunc("POST /v1/shipments/{id}/status", s.handleUpdateStatus)
	mux.HandleFunc("POST /v1/shipments/{id}/payment", s.handlePayment)
	mux.HandleFunc("POST /v1/shipments/{id}/release", s.handleRelease)
	mux.HandleFunc("POST /v1/shipments/{id}/refund", s.handleRefund)
	mux.HandleFunc("POST /v1/shipments/{id}/disclosure", s.handleDisclose)
	mux.HandleFunc("GET /v1/shipments/{id}/disclosure", s.handleGetDisclosure)
	mux.HandleFunc("GET /v1/payments/{id}", s.handleGetPayment)
	mux.HandleFunc("GET /v1/events", s.handleEvents)

	var h http.Handler = mux
	if s.limiter != nil {
		h = s.limiter.Middleware(h)
	}
	h = AuthMiddleware(s.tokens)(h)
	h = LoggingMiddleware(s.logger)(h)
	return RequestIDMiddleware(h)
}
