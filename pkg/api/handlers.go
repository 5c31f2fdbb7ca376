package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/Jovells/dchain/pkg/commitment"
	"github.com/Jovells/dchain/pkg/events"
	"github.com/Jovells/dchain/pkg/shipment"
	"github.com/Jovells/dchain/pkg/store"
)

type shipmentView struct {
	shipment.Shipment
	AmountDisplay string `json:"amount_display"`
}

type paymentView struct {
	shipment.Payment
	AmountDisplay string `json:"amount_display"`
}

type shipmentResponse struct {
	Shipment shipmentView `json:"shipment"`
	Payment  *paymentView `json:"payment,omitempty"`
}

type listResponse struct {
	Shipments []shipmentView `json:"shipments"`
	NextAfter uint64         `json:"next_after,omitempty"`
}

type eventsResponse struct {
	Events    []events.Event `json:"events"`
	NextAfter uint64         `json:"next_after"`
}

type disclosureResponse struct {
	ShipmentID uint64            `json:"shipment_id"`
	Commitment commitment.Digest `json:"commitment"`
}

type createShipmentRequest struct {
	shipment.Draft
	AmountDisplay string `json:"amount_display,omitempty"`
}

type statusRequest struct {
	Status shipment.Status `json:"status"`
}

type paymentRequest struct {
	Amount        uint64 `json:"amount"`
	AmountDisplay string `json:"amount_display,omitempty"`
}

func (s *Server) shipmentView(sh shipment.Shipment) shipmentView {
	return shipmentView{Shipment: sh, AmountDisplay: s.asset.Format(sh.Amount)}
}

func (s *Server) paymentView(p shipment.Payment) paymentView {
	return paymentView{Payment: p, AmountDisplay: s.asset.Format(p.Amount)}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decode reads a size-capped body, validates it against schema and decodes
// it into dst. It writes the error response itself and reports success.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, schema string, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxBody)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteErrorR(w, r, http.StatusRequestEntityTooLarge, "Request Entity Too Large",
				fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
			return false
		}
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", "Invalid request body")
		return false
	}
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := s.schemas.validate(schema, raw); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	return true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", fmt.Sprintf("invalid id %q", r.PathValue("id")))
		return 0, false
	}
	return id, true
}

func queryUint(r *http.Request, key string) (uint64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

// amount resolves an integer amount or its decimal display form.
func (s *Server) amount(units uint64, display string) (uint64, error) {
	if display == "" {
		return units, nil
	}
	n, err := s.asset.Parse(display)
	if err != nil {
		return 0, &shipment.Error{Kind: shipment.ErrInvalidAmount, Field: "amount_display", Err: err}
	}
	return n, nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "health check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCreateShipment(w http.ResponseWriter, r *http.Request) {
	caller, _ := CallerFrom(r.Context())
	var req createShipmentRequest
	if !s.decode(w, r, schemaCreateShipment, &req) {
		return
	}
	amount, err := s.amount(req.Amount, req.AmountDisplay)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	d := req.Draft
	d.Amount = amount

	id, err := s.ledger.CreateShipment(r.Context(), caller, d)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	s.writeShipment(w, r, http.StatusCreated, id)
}

func (s *Server) writeShipment(w http.ResponseWriter, r *http.Request, status int, id uint64) {
	sh, err := s.ledger.GetShipment(r.Context(), id)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	resp := shipmentResponse{Shipment: s.shipmentView(sh)}
	if p, err := s.ledger.PaymentForShipment(r.Context(), id); err == nil {
		pv := s.paymentView(p)
		resp.Payment = &pv
	} else if !errors.Is(err, shipment.ErrNotFound) {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleListShipments(w http.ResponseWriter, r *http.Request) {
	after, err := queryUint(r, "after")
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	limit, err := queryUint(r, "limit")
	if err != nil || limit > store.MaxListLimit {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request",
			fmt.Sprintf("limit must be an integer between 1 and %d", store.MaxListLimit))
		return
	}

	list, err := s.ledger.ListShipments(r.Context(), store.Filter{
		Participant: shipment.NewAddress(r.URL.Query().Get("participant")),
		AfterID:     after,
		Limit:       int(limit),
	})
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	resp := listResponse{Shipments: make([]shipmentView, 0, len(list))}
	for _, sh := range list {
		resp.Shipments = append(resp.Shipments, s.shipmentView(sh))
	}
	if n := len(list); n > 0 {
		resp.NextAfter = list[n-1].ID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetShipment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	s.writeShipment(w, r, http.StatusOK, id)
}

func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req statusRequest
	if !s.decode(w, r, schemaUpdateStatus, &req) {
		return
	}
	caller, _ := CallerFrom(r.Context())
	if err := s.ledger.UpdateStatus(r.Context(), caller, id, req.Status); err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	s.writeShipment(w, r, http.StatusOK, id)
}

func (s *Server) handlePayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var req paymentRequest
	if !s.decode(w, r, schemaHandlePayment, &req) {
		return
	}
	offered, err := s.amount(req.Amount, req.AmountDisplay)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	caller, _ := CallerFrom(r.Context())
	if err := s.ledger.HandlePayment(r.Context(), caller, id, offered); err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	s.writePaymentFor(w, r, id)
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller, _ := CallerFrom(r.Context())
	if err := s.ledger.ReleasePayment(r.Context(), caller, id); err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	s.writePaymentFor(w, r, id)
}

func (s *Server) handleRefund(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	caller, _ := CallerFrom(r.Context())
	if err := s.ledger.RefundPayment(r.Context(), caller, id); err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	s.writePaymentFor(w, r, id)
}

func (s *Server) writePaymentFor(w http.ResponseWriter, r *http.Request, shipmentID uint64) {
	p, err := s.ledger.PaymentForShipment(r.Context(), shipmentID)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.paymentView(p))
}

func (s *Server) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	p, err := s.ledger.GetPayment(r.Context(), id)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.paymentView(p))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	after, err := queryUint(r, "after")
	if err != nil {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request", err.Error())
		return
	}
	limit, err := queryUint(r, "limit")
	if err != nil || limit > store.MaxListLimit {
		WriteErrorR(w, r, http.StatusBadRequest, "Bad Request",
			fmt.Sprintf("limit must be an integer between 1 and %d", store.MaxListLimit))
		return
	}
	evs, err := s.ledger.Events(r.Context(), after, int(limit))
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	resp := eventsResponse{Events: evs, NextAfter: after}
	if resp.Events == nil {
		resp.Events = []events.Event{}
	}
	if n := len(evs); n > 0 {
		resp.NextAfter = evs[n-1].Seq
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDisclose(w http.ResponseWriter, r *http.Request) {
	if s.disclosures == nil {
		WriteNotFound(w, "route disclosure is not enabled")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	var route commitment.Route
	if !s.decode(w, r, schemaRoute, &route) {
		return
	}
	caller, _ := CallerFrom(r.Context())
	digest, err := s.disclosures.Disclose(r.Context(), caller, id, route)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, disclosureResponse{ShipmentID: id, Commitment: digest})
}

func (s *Server) handleGetDisclosure(w http.ResponseWriter, r *http.Request) {
	if s.disclosures == nil {
		WriteNotFound(w, "route disclosure is not enabled")
		return
	}
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	route, err := s.disclosures.LookupShipment(r.Context(), id)
	if err != nil {
		WriteLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}
