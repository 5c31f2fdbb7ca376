// Package api serves the ledger over HTTP. Errors are RFC 7807 problem
// documents.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/Jovells/dchain/pkg/commitment"
	"github.com/Jovells/dchain/pkg/disclosure"
	"github.com/Jovells/dchain/pkg/shipment"
)

// ProblemDetail implements RFC 7807 (Problem Details for HTTP APIs).
type ProblemDetail struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	// Kind is the ledger error kind, when the problem came from the engine.
	Kind    string `json:"kind,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

func (p *ProblemDetail) Error() string {
	return fmt.Sprintf("%s: %s", p.Title, p.Detail)
}

func problemType(status int, kind string) string {
	if kind != "" {
		return "urn:dchain:error:" + kind
	}
	return fmt.Sprintf("urn:dchain:error:http-%d", status)
}

// WriteError writes an RFC 7807 Problem Detail JSON response.
func WriteError(w http.ResponseWriter, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:   problemType(status, ""),
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

// WriteErrorR is WriteError enriched with the request path and request id.
func WriteErrorR(w http.ResponseWriter, r *http.Request, status int, title, detail string) {
	writeProblem(w, &ProblemDetail{
		Type:     problemType(status, ""),
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: r.URL.Path,
		TraceID:  w.Header().Get(RequestIDHeader),
	})
}

func writeProblem(w http.ResponseWriter, p *ProblemDetail) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}

func WriteBadRequest(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusBadRequest, "Bad Request", detail)
}

func WriteUnauthorized(w http.ResponseWriter, detail string) {
	if detail == "" {
		detail = "Authentication required"
	}
	WriteError(w, http.StatusUnauthorized, "Unauthorized", detail)
}

func WriteNotFound(w http.ResponseWriter, detail string) {
	WriteError(w, http.StatusNotFound, "Not Found", detail)
}

// WriteTooManyRequests writes a 429 error response with Retry-After header.
func WriteTooManyRequests(w http.ResponseWriter, retryAfterSecs int) {
	w.Header().Set("Retry-After", fmt.Sprintf("%d", retryAfterSecs))
	WriteError(w, http.StatusTooManyRequests, "Too Many Requests", "Rate limit exceeded. Retry after the specified interval.")
}

// WriteInternal writes a 500 error response. err is logged, never returned
// to the client.
func WriteInternal(w http.ResponseWriter, err error) {
	slog.Error("internal server error", "error", err)
	WriteError(w, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}

type errorMapping struct {
	kind   error
	status int
	title  string
}

var errorMappings = []errorMapping{
	{shipment.ErrNotFound, http.StatusNotFound, "Not Found"},
	{shipment.ErrNotAuthorized, http.StatusForbidden, "Forbidden"},
	{shipment.ErrMissingParticipant, http.StatusBadRequest, "Missing Participant"},
	{shipment.ErrInvalidVisibilityData, http.StatusBadRequest, "Invalid Visibility Data"},
	{shipment.ErrInvalidAmount, http.StatusBadRequest, "Invalid Amount"},
	{shipment.ErrInvalidPolicy, http.StatusBadRequest, "Invalid Policy"},
	{shipment.ErrInvalidTransition, http.StatusConflict, "Invalid Transition"},
	{shipment.ErrNoEscrowHeld, http.StatusConflict, "No Escrow Held"},
	{shipment.ErrNotYetDue, http.StatusConflict, "Payment Not Yet Due"},
	{shipment.ErrInsufficientPayment, http.StatusPaymentRequired, "Insufficient Payment"},
	{shipment.ErrCustodyTransferFailed, http.StatusUnprocessableEntity, "Custody Transfer Failed"},
	{disclosure.ErrBlobNotFound, http.StatusNotFound, "Not Found"},
	{disclosure.ErrNotPrivate, http.StatusConflict, "Shipment Not Private"},
	{disclosure.ErrCommitmentMismatch, http.StatusUnprocessableEntity, "Commitment Mismatch"},
	{commitment.ErrInvalidDigest, http.StatusBadRequest, "Invalid Commitment"},
}

// kindSlug turns "payment not yet due" into "payment-not-yet-due".
func kindSlug(kind error) string {
	return strings.ReplaceAll(kind.Error(), " ", "-")
}

// WriteLedgerError maps engine and disclosure failures to problem documents.
// Unknown errors are logged and reported as 500.
func WriteLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	// Engine errors wrap the kind first, so they match before any wrapped
	// cause such as a disclosure sentinel.
	kind := shipment.KindOf(err)
	for _, m := range errorMappings {
		if (kind != nil && kind == m.kind) || (kind == nil && errors.Is(err, m.kind)) {
			writeProblem(w, &ProblemDetail{
				Type:     problemType(m.status, kindSlug(m.kind)),
				Title:    m.title,
				Status:   m.status,
				Detail:   err.Error(),
				Instance: r.URL.Path,
				Kind:     kindSlug(m.kind),
				TraceID:  w.Header().Get(RequestIDHeader),
			})
			return
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		WriteErrorR(w, r, http.StatusServiceUnavailable, "Service Unavailable", "request cancelled")
		return
	}
	slog.ErrorContext(r.Context(), "internal server error", "error", err, "path", r.URL.Path)
	WriteErrorR(w, r, http.StatusInternalServerError, "Internal Server Error", "An unexpected error occurred. Please try again later.")
}
