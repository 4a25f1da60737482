// Package handler exposes integrity verification over HTTP.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"residuechain/internal/platform/middleware"
	"residuechain/internal/sample"
	"residuechain/internal/tamper"
	"residuechain/internal/transport/http/shared"
	id "residuechain/pkg/domain"
	dErrors "residuechain/pkg/domain-errors"
)

type Handler struct {
	writer  *tamper.Writer
	samples *sample.Service
	logger  *slog.Logger
}

func New(writer *tamper.Writer, samples *sample.Service, logger *slog.Logger) *Handler {
	return &Handler{writer: writer, samples: samples, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/tamper/verify", h.handleVerify)
}

type verifyRequest struct {
	EntityType string `json:"entity_type"`
	EntityID   string `json:"entity_id"`
	// Canonical is required for entity types whose current data lives
	// outside this service (treatment_record, residue_prediction).
	Canonical string `json:"canonical,omitempty"`
	// RequestID locates the parent request when verifying a lab report.
	RequestID string `json:"request_id,omitempty"`
}

type verifyResponse struct {
	Intact      bool   `json:"intact"`
	CurrentHash string `json:"current_hash"`
	LoggedHash  string `json:"logged_hash"`
	Message     string `json:"message"`
}

func (h *Handler) handleVerify(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if body.EntityType == "" || body.EntityID == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "entity_type and entity_id are required"))
		return
	}

	entityType := tamper.EntityType(body.EntityType)
	canonical, err := h.canonicalFor(r, entityType, body)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	result, err := h.writer.Verify(ctx, entityType, body.EntityID, canonical)
	if err != nil && !dErrors.HasCode(err, dErrors.CodeHashMismatch) {
		shared.WriteError(w, err)
		return
	}

	resp := verifyResponse{
		Intact:      result.Intact,
		CurrentHash: result.CurrentHash,
		LoggedHash:  result.LoggedHash,
	}
	status := http.StatusOK
	if result.Intact {
		resp.Message = "record integrity verified"
	} else {
		resp.Message = "record has been tampered"
		status = http.StatusConflict
		h.logger.WarnContext(ctx, "tamper verification mismatch",
			"request_id", middleware.GetRequestID(ctx),
			"entity_type", body.EntityType, "entity_id", body.EntityID)
	}
	shared.WriteJSON(w, status, resp)
}

// canonicalFor rebuilds the canonical string from current data for the
// record families this service owns, and takes it verbatim for the rest.
func (h *Handler) canonicalFor(r *http.Request, entityType tamper.EntityType, body verifyRequest) (string, error) {
	ctx := r.Context()

	switch entityType {
	case tamper.EntitySampleRequest:
		requestID, err := id.ParseSampleRequestID(body.EntityID)
		if err != nil {
			return "", err
		}
		req, err := h.samples.Get(ctx, requestID)
		if err != nil {
			return "", err
		}
		return tamper.CanonicalSampleRequest(req), nil

	case tamper.EntityLabReport:
		requestID, err := id.ParseSampleRequestID(body.RequestID)
		if err != nil {
			return "", dErrors.New(dErrors.CodeInvalidInput, "request_id is required to verify a lab report")
		}
		report, err := h.samples.ReportForRequest(ctx, requestID)
		if err != nil {
			return "", err
		}
		if report.ID.String() != body.EntityID {
			return "", dErrors.New(dErrors.CodeInvalidInput, "entity_id does not match the request's report")
		}
		return tamper.CanonicalLabReport(report), nil

	case tamper.EntityTreatment, tamper.EntityPrediction:
		if body.Canonical == "" {
			return "", dErrors.New(dErrors.CodeInvalidInput, "canonical is required for this entity type")
		}
		return body.Canonical, nil

	default:
		return "", dErrors.New(dErrors.CodeInvalidInput, "unknown entity type")
	}
}
