// Package handler exposes the laboratory-facing sample-chain endpoints.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"residuechain/internal/labdirectory"
	"residuechain/internal/platform/middleware"
	"residuechain/internal/prediction"
	"residuechain/internal/sample"
	"residuechain/internal/tamper"
	"residuechain/internal/transport/http/shared"
	id "residuechain/pkg/domain"
	dErrors "residuechain/pkg/domain-errors"
)

type Handler struct {
	svc       *sample.Service
	predictor *prediction.Predictor
	writer    *tamper.Writer
	logger    *slog.Logger
}

// New builds the handler. The predictor drives the open endpoint; writer
// may be nil when tamper logging of predictions is not wired.
func New(svc *sample.Service, predictor *prediction.Predictor, writer *tamper.Writer, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, predictor: predictor, writer: writer, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/sample-requests", h.handleOpen)
	r.Get("/labs/sample-requests", h.handlePending)
	r.Post("/labs/collect-sample", h.handleCollect)
	r.Post("/labs/upload-report", h.handleUploadReport)
}

type requestResponse struct {
	ID           string        `json:"id"`
	TreatmentID  string        `json:"treatment_id"`
	EntityID     string        `json:"entity_id"`
	LabID        string        `json:"lab_id"`
	SafeDate     string        `json:"safe_date"`
	State        string        `json:"state"`
	StateHistory []stateChange `json:"state_history"`
}

type stateChange struct {
	State string    `json:"state"`
	At    time.Time `json:"at"`
}

func toRequestResponse(req sample.SampleRequest) requestResponse {
	out := requestResponse{
		ID:          req.ID.String(),
		TreatmentID: req.TreatmentID.String(),
		EntityID:    req.EntityID.String(),
		LabID:       req.LabID.String(),
		SafeDate:    req.SafeDate.Format("2006-01-02"),
		State:       string(req.State),
	}
	for _, sc := range req.StateHistory {
		out.StateHistory = append(out.StateHistory, stateChange{State: string(sc.State), At: sc.At})
	}
	return out
}

type openRequest struct {
	TreatmentID string `json:"treatment_id"`
	EntityID    string `json:"entity_id"`
	FarmerID    string `json:"farmer_id"`
	Location    struct {
		State    string `json:"state"`
		District string `json:"district"`
		Taluk    string `json:"taluk"`
	} `json:"location"`
	Treatment struct {
		Species         string  `json:"species"`
		Category        string  `json:"category"`
		Medicine        string  `json:"medicine"`
		DoseAmount      float64 `json:"dose_amount"`
		DoseUnit        string  `json:"dose_unit"`
		FrequencyPerDay int     `json:"frequency_per_day"`
		DurationDays    int     `json:"duration_days"`
		Matrix          string  `json:"matrix"`
		EndDate         string  `json:"end_date"`
	} `json:"treatment"`
}

// handleOpen runs the residue prediction for a closed treatment and, when a
// withdrawal window applies, opens the sample request against the resolved
// laboratory. Vaccine or non-meat treatments return applicable=false with no
// request.
func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body openRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	treatmentID, err := id.ParseTreatmentID(body.TreatmentID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	entityID, err := id.ParseEntityID(body.EntityID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	farmerID, err := id.ParseFarmerID(body.FarmerID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	endDate, err := time.Parse("2006-01-02", body.Treatment.EndDate)
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "treatment end_date must be YYYY-MM-DD"))
		return
	}

	pred, err := h.predictor.Predict(ctx, prediction.Input{
		Species:         body.Treatment.Species,
		Category:        body.Treatment.Category,
		Medicine:        body.Treatment.Medicine,
		DoseAmount:      body.Treatment.DoseAmount,
		DoseUnit:        body.Treatment.DoseUnit,
		FrequencyPerDay: body.Treatment.FrequencyPerDay,
		DurationDays:    body.Treatment.DurationDays,
		Matrix:          body.Treatment.Matrix,
		EndDate:         endDate,
		EvaluationDate:  time.Now().UTC(),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "prediction failed",
			"request_id", middleware.GetRequestID(ctx), "treatment_id", treatmentID, "error", err)
		shared.WriteError(w, err)
		return
	}
	if !pred.Applicable {
		shared.WriteJSON(w, http.StatusOK, map[string]any{"applicable": false})
		return
	}

	if h.writer != nil {
		canonical := tamper.CanonicalPrediction(treatmentID.String(), body.Treatment.Matrix, pred)
		if _, err := h.writer.Append(ctx, tamper.EntityPrediction, treatmentID.String(), canonical); err != nil {
			h.logger.ErrorContext(ctx, "prediction tamper log failed",
				"request_id", middleware.GetRequestID(ctx), "treatment_id", treatmentID, "error", err)
			shared.WriteError(w, err)
			return
		}
	}

	req, err := h.svc.Open(ctx, sample.OpenRequest{
		TreatmentID: treatmentID,
		EntityID:    entityID,
		FarmerID:    farmerID,
		Location: labdirectory.Location{
			State:    body.Location.State,
			District: body.Location.District,
			Taluk:    body.Location.Taluk,
		},
		SafeDate: pred.SafeDate,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "open sample request failed",
			"request_id", middleware.GetRequestID(ctx), "treatment_id", treatmentID, "error", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusCreated, map[string]any{
		"applicable":       true,
		"sample_request":   toRequestResponse(req),
		"overall_category": string(pred.OverallCategory),
		"safe_date":        pred.SafeDate.Format("2006-01-02"),
	})
}

func (h *Handler) handlePending(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	labID, err := id.ParseLabID(r.URL.Query().Get("lab_id"))
	if err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "lab_id is required"))
		return
	}

	requests, err := h.svc.PendingForLab(ctx, labID)
	if err != nil {
		h.logger.ErrorContext(ctx, "list pending requests failed",
			"request_id", middleware.GetRequestID(ctx), "lab_id", labID, "error", err)
		shared.WriteError(w, err)
		return
	}

	out := make([]requestResponse, 0, len(requests))
	for _, req := range requests {
		out = append(out, toRequestResponse(req))
	}
	shared.WriteJSON(w, http.StatusOK, map[string]any{"sample_requests": out})
}

type collectRequest struct {
	RequestID  string `json:"request_id"`
	LabID      string `json:"lab_id"`
	SampleType string `json:"sample_type"`
}

func (h *Handler) handleCollect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body collectRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	requestID, err := id.ParseSampleRequestID(body.RequestID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	labID, err := id.ParseLabID(body.LabID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	if body.SampleType == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "sample_type is required"))
		return
	}

	sm, err := h.svc.Collect(ctx, sample.CollectRequest{
		RequestID:  requestID,
		LabID:      labID,
		SampleType: body.SampleType,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "collect failed",
			"request_id", middleware.GetRequestID(ctx), "sample_request_id", requestID, "error", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"sample_id":    sm.ID.String(),
		"collected_at": sm.CollectedAt,
	})
}

type uploadReportRequest struct {
	RequestID       string  `json:"request_id"`
	LabID           string  `json:"lab_id"`
	DetectedResidue float64 `json:"detected_residue"`
	LegalLimit      float64 `json:"legal_limit"`
	FinalStatus     string  `json:"final_status"`
}

func (h *Handler) handleUploadReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var body uploadReportRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	requestID, err := id.ParseSampleRequestID(body.RequestID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}
	labID, err := id.ParseLabID(body.LabID)
	if err != nil {
		shared.WriteError(w, err)
		return
	}

	report, err := h.svc.Test(ctx, sample.TestRequest{
		RequestID:       requestID,
		LabID:           labID,
		DetectedResidue: body.DetectedResidue,
		LegalLimit:      body.LegalLimit,
		FinalStatus:     sample.ReportStatus(body.FinalStatus),
	})
	if err != nil {
		h.logger.WarnContext(ctx, "upload report failed",
			"request_id", middleware.GetRequestID(ctx), "sample_request_id", requestID, "error", err)
		shared.WriteError(w, err)
		return
	}

	shared.WriteJSON(w, http.StatusOK, map[string]any{
		"report_id":    report.ID.String(),
		"final_status": string(report.FinalStatus),
		"tested_at":    report.TestedAt,
	})
}
