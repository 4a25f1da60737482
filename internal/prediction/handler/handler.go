// Package handler exposes the residue predictor over HTTP.
package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"residuechain/internal/platform/metrics"
	"residuechain/internal/platform/middleware"
	"residuechain/internal/prediction"
	"residuechain/internal/transport/http/shared"
	dErrors "residuechain/pkg/domain-errors"
)

type Handler struct {
	predictor *prediction.Predictor
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

func New(predictor *prediction.Predictor, logger *slog.Logger, metrics *metrics.Metrics) *Handler {
	return &Handler{predictor: predictor, logger: logger, metrics: metrics}
}

func (h *Handler) Register(r chi.Router) {
	r.Post("/predict", h.handlePredict)
}

type predictRequest struct {
	Species         string    `json:"species"`
	Category        string    `json:"category"`
	Medicine        string    `json:"medicine"`
	DoseAmount      float64   `json:"dose_amount"`
	DoseUnit        string    `json:"dose_unit"`
	FrequencyPerDay int       `json:"frequency_per_day"`
	DurationDays    int       `json:"duration_days"`
	Matrix          string    `json:"matrix"`
	EndDate         time.Time `json:"end_date"`
	EvaluationDate  time.Time `json:"evaluation_date"`
}

type tissueResponse struct {
	Tissue           string  `json:"tissue"`
	PredictedResidue float64 `json:"predicted_residue"`
	BaseMRL          float64 `json:"base_mrl"`
	RiskPercent      float64 `json:"risk_percent"`
	Category         string  `json:"category"`
}

type predictResponse struct {
	Applicable         bool             `json:"applicable"`
	Tissues            []tissueResponse `json:"tissues,omitempty"`
	WorstTissue        string           `json:"worst_tissue,omitempty"`
	OverallCategory    string           `json:"overall_category,omitempty"`
	PredictedResidue   float64          `json:"predicted_residue,omitempty"`
	WithdrawalDays     int              `json:"withdrawal_days,omitempty"`
	SafeDate           string           `json:"safe_date,omitempty"`
	Overdosage         bool             `json:"overdosage"`
	OverdoseMultiplier int              `json:"overdose_multiplier,omitempty"`
}

func (h *Handler) handlePredict(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		shared.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	if req.Species == "" || req.Medicine == "" {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "species and medicine are required"))
		return
	}
	if req.EndDate.IsZero() {
		shared.WriteError(w, dErrors.New(dErrors.CodeInvalidInput, "end_date is required"))
		return
	}
	if req.EvaluationDate.IsZero() {
		req.EvaluationDate = time.Now()
	}

	pred, err := h.predictor.Predict(ctx, prediction.Input{
		Species:         req.Species,
		Category:        req.Category,
		Medicine:        req.Medicine,
		DoseAmount:      req.DoseAmount,
		DoseUnit:        req.DoseUnit,
		FrequencyPerDay: req.FrequencyPerDay,
		DurationDays:    req.DurationDays,
		Matrix:          req.Matrix,
		EndDate:         req.EndDate,
		EvaluationDate:  req.EvaluationDate,
	})
	if err != nil {
		h.logger.WarnContext(ctx, "prediction failed",
			"request_id", requestID, "species", req.Species, "medicine", req.Medicine, "error", err)
		shared.WriteError(w, err)
		return
	}

	if h.metrics != nil && pred.Applicable {
		h.metrics.PredictionsTotal.WithLabelValues(string(pred.OverallCategory)).Inc()
	}
	shared.WriteJSON(w, http.StatusOK, toResponse(pred))
}

func toResponse(p prediction.Prediction) predictResponse {
	resp := predictResponse{
		Applicable:         p.Applicable,
		WorstTissue:        p.WorstTissue,
		OverallCategory:    string(p.OverallCategory),
		PredictedResidue:   p.PredictedResidue,
		WithdrawalDays:     p.WithdrawalDays,
		Overdosage:         p.Overdosage,
		OverdoseMultiplier: p.OverdoseMultiplier,
	}
	if !p.SafeDate.IsZero() {
		resp.SafeDate = p.SafeDate.Format("2006-01-02")
	}
	for _, t := range p.Tissues {
		resp.Tissues = append(resp.Tissues, tissueResponse{
			Tissue:           t.Tissue,
			PredictedResidue: t.PredictedResidue,
			BaseMRL:          t.BaseMRL,
			RiskPercent:      t.RiskPercent,
			Category:         string(t.Category),
		})
	}
	return resp
}
