// Package tamper produces tamper-evident hashes of regulated records. A
// canonical string with a fixed per-type field order is hashed with
// Keccak-256; hashes are appended to a local log and anchored to an
// external ledger.
package tamper

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"residuechain/internal/prediction"
	"residuechain/internal/sample"
)

// EntityType tags a canonical string with the record family it encodes.
type EntityType string

const (
	EntityTreatment     EntityType = "treatment_record"
	EntityPrediction    EntityType = "residue_prediction"
	EntitySampleRequest EntityType = "sample_request"
	EntityLabReport     EntityType = "lab_report"
)

// Field orders below are frozen. Changing one silently invalidates every
// previously logged hash of that type; add a new prefix instead.

// TreatmentSnapshot is the regulated field set of a closed treatment as
// reported by the upstream treatment collaborator.
type TreatmentSnapshot struct {
	TreatmentID     string
	EntityID        string
	FarmerID        string
	Species         string
	Category        string
	Medicine        string
	Route           string
	DoseAmount      float64
	DoseUnit        string
	FrequencyPerDay int
	DurationDays    int
	StartDate       time.Time
	EndDate         time.Time
	Status          string
}

// CanonicalTreatment renders a treatment snapshot with the TR field order.
func CanonicalTreatment(t TreatmentSnapshot) string {
	return join("TR",
		t.TreatmentID, t.EntityID, t.FarmerID,
		t.Species, t.Category, t.Medicine, t.Route,
		num(t.DoseAmount), t.DoseUnit,
		strconv.Itoa(t.FrequencyPerDay), strconv.Itoa(t.DurationDays),
		day(t.StartDate), day(t.EndDate), t.Status,
	)
}

// CanonicalPrediction renders a residue prediction with the RP field order.
func CanonicalPrediction(treatmentID string, matrix string, p prediction.Prediction) string {
	return join("RP",
		treatmentID, matrix,
		num(p.PredictedResidue), strconv.Itoa(p.WithdrawalDays), day(p.SafeDate),
		string(p.OverallCategory), p.WorstTissue,
		strconv.FormatBool(p.Overdosage), strconv.Itoa(p.OverdoseMultiplier),
	)
}

// CanonicalSampleRequest renders a request with the SR field order. The
// state history is flattened newest-last so every transition feeds the
// hash.
func CanonicalSampleRequest(req sample.SampleRequest) string {
	history := make([]string, len(req.StateHistory))
	for i, sc := range req.StateHistory {
		history[i] = fmt.Sprintf("%s@%s", sc.State, stamp(sc.At))
	}
	return join("SR",
		req.ID.String(), req.TreatmentID.String(), req.EntityID.String(),
		req.FarmerID.String(), req.LabID.String(),
		day(req.SafeDate), string(req.State), strings.Join(history, ","),
	)
}

// CanonicalLabReport renders a lab report with the LR field order.
func CanonicalLabReport(r sample.LabReport) string {
	return join("LR",
		r.ID.String(), r.SampleID.String(), r.SampleRequestID.String(), r.LabID.String(),
		num(r.DetectedResidue), num(r.LegalLimit),
		string(r.FinalStatus), stamp(r.TestedAt),
	)
}

func join(prefix string, fields ...string) string {
	return prefix + "|" + strings.Join(fields, "|")
}

func num(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func day(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("2006-01-02")
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
