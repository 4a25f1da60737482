package prediction

import "time"

// RiskCategory classifies a predicted residue against the legal limit.
type RiskCategory string

const (
	RiskSafe       RiskCategory = "SAFE"
	RiskBorderline RiskCategory = "BORDERLINE"
	RiskUnsafe     RiskCategory = "UNSAFE"
)

// leastSafe orders categories so aggregation can pick the worst one.
var leastSafe = map[RiskCategory]int{
	RiskSafe:       0,
	RiskBorderline: 1,
	RiskUnsafe:     2,
}

// Worse returns the less safe of two categories.
func Worse(a, b RiskCategory) RiskCategory {
	if leastSafe[b] > leastSafe[a] {
		return b
	}
	return a
}

// Input are the immutable facts of a closed treatment that drive the
// prediction. EvaluationDate is injected rather than read from the clock so
// the predictor stays a pure function.
type Input struct {
	Species         string
	Category        string
	Medicine        string
	DoseAmount      float64
	DoseUnit        string
	FrequencyPerDay int
	DurationDays    int
	Matrix          string
	EndDate         time.Time
	EvaluationDate  time.Time
}

// TissuePrediction is the per-tissue slice of a prediction.
type TissuePrediction struct {
	Tissue           string
	PredictedResidue float64
	BaseMRL          float64
	RiskPercent      float64
	Category         RiskCategory
}

// Prediction is the derived residue record, 1:1 with a non-vaccine
// treatment. Replaced wholesale on re-prediction, never edited in place.
type Prediction struct {
	// Applicable is false when the product matrix is not modeled (only meat
	// is) or the category carries no residue risk (vaccines).
	Applicable bool

	Tissues          []TissuePrediction
	WorstTissue      string
	OverallCategory  RiskCategory
	PredictedResidue float64
	WithdrawalDays   int
	SafeDate         time.Time
	Overdosage       bool
	// OverdoseMultiplier is ceil(dose / overdose threshold); zero when the
	// treatment is not an overdosage.
	OverdoseMultiplier int
}
