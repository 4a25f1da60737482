// Package prediction computes per-tissue residue forecasts, risk
// classification and withdrawal dates from a closed treatment. The predictor
// is pure over the reference store and safe to call in parallel.
package prediction

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"residuechain/internal/reference"
	dErrors "residuechain/pkg/domain-errors"
	"residuechain/pkg/platform/sentinel"
)

// ModeledMatrix is the only product matrix with tissue-level modeling.
const ModeledMatrix = "meat"

// Predictor turns treatments into residue predictions.
type Predictor struct {
	refs reference.Store
}

func New(refs reference.Store) *Predictor {
	return &Predictor{refs: refs}
}

// Predict runs the pharmacokinetic model for one treatment.
//
// A matrix other than "meat", or a vaccine category, yields an inapplicable
// prediction rather than an error. An unknown species/category/medicine
// triple yields CodeMissingReferenceData.
func (p *Predictor) Predict(ctx context.Context, in Input) (Prediction, error) {
	if !strings.EqualFold(in.Matrix, ModeledMatrix) {
		return Prediction{Applicable: false}, nil
	}
	if strings.EqualFold(in.Category, "vaccine") {
		// Vaccines carry no residue risk.
		return Prediction{Applicable: false}, nil
	}

	ref, err := p.refs.Lookup(ctx, in.Species, in.Category, in.Medicine)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return Prediction{}, dErrors.Wrap(dErrors.CodeMissingReferenceData,
				"no reference data for "+in.Species+"/"+in.Category+"/"+in.Medicine, err)
		}
		return Prediction{}, err
	}
	if len(ref.Tissues) == 0 {
		return Prediction{}, dErrors.New(dErrors.CodeMissingReferenceData,
			"reference record has no tissue limits for "+in.Medicine)
	}

	if ref.OverdoseMinThreshold > 0 && in.DoseAmount > ref.OverdoseMinThreshold {
		return p.predictOverdose(in, ref), nil
	}
	return p.predictNormal(in, ref), nil
}

// predictOverdose pins every tissue at 150% of its legal limit and scales the
// withdrawal period by the overdose multiplier, never below double the base.
func (p *Predictor) predictOverdose(in Input, ref reference.MedicineReference) Prediction {
	multiplier := int(math.Ceil(in.DoseAmount / ref.OverdoseMinThreshold))

	out := Prediction{
		Applicable:         true,
		Overdosage:         true,
		OverdoseMultiplier: multiplier,
		OverallCategory:    RiskUnsafe,
	}
	for _, t := range ref.Tissues {
		out.Tissues = append(out.Tissues, TissuePrediction{
			Tissue:           t.Name,
			PredictedResidue: 1.5 * t.BaseMRL,
			BaseMRL:          t.BaseMRL,
			RiskPercent:      150,
			Category:         RiskUnsafe,
		})
	}

	// All tissues sit at the same risk percent, so the first tissue in the
	// deterministic order is the worst one.
	worst := ref.Tissues[0]
	out.WorstTissue = worst.Name
	out.PredictedResidue = 1.5 * worst.BaseMRL

	base := worst.BaseWithdrawalDays
	out.WithdrawalDays = max(base*multiplier, base*2)
	out.SafeDate = safeDate(in.EndDate, out.WithdrawalDays)
	return out
}

func (p *Predictor) predictNormal(in Input, ref reference.MedicineReference) Prediction {
	k := math.Ln2 / ref.PK.HalfLifeDays
	days := daysSinceEnd(in.EndDate, in.EvaluationDate)

	out := Prediction{Applicable: true, OverallCategory: RiskSafe}
	var worst TissuePrediction
	var worstRef reference.TissueReference
	exceeded := false

	for i, t := range ref.Tissues {
		c0 := in.DoseAmount * ref.PK.DoseConversionFactor * t.PartitionFactor * ref.PK.SpeciesFactor
		predicted := c0 * math.Exp(-k*float64(days))
		riskPercent := predicted / t.BaseMRL * 100

		tp := TissuePrediction{
			Tissue:           t.Name,
			PredictedResidue: predicted,
			BaseMRL:          t.BaseMRL,
			RiskPercent:      riskPercent,
			Category:         classify(riskPercent, ref.Thresholds),
		}
		if predicted > t.BaseMRL {
			tp.Category = RiskUnsafe
			exceeded = true
		}
		out.Tissues = append(out.Tissues, tp)
		out.OverallCategory = Worse(out.OverallCategory, tp.Category)

		// Strict > keeps the first tissue in the sorted order on ties.
		if i == 0 || tp.RiskPercent > worst.RiskPercent {
			worst = tp
			worstRef = t
		}
	}

	out.WorstTissue = worst.Tissue
	out.PredictedResidue = worst.PredictedResidue

	base := worstRef.BaseWithdrawalDays
	if exceeded {
		out.OverallCategory = RiskUnsafe
		out.WithdrawalDays = base * 2
	} else {
		totalDose := in.DoseAmount * float64(in.FrequencyPerDay) * float64(in.DurationDays)
		extended := int(math.Ceil(float64(base) + totalDose*ref.PK.PersistenceFactor))
		out.WithdrawalDays = max(base, extended)
	}
	out.SafeDate = safeDate(in.EndDate, out.WithdrawalDays)
	return out
}

func classify(riskPercent float64, th reference.RiskThresholds) RiskCategory {
	switch {
	case riskPercent > 100:
		return RiskUnsafe
	case riskPercent > th.SafePercent:
		return RiskBorderline
	default:
		return RiskSafe
	}
}

// daysSinceEnd is the elapsed whole days between treatment end and
// evaluation, rounded up. Evaluating on or before the end date means no
// elimination has happened yet.
func daysSinceEnd(end, eval time.Time) int {
	d := int(math.Ceil(eval.Sub(end).Hours() / 24))
	if d < 0 {
		return 0
	}
	return d
}

func safeDate(end time.Time, withdrawalDays int) time.Time {
	return end.AddDate(0, 0, withdrawalDays)
}
