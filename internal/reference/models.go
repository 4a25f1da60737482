// Package reference is the read-only pharmacokinetic reference store: per
// species/category/medicine parameters, per-tissue residue limits and risk
// thresholds. It is loaded once and passed into the predictor as an explicit
// dependency; nothing here mutates after load.
package reference

// DefaultHalfLifeDays substitutes for medicines whose elimination half-life
// is not on record.
const DefaultHalfLifeDays = 7.0

// PKParams are the medicine's pharmacokinetic parameters.
type PKParams struct {
	HalfLifeDays         float64
	DoseConversionFactor float64
	SpeciesFactor        float64
	PersistenceFactor    float64
}

// RiskThresholds split the risk-percent axis into categories. Percent of the
// tissue's base residue limit.
type RiskThresholds struct {
	SafePercent       float64
	BorderlinePercent float64
	UnsafePercent     float64
}

// TissueReference carries one tissue's partition factor and legal limits.
type TissueReference struct {
	Name               string
	PartitionFactor    float64
	BaseMRL            float64
	MRLUnit            string
	BaseWithdrawalDays int
}

// MedicineReference is the full reference record for one
// species/category/medicine triple. Tissues are sorted by name so every
// consumer iterates in the same deterministic order.
type MedicineReference struct {
	Species  string
	Category string
	Medicine string

	PK             PKParams
	Thresholds     RiskThresholds
	Tissues        []TissueReference
	// OverdoseMinThreshold is the dose (mg/kg) above which a treatment is an
	// overdosage. Zero disables the overdose path for this medicine.
	OverdoseMinThreshold float64
}

// Tissue returns the named tissue reference, if present.
func (m MedicineReference) Tissue(name string) (TissueReference, bool) {
	for _, t := range m.Tissues {
		if t.Name == name {
			return t, true
		}
	}
	return TissueReference{}, false
}
