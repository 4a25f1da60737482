package reference

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"residuechain/pkg/platform/sentinel"
)

// InMemoryStore holds the reference data loaded at startup. Reads take no
// lock: the maps are never written after construction.
type InMemoryStore struct {
	medicines map[string]MedicineReference
}

func key(species, category, medicine string) string {
	return strings.ToLower(species) + "|" + strings.ToLower(category) + "|" + strings.ToLower(medicine)
}

// NewInMemoryStore builds a store from pre-assembled records. Tissue slices
// are re-sorted by name so callers cannot depend on input order.
func NewInMemoryStore(records []MedicineReference) *InMemoryStore {
	s := &InMemoryStore{medicines: make(map[string]MedicineReference, len(records))}
	for _, r := range records {
		sort.Slice(r.Tissues, func(i, j int) bool { return r.Tissues[i].Name < r.Tissues[j].Name })
		if r.PK.HalfLifeDays <= 0 {
			r.PK.HalfLifeDays = DefaultHalfLifeDays
		}
		s.medicines[key(r.Species, r.Category, r.Medicine)] = r
	}
	return s
}

func (s *InMemoryStore) Lookup(_ context.Context, species, category, medicine string) (MedicineReference, error) {
	ref, ok := s.medicines[key(species, category, medicine)]
	if !ok {
		return MedicineReference{}, sentinel.ErrNotFound
	}
	return ref, nil
}

// File layout is the nested dosage reference JSON published by the
// veterinary data team: species -> category -> medicine -> record.
type fileTissue struct {
	PartitionFactor    float64 `json:"partition_factor"`
	BaseMRL            float64 `json:"base_mrl"`
	MRLUnit            string  `json:"mrl_unit"`
	BaseWithdrawalDays int     `json:"base_withdrawal_days"`
}

type fileMatrix struct {
	Tissues map[string]fileTissue `json:"tissues"`
}

type fileMedicine struct {
	PKParameters struct {
		HalfLifeDays         *float64 `json:"half_life_days"`
		DoseConversionFactor float64  `json:"dose_conversion_factor"`
		SpeciesFactor        float64  `json:"species_factor"`
		PersistenceFactor    float64  `json:"persistence_factor"`
	} `json:"pk_parameters"`
	RiskThresholds struct {
		Safe       float64 `json:"safe"`
		Borderline float64 `json:"borderline"`
		Unsafe     float64 `json:"unsafe"`
	} `json:"risk_thresholds"`
	RecommendedDoseMgPerKg float64 `json:"recommended_dose_mg_per_kg"`
	RecommendedDoses       struct {
		Safe struct {
			Max float64 `json:"max"`
		} `json:"safe"`
	} `json:"recommended_doses"`
	MRLByMatrix map[string]fileMatrix `json:"mrl_by_matrix"`
}

// LoadFile reads the reference JSON and builds the store.
func LoadFile(path string) (*InMemoryStore, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference data: %w", err)
	}
	var doc map[string]map[string]map[string]fileMedicine
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse reference data: %w", err)
	}

	var records []MedicineReference
	for species, categories := range doc {
		for category, medicines := range categories {
			for medicine, fm := range medicines {
				records = append(records, toRecord(species, category, medicine, fm))
			}
		}
	}
	return NewInMemoryStore(records), nil
}

func toRecord(species, category, medicine string, fm fileMedicine) MedicineReference {
	rec := MedicineReference{
		Species:  species,
		Category: category,
		Medicine: medicine,
	}

	rec.PK.DoseConversionFactor = fm.PKParameters.DoseConversionFactor
	rec.PK.SpeciesFactor = fm.PKParameters.SpeciesFactor
	rec.PK.PersistenceFactor = fm.PKParameters.PersistenceFactor
	if fm.PKParameters.HalfLifeDays != nil && *fm.PKParameters.HalfLifeDays > 0 {
		rec.PK.HalfLifeDays = *fm.PKParameters.HalfLifeDays
	}

	// The recommended single-dose maximum doubles as the overdose floor.
	rec.OverdoseMinThreshold = fm.RecommendedDoseMgPerKg
	if rec.OverdoseMinThreshold == 0 {
		rec.OverdoseMinThreshold = fm.RecommendedDoses.Safe.Max
	}

	for name, ft := range fm.MRLByMatrix["meat"].Tissues {
		rec.Tissues = append(rec.Tissues, TissueReference{
			Name:               name,
			PartitionFactor:    ft.PartitionFactor,
			BaseMRL:            ft.BaseMRL,
			MRLUnit:            ft.MRLUnit,
			BaseWithdrawalDays: ft.BaseWithdrawalDays,
		})
	}

	rec.Thresholds = RiskThresholds{
		SafePercent:       fm.RiskThresholds.Safe,
		BorderlinePercent: fm.RiskThresholds.Borderline,
		UnsafePercent:     fm.RiskThresholds.Unsafe,
	}
	// Tissues without explicit thresholds use 80/100/120 percent of base.
	if rec.Thresholds.SafePercent == 0 {
		rec.Thresholds.SafePercent = 80
	}
	if rec.Thresholds.BorderlinePercent == 0 {
		rec.Thresholds.BorderlinePercent = 100
	}
	if rec.Thresholds.UnsafePercent == 0 {
		rec.Thresholds.UnsafePercent = 120
	}
	return rec
}
