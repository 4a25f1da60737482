// Package domain holds typed identifiers shared across verticals.
//
// IDs are distinct types over uuid.UUID so the compiler rejects cross-type
// assignment (a TreatmentID can never be passed where a LabID is expected).
package domain

import (
	"github.com/google/uuid"

	dErrors "residuechain/pkg/domain-errors"
)

type (
	// TreatmentID identifies one drug administration record.
	TreatmentID uuid.UUID
	// EntityID identifies the treated animal or batch.
	EntityID uuid.UUID
	// FarmerID identifies the farmer who owns the treated entity.
	FarmerID uuid.UUID
	// LabID identifies a registered laboratory.
	LabID uuid.UUID
	// SampleRequestID identifies a sample-chain request.
	SampleRequestID uuid.UUID
	// SampleID identifies a collected physical specimen.
	SampleID uuid.UUID
	// ReportID identifies a lab test report.
	ReportID uuid.UUID
	// UserID identifies any notification recipient (farmer, lab, authority).
	UserID uuid.UUID
)

func parseID(s string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must be a valid UUID")
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "id must not be the nil UUID")
	}
	return u, nil
}

func ParseTreatmentID(s string) (TreatmentID, error) {
	u, err := parseID(s)
	return TreatmentID(u), err
}

func ParseEntityID(s string) (EntityID, error) {
	u, err := parseID(s)
	return EntityID(u), err
}

func ParseFarmerID(s string) (FarmerID, error) {
	u, err := parseID(s)
	return FarmerID(u), err
}

func ParseLabID(s string) (LabID, error) {
	u, err := parseID(s)
	return LabID(u), err
}

func ParseSampleRequestID(s string) (SampleRequestID, error) {
	u, err := parseID(s)
	return SampleRequestID(u), err
}

func ParseSampleID(s string) (SampleID, error) {
	u, err := parseID(s)
	return SampleID(u), err
}

func ParseReportID(s string) (ReportID, error) {
	u, err := parseID(s)
	return ReportID(u), err
}

func ParseUserID(s string) (UserID, error) {
	u, err := parseID(s)
	return UserID(u), err
}

func (id TreatmentID) String() string     { return uuid.UUID(id).String() }
func (id EntityID) String() string        { return uuid.UUID(id).String() }
func (id FarmerID) String() string        { return uuid.UUID(id).String() }
func (id LabID) String() string           { return uuid.UUID(id).String() }
func (id SampleRequestID) String() string { return uuid.UUID(id).String() }
func (id SampleID) String() string        { return uuid.UUID(id).String() }
func (id ReportID) String() string        { return uuid.UUID(id).String() }
func (id UserID) String() string          { return uuid.UUID(id).String() }

func (id TreatmentID) IsNil() bool     { return uuid.UUID(id) == uuid.Nil }
func (id EntityID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id FarmerID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id LabID) IsNil() bool           { return uuid.UUID(id) == uuid.Nil }
func (id SampleRequestID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id SampleID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id ReportID) IsNil() bool        { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool          { return uuid.UUID(id) == uuid.Nil }

// The text forms below keep JSON payloads carrying canonical UUID strings
// instead of raw byte arrays.

func (id TreatmentID) MarshalText() ([]byte, error)     { return []byte(id.String()), nil }
func (id EntityID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id FarmerID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id LabID) MarshalText() ([]byte, error)           { return []byte(id.String()), nil }
func (id SampleRequestID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id SampleID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id ReportID) MarshalText() ([]byte, error)        { return []byte(id.String()), nil }
func (id UserID) MarshalText() ([]byte, error)          { return []byte(id.String()), nil }

func unmarshalID(dst *uuid.UUID, text []byte) error {
	u, err := uuid.Parse(string(text))
	if err != nil {
		return err
	}
	*dst = u
	return nil
}

func (id *TreatmentID) UnmarshalText(text []byte) error {
	return unmarshalID((*uuid.UUID)(id), text)
}
func (id *EntityID) UnmarshalText(text []byte) error { return unmarshalID((*uuid.UUID)(id), text) }
func (id *FarmerID) UnmarshalText(text []byte) error { return unmarshalID((*uuid.UUID)(id), text) }
func (id *LabID) UnmarshalText(text []byte) error    { return unmarshalID((*uuid.UUID)(id), text) }
func (id *SampleRequestID) UnmarshalText(text []byte) error {
	return unmarshalID((*uuid.UUID)(id), text)
}
func (id *SampleID) UnmarshalText(text []byte) error { return unmarshalID((*uuid.UUID)(id), text) }
func (id *ReportID) UnmarshalText(text []byte) error { return unmarshalID((*uuid.UUID)(id), text) }
func (id *UserID) UnmarshalText(text []byte) error   { return unmarshalID((*uuid.UUID)(id), text) }

// NewSampleRequestID mints a fresh request identifier.
func NewSampleRequestID() SampleRequestID { return SampleRequestID(uuid.New()) }

// NewSampleID mints a fresh specimen identifier.
func NewSampleID() SampleID { return SampleID(uuid.New()) }

// NewReportID mints a fresh report identifier.
func NewReportID() ReportID { return ReportID(uuid.New()) }
