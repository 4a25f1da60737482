package sample

import (
	"time"

	id "residuechain/pkg/domain"
)

// State of a sample request. The lifecycle is linear; approved may be
// skipped when a laboratory collects directly.
type State string

const (
	StateRequested State = "requested"
	StateApproved  State = "approved"
	StateCollected State = "collected"
	StateTested    State = "tested"
)

// validNext is the single transition table for the lifecycle.
var validNext = map[State][]State{
	StateRequested: {StateApproved, StateCollected},
	StateApproved:  {StateCollected},
	StateCollected: {StateTested},
	StateTested:    {},
}

// CanTransition reports whether from -> to is a legal transition.
func CanTransition(from, to State) bool {
	for _, s := range validNext[from] {
		if s == to {
			return true
		}
	}
	return false
}

// StateChange records one entry of a request's state history.
type StateChange struct {
	State State     `json:"state"`
	At    time.Time `json:"at"`
}

// SampleRequest is the stateful record tying a treatment to its assigned
// laboratory. At most one request exists per treatment.
type SampleRequest struct {
	ID           id.SampleRequestID
	TreatmentID  id.TreatmentID
	EntityID     id.EntityID
	FarmerID     id.FarmerID
	LabID        id.LabID
	SafeDate     time.Time
	State        State
	StateHistory []StateChange
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Sample is the physical specimen. Exactly one per request.
type Sample struct {
	ID              id.SampleID
	SampleRequestID id.SampleRequestID
	SampleType      string
	CollectedBy     id.LabID
	CollectedAt     time.Time
}

// ReportStatus is the laboratory's final verdict.
type ReportStatus string

const (
	ReportSafe   ReportStatus = "safe"
	ReportUnsafe ReportStatus = "unsafe"
)

// LabReport is the terminal artifact of the lifecycle. Exactly one per
// sample.
type LabReport struct {
	ID              id.ReportID
	SampleID        id.SampleID
	SampleRequestID id.SampleRequestID
	LabID           id.LabID
	DetectedResidue float64
	LegalLimit      float64
	FinalStatus     ReportStatus
	TestedAt        time.Time

	// AuthorityAlerted records that authority accounts were notified about
	// this report, whether synchronously at test time or by a later sweep.
	AuthorityAlerted bool
}
