// Package notify defines the notification dispatch contract. Delivery
// mechanics (SMS, push, in-app) live behind the Dispatcher interface and are
// out of scope for this engine; the default implementation is the
// transactional outbox in notify/outbox.
package notify

import (
	"context"
	"time"

	id "residuechain/pkg/domain"
)

// Category is the coarse notification class.
type Category string

const (
	CategoryAlert    Category = "alert"
	CategoryReminder Category = "reminder"
	CategoryInfo     Category = "info"
)

// Subtypes label why a notification fired. Consumers route on these.
const (
	SubtypeSampleRequestAssigned = "sample_request_assigned"
	SubtypeSampleCollected       = "sample_collected"
	SubtypeSafeToUse             = "safe_to_use"
	SubtypeUnsafeResidue         = "unsafe_residue"
	SubtypeCollectionDue         = "collection_due"
	SubtypeCollectionOverdue     = "collection_overdue"
	SubtypeTamperDetected        = "tamper_detected"
)

// Notification is one message for one recipient, plus the entity references
// a consumer needs to deep-link it.
type Notification struct {
	UserID          id.UserID          `json:"user_id"`
	Category        Category           `json:"category"`
	Subtype         string             `json:"subtype"`
	Message         string             `json:"message"`
	EntityID        id.EntityID        `json:"entity_id"`
	TreatmentID     id.TreatmentID     `json:"treatment_id"`
	SampleRequestID id.SampleRequestID `json:"sample_request_id"`
	CreatedAt       time.Time          `json:"created_at"`
}

// Dispatcher accepts notifications for delivery. Send must be cheap and must
// not fail the caller's state transition: implementations queue rather than
// deliver inline.
type Dispatcher interface {
	Send(ctx context.Context, n Notification) error
}

// AuthorityDirectory lists the authority accounts that receive regulatory
// alerts. Backed by the external user service; faked in tests.
type AuthorityDirectory interface {
	ListAuthorityUsers(ctx context.Context) ([]id.UserID, error)
}

// StaticAuthorities is an AuthorityDirectory with a fixed membership, used
// when the deployment configures authority accounts by hand instead of
// querying the user service.
type StaticAuthorities []id.UserID

func (s StaticAuthorities) ListAuthorityUsers(context.Context) ([]id.UserID, error) {
	out := make([]id.UserID, len(s))
	copy(out, s)
	return out, nil
}

// ParseAuthorities builds a StaticAuthorities from textual user IDs,
// rejecting the whole list on the first malformed entry.
func ParseAuthorities(raw []string) (StaticAuthorities, error) {
	out := make(StaticAuthorities, 0, len(raw))
	for _, r := range raw {
		uid, err := id.ParseUserID(r)
		if err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
	return out, nil
}
