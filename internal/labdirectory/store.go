package labdirectory

import (
	"context"

	id "residuechain/pkg/domain"
)

// Directory lists registered laboratories by geographic tier.
//
// Implementations must return laboratories ordered by ID ascending: the
// resolver takes the first match per tier, and the ordering is what makes
// that choice deterministic.
type Directory interface {
	ListByTaluk(ctx context.Context, taluk string) ([]Laboratory, error)
	ListByDistrict(ctx context.Context, district string) ([]Laboratory, error)
	ListByState(ctx context.Context, state string) ([]Laboratory, error)
	ListAll(ctx context.Context) ([]Laboratory, error)
	Get(ctx context.Context, labID id.LabID) (Laboratory, error)
	Register(ctx context.Context, lab Laboratory) error
}
