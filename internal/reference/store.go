package reference

import (
	"context"
)

// Store is the read-only lookup used by the predictor. Implementations must
// be safe for concurrent use.
type Store interface {
	// Lookup returns the reference record for a species/category/medicine
	// triple, or sentinel.ErrNotFound when the triple is not on record.
	Lookup(ctx context.Context, species, category, medicine string) (MedicineReference, error)
}
