package labdirectory

import (
	"context"

	dErrors "residuechain/pkg/domain-errors"
)

// Resolver picks the laboratory for a location. Pure lookup: no load
// balancing, no capacity awareness.
type Resolver struct {
	directory Directory
}

func NewResolver(directory Directory) *Resolver {
	return &Resolver{directory: directory}
}

// Resolve walks the geographic hierarchy taluk -> district -> state -> any
// and returns the first laboratory found. Ties within a tier go to the
// lowest laboratory ID (the directory returns labs in ID order).
// An empty directory yields CodeNoLaboratoryAvailable.
func (r *Resolver) Resolve(ctx context.Context, loc Location) (Laboratory, error) {
	tiers := []func() ([]Laboratory, error){
		func() ([]Laboratory, error) {
			if loc.Taluk == "" {
				return nil, nil
			}
			return r.directory.ListByTaluk(ctx, loc.Taluk)
		},
		func() ([]Laboratory, error) {
			if loc.District == "" {
				return nil, nil
			}
			return r.directory.ListByDistrict(ctx, loc.District)
		},
		func() ([]Laboratory, error) {
			if loc.State == "" {
				return nil, nil
			}
			return r.directory.ListByState(ctx, loc.State)
		},
		func() ([]Laboratory, error) { return r.directory.ListAll(ctx) },
	}

	for _, tier := range tiers {
		labs, err := tier()
		if err != nil {
			return Laboratory{}, err
		}
		if len(labs) > 0 {
			return labs[0], nil
		}
	}
	return Laboratory{}, dErrors.New(dErrors.CodeNoLaboratoryAvailable, "no registered laboratory can serve this location")
}
