package labdirectory

import (
	"context"
	"sort"
	"strings"
	"sync"

	id "residuechain/pkg/domain"
	"residuechain/pkg/platform/sentinel"
)

type InMemoryDirectory struct {
	mu   sync.RWMutex
	labs map[id.LabID]Laboratory
}

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{labs: make(map[id.LabID]Laboratory)}
}

func (d *InMemoryDirectory) Register(_ context.Context, lab Laboratory) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.labs[lab.ID]; exists {
		return sentinel.ErrConflict
	}
	d.labs[lab.ID] = lab
	return nil
}

func (d *InMemoryDirectory) Get(_ context.Context, labID id.LabID) (Laboratory, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	lab, ok := d.labs[labID]
	if !ok {
		return Laboratory{}, sentinel.ErrNotFound
	}
	return lab, nil
}

func (d *InMemoryDirectory) ListByTaluk(_ context.Context, taluk string) ([]Laboratory, error) {
	return d.filter(func(l Laboratory) bool { return strings.EqualFold(l.Taluk, taluk) }), nil
}

func (d *InMemoryDirectory) ListByDistrict(_ context.Context, district string) ([]Laboratory, error) {
	return d.filter(func(l Laboratory) bool { return strings.EqualFold(l.District, district) }), nil
}

func (d *InMemoryDirectory) ListByState(_ context.Context, state string) ([]Laboratory, error) {
	return d.filter(func(l Laboratory) bool { return strings.EqualFold(l.State, state) }), nil
}

func (d *InMemoryDirectory) ListAll(_ context.Context) ([]Laboratory, error) {
	return d.filter(func(Laboratory) bool { return true }), nil
}

func (d *InMemoryDirectory) filter(keep func(Laboratory) bool) []Laboratory {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Laboratory
	for _, lab := range d.labs {
		if keep(lab) {
			out = append(out, lab)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out
}
