package memory

import (
	"cmp"
	"context"
	"slices"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/documents"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

type documentRepo struct{ u *unit }

func (r documentRepo) Get(_ context.Context, id uuid.UUID) (documents.Document, error) {
	return r.load(id)
}

// GetForUpdate relies on the caller holding the document key.
func (r documentRepo) GetForUpdate(_ context.Context, id uuid.UUID) (documents.Document, error) {
	return r.load(id)
}

func (r documentRepo) load(id uuid.UUID) (documents.Document, error) {
	if d, ok := r.u.docs[id]; ok {
		return cloneDocument(d), nil
	}
	r.u.s.mu.RLock()
	d, ok := r.u.s.docs[id]
	r.u.s.mu.RUnlock()
	if !ok {
		return documents.Document{}, shared.NotFound("document", id)
	}
	return cloneDocument(d), nil
}

func (r documentRepo) Insert(ctx context.Context, d documents.Document) (documents.Document, error) {
	if err := r.claimNumber(ctx, d.ID, d.Number); err != nil {
		return documents.Document{}, err
	}
	r.assignLineIDs(&d)
	r.u.docs[d.ID] = cloneDocument(d)
	return d, nil
}

func (r documentRepo) Update(ctx context.Context, d documents.Document) (documents.Document, error) {
	if _, err := r.load(d.ID); err != nil {
		return documents.Document{}, err
	}
	if err := r.claimNumber(ctx, d.ID, d.Number); err != nil {
		return documents.Document{}, err
	}
	r.assignLineIDs(&d)
	d.Version++
	r.u.docs[d.ID] = cloneDocument(d)
	return d, nil
}

// claimNumber locks the number and fails when another document owns it.
func (r documentRepo) claimNumber(ctx context.Context, id uuid.UUID, number string) error {
	if err := r.u.LockKeys(ctx, "document-number:"+number); err != nil {
		return err
	}
	for other, d := range r.u.docs {
		if other != id && d.Number == number {
			return documents.ErrDuplicateNumber
		}
	}
	r.u.s.mu.RLock()
	owner, ok := r.u.s.docNumber[number]
	r.u.s.mu.RUnlock()
	if ok && owner != id {
		// The committed owner may have been renumbered in this unit of work.
		if staged, isStaged := r.u.docs[owner]; !isStaged || staged.Number == number {
			return documents.ErrDuplicateNumber
		}
	}
	return nil
}

func (r documentRepo) assignLineIDs(d *documents.Document) {
	for i := range d.Lines {
		if d.Lines[i].ID == 0 {
			d.Lines[i].ID = r.u.s.docLineSeq.Add(1)
		}
	}
}

func (r documentRepo) List(_ context.Context, f documents.ListFilter) ([]documents.Document, error) {
	r.u.s.mu.RLock()
	merged := make(map[uuid.UUID]documents.Document, len(r.u.s.docs))
	for id, d := range r.u.s.docs {
		merged[id] = d
	}
	r.u.s.mu.RUnlock()
	for id, d := range r.u.docs {
		merged[id] = d
	}
	out := make([]documents.Document, 0, len(merged))
	for _, d := range merged {
		switch {
		case f.Kind != "" && d.Kind != f.Kind:
			continue
		case f.Status != "" && d.Status != f.Status:
			continue
		case !f.DateFrom.IsZero() && d.Date.Before(f.DateFrom):
			continue
		case !f.DateTo.IsZero() && d.Date.After(f.DateTo):
			continue
		}
		out = append(out, cloneDocument(d))
	}
	slices.SortFunc(out, func(a, b documents.Document) int {
		return cmp.Or(b.Date.Compare(a.Date), b.CreatedAt.Compare(a.CreatedAt), cmp.Compare(a.Number, b.Number))
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func cloneDocument(d documents.Document) documents.Document {
	d.Lines = slices.Clone(d.Lines)
	for i := range d.Lines {
		d.Lines[i].Serials = slices.Clone(d.Lines[i].Serials)
	}
	return d
}
