package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"debt-titles/internal/domain"

	"github.com/google/uuid"
)

// MemoryDebtTitleRepository keeps copies of aggregates in memory. Used by
// tests and local runs without Postgres.
type MemoryDebtTitleRepository struct {
	mu     sync.RWMutex
	titles map[uuid.UUID]*domain.DebtTitle
}

func NewMemoryDebtTitleRepository() *MemoryDebtTitleRepository {
	return &MemoryDebtTitleRepository{titles: make(map[uuid.UUID]*domain.DebtTitle)}
}

func cloneTitle(t *domain.DebtTitle) *domain.DebtTitle {
	debtor := t.Debtor()
	c, err := domain.RestoreDebtTitle(
		t.ID(),
		t.TitleNumber(),
		t.OriginalValue(),
		t.DueDate(),
		t.InterestRatePerDay(),
		t.PenaltyRate(),
		debtor.Name(),
		debtor.Document().Value(),
		t.CreatedAt(),
		t.Installments(),
	)
	if err != nil {
		// the debtor was validated when t was built
		panic(err)
	}
	return c
}

func (r *MemoryDebtTitleRepository) Load(_ context.Context, id uuid.UUID) (*domain.DebtTitle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.titles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneTitle(t), nil
}

func (r *MemoryDebtTitleRepository) LoadAll(_ context.Context) ([]*domain.DebtTitle, error) {
	return r.filter(func(*domain.DebtTitle) bool { return true }), nil
}

func (r *MemoryDebtTitleRepository) LoadByDebtorDocument(_ context.Context, doc domain.Document) ([]*domain.DebtTitle, error) {
	return r.filter(func(t *domain.DebtTitle) bool {
		return t.Debtor().Document() == doc
	}), nil
}

func (r *MemoryDebtTitleRepository) filter(keep func(*domain.DebtTitle) bool) []*domain.DebtTitle {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.DebtTitle
	for _, t := range r.titles {
		if keep(t) {
			out = append(out, cloneTitle(t))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].TitleNumber() < out[j].TitleNumber()
		}
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out
}

func (r *MemoryDebtTitleRepository) LoadOverdueInstallments(_ context.Context, asOf time.Time) ([]domain.Installment, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []domain.Installment
	for _, t := range r.titles {
		for _, in := range t.Installments() {
			if in.IsOverdue(asOf) {
				out = append(out, in)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].DueDate().Equal(out[j].DueDate()) {
			return out[i].DueDate().Before(out[j].DueDate())
		}
		return out[i].Number() < out[j].Number()
	})
	return out, nil
}

func (r *MemoryDebtTitleRepository) Save(_ context.Context, title *domain.DebtTitle) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.titles {
		if id != title.ID() && t.TitleNumber() == title.TitleNumber() {
			return ErrDuplicateTitleNumber
		}
	}
	seen := map[int]bool{}
	for _, in := range title.Installments() {
		if seen[in.Number()] {
			return ErrDuplicateInstallmentNumber
		}
		seen[in.Number()] = true
	}

	r.titles[title.ID()] = cloneTitle(title)
	return nil
}

func (r *MemoryDebtTitleRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.titles[id]; !ok {
		return ErrNotFound
	}
	delete(r.titles, id)
	return nil
}

func (r *MemoryDebtTitleRepository) Exists(_ context.Context, id uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.titles[id]
	return ok, nil
}

func (r *MemoryDebtTitleRepository) Count(_ context.Context) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return int64(len(r.titles)), nil
}
