package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"debt-titles/internal/domain"
	"debt-titles/internal/metrics"
	"debt-titles/internal/repository"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DebtTitleRepository interface {
	Load(ctx context.Context, id uuid.UUID) (*domain.DebtTitle, error)
	LoadAll(ctx context.Context) ([]*domain.DebtTitle, error)
	LoadByDebtorDocument(ctx context.Context, doc domain.Document) ([]*domain.DebtTitle, error)
	LoadOverdueInstallments(ctx context.Context, asOf time.Time) ([]domain.Installment, error)
	Save(ctx context.Context, title *domain.DebtTitle) error
	Delete(ctx context.Context, id uuid.UUID) error
	Exists(ctx context.Context, id uuid.UUID) (bool, error)
	Count(ctx context.Context) (int64, error)
}

type InstallmentNotifier interface {
	NotifyInstallmentStatus(ctx context.Context, userID int64, titleID, installmentID string, number int, paid bool) error
}

var ErrTitleNotFound = errors.New("debt title not found")

type InstallmentInput struct {
	Number  int
	Value   decimal.Decimal
	DueDate time.Time
}

// CreateTitleInput creates a title with either explicit Installments or an
// equal split of InstallmentCount starting at FirstInstallmentDue.
type CreateTitleInput struct {
	TitleNumber         string
	OriginalValue       decimal.Decimal
	DueDate             time.Time
	InterestRatePerDay  decimal.Decimal
	PenaltyRate         decimal.Decimal
	DebtorName          string
	DebtorDocument      string
	Installments        []InstallmentInput
	InstallmentCount    int
	FirstInstallmentDue time.Time
}

type DebtTitleService struct {
	repo    DebtTitleRepository
	ws      InstallmentNotifier
	metrics *metrics.Metrics
	now     func() time.Time

	locksMu sync.Mutex
	locks   map[uuid.UUID]*titleLock
}

// titleLock is dropped from the map once its last holder or waiter releases it.
type titleLock struct {
	mu   sync.Mutex
	refs int
}

func NewDebtTitleService(repo DebtTitleRepository, ws InstallmentNotifier, m *metrics.Metrics) *DebtTitleService {
	return &DebtTitleService{
		repo:    repo,
		ws:      ws,
		metrics: m,
		now:     time.Now,
		locks:   make(map[uuid.UUID]*titleLock),
	}
}

// WithClock replaces the wall clock used when asOf is zero and for paidAt stamps.
func (s *DebtTitleService) WithClock(now func() time.Time) *DebtTitleService {
	s.now = now
	return s
}

func (s *DebtTitleService) asOf(t time.Time) time.Time {
	if t.IsZero() {
		return s.now()
	}
	return t
}

// lock serializes mutations of one title.
func (s *DebtTitleService) lock(id uuid.UUID) func() {
	s.locksMu.Lock()
	l, ok := s.locks[id]
	if !ok {
		l = &titleLock{}
		s.locks[id] = l
	}
	l.refs++
	s.locksMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.locksMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.locksMu.Unlock()
	}
}

func (s *DebtTitleService) load(ctx context.Context, id uuid.UUID) (*domain.DebtTitle, error) {
	title, err := s.repo.Load(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, ErrTitleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load title %s: %w", id, err)
	}
	return title, nil
}

func (s *DebtTitleService) Create(ctx context.Context, in CreateTitleInput) (TitleView, error) {
	title, err := domain.NewDebtTitle(domain.NewTitleParams{
		TitleNumber:        in.TitleNumber,
		OriginalValue:      in.OriginalValue,
		DueDate:            in.DueDate,
		InterestRatePerDay: in.InterestRatePerDay,
		PenaltyRate:        in.PenaltyRate,
		DebtorName:         in.DebtorName,
		DebtorDocument:     in.DebtorDocument,
	})
	if err != nil {
		return TitleView{}, err
	}

	switch {
	case len(in.Installments) > 0 && in.InstallmentCount > 0:
		return TitleView{}, &domain.ValidationError{Field: "installments", Message: "send either installments or installment_count"}
	case len(in.Installments) > 0:
		seen := map[int]bool{}
		for _, item := range in.Installments {
			if seen[item.Number] {
				return TitleView{}, &domain.ValidationError{
					Field:   "installments",
					Message: fmt.Sprintf("installment number %d is repeated", item.Number),
				}
			}
			seen[item.Number] = true
			if _, err := title.AddInstallment(item.Number, item.Value, item.DueDate); err != nil {
				return TitleView{}, err
			}
		}
	case in.InstallmentCount > 0:
		first := in.FirstInstallmentDue
		if first.IsZero() {
			first = title.DueDate()
		}
		if _, err := title.SplitInstallments(in.InstallmentCount, first); err != nil {
			return TitleView{}, err
		}
	}

	if err := s.repo.Save(ctx, title); err != nil {
		return TitleView{}, fmt.Errorf("save title: %w", err)
	}
	s.metrics.IncTitleCreated()

	return s.view(title, time.Time{}), nil
}

func (s *DebtTitleService) Get(ctx context.Context, id uuid.UUID, asOf time.Time) (TitleView, error) {
	title, err := s.load(ctx, id)
	if err != nil {
		return TitleView{}, err
	}
	return s.view(title, asOf), nil
}

// List returns every title, or only the debtor's titles when document is set.
func (s *DebtTitleService) List(ctx context.Context, document string, asOf time.Time) ([]TitleView, error) {
	var (
		titles []*domain.DebtTitle
		err    error
	)
	if document == "" {
		titles, err = s.repo.LoadAll(ctx)
	} else {
		doc, derr := domain.NewDocument(document)
		if derr != nil {
			return nil, derr
		}
		titles, err = s.repo.LoadByDebtorDocument(ctx, doc)
	}
	if err != nil {
		return nil, fmt.Errorf("list titles: %w", err)
	}

	out := make([]TitleView, 0, len(titles))
	for _, t := range titles {
		out = append(out, s.view(t, asOf))
	}
	return out, nil
}

func (s *DebtTitleService) Update(ctx context.Context, id uuid.UUID, u domain.TitleUpdate) (TitleView, error) {
	defer s.lock(id)()

	title, err := s.load(ctx, id)
	if err != nil {
		return TitleView{}, err
	}
	if err := title.UpdateComplete(u); err != nil {
		return TitleView{}, err
	}
	if err := s.repo.Save(ctx, title); err != nil {
		return TitleView{}, fmt.Errorf("save title: %w", err)
	}
	return s.view(title, time.Time{}), nil
}

func (s *DebtTitleService) Delete(ctx context.Context, id uuid.UUID) error {
	defer s.lock(id)()

	ok, err := s.repo.Exists(ctx, id)
	if err != nil {
		return fmt.Errorf("check title %s: %w", id, err)
	}
	if !ok {
		return ErrTitleNotFound
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return ErrTitleNotFound
		}
		return fmt.Errorf("delete title %s: %w", id, err)
	}
	s.metrics.IncTitleDeleted()
	return nil
}

// AddInstallment appends one installment. A zero number takes the next free one.
func (s *DebtTitleService) AddInstallment(ctx context.Context, titleID uuid.UUID, in InstallmentInput) (TitleView, error) {
	defer s.lock(titleID)()

	title, err := s.load(ctx, titleID)
	if err != nil {
		return TitleView{}, err
	}

	next := 1
	for _, existing := range title.Installments() {
		if existing.Number() == in.Number {
			return TitleView{}, &domain.ValidationError{
				Field:   "installment_number",
				Message: fmt.Sprintf("installment number %d already exists", in.Number),
			}
		}
		if existing.Number() >= next {
			next = existing.Number() + 1
		}
	}
	number := in.Number
	if number == 0 {
		number = next
	}

	if _, err := title.AddInstallment(number, in.Value, in.DueDate); err != nil {
		return TitleView{}, err
	}
	if err := s.repo.Save(ctx, title); err != nil {
		return TitleView{}, fmt.Errorf("save title: %w", err)
	}
	return s.view(title, time.Time{}), nil
}

func (s *DebtTitleService) MarkInstallmentPaid(ctx context.Context, userID int64, titleID, installmentID uuid.UUID) (InstallmentView, error) {
	return s.setInstallmentPaid(ctx, userID, titleID, installmentID, true)
}

func (s *DebtTitleService) MarkInstallmentUnpaid(ctx context.Context, userID int64, titleID, installmentID uuid.UUID) (InstallmentView, error) {
	return s.setInstallmentPaid(ctx, userID, titleID, installmentID, false)
}

func (s *DebtTitleService) setInstallmentPaid(ctx context.Context, userID int64, titleID, installmentID uuid.UUID, paid bool) (InstallmentView, error) {
	defer s.lock(titleID)()

	title, err := s.load(ctx, titleID)
	if err != nil {
		return InstallmentView{}, err
	}

	var in domain.Installment
	if paid {
		in, err = title.MarkInstallmentPaid(installmentID, s.now())
	} else {
		in, err = title.MarkInstallmentUnpaid(installmentID)
	}
	if err != nil {
		return InstallmentView{}, err
	}

	if err := s.repo.Save(ctx, title); err != nil {
		return InstallmentView{}, fmt.Errorf("save title: %w", err)
	}
	s.metrics.IncInstallmentStatus(paid)

	if s.ws != nil {
		if err := s.ws.NotifyInstallmentStatus(ctx, userID, titleID.String(), installmentID.String(), in.Number(), paid); err != nil {
			log.Printf("[WS] notify installment %s: %v", installmentID, err)
		}
	}

	return installmentView(in, title, s.asOf(time.Time{})), nil
}

// OverdueInstallments lists unpaid installments due before asOf, valued with
// their owning title's rates.
func (s *DebtTitleService) OverdueInstallments(ctx context.Context, asOf time.Time) ([]InstallmentView, error) {
	asOf = s.asOf(asOf)

	items, err := s.repo.LoadOverdueInstallments(ctx, asOf)
	if err != nil {
		return nil, fmt.Errorf("load overdue installments: %w", err)
	}

	titles := map[uuid.UUID]*domain.DebtTitle{}
	out := make([]InstallmentView, 0, len(items))
	for _, in := range items {
		title, ok := titles[in.DebtTitleID()]
		if !ok {
			title, err = s.load(ctx, in.DebtTitleID())
			if errors.Is(err, ErrTitleNotFound) {
				continue
			}
			if err != nil {
				return nil, err
			}
			titles[in.DebtTitleID()] = title
		}
		out = append(out, installmentView(in, title, asOf))
	}
	return out, nil
}

type Stats struct {
	TitleCount          int64           `json:"title_count"`
	OverdueTitles       int             `json:"overdue_titles"`
	OverdueInstallments int             `json:"overdue_installments"`
	TotalOriginal       decimal.Decimal `json:"total_original"`
	TotalUpdated        decimal.Decimal `json:"total_updated"`
	AsOf                string          `json:"as_of"`
}

func (s *DebtTitleService) Stats(ctx context.Context, asOf time.Time) (Stats, error) {
	asOf = s.asOf(asOf)

	count, err := s.repo.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("count titles: %w", err)
	}
	titles, err := s.repo.LoadAll(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list titles: %w", err)
	}

	st := Stats{
		TitleCount:    count,
		TotalOriginal: decimal.Zero,
		TotalUpdated:  decimal.Zero,
		AsOf:          asOf.Format(dateLayout),
	}
	for _, t := range titles {
		v := t.Valuate(asOf)
		s.metrics.IncValuation(t.HasInstallments())
		st.TotalOriginal = st.TotalOriginal.Add(v.Original)
		st.TotalUpdated = st.TotalUpdated.Add(v.Total)
		if t.DaysOverdue(asOf) > 0 {
			st.OverdueTitles++
		}
		for _, in := range t.Installments() {
			if in.IsOverdue(asOf) {
				st.OverdueInstallments++
			}
		}
	}
	return st, nil
}

// ValidateDocument reports whether raw is a valid CPF or CNPJ and, if so, its type.
func ValidateDocument(raw string) (valid bool, docType domain.DocumentType, formatted string) {
	doc, err := domain.NewDocument(raw)
	if err != nil {
		return false, "", ""
	}
	return true, doc.Type(), doc.Formatted()
}
