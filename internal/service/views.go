package service

import (
	"time"

	"debt-titles/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type DebtorView struct {
	Name              string              `json:"name"`
	Document          string              `json:"document"`
	DocumentFormatted string              `json:"document_formatted"`
	DocumentType      domain.DocumentType `json:"document_type"`
}

type InstallmentView struct {
	ID                uuid.UUID       `json:"id"`
	DebtTitleID       uuid.UUID       `json:"debt_title_id"`
	InstallmentNumber int             `json:"installment_number"`
	Value             decimal.Decimal `json:"value"`
	DueDate           string          `json:"due_date"`
	IsPaid            bool            `json:"is_paid"`
	PaidAt            *time.Time      `json:"paid_at"`
	IsOverdue         bool            `json:"is_overdue"`
	DaysOverdue       int             `json:"days_overdue"`
	Interest          decimal.Decimal `json:"interest"`
	UpdatedValue      decimal.Decimal `json:"updated_value"`
}

type TitleView struct {
	ID                  uuid.UUID         `json:"id"`
	TitleNumber         string            `json:"title_number"`
	OriginalValue       decimal.Decimal   `json:"original_value"`
	DueDate             string            `json:"due_date"`
	InterestRatePerDay  decimal.Decimal   `json:"interest_rate_per_day"`
	PenaltyRate         decimal.Decimal   `json:"penalty_rate"`
	Debtor              DebtorView        `json:"debtor"`
	CreatedAt           time.Time         `json:"created_at"`
	Interest            decimal.Decimal   `json:"interest"`
	Penalty             decimal.Decimal   `json:"penalty"`
	UpdatedValue        decimal.Decimal   `json:"updated_value"`
	DaysOverdue         int               `json:"days_overdue"`
	PaidInstallments    int               `json:"paid_installments"`
	OverdueInstallments int               `json:"overdue_installments"`
	Installments        []InstallmentView `json:"installments"`
	AsOf                string            `json:"as_of"`
}

func (s *DebtTitleService) view(t *domain.DebtTitle, asOf time.Time) TitleView {
	asOf = s.asOf(asOf)
	s.metrics.IncValuation(t.HasInstallments())
	return titleView(t, asOf)
}

func titleView(t *domain.DebtTitle, asOf time.Time) TitleView {
	v := t.Valuate(asOf)
	debtor := t.Debtor()

	tv := TitleView{
		ID:                 t.ID(),
		TitleNumber:        t.TitleNumber(),
		OriginalValue:      t.OriginalValue(),
		DueDate:            t.DueDate().Format(dateLayout),
		InterestRatePerDay: t.InterestRatePerDay(),
		PenaltyRate:        t.PenaltyRate(),
		Debtor: DebtorView{
			Name:              debtor.Name(),
			Document:          debtor.Document().Value(),
			DocumentFormatted: debtor.Document().Formatted(),
			DocumentType:      debtor.Document().Type(),
		},
		CreatedAt:    t.CreatedAt(),
		Interest:     v.Interest,
		Penalty:      v.Penalty,
		UpdatedValue: v.Total,
		DaysOverdue:  t.DaysOverdue(asOf),
		Installments: []InstallmentView{},
		AsOf:         asOf.Format(dateLayout),
	}
	for _, in := range t.Installments() {
		iv := installmentView(in, t, asOf)
		if iv.IsPaid {
			tv.PaidInstallments++
		}
		if iv.IsOverdue {
			tv.OverdueInstallments++
		}
		tv.Installments = append(tv.Installments, iv)
	}
	return tv
}

// installmentView values in with the owning title's monthly rate and per-installment penalty.
func installmentView(in domain.Installment, t *domain.DebtTitle, asOf time.Time) InstallmentView {
	monthly := t.MonthlyInterestRate()
	return InstallmentView{
		ID:                in.ID(),
		DebtTitleID:       in.DebtTitleID(),
		InstallmentNumber: in.Number(),
		Value:             in.Value(),
		DueDate:           in.DueDate().Format(dateLayout),
		IsPaid:            in.IsPaid(),
		PaidAt:            in.PaidAt(),
		IsOverdue:         in.IsOverdue(asOf),
		DaysOverdue:       in.GetDaysOverdue(asOf),
		Interest:          in.CalculateInterest(monthly, asOf),
		UpdatedValue:      in.CalculateUpdatedValue(monthly, t.PenaltyRate(), asOf),
	}
}
