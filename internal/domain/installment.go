package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Installment is one scheduled payment of a DebtTitle. It is only created
// through its owning title; DebtTitleID is a back-reference for lookups.
type Installment struct {
	id                uuid.UUID
	debtTitleID       uuid.UUID
	installmentNumber int
	value             decimal.Decimal
	dueDate           time.Time
	isPaid            bool
	paidAt            *time.Time
}

func newInstallment(titleID uuid.UUID, number int, value decimal.Decimal, dueDate time.Time) (Installment, error) {
	if number <= 0 {
		return Installment{}, invalid("installment_number", "installment number must be positive")
	}
	if !value.IsPositive() {
		return Installment{}, invalid("value", "installment value must be positive")
	}
	return Installment{
		id:                uuid.New(),
		debtTitleID:       titleID,
		installmentNumber: number,
		value:             value,
		dueDate:           DateOnly(dueDate),
	}, nil
}

// RestoreInstallment rebuilds a persisted installment. paidAt is kept only when isPaid is set.
func RestoreInstallment(id, titleID uuid.UUID, number int, value decimal.Decimal, dueDate time.Time, isPaid bool, paidAt *time.Time) Installment {
	in := Installment{
		id:                id,
		debtTitleID:       titleID,
		installmentNumber: number,
		value:             value,
		dueDate:           DateOnly(dueDate),
		isPaid:            isPaid,
	}
	if isPaid {
		if paidAt != nil {
			p := paidAt.UTC()
			in.paidAt = &p
		} else {
			p := time.Now().UTC()
			in.paidAt = &p
		}
	}
	return in
}

func (i Installment) ID() uuid.UUID { return i.id }
func (i Installment) DebtTitleID() uuid.UUID { return i.debtTitleID }
func (i Installment) Number() int { return i.installmentNumber }
func (i Installment) Value() decimal.Decimal { return i.value }
func (i Installment) DueDate() time.Time { return i.dueDate }
func (i Installment) IsPaid() bool { return i.isPaid }

func (i Installment) PaidAt() *time.Time {
	if i.paidAt == nil {
		return nil
	}
	p := *i.paidAt
	return &p
}

// IsOverdue is true when the installment is unpaid and its due date is strictly before asOf.
func (i Installment) IsOverdue(asOf time.Time) bool {
	if i.isPaid {
		return false
	}
	return daysBetween(i.dueDate, resolveAsOf(asOf)) > 0
}

func (i Installment) GetDaysOverdue(asOf time.Time) int {
	if !i.IsOverdue(asOf) {
		return 0
	}
	return daysBetween(i.dueDate, resolveAsOf(asOf))
}

// CalculateInterest applies simple interest at monthlyRate/30 per day overdue.
func (i Installment) CalculateInterest(monthlyRate decimal.Decimal, asOf time.Time) decimal.Decimal {
	days := i.GetDaysOverdue(asOf)
	if days == 0 {
		return decimal.Zero
	}
	// divide last so the rate keeps its full scale
	return monthlyRate.Mul(decimal.NewFromInt(int64(days))).Mul(i.value).Div(decimal.NewFromInt(daysPerMonth))
}

// CalculateUpdatedValue charges the penalty on this installment alone when it is overdue.
func (i Installment) CalculateUpdatedValue(monthlyRate, penaltyRate decimal.Decimal, asOf time.Time) decimal.Decimal {
	total := i.value.Add(i.CalculateInterest(monthlyRate, asOf))
	if i.IsOverdue(asOf) {
		total = total.Add(i.value.Mul(penaltyRate))
	}
	return total
}

// MarkAsPaid stamps paidAt with now in UTC. A paid installment is left untouched.
func (i *Installment) MarkAsPaid(now time.Time) error {
	if i.isPaid {
		return ErrInstallmentAlreadyPaid
	}
	p := resolveAsOf(now).UTC()
	i.isPaid = true
	i.paidAt = &p
	return nil
}

func (i *Installment) MarkAsUnpaid() {
	i.isPaid = false
	i.paidAt = nil
}
