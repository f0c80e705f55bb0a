package domain

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const titleNumberMax = 50

// DebtTitle is the aggregate root: it owns its Debtor and its Installments.
// Callers must serialize concurrent mutation of the same title.
type DebtTitle struct {
	id                 uuid.UUID
	titleNumber        string
	originalValue      decimal.Decimal
	dueDate            time.Time
	interestRatePerDay decimal.Decimal
	penaltyRate        decimal.Decimal
	debtor             Debtor
	createdAt          time.Time
	installments       []Installment
}

// NewTitleParams carries already-parsed input for NewDebtTitle.
type NewTitleParams struct {
	TitleNumber        string
	OriginalValue      decimal.Decimal
	DueDate            time.Time
	InterestRatePerDay decimal.Decimal
	PenaltyRate        decimal.Decimal
	DebtorName         string
	DebtorDocument     string
}

func NewDebtTitle(p NewTitleParams) (*DebtTitle, error) {
	number, err := checkTitleNumber(p.TitleNumber)
	if err != nil {
		return nil, err
	}
	if err := checkOriginalValue(p.OriginalValue); err != nil {
		return nil, err
	}
	if err := checkRate("interest_rate_per_day", p.InterestRatePerDay); err != nil {
		return nil, err
	}
	if err := checkRate("penalty_rate", p.PenaltyRate); err != nil {
		return nil, err
	}
	debtor, err := NewDebtor(p.DebtorName, p.DebtorDocument)
	if err != nil {
		return nil, err
	}

	return &DebtTitle{
		id:                 uuid.New(),
		titleNumber:        number,
		originalValue:      p.OriginalValue,
		dueDate:            DateOnly(p.DueDate),
		interestRatePerDay: p.InterestRatePerDay,
		penaltyRate:        p.PenaltyRate,
		debtor:             debtor,
		createdAt:          time.Now().UTC(),
	}, nil
}

// RestoreDebtTitle rebuilds a persisted aggregate keeping its id and createdAt.
// Installments are sorted by number.
func RestoreDebtTitle(
	id uuid.UUID,
	titleNumber string,
	originalValue decimal.Decimal,
	dueDate time.Time,
	interestRatePerDay, penaltyRate decimal.Decimal,
	debtorName, debtorDocument string,
	createdAt time.Time,
	installments []Installment,
) (*DebtTitle, error) {
	debtor, err := NewDebtor(debtorName, debtorDocument)
	if err != nil {
		return nil, fmt.Errorf("restore debt title %s: %w", id, err)
	}

	items := make([]Installment, len(installments))
	copy(items, installments)
	sort.SliceStable(items, func(a, b int) bool {
		return items[a].installmentNumber < items[b].installmentNumber
	})

	return &DebtTitle{
		id:                 id,
		titleNumber:        titleNumber,
		originalValue:      originalValue,
		dueDate:            DateOnly(dueDate),
		interestRatePerDay: interestRatePerDay,
		penaltyRate:        penaltyRate,
		debtor:             debtor,
		createdAt:          createdAt,
		installments:       items,
	}, nil
}

func (t *DebtTitle) ID() uuid.UUID { return t.id }
func (t *DebtTitle) TitleNumber() string { return t.titleNumber }
func (t *DebtTitle) OriginalValue() decimal.Decimal { return t.originalValue }
func (t *DebtTitle) DueDate() time.Time { return t.dueDate }
func (t *DebtTitle) InterestRatePerDay() decimal.Decimal { return t.interestRatePerDay }
func (t *DebtTitle) PenaltyRate() decimal.Decimal { return t.penaltyRate }
func (t *DebtTitle) Debtor() Debtor { return t.debtor }
func (t *DebtTitle) CreatedAt() time.Time { return t.createdAt }

// Installments returns a copy; mutate through the title.
func (t *DebtTitle) Installments() []Installment {
	out := make([]Installment, len(t.installments))
	copy(out, t.installments)
	return out
}

func (t *DebtTitle) HasInstallments() bool {
	return len(t.installments) > 0
}

// MonthlyInterestRate is the per-day rate times 30, used on the installment path.
func (t *DebtTitle) MonthlyInterestRate() decimal.Decimal {
	return t.interestRatePerDay.Mul(decimal.NewFromInt(daysPerMonth))
}

// Valuation is the breakdown behind CalculateUpdatedValue.
type Valuation struct {
	Original decimal.Decimal
	Interest decimal.Decimal
	Penalty  decimal.Decimal
	Total    decimal.Decimal
}

// Valuate computes the title value as of a date (zero means now).
//
// With installments, interest accrues per installment at the monthly rate and
// one penalty is charged on the summed original values when any installment is
// overdue. Without installments the title is a bullet payment accruing the
// per-day rate directly plus a single penalty.
func (t *DebtTitle) Valuate(asOf time.Time) Valuation {
	asOf = resolveAsOf(asOf)

	if len(t.installments) > 0 {
		monthly := t.MonthlyInterestRate()
		original := decimal.Zero
		interest := decimal.Zero
		anyOverdue := false
		for _, in := range t.installments {
			original = original.Add(in.value)
			interest = interest.Add(in.CalculateInterest(monthly, asOf))
			if in.IsOverdue(asOf) {
				anyOverdue = true
			}
		}
		penalty := decimal.Zero
		if anyOverdue {
			penalty = original.Mul(t.penaltyRate)
		}
		return Valuation{
			Original: original,
			Interest: interest,
			Penalty:  penalty,
			Total:    original.Add(interest).Add(penalty),
		}
	}

	days := t.titleDaysPastDue(asOf)
	if days <= 0 {
		return Valuation{
			Original: t.originalValue,
			Interest: decimal.Zero,
			Penalty:  decimal.Zero,
			Total:    t.originalValue,
		}
	}
	interest := t.originalValue.Mul(t.interestRatePerDay).Mul(decimal.NewFromInt(int64(days)))
	penalty := t.originalValue.Mul(t.penaltyRate)
	return Valuation{
		Original: t.originalValue,
		Interest: interest,
		Penalty:  penalty,
		Total:    t.originalValue.Add(interest).Add(penalty),
	}
}

func (t *DebtTitle) CalculateUpdatedValue(asOf time.Time) decimal.Decimal {
	return t.Valuate(asOf).Total
}

func (t *DebtTitle) titleDaysPastDue(asOf time.Time) int {
	days := daysBetween(t.dueDate, asOf)
	if days < 0 {
		return 0
	}
	return days
}

// DaysOverdue is the maximum of the title's own overdue days and those of every installment.
func (t *DebtTitle) DaysOverdue(asOf time.Time) int {
	asOf = resolveAsOf(asOf)
	longest := t.titleDaysPastDue(asOf)
	for _, in := range t.installments {
		if d := in.GetDaysOverdue(asOf); d > longest {
			longest = d
		}
	}
	return longest
}

// AddInstallment appends a new installment. Uniqueness of number and the sum
// of values against OriginalValue are left to the caller.
func (t *DebtTitle) AddInstallment(number int, value decimal.Decimal, dueDate time.Time) (Installment, error) {
	in, err := newInstallment(t.id, number, value, dueDate)
	if err != nil {
		return Installment{}, err
	}
	t.installments = append(t.installments, in)
	return in, nil
}

// SplitInstallments appends count equal installments with monthly due dates
// starting at firstDueDate. Shares are rounded down to cents and the last one
// takes the remainder. Numbering continues after the highest existing number.
func (t *DebtTitle) SplitInstallments(count int, firstDueDate time.Time) ([]Installment, error) {
	if count <= 0 {
		return nil, invalid("installments", "installment count must be positive")
	}

	share := t.originalValue.Div(decimal.NewFromInt(int64(count))).RoundFloor(2)
	if !share.IsPositive() {
		return nil, invalid("installments", "original value is too small for that many installments")
	}
	last := t.originalValue.Sub(share.Mul(decimal.NewFromInt(int64(count - 1))))

	next := 1
	for _, in := range t.installments {
		if in.installmentNumber >= next {
			next = in.installmentNumber + 1
		}
	}

	first := DateOnly(firstDueDate)
	created := make([]Installment, 0, count)
	for i := 0; i < count; i++ {
		value := share
		if i == count-1 {
			value = last
		}
		in, err := newInstallment(t.id, next+i, value, first.AddDate(0, i, 0))
		if err != nil {
			return nil, err
		}
		created = append(created, in)
	}
	t.installments = append(t.installments, created...)

	out := make([]Installment, len(created))
	copy(out, created)
	return out, nil
}

func (t *DebtTitle) installmentIndex(id uuid.UUID) int {
	for i := range t.installments {
		if t.installments[i].id == id {
			return i
		}
	}
	return -1
}

func (t *DebtTitle) Installment(id uuid.UUID) (Installment, bool) {
	idx := t.installmentIndex(id)
	if idx < 0 {
		return Installment{}, false
	}
	return t.installments[idx], true
}

func (t *DebtTitle) MarkInstallmentPaid(id uuid.UUID, now time.Time) (Installment, error) {
	idx := t.installmentIndex(id)
	if idx < 0 {
		return Installment{}, ErrInstallmentNotFound
	}
	if err := t.installments[idx].MarkAsPaid(now); err != nil {
		return t.installments[idx], err
	}
	return t.installments[idx], nil
}

func (t *DebtTitle) MarkInstallmentUnpaid(id uuid.UUID) (Installment, error) {
	idx := t.installmentIndex(id)
	if idx < 0 {
		return Installment{}, ErrInstallmentNotFound
	}
	t.installments[idx].MarkAsUnpaid()
	return t.installments[idx], nil
}

func (t *DebtTitle) UpdateInterestRate(rate decimal.Decimal) error {
	if err := checkRate("interest_rate_per_day", rate); err != nil {
		return err
	}
	t.interestRatePerDay = rate
	return nil
}

func (t *DebtTitle) UpdatePenaltyRate(rate decimal.Decimal) error {
	if err := checkRate("penalty_rate", rate); err != nil {
		return err
	}
	t.penaltyRate = rate
	return nil
}

func (t *DebtTitle) UpdateTitleNumber(number string) error {
	n, err := checkTitleNumber(number)
	if err != nil {
		return err
	}
	t.titleNumber = n
	return nil
}

func (t *DebtTitle) UpdateOriginalValue(value decimal.Decimal) error {
	if err := checkOriginalValue(value); err != nil {
		return err
	}
	t.originalValue = value
	return nil
}

func (t *DebtTitle) UpdateDueDate(dueDate time.Time) {
	t.dueDate = DateOnly(dueDate)
}

// UpdateDebtor replaces the debtor. An empty document keeps the current one.
func (t *DebtTitle) UpdateDebtor(name, document string) error {
	debtor, err := t.buildDebtor(name, document)
	if err != nil {
		return err
	}
	t.debtor = debtor
	return nil
}

func (t *DebtTitle) buildDebtor(name, document string) (Debtor, error) {
	if strings.TrimSpace(document) == "" {
		return newDebtorWithDocument(name, t.debtor.document)
	}
	return NewDebtor(name, document)
}

// TitleUpdate holds every field replaced by UpdateComplete.
type TitleUpdate struct {
	TitleNumber        string
	OriginalValue      decimal.Decimal
	DueDate            time.Time
	InterestRatePerDay decimal.Decimal
	PenaltyRate        decimal.Decimal
	DebtorName         string
	DebtorDocument     string
}

// UpdateComplete validates every field first and assigns nothing unless all pass.
func (t *DebtTitle) UpdateComplete(u TitleUpdate) error {
	number, err := checkTitleNumber(u.TitleNumber)
	if err != nil {
		return err
	}
	if err := checkOriginalValue(u.OriginalValue); err != nil {
		return err
	}
	if err := checkRate("interest_rate_per_day", u.InterestRatePerDay); err != nil {
		return err
	}
	if err := checkRate("penalty_rate", u.PenaltyRate); err != nil {
		return err
	}
	debtor, err := t.buildDebtor(u.DebtorName, u.DebtorDocument)
	if err != nil {
		return err
	}

	t.titleNumber = number
	t.originalValue = u.OriginalValue
	t.dueDate = DateOnly(u.DueDate)
	t.interestRatePerDay = u.InterestRatePerDay
	t.penaltyRate = u.PenaltyRate
	t.debtor = debtor
	return nil
}

func checkTitleNumber(number string) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		return "", invalid("title_number", "title number is required")
	}
	if len([]rune(number)) > titleNumberMax {
		return "", invalid("title_number", fmt.Sprintf("title number must have at most %d characters", titleNumberMax))
	}
	return number, nil
}

func checkOriginalValue(v decimal.Decimal) error {
	if !v.IsPositive() {
		return invalid("original_value", "original value must be positive")
	}
	return nil
}

func checkRate(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return invalid(field, "rate must not be negative")
	}
	return nil
}
