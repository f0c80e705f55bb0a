package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"debt-titles/internal/domain"
	"debt-titles/internal/metrics"
	"debt-titles/internal/repository"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCPF = "529.982.247-25"

type installmentNotice struct {
	userID        int64
	titleID       string
	installmentID string
	number        int
	paid          bool
}

type fakeInstallmentNotifier struct {
	mu      sync.Mutex
	notices []installmentNotice
}

func (f *fakeInstallmentNotifier) NotifyInstallmentStatus(_ context.Context, userID int64, titleID, installmentID string, number int, paid bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, installmentNotice{userID, titleID, installmentID, number, paid})
	return nil
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

func newTestService(t *testing.T, now time.Time) (*DebtTitleService, *fakeInstallmentNotifier, *metrics.Metrics) {
	t.Helper()
	notifier := &fakeInstallmentNotifier{}
	m := metrics.New(prometheus.NewRegistry())
	svc := NewDebtTitleService(repository.NewMemoryDebtTitleRepository(), notifier, m).
		WithClock(func() time.Time { return now })
	return svc, notifier, m
}

func bulletInput(number string) CreateTitleInput {
	return CreateTitleInput{
		TitleNumber:        number,
		OriginalValue:      dec("1000"),
		DueDate:            day(2024, 1, 1),
		InterestRatePerDay: dec("0.001"),
		PenaltyRate:        dec("0.02"),
		DebtorName:         "Maria Silva",
		DebtorDocument:     validCPF,
	}
}

func installmentInput(number string) CreateTitleInput {
	in := bulletInput(number)
	in.InterestRatePerDay = dec("0.01")
	in.Installments = []InstallmentInput{
		{Number: 1, Value: dec("500"), DueDate: day(2024, 1, 1)},
		{Number: 2, Value: dec("500"), DueDate: day(2024, 3, 1)},
	}
	return in
}

func TestCreate_BulletTitleValuation(t *testing.T) {
	svc, _, m := newTestService(t, day(2024, 1, 11))
	ctx := context.Background()

	created, err := svc.Create(ctx, bulletInput("T-1"))
	require.NoError(t, err)

	assert.Equal(t, "T-1", created.TitleNumber)
	assert.Equal(t, "52998224725", created.Debtor.Document)
	assert.Equal(t, "529.982.247-25", created.Debtor.DocumentFormatted)
	assert.Equal(t, domain.DocumentCPF, created.Debtor.DocumentType)
	assert.Equal(t, "2024-01-01", created.DueDate)
	assert.Equal(t, 10, created.DaysOverdue)
	assertDecimal(t, "1030", created.UpdatedValue)
	assertDecimal(t, "10", created.Interest)
	assertDecimal(t, "20", created.Penalty)
	assert.Empty(t, created.Installments)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TitlesCreated))

	got, err := svc.Get(ctx, created.ID, day(2023, 12, 31))
	require.NoError(t, err)
	assertDecimal(t, "1000", got.UpdatedValue)
	assert.Equal(t, 0, got.DaysOverdue)
	assert.Equal(t, "2023-12-31", got.AsOf)
}

func TestCreate_InstallmentTitleValuation(t *testing.T) {
	svc, _, _ := newTestService(t, day(2024, 1, 16))

	created, err := svc.Create(context.Background(), installmentInput("T-2"))
	require.NoError(t, err)

	require.Len(t, created.Installments, 2)
	assertDecimal(t, "75", created.Interest)
	assertDecimal(t, "20", created.Penalty)
	assertDecimal(t, "1095", created.UpdatedValue)
	assert.Equal(t, 15, created.DaysOverdue)
	assert.Equal(t, 1, created.OverdueInstallments)

	first := created.Installments[0]
	assert.Equal(t, 1, first.InstallmentNumber)
	assert.True(t, first.IsOverdue)
	assert.Equal(t, 15, first.DaysOverdue)
	assertDecimal(t, "75", first.Interest)
	assertDecimal(t, "585", first.UpdatedValue)

	second := created.Installments[1]
	assert.False(t, second.IsOverdue)
	assertDecimal(t, "500", second.UpdatedValue)
}

func TestCreate_EqualSplit(t *testing.T) {
	svc, _, _ := newTestService(t, day(2024, 1, 1))

	in := bulletInput("T-3")
	in.InstallmentCount = 3
	in.FirstInstallmentDue = day(2024, 2, 10)

	created, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, created.Installments, 3)

	sum := decimal.Zero
	for i, iv := range created.Installments {
		assert.Equal(t, i+1, iv.InstallmentNumber)
		sum = sum.Add(iv.Value)
	}
	assertDecimal(t, "1000", sum)
	assertDecimal(t, "333.34", created.Installments[2].Value)
	assert.Equal(t, "2024-04-10", created.Installments[2].DueDate)
}

func TestCreate_SplitDefaultsToTitleDueDate(t *testing.T) {
	svc, _, _ := newTestService(t, day(2024, 1, 1))

	in := bulletInput("T-4")
	in.InstallmentCount = 2

	created, err := svc.Create(context.Background(), in)
	require.NoError(t, err)
	require.Len(t, created.Installments, 2)
	assert.Equal(t, "2024-01-01", created.Installments[0].DueDate)
	assert.Equal(t, "2024-02-01", created.Installments[1].DueDate)
}

func TestCreate_Rejects(t *testing.T) {
	svc, _, _ := newTestService(t, day(2024, 1, 1))
	ctx := context.Background()

	both := installmentInput("T-5")
	both.InstallmentCount = 2
	_, err := svc.Create(ctx, both)
	assert.True(t, domain.IsValidation(err))

	repeated := installmentInput("T-6")
	repeated.Installments[1].Number = 1
	_, err = svc.Create(ctx, repeated)
	assert.True(t, domain.IsValidation(err))

	badDoc := bulletInput("T-7")
	badDoc.DebtorDocument = "111.111.111-11"
	_, err = svc.Create(ctx, badDoc)
	assert.True(t, domain.IsValidation(err))

	_, err = svc.Create(ctx, bulletInput("T-8"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, bulletInput("T-8"))
	assert.ErrorIs(t, err, repository.ErrDuplicateTitleNumber)

	all, err := svc.List(ctx, "", time.Time{})
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestGet_NotFound(t *testing.T) {
	svc, _, _ := newTestService(t, day(2024, 1, 1))

	_, err := svc.Get(context.Background(), uuid.New(), time.Time{})
	assert.ErrorIs(t, err, ErrTitleNotFound)
}

func TestList_ByDocument(t *testing.T) {
	svc, _, _ := newTestService(t, day(2024, 1, 1))
	ctx := context.Background()

	_, err := svc.Create(ctx, bulletInput("A-1"))
	require.NoError(t, err)
	other := bulletInput("A-2")
	other.DebtorDocument = "11.222.333/0001-81"
	_, err = svc.Create(ctx, other)
	require.NoError(t, err)

	byCPF, err := svc.List(ctx, "52998224725", time.Time{})
	require.NoError(t, err)
	require.Len(t, byCPF, 1)
	assert.Equal(t, "A-1", byCPF[0].TitleNumber)

	byCNPJ, err := svc.List(ctx, "11222333000181", time.Time{})
	require.NoError(t, err)
	require.Len(t, byCNPJ, 1)
	assert.Equal(t, domain.DocumentCNPJ, byCNPJ[0].Debtor.DocumentType)

	_, err = svc.List(ctx, "123", time.Time{})
	assert.True(t, domain.IsValidation(err))
}

func TestUpdate(t *testing.T) {
	svc, _, _ := newTestService(t, day(2024, 1, 11))
	ctx := context.Background()

	created, err := svc.Create(ctx, bulletInput("U-1"))
	require.NoError(t, err)

	updated, err := svc.Update(ctx, created.ID, domain.TitleUpdate{
		TitleNumber:        "U-1b",
		OriginalValue:      dec("2000"),
		DueDate:            day(2024, 1, 1),
		InterestRatePerDay: dec("0.001"),
		PenaltyRate:        dec("0.02"),
		DebtorName:         "Maria Souza",
	})
	require.NoError(t, err)
	assert.Equal(t, "U-1b", updated.TitleNumber)
	assert.Equal(t, "Maria Souza", updated.Debtor.Name)
	assert.Equal(t, "52998224725", updated.Debtor.Document)
	assertDecimal(t, "2060", updated.UpdatedValue)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, created.CreatedAt, updated.CreatedAt)

	_, err = svc.Update(ctx, created.ID, domain.TitleUpdate{
		TitleNumber:        "U-1c",
		OriginalValue:      dec("3000"),
		DueDate:            day(2024, 1, 1),
		InterestRatePerDay: dec("0.001"),
		PenaltyRate:        dec("-1"),
		DebtorName:         "Maria Souza",
	})
	assert.True(t, domain.IsValidation(err))

	got, err := svc.Get(ctx, created.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, "U-1b", got.TitleNumber)
	assertDecimal(t, "2000", got.OriginalValue)

	_, err = svc.Update(ctx, uuid.New(), domain.TitleUpdate{})
	assert.ErrorIs(t, err, ErrTitleNotFound)
}

func TestDelete(t *testing.T) {
	svc, _, m := newTestService(t, day(2024, 1, 1))
	ctx := context.Background()

	created, err := svc.Create(ctx, installmentInput("D-1"))
	require.NoError(t, err)

	require.NoError(t, svc.Delete(ctx, created.ID))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TitlesDeleted))

	_, err = svc.Get(ctx, created.ID, time.Time{})
	assert.ErrorIs(t, err, ErrTitleNotFound)
	assert.ErrorIs(t, svc.Delete(ctx, created.ID), ErrTitleNotFound)
}

func TestAddInstallment(t *testing.T) {
	svc, _, _ := newTestService(t, day(2024, 1, 1))
	ctx := context.Background()

	created, err := svc.Create(ctx, installmentInput("I-1"))
	require.NoError(t, err)

	view, err := svc.AddInstallment(ctx, created.ID, InstallmentInput{Value: dec("100"), DueDate: day(2024, 4, 1)})
	require.NoError(t, err)
	require.Len(t, view.Installments, 3)
	assert.Equal(t, 3, view.Installments[2].InstallmentNumber)

	_, err = svc.AddInstallment(ctx, created.ID, InstallmentInput{Number: 2, Value: dec("100"), DueDate: day(2024, 4, 1)})
	assert.True(t, domain.IsValidation(err))

	_, err = svc.AddInstallment(ctx, created.ID, InstallmentInput{Number: 9, Value: dec("0"), DueDate: day(2024, 4, 1)})
	assert.True(t, domain.IsValidation(err))

	_, err = svc.AddInstallment(ctx, uuid.New(), InstallmentInput{Value: dec("1"), DueDate: day(2024, 4, 1)})
	assert.ErrorIs(t, err, ErrTitleNotFound)
}

func TestMarkInstallmentPaidAndUnpaid(t *testing.T) {
	now := time.Date(2024, 1, 16, 9, 30, 0, 0, time.UTC)
	svc, notifier, m := newTestService(t, now)
	ctx := context.Background()

	created, err := svc.Create(ctx, installmentInput("P-1"))
	require.NoError(t, err)
	inst := created.Installments[0]

	paid, err := svc.MarkInstallmentPaid(ctx, 7, created.ID, inst.ID)
	require.NoError(t, err)
	assert.True(t, paid.IsPaid)
	require.NotNil(t, paid.PaidAt)
	assert.True(t, paid.PaidAt.Equal(now))
	assertDecimal(t, "500", paid.UpdatedValue)

	_, err = svc.MarkInstallmentPaid(ctx, 7, created.ID, inst.ID)
	assert.ErrorIs(t, err, domain.ErrInstallmentAlreadyPaid)

	title, err := svc.Get(ctx, created.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 1, title.PaidInstallments)
	assertDecimal(t, "1000", title.UpdatedValue)

	unpaid, err := svc.MarkInstallmentUnpaid(ctx, 7, created.ID, inst.ID)
	require.NoError(t, err)
	assert.False(t, unpaid.IsPaid)
	assert.Nil(t, unpaid.PaidAt)

	_, err = svc.MarkInstallmentPaid(ctx, 7, created.ID, uuid.New())
	assert.ErrorIs(t, err, domain.ErrInstallmentNotFound)

	require.Len(t, notifier.notices, 2)
	assert.Equal(t, installmentNotice{7, created.ID.String(), inst.ID.String(), 1, true}, notifier.notices[0])
	assert.False(t, notifier.notices[1].paid)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InstallmentsPaid.WithLabelValues("paid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.InstallmentsPaid.WithLabelValues("unpaid")))
}

func TestMarkInstallmentPaid_ConcurrentCallsApplyOnce(t *testing.T) {
	svc, notifier, _ := newTestService(t, day(2024, 1, 16))
	ctx := context.Background()

	created, err := svc.Create(ctx, installmentInput("P-2"))
	require.NoError(t, err)
	inst := created.Installments[1]

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		oks  int
		errs int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.MarkInstallmentPaid(ctx, 1, created.ID, inst.ID)
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				oks++
			} else {
				errs++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, oks)
	assert.Equal(t, 7, errs)
	assert.Len(t, notifier.notices, 1)

	// released locks do not accumulate
	svc.locksMu.Lock()
	defer svc.locksMu.Unlock()
	assert.Empty(t, svc.locks)
}

func TestOverdueInstallments(t *testing.T) {
	svc, _, _ := newTestService(t, day(2024, 1, 16))
	ctx := context.Background()

	created, err := svc.Create(ctx, installmentInput("O-1"))
	require.NoError(t, err)
	_, err = svc.Create(ctx, bulletInput("O-2"))
	require.NoError(t, err)

	overdue, err := svc.OverdueInstallments(ctx, time.Time{})
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, created.ID, overdue[0].DebtTitleID)
	assert.Equal(t, 15, overdue[0].DaysOverdue)
	assertDecimal(t, "75", overdue[0].Interest)
	assertDecimal(t, "585", overdue[0].UpdatedValue)

	later, err := svc.OverdueInstallments(ctx, day(2024, 3, 2))
	require.NoError(t, err)
	assert.Len(t, later, 2)

	earlier, err := svc.OverdueInstallments(ctx, day(2024, 1, 1))
	require.NoError(t, err)
	assert.Empty(t, earlier)
}

func TestStats(t *testing.T) {
	svc, _, _ := newTestService(t, day(2024, 1, 16))
	ctx := context.Background()

	_, err := svc.Create(ctx, installmentInput("S-1"))
	require.NoError(t, err)
	future := bulletInput("S-2")
	future.DueDate = day(2025, 1, 1)
	_, err = svc.Create(ctx, future)
	require.NoError(t, err)

	st, err := svc.Stats(ctx, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.TitleCount)
	assert.Equal(t, 1, st.OverdueTitles)
	assert.Equal(t, 1, st.OverdueInstallments)
	assertDecimal(t, "2000", st.TotalOriginal)
	assertDecimal(t, "2095", st.TotalUpdated)
	assert.Equal(t, "2024-01-16", st.AsOf)
}

func TestValidateDocument(t *testing.T) {
	ok, docType, formatted := ValidateDocument("11222333000181")
	assert.True(t, ok)
	assert.Equal(t, domain.DocumentCNPJ, docType)
	assert.Equal(t, "11.222.333/0001-81", formatted)

	ok, _, _ = ValidateDocument("00000000000")
	assert.False(t, ok)
}
