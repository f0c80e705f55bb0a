package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"debt-titles/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type DebtTitleRepository struct {
	db *sql.DB
}

func NewDebtTitleRepository(db *sql.DB) *DebtTitleRepository {
	return &DebtTitleRepository{db: db}
}

const titleColumns = `
	t.id,
	t.title_number,
	t.original_value,
	t.due_date,
	t.interest_rate_per_day,
	t.penalty_rate,
	t.debtor_name,
	t.debtor_document,
	t.created_at`

const installmentColumns = `
	i.id,
	i.debt_title_id,
	i.installment_number,
	i.value,
	i.due_date,
	i.is_paid,
	i.paid_at`

// Load returns the title with every installment, or ErrNotFound.
func (r *DebtTitleRepository) Load(ctx context.Context, id uuid.UUID) (*domain.DebtTitle, error) {
	titles, err := r.loadTitles(ctx, "t.id = $1", id)
	if err != nil {
		return nil, err
	}
	if len(titles) == 0 {
		return nil, ErrNotFound
	}
	return titles[0], nil
}

func (r *DebtTitleRepository) LoadAll(ctx context.Context) ([]*domain.DebtTitle, error) {
	return r.loadTitles(ctx, "1=1")
}

func (r *DebtTitleRepository) LoadByDebtorDocument(ctx context.Context, doc domain.Document) ([]*domain.DebtTitle, error) {
	return r.loadTitles(ctx, "t.debtor_document = $1", doc.Value())
}

// loadTitles runs the title query and the installment query with the same
// filter so every aggregate comes back complete.
func (r *DebtTitleRepository) loadTitles(ctx context.Context, where string, args ...any) ([]*domain.DebtTitle, error) {
	type titleRow struct {
		id            uuid.UUID
		number        string
		originalValue decimal.Decimal
		dueDate       time.Time
		interestRate  decimal.Decimal
		penaltyRate   decimal.Decimal
		debtorName    string
		debtorDoc     string
		createdAt     time.Time
	}

	query := `SELECT ` + titleColumns + ` FROM debt_titles t WHERE ` + where + ` ORDER BY t.created_at, t.title_number`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query debt titles: %w", err)
	}
	defer rows.Close()

	var (
		order []uuid.UUID
		byID  = map[uuid.UUID]titleRow{}
	)
	for rows.Next() {
		var tr titleRow
		if err := rows.Scan(
			&tr.id,
			&tr.number,
			&tr.originalValue,
			&tr.dueDate,
			&tr.interestRate,
			&tr.penaltyRate,
			&tr.debtorName,
			&tr.debtorDoc,
			&tr.createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan debt title: %w", err)
		}
		order = append(order, tr.id)
		byID[tr.id] = tr
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(order) == 0 {
		return nil, nil
	}

	instQuery := `SELECT ` + installmentColumns + `
		FROM installments i
		JOIN debt_titles t ON t.id = i.debt_title_id
		WHERE ` + where + `
		ORDER BY i.debt_title_id, i.installment_number`

	installments, err := r.queryInstallments(ctx, instQuery, args...)
	if err != nil {
		return nil, err
	}
	grouped := map[uuid.UUID][]domain.Installment{}
	for _, in := range installments {
		grouped[in.DebtTitleID()] = append(grouped[in.DebtTitleID()], in)
	}

	out := make([]*domain.DebtTitle, 0, len(order))
	for _, id := range order {
		tr := byID[id]
		title, err := domain.RestoreDebtTitle(
			tr.id,
			tr.number,
			tr.originalValue,
			tr.dueDate,
			tr.interestRate,
			tr.penaltyRate,
			tr.debtorName,
			tr.debtorDoc,
			tr.createdAt,
			grouped[id],
		)
		if err != nil {
			return nil, err
		}
		out = append(out, title)
	}
	return out, nil
}

// LoadOverdueInstallments returns unpaid installments due before asOf.
func (r *DebtTitleRepository) LoadOverdueInstallments(ctx context.Context, asOf time.Time) ([]domain.Installment, error) {
	query := `SELECT ` + installmentColumns + `
		FROM installments i
		WHERE NOT i.is_paid AND i.due_date < $1
		ORDER BY i.due_date, i.debt_title_id, i.installment_number`

	return r.queryInstallments(ctx, query, domain.DateOnly(asOf))
}

func (r *DebtTitleRepository) queryInstallments(ctx context.Context, query string, args ...any) ([]domain.Installment, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query installments: %w", err)
	}
	defer rows.Close()

	var out []domain.Installment
	for rows.Next() {
		var (
			id, titleID uuid.UUID
			number      int
			value       decimal.Decimal
			dueDate     time.Time
			isPaid      bool
			paidAt      sql.NullTime
		)
		if err := rows.Scan(&id, &titleID, &number, &value, &dueDate, &isPaid, &paidAt); err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}

		var paid *time.Time
		if paidAt.Valid {
			paid = &paidAt.Time
		}
		out = append(out, domain.RestoreInstallment(id, titleID, number, value, dueDate, isPaid, paid))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// Save upserts the title and replaces its installment rows in one transaction.
func (r *DebtTitleRepository) Save(ctx context.Context, title *domain.DebtTitle) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	debtor := title.Debtor()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO debt_titles (
			id, title_number, original_value, due_date, interest_rate_per_day, penalty_rate,
			debtor_name, debtor_document, debtor_document_type, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		ON CONFLICT (id) DO UPDATE SET
			title_number          = EXCLUDED.title_number,
			original_value        = EXCLUDED.original_value,
			due_date              = EXCLUDED.due_date,
			interest_rate_per_day = EXCLUDED.interest_rate_per_day,
			penalty_rate          = EXCLUDED.penalty_rate,
			debtor_name           = EXCLUDED.debtor_name,
			debtor_document       = EXCLUDED.debtor_document,
			debtor_document_type  = EXCLUDED.debtor_document_type,
			updated_at            = now()`,
		title.ID(),
		title.TitleNumber(),
		title.OriginalValue(),
		title.DueDate(),
		title.InterestRatePerDay(),
		title.PenaltyRate(),
		debtor.Name(),
		debtor.Document().Value(),
		string(debtor.Document().Type()),
		title.CreatedAt(),
	)
	if err != nil {
		return fmt.Errorf("upsert debt title: %w", translatePgError(err))
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM installments WHERE debt_title_id = $1`, title.ID()); err != nil {
		return fmt.Errorf("clear installments: %w", err)
	}

	for _, in := range title.Installments() {
		var paidAt any
		if p := in.PaidAt(); p != nil {
			paidAt = *p
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO installments (id, debt_title_id, installment_number, value, due_date, is_paid, paid_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			in.ID(), title.ID(), in.Number(), in.Value(), in.DueDate(), in.IsPaid(), paidAt,
		)
		if err != nil {
			return fmt.Errorf("insert installment %d: %w", in.Number(), translatePgError(err))
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit debt title: %w", err)
	}
	return nil
}

// Delete removes the title; installments go with it through ON DELETE CASCADE.
func (r *DebtTitleRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM debt_titles WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete debt title: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *DebtTitleRepository) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM debt_titles WHERE id = $1)`, id).Scan(&exists)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return false, err
	}
	return exists, nil
}

func (r *DebtTitleRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM debt_titles`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
