package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound                   = errors.New("record not found")
	ErrDuplicateTitleNumber       = errors.New("title number already exists")
	ErrDuplicateInstallmentNumber = errors.New("installment number already exists for this title")
)

const pgUniqueViolation = "23505"

// translatePgError maps unique violations on known constraints to sentinel errors.
func translatePgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "debt_titles_title_number_key":
		return ErrDuplicateTitleNumber
	case "installments_title_number_key":
		return ErrDuplicateInstallmentNumber
	default:
		return err
	}
}
