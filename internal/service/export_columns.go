package service

import (
	"fmt"

	"debt-titles/internal/domain"
)

type TitleColumn struct {
	Header string
	Value  func(t TitleView) any
}

var defaultTitleFields = []string{
	"title_number",
	"debtor.name",
	"original_value",
	"updated_value",
	"days_overdue",
}

var titleColumns = map[string]TitleColumn{
	"title_number": {
		Header: "Número do título",
		Value:  func(t TitleView) any { return t.TitleNumber },
	},
	"debtor.name": {
		Header: "Devedor",
		Value:  func(t TitleView) any { return t.Debtor.Name },
	},
	"debtor.document": {
		Header: "CPF/CNPJ",
		Value:  func(t TitleView) any { return t.Debtor.DocumentFormatted },
	},
	"debtor.document_type": {
		Header: "Tipo de documento",
		Value:  func(t TitleView) any { return string(t.Debtor.DocumentType) },
	},
	"due_date": {
		Header: "Vencimento",
		Value:  func(t TitleView) any { return t.DueDate },
	},
	"original_value": {
		Header: "Valor original",
		Value:  func(t TitleView) any { return t.OriginalValue.InexactFloat64() },
	},
	"interest_rate_per_day": {
		Header: "Juros ao dia",
		Value:  func(t TitleView) any { return t.InterestRatePerDay.InexactFloat64() },
	},
	"penalty_rate": {
		Header: "Multa",
		Value:  func(t TitleView) any { return t.PenaltyRate.InexactFloat64() },
	},
	"interest": {
		Header: "Juros",
		Value:  func(t TitleView) any { return t.Interest.Round(2).InexactFloat64() },
	},
	"penalty": {
		Header: "Valor da multa",
		Value:  func(t TitleView) any { return t.Penalty.Round(2).InexactFloat64() },
	},
	"updated_value": {
		Header: "Valor atualizado",
		Value:  func(t TitleView) any { return t.UpdatedValue.Round(2).InexactFloat64() },
	},
	"days_overdue": {
		Header: "Dias em atraso",
		Value:  func(t TitleView) any { return t.DaysOverdue },
	},
	"installments": {
		Header: "Parcelas",
		Value:  func(t TitleView) any { return len(t.Installments) },
	},
	"paid_installments": {
		Header: "Parcelas pagas",
		Value:  func(t TitleView) any { return t.PaidInstallments },
	},
	"overdue_installments": {
		Header: "Parcelas em atraso",
		Value:  func(t TitleView) any { return t.OverdueInstallments },
	},
	"created_at": {
		Header: "Criado em",
		Value:  func(t TitleView) any { return t.CreatedAt.Format("2006-01-02 15:04:05") },
	},
}

func selectTitleColumns(fields []string) ([]TitleColumn, error) {
	cols := make([]TitleColumn, 0, len(fields))
	for _, key := range fields {
		col, ok := titleColumns[key]
		if !ok {
			return nil, &domain.ValidationError{Field: "fields", Message: fmt.Sprintf("unknown field %q", key)}
		}
		cols = append(cols, col)
	}
	return cols, nil
}
