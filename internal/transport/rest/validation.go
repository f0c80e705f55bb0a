package rest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"debt-titles/internal/domain"
	"debt-titles/internal/service"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

type rawInstallmentRequest struct {
	InstallmentNumber int         `json:"installment_number"`
	Value             interface{} `json:"value"`
	DueDate           string      `json:"due_date"`
}

type rawTitleRequest struct {
	TitleNumber         string                  `json:"title_number"`
	OriginalValue       interface{}             `json:"original_value"`
	DueDate             string                  `json:"due_date"`
	InterestRatePerDay  interface{}             `json:"interest_rate_per_day"`
	PenaltyRate         interface{}             `json:"penalty_rate"`
	DebtorName          string                  `json:"debtor_name"`
	DebtorDocument      string                  `json:"debtor_document"`
	Installments        []rawInstallmentRequest `json:"installments"`
	InstallmentCount    int                     `json:"installment_count"`
	FirstInstallmentDue string                  `json:"first_installment_due_date"`
}

type rawExportRequest struct {
	Fields   []string `json:"fields"`
	Document string   `json:"document"`
	AsOf     string   `json:"as_of"`
}

func invalidField(field, message string) error {
	return &domain.ValidationError{Field: field, Message: message}
}

func decodeJSON(r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil && err != io.EOF {
		return invalidField("", "invalid JSON")
	}
	return nil
}

// toDecimal accepts a JSON number or a numeric string. nil yields ok=false.
func toDecimal(field string, v interface{}) (d decimal.Decimal, ok bool, err error) {
	switch t := v.(type) {
	case nil:
		return decimal.Zero, false, nil
	case json.Number:
		d, err = decimal.NewFromString(t.String())
	case string:
		if strings.TrimSpace(t) == "" {
			return decimal.Zero, false, nil
		}
		d, err = decimal.NewFromString(strings.TrimSpace(t))
	default:
		return decimal.Zero, false, invalidField(field, field+" must be a number")
	}
	if err != nil {
		return decimal.Zero, false, invalidField(field, field+" must be a number")
	}
	return d, true, nil
}

func requireDecimal(field string, v interface{}) (decimal.Decimal, error) {
	d, ok, err := toDecimal(field, v)
	if err != nil {
		return decimal.Zero, err
	}
	if !ok {
		return decimal.Zero, invalidField(field, field+" is required")
	}
	return d, nil
}

// optionalRate defaults a missing rate to zero.
func optionalRate(field string, v interface{}) (decimal.Decimal, error) {
	d, _, err := toDecimal(field, v)
	return d, err
}

func toDate(field, v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, invalidField(field, field+" is required")
	}
	parsed, err := time.Parse(dateLayout, v)
	if err != nil {
		return time.Time{}, invalidField(field, field+" must be YYYY-MM-DD")
	}
	return parsed, nil
}

func toOptionalDate(field, v string) (time.Time, error) {
	if strings.TrimSpace(v) == "" {
		return time.Time{}, nil
	}
	return toDate(field, v)
}

// parseAsOf reads the optional as_of query parameter. Missing means now.
func parseAsOf(r *http.Request) (time.Time, error) {
	return toOptionalDate("as_of", r.URL.Query().Get("as_of"))
}

func checkDocument(field, raw string, required bool) error {
	if strings.TrimSpace(raw) == "" {
		if required {
			return invalidField(field, field+" is required")
		}
		return nil
	}
	if !domain.IsValidDocument(raw) {
		return invalidField(field, "document must be a valid CPF or CNPJ")
	}
	return nil
}

func parseInstallmentRequest(raw rawInstallmentRequest, idx int) (service.InstallmentInput, error) {
	prefix := "installment"
	if idx >= 0 {
		prefix = fmt.Sprintf("installments[%d]", idx)
	}
	value, err := requireDecimal(prefix+".value", raw.Value)
	if err != nil {
		return service.InstallmentInput{}, err
	}
	due, err := toDate(prefix+".due_date", raw.DueDate)
	if err != nil {
		return service.InstallmentInput{}, err
	}
	if raw.InstallmentNumber < 0 {
		return service.InstallmentInput{}, invalidField(prefix+".installment_number", "installment_number must be positive")
	}
	return service.InstallmentInput{Number: raw.InstallmentNumber, Value: value, DueDate: due}, nil
}

func ValidateCreateTitleRequest(r *http.Request) (service.CreateTitleInput, error) {
	var raw rawTitleRequest
	if err := decodeJSON(r, &raw); err != nil {
		return service.CreateTitleInput{}, err
	}

	if strings.TrimSpace(raw.TitleNumber) == "" {
		return service.CreateTitleInput{}, invalidField("title_number", "title_number is required")
	}
	original, err := requireDecimal("original_value", raw.OriginalValue)
	if err != nil {
		return service.CreateTitleInput{}, err
	}
	due, err := toDate("due_date", raw.DueDate)
	if err != nil {
		return service.CreateTitleInput{}, err
	}
	interest, err := optionalRate("interest_rate_per_day", raw.InterestRatePerDay)
	if err != nil {
		return service.CreateTitleInput{}, err
	}
	penalty, err := optionalRate("penalty_rate", raw.PenaltyRate)
	if err != nil {
		return service.CreateTitleInput{}, err
	}
	if strings.TrimSpace(raw.DebtorName) == "" {
		return service.CreateTitleInput{}, invalidField("debtor_name", "debtor_name is required")
	}
	if err := checkDocument("debtor_document", raw.DebtorDocument, true); err != nil {
		return service.CreateTitleInput{}, err
	}
	if raw.InstallmentCount < 0 {
		return service.CreateTitleInput{}, invalidField("installment_count", "installment_count must be positive")
	}
	firstDue, err := toOptionalDate("first_installment_due_date", raw.FirstInstallmentDue)
	if err != nil {
		return service.CreateTitleInput{}, err
	}

	in := service.CreateTitleInput{
		TitleNumber:         raw.TitleNumber,
		OriginalValue:       original,
		DueDate:             due,
		InterestRatePerDay:  interest,
		PenaltyRate:         penalty,
		DebtorName:          raw.DebtorName,
		DebtorDocument:      raw.DebtorDocument,
		InstallmentCount:    raw.InstallmentCount,
		FirstInstallmentDue: firstDue,
	}
	for i, item := range raw.Installments {
		parsed, err := parseInstallmentRequest(item, i)
		if err != nil {
			return service.CreateTitleInput{}, err
		}
		if parsed.Number == 0 {
			parsed.Number = i + 1
		}
		in.Installments = append(in.Installments, parsed)
	}
	return in, nil
}

// ValidateUpdateTitleRequest reads a full replacement. An empty debtor_document keeps the current one.
func ValidateUpdateTitleRequest(r *http.Request) (domain.TitleUpdate, error) {
	var raw rawTitleRequest
	if err := decodeJSON(r, &raw); err != nil {
		return domain.TitleUpdate{}, err
	}

	original, err := requireDecimal("original_value", raw.OriginalValue)
	if err != nil {
		return domain.TitleUpdate{}, err
	}
	due, err := toDate("due_date", raw.DueDate)
	if err != nil {
		return domain.TitleUpdate{}, err
	}
	interest, err := optionalRate("interest_rate_per_day", raw.InterestRatePerDay)
	if err != nil {
		return domain.TitleUpdate{}, err
	}
	penalty, err := optionalRate("penalty_rate", raw.PenaltyRate)
	if err != nil {
		return domain.TitleUpdate{}, err
	}
	if err := checkDocument("debtor_document", raw.DebtorDocument, false); err != nil {
		return domain.TitleUpdate{}, err
	}

	return domain.TitleUpdate{
		TitleNumber:        raw.TitleNumber,
		OriginalValue:      original,
		DueDate:            due,
		InterestRatePerDay: interest,
		PenaltyRate:        penalty,
		DebtorName:         raw.DebtorName,
		DebtorDocument:     raw.DebtorDocument,
	}, nil
}

func ValidateInstallmentRequest(r *http.Request) (service.InstallmentInput, error) {
	var raw rawInstallmentRequest
	if err := decodeJSON(r, &raw); err != nil {
		return service.InstallmentInput{}, err
	}
	return parseInstallmentRequest(raw, -1)
}

func ValidateExportRequest(r *http.Request) (service.TitlesExportRequest, error) {
	var raw rawExportRequest
	if err := decodeJSON(r, &raw); err != nil {
		return service.TitlesExportRequest{}, err
	}
	if err := checkDocument("document", raw.Document, false); err != nil {
		return service.TitlesExportRequest{}, err
	}
	asOf, err := toOptionalDate("as_of", raw.AsOf)
	if err != nil {
		return service.TitlesExportRequest{}, err
	}
	return service.TitlesExportRequest{
		Fields:   raw.Fields,
		Document: raw.Document,
		AsOf:     asOf,
	}, nil
}
