package domain

import (
	"fmt"
	"strings"
)

type DocumentType string

const (
	DocumentCPF  DocumentType = "CPF"
	DocumentCNPJ DocumentType = "CNPJ"
)

const (
	cpfLength  = 11
	cnpjLength = 14
)

var (
	cnpjFirstWeights  = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjSecondWeights = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// Document is a validated Brazilian taxpayer identifier (CPF or CNPJ).
// The value holds digits only. Documents compare with ==.
type Document struct {
	value   string
	docType DocumentType
}

// NewDocument strips every non-digit from raw and validates what is left
// as a CPF (11 digits) or a CNPJ (14 digits).
func NewDocument(raw string) (Document, error) {
	digits := onlyDigits(raw)
	if digits == "" {
		return Document{}, invalid("document", "document is required")
	}

	switch len(digits) {
	case cpfLength:
		if !validCPF(digits) {
			return Document{}, invalid("document", "invalid CPF")
		}
		return Document{value: digits, docType: DocumentCPF}, nil
	case cnpjLength:
		if !validCNPJ(digits) {
			return Document{}, invalid("document", "invalid CNPJ")
		}
		return Document{value: digits, docType: DocumentCNPJ}, nil
	default:
		return Document{}, invalid("document", fmt.Sprintf("document must have %d (CPF) or %d (CNPJ) digits", cpfLength, cnpjLength))
	}
}

// IsValidDocument is the standalone predicate used by request validation.
func IsValidDocument(raw string) bool {
	_, err := NewDocument(raw)
	return err == nil
}

func (d Document) Value() string { return d.value }
func (d Document) Type() DocumentType { return d.docType }
func (d Document) IsZero() bool { return d.value == "" }

// Formatted renders XXX.XXX.XXX-XX for CPF and XX.XXX.XXX/XXXX-XX for CNPJ.
func (d Document) Formatted() string {
	v := d.value
	switch d.docType {
	case DocumentCPF:
		return v[0:3] + "." + v[3:6] + "." + v[6:9] + "-" + v[9:11]
	case DocumentCNPJ:
		return v[0:2] + "." + v[2:5] + "." + v[5:8] + "/" + v[8:12] + "-" + v[12:14]
	default:
		return v
	}
}

func (d Document) String() string {
	return d.Formatted()
}

func onlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func toInts(digits string) []int {
	out := make([]int, len(digits))
	for i := 0; i < len(digits); i++ {
		out[i] = int(digits[i] - '0')
	}
	return out
}

func allSame(d []int) bool {
	for _, v := range d[1:] {
		if v != d[0] {
			return false
		}
	}
	return true
}

func validCPF(digits string) bool {
	if len(digits) != cpfLength {
		return false
	}
	d := toInts(digits)
	if allSame(d) {
		return false
	}

	// weights run 10..2 for the first check digit and 11..2 for the second
	cpfCheck := func(n int) int {
		sum := 0
		for i := 0; i < n; i++ {
			sum += d[i] * (n + 1 - i)
		}
		c := (sum * 10) % 11
		if c == 10 {
			c = 0
		}
		return c
	}

	return cpfCheck(9) == d[9] && cpfCheck(10) == d[10]
}

func validCNPJ(digits string) bool {
	if len(digits) != cnpjLength {
		return false
	}
	d := toInts(digits)
	if allSame(d) {
		return false
	}

	cnpjCheck := func(weights []int) int {
		sum := 0
		for i, w := range weights {
			sum += d[i] * w
		}
		rem := sum % 11
		if rem < 2 {
			return 0
		}
		return 11 - rem
	}

	return cnpjCheck(cnpjFirstWeights) == d[12] && cnpjCheck(cnpjSecondWeights) == d[13]
}
