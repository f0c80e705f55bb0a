package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	debtorNameMin = 2
	debtorNameMax = 200
)

// Debtor is immutable; a title replaces it wholesale on update.
type Debtor struct {
	name     string
	document Document
}

func NewDebtor(name, rawDocument string) (Debtor, error) {
	doc, err := NewDocument(rawDocument)
	if err != nil {
		return Debtor{}, err
	}
	return newDebtorWithDocument(name, doc)
}

func newDebtorWithDocument(name string, doc Document) (Debtor, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Debtor{}, invalid("debtor_name", "debtor name is required")
	}
	if n := utf8.RuneCountInString(name); n < debtorNameMin || n > debtorNameMax {
		return Debtor{}, invalid("debtor_name", fmt.Sprintf("debtor name must have between %d and %d characters", debtorNameMin, debtorNameMax))
	}
	return Debtor{name: name, document: doc}, nil
}

func (d Debtor) Name() string { return d.name }
func (d Debtor) Document() Document { return d.document }
