package claims

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Amount is a monetary value in euro cents. The declaration format carries
// amounts as whole cents, so two fraction digits are fixed.
type Amount int64

// AmountFromEuros rounds a euro value to the nearest cent.
func AmountFromEuros(euros float64) Amount {
	return Amount(math.Round(euros * 100))
}

// Euros returns the amount as a float for display.
func (a Amount) Euros() float64 { return float64(a) / 100 }

func (a Amount) String() string {
	c := int64(a)
	sign := ""
	if c < 0 {
		sign = "-"
		c = -c
	}
	return fmt.Sprintf("%s%d.%02d", sign, c/100, c%100)
}

// MarshalJSON writes the amount as a decimal number, e.g. 12.50.
func (a Amount) MarshalJSON() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalJSON reads a decimal euro number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("amount %s: %w", data, err)
	}
	*a = AmountFromEuros(f)
	return nil
}

// ClaimLine is one performed service joined with its insured person.
// Nullable attributes are pointers; nil means the value is missing or could
// not be coerced. Rows are built once and never modified.
type ClaimLine struct {
	Line int `json:"line,omitempty"` // source line of the service record

	Subject     string     `json:"bsn"`
	BirthDate   *time.Time `json:"birth_date"`
	Surname     *string    `json:"surname"`
	Initials    *string    `json:"initials"`
	InsurerCode *string    `json:"insurer_code"`
	InsurerName *string    `json:"insurer_name"`

	AuthorizationNumber *string    `json:"authorization_number"`
	ServiceDate         *time.Time `json:"service_date"`
	RecordIndicator     string     `json:"record_indicator"`
	ServiceCode         string     `json:"service_code"`
	ElementCode         *string    `json:"element_code"`

	Tariff         *Amount `json:"tariff"`
	Quantity       int     `json:"quantity"`
	ComputedAmount *Amount `json:"computed_amount"`
	DeclaredAmount *Amount `json:"declared_amount"`

	// Only practice exports carry separate fee and technique amounts.
	FeeAmount       *Amount `json:"fee_amount,omitempty"`
	TechniqueAmount *Amount `json:"technique_amount,omitempty"`

	Age *int `json:"age"`
}

// ErrCoercion marks a field value that could not be converted to its type.
var ErrCoercion = errors.New("coercion failed")

// CoercionError describes one field that failed to coerce. Fatal errors
// mean the row was left out; all others leave the field nil.
type CoercionError struct {
	Line  int
	Field string
	Value string
	Fatal bool
}

func (e *CoercionError) Error() string {
	verdict := "set to null"
	if e.Fatal {
		verdict = "row skipped"
	}
	return fmt.Sprintf("line %d: field %s value %q: %v (%s)", e.Line, e.Field, e.Value, ErrCoercion, verdict)
}

func (e *CoercionError) Unwrap() error { return ErrCoercion }

// InsurerLookup resolves an insurer code to a display name.
type InsurerLookup interface {
	Name(code string) (string, bool)
}
