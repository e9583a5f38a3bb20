package scanning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the wire format for calendar dates
const DateLayout = "2006-01-02"

// Status is the lifecycle state of a transaction
type Status string

const (
	StatusFailed     Status = "failed"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusFailed, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

// Date is a calendar date without a time of day, always stored at UTC midnight
type Date struct {
	time.Time
}

// NewDate truncates t to its calendar date
func NewDate(t time.Time) Date {
	y, m, d := t.Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD date
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("parsing date: %w", err)
	}
	return Date{t}, nil
}

// String formats the date as YYYY-MM-DD
func (d Date) String() string {
	return d.Format(DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Amount is a monetary value serialized with exactly two decimals
type Amount struct {
	decimal.Decimal
}

const (
	// maxAmountIntDigits caps digits before the decimal point
	maxAmountIntDigits = 15
	// maxAmountScale caps digits after the decimal point before rounding
	maxAmountScale = 20
	// maxCoefficientBits keeps the coefficient within ~38 decimal digits
	maxCoefficientBits = 128
)

// ErrAmountOutOfRange is returned for amounts too large or too precise to be money.
// Rescaling such values would take unbounded time and memory.
var ErrAmountOutOfRange = errors.New("amount is out of range")

// CheckAmountRange rejects decimals whose exponent or size cannot be a real amount.
// It must run before Round or StringFixed on untrusted input.
func CheckAmountRange(d decimal.Decimal) error {
	exp := d.Exponent()
	if exp < -maxAmountScale || exp > maxAmountIntDigits {
		return ErrAmountOutOfRange
	}
	if d.Coefficient().BitLen() > maxCoefficientBits {
		return ErrAmountOutOfRange
	}
	if d.NumDigits()+int(exp) > maxAmountIntDigits {
		return ErrAmountOutOfRange
	}
	return nil
}

// NewAmount rounds d to two decimal places
func NewAmount(d decimal.Decimal) Amount {
	return Amount{d.Round(2)}
}

// ParseAmount parses a plain decimal string such as "12.50"
func ParseAmount(s string) (Amount, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Amount{}, fmt.Errorf("parsing amount: %w", err)
	}
	if err := CheckAmountRange(d); err != nil {
		return Amount{}, err
	}
	return NewAmount(d), nil
}

// String formats the amount with two decimals
func (a Amount) String() string {
	return a.StringFixed(2)
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts both quoted and bare numbers
func (a *Amount) UnmarshalJSON(b []byte) error {
	var d decimal.Decimal
	if err := d.UnmarshalJSON(b); err != nil {
		return fmt.Errorf("parsing amount: %w", err)
	}
	if err := CheckAmountRange(d); err != nil {
		return err
	}
	a.Decimal = d
	return nil
}

// CandidateTransaction is a validated transaction extracted from a receipt
// that has not been persisted yet
type CandidateTransaction struct {
	Description string `json:"description"`
	Amount      Amount `json:"amount"`
	Currency    string `json:"currency"`
	Date        Date   `json:"date"`
	Status      Status `json:"status"`
}

// TextExtractor turns an image buffer into plain text
type TextExtractor interface {
	// ExtractText runs OCR over data. An empty result is not an error.
	ExtractText(ctx context.Context, data []byte, mediaType string) (string, error)
}

// Completer sends a prompt to a language model and returns its raw text answer
type Completer interface {
	// Complete returns the model's raw response for prompt
	Complete(ctx context.Context, prompt string) (string, error)
	// Close releases provider resources
	Close() error
}
