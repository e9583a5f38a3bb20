package scanning

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/shopspring/decimal"
)

// DefaultCurrency is assumed when a candidate carries no currency
const DefaultCurrency = "USD"

// maxDescriptionLen caps descriptions in runes
const maxDescriptionLen = 255

// SupportedCurrencies is the fixed set of currencies a transaction may use
var SupportedCurrencies = []string{
	"USD", "EUR", "GBP", "CAD", "AUD", "JPY", "CHF", "CNY", "INR",
	"MXN", "BRL", "NGN", "KES", "ZAR", "SEK", "NOK", "DKK", "PLN",
}

// DropReason names why a candidate element was discarded
type DropReason string

const (
	DropShape       DropReason = "shape"
	DropDescription DropReason = "description"
	DropAmount      DropReason = "amount"
	DropDate        DropReason = "date"
	DropCurrency    DropReason = "currency"
	DropSchema      DropReason = "schema"
)

// Reconciliation is the outcome of validating a batch of model elements
type Reconciliation struct {
	Candidates     []CandidateTransaction
	Dropped        int
	DroppedReasons map[DropReason]int
}

func (r *Reconciliation) drop(reason DropReason) {
	r.Dropped++
	r.DroppedReasons[reason]++
}

var (
	descriptionKeys = []string{"description", "activity", "title", "merchant", "name"}
	dateKeys        = []string{"date", "occurredAt", "occurred_at", "transaction_date", "tx_date"}
	currencyKeys    = []string{"currency", "currency_code"}

	dateLayouts = []string{
		DateLayout,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
		"2006/01/02",
		"01/02/2006",
		"1/2/2006",
		"01/02/06",
		"02-01-2006",
		"02.01.2006",
		"Jan 2, 2006",
		"January 2, 2006",
		"2 Jan 2006",
		"2 January 2006",
	}

	currencySymbols = map[string]string{
		"$": "USD", "US$": "USD", "€": "EUR", "£": "GBP", "¥": "JPY", "₦": "NGN", "₹": "INR",
	}

	reAmountNoise = regexp.MustCompile(`[^0-9.,\-()]`)
	reSpaces      = regexp.MustCompile(`\s+`)
)

const candidateSchema = `{
  "type": "object",
  "additionalProperties": false,
  "required": ["description", "amount", "currency", "date", "status"],
  "properties": {
    "description": {"type": "string", "minLength": 1, "maxLength": 255},
    "amount": {"type": "string", "pattern": "^[0-9]+\\.[0-9]{2}$"},
    "currency": {"type": "string", "enum": %s},
    "date": {"type": "string", "pattern": "^[0-9]{4}-[0-9]{2}-[0-9]{2}$"},
    "status": {"type": "string", "enum": ["failed", "processing", "completed"]}
  }
}`

// Validator coerces loosely typed model output into CandidateTransactions and
// gates every candidate through a JSON schema
type Validator struct {
	schema        *jsonschema.Schema
	defaultStatus Status
}

// NewValidator creates a Validator assigning defaultStatus to coerced candidates
func NewValidator(defaultStatus Status) (*Validator, error) {
	if !defaultStatus.Valid() {
		return nil, fmt.Errorf("invalid default status %q", defaultStatus)
	}
	enum, err := json.Marshal(SupportedCurrencies)
	if err != nil {
		return nil, fmt.Errorf("marshaling currencies: %w", err)
	}
	schema, err := jsonschema.CompileString("candidate.json", fmt.Sprintf(candidateSchema, enum))
	if err != nil {
		return nil, fmt.Errorf("compiling candidate schema: %w", err)
	}
	return &Validator{schema: schema, defaultStatus: defaultStatus}, nil
}

// MustNewValidator is NewValidator that panics on error
func MustNewValidator(defaultStatus Status) *Validator {
	v, err := NewValidator(defaultStatus)
	if err != nil {
		panic(err)
	}
	return v
}

// Reconcile validates each element and keeps the survivors in input order.
// Invalid elements are dropped and counted; this never fails.
func (v *Validator) Reconcile(elems []any) Reconciliation {
	out := Reconciliation{
		Candidates:     make([]CandidateTransaction, 0, len(elems)),
		DroppedReasons: make(map[DropReason]int),
	}
	for _, elem := range elems {
		obj, ok := elem.(map[string]any)
		if !ok {
			out.drop(DropShape)
			continue
		}
		c, reason, ok := v.coerce(obj)
		if !ok {
			out.drop(reason)
			continue
		}
		if err := v.Validate(c); err != nil {
			out.drop(DropSchema)
			continue
		}
		out.Candidates = append(out.Candidates, c)
	}
	return out
}

// Validate checks a fully typed candidate against the transaction schema
func (v *Validator) Validate(c CandidateTransaction) error {
	if err := CheckAmountRange(c.Amount.Decimal); err != nil {
		return err
	}
	if !c.Amount.IsPositive() {
		return fmt.Errorf("amount must be positive, got %s", c.Amount.Decimal.String())
	}
	if !c.Amount.Equal(c.Amount.Round(2)) {
		return fmt.Errorf("amount must have at most two decimals, got %s", c.Amount.Decimal.String())
	}
	if c.Date.IsZero() {
		return errors.New("date is required")
	}
	doc := map[string]any{
		"description": c.Description,
		"amount":      c.Amount.String(),
		"currency":    c.Currency,
		"date":        c.Date.String(),
		"status":      string(c.Status),
	}
	if err := v.schema.Validate(doc); err != nil {
		return fmt.Errorf("candidate does not match schema: %w", err)
	}
	return nil
}

// Normalize fills defaults on a caller-supplied candidate (manual entry or a
// reviewed batch) before validation
func (v *Validator) Normalize(c CandidateTransaction) CandidateTransaction {
	c.Description = cleanDescription(c.Description)
	c.Currency = strings.ToUpper(strings.TrimSpace(c.Currency))
	if c.Currency == "" {
		c.Currency = DefaultCurrency
	}
	if c.Status == "" {
		c.Status = v.defaultStatus
	}
	c.Date = NewDate(c.Date.Time)
	return c
}

func (v *Validator) coerce(obj map[string]any) (CandidateTransaction, DropReason, bool) {
	description := cleanDescription(stringField(obj, descriptionKeys))
	if description == "" {
		return CandidateTransaction{}, DropDescription, false
	}

	amount, ok := coerceAmount(obj["amount"])
	if !ok {
		return CandidateTransaction{}, DropAmount, false
	}

	date, ok := coerceDate(stringField(obj, dateKeys))
	if !ok {
		return CandidateTransaction{}, DropDate, false
	}

	currency, ok := coerceCurrency(stringField(obj, currencyKeys))
	if !ok {
		return CandidateTransaction{}, DropCurrency, false
	}

	return CandidateTransaction{
		Description: description,
		Amount:      amount,
		Currency:    currency,
		Date:        date,
		Status:      v.defaultStatus,
	}, "", true
}

// stringField returns the first non-empty string value among keys
func stringField(obj map[string]any, keys []string) string {
	for _, k := range keys {
		switch t := obj[k].(type) {
		case string:
			if s := strings.TrimSpace(t); s != "" {
				return s
			}
		case json.Number:
			return t.String()
		}
	}
	return ""
}

func cleanDescription(s string) string {
	s = strings.TrimSpace(reSpaces.ReplaceAllString(s, " "))
	if utf8.RuneCountInString(s) > maxDescriptionLen {
		s = string([]rune(s)[:maxDescriptionLen])
	}
	return s
}

// coerceAmount accepts numbers and numeric strings such as "$1,234.50" or "12,50".
// Missing, non-numeric, zero and negative amounts are rejected.
func coerceAmount(v any) (Amount, bool) {
	var d decimal.Decimal
	switch t := v.(type) {
	case json.Number:
		parsed, err := decimal.NewFromString(t.String())
		if err != nil {
			return Amount{}, false
		}
		d = parsed
	case float64:
		if math.IsNaN(t) || math.IsInf(t, 0) {
			return Amount{}, false
		}
		d = decimal.NewFromFloat(t)
	case string:
		parsed, ok := parseAmountString(t)
		if !ok {
			return Amount{}, false
		}
		d = parsed
	default:
		return Amount{}, false
	}

	if CheckAmountRange(d) != nil {
		return Amount{}, false
	}
	amount := NewAmount(d)
	if !amount.IsPositive() {
		return Amount{}, false
	}
	return amount, true
}

func parseAmountString(s string) (decimal.Decimal, bool) {
	s = reAmountNoise.ReplaceAllString(strings.TrimSpace(s), "")
	if s == "" {
		return decimal.Decimal{}, false
	}
	// Accounting notation for negatives
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + strings.Trim(s, "()")
	}
	if strings.ContainsAny(s, "()") {
		return decimal.Decimal{}, false
	}

	switch {
	case strings.Contains(s, ".") && strings.Contains(s, ","):
		// Whichever separator comes last is the decimal point
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case strings.Contains(s, ","):
		idx := strings.LastIndex(s, ",")
		if strings.Count(s, ",") == 1 && len(s)-idx-1 == 2 {
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}

func coerceDate(s string) (Date, bool) {
	if s == "" {
		return Date{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			if t.Year() < 1900 || t.Year() > 2200 {
				return Date{}, false
			}
			return NewDate(t), true
		}
	}
	return Date{}, false
}

func coerceCurrency(s string) (string, bool) {
	if s == "" || strings.EqualFold(s, "null") {
		return DefaultCurrency, true
	}
	if code, ok := currencySymbols[s]; ok {
		return code, true
	}
	code := strings.ToUpper(s)
	for _, c := range SupportedCurrencies {
		if c == code {
			return code, true
		}
	}
	return "", false
}
