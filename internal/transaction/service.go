package transaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/zombor/receipt-ledger/internal/scanning"
)

// IDGenerator generates unique IDs for transactions
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Scanner runs the receipt extraction pipeline
type Scanner interface {
	Scan(ctx context.Context, userID string, upload scanning.UploadedReceipt) (*scanning.ScanResult, error)
}

type uuidGenerator struct{}

func (uuidGenerator) Generate() string {
	return uuid.NewString()
}

type defaultTimeSource struct{}

func (defaultTimeSource) Now() time.Time {
	return time.Now()
}

// InvalidTransactionError reports a candidate in a batch that failed validation.
// Nothing is persisted when it is returned.
type InvalidTransactionError struct {
	Index int
	Err   error
}

func (e *InvalidTransactionError) Error() string {
	return fmt.Sprintf("transaction %d is invalid: %v", e.Index, e.Err)
}

func (e *InvalidTransactionError) Unwrap() error { return e.Err }

// SaveAllError reports a batch that was only partly persisted
type SaveAllError struct {
	Saved       []*Transaction
	FailedIndex int
	Err         error
}

func (e *SaveAllError) Error() string {
	return fmt.Sprintf("saved %d transactions before failing at index %d: %v", len(e.Saved), e.FailedIndex, e.Err)
}

func (e *SaveAllError) Unwrap() error { return e.Err }

// ErrEmptyBatch is returned when save-all is called with no transactions
var ErrEmptyBatch = errors.New("at least one transaction is required")

// Service handles transaction operations
type Service struct {
	db          DB
	scanner     Scanner
	scanned     *scanning.Validator
	manual      *scanning.Validator
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with uuid IDs and the wall clock
func NewService(db DB, scanner Scanner) *Service {
	return NewServiceWithDeps(db, scanner, uuidGenerator{}, defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, scanner Scanner, idGen IDGenerator, timeSrc TimeSource) *Service {
	return &Service{
		db:          db,
		scanner:     scanner,
		scanned:     scanning.MustNewValidator(scanning.StatusProcessing),
		manual:      scanning.MustNewValidator(scanning.StatusCompleted),
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
}

// ScanReceipt extracts candidate transactions from an upload. Nothing is persisted.
func (s *Service) ScanReceipt(ctx context.Context, userID string, upload scanning.UploadedReceipt) (*scanning.ScanResult, error) {
	result, err := s.scanner.Scan(ctx, userID, upload)
	if err != nil {
		return nil, fmt.Errorf("scanning receipt: %w", err)
	}
	return result, nil
}

// SaveAll persists a reviewed batch for userID in order. Every candidate is
// validated first; if any is invalid nothing is saved. A storage failure
// partway stops the batch and returns a SaveAllError carrying what was saved.
func (s *Service) SaveAll(ctx context.Context, userID string, candidates []scanning.CandidateTransaction) ([]*Transaction, error) {
	if len(candidates) == 0 {
		return nil, ErrEmptyBatch
	}

	normalized := make([]scanning.CandidateTransaction, len(candidates))
	for i, c := range candidates {
		n := s.scanned.Normalize(c)
		if err := s.scanned.Validate(n); err != nil {
			return nil, &InvalidTransactionError{Index: i, Err: err}
		}
		normalized[i] = n
	}

	saved := make([]*Transaction, 0, len(normalized))
	for i, c := range normalized {
		if err := ctx.Err(); err != nil {
			return saved, &SaveAllError{Saved: saved, FailedIndex: i, Err: err}
		}
		t := s.newTransaction(userID, c, SourceScan)
		if err := s.db.SaveTransaction(t); err != nil {
			slog.Error("Failed to save transaction",
				"user_id", userID,
				"index", i,
				"saved", len(saved),
				"error", err,
			)
			return saved, &SaveAllError{Saved: saved, FailedIndex: i, Err: err}
		}
		saved = append(saved, t)
	}

	slog.Info("Saved transactions", "user_id", userID, "count", len(saved))
	return saved, nil
}

// CreateTransaction persists a single manually entered transaction
func (s *Service) CreateTransaction(ctx context.Context, userID string, c scanning.CandidateTransaction) (*Transaction, error) {
	c = s.manual.Normalize(c)
	if err := s.manual.Validate(c); err != nil {
		return nil, &InvalidTransactionError{Index: 0, Err: err}
	}
	t := s.newTransaction(userID, c, SourceManual)
	if err := s.db.SaveTransaction(t); err != nil {
		return nil, fmt.Errorf("saving transaction to database: %w", err)
	}
	return t, nil
}

// GetTransaction retrieves one of the user's transactions
func (s *Service) GetTransaction(ctx context.Context, userID, id string) (*Transaction, error) {
	t, err := s.db.GetTransaction(userID, id)
	if err != nil {
		return nil, fmt.Errorf("getting transaction: %w", err)
	}
	return t, nil
}

// ListTransactions returns the user's transactions, newest date first
func (s *Service) ListTransactions(ctx context.Context, userID string) ([]*Transaction, error) {
	ts, err := s.db.ListTransactions(userID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return ts, nil
}

// DeleteTransaction removes one of the user's transactions
func (s *Service) DeleteTransaction(ctx context.Context, userID, id string) error {
	if err := s.db.DeleteTransaction(userID, id); err != nil {
		return fmt.Errorf("deleting transaction: %w", err)
	}
	return nil
}

func (s *Service) newTransaction(userID string, c scanning.CandidateTransaction, source Source) *Transaction {
	now := s.timeSource.Now()
	return &Transaction{
		ID:          s.idGenerator.Generate(),
		UserID:      userID,
		Description: c.Description,
		Amount:      c.Amount,
		Currency:    c.Currency,
		Date:        c.Date,
		Status:      c.Status,
		Source:      source,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}
