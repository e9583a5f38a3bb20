package transaction

import (
	"time"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

// Source records how a transaction entered the ledger
type Source string

const (
	SourceScan   Source = "scan"
	SourceManual Source = "manual"
)

// Transaction is a persisted spending record owned by one user
type Transaction struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	Description string          `json:"description"`
	Amount      scanning.Amount `json:"amount"`
	Currency    string          `json:"currency"`
	Date        scanning.Date   `json:"date"`
	Status      scanning.Status `json:"status"`
	Source      Source          `json:"source"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

