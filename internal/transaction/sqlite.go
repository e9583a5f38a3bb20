package transaction

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/zombor/receipt-ledger/internal/scanning"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS transactions (
	id          TEXT PRIMARY KEY,
	user_id     TEXT NOT NULL,
	description TEXT NOT NULL,
	amount      TEXT NOT NULL,
	currency    TEXT NOT NULL DEFAULT 'USD',
	date        TEXT NOT NULL,
	status      TEXT NOT NULL CHECK (status IN ('failed', 'processing', 'completed')),
	source      TEXT NOT NULL,
	created_at  TEXT NOT NULL,
	updated_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_transactions_user_date ON transactions (user_id, date DESC);
`

// timestampLayout is fixed width so created_at sorts correctly as text
const timestampLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteDB implements the DB interface on SQLite. Amounts are stored as
// decimal text so no precision is lost.
type SQLiteDB struct {
	db *sql.DB
}

// NewSQLiteDB opens (or creates) the database at path and ensures the schema exists
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite: %w", err)
	}
	// Single writer avoids SQLITE_BUSY under concurrent saves
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return &SQLiteDB{db: db}, nil
}

// SaveTransaction inserts or replaces a transaction
func (s *SQLiteDB) SaveTransaction(t *Transaction) error {
	if t.UserID == "" {
		return errors.New("transaction has no owner")
	}
	_, err := s.db.Exec(`
		INSERT INTO transactions (id, user_id, description, amount, currency, date, status, source, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			amount = excluded.amount,
			currency = excluded.currency,
			date = excluded.date,
			status = excluded.status,
			updated_at = excluded.updated_at
		WHERE transactions.user_id = excluded.user_id`,
		t.ID, t.UserID, t.Description, t.Amount.String(), t.Currency, t.Date.String(),
		string(t.Status), string(t.Source),
		t.CreatedAt.UTC().Format(timestampLayout), t.UpdatedAt.UTC().Format(timestampLayout),
	)
	if err != nil {
		return fmt.Errorf("saving transaction: %w", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by ID
func (s *SQLiteDB) GetTransaction(userID, id string) (*Transaction, error) {
	row := s.db.QueryRow(`
		SELECT id, user_id, description, amount, currency, date, status, source, created_at, updated_at
		FROM transactions WHERE user_id = ? AND id = ?`, userID, id)
	t, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTransactions returns a user's transactions, newest date first
func (s *SQLiteDB) ListTransactions(userID string) ([]*Transaction, error) {
	rows, err := s.db.Query(`
		SELECT id, user_id, description, amount, currency, date, status, source, created_at, updated_at
		FROM transactions WHERE user_id = ?
		ORDER BY date DESC, created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	defer rows.Close()

	transactions := make([]*Transaction, 0)
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		transactions = append(transactions, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing transactions: %w", err)
	}
	return transactions, nil
}

// DeleteTransaction removes a user's transaction
func (s *SQLiteDB) DeleteTransaction(userID, id string) error {
	res, err := s.db.Exec(`DELETE FROM transactions WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("deleting transaction: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting transaction: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*Transaction, error) {
	var (
		t                    Transaction
		amount, date         string
		status, source       string
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.UserID, &t.Description, &amount, &t.Currency, &date,
		&status, &source, &createdAt, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scanning transaction: %w", err)
	}

	var err error
	if t.Amount, err = scanning.ParseAmount(amount); err != nil {
		return nil, err
	}
	if t.Date, err = scanning.ParseDate(date); err != nil {
		return nil, err
	}
	if t.CreatedAt, err = time.Parse(timestampLayout, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if t.UpdatedAt, err = time.Parse(timestampLayout, updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	t.Status = scanning.Status(status)
	t.Source = Source(source)
	return &t, nil
}
