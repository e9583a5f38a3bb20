package transaction

import (
	"errors"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

func newTestTransaction(id, userID, description, amount, date string) *Transaction {
	d, err := scanning.ParseDate(date)
	Expect(err).NotTo(HaveOccurred())
	created := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	return &Transaction{
		ID:          id,
		UserID:      userID,
		Description: description,
		Amount:      scanning.NewAmount(decimal.RequireFromString(amount)),
		Currency:    "EUR",
		Date:        d,
		Status:      scanning.StatusProcessing,
		Source:      SourceScan,
		CreatedAt:   created,
		UpdatedAt:   created,
	}
}

// describeStore runs the same persistence specs against any DB implementation
func describeStore(name string, open func(path string) (DB, error)) {
	Describe(name, func() {
		var db DB

		BeforeEach(func() {
			var err error
			db, err = open(filepath.Join(GinkgoT().TempDir(), "test.db"))
			Expect(err).NotTo(HaveOccurred())
		})

		AfterEach(func() {
			if db != nil {
				db.Close()
			}
		})

		Describe("SaveTransaction and GetTransaction", func() {
			var (
				saved  *Transaction
				loaded *Transaction
				err    error
			)

			BeforeEach(func() {
				saved = newTestTransaction("tx-1", "user-1", "Café Noir", "1234.56", "2024-02-29")
			})

			JustBeforeEach(func() {
				Expect(db.SaveTransaction(saved)).To(Succeed())
				loaded, err = db.GetTransaction("user-1", "tx-1")
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should round-trip the description", func() {
				Expect(loaded.Description).To(Equal("Café Noir"))
			})

			It("should round-trip the amount exactly", func() {
				Expect(loaded.Amount.Equal(decimal.RequireFromString("1234.56"))).To(BeTrue())
			})

			It("should round-trip the currency", func() {
				Expect(loaded.Currency).To(Equal("EUR"))
			})

			It("should round-trip the date", func() {
				Expect(loaded.Date.String()).To(Equal("2024-02-29"))
			})

			It("should round-trip status, source and timestamps", func() {
				Expect(loaded.Status).To(Equal(scanning.StatusProcessing))
				Expect(loaded.Source).To(Equal(SourceScan))
				Expect(loaded.CreatedAt.Equal(saved.CreatedAt)).To(BeTrue())
			})

			When("the transaction is saved again", func() {
				JustBeforeEach(func() {
					saved.Status = scanning.StatusCompleted
					Expect(db.SaveTransaction(saved)).To(Succeed())
					loaded, err = db.GetTransaction("user-1", "tx-1")
				})

				It("should update it in place", func() {
					Expect(loaded.Status).To(Equal(scanning.StatusCompleted))
				})
			})
		})

		Describe("GetTransaction", func() {
			It("should return ErrNotFound for a missing id", func() {
				_, err := db.GetTransaction("user-1", "nope")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})

			It("should not return another user's transaction", func() {
				Expect(db.SaveTransaction(newTestTransaction("tx-1", "user-1", "Lunch", "9.00", "2024-01-01"))).To(Succeed())
				_, err := db.GetTransaction("user-2", "tx-1")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})
		})

		Describe("SaveTransaction", func() {
			It("should reject a transaction without an owner", func() {
				Expect(db.SaveTransaction(newTestTransaction("tx-1", "", "Lunch", "9.00", "2024-01-01"))).NotTo(Succeed())
			})
		})

		Describe("ListTransactions", func() {
			BeforeEach(func() {
				Expect(db.SaveTransaction(newTestTransaction("a", "user-1", "January", "1.00", "2024-01-15"))).To(Succeed())
				Expect(db.SaveTransaction(newTestTransaction("b", "user-1", "March", "2.00", "2024-03-15"))).To(Succeed())
				Expect(db.SaveTransaction(newTestTransaction("c", "user-1", "February", "3.00", "2024-02-15"))).To(Succeed())
				Expect(db.SaveTransaction(newTestTransaction("d", "user-2", "Other", "4.00", "2024-04-15"))).To(Succeed())
			})

			It("should return only the user's transactions", func() {
				ts, err := db.ListTransactions("user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect(ts).To(HaveLen(3))
			})

			It("should order by date, newest first", func() {
				ts, err := db.ListTransactions("user-1")
				Expect(err).NotTo(HaveOccurred())
				Expect([]string{ts[0].Description, ts[1].Description, ts[2].Description}).
					To(Equal([]string{"March", "February", "January"}))
			})

			It("should order same-day transactions by creation time, newest first", func() {
				whole := newTestTransaction("e", "user-3", "Whole second", "1.00", "2024-05-01")
				whole.CreatedAt = time.Date(2024, 5, 1, 10, 0, 5, 0, time.UTC)
				fraction := newTestTransaction("f", "user-3", "Half second later", "1.00", "2024-05-01")
				fraction.CreatedAt = time.Date(2024, 5, 1, 10, 0, 5, 500_000_000, time.UTC)
				Expect(db.SaveTransaction(fraction)).To(Succeed())
				Expect(db.SaveTransaction(whole)).To(Succeed())

				ts, err := db.ListTransactions("user-3")
				Expect(err).NotTo(HaveOccurred())
				Expect([]string{ts[0].ID, ts[1].ID}).To(Equal([]string{"f", "e"}))
			})

			It("should round-trip sub-second creation times", func() {
				t := newTestTransaction("g", "user-4", "Precise", "1.00", "2024-05-01")
				t.CreatedAt = time.Date(2024, 5, 1, 10, 0, 5, 500_000_000, time.UTC)
				Expect(db.SaveTransaction(t)).To(Succeed())
				loaded, err := db.GetTransaction("user-4", "g")
				Expect(err).NotTo(HaveOccurred())
				Expect(loaded.CreatedAt.Equal(t.CreatedAt)).To(BeTrue())
			})

			It("should return an empty list for an unknown user", func() {
				ts, err := db.ListTransactions("nobody")
				Expect(err).NotTo(HaveOccurred())
				Expect(ts).NotTo(BeNil())
				Expect(ts).To(BeEmpty())
			})
		})

		Describe("DeleteTransaction", func() {
			BeforeEach(func() {
				Expect(db.SaveTransaction(newTestTransaction("tx-1", "user-1", "Lunch", "9.00", "2024-01-01"))).To(Succeed())
			})

			It("should remove the transaction", func() {
				Expect(db.DeleteTransaction("user-1", "tx-1")).To(Succeed())
				_, err := db.GetTransaction("user-1", "tx-1")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
			})

			It("should not delete another user's transaction", func() {
				err := db.DeleteTransaction("user-2", "tx-1")
				Expect(errors.Is(err, ErrNotFound)).To(BeTrue())
				_, err = db.GetTransaction("user-1", "tx-1")
				Expect(err).NotTo(HaveOccurred())
			})
		})
	})
}

var _ = Describe("Stores", func() {
	describeStore("BoltDB", func(path string) (DB, error) {
		return NewBoltDB(path)
	})

	describeStore("SQLiteDB", func(path string) (DB, error) {
		return NewSQLiteDB(path)
	})
})
