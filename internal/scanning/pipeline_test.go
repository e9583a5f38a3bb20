package scanning

import (
	"context"
	"errors"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

type fakeExtractor struct {
	text    string
	err     error
	calls   int
	started chan struct{}
	release chan struct{}
}

func (f *fakeExtractor) ExtractText(ctx context.Context, data []byte, mediaType string) (string, error) {
	f.calls++
	if f.started != nil {
		close(f.started)
	}
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return f.text, f.err
}

type recordedResponse struct {
	id, reason, raw string
}

type memorySink struct {
	records []recordedResponse
}

func (m *memorySink) Record(id, reason, raw string) error {
	m.records = append(m.records, recordedResponse{id, reason, raw})
	return nil
}

var _ = Describe("Pipeline", func() {
	var (
		extractor *fakeExtractor
		completer *scriptedCompleter
		sink      *memorySink
		pipeline  *Pipeline
		upload    UploadedReceipt
		ctx       context.Context
		result    *ScanResult
		err       error
	)

	BeforeEach(func() {
		extractor = &fakeExtractor{text: "COFFEE SHOP\n2024-03-01\nTOTAL $4.50"}
		completer = &scriptedCompleter{
			outputs: []string{`[{"activity":"Coffee Shop","amount":4.50,"currency":"USD","date":"2024-03-01"}]`},
		}
		sink = &memorySink{}
		upload = UploadedReceipt{
			Filename:  "receipt.jpg",
			MediaType: "image/jpeg",
			Data:      []byte("jpeg"),
			Size:      4,
		}
		ctx = context.Background()
	})

	JustBeforeEach(func() {
		pipeline = NewPipeline(NewNormalizer(), extractor, completer, MustNewValidator(StatusProcessing),
			WithResponseSink(sink),
			WithIDGenerator(func() string { return "scan-1" }),
		)
		result, err = pipeline.Scan(ctx, "user-1", upload)
	})

	When("the receipt is the Coffee Shop receipt", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return exactly one candidate", func() {
			Expect(result.Transactions).To(HaveLen(1))
		})

		It("should extract the candidate fields", func() {
			c := result.Transactions[0]
			Expect(c.Description).To(Equal("Coffee Shop"))
			Expect(c.Amount.Equal(decimal.RequireFromString("4.50"))).To(BeTrue())
			Expect(c.Currency).To(Equal("USD"))
			Expect(c.Date.String()).To(Equal("2024-03-01"))
			Expect(c.Status).To(Equal(StatusProcessing))
		})

		It("should send the OCR text in the prompt", func() {
			Expect(completer.prompts).To(HaveLen(1))
			Expect(completer.prompts[0]).To(ContainSubstring("TOTAL $4.50"))
		})

		It("should report the scan id and OCR confidence", func() {
			Expect(result.ID).To(Equal("scan-1"))
			Expect(result.OCRConfidence).To(BeNumerically(">", 0))
		})

		It("should not record anything to the sink", func() {
			Expect(sink.records).To(BeEmpty())
		})
	})

	When("OCR reads a one-line Coffee Shop receipt", func() {
		BeforeEach(func() {
			extractor.text = "Total: $12.50 Coffee Shop 2025-01-10"
			completer.outputs = []string{`[{"description":"Coffee Shop","amount":12.50,"date":"2025-01-10"}]`}
		})

		It("should send the exact OCR text to the model", func() {
			Expect(completer.prompts).To(HaveLen(1))
			Expect(completer.prompts[0]).To(HaveSuffix("Total: $12.50 Coffee Shop 2025-01-10"))
		})

		It("should return exactly one candidate", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Transactions).To(HaveLen(1))
		})

		It("should carry the description, amount and date", func() {
			c := result.Transactions[0]
			Expect(c.Description).To(Equal("Coffee Shop"))
			Expect(c.Amount.Equal(decimal.RequireFromString("12.50"))).To(BeTrue())
			Expect(c.Amount.String()).To(Equal("12.50"))
			Expect(c.Date.String()).To(Equal("2025-01-10"))
		})

		It("should default to USD and processing", func() {
			c := result.Transactions[0]
			Expect(c.Currency).To(Equal("USD"))
			Expect(c.Status).To(Equal(StatusProcessing))
		})
	})

	When("a 6 MB JPEG is uploaded", func() {
		BeforeEach(func() {
			upload.Size = 6 << 20
			upload.Data = nil
		})

		It("should return a size ValidationError", func() {
			var vErr *ValidationError
			Expect(errors.As(err, &vErr)).To(BeTrue())
			Expect(vErr.Constraint).To(Equal(ConstraintSize))
		})

		It("should not run OCR", func() {
			Expect(extractor.calls).To(Equal(0))
		})

		It("should not call the completion endpoint", func() {
			Expect(completer.calls).To(Equal(0))
		})
	})

	When("the model answers with an empty fenced array", func() {
		BeforeEach(func() {
			completer.outputs = []string{"```json\n[]\n```"}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return zero candidates", func() {
			Expect(result.Transactions).To(BeEmpty())
		})

		It("should not be flagged malformed", func() {
			Expect(result.Malformed).To(BeFalse())
		})
	})

	When("the model answers with prose", func() {
		BeforeEach(func() {
			completer.outputs = []string{"I could not find any transactions."}
		})

		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should return zero candidates flagged malformed", func() {
			Expect(result.Transactions).To(BeEmpty())
			Expect(result.Malformed).To(BeTrue())
		})

		It("should record the raw response", func() {
			Expect(sink.records).To(HaveLen(1))
			Expect(sink.records[0].id).To(Equal("scan-1"))
			Expect(sink.records[0].raw).To(Equal("I could not find any transactions."))
		})
	})

	When("some elements are invalid", func() {
		BeforeEach(func() {
			completer.outputs = []string{`[{"description":"Lunch","amount":"12.00","date":"2024-03-02"},{"description":"","amount":1,"date":"2024-03-02"}]`}
		})

		It("should return the valid subset and the dropped count", func() {
			Expect(result.Transactions).To(HaveLen(1))
			Expect(result.Dropped).To(Equal(1))
			Expect(result.DroppedReasons).To(HaveKeyWithValue(DropDescription, 1))
		})
	})

	When("OCR finds no text", func() {
		BeforeEach(func() {
			extractor.text = ""
		})

		It("should return zero candidates without an error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Transactions).To(BeEmpty())
			Expect(result.NoText).To(BeTrue())
		})

		It("should not call the completion endpoint", func() {
			Expect(completer.calls).To(Equal(0))
		})
	})

	When("OCR cannot read the buffer", func() {
		BeforeEach(func() {
			extractor.err = &ExtractionError{Err: errors.New("corrupt")}
		})

		It("should return the ExtractionError", func() {
			var eErr *ExtractionError
			Expect(errors.As(err, &eErr)).To(BeTrue())
		})

		It("should not call the completion endpoint", func() {
			Expect(completer.calls).To(Equal(0))
		})
	})

	When("the completion credential is rejected", func() {
		BeforeEach(func() {
			completer.errs = []error{&ConfigurationError{Err: errors.New("401")}}
		})

		It("should return the ConfigurationError", func() {
			Expect(isConfigurationError(err)).To(BeTrue())
		})
	})

	When("the request is cancelled", func() {
		BeforeEach(func() {
			c, cancel := context.WithCancel(context.Background())
			cancel()
			ctx = c
		})

		It("should return the context error", func() {
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})
	})

	Describe("per-user guard", func() {
		var (
			blocking *fakeExtractor
			p        *Pipeline
			done     chan error
		)

		BeforeEach(func() {
			blocking = &fakeExtractor{
				text:    "",
				started: make(chan struct{}),
				release: make(chan struct{}),
			}
			p = NewPipeline(NewNormalizer(), blocking, completer, MustNewValidator(StatusProcessing),
				WithOCRTimeout(5*time.Second))
			done = make(chan error, 1)
			go func() {
				defer GinkgoRecover()
				_, err := p.Scan(context.Background(), "user-2", upload)
				done <- err
			}()
			Eventually(blocking.started).Should(BeClosed())
		})

		AfterEach(func() {
			close(blocking.release)
			Eventually(done).Should(Receive(BeNil()))
		})

		It("should reject a second scan for the same user", func() {
			_, err := p.Scan(context.Background(), "user-2", upload)
			Expect(err).To(MatchError(ErrScanInProgress))
		})

		It("should still validate the upload first", func() {
			big := upload
			big.Size = 6 << 20
			_, err := p.Scan(context.Background(), "user-2", big)
			var vErr *ValidationError
			Expect(errors.As(err, &vErr)).To(BeTrue())
		})
	})
})
