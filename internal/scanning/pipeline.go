package scanning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// ScanResult is what one receipt scan produces. Nothing in it is persisted.
type ScanResult struct {
	ID             string                 `json:"scan_id"`
	Transactions   []CandidateTransaction `json:"transactions"`
	Dropped        int                    `json:"dropped"`
	DroppedReasons map[DropReason]int     `json:"dropped_reasons,omitempty"`
	Malformed      bool                   `json:"malformed"`
	NoText         bool                   `json:"no_text"`
	OCRConfidence  float32                `json:"ocr_confidence"`
}

// Pipeline runs normalize, OCR, completion and reconciliation for one upload
// at a time per user
type Pipeline struct {
	normalizer *Normalizer
	extractor  TextExtractor
	completer  Completer
	validator  *Validator
	sink       ResponseSink
	sem        *semaphore.Weighted
	ocrTimeout time.Duration
	newID      func() string

	mu       sync.Mutex
	inFlight map[string]struct{}
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithResponseSink records malformed model responses
func WithResponseSink(s ResponseSink) Option {
	return func(p *Pipeline) {
		if s != nil {
			p.sink = s
		}
	}
}

// WithMaxConcurrentScans bounds OCR+completion work across all users
func WithMaxConcurrentScans(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.sem = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithOCRTimeout bounds the OCR stage independently of the request deadline
func WithOCRTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d > 0 {
			p.ocrTimeout = d
		}
	}
}

// WithIDGenerator overrides scan id generation for testing
func WithIDGenerator(fn func() string) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.newID = fn
		}
	}
}

// NewPipeline wires the stages together
func NewPipeline(normalizer *Normalizer, extractor TextExtractor, completer Completer, validator *Validator, opts ...Option) *Pipeline {
	p := &Pipeline{
		normalizer: normalizer,
		extractor:  extractor,
		completer:  completer,
		validator:  validator,
		sink:       NopSink{},
		sem:        semaphore.NewWeighted(4),
		ocrTimeout: time.Minute,
		newID:      uuid.NewString,
		inFlight:   make(map[string]struct{}),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Scan extracts candidate transactions from an uploaded receipt for userID.
// A second Scan for the same user while one is running fails with ErrScanInProgress.
func (p *Pipeline) Scan(ctx context.Context, userID string, upload UploadedReceipt) (*ScanResult, error) {
	normalized, err := p.normalizer.Normalize(upload)
	if err != nil {
		return nil, err
	}

	if !p.begin(userID) {
		return nil, ErrScanInProgress
	}
	defer p.end(userID)

	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for scan slot: %w", err)
	}
	defer p.sem.Release(1)

	result := &ScanResult{
		ID:             p.newID(),
		Transactions:   []CandidateTransaction{},
		DroppedReasons: map[DropReason]int{},
	}
	log := slog.With("scan_id", result.ID, "user_id", userID)
	start := time.Now()

	text, err := p.extractText(ctx, normalized)
	if err != nil {
		log.Error("Failed to extract text", "media_type", normalized.MediaType,
			"file_size", len(normalized.Data), "error", err)
		return nil, err
	}
	result.OCRConfidence = TextConfidence(text)
	log.Info("OCR complete", "chars", len(text), "confidence", result.OCRConfidence,
		"elapsed_ms", time.Since(start).Milliseconds())

	if strings.TrimSpace(text) == "" {
		result.NoText = true
		return result, nil
	}

	raw, err := p.completer.Complete(ctx, BuildPrompt(text))
	if err != nil {
		log.Error("Failed to complete transaction prompt", "error", err)
		return nil, err
	}

	elems, malformed := ParseCandidates(raw)
	if malformed != nil {
		result.Malformed = true
		log.Warn("Model response unusable", "reason", malformed.Reason, "raw_len", len(raw))
		if err := p.sink.Record(result.ID, malformed.Reason, raw); err != nil {
			log.Warn("Failed to record model response", "error", err)
		}
	}

	rec := p.validator.Reconcile(elems)
	result.Transactions = rec.Candidates
	result.Dropped = rec.Dropped
	result.DroppedReasons = rec.DroppedReasons

	log.Info("Receipt scanned",
		"candidates", len(rec.Candidates),
		"dropped", rec.Dropped,
		"malformed", result.Malformed,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

func (p *Pipeline) extractText(ctx context.Context, r *NormalizedReceipt) (string, error) {
	ocrCtx, cancel := context.WithTimeout(ctx, p.ocrTimeout)
	defer cancel()

	text, err := p.extractor.ExtractText(ocrCtx, r.Data, r.MediaType)
	if err == nil {
		return text, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "", &ExtractionError{Err: fmt.Errorf("ocr timed out after %s", p.ocrTimeout)}
	}
	return "", err
}

func (p *Pipeline) begin(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, busy := p.inFlight[userID]; busy {
		return false
	}
	p.inFlight[userID] = struct{}{}
	return true
}

func (p *Pipeline) end(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inFlight, userID)
}

// Close releases the completion provider
func (p *Pipeline) Close() error {
	return p.completer.Close()
}
