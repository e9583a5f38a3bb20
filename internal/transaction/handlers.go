package transaction

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/zombor/receipt-ledger/internal/scanning"
)

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+UserIDHeader)
	w.Header().Set("Access-Control-Max-Age", "3600")
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok"))
}

// handleScanReceipt runs the extraction pipeline over an uploaded receipt
// and returns the candidates for review. Nothing is saved.
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())
	maxBytes := s.config.MaxUploadBytes

	// Oversized files still need their declared size reported, so the body
	// cap leaves room above the upload limit.
	r.Body = http.MaxBytesReader(w, r.Body, 2*maxBytes+1<<20)
	if err := r.ParseMultipartForm(maxBytes + 1<<20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeScanError(w, bodyTooLarge(maxBytes))
			return
		}
		slog.Error("Error parsing multipart form", "error", err)
		writeError(w, http.StatusBadRequest, "Error parsing form")
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		errorMsg := "No file provided"
		if errors.Is(err, http.ErrMissingFile) {
			errorMsg = "No file was selected. Please choose a file to upload."
		}
		writeError(w, http.StatusBadRequest, errorMsg)
		return
	}
	defer f.Close()

	upload := scanning.UploadedReceipt{
		Filename:  header.Filename,
		MediaType: header.Header.Get("Content-Type"),
		Size:      header.Size,
	}
	// Oversized files are rejected by size alone without reading them
	if header.Size <= maxBytes {
		upload.Data, err = io.ReadAll(f)
		if err != nil {
			slog.Error("Error reading file data", "error", err, "filename", header.Filename)
			writeError(w, http.StatusInternalServerError, "Error reading file. Please try again.")
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.config.ScanTimeout)
	defer cancel()

	result, err := s.service.ScanReceipt(ctx, userID, upload)
	if err != nil {
		slog.Error("Error scanning receipt", "user_id", userID, "filename", header.Filename, "error", err)
		writeScanError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// bodyTooLarge reports a request body that hit the hard cap. The file size
// was never read, so only the limit is known.
func bodyTooLarge(maxBytes int64) *scanning.ValidationError {
	return &scanning.ValidationError{Constraint: scanning.ConstraintSize, MaxSize: maxBytes}
}

// writeScanError maps the scan error taxonomy onto HTTP statuses
func writeScanError(w http.ResponseWriter, err error) {
	var (
		validation *scanning.ValidationError
		extraction *scanning.ExtractionError
		config     *scanning.ConfigurationError
		transient  *scanning.TransientError
	)
	switch {
	case errors.As(err, &validation):
		code := http.StatusUnsupportedMediaType
		if validation.Constraint == scanning.ConstraintSize {
			code = http.StatusRequestEntityTooLarge
		}
		writeJSON(w, code, map[string]string{
			"error":      validation.Error(),
			"constraint": string(validation.Constraint),
		})
	case errors.Is(err, scanning.ErrScanInProgress):
		writeError(w, http.StatusTooManyRequests, scanning.ErrScanInProgress.Error())
	case errors.As(err, &extraction):
		writeError(w, http.StatusUnprocessableEntity, "Could not read this image. Please try a clearer photo.")
	case errors.As(err, &config):
		writeError(w, http.StatusServiceUnavailable, "Receipt scanning is not configured correctly.")
	case errors.As(err, &transient):
		writeError(w, http.StatusBadGateway, "The extraction service is unavailable. Please try again.")
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "Scanning took too long. Please try again.")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "Request cancelled")
	default:
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

// handleSaveAll persists a reviewed batch of candidates
func (s *Server) handleSaveAll(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	var req struct {
		Transactions []scanning.CandidateTransaction `json:"transactions"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	saved, err := s.service.SaveAll(r.Context(), userID, req.Transactions)
	if err != nil {
		var (
			invalid *InvalidTransactionError
			partial *SaveAllError
		)
		switch {
		case errors.Is(err, ErrEmptyBatch):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.As(err, &invalid):
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"error": invalid.Error(),
				"index": invalid.Index,
			})
		case errors.As(err, &partial):
			writeJSON(w, http.StatusInternalServerError, map[string]any{
				"error":        "Some transactions could not be saved",
				"saved":        partial.Saved,
				"failed_index": partial.FailedIndex,
			})
		default:
			slog.Error("Error saving transactions", "error", err)
			writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"transactions": saved})
}

// handleCreateTransaction handles manual entry of a single transaction
func (s *Server) handleCreateTransaction(w http.ResponseWriter, r *http.Request) {
	userID := userFromContext(r.Context())

	var c scanning.CandidateTransaction
	if err := json.NewDecoder(r.Body).Decode(&c); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	t, err := s.service.CreateTransaction(r.Context(), userID, c)
	if err != nil {
		var invalid *InvalidTransactionError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Err.Error())
			return
		}
		slog.Error("Error creating transaction", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, t)
}

// handleListTransactions returns the caller's transactions
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	ts, err := s.service.ListTransactions(r.Context(), userFromContext(r.Context()))
	if err != nil {
		slog.Error("Error listing transactions", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	// Ensure we always return an array, not nil
	if ts == nil {
		ts = []*Transaction{}
	}
	writeJSON(w, http.StatusOK, ts)
}

// handleGetTransaction returns a single transaction
func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	t, err := s.service.GetTransaction(r.Context(), userFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		slog.Error("Error getting transaction", "error", err)
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	writeJSON(w, http.StatusOK, t)
}

// handleDeleteTransaction deletes a transaction
func (s *Server) handleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	err := s.service.DeleteTransaction(r.Context(), userFromContext(r.Context()), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			writeError(w, http.StatusNotFound, "Transaction not found")
			return
		}
		slog.Error("Error deleting transaction", "error", err)
		writeError(w, http.StatusInternalServerError, "Error deleting transaction")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
