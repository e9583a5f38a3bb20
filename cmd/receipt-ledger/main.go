package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"
	"github.com/zombor/receipt-ledger/internal/scanning"
	"github.com/zombor/receipt-ledger/internal/transaction"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	// A missing .env is fine
	_ = godotenv.Load()

	fs := ff.NewFlagSet("receipt-ledger")
	var (
		port        = fs.IntLong("port", 8080, "HTTP server port")
		store       = fs.StringLong("store", "bolt", "Transaction store: 'bolt' or 'sqlite'")
		dbPath      = fs.StringLong("db", "receipt-ledger.db", "Database file path")
		maxUpload   = fs.IntLong("max-upload-bytes", int(scanning.DefaultMaxUploadBytes), "Largest accepted receipt upload in bytes")
		allowPDF    = fs.BoolLong("allow-pdf", "Accept PDF receipts (first page is scanned)")
		allowHEIC   = fs.BoolLong("allow-heic", "Accept HEIC/HEIF receipts")
		tessBin     = fs.StringLong("tesseract", "tesseract", "Tesseract binary")
		tessLang    = fs.StringLong("tesseract-lang", "eng", "Tesseract language(s), e.g. eng+fra")
		tessData    = fs.StringLong("tessdata-dir", "", "Tesseract tessdata directory (optional)")
		tessPSM     = fs.IntLong("tesseract-psm", 0, "Tesseract page segmentation mode (0 uses the default)")
		ocrTimeout  = fs.DurationLong("ocr-timeout", time.Minute, "Timeout for OCR of a single receipt")
		provider    = fs.StringLong("provider", "openai", "Completion provider: 'openai', 'gemini' or 'ollama'")
		llmURL      = fs.StringLong("llm-base-url", scanning.DefaultOpenAIBaseURL, "OpenAI-compatible API base URL")
		llmKey      = fs.StringLong("llm-api-key", "", "OpenAI-compatible API key (or set OPENROUTER_API_KEY env var)")
		llmModel    = fs.StringLong("llm-model", "openai/gpt-4o-mini", "OpenAI-compatible model name")
		geminiKey   = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL   = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel = fs.StringLong("ollama-model", "llama3.1", "Ollama model name")
		retries     = fs.IntLong("llm-attempts", 3, "Completion attempts for transient failures")
		retryWait   = fs.DurationLong("llm-retry-interval", 500*time.Millisecond, "Initial completion retry interval")
		scanTimeout = fs.DurationLong("scan-timeout", 2*time.Minute, "Timeout for a whole scan request")
		maxScans    = fs.IntLong("max-concurrent-scans", 4, "Scans allowed to run at once across all users")
		diagDir     = fs.StringLong("diagnostics-dir", "", "Directory for unusable model responses (optional)")
		authUser    = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass    = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		showVersion = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_LEDGER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Initialize database
	slog.Info("Initializing database...", "store", *store, "path", *dbPath)
	db, err := openStore(*store, *dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	// Initialize completion provider
	completer, err := newCompleter(*provider, completerFlags{
		llmURL:      *llmURL,
		llmKey:      *llmKey,
		llmModel:    *llmModel,
		geminiKey:   *geminiKey,
		geminiModel: *geminiModel,
		ollamaURL:   *ollamaURL,
		ollamaModel: *ollamaModel,
	})
	if err != nil {
		var cfgErr *scanning.ConfigurationError
		if errors.As(err, &cfgErr) {
			slog.Error("Completion provider is misconfigured", "provider", *provider, "error", err)
		} else {
			slog.Error("Failed to initialize completion provider", "provider", *provider, "error", err)
		}
		os.Exit(1)
	}
	completer = scanning.NewRetrying(completer, scanning.RetryPolicy{
		MaxAttempts:     *retries,
		InitialInterval: *retryWait,
	})

	// Initialize OCR
	ocr := scanning.NewTesseract(scanning.TesseractConfig{
		Binary:      *tessBin,
		Lang:        *tessLang,
		TessdataDir: *tessData,
		PSM:         *tessPSM,
	})
	if err := ocr.CheckEngine(); err != nil {
		slog.Warn("OCR engine unavailable, scans will fail until it is installed", "error", err)
	}

	normalizer := &scanning.Normalizer{
		MaxBytes:  int64(*maxUpload),
		AllowPDF:  *allowPDF,
		AllowHEIC: *allowHEIC,
	}
	slog.Info("Accepting receipts", "types", normalizer.AcceptedTypes(), "max_bytes", normalizer.MaxBytes)

	opts := []scanning.Option{
		scanning.WithMaxConcurrentScans(*maxScans),
		scanning.WithOCRTimeout(*ocrTimeout),
	}
	if *diagDir != "" {
		sink, err := scanning.NewFileSink(*diagDir)
		if err != nil {
			slog.Error("Failed to initialize diagnostics directory", "error", err)
			os.Exit(1)
		}
		opts = append(opts, scanning.WithResponseSink(sink))
	}

	pipeline := scanning.NewPipeline(normalizer, ocr, completer,
		scanning.MustNewValidator(scanning.StatusProcessing), opts...)
	defer pipeline.Close()

	// Initialize service
	service := transaction.NewService(db, pipeline)

	// Initialize server
	server := transaction.NewServer(service, transaction.Config{
		BasicAuth: transaction.BasicAuth{
			Username: *authUser,
			Password: *authPass,
		},
		MaxUploadBytes: normalizer.MaxBytes,
		ScanTimeout:    *scanTimeout,
	})

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	ctx, cancel := context.WithTimeout(context.Background(), *scanTimeout+5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Graceful shutdown failed", "error", err)
	}
}

func openStore(kind, path string) (transaction.DB, error) {
	switch kind {
	case "bolt":
		return transaction.NewBoltDB(path)
	case "sqlite":
		return transaction.NewSQLiteDB(path)
	}
	return nil, fmt.Errorf("invalid store %q: valid values are bolt or sqlite", kind)
}

type completerFlags struct {
	llmURL, llmKey, llmModel string
	geminiKey, geminiModel   string
	ollamaURL, ollamaModel   string
}

func newCompleter(provider string, f completerFlags) (scanning.Completer, error) {
	switch provider {
	case "openai":
		apiKey := f.llmKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENROUTER_API_KEY")
		}
		slog.Info("Initializing OpenAI-compatible completer...", "url", f.llmURL, "model", f.llmModel)
		return scanning.NewOpenAI(scanning.OpenAIConfig{
			BaseURL: f.llmURL,
			APIKey:  apiKey,
			Model:   f.llmModel,
			Title:   "receipt-ledger",
		})
	case "gemini":
		apiKey := f.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini completer...", "model", f.geminiModel)
		return scanning.NewGemini(apiKey, f.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama completer...", "url", f.ollamaURL, "model", f.ollamaModel)
		return scanning.NewOllama(f.ollamaURL, f.ollamaModel)
	}
	return nil, fmt.Errorf("invalid provider %q: valid values are openai, gemini or ollama", provider)
}
