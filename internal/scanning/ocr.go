package scanning

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"regexp"
	"strings"
	"time"
)

// Runner lets tests stub the OCR engine binary
type Runner interface {
	Run(ctx context.Context, stdin []byte, name string, args ...string) (stdout, stderr []byte, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, stdin []byte, name string, args ...string) ([]byte, []byte, error) {
	start := time.Now()

	cmd := exec.CommandContext(ctx, name, args...)
	var out, errb bytes.Buffer
	cmd.Stdin = bytes.NewReader(stdin)
	cmd.Stdout = &out
	cmd.Stderr = &errb

	err := cmd.Run()
	if err != nil {
		slog.Error("exec failed",
			"cmd", name,
			"args", strings.Join(args, " "),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
			"stderr", truncate(errb.String(), 8<<10),
		)
	} else {
		slog.Debug("exec ok",
			"cmd", name,
			"duration_ms", time.Since(start).Milliseconds(),
			"stdout_bytes", out.Len(),
		)
	}
	return out.Bytes(), errb.Bytes(), err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}

// TesseractConfig configures the tesseract OCR engine
type TesseractConfig struct {
	Binary      string // defaults to "tesseract"
	Lang        string // defaults to "eng"
	TessdataDir string
	PSM         int // page segmentation mode; 0 leaves tesseract's default
}

// Tesseract implements TextExtractor by piping the image through the tesseract CLI
type Tesseract struct {
	cfg    TesseractConfig
	runner Runner
}

// NewTesseract creates a Tesseract extractor that shells out to the real binary
func NewTesseract(cfg TesseractConfig) *Tesseract {
	return NewTesseractWithRunner(cfg, execRunner{})
}

// NewTesseractWithRunner creates a Tesseract extractor with a custom runner for testing
func NewTesseractWithRunner(cfg TesseractConfig, runner Runner) *Tesseract {
	if cfg.Binary == "" {
		cfg.Binary = "tesseract"
	}
	if cfg.Lang == "" {
		cfg.Lang = "eng"
	}
	return &Tesseract{cfg: cfg, runner: runner}
}

// CheckEngine verifies the tesseract binary can be found
func (t *Tesseract) CheckEngine() error {
	if _, err := exec.LookPath(t.cfg.Binary); err != nil {
		return &ExtractionError{Err: fmt.Errorf("tesseract binary %q not found: %w", t.cfg.Binary, err)}
	}
	return nil
}

// ExtractText runs OCR over the image. Garbled or empty output is returned as-is.
func (t *Tesseract) ExtractText(ctx context.Context, data []byte, mediaType string) (string, error) {
	input, err := prepareOCRInput(data, mediaType)
	if err != nil {
		return "", &ExtractionError{Err: err}
	}

	args := []string{"stdin", "stdout", "-l", t.cfg.Lang}
	if t.cfg.PSM > 0 {
		args = append(args, "--psm", fmt.Sprintf("%d", t.cfg.PSM))
	}
	if t.cfg.TessdataDir != "" {
		args = append(args, "--tessdata-dir", t.cfg.TessdataDir)
	}

	out, errb, err := t.runner.Run(ctx, input, t.cfg.Binary, args...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		msg := strings.TrimSpace(string(errb))
		if msg != "" {
			err = fmt.Errorf("%w: %s", err, truncate(msg, 512))
		}
		return "", &ExtractionError{Err: fmt.Errorf("tesseract: %w", err)}
	}

	return NormalizeText(string(out)), nil
}

var (
	reBoxNoise   = regexp.MustCompile(`[│┃┆┇┊┋╎╏]+`)
	reSpaceRuns  = regexp.MustCompile(`[ \t]+`)
	reBlankLines = regexp.MustCompile(`\n{3,}`)
)

// NormalizeText strips box-drawing noise and collapses whitespace in OCR output
func NormalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\f", "\n")
	s = reBoxNoise.ReplaceAllString(s, "")
	lines := strings.Split(s, "\n")
	for i, ln := range lines {
		lines[i] = strings.TrimSpace(reSpaceRuns.ReplaceAllString(ln, " "))
	}
	s = strings.Join(lines, "\n")
	s = reBlankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
