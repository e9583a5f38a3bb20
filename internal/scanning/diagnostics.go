package scanning

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ResponseSink records raw model responses that could not be used, for later diagnosis
type ResponseSink interface {
	// Record stores raw under id along with the reason it was rejected
	Record(id, reason, raw string) error
}

// NopSink discards everything
type NopSink struct{}

func (NopSink) Record(id, reason, raw string) error { return nil }

// FileSink writes each rejected response to its own file in a directory
type FileSink struct {
	basePath string
	now      func() time.Time
}

// NewFileSink creates the directory if needed and returns a FileSink writing into it
func NewFileSink(basePath string) (*FileSink, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating diagnostics directory: %w", err)
	}
	return &FileSink{basePath: basePath, now: time.Now}, nil
}

// Record writes <id>.txt containing a small header and the raw response
func (f *FileSink) Record(id, reason, raw string) error {
	name := filepath.Base(id) + ".txt"
	content := fmt.Sprintf("recorded_at: %s\nreason: %s\n\n%s\n",
		f.now().UTC().Format(time.RFC3339), reason, raw)
	if err := os.WriteFile(filepath.Join(f.basePath, name), []byte(content), 0644); err != nil {
		return fmt.Errorf("writing diagnostics file: %w", err)
	}
	return nil
}

// Get reads back a recorded response file
func (f *FileSink) Get(id string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(f.basePath, filepath.Base(id)+".txt"))
	if err != nil {
		return nil, fmt.Errorf("reading diagnostics file: %w", err)
	}
	return data, nil
}
