package scanning

import (
	"mime"
	"net/http"
	"path/filepath"
	"strings"
)

// DefaultMaxUploadBytes is the default upload size limit (5MB)
const DefaultMaxUploadBytes int64 = 5 << 20

const (
	MediaTypeJPEG = "image/jpeg"
	MediaTypePNG  = "image/png"
	MediaTypePDF  = "application/pdf"
	MediaTypeHEIC = "image/heic"
	MediaTypeHEIF = "image/heif"
)

// UploadedReceipt is a single receipt file as received from the client
type UploadedReceipt struct {
	Filename  string
	MediaType string
	Size      int64
	Data      []byte
}

// NormalizedReceipt is an upload that passed size and type checks
type NormalizedReceipt struct {
	MediaType string
	Data      []byte
}

// Normalizer validates uploads before any OCR or network work happens
type Normalizer struct {
	MaxBytes  int64
	AllowPDF  bool
	AllowHEIC bool
}

// NewNormalizer creates a Normalizer with the default size limit and JPEG/PNG only
func NewNormalizer() *Normalizer {
	return &Normalizer{MaxBytes: DefaultMaxUploadBytes}
}

// Normalize checks the upload against the configured limits. The data is
// returned unchanged; no resizing or recompression happens here.
func (n *Normalizer) Normalize(r UploadedReceipt) (*NormalizedReceipt, error) {
	maxBytes := n.MaxBytes
	if maxBytes <= 0 {
		maxBytes = DefaultMaxUploadBytes
	}

	// Trust whichever is larger: the declared size or what was actually read
	size := r.Size
	if int64(len(r.Data)) > size {
		size = int64(len(r.Data))
	}
	if size > maxBytes {
		return nil, &ValidationError{Constraint: ConstraintSize, Size: size, MaxSize: maxBytes}
	}

	mediaType := detectMediaType(r.Filename, r.MediaType, r.Data)
	if !n.accepts(mediaType) {
		return nil, &ValidationError{Constraint: ConstraintType, MediaType: mediaType}
	}

	return &NormalizedReceipt{MediaType: mediaType, Data: r.Data}, nil
}

// AcceptedTypes lists the media types this normalizer admits
func (n *Normalizer) AcceptedTypes() []string {
	types := []string{MediaTypeJPEG, MediaTypePNG}
	if n.AllowPDF {
		types = append(types, MediaTypePDF)
	}
	if n.AllowHEIC {
		types = append(types, MediaTypeHEIC, MediaTypeHEIF)
	}
	return types
}

func (n *Normalizer) accepts(mediaType string) bool {
	for _, t := range n.AcceptedTypes() {
		if t == mediaType {
			return true
		}
	}
	return false
}

// detectMediaType normalizes the declared type, falling back to the file
// extension and then to content sniffing
func detectMediaType(filename, declared string, data []byte) string {
	mediaType := strings.ToLower(strings.TrimSpace(declared))
	if parsed, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = parsed
	}
	if mediaType == "image/jpg" || mediaType == "image/pjpeg" {
		mediaType = MediaTypeJPEG
	}
	if mediaType != "" && mediaType != "application/octet-stream" {
		return mediaType
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return MediaTypeJPEG
	case ".png":
		return MediaTypePNG
	case ".pdf":
		return MediaTypePDF
	case ".heic":
		return MediaTypeHEIC
	case ".heif":
		return MediaTypeHEIF
	}

	if isHEICFormat(data) {
		return MediaTypeHEIC
	}
	if len(data) > 0 {
		sniffed, _, _ := mime.ParseMediaType(http.DetectContentType(data))
		return sniffed
	}
	return "application/octet-stream"
}
