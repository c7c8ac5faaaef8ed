package queue

import (
	"bytes"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ProbePages returns the page count of a PDF, or 0 with an error when it cannot be parsed
func ProbePages(data []byte) (pages int, err error) {
	// the parser panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			pages = 0
			err = fmt.Errorf("parse PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("parse PDF: %w", err)
	}
	return reader.NumPage(), nil
}

// IsPDFMIME reports whether the MIME type names a PDF
func IsPDFMIME(mimeType string) bool {
	mt, _, _ := strings.Cut(mimeType, ";")
	return strings.EqualFold(strings.TrimSpace(mt), "application/pdf")
}

// DetectMIME picks a MIME type for a file from its extension, falling back to content sniffing
func DetectMIME(name string, data []byte) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); mt != "" {
		mt, _, _ = strings.Cut(mt, ";")
		return mt
	}
	mt, _, _ := strings.Cut(http.DetectContentType(data), ";")
	return mt
}

// LoadFile reads a file from disk into a payload
func LoadFile(path string) (Payload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, err
	}
	name := filepath.Base(path)
	return Payload{
		Name:     name,
		Size:     int64(len(data)),
		MIMEType: DetectMIME(name, data),
		Bytes:    data,
	}, nil
}
