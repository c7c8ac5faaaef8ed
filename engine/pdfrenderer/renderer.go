package pdfrenderer

import (
	"fmt"
	"image"
	"math"
)

// Renderer defines the interface for opening PDF documents from memory
type Renderer interface {
	// Open parses a PDF held in memory
	Open(data []byte) (Document, error)

	// Close cleans up any resources used by the renderer
	Close() error
}

// Document is an opened PDF. Page indices are zero based.
type Document interface {
	PageCount() int

	// PageSize returns the native page size in PDF points (1/72 inch)
	PageSize(index int) (width, height float64, err error)

	// RenderPage rasterizes a page at scale times its native size
	RenderPage(index int, scale float64) (image.Image, error)

	Close() error
}

// Backend names accepted by NewRenderer
const (
	BackendPDFium = "pdfium"
	BackendFitz   = "fitz"
)

// NewRenderer creates the renderer for the named backend. PDFium (pure Go, no CGo) is the default.
func NewRenderer(backend string) (Renderer, error) {
	switch backend {
	case "", BackendPDFium:
		return NewPDFiumRenderer()
	case BackendFitz:
		return NewFitzRenderer()
	default:
		return nil, fmt.Errorf("unknown renderer backend %q", backend)
	}
}

// ScaledSize returns the pixel size of a page of w x h points rendered at scale.
// Fractional pixels are truncated, and a page is never smaller than one pixel.
func ScaledSize(w, h, scale float64) (int, int) {
	pw := int(math.Floor(w * scale))
	ph := int(math.Floor(h * scale))
	if pw < 1 {
		pw = 1
	}
	if ph < 1 {
		ph = 1
	}
	return pw, ph
}
