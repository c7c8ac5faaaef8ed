package pdfrenderer

import (
	"fmt"
	"image"

	"github.com/gen2brain/go-fitz"
)

// FitzRenderer implements PDF rendering using go-fitz (requires CGo and MuPDF)
type FitzRenderer struct {
}

// NewFitzRenderer creates a new Fitz-based PDF renderer
func NewFitzRenderer() (*FitzRenderer, error) {
	return &FitzRenderer{}, nil
}

// Open parses the PDF from memory
func (r *FitzRenderer) Open(data []byte) (Document, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}
	return &fitzDocument{doc: doc}, nil
}

// Close cleans up resources (no-op for Fitz renderer as each document is closed by its owner)
func (r *FitzRenderer) Close() error {
	return nil
}

type fitzDocument struct {
	doc *fitz.Document
}

func (d *fitzDocument) PageCount() int {
	return d.doc.NumPage()
}

func (d *fitzDocument) PageSize(index int) (float64, float64, error) {
	bound, err := d.doc.Bound(index)
	if err != nil {
		return 0, 0, fmt.Errorf("unable to read size of page %d: %w", index, err)
	}
	return float64(bound.Dx()), float64(bound.Dy()), nil
}

// RenderPage renders at 72*scale DPI, MuPDF's native unit being the PDF point
func (d *fitzDocument) RenderPage(index int, scale float64) (image.Image, error) {
	img, err := d.doc.ImageDPI(index, 72*scale)
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, err)
	}
	return img, nil
}

func (d *fitzDocument) Close() error {
	return d.doc.Close()
}
