package pdfrenderer

import (
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/disintegration/imaging"
	"github.com/klippa-app/go-pdfium"
	"github.com/klippa-app/go-pdfium/references"
	"github.com/klippa-app/go-pdfium/requests"
	"github.com/klippa-app/go-pdfium/webassembly"
)

// PDFiumRenderer implements PDF rendering using go-pdfium with WebAssembly (pure Go, no CGo).
// A single instance is shared by every open document, so calls are serialised.
type PDFiumRenderer struct {
	mu       sync.Mutex
	pool     pdfium.Pool
	instance pdfium.Pdfium
}

// NewPDFiumRenderer creates a new PDFium-based PDF renderer using WebAssembly
func NewPDFiumRenderer() (*PDFiumRenderer, error) {
	// For single-threaded usage, we keep it simple
	pool, err := webassembly.Init(webassembly.Config{
		MinIdle:  1, // Minimum idle workers
		MaxIdle:  1, // Maximum idle workers
		MaxTotal: 1, // Total worker limit
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PDFium WebAssembly: %w", err)
	}

	instance, err := pool.GetInstance(time.Second * 30)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to get PDFium instance: %w", err)
	}

	return &PDFiumRenderer{
		pool:     pool,
		instance: instance,
	}, nil
}

// Open loads the PDF document from memory
func (r *PDFiumRenderer) Open(data []byte) (Document, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instance == nil {
		return nil, fmt.Errorf("PDFium renderer is closed")
	}

	pdfBytes := data
	doc, err := r.instance.OpenDocument(&requests.OpenDocument{
		File: &pdfBytes,
	})
	if err != nil {
		return nil, fmt.Errorf("unable to open PDF document: %w", err)
	}

	pageCountResp, err := r.instance.FPDF_GetPageCount(&requests.FPDF_GetPageCount{
		Document: doc.Document,
	})
	if err != nil {
		r.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{Document: doc.Document})
		return nil, fmt.Errorf("unable to get page count: %w", err)
	}

	return &pdfiumDocument{
		renderer:  r,
		handle:    doc.Document,
		pageCount: pageCountResp.PageCount,
	}, nil
}

// Close cleans up resources used by the PDFium renderer
func (r *PDFiumRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.instance != nil {
		r.instance.Close()
		r.instance = nil
	}
	if r.pool != nil {
		r.pool.Close()
		r.pool = nil
	}
	return nil
}

type pdfiumDocument struct {
	renderer  *PDFiumRenderer
	handle    references.FPDF_DOCUMENT
	pageCount int
	closed    bool
}

func (d *pdfiumDocument) PageCount() int {
	return d.pageCount
}

func (d *pdfiumDocument) page(index int) requests.Page {
	return requests.Page{
		ByIndex: &requests.PageByIndex{
			Document: d.handle,
			Index:    index,
		},
	}
}

func (d *pdfiumDocument) PageSize(index int) (float64, float64, error) {
	d.renderer.mu.Lock()
	defer d.renderer.mu.Unlock()
	return d.pageSizeLocked(index)
}

func (d *pdfiumDocument) pageSizeLocked(index int) (float64, float64, error) {
	if d.renderer.instance == nil {
		return 0, 0, fmt.Errorf("PDFium renderer is closed")
	}
	size, err := d.renderer.instance.GetPageSize(&requests.GetPageSize{
		Page: d.page(index),
	})
	if err != nil {
		return 0, 0, fmt.Errorf("unable to read size of page %d: %w", index, err)
	}
	return size.Width, size.Height, nil
}

func (d *pdfiumDocument) RenderPage(index int, scale float64) (image.Image, error) {
	d.renderer.mu.Lock()
	defer d.renderer.mu.Unlock()

	w, h, err := d.pageSizeLocked(index)
	if err != nil {
		return nil, err
	}
	pw, ph := ScaledSize(w, h, scale)

	pageRender, err := d.renderer.instance.RenderPageInPixels(&requests.RenderPageInPixels{
		Width:  pw,
		Height: ph,
		Page:   d.page(index),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to render page %d: %w", index, err)
	}
	// The bitmap lives in WebAssembly memory until Cleanup, so copy it out first
	img := imaging.Clone(pageRender.Result.Image)
	pageRender.Cleanup()
	return img, nil
}

func (d *pdfiumDocument) Close() error {
	d.renderer.mu.Lock()
	defer d.renderer.mu.Unlock()
	if d.closed || d.renderer.instance == nil {
		return nil
	}
	d.closed = true
	_, err := d.renderer.instance.FPDF_CloseDocument(&requests.FPDF_CloseDocument{
		Document: d.handle,
	})
	return err
}
