package engine

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/drummonds/piconverter/engine/delivery"
	"github.com/drummonds/piconverter/engine/imagecodec"
	"github.com/drummonds/piconverter/engine/pdfcompose"
	"github.com/drummonds/piconverter/engine/pdfrenderer"
	"github.com/drummonds/piconverter/queue"
)

// Converter runs the five conversions. Inputs are only read; every output goes to the sink.
type Converter struct {
	Renderers *pdfrenderer.Provider
}

// NewConverter returns a converter rendering PDFs with the given provider
func NewConverter(renderers *pdfrenderer.Provider) *Converter {
	return &Converter{Renderers: renderers}
}

func (c *Converter) openPDF(payload queue.Payload) (pdfrenderer.Document, error) {
	renderer, err := c.Renderers.Renderer()
	if err != nil {
		return nil, renderError(payload.Name, 0, err)
	}
	doc, err := renderer.Open(payload.Bytes)
	if err != nil {
		return nil, decodeError(payload.Name, err)
	}
	return doc, nil
}

// renderJPEG rasterizes a page, flattens it on white and encodes it as JPEG
func renderJPEG(doc pdfrenderer.Document, file string, index int, scale float64, quality int) ([]byte, error) {
	img, err := doc.RenderPage(index, scale)
	if err != nil {
		return nil, renderError(file, index+1, err)
	}
	data, err := imagecodec.EncodeJPEG(imagecodec.Flatten(img), quality)
	if err != nil {
		return nil, encodeError(file, index+1, err)
	}
	return data, nil
}

// PageImageName is the output name of page i (1-based) of a PDF
func PageImageName(pdfName string, page int) string {
	base := pdfName
	if strings.EqualFold(filepath.Ext(base), ".pdf") {
		base = base[:len(base)-len(".pdf")]
	}
	return fmt.Sprintf("%s_page_%d.jpg", base, page)
}

// ShrunkPDFName is the output name of a shrunk PDF
func ShrunkPDFName(pdfName string) string {
	return "shrunk_" + pdfName
}

// OptimizedImageName is the output name of a shrunk image
func OptimizedImageName(imageName string) string {
	return "optimized_" + strings.TrimSuffix(imageName, filepath.Ext(imageName)) + ".jpg"
}

// PDFToImages renders every page at ExtractScale and delivers each JPEG as soon as it is encoded
func (c *Converter) PDFToImages(ctx context.Context, payload queue.Payload, sink delivery.Sink) error {
	doc, err := c.openPDF(payload)
	if err != nil {
		return err
	}
	defer doc.Close()

	pages := doc.PageCount()
	Logger.Debug("Extracting pages", "file", payload.Name, "pages", pages)
	for i := 0; i < pages; i++ {
		data, err := renderJPEG(doc, payload.Name, i, ExtractScale, ExtractQuality)
		if err != nil {
			return err
		}
		name := PageImageName(payload.Name, i+1)
		if err := sink.Deliver(ctx, delivery.Result{Bytes: data, Filename: name, MIMEType: mimeJPEG}); err != nil {
			return fmt.Errorf("deliver %s: %w", name, err)
		}
	}
	return nil
}

// ImagesToPDF embeds each JPEG or PNG on a page of its own pixel size, in order.
// Images of any other type are logged and skipped.
func (c *Converter) ImagesToPDF(ctx context.Context, payloads []queue.Payload, sink delivery.Sink) error {
	doc := pdfcompose.New()
	for _, p := range payloads {
		codec := imagecodec.CodecFromMIME(p.MIMEType)
		if codec == imagecodec.CodecUnsupported {
			Logger.Warn("Skipping image", "file", p.Name, "mimeType", p.MIMEType, "error", ErrUnsupportedFormat)
			continue
		}
		if err := doc.AddImage(codec, p.Bytes); err != nil {
			return encodeError(p.Name, 0, err)
		}
	}
	if doc.PageCount() == 0 {
		Logger.Info("No supported images to combine", "selected", len(payloads))
		return nil
	}

	data, err := doc.Bytes()
	if err != nil {
		return encodeError(CombinedImagesFilename, 0, err)
	}
	if err := sink.Deliver(ctx, delivery.Result{Bytes: data, Filename: CombinedImagesFilename, MIMEType: mimePDF}); err != nil {
		return fmt.Errorf("deliver %s: %w", CombinedImagesFilename, err)
	}
	return nil
}

// MergePDFs appends every page of every source, sources in order and pages in their own order
func (c *Converter) MergePDFs(ctx context.Context, payloads []queue.Payload, sink delivery.Sink) error {
	sources := make([][]byte, 0, len(payloads))
	total := 0
	for _, p := range payloads {
		pages, err := pdfcompose.PageCount(p.Bytes)
		if err != nil {
			return decodeError(p.Name, err)
		}
		total += pages
		sources = append(sources, p.Bytes)
	}
	if total == 0 {
		Logger.Info("No pages to merge", "selected", len(payloads))
		return nil
	}

	var buf bytes.Buffer
	if err := pdfcompose.Merge(sources, &buf); err != nil {
		return encodeError(MergedDocumentFilename, 0, err)
	}
	if err := sink.Deliver(ctx, delivery.Result{Bytes: buf.Bytes(), Filename: MergedDocumentFilename, MIMEType: mimePDF}); err != nil {
		return fmt.Errorf("deliver %s: %w", MergedDocumentFilename, err)
	}
	return nil
}

// ShrinkPDF rebuilds the document from page renders at ShrinkPDFScale and ShrinkPDFQuality
func (c *Converter) ShrinkPDF(ctx context.Context, payload queue.Payload, sink delivery.Sink) error {
	doc, err := c.openPDF(payload)
	if err != nil {
		return err
	}
	defer doc.Close()

	pages := doc.PageCount()
	if pages == 0 {
		Logger.Info("Document has no pages", "file", payload.Name)
		return nil
	}

	out := pdfcompose.New()
	for i := 0; i < pages; i++ {
		data, err := renderJPEG(doc, payload.Name, i, ShrinkPDFScale, ShrinkPDFQuality)
		if err != nil {
			return err
		}
		if err := out.AddImage(imagecodec.CodecJPEG, data); err != nil {
			return encodeError(payload.Name, i+1, err)
		}
	}

	name := ShrunkPDFName(payload.Name)
	data, err := out.Bytes()
	if err != nil {
		return encodeError(name, 0, err)
	}
	Logger.Debug("Shrunk PDF", "file", payload.Name, "before", payload.Size, "after", len(data))
	if err := sink.Deliver(ctx, delivery.Result{Bytes: data, Filename: name, MIMEType: mimePDF}); err != nil {
		return fmt.Errorf("deliver %s: %w", name, err)
	}
	return nil
}

// ShrinkImage caps the longer side at ShrinkImageMaxDim and re-encodes as JPEG at ShrinkImageQuality
func (c *Converter) ShrinkImage(ctx context.Context, payload queue.Payload, sink delivery.Sink) error {
	img, err := imagecodec.Decode(payload.Bytes)
	if err != nil {
		return decodeError(payload.Name, err)
	}

	b := img.Bounds()
	w, h := imagecodec.FitWithin(b.Dx(), b.Dy(), ShrinkImageMaxDim)
	resized := imagecodec.Flatten(imagecodec.Resize(img, w, h))

	data, err := imagecodec.EncodeJPEG(resized, ShrinkImageQuality)
	if err != nil {
		return encodeError(payload.Name, 0, err)
	}
	name := OptimizedImageName(payload.Name)
	if err := sink.Deliver(ctx, delivery.Result{Bytes: data, Filename: name, MIMEType: mimeJPEG}); err != nil {
		return fmt.Errorf("deliver %s: %w", name, err)
	}
	return nil
}
