// Package pdfcompose builds new PDF documents from encoded images and from the pages of other PDFs.
package pdfcompose

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/drummonds/piconverter/engine/imagecodec"
)

// ErrEmptyDocument is returned when saving a document that has no pages
var ErrEmptyDocument = errors.New("document has no pages")

func init() {
	// never create or read a pdfcpu config directory in the user's home
	api.DisableConfigDir()
}

func configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// Document accumulates full-page images. Each image becomes one page sized
// exactly to the image's pixel dimensions; the encoded bytes are embedded without re-encoding.
type Document struct {
	images [][]byte
}

// New returns an empty document
func New() *Document {
	return &Document{}
}

// AddImage appends a page holding the encoded image. Only JPEG and PNG can be embedded.
func (d *Document) AddImage(codec imagecodec.Codec, data []byte) error {
	switch codec {
	case imagecodec.CodecJPEG, imagecodec.CodecPNG:
	default:
		return fmt.Errorf("cannot embed %s image", codec)
	}
	d.images = append(d.images, data)
	return nil
}

// PageCount returns the number of pages added so far
func (d *Document) PageCount() int {
	return len(d.images)
}

// Bytes serialises the document
func (d *Document) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := d.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteTo serialises the document to w
func (d *Document) WriteTo(w io.Writer) error {
	if len(d.images) == 0 {
		return ErrEmptyDocument
	}
	readers := make([]io.Reader, len(d.images))
	for i, img := range d.images {
		readers[i] = bytes.NewReader(img)
	}

	imp := pdfcpu.DefaultImportConfig()
	imp.Pos = types.Full // page dimensions follow the image
	if err := api.ImportImages(nil, w, readers, imp, configuration()); err != nil {
		return fmt.Errorf("import images: %w", err)
	}
	return nil
}

// Merge copies all pages of every source, in order, into one new document written to w
func Merge(sources [][]byte, w io.Writer) error {
	if len(sources) == 0 {
		return ErrEmptyDocument
	}
	readers := make([]io.ReadSeeker, len(sources))
	for i, src := range sources {
		readers[i] = bytes.NewReader(src)
	}
	if err := api.MergeRaw(readers, w, false, configuration()); err != nil {
		return fmt.Errorf("merge documents: %w", err)
	}
	return nil
}

// PageCount reads the number of pages of a PDF
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), configuration())
	if err != nil {
		return 0, fmt.Errorf("read page count: %w", err)
	}
	return n, nil
}

// PageDims returns the media box size of every page, in points
func PageDims(data []byte) ([]types.Dim, error) {
	dims, err := api.PageDims(bytes.NewReader(data), configuration())
	if err != nil {
		return nil, fmt.Errorf("read page dimensions: %w", err)
	}
	return dims, nil
}
