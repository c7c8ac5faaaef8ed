package queue

import (
	"fmt"
	"os"
	"sync"

	"github.com/drummonds/piconverter/engine/imagecodec"
)

// PreviewSize is the longest side of a preview thumbnail in pixels
const PreviewSize = 160

// Preview is a thumbnail written to a temp file. The file lives until Release.
type Preview struct {
	Path   string
	Width  int
	Height int

	once sync.Once
}

// NewPreview decodes an image and writes its PNG thumbnail into dir
func NewPreview(dir string, data []byte) (*Preview, error) {
	img, err := imagecodec.Decode(data)
	if err != nil {
		return nil, err
	}
	thumb := imagecodec.Thumbnail(img, PreviewSize)
	png, err := imagecodec.EncodePNG(thumb)
	if err != nil {
		return nil, err
	}

	f, err := os.CreateTemp(dir, "preview-*.png")
	if err != nil {
		return nil, fmt.Errorf("create preview file: %w", err)
	}
	if _, err := f.Write(png); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("write preview file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("close preview file: %w", err)
	}

	b := thumb.Bounds()
	return &Preview{Path: f.Name(), Width: b.Dx(), Height: b.Dy()}, nil
}

// Bytes reads the thumbnail back
func (p *Preview) Bytes() ([]byte, error) {
	if p == nil || p.Path == "" {
		return nil, os.ErrNotExist
	}
	return os.ReadFile(p.Path)
}

// Release deletes the preview file. It is safe to call more than once and on a nil preview.
func (p *Preview) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		if err := os.Remove(p.Path); err != nil && !os.IsNotExist(err) {
			Logger.Warn("Unable to remove preview", "path", p.Path, "error", err)
		}
	})
}
