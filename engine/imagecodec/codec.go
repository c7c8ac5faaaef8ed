// Package imagecodec decodes, resizes and re-encodes raster images.
package imagecodec

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp" // register the WebP decoder with image.Decode
)

// Codec is the closed set of image encodings that can be embedded into a PDF as is
type Codec int

const (
	CodecUnsupported Codec = iota
	CodecJPEG
	CodecPNG
)

func (c Codec) String() string {
	switch c {
	case CodecJPEG:
		return "jpeg"
	case CodecPNG:
		return "png"
	default:
		return "unsupported"
	}
}

// CodecFromMIME decides the codec from a declared MIME type
func CodecFromMIME(mimeType string) Codec {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	switch mimeType {
	case "image/jpeg", "image/jpg":
		return CodecJPEG
	case "image/png":
		return CodecPNG
	default:
		return CodecUnsupported
	}
}

// IsImageMIME reports whether a MIME type is displayable as an image
func IsImageMIME(mimeType string) bool {
	return strings.HasPrefix(strings.ToLower(mimeType), "image/")
}

// Decode decodes any registered image format (JPEG, PNG, GIF, BMP, TIFF, WebP)
func Decode(data []byte) (image.Image, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

// Dimensions reads the pixel size from the image header without decoding the pixels
func Dimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("decode image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// EncodeJPEG encodes img as JPEG. quality is 1-100.
func EncodeJPEG(img image.Image, quality int) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodePNG encodes img as PNG
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// FitWithin returns the dimensions of a w x h image scaled down so that its larger
// side equals maxDim. Images already within maxDim are returned unchanged.
// Integer arithmetic keeps the larger side exact and the ratio stable.
func FitWithin(w, h, maxDim int) (int, int) {
	largest := w
	if h > largest {
		largest = h
	}
	if largest <= maxDim || largest == 0 {
		return w, h
	}
	nw := w * maxDim / largest
	nh := h * maxDim / largest
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	return nw, nh
}

// Resize re-renders img at exactly w x h
func Resize(img image.Image, w, h int) image.Image {
	b := img.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return img
	}
	return imaging.Resize(img, w, h, imaging.Lanczos)
}

// Flatten composites img onto an opaque white surface, so transparent areas do not turn black in JPEG
func Flatten(img image.Image) image.Image {
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}

// Thumbnail returns a size x size centre-cropped thumbnail
func Thumbnail(img image.Image, size int) image.Image {
	return imaging.Thumbnail(img, size, size, imaging.Lanczos)
}
