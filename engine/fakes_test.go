package engine

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"sync"

	"github.com/drummonds/piconverter/engine/pdfrenderer"
)

type pageSize struct {
	Width, Height float64
}

// fakeRenderer opens every input as a document with the configured page sizes
type fakeRenderer struct {
	pages   []pageSize
	openErr error

	// failPage and panicPage are 1-based; 0 disables them
	failPage  int
	panicPage int

	// onRender is called before a page is rendered
	onRender func(page int)

	mu     sync.Mutex
	events []string
	opened int
	closed int
}

func (f *fakeRenderer) Open(data []byte) (pdfrenderer.Document, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.mu.Lock()
	f.opened++
	f.mu.Unlock()
	return &fakeDocument{r: f}, nil
}

func (f *fakeRenderer) Close() error { return nil }

func (f *fakeRenderer) record(event string) {
	f.mu.Lock()
	f.events = append(f.events, event)
	f.mu.Unlock()
}

func (f *fakeRenderer) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

type fakeDocument struct {
	r *fakeRenderer
}

func (d *fakeDocument) PageCount() int { return len(d.r.pages) }

func (d *fakeDocument) PageSize(index int) (float64, float64, error) {
	p := d.r.pages[index]
	return p.Width, p.Height, nil
}

func (d *fakeDocument) RenderPage(index int, scale float64) (image.Image, error) {
	page := index + 1
	if d.r.onRender != nil {
		d.r.onRender(page)
	}
	d.r.record(fmt.Sprintf("render %d", page))
	if page == d.r.panicPage {
		panic("renderer crashed")
	}
	if page == d.r.failPage {
		return nil, errors.New("corrupt content stream")
	}
	p := d.r.pages[index]
	w, h := pdfrenderer.ScaledSize(p.Width, p.Height, scale)
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	// transparent except one opaque pixel, as rasterizers leave the background unpainted
	img.Set(0, 0, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	return img, nil
}

func (d *fakeDocument) Close() error {
	d.r.mu.Lock()
	d.r.closed++
	d.r.mu.Unlock()
	return nil
}

func letterPages(n int) []pageSize {
	pages := make([]pageSize, n)
	for i := range pages {
		pages[i] = pageSize{Width: 612, Height: 792}
	}
	return pages
}

func fakeProvider(r pdfrenderer.Renderer) *pdfrenderer.Provider {
	return pdfrenderer.NewProvider(func() (pdfrenderer.Renderer, error) { return r, nil })
}

func failingProvider() *pdfrenderer.Provider {
	return pdfrenderer.NewProvider(func() (pdfrenderer.Renderer, error) {
		return nil, errors.New("wasm runtime unavailable")
	})
}
