package pdfrenderer

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRenderer struct {
	closed atomic.Bool
}

func (s *stubRenderer) Open(data []byte) (Document, error) { return nil, errors.New("stub") }
func (s *stubRenderer) Close() error                        { s.closed.Store(true); return nil }

var _ Renderer = (*stubRenderer)(nil)
var _ Renderer = (*FitzRenderer)(nil)
var _ Renderer = (*PDFiumRenderer)(nil)

func TestProviderLoadsOnceUnderConcurrentCallers(t *testing.T) {
	var loads atomic.Int32
	release := make(chan struct{})
	stub := &stubRenderer{}

	p := NewProvider(func() (Renderer, error) {
		loads.Add(1)
		<-release
		return stub, nil
	})
	assert.False(t, p.Ready())

	const callers = 8
	var wg sync.WaitGroup
	results := make([]Renderer, callers)
	errs := make([]error, callers)
	started := make(chan struct{}, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			results[i], errs[i] = p.Renderer()
		}(i)
	}
	for i := 0; i < callers; i++ {
		<-started
	}
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, stub, results[i])
	}
	assert.Equal(t, int32(1), loads.Load())
	assert.True(t, p.Ready())

	// ready renderers are never reloaded
	r, err := p.Renderer()
	require.NoError(t, err)
	assert.Same(t, stub, r)
	assert.Equal(t, int32(1), loads.Load())
}

func TestProviderSurfacesLoadFailureWithoutRetrying(t *testing.T) {
	var loads atomic.Int32
	p := NewProvider(func() (Renderer, error) {
		loads.Add(1)
		return nil, errors.New("codec unavailable")
	})

	_, err := p.Renderer()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "codec unavailable")
	assert.Equal(t, int32(1), loads.Load())
	assert.False(t, p.Ready())
}

func TestProviderClose(t *testing.T) {
	stub := &stubRenderer{}
	p := NewProvider(func() (Renderer, error) { return stub, nil })

	require.NoError(t, p.Close(), "closing an unloaded provider is a no-op")

	_, err := p.Renderer()
	require.NoError(t, err)
	require.NoError(t, p.Close())
	assert.True(t, stub.closed.Load())
	assert.False(t, p.Ready())
}

func TestNewRendererUnknownBackend(t *testing.T) {
	_, err := NewRenderer("ghostscript")
	assert.Error(t, err)
}

func TestScaledSize(t *testing.T) {
	w, h := ScaledSize(612, 792, 2.0)
	assert.Equal(t, 1224, w)
	assert.Equal(t, 1584, h)

	w, h = ScaledSize(612, 792, 1.2)
	assert.Equal(t, 734, w)
	assert.Equal(t, 950, h)

	w, h = ScaledSize(0.1, 0.1, 1.0)
	assert.Equal(t, 1, w)
	assert.Equal(t, 1, h)
}

var (
	_ Document = (*fitzDocument)(nil)
	_ Document = (*pdfiumDocument)(nil)
)
