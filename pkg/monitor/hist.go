package monitor

import (
	"sync"

	"gonum.org/v1/plot/plotter"
)

const histogramSampleSize = 1024

// LengthHistogram plots the distribution of message lengths on a channel
// over the most recent messages.
type LengthHistogram struct {
	mu      sync.Mutex
	name    string
	lengths []float64
}

func NewLengthHistogram(name string) *LengthHistogram {
	return &LengthHistogram{name: name}
}

func (h *LengthHistogram) Name() string { return h.name }

func (h *LengthHistogram) Observe(length int) {
	h.mu.Lock()
	h.lengths = append(h.lengths, float64(length))
	if len(h.lengths) > histogramSampleSize {
		h.lengths = h.lengths[len(h.lengths)-histogramSampleSize:]
	}
	h.mu.Unlock()
}

func (h *LengthHistogram) GetImage() *ImageContainer {
	h.mu.Lock()
	vals := make(plotter.Values, len(h.lengths))
	copy(vals, h.lengths)
	h.mu.Unlock()

	if len(vals) == 0 {
		return nil
	}

	p := plotWithDefaults()
	p.Title.Text = h.name
	p.X.Label.Text = "message length (bytes)"
	p.Y.Label.Text = "count"

	hist, err := plotter.NewHist(vals, 16)
	if err != nil {
		return nil
	}
	p.Add(hist)

	return renderPNG(p, h.name)
}
