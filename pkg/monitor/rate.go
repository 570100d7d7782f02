package monitor

import (
	"sync"
	"time"

	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
)

// RatePlotter tracks bytes per second over a sliding window, bucketed by
// capture second.
type RatePlotter struct {
	mu      sync.Mutex
	name    string
	window  int
	buckets map[int64]int
}

func NewRatePlotter(name string, windowSeconds int) *RatePlotter {
	return &RatePlotter{
		name:    name,
		window:  windowSeconds,
		buckets: make(map[int64]int),
	}
}

func (r *RatePlotter) Name() string { return r.name }

func (r *RatePlotter) Observe(ts time.Time) {
	sec := ts.Unix()
	r.mu.Lock()
	r.buckets[sec]++
	for k := range r.buckets {
		if k < sec-int64(r.window) {
			delete(r.buckets, k)
		}
	}
	r.mu.Unlock()
}

func (r *RatePlotter) GetImage() *ImageContainer {
	r.mu.Lock()
	var latest int64
	for k := range r.buckets {
		if k > latest {
			latest = k
		}
	}
	xys := make(plotter.XYs, 0, r.window)
	for i := int64(r.window); i >= 0; i-- {
		sec := latest - i
		xys = append(xys, plotter.XY{X: float64(-i), Y: float64(r.buckets[sec])})
	}
	r.mu.Unlock()

	p := plotWithDefaults()
	p.Title.Text = r.name
	p.X.Label.Text = "seconds ago"
	p.Y.Label.Text = "bytes/s"
	p.Y.Min = 0
	p.Add(plotter.NewGrid())

	if err := plotutil.AddLines(p, "rate", xys); err != nil {
		return nil
	}
	return renderPNG(p, r.name)
}
