// Package framerate measures delivered frame rates from frame timestamps.
package framerate

import (
	"math"
	"sync"
	"time"
)

// stabilityThreshold is the maximum FPS standard deviation as a fraction of
// the mean for a stream to count as stable (30 FPS mean → stddev < 4.5).
const stabilityThreshold = 0.15

// Stats summarizes a sequence of frame timestamps.
type Stats struct {
	Frames    int
	Span      time.Duration
	FPSMean   float64
	FPSStdDev float64
	FPSMin    float64
	FPSMax    float64
	IsStable  bool
}

// Calculate computes FPS statistics from ordered frame timestamps.
//
// The mean rate is (n-1) intervals over the covered span; min/max/stddev are
// taken over the instantaneous rates of each interval.
func Calculate(frameTimes []time.Time) Stats {
	n := len(frameTimes)
	if n < 2 {
		return Stats{Frames: n}
	}

	span := frameTimes[n-1].Sub(frameTimes[0])
	if span <= 0 {
		return Stats{Frames: n, Span: span}
	}
	fpsMean := float64(n-1) / span.Seconds()

	instantaneous := make([]float64, 0, n-1)
	for i := 1; i < n; i++ {
		interval := frameTimes[i].Sub(frameTimes[i-1]).Seconds()
		if interval > 0 {
			instantaneous = append(instantaneous, 1.0/interval)
		}
	}
	if len(instantaneous) == 0 {
		return Stats{Frames: n, Span: span, FPSMean: fpsMean}
	}

	fpsMin, fpsMax := instantaneous[0], instantaneous[0]
	var sumSquares float64
	for _, fps := range instantaneous {
		if fps < fpsMin {
			fpsMin = fps
		}
		if fps > fpsMax {
			fpsMax = fps
		}
		diff := fps - fpsMean
		sumSquares += diff * diff
	}
	fpsStdDev := math.Sqrt(sumSquares / float64(len(instantaneous)))

	return Stats{
		Frames:    n,
		Span:      span,
		FPSMean:   fpsMean,
		FPSStdDev: fpsStdDev,
		FPSMin:    fpsMin,
		FPSMax:    fpsMax,
		IsStable:  fpsStdDev < fpsMean*stabilityThreshold,
	}
}

// Meter keeps the last N frame timestamps in a ring buffer.
type Meter struct {
	mu      sync.Mutex
	samples []time.Time
	index   int
	count   int
}

// NewMeter returns a meter remembering up to size timestamps (minimum 2).
func NewMeter(size int) *Meter {
	if size < 2 {
		size = 2
	}
	return &Meter{samples: make([]time.Time, size)}
}

// Add records one frame timestamp.
func (m *Meter) Add(ts time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.samples[m.index] = ts
	m.index = (m.index + 1) % len(m.samples)
	if m.count < len(m.samples) {
		m.count++
	}
}

// Stats computes statistics over the buffered window, oldest first.
func (m *Meter) Stats() Stats {
	m.mu.Lock()
	ordered := make([]time.Time, 0, m.count)
	start := (m.index - m.count + len(m.samples)) % len(m.samples)
	for i := 0; i < m.count; i++ {
		ordered = append(ordered, m.samples[(start+i)%len(m.samples)])
	}
	m.mu.Unlock()

	return Calculate(ordered)
}
