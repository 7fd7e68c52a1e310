// Package analyzer turns frequency-domain audio frames into a bounded-rate
// stream of three-band intensity samples for the music_data channel.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Sample is one band-intensity triple, each value in [0, 255]. Every sample
// supersedes the previous one from the controller's point of view.
type Sample struct {
	Bass   int `json:"bass"`
	Mid    int `json:"mid"`
	Treble int `json:"treble"`
}

// Payload renders the sample in the wire form the firmware parses.
func (s Sample) Payload() string {
	return fmt.Sprintf("%d,%d,%d", s.Bass, s.Mid, s.Treble)
}

// Source supplies magnitude frames. Spectrum returns one magnitude per
// frequency bin (0..255 range, analyser-style); SampleRate returns 0 until
// the audio source is connected. Both are polled once per tick.
type Source interface {
	Spectrum() []float64
	SampleRate() int
}

// Band cutoffs in Hz. Every bin belongs to exactly one band.
const (
	bassCutoff   = 250.0
	trebleCutoff = 2000.0
)

// bandGain is the fixed linear boost applied to each band mean before
// clamping against the brightness ceiling.
const bandGain = 1.5

// DefaultInterval approximates a display-refresh cadence.
const DefaultInterval = 16 * time.Millisecond

// Analyzer runs a cancelable tick loop over a Source. The emitted intensity
// is coupled to the user's brightness preference: samples are clamped to the
// last ceiling set via SetBrightness.
type Analyzer struct {
	source   Source
	interval time.Duration
	emit     func(Sample)

	mu      sync.Mutex
	ceiling int
	cancel  context.CancelFunc
	done    chan struct{}
}

var ErrRunning = errors.New("analyzer already running")

func New(source Source, emit func(Sample)) *Analyzer {
	return &Analyzer{
		source:   source,
		interval: DefaultInterval,
		emit:     emit,
		ceiling:  255,
	}
}

// SetInterval overrides the tick cadence; only effective before Start.
func (a *Analyzer) SetInterval(d time.Duration) {
	if d > 0 {
		a.interval = d
	}
}

// SetBrightness records the user-configured ceiling, clamped to [0, 255].
// Safe to call while the loop runs.
func (a *Analyzer) SetBrightness(ceiling int) {
	if ceiling < 0 {
		ceiling = 0
	}
	if ceiling > 255 {
		ceiling = 255
	}
	a.mu.Lock()
	a.ceiling = ceiling
	a.mu.Unlock()
}

// Start begins emitting one sample per tick until ctx is canceled or Stop is
// called. A second Start while running is refused so the loop can never
// double-schedule.
func (a *Analyzer) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.cancel != nil {
		a.mu.Unlock()
		return ErrRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	done := make(chan struct{})
	a.done = done
	a.mu.Unlock()

	go a.run(ctx, done)
	return nil
}

// Stop cancels the loop and waits for the final tick to finish. Idempotent.
func (a *Analyzer) Stop() {
	a.mu.Lock()
	cancel, done := a.cancel, a.done
	a.cancel, a.done = nil, nil
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (a *Analyzer) run(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s, ok := a.sample(); ok {
				a.emit(s)
			}
		}
	}
}

// sample computes one triple from the current frame. It reports !ok until the
// source exposes both a sample rate and a populated spectrum, so nothing is
// emitted before the audio graph is connected.
func (a *Analyzer) sample() (Sample, bool) {
	rate := a.source.SampleRate()
	spectrum := a.source.Spectrum()
	if rate <= 0 || len(spectrum) == 0 {
		return Sample{}, false
	}
	a.mu.Lock()
	ceiling := a.ceiling
	a.mu.Unlock()

	var sums [3]float64
	var counts [3]int
	for i, mag := range spectrum {
		b := bandFor(i, rate, len(spectrum))
		sums[b] += mag
		counts[b]++
	}
	var out [3]int
	for b := range sums {
		mean := 0.0
		if counts[b] > 0 {
			mean = sums[b] / float64(counts[b])
		}
		out[b] = scaleValue(mean, ceiling)
	}
	return Sample{Bass: out[0], Mid: out[1], Treble: out[2]}, true
}

// bandFor assigns bin i its band: 0 bass, 1 mid, 2 treble. The mapping is
// total and disjoint over [0, binCount).
func bandFor(i, sampleRate, binCount int) int {
	freq := float64(i) * (float64(sampleRate) / 2) / float64(binCount)
	switch {
	case freq < bassCutoff:
		return 0
	case freq < trebleCutoff:
		return 1
	default:
		return 2
	}
}

// scaleValue applies the band gain and clamps into [0, ceiling].
func scaleValue(mean float64, ceiling int) int {
	v := int(mean * bandGain)
	if v < 0 {
		return 0
	}
	if v > ceiling {
		return ceiling
	}
	return v
}
