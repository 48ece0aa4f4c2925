package stream

import (
	"sync"
	"time"
)

const (
	// bandwidthSlots is the ring capacity; with samples produced at most a
	// few times per second this comfortably covers the window.
	bandwidthSlots = 30

	// bandwidthSpan is how far back samples count toward average and peak.
	bandwidthSpan = 30 * time.Second

	// bitrateMinInterval gates bitrate computation. Chunks arriving faster
	// than this are accumulated so a tiny delta-t cannot produce a wild
	// instantaneous rate.
	bitrateMinInterval = 100 * time.Millisecond
)

// bitrateSample is one observed bits-per-second measurement.
type bitrateSample struct {
	at  time.Time
	bps int64
}

// bandwidthWindow is a fixed-size ring of bitrate samples. Average and peak
// are computed over samples no older than bandwidthSpan.
type bandwidthWindow struct {
	mu      sync.Mutex
	samples [bandwidthSlots]bitrateSample
	next    int
	filled  bool
}

// record appends a sample, overwriting the oldest when full.
func (w *bandwidthWindow) record(at time.Time, bps int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples[w.next] = bitrateSample{at: at, bps: bps}
	w.next++
	if w.next == bandwidthSlots {
		w.next = 0
		w.filled = true
	}
}

// stats returns the average and peak bitrate over the trailing window.
// Both are zero when no recent samples exist.
func (w *bandwidthWindow) stats(now time.Time) (avg, peak int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := now.Add(-bandwidthSpan)
	n := w.next
	if w.filled {
		n = bandwidthSlots
	}

	var sum int64
	var count int64
	for i := 0; i < n; i++ {
		s := w.samples[i]
		if s.at.Before(cutoff) {
			continue
		}
		sum += s.bps
		count++
		if s.bps > peak {
			peak = s.bps
		}
	}
	if count == 0 {
		return 0, 0
	}
	return sum / count, peak
}
