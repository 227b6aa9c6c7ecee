package state

import (
	fpmath "GasFutures/internal/math"
	"errors"
	"fmt"
	"time"
)

const (
	SampleBufferCapacity = 64
	SampleWindow         = 5 * time.Minute
)

// PriceSample is one accepted index reading
type PriceSample struct {
	Timestamp int64 // epoch microseconds
	Price     int64 // 1e6-scaled
}

// PriceSampleBuffer is a ring of accepted samples bounded by count and age.
// Whichever bound is violated first evicts the oldest sample.
type PriceSampleBuffer struct {
	samples  []PriceSample
	head     int // index of oldest sample
	count    int
	windowUs int64
}

func NewPriceSampleBuffer() *PriceSampleBuffer {
	return NewPriceSampleBufferWithLimits(SampleBufferCapacity, SampleWindow)
}

func NewPriceSampleBufferWithLimits(capacity int, window time.Duration) *PriceSampleBuffer {
	if capacity <= 0 {
		capacity = SampleBufferCapacity
	}
	return &PriceSampleBuffer{
		samples:  make([]PriceSample, capacity),
		windowUs: window.Microseconds(),
	}
}

// Push appends a sample. Callers guarantee strictly increasing timestamps.
func (b *PriceSampleBuffer) Push(s PriceSample) {
	cutoff := s.Timestamp - b.windowUs
	for b.count > 0 && b.at(0).Timestamp < cutoff {
		b.evictOldest()
	}
	if b.count == len(b.samples) {
		b.evictOldest()
	}

	b.samples[(b.head+b.count)%len(b.samples)] = s
	b.count++
}

func (b *PriceSampleBuffer) at(i int) PriceSample {
	return b.samples[(b.head+i)%len(b.samples)]
}

func (b *PriceSampleBuffer) evictOldest() {
	b.samples[b.head] = PriceSample{}
	b.head = (b.head + 1) % len(b.samples)
	b.count--
}

// Len returns the number of buffered samples.
func (b *PriceSampleBuffer) Len() int {
	return b.count
}

// Window returns the age bound.
func (b *PriceSampleBuffer) Window() time.Duration {
	return time.Duration(b.windowUs) * time.Microsecond
}

// Samples returns buffered samples, oldest first.
func (b *PriceSampleBuffer) Samples() []PriceSample {
	out := make([]PriceSample, b.count)
	for i := range out {
		out[i] = b.at(i)
	}
	return out
}

// Last returns the most recent sample.
func (b *PriceSampleBuffer) Last() (PriceSample, bool) {
	if b.count == 0 {
		return PriceSample{}, false
	}
	return b.at(b.count - 1), true
}

// LastBefore returns the most recent sample strictly before cutoff.
func (b *PriceSampleBuffer) LastBefore(cutoff int64) (PriceSample, bool) {
	for i := b.count - 1; i >= 0; i-- {
		if s := b.at(i); s.Timestamp < cutoff {
			return s, true
		}
	}
	return PriceSample{}, false
}

// TWAP returns Σ(p_i·Δt_i)/ΣΔt_i over samples in [now-window, now], where each
// sample is weighted until the next one and the newest until now. It also
// returns the number of samples used.
func (b *PriceSampleBuffer) TWAP(now int64) (int64, int, error) {
	cutoff := now - b.windowUs

	prices := make([]int64, 0, b.count)
	stamps := make([]int64, 0, b.count)
	for i := 0; i < b.count; i++ {
		s := b.at(i)
		if s.Timestamp < cutoff || s.Timestamp > now {
			continue
		}
		prices = append(prices, s.Price)
		stamps = append(stamps, s.Timestamp)
	}

	if len(prices) == 0 {
		return 0, 0, ErrEmptySampleBuffer
	}

	weights := make([]int64, len(prices))
	for i := range stamps {
		if i+1 < len(stamps) {
			weights[i] = stamps[i+1] - stamps[i]
		} else {
			weights[i] = now - stamps[i]
		}
	}

	twap, err := fpmath.WeightedAverage(prices, weights)
	if errors.Is(err, fpmath.ErrDivisionByZero) {
		// single sample taken exactly at now
		return prices[len(prices)-1], len(prices), nil
	}
	if err != nil {
		return 0, 0, fmt.Errorf("twap: %w", err)
	}
	return twap, len(prices), nil
}

// TWAPBefore returns the time-weighted price over [end-window, end), treating
// the index as a step function: each sample holds until the next one and the
// newest until end. The newest buffered sample at or before the window start
// holds from the window start. Samples at or after end are ignored.
func (b *PriceSampleBuffer) TWAPBefore(end int64) (int64, int, error) {
	start := end - b.windowUs

	points := make([]PriceSample, 0, b.count)
	for i := 0; i < b.count; i++ {
		s := b.at(i)
		if s.Timestamp >= end {
			break
		}
		if s.Timestamp <= start {
			s.Timestamp = start
			points = append(points[:0], s)
			continue
		}
		points = append(points, s)
	}

	if len(points) == 0 {
		return 0, 0, ErrEmptySampleBuffer
	}

	prices := make([]int64, len(points))
	weights := make([]int64, len(points))
	for i, s := range points {
		prices[i] = s.Price
		if i+1 < len(points) {
			weights[i] = points[i+1].Timestamp - s.Timestamp
		} else {
			weights[i] = end - s.Timestamp
		}
	}

	twap, err := fpmath.WeightedAverage(prices, weights)
	if err != nil {
		return 0, 0, fmt.Errorf("twap: %w", err)
	}
	return twap, len(points), nil
}
