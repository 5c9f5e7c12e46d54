package metrics

import (
	"math"
	"sync/atomic"
)

// SamplingObserver forwards one in every 1/rate events whose name is in the
// sampled set and passes every other event through untouched. High volume
// per-frame events (audio_in) are the intended target.
type SamplingObserver struct {
	inner   Observer
	rate    float64
	every   uint64
	names   map[string]struct{}
	counter atomic.Uint64
}

// NewSamplingObserver samples the named events at rate in [0,1]. With no
// names every event is sampled.
func NewSamplingObserver(inner Observer, rate float64, names ...string) *SamplingObserver {
	rate = math.Max(0, math.Min(1, rate))
	s := &SamplingObserver{inner: inner, rate: rate}
	if rate > 0 {
		s.every = uint64(math.Max(1, math.Round(1/rate)))
	}
	if len(names) > 0 {
		s.names = make(map[string]struct{}, len(names))
		for _, n := range names {
			s.names[n] = struct{}{}
		}
	}
	return s
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if s.inner == nil {
		return
	}
	if s.names != nil {
		if _, sampled := s.names[ev.Name]; !sampled {
			s.inner.RecordEvent(ev)
			return
		}
	}
	if s.every == 0 {
		return
	}
	if s.every == 1 || s.counter.Add(1)%s.every == 0 {
		s.inner.RecordEvent(ev)
	}
}

func (s *SamplingObserver) Rate() float64 {
	return s.rate
}
