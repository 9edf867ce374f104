package logging

import "math"

// ProgressSampler turns a noisy stream of progress reports into a monotonic
// series that emits only when a new percentage bucket is reached.
type ProgressSampler struct {
	bucketSize float64
	last       float64
	lastBucket int
}

// NewProgressSampler constructs a sampler that emits when the percent crosses
// bucket boundaries (default 10%).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 {
		bucketSize = 10
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// Observe clamps percent to 0..100 and to no less than any earlier value, and
// reports whether the result entered a bucket not seen before. Completion at
// 100 always emits once.
func (s *ProgressSampler) Observe(percent float64) (float64, bool) {
	if math.IsNaN(percent) {
		percent = 0
	}
	percent = math.Max(0, math.Min(100, percent))
	if s == nil {
		return percent, true
	}
	if percent < s.last {
		percent = s.last
	}
	s.last = percent
	bucket := int(percent / s.bucketSize)
	if percent >= 100 {
		bucket = int(math.Ceil(100/s.bucketSize)) + 1
	}
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		return percent, true
	}
	return percent, false
}

// Last returns the highest percent observed since the last Reset.
func (s *ProgressSampler) Last() float64 {
	if s == nil {
		return 0
	}
	return s.last
}

// Reset clears the sampler state for a new attempt.
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.last = 0
	s.lastBucket = -1
}
