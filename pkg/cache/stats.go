package cache

import (
	"sync/atomic"
)

// Statistics tracks cache performance counters.
type Statistics struct {
	hits        int64
	misses      int64
	sets        int64
	deletes     int64
	evictions   int64
	currentSize int64
	maxSize     int64
}

// NewStatistics creates a new statistics tracker.
func NewStatistics() *Statistics {
	return &Statistics{}
}

func (s *Statistics) Hit()      { atomic.AddInt64(&s.hits, 1) }
func (s *Statistics) Miss()     { atomic.AddInt64(&s.misses, 1) }
func (s *Statistics) Set()      { atomic.AddInt64(&s.sets, 1) }
func (s *Statistics) Delete()   { atomic.AddInt64(&s.deletes, 1) }
func (s *Statistics) Eviction() { atomic.AddInt64(&s.evictions, 1) }

// UpdateSize records the current size and the high-water mark.
func (s *Statistics) UpdateSize(size int64) {
	atomic.StoreInt64(&s.currentSize, size)
	for {
		current := atomic.LoadInt64(&s.maxSize)
		if size <= current || atomic.CompareAndSwapInt64(&s.maxSize, current, size) {
			return
		}
	}
}

func (s *Statistics) Hits() int64        { return atomic.LoadInt64(&s.hits) }
func (s *Statistics) Misses() int64      { return atomic.LoadInt64(&s.misses) }
func (s *Statistics) Sets() int64        { return atomic.LoadInt64(&s.sets) }
func (s *Statistics) Deletes() int64     { return atomic.LoadInt64(&s.deletes) }
func (s *Statistics) Evictions() int64   { return atomic.LoadInt64(&s.evictions) }
func (s *Statistics) CurrentSize() int64 { return atomic.LoadInt64(&s.currentSize) }
func (s *Statistics) MaxSize() int64     { return atomic.LoadInt64(&s.maxSize) }

// HitRatio returns hits / (hits + misses), 0 before the first lookup.
func (s *Statistics) HitRatio() float64 {
	hits, misses := s.Hits(), s.Misses()
	if hits+misses == 0 {
		return 0
	}
	return float64(hits) / float64(hits+misses)
}

// StatsSummary is a snapshot of the counters.
type StatsSummary struct {
	Hits        int64   `json:"hits"`
	Misses      int64   `json:"misses"`
	Sets        int64   `json:"sets"`
	Deletes     int64   `json:"deletes"`
	Evictions   int64   `json:"evictions"`
	CurrentSize int64   `json:"current_size"`
	MaxSize     int64   `json:"max_size"`
	HitRatio    float64 `json:"hit_ratio"`
}

// Summary returns a snapshot of all statistics.
func (s *Statistics) Summary() StatsSummary {
	return StatsSummary{
		Hits:        s.Hits(),
		Misses:      s.Misses(),
		Sets:        s.Sets(),
		Deletes:     s.Deletes(),
		Evictions:   s.Evictions(),
		CurrentSize: s.CurrentSize(),
		MaxSize:     s.MaxSize(),
		HitRatio:    s.HitRatio(),
	}
}
