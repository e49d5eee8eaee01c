package perfstats

import (
	"sync"
	"time"
)

// Accumulate samples of how long something took
type TimeAccumulator struct {
	Samples int64
	Total   time.Duration
}

func (a *TimeAccumulator) AddSample(v time.Duration) {
	a.Samples++
	a.Total += v
}

// Measure the time since start, and add it as a sample
func (a *TimeAccumulator) Since(start time.Time) {
	a.AddSample(time.Since(start))
}

func (a *TimeAccumulator) Average() time.Duration {
	if a.Samples == 0 {
		return 0
	}
	return time.Duration(a.Total.Nanoseconds() / a.Samples)
}

// SyncTimeAccumulator is a TimeAccumulator that is safe for concurrent use.
// It is used to aggregate across many calls, for example every detection served by an HTTP server.
type SyncTimeAccumulator struct {
	lock sync.Mutex
	acc  TimeAccumulator
}

func (a *SyncTimeAccumulator) Add(other TimeAccumulator) {
	a.lock.Lock()
	defer a.lock.Unlock()
	a.acc.Samples += other.Samples
	a.acc.Total += other.Total
}

// Get a copy of the accumulated values
func (a *SyncTimeAccumulator) Get() TimeAccumulator {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.acc
}
