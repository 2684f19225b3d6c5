package executor

import (
	"sync/atomic"

	"github.com/dustin/go-humanize"
)

// ProgressUpdater receives byte counts as workers move data. Implementations
// must be safe for concurrent use. The executor is fully usable headless
// with NopProgress.
type ProgressUpdater interface {
	Update(n int64)
}

type NopProgress struct{}

func (NopProgress) Update(n int64) {}

// LogProgress logs cumulative transferred bytes every Step bytes.
type LogProgress struct {
	Step int64

	total    atomic.Int64
	lastMark atomic.Int64
}

func NewLogProgress(step int64) *LogProgress {
	if step <= 0 {
		step = 128 * 1024 * 1024
	}
	return &LogProgress{Step: step}
}

func (p *LogProgress) Update(n int64) {
	total := p.total.Add(n)
	mark := p.lastMark.Load()
	if total-mark >= p.Step && p.lastMark.CompareAndSwap(mark, total) {
		logger.Infof("transferred %s", humanize.IBytes(uint64(total)))
	}
}

// Total returns the cumulative byte count seen so far.
func (p *LogProgress) Total() int64 {
	return p.total.Load()
}
