package clock

import (
	"sync"
	"time"
)

// Clock supplies a monotonic "now" in milliseconds.
type Clock interface {
	NowMillis() int64
}

// Real measures monotonic time since it was created.
type Real struct {
	epoch time.Time
}

// NewReal returns a Real clock starting at zero.
func NewReal() *Real {
	return &Real{epoch: time.Now()}
}

// NowMillis returns the milliseconds elapsed since NewReal.
func (c *Real) NowMillis() int64 {
	return time.Since(c.epoch).Milliseconds()
}

// Manual is a clock driven by the caller. Every NowMillis call advances
// the clock by Step after reading it.
type Manual struct {
	mu   sync.Mutex
	now  int64
	step int64
}

// NewManual returns a Manual clock at start that advances by step on each read.
func NewManual(start, step int64) *Manual {
	return &Manual{now: start, step: step}
}

func (c *Manual) NowMillis() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now += c.step
	return now
}

// Advance moves the clock forward by d milliseconds.
func (c *Manual) Advance(d int64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}
