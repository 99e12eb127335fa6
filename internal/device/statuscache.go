package device

import "sync/atomic"

// StatusCache holds the last observed device status code. The heartbeat
// publisher refreshes it on each probe; status messages read it instead
// of probing inline, so a print in progress never blocks reporting.
type StatusCache struct {
	code atomic.Int32
}

// Set records a freshly probed status code.
func (c *StatusCache) Set(code int) {
	c.code.Store(int32(code))
}

// Get returns the last recorded status code. Zero until the first probe.
func (c *StatusCache) Get() int {
	return int(c.code.Load())
}
