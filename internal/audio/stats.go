package audio

import "sync"

// chunkSizeAlpha weights the newest chunk in the moving-average chunk size.
const chunkSizeAlpha = 0.1

// Stats is a snapshot of the running pipeline counters.
type Stats struct {
	Processed    uint64  `json:"processed"`
	Silenced     uint64  `json:"silenced"`
	Resampled    uint64  `json:"resampled"`
	Normalized   uint64  `json:"normalized"`
	Enhanced     uint64  `json:"enhanced"`
	Errored      uint64  `json:"errored"`
	AvgChunkSize float64 `json:"avg_chunk_size"`
}

type statsCollector struct {
	mu   sync.Mutex
	s    Stats
	seen bool
}

func (c *statsCollector) observeChunk(size int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.seen {
		c.s.AvgChunkSize = float64(size)
		c.seen = true
		return
	}
	c.s.AvgChunkSize += chunkSizeAlpha * (float64(size) - c.s.AvgChunkSize)
}

func (c *statsCollector) record(f *Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.s.Processed++
	if f.WasResampled {
		c.s.Resampled++
	}
	if f.WasNormalized {
		c.s.Normalized++
	}
	if f.WasEnhanced {
		c.s.Enhanced++
	}
}

func (c *statsCollector) recordSilence() {
	c.mu.Lock()
	c.s.Silenced++
	c.mu.Unlock()
}

func (c *statsCollector) recordError() {
	c.mu.Lock()
	c.s.Errored++
	c.mu.Unlock()
}

func (c *statsCollector) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.s
}

func (c *statsCollector) reset() {
	c.mu.Lock()
	c.s = Stats{}
	c.seen = false
	c.mu.Unlock()
}
