package stats

import (
	"context"
	"sync"
)

type memoryCounter struct {
	mutex  sync.RWMutex
	totals map[string]int64
}

// NewMemory builds an in-process counter. Totals reset on restart.
func NewMemory() Counter {
	return &memoryCounter{totals: make(map[string]int64)}
}

func (c *memoryCounter) Add(_ context.Context, name string, delta int64) error {
	c.mutex.Lock()
	c.totals[name] += delta
	c.mutex.Unlock()
	return nil
}

func (c *memoryCounter) Total(_ context.Context, name string) (int64, error) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.totals[name], nil
}

func (c *memoryCounter) Close(_ context.Context) error {
	return nil
}
