package smarthome

import (
	"fmt"
	"sync"
)

// TimerPool hands out named timer-entity slots from a fixed pool with
// FIFO acquisition and release-on-completion-or-cancellation discipline
// (§4.9, §5 "a slot is never double-acquired").
type TimerPool struct {
	mu        sync.Mutex
	free      []string
	inUse     map[string]bool
	allSlots  map[string]bool
}

// NewTimerPool constructs a pool from the fixed set of platform timer
// entity ids.
func NewTimerPool(slotIDs []string) *TimerPool {
	free := append([]string(nil), slotIDs...)
	all := make(map[string]bool, len(slotIDs))
	for _, id := range slotIDs {
		all[id] = true
	}
	return &TimerPool{free: free, inUse: make(map[string]bool), allSlots: all}
}

// Acquire returns the next free slot FIFO, or ok=false if the pool is
// exhausted.
func (p *TimerPool) Acquire() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.free) == 0 {
		return "", false
	}
	id := p.free[0]
	p.free = p.free[1:]
	p.inUse[id] = true
	return id, true
}

// Release returns a slot to the free pool. Releasing a slot that was not
// acquired, or double-releasing, is a no-op error surfaced to the caller
// so the invariant "never double-acquired" is enforceable by callers.
func (p *TimerPool) Release(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.allSlots[id] {
		return fmt.Errorf("smarthome: unknown timer slot %s", id)
	}
	if !p.inUse[id] {
		return fmt.Errorf("smarthome: timer slot %s is not in use", id)
	}
	delete(p.inUse, id)
	p.free = append(p.free, id)
	return nil
}

// Available reports the current free-slot count.
func (p *TimerPool) Available() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.free)
}
