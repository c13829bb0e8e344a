package session

import (
	"fmt"
	"math/rand"
	"sync"
)

const (
	minClientID = 1000
	maxClientID = 9999

	// Released ids rest for a while so a quick reconnect does not collide
	// with a gateway that has not noticed the old socket closing.
	recentCap = 64
)

// ClientIDPool hands out gateway client ids. It is the only state shared
// between sessions.
type ClientIDPool struct {
	mu     sync.Mutex
	min    int
	max    int
	inUse  map[int]bool
	recent []int
}

var defaultPool = NewClientIDPool()

// DefaultPool is the process-wide pool.
func DefaultPool() *ClientIDPool { return defaultPool }

// NewClientIDPool draws ids from [1000, 9999].
func NewClientIDPool() *ClientIDPool {
	return newClientIDPool(minClientID, maxClientID)
}

func newClientIDPool(lo, hi int) *ClientIDPool {
	return &ClientIDPool{min: lo, max: hi, inUse: make(map[int]bool)}
}

// Acquire reserves a random free id.
func (p *ClientIDPool) Acquire() (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	span := p.max - p.min + 1
	for i := 0; i < 32; i++ {
		id := p.min + rand.Intn(span)
		if p.freeLocked(id) {
			p.inUse[id] = true
			return id, nil
		}
	}
	// Dense pool: scan from a random start, then accept recently released.
	start := rand.Intn(span)
	for _, allowRecent := range []bool{false, true} {
		for i := 0; i < span; i++ {
			id := p.min + (start+i)%span
			if p.inUse[id] || (!allowRecent && p.isRecent(id)) {
				continue
			}
			p.inUse[id] = true
			return id, nil
		}
	}
	return 0, fmt.Errorf("no free client id in [%d, %d]: %w", p.min, p.max, ErrClientIDInUse)
}

// AcquireID reserves a specific id. Any non-negative id is accepted,
// including ones outside the random range.
func (p *ClientIDPool) AcquireID(id int) error {
	if id < 0 {
		return fmt.Errorf("client id %d must not be negative", id)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inUse[id] {
		return fmt.Errorf("client id %d: %w", id, ErrClientIDInUse)
	}
	p.inUse[id] = true
	return nil
}

func (p *ClientIDPool) Release(id int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inUse[id] {
		return
	}
	delete(p.inUse, id)
	p.recent = append(p.recent, id)
	if len(p.recent) > recentCap {
		p.recent = p.recent[len(p.recent)-recentCap:]
	}
}

func (p *ClientIDPool) InUse(id int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse[id]
}

func (p *ClientIDPool) freeLocked(id int) bool {
	return !p.inUse[id] && !p.isRecent(id)
}

func (p *ClientIDPool) isRecent(id int) bool {
	for _, r := range p.recent {
		if r == id {
			return true
		}
	}
	return false
}
