package experience

import (
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"plato-learn/common/random"
)

// ErrNotReady signals that the memory holds fewer transitions than the
// requested batch size.
var ErrNotReady = errors.New("memory not ready")

// Memory is a fixed-capacity ring of transitions. Once full, a new
// append overwrites the oldest entry. A single mutex guards both the
// ingestion writer and the learner reader.
type Memory struct {
	mu       sync.Mutex
	buf      []*Transition
	next     int
	size     int
	capacity int
	rng      *rand.Rand
}

func NewMemory(capacity int) (*Memory, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("memory: capacity must be > 0, got %d", capacity)
	}
	return &Memory{
		buf:      make([]*Transition, capacity),
		capacity: capacity,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// Append stores a transition, evicting the oldest one when full.
func (m *Memory) Append(t *Transition) {
	m.mu.Lock()
	m.buf[m.next] = t
	m.next = (m.next + 1) % m.capacity
	if m.size < m.capacity {
		m.size++
	}
	m.mu.Unlock()
}

// Sample draws batchSize transitions independently and uniformly at
// random, with replacement. Returns ErrNotReady while occupancy is
// below batchSize.
func (m *Memory) Sample(batchSize int) ([]*Transition, error) {
	if batchSize <= 0 {
		return nil, fmt.Errorf("sample: batch size must be > 0, got %d", batchSize)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.size < batchSize {
		return nil, fmt.Errorf("sample: %d of %d transitions: %w",
			m.size, batchSize, ErrNotReady)
	}
	idx, err := random.Indices(m.rng, m.size, batchSize)
	if err != nil {
		return nil, err
	}
	batch := make([]*Transition, batchSize)
	for i, j := range idx {
		batch[i] = m.buf[j]
	}
	return batch, nil
}

func (m *Memory) Size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.size
}

func (m *Memory) Capacity() int {
	return m.capacity
}
