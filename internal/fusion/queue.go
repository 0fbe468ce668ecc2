package fusion

import (
	"sync"

	"github.com/louwxander-cell/Centauri-C2/internal/model"
)

// Queue is the bounded, lossless-within-capacity measurement queue between a
// driver and the fusion engine. On overflow the oldest measurement is
// dropped and a counter incremented: stale kinematics are useless, so the
// queue prefers freshness.
type Queue struct {
	mu       sync.Mutex
	buf      []*model.Measurement
	capacity int
	dropped  uint64
}

// NewQueue creates a queue holding at most capacity measurements.
func NewQueue(capacity int) *Queue {
	if capacity <= 0 {
		capacity = 256
	}
	return &Queue{capacity: capacity}
}

// Push appends a measurement, evicting the oldest entry when full.
func (q *Queue) Push(m *model.Measurement) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.buf) >= q.capacity {
		copy(q.buf, q.buf[1:])
		q.buf = q.buf[:len(q.buf)-1]
		q.dropped++
	}
	q.buf = append(q.buf, m)
}

// Drain removes and returns all pending measurements in arrival order.
func (q *Queue) Drain() []*model.Measurement {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.buf
	q.buf = nil
	return out
}

// Dropped reports how many measurements have been discarded on overflow.
func (q *Queue) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

var _ model.MeasurementSink = (*Queue)(nil)
