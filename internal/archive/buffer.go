package archive

import (
	"sync"

	"github.com/pressfolio/activity-channel/internal/activitylog"
)

// entryBuffer is a growable ring buffer decoupling the stream tailer from
// the database writer. It doubles its capacity when 70% full, so a slow
// flush backs up into memory instead of stalling the tailer.
type entryBuffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	ring     []activitylog.Entry
	head     int
	tail     int
	count    int
	capacity int
	closed   bool

	received int64
	grows    int
}

func newEntryBuffer(initialCapacity int) *entryBuffer {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &entryBuffer{
		ring:     make([]activitylog.Entry, initialCapacity),
		capacity: initialCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push appends an entry, growing the ring if needed. Returns false once the
// buffer is closed.
func (b *entryBuffer) push(e activitylog.Entry) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold {
		b.grow()
	}

	b.ring[b.tail] = e
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.received++

	b.cond.Signal()
	return true
}

// drain blocks until at least one entry is buffered (or the buffer closes),
// then returns up to max entries in arrival order. A nil return means the
// buffer is closed and empty.
func (b *entryBuffer) drain(max int) []activitylog.Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}
	out := make([]activitylog.Entry, n)
	for i := 0; i < n; i++ {
		out[i] = b.ring[b.head]
		b.ring[b.head] = activitylog.Entry{}
		b.head = (b.head + 1) % b.capacity
		b.count--
	}
	return out
}

// close wakes every waiter; drained entries remain readable until empty.
func (b *entryBuffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

func (b *entryBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// grow doubles capacity. Caller holds the lock.
func (b *entryBuffer) grow() {
	next := make([]activitylog.Entry, b.capacity*2)
	if b.count > 0 {
		if b.head < b.tail {
			copy(next, b.ring[b.head:b.tail])
		} else {
			n := copy(next, b.ring[b.head:])
			copy(next[n:], b.ring[:b.tail])
		}
	}
	b.ring = next
	b.head = 0
	b.tail = b.count
	b.capacity = len(next)
	b.grows++
}
