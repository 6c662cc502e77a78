package capture

import "github.com/danpilch/idleprobe/pkg/episode"

// Batch is a list of episodes detached from the log by a drain. It is owned
// by exactly one consumer and needs no locking.
type Batch struct {
	head, tail *node
	length     int
	pool       *pool
}

// Len returns the number of episodes left in the batch.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return b.length
}

// Front returns a copy of the first episode without removing it.
func (b *Batch) Front() (episode.Episode, bool) {
	if b == nil || b.head == nil {
		return episode.Episode{}, false
	}
	return b.head.ep, true
}

// Pop removes the first episode and returns its node to the pool.
func (b *Batch) Pop() (episode.Episode, bool) {
	if b == nil || b.head == nil {
		return episode.Episode{}, false
	}
	n := b.head
	ep := n.ep
	b.head = n.next
	if b.head == nil {
		b.tail = nil
	}
	b.length--
	b.pool.put(n)
	return ep, true
}

// Release returns every remaining node to the pool.
func (b *Batch) Release() {
	if b == nil {
		return
	}
	for b.head != nil {
		b.Pop()
	}
}

// Episodes pops every remaining episode into a slice.
func (b *Batch) Episodes() []episode.Episode {
	out := make([]episode.Episode, 0, b.Len())
	for {
		ep, ok := b.Pop()
		if !ok {
			return out
		}
		out = append(out, ep)
	}
}
