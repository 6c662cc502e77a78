package capture

import "github.com/danpilch/idleprobe/pkg/episode"

// node is one link of the intrusive episode list.
type node struct {
	ep   episode.Episode
	next *node
}

// pool is a fixed set of nodes allocated once. get and put never block:
// an empty pool makes get fail, which the log turns into a dropped episode.
type pool struct {
	slab []node
	free chan *node
}

func newPool(capacity int) *pool {
	p := &pool{
		slab: make([]node, capacity),
		free: make(chan *node, capacity),
	}
	for i := range p.slab {
		p.free <- &p.slab[i]
	}
	return p
}

func (p *pool) get() (*node, bool) {
	select {
	case n := <-p.free:
		return n, true
	default:
		return nil, false
	}
}

func (p *pool) put(n *node) {
	*n = node{}
	select {
	case p.free <- n:
	default:
		// Only nodes from the slab are ever put back, so the channel
		// cannot be full.
	}
}

func (p *pool) available() int {
	return len(p.free)
}

func (p *pool) capacity() int {
	return cap(p.free)
}
