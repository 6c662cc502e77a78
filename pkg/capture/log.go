// Package capture provides the shared idle-episode log and its drain protocol.
package capture

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/danpilch/idleprobe/pkg/clock"
	"github.com/danpilch/idleprobe/pkg/episode"
)

// DefaultRetention is how long unread episodes are kept before eviction
// starts trimming the backlog.
const DefaultRetention = 120 * time.Second

// DefaultCapacity is the default size of the node pool.
const DefaultCapacity = 1 << 16

// ErrInvalidCapacity is returned when the log cannot be sized.
var ErrInvalidCapacity = errors.New("capture: capacity must be positive")

// RetentionPolicy selects how stale entries are evicted on append.
type RetentionPolicy string

const (
	// PolicyTrickle drops one entry from the front per stale append.
	PolicyTrickle RetentionPolicy = "trickle"
	// PolicyPurge drops every entry older than the retention window.
	PolicyPurge RetentionPolicy = "purge"
)

// ParsePolicy converts a configuration string into a RetentionPolicy.
func ParsePolicy(s string) (RetentionPolicy, error) {
	switch RetentionPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case PolicyTrickle, "":
		return PolicyTrickle, nil
	case PolicyPurge:
		return PolicyPurge, nil
	}
	return "", fmt.Errorf("unknown retention policy %q (want trickle or purge)", s)
}

// Config sizes the log and sets its eviction behaviour.
type Config struct {
	Retention time.Duration
	Policy    RetentionPolicy
	Capacity  int
}

// DefaultConfig returns the reference configuration.
func DefaultConfig() Config {
	return Config{
		Retention: DefaultRetention,
		Policy:    PolicyTrickle,
		Capacity:  DefaultCapacity,
	}
}

// Stats is a snapshot of the log counters.
type Stats struct {
	Appended  uint64 `json:"appended"`
	Evicted   uint64 `json:"evicted"`
	Dropped   uint64 `json:"dropped"`
	Drains    uint64 `json:"drains"`
	Drained   uint64 `json:"drained"`
	Backlog   int    `json:"backlog"`
	PoolFree  int    `json:"pool_free"`
	Capacity  int    `json:"capacity"`
	LastFetch int64  `json:"last_fetch"`
}

// Log is the ordered collection of completed episodes shared by every
// producer CPU and the drain sessions.
//
// Append and BeginDrain hold a spin lock for a few pointer operations only
// and never block, so producers may call Append from any context.
type Log struct {
	retention int64 // seconds
	policy    RetentionPolicy
	wall      clock.Source
	pool      *pool

	lock      spinLock
	head      *node
	tail      *node
	length    int
	nextSeq   uint64
	lastFetch int64

	appended atomic.Uint64
	evicted  atomic.Uint64
	dropped  atomic.Uint64
	drains   atomic.Uint64
	drained  atomic.Uint64
}

// New creates an empty log. The fetch timestamp starts at the current
// wall time, so eviction only begins once the retention window has passed
// without a reader.
func New(cfg Config, wall clock.Source) (*Log, error) {
	if cfg.Capacity <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidCapacity, cfg.Capacity)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	policy, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	if wall == nil {
		wall = clock.System()
	}
	return &Log{
		retention: int64(cfg.Retention / time.Second),
		policy:    policy,
		wall:      wall,
		pool:      newPool(cfg.Capacity),
		nextSeq:   1,
		lastFetch: wall.Now().Wall.Sec,
	}, nil
}

// Append assigns the next sequence number to ep and adds it to the back of
// the log. It returns false when the node pool is exhausted; the episode
// is then dropped and counted.
func (l *Log) Append(ep episode.Episode) bool {
	l.lock.Lock()
	l.evictLocked(ep.StartWall.Sec)
	n, ok := l.pool.get()
	if !ok {
		l.lock.Unlock()
		l.dropped.Add(1)
		return false
	}
	ep.Sequence = l.nextSeq
	l.nextSeq++
	n.ep = ep
	if l.tail == nil {
		l.head = n
	} else {
		l.tail.next = n
	}
	l.tail = n
	l.length++
	l.lock.Unlock()

	l.appended.Add(1)
	return true
}

// evictLocked applies the retention policy for an episode that started at
// sec. Caller holds the lock.
func (l *Log) evictLocked(sec int64) {
	if l.head == nil || sec <= l.lastFetch+l.retention {
		return
	}
	switch l.policy {
	case PolicyPurge:
		cutoff := sec - l.retention
		for l.head != nil && l.head.ep.StartWall.Sec < cutoff {
			l.popFrontLocked()
		}
	default:
		l.popFrontLocked()
	}
}

func (l *Log) popFrontLocked() {
	n := l.head
	l.head = n.next
	if l.head == nil {
		l.tail = nil
	}
	l.length--
	l.pool.put(n)
	l.evicted.Add(1)
}

// BeginDrain detaches everything appended so far and resets the log to
// empty. Episodes appended afterwards belong to the next drain. It returns
// the detached batch and the wall-clock second recorded as the fetch time.
func (l *Log) BeginDrain() (*Batch, int64) {
	now := l.wall.Now().Wall.Sec

	l.lock.Lock()
	b := &Batch{head: l.head, tail: l.tail, length: l.length, pool: l.pool}
	l.head, l.tail, l.length = nil, nil, 0
	l.lastFetch = now
	l.lock.Unlock()

	l.drains.Add(1)
	l.drained.Add(uint64(b.length))
	return b, now
}

// Len returns the number of episodes waiting to be drained.
func (l *Log) Len() int {
	l.lock.Lock()
	defer l.lock.Unlock()
	return l.length
}

// Retention returns the eviction window.
func (l *Log) Retention() time.Duration {
	return time.Duration(l.retention) * time.Second
}

// Policy returns the eviction policy.
func (l *Log) Policy() RetentionPolicy {
	return l.policy
}

// Stats returns a snapshot of the log counters.
func (l *Log) Stats() Stats {
	l.lock.Lock()
	backlog, lastFetch := l.length, l.lastFetch
	l.lock.Unlock()

	return Stats{
		Appended:  l.appended.Load(),
		Evicted:   l.evicted.Load(),
		Dropped:   l.dropped.Load(),
		Drains:    l.drains.Load(),
		Drained:   l.drained.Load(),
		Backlog:   backlog,
		PoolFree:  l.pool.available(),
		Capacity:  l.pool.capacity(),
		LastFetch: lastFetch,
	}
}

// Close discards every resident episode. Nothing is flushed anywhere.
func (l *Log) Close() {
	l.lock.Lock()
	b := &Batch{head: l.head, tail: l.tail, length: l.length, pool: l.pool}
	l.head, l.tail, l.length = nil, nil, 0
	l.lock.Unlock()

	b.Release()
}

// Open creates a drain session bound to the log.
func (l *Log) Open() *Session {
	return &Session{log: l}
}
