package capture

import "github.com/danpilch/idleprobe/pkg/episode"

// State is the position of a Session in its lifecycle.
type State int

const (
	NotStarted State = iota
	Draining
	Done
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not-started"
	case Draining:
		return "draining"
	case Done:
		return "done"
	}
	return "unknown"
}

// Session is one reader's destructive pass over the log.
//
// The first call to Start detaches the log. Start returns the first
// episode, each Next consumes the previous episode and returns the
// following one, and Stop releases whatever was not consumed.
type Session struct {
	log     *Log
	batch   *Batch
	state   State
	fetched int64
}

// Start begins the drain on first use and returns the current episode.
func (s *Session) Start() (episode.Episode, bool) {
	if s.state == NotStarted {
		s.batch, s.fetched = s.log.BeginDrain()
		s.state = Draining
		if s.batch.Len() == 0 {
			s.finish()
		}
	}
	return s.Peek()
}

// Peek returns the current episode without consuming it.
func (s *Session) Peek() (episode.Episode, bool) {
	if s.state != Draining {
		return episode.Episode{}, false
	}
	return s.batch.Front()
}

// Advance consumes the current episode and returns the next one.
func (s *Session) Advance() (episode.Episode, bool) {
	if s.state != Draining {
		return episode.Episode{}, false
	}
	s.batch.Pop()
	if s.batch.Len() == 0 {
		s.finish()
		return episode.Episode{}, false
	}
	return s.batch.Front()
}

// Next is Advance; it starts the session if needed.
func (s *Session) Next() (episode.Episode, bool) {
	if s.state == NotStarted {
		return s.Start()
	}
	return s.Advance()
}

// Stop ends the session and releases every unconsumed episode. It is safe
// to call more than once.
func (s *Session) Stop() {
	s.finish()
}

// State returns the session state.
func (s *Session) State() State {
	return s.state
}

// FetchedAt returns the wall-clock second the drain was taken, or zero
// before Start.
func (s *Session) FetchedAt() int64 {
	return s.fetched
}

// Remaining returns how many episodes the session still holds.
func (s *Session) Remaining() int {
	if s.state != Draining {
		return 0
	}
	return s.batch.Len()
}

func (s *Session) finish() {
	if s.batch != nil {
		s.batch.Release()
	}
	s.state = Done
}
