// Package seqfile exposes a drain session as a byte stream, one formatted
// record per episode, the way a sequential pseudo-file is read.
package seqfile

import (
	"bytes"
	"io"

	"github.com/danpilch/idleprobe/pkg/capture"
	"github.com/danpilch/idleprobe/pkg/episode"
	"github.com/danpilch/idleprobe/pkg/output"
)

// Reader streams one drain session. The drain happens on the first Read,
// not on Open.
type Reader struct {
	session *capture.Session
	format  output.Format
	buf     bytes.Buffer
	started bool
	err     error
}

// Open prepares a reader over l. Close must be called to release episodes
// that were not read.
func Open(l *capture.Log, format output.Format) *Reader {
	return &Reader{
		session: l.Open(),
		format:  format,
	}
}

// Read fills p with formatted records. Records are never split across the
// session boundary: once the session is done and the buffer is empty, Read
// returns io.EOF.
func (r *Reader) Read(p []byte) (int, error) {
	for r.buf.Len() == 0 {
		if r.err != nil {
			return 0, r.err
		}
		r.fill()
	}
	return r.buf.Read(p)
}

func (r *Reader) fill() {
	ep, ok := r.next()
	if !ok {
		r.err = io.EOF
		return
	}
	if err := output.WriteLine(&r.buf, r.format, ep); err != nil {
		r.err = err
		r.session.Stop()
	}
}

func (r *Reader) next() (episode.Episode, bool) {
	if !r.started {
		r.started = true
		return r.session.Start()
	}
	return r.session.Next()
}

// Session returns the underlying drain session.
func (r *Reader) Session() *capture.Session {
	return r.session
}

// Close stops the session, releasing any unread episodes.
func (r *Reader) Close() error {
	r.session.Stop()
	r.buf.Reset()
	if r.err == nil {
		r.err = io.EOF
	}
	return nil
}
