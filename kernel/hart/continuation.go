package hart

import "runtime"

// Continuation is a parked stream of execution: a goroutine waiting for the
// hart to come back to the frame it saved.
type Continuation struct {
	key uint64
	ch  chan bool
	h   *Hart
}

// Park registers the calling stream as suspended with its frame at key.
// The caller must then hand the hart to someone else and call Wait.
func (h *Hart) Park(key uint64) *Continuation {
	c := &Continuation{key: key, ch: make(chan bool, 1), h: h}
	s := &h.streams
	s.mu.Lock()
	_, dup := s.parked[key]
	if !dup {
		s.parked[key] = c
	}
	s.mu.Unlock()
	if dup {
		h.Fault("park: frame %#x already holds a suspended stream", key)
	}
	return c
}

// Wait blocks until the continuation is resumed. A stream whose frame was
// released, or whose hart halted, never runs again.
func (c *Continuation) Wait() {
	select {
	case ok := <-c.ch:
		if !ok {
			runtime.Goexit()
		}
	case <-c.h.streams.halted:
		runtime.Goexit()
	}
}

// Resume hands the hart to the stream parked at key. It reports false if no
// stream is parked there.
func (h *Hart) Resume(key uint64) bool {
	s := &h.streams
	s.mu.Lock()
	c, ok := s.parked[key]
	delete(s.parked, key)
	s.mu.Unlock()
	if ok {
		c.ch <- true
	}
	return ok
}

// Spawn starts a new stream executing at pc.
func (h *Hart) Spawn() {
	go h.Exec()
}

// Parked reports how many streams are suspended.
func (h *Hart) Parked() int {
	s := &h.streams
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.parked)
}

// ReleaseFrames terminates every stream whose saved frame lies in
// [lo, hi). It is called when the stack holding those frames is freed.
func (h *Hart) ReleaseFrames(lo, hi uint64) int {
	s := &h.streams
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, c := range s.parked {
		if key >= lo && key < hi {
			delete(s.parked, key)
			c.ch <- false
			n++
		}
	}
	return n
}

// Halt stops the hart. Every parked stream exits; the caller keeps running.
func (h *Hart) Halt() {
	h.streams.haltOnce.Do(func() { close(h.streams.halted) })
}

// Halted reports whether Halt was called.
func (h *Hart) Halted() bool {
	select {
	case <-h.streams.halted:
		return true
	default:
		return false
	}
}
