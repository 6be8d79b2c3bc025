// Package provider abstracts the generation backends behind one contract:
// build a prompt, then produce a lazy ordered sequence of reply fragments.
package provider

import "context"

// Stream is a lazy, ordered, finite, not-restartable sequence of text
// fragments. The producing goroutine closes it exactly once, recording at
// most one terminal error; a consumer drains Fragments and then checks Err.
type Stream struct {
	ch  chan string
	err error
}

func NewStream() *Stream {
	return &Stream{ch: make(chan string)}
}

// Fragments returns the fragment channel. It is closed when the stream ends,
// normally or not.
func (s *Stream) Fragments() <-chan string {
	return s.ch
}

// Err reports the terminal error. Only valid after Fragments has been
// drained; the close of the channel publishes the write.
func (s *Stream) Err() error {
	return s.err
}

// Emit delivers one fragment, giving up when the context ends.
func (s *Stream) Emit(ctx context.Context, fragment string) bool {
	select {
	case s.ch <- fragment:
		return true
	case <-ctx.Done():
		return false
	}
}

// Finish records the terminal error and closes the stream. Must be called
// exactly once, by the producer.
func (s *Stream) Finish(err error) {
	s.err = err
	close(s.ch)
}
