// Package pullstream lets a piece of procedural producer code fill an
// io.Reader that someone else drains, without ever buffering the whole
// output in memory.
//
// The producer runs on its own goroutine; a pair of unbuffered channels
// rendezvous the producer's Write calls with the consumer's Read calls. The
// producer starts running as soon as the Stream is created and runs ahead
// only until its next Write, which blocks until a Read takes the bytes.
// There is no buffering and no lock: the channel send only completes once
// the other side is ready for it, which is the "OS thread with a synchronous
// rendezvous channel of capacity 0" shape.
package pullstream

import (
	"errors"
	"fmt"
	"io"
)

// ErrBrokenPipe is returned from the producer's Write once the consumer has
// closed the stream before the producer finished.
var ErrBrokenPipe = errors.New("pullstream: broken pipe")

// Producer is procedural code that fills out until it has nothing left to
// write. A non-nil return value is logged (via the optional error sink
// passed to NewWithErrorLog) and otherwise swallowed: the consumer only ever
// observes it as an early end-of-stream, per the channel's failure
// semantics.
type Producer func(out io.Writer) error

// Stream is the io.Reader handed to the consumer.
type Stream struct {
	reqCh    chan []byte
	respCh   chan int
	finished chan struct{}
	cancel   chan struct{}
	onError  func(error)

	eof       bool
	cancelled bool
}

// New starts producer on its own goroutine and returns the Reader the
// consumer drains.
func New(producer Producer) *Stream {
	return NewWithErrorLog(producer, nil)
}

// NewWithErrorLog is like New but routes a producer error (or panic) to
// onError instead of discarding it silently.
func NewWithErrorLog(producer Producer, onError func(error)) *Stream {
	s := &Stream{
		reqCh:    make(chan []byte),
		respCh:   make(chan int),
		finished: make(chan struct{}),
		cancel:   make(chan struct{}),
		onError:  onError,
	}
	go s.run(producer)
	return s
}

func (s *Stream) run(producer Producer) {
	defer close(s.finished)
	defer func() {
		if r := recover(); r != nil && s.onError != nil {
			s.onError(fmt.Errorf("pullstream: producer panicked: %v", r))
		}
	}()

	w := &producerWriter{s: s}
	if err := producer(w); err != nil && s.onError != nil {
		s.onError(err)
	}
}

// Read implements io.Reader for the consumer side. It blocks until the
// producer issues a matching Write, or until the producer has returned, in
// which case it reports end-of-stream.
func (s *Stream) Read(p []byte) (int, error) {
	if s.eof {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	select {
	case s.reqCh <- p:
		n := <-s.respCh
		return n, nil
	case <-s.finished:
		s.eof = true
		return 0, io.EOF
	}
}

// Close cancels a still-running producer: its next Write fails with
// ErrBrokenPipe so it can unwind. Safe to call multiple times and safe to
// call after the producer has already finished.
func (s *Stream) Close() error {
	if s.cancelled {
		return nil
	}
	s.cancelled = true
	close(s.cancel)
	return nil
}

// producerWriter is the io.Writer the producer function writes into.
type producerWriter struct {
	s *Stream
}

func (w *producerWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	select {
	case buf := <-w.s.reqCh:
		n := copy(buf, p)
		w.s.respCh <- n
		return n, nil
	case <-w.s.cancel:
		return 0, ErrBrokenPipe
	}
}
