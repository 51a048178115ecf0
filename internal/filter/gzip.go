package filter

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
)

// NewGzip returns a Filter wrapping a gzip encoder (compress=true) or
// decoder (compress=false). klauspost/compress/gzip only exposes a
// stream-oriented Writer/Reader, not the Process(in,out) shape Filter
// needs, so the codec runs on its own goroutine behind a rendezvous pipe on
// the input side and a plain mutex-guarded buffer on the output side —
// nothing here ever blocks on an unbounded write, so Process always makes
// progress or returns immediately.
func NewGzip(compress bool) Filter {
	g := &gzipFilter{
		compress: compress,
		pipe:     newRendezvousPipe(),
		done:     make(chan struct{}),
	}
	go g.run()
	return g
}

type gzipFilter struct {
	compress bool
	pipe     *rendezvousPipe

	mu     sync.Mutex
	outbuf bytes.Buffer
	werr   error

	done          chan struct{}
	finishedInput bool
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func (g *gzipFilter) sink(p []byte) (int, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.outbuf.Write(p)
}

func (g *gzipFilter) run() {
	var err error
	if g.compress {
		gw := gzip.NewWriter(writerFunc(g.sink))
		_, err = io.Copy(gw, g.pipe)
		if err == nil {
			err = gw.Close()
		}
	} else {
		gr, gerr := gzip.NewReader(g.pipe)
		if gerr != nil {
			err = gerr
		} else {
			_, err = io.Copy(writerFunc(g.sink), gr)
		}
	}

	g.mu.Lock()
	g.werr = err
	g.mu.Unlock()
	// Nothing reads the pipe any more; close it so a later push returns
	// instead of waiting forever for a reader that has gone.
	g.pipe.closeInput()
	close(g.done)
}

func (g *gzipFilter) Process(in, out []byte) (int, int, error) {
	inConsumed := 0
	if len(in) > 0 {
		inConsumed = g.pipe.push(in)
	}
	outProduced, err := g.drain(out)
	return inConsumed, outProduced, err
}

func (g *gzipFilter) Finish(out []byte) (int, error) {
	if !g.finishedInput {
		g.pipe.closeInput()
		g.finishedInput = true
	}

	n, err := g.drain(out)
	if n > 0 || err != nil {
		return n, err
	}

	// The codec goroutine only has bounded work left (flush + close), none
	// of it blocking once the input side is closed, so it's safe to wait
	// for it here rather than ask the caller to poll.
	<-g.done
	return g.drain(out)
}

func (g *gzipFilter) drain(out []byte) (int, error) {
	if len(out) == 0 {
		return 0, nil
	}
	g.mu.Lock()
	n, _ := g.outbuf.Read(out)
	werr := g.werr
	g.mu.Unlock()

	if n == 0 && werr != nil && werr != io.EOF {
		return 0, fmt.Errorf("filter: gzip: %w", werr)
	}
	return n, nil
}

// rendezvousPipe hands bytes from a foreground pusher to a background
// io.Reader, one Read call at a time, the same synchronous-handoff shape as
// internal/pullstream but with the roles reversed (push is foreground,
// Read is background).
type rendezvousPipe struct {
	dataCh  chan []byte
	ackCh   chan int
	closeCh chan struct{}
	once    sync.Once
}

func newRendezvousPipe() *rendezvousPipe {
	return &rendezvousPipe{
		dataCh:  make(chan []byte),
		ackCh:   make(chan int),
		closeCh: make(chan struct{}),
	}
}

// push hands b to the background reader and returns how many bytes it
// accepted in this one handoff (may be less than len(b)).
func (p *rendezvousPipe) push(b []byte) int {
	select {
	case p.dataCh <- b:
		return <-p.ackCh
	case <-p.closeCh:
		return 0
	}
}

func (p *rendezvousPipe) Read(buf []byte) (int, error) {
	select {
	case b, ok := <-p.dataCh:
		if !ok {
			return 0, io.EOF
		}
		n := copy(buf, b)
		p.ackCh <- n
		return n, nil
	case <-p.closeCh:
		return 0, io.EOF
	}
}

func (p *rendezvousPipe) closeInput() {
	p.once.Do(func() { close(p.closeCh) })
}
