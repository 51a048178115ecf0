// Package filter provides a pure byte-in/byte-out Filter interface and two
// adapters — Writer and Reader — that lift a Filter onto io.Writer/io.Reader
// streams. The gzip filter (gzip.go) is the concrete Filter used by the
// agent's tar routes.
package filter

import (
	"errors"
	"fmt"
	"io"

	"github.com/andycostintoma/remote-test-agent/internal/bytestream"
)

// Filter is a pure byte transformer. Process consumes some of in and
// produces some bytes into out; either count may be zero, but a Filter must
// never return (0,0,nil) forever without the caller providing more input.
// Finish flushes whatever the filter is still holding onto; it returns 0
// once nothing more will ever be produced.
type Filter interface {
	Process(in, out []byte) (inConsumed, outProduced int, err error)
	Finish(out []byte) (outProduced int, err error)
}

// ErrNoProgress is returned by Writer.Write if a Filter reports consuming
// and producing nothing while input remains — a filter implementation bug.
var ErrNoProgress = errors.New("filter: made no progress")

const defaultBufSize = 32 * 1024

// Writer drives a Filter's compress/transform direction: everything written
// to it is processed and the filter's output is written to downstream in
// full; closing flushes Finish before returning.
type Writer struct {
	f      Filter
	down   io.Writer
	outBuf []byte
	closed bool
}

// NewWriter returns a Writer that runs writes through f before forwarding
// them to down.
func NewWriter(down io.Writer, f Filter) *Writer {
	return &Writer{f: f, down: down, outBuf: make([]byte, defaultBufSize)}
}

func (fw *Writer) Write(p []byte) (int, error) {
	total := 0
	for len(p) > 0 {
		inN, outN, err := fw.f.Process(p, fw.outBuf)
		if err != nil {
			return total, err
		}
		if outN > 0 {
			if err := bytestream.WriteAll(fw.down, fw.outBuf[:outN]); err != nil {
				return total, err
			}
		}
		if inN == 0 && outN == 0 {
			return total, ErrNoProgress
		}
		p = p[inN:]
		total += inN
	}
	return total, nil
}

// Close flushes the filter's remaining output to downstream. It does not
// close downstream itself.
func (fw *Writer) Close() error {
	if fw.closed {
		return nil
	}
	fw.closed = true
	for {
		n, err := fw.f.Finish(fw.outBuf)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		if err := bytestream.WriteAll(fw.down, fw.outBuf[:n]); err != nil {
			return err
		}
	}
}

// Reader drives a Filter's expand/transform direction: reads pull from
// upstream into an internal buffer, process it through the filter, and
// switch to Finish once upstream has reached EOF.
type Reader struct {
	f     Filter
	up    io.Reader
	inBuf []byte
	start int
	end   int
	upEOF bool
	done  bool
}

// NewReader returns a Reader that runs bytes pulled from up through f.
func NewReader(up io.Reader, f Filter) *Reader {
	return &Reader{f: f, up: up, inBuf: make([]byte, defaultBufSize)}
}

func (fr *Reader) Read(p []byte) (int, error) {
	for {
		if fr.done {
			return 0, io.EOF
		}

		if fr.start < fr.end || fr.upEOF {
			inN, outN, err := fr.f.Process(fr.inBuf[fr.start:fr.end], p)
			if err != nil {
				return 0, err
			}
			fr.start += inN
			if outN > 0 {
				return outN, nil
			}

			if fr.upEOF && fr.start >= fr.end {
				n, err := fr.f.Finish(p)
				if err != nil {
					return 0, err
				}
				if n == 0 {
					fr.done = true
					return 0, io.EOF
				}
				return n, nil
			}

			if inN == 0 && outN == 0 && !fr.upEOF {
				// fall through to refill upstream below
			} else {
				continue
			}
		}

		fr.start, fr.end = 0, 0
		n, err := fr.up.Read(fr.inBuf)
		fr.end = n
		if err == io.EOF {
			fr.upEOF = true
		} else if err != nil {
			return 0, fmt.Errorf("filter: upstream read: %w", err)
		}
	}
}
