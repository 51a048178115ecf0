// Package bytestream holds the tiny conveniences shared by every streaming
// component in the agent: Go's io.Reader/io.Writer already give us the
// read(buf)->n / write(buf)->n contracts, so this package only adds the
// write-until-done loop that callers building on top of a partial writer
// (the pull-stream producer side, the tar codec, the filter adapters) need.
package bytestream

import "io"

// WriteAll writes buf to w in full, looping over short writes the way a
// cooperative pull-stream producer or a bufio-backed socket can return.
func WriteAll(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		buf = buf[n:]
	}
	return nil
}
