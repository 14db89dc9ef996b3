// Package demux splits a multiplexed container output stream into its
// stdout and stderr components.
//
// The wire format is the 8-byte-header framing used by container runtimes
// for non-TTY exec output: [selector:1][reserved:3][length:4 big-endian]
// followed by length payload bytes. Selector 1 is stdout, 2 is stderr.
// Frames with any other selector are discarded.
package demux

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// HeaderLen is the size of a frame header in bytes.
	HeaderLen = 8

	// FrameStdout and FrameStderr are the selector values routed to the
	// respective output.
	FrameStdout byte = 1
	FrameStderr byte = 2
)

// Copy reads frames from src until the stream ends, writing each payload
// to dst matching its selector. It returns the total payload bytes
// forwarded.
//
// A stream that ends mid-frame (short header or short payload) is treated
// as a clean end of stream, not an error: callers get whatever complete
// frames arrived before the cut. Write errors and non-EOF read errors are
// returned.
func Copy(stdout, stderr io.Writer, src io.Reader) (int64, error) {
	var (
		header  [HeaderLen]byte
		written int64
	)
	for {
		if _, err := io.ReadFull(src, header[:]); err != nil {
			// Short or missing header: the stream is done.
			if isEndOfStream(err) {
				return written, nil
			}
			return written, err
		}

		length := int64(binary.BigEndian.Uint32(header[4:]))
		if length == 0 {
			continue
		}

		var dst io.Writer
		switch header[0] {
		case FrameStdout:
			dst = stdout
		case FrameStderr:
			dst = stderr
		default:
			// Unknown selector: skip the payload, carry on.
			dst = io.Discard
		}

		n, err := io.CopyN(dst, src, length)
		if header[0] == FrameStdout || header[0] == FrameStderr {
			written += n
		}
		if err != nil {
			// Truncated payload: forward what arrived, end cleanly.
			if isEndOfStream(err) {
				return written, nil
			}
			return written, err
		}
	}
}

// Split returns two readers carrying the demultiplexed stdout and stderr
// of src. A goroutine forwards frames as they arrive; both readers reach
// EOF once src ends. Closing either reader aborts forwarding for both.
func Split(src io.Reader) (stdout, stderr io.ReadCloser) {
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()
	go func() {
		_, err := Copy(outW, errW, src)
		outW.CloseWithError(err)
		errW.CloseWithError(err)
	}()
	return outR, errR
}

func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}
