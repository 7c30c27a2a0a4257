package dialect

import (
	"bytes"
	"strings"
)

// StreamFormat discriminates what an upstream body turned out to be.
type StreamFormat int

const (
	// FormatUndecided means not enough bytes have arrived yet.
	FormatUndecided StreamFormat = iota

	// FormatSSE is a text/event-stream body.
	FormatSSE

	// FormatJSON is a plain JSON body.
	FormatJSON
)

// ssePrefixes are the byte sequences an SSE body can open with.
var ssePrefixes = [][]byte{
	[]byte("data: "),
	[]byte("data:"),
	[]byte("event:"),
	[]byte(": "),
	[]byte(":"),
}

// DetectStreamFormat classifies a body by its first bytes. It is a tiny state
// machine over an accumulating prefix: while the seen bytes are still a prefix
// of an SSE opener, the answer is FormatUndecided, so a short first chunk never
// misclassifies the stream.
func DetectStreamFormat(prefix []byte) StreamFormat {
	trimmed := bytes.TrimLeft(prefix, " \t\r\n")
	if len(trimmed) == 0 {
		return FormatUndecided
	}
	for _, p := range ssePrefixes {
		if bytes.HasPrefix(trimmed, p) {
			return FormatSSE
		}
		if len(trimmed) < len(p) && bytes.HasPrefix(p, trimmed) {
			return FormatUndecided
		}
	}
	return FormatJSON
}

// frameScanner splits an SSE byte stream into complete frames, buffering any
// partial frame across reads.
type frameScanner struct {
	buf []byte
}

// feed appends bytes and returns every complete frame (without its trailing
// blank line). Incomplete trailing bytes are held back.
func (s *frameScanner) feed(p []byte) [][]byte {
	s.buf = append(s.buf, p...)

	var frames [][]byte
	for {
		idx, skip := frameBoundary(s.buf)
		if idx < 0 {
			return frames
		}
		frame := make([]byte, idx)
		copy(frame, s.buf[:idx])
		s.buf = s.buf[idx+skip:]
		if len(bytes.TrimSpace(frame)) > 0 {
			frames = append(frames, frame)
		}
	}
}

// rest returns any buffered partial frame (used at stream end).
func (s *frameScanner) rest() []byte {
	out := bytes.TrimSpace(s.buf)
	s.buf = nil
	return out
}

// frameBoundary finds the first frame terminator ("\n\n" or "\r\n\r\n"),
// returning its index and length.
func frameBoundary(b []byte) (int, int) {
	lf := bytes.Index(b, []byte("\n\n"))
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf >= 0 && (lf < 0 || crlf < lf):
		return crlf, 4
	default:
		return lf, 2
	}
}

// frameDataLines extracts the concatenated data payload of an SSE frame.
// Comment-only frames return ok=false.
func frameDataLines(frame []byte) (string, bool) {
	var parts []string
	for _, line := range strings.Split(string(frame), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if strings.HasPrefix(line, "data:") {
			parts = append(parts, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}
