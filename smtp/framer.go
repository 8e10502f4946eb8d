package smtp

// replyFramer turns the chunked byte stream of an SMTP connection into
// discrete reply units. Server replies are CRLF-terminated lines; a reply is
// complete when the latest complete line carries a three-digit status code
// followed by a space. Continuation lines of multi-line replies use a hyphen
// after the code ("250-...") and stay buffered until the final line arrives.
//
// The framer holds no socket: callers feed it raw chunks and poll Next,
// which makes partial-read reassembly testable without network I/O.
type replyFramer struct {
	buf []byte
}

// Feed appends a raw chunk read from the socket.
func (f *replyFramer) Feed(chunk []byte) {
	f.buf = append(f.buf, chunk...)
}

// Next returns the next complete reply, including all continuation lines,
// and consumes it from the buffer. It reports false when the buffered bytes
// do not yet form a complete reply.
func (f *replyFramer) Next() (string, bool) {
	start := 0
	for i := 0; i < len(f.buf); i++ {
		if f.buf[i] != '\n' {
			continue
		}

		line := f.buf[start:i]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}

		if isFinalLine(line) {
			reply := string(f.buf[:i+1])
			f.buf = f.buf[i+1:]
			return reply, true
		}
		start = i + 1
	}
	return "", false
}

// isFinalLine reports whether line terminates a reply: three digits followed
// by a space (intermediate lines use "ddd-").
func isFinalLine(line []byte) bool {
	if len(line) < 4 {
		return false
	}
	for i := 0; i < 3; i++ {
		if line[i] < '0' || line[i] > '9' {
			return false
		}
	}
	return line[3] == ' '
}
