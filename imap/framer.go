package imap

import (
	"regexp"
	"strconv"
	"strings"
)

// Response is one command's worth of server output: the tagged completion
// line plus every untagged line that preceded it. Untagged entries keep
// their literal payloads inline, so a FETCH block spanning several literals
// arrives as a single string.
type Response struct {
	Tagged   string
	Untagged []string
}

// OK reports whether the tagged line carries an OK completion.
func (r *Response) OK() bool {
	fields := strings.SplitN(r.Tagged, " ", 3)
	return len(fields) >= 2 && strings.EqualFold(fields[1], "OK")
}

var literalRe = regexp.MustCompile(`\{(\d+)\}\r?$`)

// responseFramer turns the chunked byte stream of an IMAP connection into
// discrete responses. Scanning is literal-aware: a line ending in {N} is
// followed by exactly N raw bytes that are not line-delimited and may
// themselves contain CRLF or tag-like prefixes, so the framer tracks
// byte-exact literal boundaries and defers when fewer than N bytes have
// arrived. The buffer advances past exactly the consumed bytes.
type responseFramer struct {
	buf []byte
}

// Feed appends a raw chunk read from the socket.
func (f *responseFramer) Feed(chunk []byte) {
	f.buf = append(f.buf, chunk...)
}

// Next returns the response for the given tag once a line starting with
// "<tag> " has fully arrived, consuming it together with all preceding
// untagged lines. It reports false while the buffered bytes are incomplete.
func (f *responseFramer) Next(tag string) (*Response, bool) {
	var untagged []string
	prefix := tag + " "
	pos := 0

	for {
		unit, end, ok := f.scanUnit(pos)
		if !ok {
			return nil, false
		}

		if strings.HasPrefix(unit, prefix) {
			response := &Response{
				Tagged:   strings.TrimRight(unit, "\r\n"),
				Untagged: untagged,
			}
			f.buf = f.buf[end:]
			return response, true
		}

		untagged = append(untagged, strings.TrimRight(unit, "\r\n"))
		pos = end
	}
}

// Line returns the next complete raw line, used only for the connection
// greeting which precedes any command.
func (f *responseFramer) Line() (string, bool) {
	for i := 0; i < len(f.buf); i++ {
		if f.buf[i] == '\n' {
			line := strings.TrimRight(string(f.buf[:i+1]), "\r\n")
			f.buf = f.buf[i+1:]
			return line, true
		}
	}
	return "", false
}

// scanUnit finds one logical unit starting at pos: a line plus every literal
// block it declares, plus the continuation lines between and after literals.
// It returns the unit as a string and the buffer offset just past it.
func (f *responseFramer) scanUnit(pos int) (string, int, bool) {
	cursor := pos
	for {
		nl := indexByteFrom(f.buf, cursor, '\n')
		if nl < 0 {
			return "", 0, false
		}

		line := f.buf[cursor : nl+1]
		match := literalRe.FindSubmatch(line[:len(line)-1])
		if match == nil {
			return string(f.buf[pos : nl+1]), nl + 1, true
		}

		// The line announces a literal of N bytes immediately after the CRLF.
		n, err := strconv.Atoi(string(match[1]))
		if err != nil {
			return string(f.buf[pos : nl+1]), nl + 1, true
		}
		if nl+1+n > len(f.buf) {
			return "", 0, false
		}
		cursor = nl + 1 + n
	}
}

func indexByteFrom(buf []byte, from int, c byte) int {
	for i := from; i < len(buf); i++ {
		if buf[i] == c {
			return i
		}
	}
	return -1
}
