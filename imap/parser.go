package imap

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/tasknest/go-mail/mail"
)

// Parsing is deliberately lenient: a malformed field resolves to its zero
// value or a placeholder instead of failing the whole fetch, since servers
// in the wild disagree on plenty of details.

var (
	listLineRe    = regexp.MustCompile(`^\* LIST \([^)]*\) (?:"[^"]*"|NIL) (?:"(.*)"|(\S+))$`)
	existsRe      = regexp.MustCompile(`^\* (\d+) EXISTS`)
	recentRe      = regexp.MustCompile(`^\* (\d+) RECENT`)
	flagsRe       = regexp.MustCompile(`^\* FLAGS \((.*)\)`)
	unseenRe      = regexp.MustCompile(`\[UNSEEN (\d+)\]`)
	uidNextRe     = regexp.MustCompile(`\[UIDNEXT (\d+)\]`)
	uidValidityRe = regexp.MustCompile(`\[UIDVALIDITY (\d+)\]`)

	fetchRe      = regexp.MustCompile(`(?s)^\* \d+ FETCH \((.*)\)\s*$`)
	fetchUIDRe   = regexp.MustCompile(`\bUID (\d+)`)
	fetchFlagsRe = regexp.MustCompile(`FLAGS \(([^)]*)\)`)
	fetchSizeRe  = regexp.MustCompile(`RFC822\.SIZE (\d+)`)
)

// noSubject substitutes for a missing or NIL subject.
const noSubject = "(No Subject)"

// parseListLine extracts the mailbox name of one LIST reply line.
func parseListLine(line string) (string, bool) {
	match := listLineRe.FindStringSubmatch(line)
	if match == nil {
		return "", false
	}
	if match[1] != "" {
		return match[1], true
	}
	return match[2], true
}

// parseSelect folds the untagged replies of SELECT into a mailbox summary.
func parseSelect(name string, untagged []string) *MailboxInfo {
	info := &MailboxInfo{Name: name}
	for _, line := range untagged {
		switch {
		case existsRe.MatchString(line):
			info.Exists = atoi(existsRe.FindStringSubmatch(line)[1])
		case recentRe.MatchString(line):
			info.Recent = atoi(recentRe.FindStringSubmatch(line)[1])
		case flagsRe.MatchString(line):
			info.Flags = strings.Fields(flagsRe.FindStringSubmatch(line)[1])
		case unseenRe.MatchString(line):
			info.Unseen = atoi(unseenRe.FindStringSubmatch(line)[1])
		case uidNextRe.MatchString(line):
			info.UIDNext = uint32(atoi(uidNextRe.FindStringSubmatch(line)[1]))
		case uidValidityRe.MatchString(line):
			info.UIDValidity = uint32(atoi(uidValidityRe.FindStringSubmatch(line)[1]))
		}
	}
	return info
}

// parseFetchHeaders extracts one Header per FETCH reply among the untagged
// lines, skipping anything unparseable.
func parseFetchHeaders(untagged []string) []Header {
	headers := make([]Header, 0, len(untagged))
	for _, line := range untagged {
		match := fetchRe.FindStringSubmatch(line)
		if match == nil {
			continue
		}
		body := match[1]

		var header Header
		if m := fetchUIDRe.FindStringSubmatch(body); m != nil {
			header.UID = uint32(atoi(m[1]))
		}
		if m := fetchFlagsRe.FindStringSubmatch(body); m != nil {
			header.Flags = strings.Fields(m[1])
		}
		if m := fetchSizeRe.FindStringSubmatch(body); m != nil {
			header.Size = atoi(m[1])
		}
		header.Envelope = parseEnvelope(body)
		headers = append(headers, header)
	}
	return headers
}

// parseEnvelope locates the ENVELOPE list within a FETCH body and maps its
// positional fields: 0 date, 1 subject, 2 from, 4 reply-to, 5 to, 6 cc,
// 9 message-id. Positions 3 (sender), 7 (bcc) and 8 (in-reply-to) are
// skipped.
func parseEnvelope(fetchBody string) Envelope {
	envelope := Envelope{Subject: noSubject}

	idx := strings.Index(fetchBody, "ENVELOPE (")
	if idx < 0 {
		return envelope
	}

	fields, _ := parseList(fetchBody[idx+len("ENVELOPE"):], 0)
	get := func(i int) item {
		if i < len(fields) {
			return fields[i]
		}
		return item{isNil: true}
	}

	envelope.Date = get(0).text
	if subject := get(1); !subject.isNil && subject.text != "" {
		envelope.Subject = mail.DecodeHeader(subject.text)
	}
	envelope.From = parseAddressList(get(2))
	envelope.ReplyTo = parseAddressList(get(4))
	envelope.To = parseAddressList(get(5))
	envelope.Cc = parseAddressList(get(6))
	envelope.MessageID = get(9).text
	return envelope
}

// parseAddressList turns an envelope address list into bare mailbox@host
// strings. Each address is itself a four element list of name, adl, mailbox
// and host; entries with a NIL mailbox or host are dropped, which also
// discards the group syntax markers some servers emit.
func parseAddressList(field item) []string {
	if field.isNil || field.list == nil {
		return nil
	}

	var addresses []string
	for _, entry := range field.list {
		if entry.list == nil || len(entry.list) < 4 {
			continue
		}
		mailbox := entry.list[2]
		host := entry.list[3]
		if mailbox.isNil || host.isNil || mailbox.text == "" || host.text == "" {
			continue
		}
		addresses = append(addresses, mailbox.text+"@"+host.text)
	}
	return addresses
}

// item is one node of a parsed IMAP parenthesized structure: a string value,
// a nested list, or NIL.
type item struct {
	text  string
	list  []item
	isNil bool
}

// parseList parses a parenthesized list starting at the first "(" at or
// after pos, descending recursively into nested lists. It returns the items
// and the offset just past the closing parenthesis. The tokenizer accepts
// quoted strings with backslash escapes, {N}-prefixed literals carried
// inline, atoms and NIL.
func parseList(s string, pos int) ([]item, int) {
	for pos < len(s) && s[pos] != '(' {
		pos++
	}
	if pos >= len(s) {
		return nil, pos
	}
	pos++ // consume "("

	var items []item
	for pos < len(s) {
		switch c := s[pos]; {
		case c == ')':
			return items, pos + 1
		case c == ' ' || c == '\r' || c == '\n':
			pos++
		case c == '(':
			nested, next := parseList(s, pos)
			items = append(items, item{list: nested})
			pos = next
		case c == '"':
			text, next := parseQuoted(s, pos)
			items = append(items, item{text: text})
			pos = next
		case c == '{':
			text, next := parseLiteral(s, pos)
			items = append(items, item{text: text})
			pos = next
		default:
			atom, next := parseAtom(s, pos)
			if strings.EqualFold(atom, "NIL") {
				items = append(items, item{isNil: true})
			} else {
				items = append(items, item{text: atom})
			}
			pos = next
		}
	}
	return items, pos
}

// parseQuoted consumes a double quoted string starting at pos, honoring
// backslash escapes for quotes and backslashes.
func parseQuoted(s string, pos int) (string, int) {
	var b strings.Builder
	pos++ // consume the opening quote
	for pos < len(s) {
		c := s[pos]
		switch c {
		case '\\':
			if pos+1 < len(s) {
				b.WriteByte(s[pos+1])
				pos += 2
				continue
			}
			pos++
		case '"':
			return b.String(), pos + 1
		default:
			b.WriteByte(c)
			pos++
		}
	}
	return b.String(), pos
}

// parseLiteral consumes a {N} count followed by CRLF and exactly N bytes.
func parseLiteral(s string, pos int) (string, int) {
	end := strings.IndexByte(s[pos:], '}')
	if end < 0 {
		return "", len(s)
	}
	n, err := strconv.Atoi(s[pos+1 : pos+end])
	if err != nil || n < 0 {
		return "", pos + end + 1
	}

	start := pos + end + 1
	if start < len(s) && s[start] == '\r' {
		start++
	}
	if start < len(s) && s[start] == '\n' {
		start++
	}
	if start+n > len(s) {
		return s[start:], len(s)
	}
	return s[start : start+n], start + n
}

// parseAtom consumes an unquoted token up to the next delimiter.
func parseAtom(s string, pos int) (string, int) {
	start := pos
	for pos < len(s) {
		switch s[pos] {
		case ' ', '(', ')', '\r', '\n':
			return s[start:pos], pos
		}
		pos++
	}
	return s[start:], pos
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
