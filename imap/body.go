package imap

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tasknest/go-mail/apperror"
	"github.com/tasknest/go-mail/mail"
)

var (
	headerLiteralRe = regexp.MustCompile(`BODY\[HEADER\]\s*\{(\d+)\}\r?\n`)
	textLiteralRe   = regexp.MustCompile(`BODY\[TEXT\]\s*\{(\d+)\}\r?\n`)
	boundaryRe      = regexp.MustCompile(`boundary="?([^";]+)"?`)
	charsetRe       = regexp.MustCompile(`charset="?([^";]+)"?`)
)

// FetchBody retrieves and decodes one message body by UID. Headers are
// unfolded and RFC 2047 decoded; the body is dispatched on its content type,
// descending into multipart containers to collect the plain text and HTML
// alternatives. Transfer encodings are reversed per part.
func (c *Conn) FetchBody(uid uint32) (*Body, error) {
	if c.mailbox == nil {
		return nil, ErrNoMailboxSelected
	}

	response, err := c.command(fmt.Sprintf("UID FETCH %d (BODY[HEADER] BODY[TEXT])", uid))
	if err != nil {
		return nil, apperror.NewError("failed to fetch message body").AddError(err).AddDetail("uid", uid)
	}

	var rawHeader, rawText string
	for _, line := range response.Untagged {
		if !strings.HasPrefix(line, "* ") || !strings.Contains(line, "FETCH") {
			continue
		}
		if section, ok := slicedLiteral(line, headerLiteralRe); ok {
			rawHeader = section
		}
		if section, ok := slicedLiteral(line, textLiteralRe); ok {
			rawText = section
		}
	}
	if rawHeader == "" && rawText == "" {
		return nil, apperror.NewError("message not found").AddDetail("uid", uid)
	}

	body := &Body{
		UID:     uid,
		Headers: parseHeaderBlock(rawHeader),
	}

	contentType := body.Headers["content-type"]
	transfer := body.Headers["content-transfer-encoding"]
	decodeBodyContent(body, contentType, transfer, rawText)
	return body, nil
}

// slicedLiteral extracts the {N} counted section following the given marker,
// byte-exact. Lengths past the reassembled response are clamped.
func slicedLiteral(line string, marker *regexp.Regexp) (string, bool) {
	loc := marker.FindStringSubmatchIndex(line)
	if loc == nil {
		return "", false
	}
	n, err := strconv.Atoi(line[loc[2]:loc[3]])
	if err != nil || n < 0 {
		return "", false
	}
	start := loc[1]
	if start+n > len(line) {
		n = len(line) - start
	}
	return line[start : start+n], true
}

// parseHeaderBlock unfolds and decodes an RFC 822 header section into a map
// keyed by lowercase header name. Continuation lines starting with
// whitespace join their parent with a single space.
func parseHeaderBlock(raw string) map[string]string {
	headers := make(map[string]string)

	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && len(lines) > 0 {
			lines[len(lines)-1] += " " + strings.TrimLeft(line, " \t")
			continue
		}
		lines = append(lines, line)
	}

	for _, line := range lines {
		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		headers[strings.ToLower(strings.TrimSpace(name))] = mail.DecodeHeader(strings.TrimSpace(value))
	}
	return headers
}

// decodeBodyContent fills Text and HTML from the raw body text according to
// the message's content type.
func decodeBodyContent(body *Body, contentType, transfer, rawText string) {
	media := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))

	switch {
	case strings.HasPrefix(media, "multipart/"):
		boundary := ""
		if m := boundaryRe.FindStringSubmatch(contentType); m != nil {
			boundary = m[1]
		}
		if boundary == "" {
			body.Text = mail.DecodeTransfer(rawText, transfer)
			return
		}
		collectParts(body, rawText, boundary)
	case media == "text/html":
		body.HTML = decodeTextPart(rawText, transfer, contentType)
	default:
		body.Text = decodeTextPart(rawText, transfer, contentType)
	}
}

// collectParts walks a multipart body, recursing into nested multiparts and
// keeping the first plain text and first HTML parts found.
func collectParts(body *Body, raw, boundary string) {
	for _, part := range splitParts(raw, boundary) {
		headerBlock, content, found := strings.Cut(part, "\r\n\r\n")
		if !found {
			headerBlock, content, found = strings.Cut(part, "\n\n")
			if !found {
				continue
			}
		}

		partHeaders := parseHeaderBlock(headerBlock)
		contentType := partHeaders["content-type"]
		transfer := partHeaders["content-transfer-encoding"]
		media := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))

		switch {
		case strings.HasPrefix(media, "multipart/"):
			if m := boundaryRe.FindStringSubmatch(contentType); m != nil {
				collectParts(body, content, m[1])
			}
		case media == "text/html":
			if body.HTML == "" {
				body.HTML = decodeTextPart(content, transfer, contentType)
			}
		case media == "" || strings.HasPrefix(media, "text/"):
			if body.Text == "" {
				body.Text = decodeTextPart(content, transfer, contentType)
			}
		}
	}
}

// splitParts cuts a multipart body into its parts, dropping the preamble
// before the first boundary and the epilogue after the closing one.
func splitParts(raw, boundary string) []string {
	marker := "--" + boundary
	segments := strings.Split(raw, marker)
	if len(segments) < 2 {
		return nil
	}

	var parts []string
	for _, segment := range segments[1:] {
		if strings.HasPrefix(segment, "--") {
			break
		}
		parts = append(parts, strings.TrimPrefix(strings.TrimPrefix(segment, "\r\n"), "\n"))
	}
	return parts
}

// decodeTextPart reverses the transfer encoding and converts legacy charsets
// declared in the content type.
func decodeTextPart(content, transfer, contentType string) string {
	decoded := mail.DecodeTransfer(content, transfer)
	if m := charsetRe.FindStringSubmatch(contentType); m != nil {
		decoded = mail.ConvertCharset(decoded, m[1])
	}
	return decoded
}
