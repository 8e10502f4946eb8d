package mail

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/tasknest/go-mail/apperror"
)

// Render serializes the message into a complete MIME document ready for the
// SMTP DATA phase and returns the locally generated Message-ID alongside it.
// The domain parameter is used for the Message-ID host part; when empty, the
// host of the from address is used.
//
// Body layout follows the common cases: attachments force an outer
// multipart/mixed carrying a nested multipart/alternative when both text and
// HTML bodies are present; text plus HTML alone become multipart/alternative;
// a single body is emitted directly. Text parts are quoted-printable,
// attachments base64 wrapped at 76 characters.
func (m *Message) Render(from, domain string) (string, []byte, error) {
	if len(m.To) == 0 {
		return "", nil, apperror.NewError("message has no recipients")
	}
	if m.From != "" {
		from = m.From
	}
	if from == "" {
		return "", nil, apperror.NewError("message has no sender address")
	}
	if domain == "" {
		domain = addressDomain(from)
	}

	messageID := "<" + uuid.NewString() + "@" + domain + ">"

	var out strings.Builder
	writeHeader(&out, "Message-ID", messageID)
	writeHeader(&out, "Date", time.Now().UTC().Format(time.RFC1123Z))
	writeHeader(&out, "From", encodeAddress(from))
	writeHeader(&out, "To", encodeAddressList(m.To))
	if len(m.Cc) > 0 {
		writeHeader(&out, "Cc", encodeAddressList(m.Cc))
	}
	if m.ReplyTo != "" {
		writeHeader(&out, "Reply-To", encodeAddress(m.ReplyTo))
	}
	if m.InReplyTo != "" {
		writeHeader(&out, "In-Reply-To", m.InReplyTo)
	}
	if m.References != "" {
		writeHeader(&out, "References", m.References)
	}
	writeHeader(&out, "Subject", EncodeHeader(m.Subject))
	for key, value := range m.Headers {
		writeHeader(&out, key, value)
	}
	writeHeader(&out, "MIME-Version", "1.0")

	switch {
	case len(m.Attachments) > 0:
		boundary := newBoundary()
		writeHeader(&out, "Content-Type", `multipart/mixed; boundary="`+boundary+`"`)
		out.WriteString("\r\n")

		out.WriteString("--" + boundary + "\r\n")
		if m.Text != "" && m.HTML != "" {
			writeAlternative(&out, m.Text, m.HTML)
		} else {
			writeBodyPart(&out, m.Text, m.HTML)
		}
		for _, attachment := range m.Attachments {
			out.WriteString("\r\n--" + boundary + "\r\n")
			writeAttachment(&out, attachment)
		}
		out.WriteString("\r\n--" + boundary + "--\r\n")

	case m.Text != "" && m.HTML != "":
		writeAlternative(&out, m.Text, m.HTML)

	default:
		writeBodyPart(&out, m.Text, m.HTML)
	}

	return messageID, []byte(out.String()), nil
}

// writeAlternative emits a multipart/alternative container holding the text
// body first and the HTML body second, per the "last part is preferred" rule.
func writeAlternative(out *strings.Builder, text, html string) {
	boundary := newBoundary()
	writeHeader(out, "Content-Type", `multipart/alternative; boundary="`+boundary+`"`)
	out.WriteString("\r\n")

	out.WriteString("--" + boundary + "\r\n")
	writeTextPart(out, "text/plain", text)
	out.WriteString("\r\n--" + boundary + "\r\n")
	writeTextPart(out, "text/html", html)
	out.WriteString("\r\n--" + boundary + "--\r\n")
}

// writeBodyPart emits the single best body representation.
func writeBodyPart(out *strings.Builder, text, html string) {
	if html != "" {
		writeTextPart(out, "text/html", html)
		return
	}
	writeTextPart(out, "text/plain", text)
}

func writeTextPart(out *strings.Builder, contentType, body string) {
	writeHeader(out, "Content-Type", contentType+"; charset=utf-8")
	writeHeader(out, "Content-Transfer-Encoding", "quoted-printable")
	out.WriteString("\r\n")
	out.WriteString(EncodeQuotedPrintable(body))
}

func writeAttachment(out *strings.Builder, attachment Attachment) {
	contentType := attachment.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	writeHeader(out, "Content-Type", contentType+`; name="`+attachment.Filename+`"`)
	writeHeader(out, "Content-Transfer-Encoding", "base64")
	if attachment.Inline && attachment.ContentID != "" {
		writeHeader(out, "Content-ID", "<"+attachment.ContentID+">")
		writeHeader(out, "Content-Disposition", `inline; filename="`+attachment.Filename+`"`)
	} else {
		writeHeader(out, "Content-Disposition", `attachment; filename="`+attachment.Filename+`"`)
	}
	out.WriteString("\r\n")
	out.WriteString(EncodeBase64Wrapped(attachment.Content))
}

func writeHeader(out *strings.Builder, key, value string) {
	out.WriteString(key)
	out.WriteString(": ")
	out.WriteString(value)
	out.WriteString("\r\n")
}

// encodeAddress RFC 2047 encodes the display name of "Name <addr>" forms.
func encodeAddress(addr string) string {
	open := strings.LastIndex(addr, "<")
	end := strings.LastIndex(addr, ">")
	if open <= 0 || end < open {
		return addr
	}
	name := strings.TrimSpace(addr[:open])
	if name == "" || isASCII(name) {
		return addr
	}
	return EncodeHeader(name) + " " + addr[open:end+1]
}

func encodeAddressList(addrs []string) string {
	encoded := make([]string, len(addrs))
	for i, addr := range addrs {
		encoded[i] = encodeAddress(addr)
	}
	return strings.Join(encoded, ", ")
}

func addressDomain(addr string) string {
	bare := BareAddress(addr)
	if at := strings.LastIndex(bare, "@"); at >= 0 {
		return bare[at+1:]
	}
	return "localhost"
}

func newBoundary() string {
	return "=_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
