// Package mail provides the protocol-agnostic message model and the MIME
// machinery shared by the SMTP and IMAP engines: the Message type and its
// builder, quoted-printable and wrapped base64 encoding, RFC 2047
// encoded-word handling, and full serialization of a Message into a wire
// ready MIME document.
package mail

import (
	"strings"

	"github.com/tasknest/go-mail/apperror"
)

// Message represents an outgoing email message. It is caller-constructed and
// treated as immutable input by the SMTP engine.
type Message struct {
	// From overrides the sender configured on the connection
	From string `json:"from,omitempty"`
	// To is the list of primary recipients
	To []string `json:"to"`
	// Cc is the list of carbon copy recipients
	Cc []string `json:"cc,omitempty"`
	// Bcc is the list of blind carbon copy recipients
	Bcc []string `json:"bcc,omitempty"`
	// ReplyTo is the reply-to address
	ReplyTo string `json:"reply_to,omitempty"`
	// InReplyTo is the Message-ID this message answers
	InReplyTo string `json:"in_reply_to,omitempty"`
	// References is the thread reference chain
	References string `json:"references,omitempty"`
	// Subject is the message subject
	Subject string `json:"subject"`
	// Text is the plain text body
	Text string `json:"text,omitempty"`
	// HTML is the HTML body
	HTML string `json:"html,omitempty"`
	// Attachments is the list of file attachments
	Attachments []Attachment `json:"attachments,omitempty"`
	// Headers contains additional headers
	Headers map[string]string `json:"headers,omitempty"`
}

// Attachment represents a file attachment.
type Attachment struct {
	// Filename is the name presented to the receiving client
	Filename string `json:"filename"`
	// ContentType is the MIME content type
	ContentType string `json:"content_type"`
	// Content is the raw file content
	Content []byte `json:"content,omitempty"`
	// Inline marks the attachment for inline display
	Inline bool `json:"inline,omitempty"`
	// ContentID is referenced by HTML bodies for inline attachments
	ContentID string `json:"content_id,omitempty"`
}

// Recipients returns all recipient addresses of the message (to, cc and bcc
// flattened), reduced to bare addr-spec form.
func (m *Message) Recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	for _, list := range [][]string{m.To, m.Cc, m.Bcc} {
		for _, r := range list {
			addr := BareAddress(r)
			if addr != "" {
				out = append(out, addr)
			}
		}
	}
	return out
}

// BareAddress reduces "Display Name <user@host>" to "user@host". Addresses
// without angle brackets are returned trimmed.
func BareAddress(addr string) string {
	open := strings.LastIndex(addr, "<")
	end := strings.LastIndex(addr, ">")
	if open >= 0 && end > open {
		return strings.TrimSpace(addr[open+1 : end])
	}
	return strings.TrimSpace(addr)
}

// MessageBuilder provides a fluent interface for constructing messages.
// The first error encountered is captured and returned by Build.
type MessageBuilder struct {
	message *Message
	err     error
}

// NewMessage creates a new message builder
func NewMessage() *MessageBuilder {
	return &MessageBuilder{
		message: &Message{Headers: make(map[string]string)},
	}
}

// From sets the sender address
func (b *MessageBuilder) From(from string) *MessageBuilder {
	if b.err != nil {
		return b
	}
	if from == "" {
		b.err = apperror.NewError("from address cannot be empty")
		return b
	}
	b.message.From = from
	return b
}

// To sets the recipient addresses
func (b *MessageBuilder) To(to ...string) *MessageBuilder {
	if b.err != nil {
		return b
	}
	if len(to) == 0 {
		b.err = apperror.NewError("at least one recipient is required")
		return b
	}
	b.message.To = to
	return b
}

// Cc sets the carbon copy recipient addresses
func (b *MessageBuilder) Cc(cc ...string) *MessageBuilder {
	b.message.Cc = cc
	return b
}

// Bcc sets the blind carbon copy recipient addresses
func (b *MessageBuilder) Bcc(bcc ...string) *MessageBuilder {
	b.message.Bcc = bcc
	return b
}

// ReplyTo sets the reply-to address
func (b *MessageBuilder) ReplyTo(replyTo string) *MessageBuilder {
	b.message.ReplyTo = replyTo
	return b
}

// InReplyTo sets the Message-ID this message answers
func (b *MessageBuilder) InReplyTo(id string) *MessageBuilder {
	b.message.InReplyTo = id
	return b
}

// Subject sets the message subject
func (b *MessageBuilder) Subject(subject string) *MessageBuilder {
	b.message.Subject = subject
	return b
}

// Text sets the plain text body
func (b *MessageBuilder) Text(text string) *MessageBuilder {
	b.message.Text = text
	return b
}

// HTML sets the HTML body
func (b *MessageBuilder) HTML(html string) *MessageBuilder {
	b.message.HTML = html
	return b
}

// Header sets an additional header
func (b *MessageBuilder) Header(key, value string) *MessageBuilder {
	b.message.Headers[key] = value
	return b
}

// Attach adds a file attachment
func (b *MessageBuilder) Attach(attachment Attachment) *MessageBuilder {
	if b.err != nil {
		return b
	}
	if attachment.Filename == "" || attachment.ContentType == "" {
		b.err = apperror.NewError("attachment must have a filename and content type").
			AddDetail("filename", attachment.Filename).
			AddDetail("content_type", attachment.ContentType)
		return b
	}
	b.message.Attachments = append(b.message.Attachments, attachment)
	return b
}

// AttachInline adds an inline attachment with a Content-ID so HTML bodies
// can embed it via cid: references.
func (b *MessageBuilder) AttachInline(filename, contentType, contentID string, content []byte) *MessageBuilder {
	if b.err != nil {
		return b
	}
	if contentID == "" {
		b.err = apperror.NewError("inline attachment must have a Content-ID").AddDetail("filename", filename)
		return b
	}
	return b.Attach(Attachment{
		Filename:    filename,
		ContentType: contentType,
		Content:     content,
		Inline:      true,
		ContentID:   contentID,
	})
}

// Build returns the built message and the first error captured while
// building, if any.
func (b *MessageBuilder) Build() (*Message, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.message.To) == 0 {
		return nil, apperror.NewError("at least one recipient is required")
	}
	if b.message.Text == "" && b.message.HTML == "" && len(b.message.Attachments) == 0 {
		return nil, apperror.NewError("message must have a text body, an HTML body or attachments")
	}
	return b.message, nil
}
