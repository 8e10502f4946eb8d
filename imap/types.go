package imap

import "time"

// MailboxInfo describes the currently selected mailbox, derived from the
// untagged replies of SELECT. Only one mailbox is selected at a time per
// connection; re-selecting replaces it.
type MailboxInfo struct {
	// Name is the mailbox name as given to SELECT
	Name string `json:"name"`
	// Flags are the flags defined in the mailbox
	Flags []string `json:"flags"`
	// Exists is the number of messages in the mailbox
	Exists int `json:"exists"`
	// Recent is the number of messages with the \Recent flag
	Recent int `json:"recent"`
	// Unseen is the sequence number of the first unseen message
	Unseen int `json:"unseen"`
	// UIDNext is the predicted next UID
	UIDNext uint32 `json:"uid_next"`
	// UIDValidity is the mailbox UID validity value
	UIDValidity uint32 `json:"uid_validity"`
}

// Envelope is the parsed RFC 3501 ENVELOPE of a message: a read-only
// projection of its key header fields.
type Envelope struct {
	// Date is the raw Date header value
	Date string `json:"date"`
	// Subject is the decoded subject
	Subject string `json:"subject"`
	// From holds the sender addresses in mailbox@host form
	From []string `json:"from"`
	// To holds the primary recipient addresses
	To []string `json:"to"`
	// Cc holds the carbon copy addresses
	Cc []string `json:"cc,omitempty"`
	// ReplyTo holds the reply-to addresses
	ReplyTo []string `json:"reply_to,omitempty"`
	// MessageID is the Message-ID header value
	MessageID string `json:"message_id"`
}

// Header is one message's FETCH summary.
type Header struct {
	// UID is the message UID
	UID uint32 `json:"uid"`
	// Flags are the message flags
	Flags []string `json:"flags"`
	// Envelope is the parsed envelope
	Envelope Envelope `json:"envelope"`
	// Size is the RFC822.SIZE of the message in bytes
	Size int `json:"size"`
}

// Seen reports whether the message carries the \Seen flag.
func (h *Header) Seen() bool {
	for _, flag := range h.Flags {
		if flag == `\Seen` {
			return true
		}
	}
	return false
}

// Body is a message body parsed on demand per UID. It is not cached across
// calls.
type Body struct {
	// UID is the message UID
	UID uint32 `json:"uid"`
	// Text is the plain text representation, when present
	Text string `json:"text,omitempty"`
	// HTML is the HTML representation, when present
	HTML string `json:"html,omitempty"`
	// Headers holds the decoded, unfolded RFC822 headers keyed
	// by lowercase name
	Headers map[string]string `json:"headers"`
}

// Page is one page of a mailbox listing in newest-first order.
type Page struct {
	// Headers are the fetched message summaries, newest first
	Headers []Header `json:"headers"`
	// Total is the number of messages the pagination ranges over
	Total int `json:"total"`
}

// Time parses the envelope date against the common RFC 5322 layouts.
// The wire value stays an opaque string since servers vary.
func (e *Envelope) Time() (time.Time, bool) {
	layouts := []string{
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 -0700 (MST)",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, e.Date); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
