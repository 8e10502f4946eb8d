package mail_test

import (
	"bytes"
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	netmail "net/mail"
	"strings"
	"testing"

	"github.com/tasknest/go-mail/mail"
)

func TestRender_SinglePart(t *testing.T) {
	message := &mail.Message{
		To:      []string{"to@example.com"},
		Subject: "plain",
		Text:    "just text",
	}

	messageID, data, err := message.Render("from@example.com", "example.com")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if !strings.HasPrefix(messageID, "<") || !strings.HasSuffix(messageID, "@example.com>") {
		t.Errorf("unexpected message id: %q", messageID)
	}

	parsed, err := netmail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("stdlib rejected rendered message: %v", err)
	}
	if got := parsed.Header.Get("Message-Id"); got != messageID {
		t.Errorf("Message-ID header %q does not match returned id %q", got, messageID)
	}
	if got := parsed.Header.Get("Subject"); got != "plain" {
		t.Errorf("unexpected subject: %q", got)
	}
	if got := parsed.Header.Get("MIME-Version"); got != "1.0" {
		t.Errorf("missing MIME-Version, got %q", got)
	}

	contentType := parsed.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "text/plain") {
		t.Errorf("unexpected content type: %q", contentType)
	}

	body, err := io.ReadAll(quotedprintable.NewReader(parsed.Body))
	if err != nil {
		t.Fatalf("decoding body failed: %v", err)
	}
	if string(body) != "just text" {
		t.Errorf("body mismatch: %q", body)
	}
}

func TestRender_Alternative(t *testing.T) {
	message := &mail.Message{
		To:      []string{"to@example.com"},
		Subject: "both bodies",
		Text:    "plain version",
		HTML:    "<p>html version</p>",
	}

	_, data, err := message.Render("from@example.com", "example.com")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	parsed, err := netmail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("stdlib rejected rendered message: %v", err)
	}

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("parsing content type failed: %v", err)
	}
	if mediaType != "multipart/alternative" {
		t.Fatalf("expected multipart/alternative, got %q", mediaType)
	}

	reader := multipart.NewReader(parsed.Body, params["boundary"])

	// The plain text part must come first, the HTML part last.
	first, err := reader.NextPart()
	if err != nil {
		t.Fatalf("reading first part failed: %v", err)
	}
	if ct := first.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("first part should be text/plain, got %q", ct)
	}
	firstBody, _ := io.ReadAll(quotedprintable.NewReader(first))
	if string(firstBody) != "plain version" {
		t.Errorf("first part body mismatch: %q", firstBody)
	}

	second, err := reader.NextPart()
	if err != nil {
		t.Fatalf("reading second part failed: %v", err)
	}
	if ct := second.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("second part should be text/html, got %q", ct)
	}
	secondBody, _ := io.ReadAll(quotedprintable.NewReader(second))
	if string(secondBody) != "<p>html version</p>" {
		t.Errorf("second part body mismatch: %q", secondBody)
	}

	if _, err = reader.NextPart(); err != io.EOF {
		t.Errorf("expected exactly two parts, got extra part or error: %v", err)
	}
}

func TestRender_Attachments(t *testing.T) {
	content := []byte("attachment payload bytes")
	message := &mail.Message{
		To:      []string{"to@example.com"},
		Subject: "with attachment",
		Text:    "see attached",
		HTML:    "<p>see attached</p>",
		Attachments: []mail.Attachment{
			{Filename: "notes.txt", ContentType: "text/plain", Content: content},
			{Filename: "logo.png", ContentType: "image/png", Content: []byte{1, 2, 3}, Inline: true, ContentID: "logo"},
		},
	}

	_, data, err := message.Render("from@example.com", "example.com")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	parsed, err := netmail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("stdlib rejected rendered message: %v", err)
	}

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("parsing content type failed: %v", err)
	}
	if mediaType != "multipart/mixed" {
		t.Fatalf("expected multipart/mixed, got %q", mediaType)
	}

	reader := multipart.NewReader(parsed.Body, params["boundary"])

	body, err := reader.NextPart()
	if err != nil {
		t.Fatalf("reading body part failed: %v", err)
	}
	if ct := body.Header.Get("Content-Type"); !strings.HasPrefix(ct, "multipart/alternative") {
		t.Errorf("body part should be multipart/alternative, got %q", ct)
	}

	attachment, err := reader.NextPart()
	if err != nil {
		t.Fatalf("reading attachment part failed: %v", err)
	}
	if disposition := attachment.Header.Get("Content-Disposition"); !strings.Contains(disposition, `attachment; filename="notes.txt"`) {
		t.Errorf("unexpected disposition: %q", disposition)
	}
	if enc := attachment.Header.Get("Content-Transfer-Encoding"); enc != "base64" {
		t.Errorf("attachment should be base64, got %q", enc)
	}
	decoded, err := readBase64Part(attachment)
	if err != nil {
		t.Fatalf("decoding attachment failed: %v", err)
	}
	if !bytes.Equal(decoded, content) {
		t.Errorf("attachment content mismatch")
	}

	inline, err := reader.NextPart()
	if err != nil {
		t.Fatalf("reading inline part failed: %v", err)
	}
	if cid := inline.Header.Get("Content-Id"); cid != "<logo>" {
		t.Errorf("unexpected Content-ID: %q", cid)
	}
	if disposition := inline.Header.Get("Content-Disposition"); !strings.HasPrefix(disposition, "inline") {
		t.Errorf("inline attachment should have inline disposition: %q", disposition)
	}
}

func TestRender_Validation(t *testing.T) {
	noRecipients := &mail.Message{Subject: "s", Text: "b"}
	if _, _, err := noRecipients.Render("from@example.com", ""); err == nil {
		t.Error("expected error for message without recipients")
	}

	noSender := &mail.Message{To: []string{"to@example.com"}, Text: "b"}
	if _, _, err := noSender.Render("", ""); err == nil {
		t.Error("expected error for message without sender")
	}
}

func TestRender_EncodedHeaders(t *testing.T) {
	message := &mail.Message{
		From:    "Jürgen <j@example.com>",
		To:      []string{"to@example.com"},
		Subject: "Grüße",
		Text:    "hi",
	}

	_, data, err := message.Render("fallback@example.com", "example.com")
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	raw := string(data)
	if strings.Contains(raw, "Jürgen") || strings.Contains(raw, "Grüße") {
		t.Error("non-ascii header values must be RFC 2047 encoded")
	}

	parsed, err := netmail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("stdlib rejected rendered message: %v", err)
	}

	decoder := &mime.WordDecoder{}
	subject, err := decoder.DecodeHeader(parsed.Header.Get("Subject"))
	if err != nil {
		t.Fatalf("stdlib could not decode subject: %v", err)
	}
	if subject != "Grüße" {
		t.Errorf("subject round trip mismatch: %q", subject)
	}
}

func readBase64Part(part io.Reader) ([]byte, error) {
	raw, err := io.ReadAll(part)
	if err != nil {
		return nil, err
	}
	stripped := strings.NewReplacer("\r", "", "\n", "").Replace(string(raw))
	return base64.StdEncoding.DecodeString(stripped)
}
