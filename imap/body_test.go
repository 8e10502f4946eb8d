package imap

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"
)

// bodyTestConn wires a Conn with a selected mailbox to a server goroutine
// that answers the first command with the given raw bytes.
func bodyTestConn(t *testing.T, raw string) *Conn {
	t.Helper()
	clientEnd, serverEnd := net.Pipe()

	go func() {
		defer serverEnd.Close()
		reader := bufio.NewReader(serverEnd)
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Errorf("server: reading command failed: %v", err)
			return
		}
		tag := strings.SplitN(line, " ", 2)[0]
		if _, err := serverEnd.Write([]byte(raw + tag + " OK FETCH completed\r\n")); err != nil {
			t.Errorf("server: write failed: %v", err)
		}
	}()

	config := DefaultConfig()
	config.Timeout = 2 * time.Second
	conn := NewConn(config, clientEnd)
	conn.mailbox = &MailboxInfo{Name: "INBOX", Exists: 1}
	return conn
}

func TestFetchBody_Multipart(t *testing.T) {
	header := "Subject: =?UTF-8?B?R3LDvMOfZQ==?=\r\n" +
		"From: sender@example.com\r\n" +
		"Content-Type: multipart/alternative;\r\n" +
		"\tboundary=\"b1\"\r\n" +
		"\r\n"
	text := "--b1\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"Gr=C3=BC=C3=9Fe\r\n" +
		"--b1\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"PGI+aGk8L2I+\r\n" +
		"--b1--\r\n"
	raw := fmt.Sprintf("* 1 FETCH (UID 7 BODY[HEADER] {%d}\r\n%s BODY[TEXT] {%d}\r\n%s)\r\n",
		len(header), header, len(text), text)

	conn := bodyTestConn(t, raw)
	body, err := conn.FetchBody(7)
	if err != nil {
		t.Fatalf("FetchBody failed: %v", err)
	}

	if body.UID != 7 {
		t.Errorf("UID = %d, want 7", body.UID)
	}
	if body.Headers["subject"] != "Grüße" {
		t.Errorf("subject not decoded: %q", body.Headers["subject"])
	}
	if body.Headers["from"] != "sender@example.com" {
		t.Errorf("from = %q", body.Headers["from"])
	}
	// The folded Content-Type header must be unfolded before the boundary is
	// extracted.
	if !strings.Contains(body.Text, "Grüße") {
		t.Errorf("plain text part not decoded: %q", body.Text)
	}
	if body.HTML != "<b>hi</b>" {
		t.Errorf("html part not decoded: %q", body.HTML)
	}
}

func TestFetchBody_SinglePart(t *testing.T) {
	header := "Subject: plain\r\n" +
		"Content-Type: text/plain; charset=ISO-8859-1\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n"
	text := "caf=E9\r\n"
	raw := fmt.Sprintf("* 2 FETCH (UID 8 BODY[HEADER] {%d}\r\n%s BODY[TEXT] {%d}\r\n%s)\r\n",
		len(header), header, len(text), text)

	conn := bodyTestConn(t, raw)
	body, err := conn.FetchBody(8)
	if err != nil {
		t.Fatalf("FetchBody failed: %v", err)
	}
	if !strings.Contains(body.Text, "café") {
		t.Errorf("charset not converted: %q", body.Text)
	}
	if body.HTML != "" {
		t.Errorf("unexpected html part: %q", body.HTML)
	}
}

func TestFetchBody_NotFound(t *testing.T) {
	conn := bodyTestConn(t, "")

	_, err := conn.FetchBody(99)
	if err == nil {
		t.Fatal("expected an error for a missing message")
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestFetchBody_RequiresMailbox(t *testing.T) {
	clientEnd, serverEnd := net.Pipe()
	defer clientEnd.Close()
	defer serverEnd.Close()

	conn := NewConn(DefaultConfig(), clientEnd)
	if _, err := conn.FetchBody(1); err == nil {
		t.Fatal("expected ErrNoMailboxSelected")
	}
}

func TestParseHeaderBlock(t *testing.T) {
	raw := "Subject: first line\r\n" +
		" continued here\r\n" +
		"X-Tab:\tvalue\r\n" +
		"Broken line without colon\r\n" +
		"To: a@example.com\r\n"

	headers := parseHeaderBlock(raw)
	if headers["subject"] != "first line continued here" {
		t.Errorf("continuation not unfolded: %q", headers["subject"])
	}
	if headers["x-tab"] != "value" {
		t.Errorf("x-tab = %q", headers["x-tab"])
	}
	if headers["to"] != "a@example.com" {
		t.Errorf("to = %q", headers["to"])
	}
	if _, ok := headers["broken line without colon"]; ok {
		t.Error("a line without a colon must be skipped")
	}
}

func TestSplitParts(t *testing.T) {
	raw := "preamble\r\n" +
		"--b\r\n" +
		"part one\r\n" +
		"--b\r\n" +
		"part two\r\n" +
		"--b--\r\n" +
		"epilogue"

	parts := splitParts(raw, "b")
	if len(parts) != 2 {
		t.Fatalf("got %d parts, want 2", len(parts))
	}
	if !strings.HasPrefix(parts[0], "part one") {
		t.Errorf("parts[0] = %q", parts[0])
	}
	if !strings.HasPrefix(parts[1], "part two") {
		t.Errorf("parts[1] = %q", parts[1])
	}
}

func TestSlicedLiteral_Clamped(t *testing.T) {
	line := "* 1 FETCH (BODY[TEXT] {100}\r\nshort)"
	got, ok := slicedLiteral(line, textLiteralRe)
	if !ok {
		t.Fatal("expected a match")
	}
	if got != "short)" {
		t.Errorf("clamped literal = %q", got)
	}
}
