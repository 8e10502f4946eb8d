package imap

import (
	"strconv"
	"testing"
)

func TestResponseFramer_TaggedWithUntagged(t *testing.T) {
	f := &responseFramer{}
	f.Feed([]byte("* 3 EXISTS\r\n* 0 RECENT\r\nA0001 OK SELECT completed\r\n"))

	response, ok := f.Next("A0001")
	if !ok {
		t.Fatal("expected a complete response")
	}
	if response.Tagged != "A0001 OK SELECT completed" {
		t.Errorf("unexpected tagged line: %q", response.Tagged)
	}
	if len(response.Untagged) != 2 {
		t.Fatalf("expected 2 untagged lines, got %d", len(response.Untagged))
	}
	if response.Untagged[0] != "* 3 EXISTS" || response.Untagged[1] != "* 0 RECENT" {
		t.Errorf("unexpected untagged lines: %q", response.Untagged)
	}
	if !response.OK() {
		t.Error("OK completion not recognized")
	}
}

func TestResponseFramer_IncompleteDefers(t *testing.T) {
	f := &responseFramer{}
	f.Feed([]byte("* 3 EXISTS\r\nA0001 OK done"))

	if _, ok := f.Next("A0001"); ok {
		t.Fatal("response without trailing newline must defer")
	}

	f.Feed([]byte("\r\n"))
	response, ok := f.Next("A0001")
	if !ok {
		t.Fatal("expected a complete response after the final chunk")
	}
	if len(response.Untagged) != 1 {
		t.Errorf("expected 1 untagged line, got %d", len(response.Untagged))
	}
}

func TestResponseFramer_LiteralKeepsPayloadInline(t *testing.T) {
	// The literal payload contains CRLF and a line that looks exactly like
	// the tagged completion; none of it may be treated as line structure.
	payload := "Subject: test\r\nA0001 OK fake\r\n"
	input := "* 1 FETCH (BODY[HEADER] {" + strconv.Itoa(len(payload)) + "}\r\n" + payload + ")\r\nA0001 OK FETCH completed\r\n"

	f := &responseFramer{}
	f.Feed([]byte(input))

	response, ok := f.Next("A0001")
	if !ok {
		t.Fatal("expected a complete response")
	}
	if response.Tagged != "A0001 OK FETCH completed" {
		t.Errorf("tagged line matched inside a literal: %q", response.Tagged)
	}
	if len(response.Untagged) != 1 {
		t.Fatalf("expected 1 untagged unit, got %d", len(response.Untagged))
	}
	if want := "* 1 FETCH (BODY[HEADER] {" + strconv.Itoa(len(payload)) + "}\r\n" + payload + ")"; response.Untagged[0] != want {
		t.Errorf("literal payload not kept inline:\ngot  %q\nwant %q", response.Untagged[0], want)
	}
}

func TestResponseFramer_LiteralDefersUntilComplete(t *testing.T) {
	f := &responseFramer{}
	f.Feed([]byte("* 1 FETCH (BODY[TEXT] {10}\r\nhello"))

	if _, ok := f.Next("A0002"); ok {
		t.Fatal("partial literal must defer")
	}

	f.Feed([]byte(" mail)\r\nA0002 OK done\r\n"))
	response, ok := f.Next("A0002")
	if !ok {
		t.Fatal("expected a complete response once the literal arrived")
	}
	if response.Untagged[0] != "* 1 FETCH (BODY[TEXT] {10}\r\nhello mail)" {
		t.Errorf("unexpected untagged unit: %q", response.Untagged[0])
	}
}

func TestResponseFramer_TwoResponsesConsumedInOrder(t *testing.T) {
	f := &responseFramer{}
	f.Feed([]byte("A0001 OK first\r\n* 1 EXISTS\r\nA0002 OK second\r\n"))

	first, ok := f.Next("A0001")
	if !ok || first.Tagged != "A0001 OK first" {
		t.Fatalf("unexpected first response: %+v ok=%v", first, ok)
	}

	second, ok := f.Next("A0002")
	if !ok || second.Tagged != "A0002 OK second" {
		t.Fatalf("unexpected second response: %+v ok=%v", second, ok)
	}
	if len(second.Untagged) != 1 || second.Untagged[0] != "* 1 EXISTS" {
		t.Errorf("unexpected untagged lines: %q", second.Untagged)
	}
}

func TestResponseFramer_Line(t *testing.T) {
	f := &responseFramer{}
	f.Feed([]byte("* OK IMAP4rev1 ready"))

	if _, ok := f.Line(); ok {
		t.Fatal("incomplete greeting must defer")
	}

	f.Feed([]byte("\r\n"))
	line, ok := f.Line()
	if !ok {
		t.Fatal("expected the greeting line")
	}
	if line != "* OK IMAP4rev1 ready" {
		t.Errorf("unexpected greeting: %q", line)
	}
}

func TestResponse_OK(t *testing.T) {
	tests := []struct {
		tagged string
		want   bool
	}{
		{"A0001 OK LOGIN completed", true},
		{"A0001 ok lowercase", true},
		{"A0001 NO [AUTHENTICATIONFAILED] rejected", false},
		{"A0001 BAD parse error", false},
		{"A0001", false},
	}
	for _, test := range tests {
		r := &Response{Tagged: test.tagged}
		if got := r.OK(); got != test.want {
			t.Errorf("OK(%q) = %v, want %v", test.tagged, got, test.want)
		}
	}
}
