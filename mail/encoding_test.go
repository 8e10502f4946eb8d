package mail_test

import (
	"io"
	"mime/quotedprintable"
	"strings"
	"testing"

	"github.com/tasknest/go-mail/mail"
)

func TestEncodeQuotedPrintable_RoundTrip(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{name: "plain ascii", text: "Hello, world!"},
		{name: "equals sign", text: "1+1=2 and 2+2=4"},
		{name: "umlauts", text: "Grüße aus München"},
		{name: "multiline", text: "first line\r\nsecond line\r\nthird"},
		{name: "trailing space before break", text: "ends with space \r\nnext"},
		{name: "long line", text: strings.Repeat("a", 200)},
		{name: "long line with multibyte", text: strings.Repeat("ä", 100)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := mail.EncodeQuotedPrintable(tt.text)

			for _, line := range strings.Split(encoded, "\r\n") {
				if len(line) > 76 {
					t.Errorf("encoded line exceeds 76 chars: %q", line)
				}
			}

			decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(encoded)))
			if err != nil {
				t.Fatalf("stdlib reader rejected encoding: %v", err)
			}
			if string(decoded) != tt.text {
				t.Errorf("round trip mismatch: got %q, want %q", decoded, tt.text)
			}
		})
	}
}

func TestDecodeQuotedPrintable(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "hello", want: "hello"},
		{name: "escaped equals", in: "1=3D1", want: "1=1"},
		{name: "soft break crlf", in: "con=\r\ntinued", want: "continued"},
		{name: "soft break lf", in: "con=\ntinued", want: "continued"},
		{name: "utf8 bytes", in: "Gr=C3=BC=C3=9Fe", want: "Grüße"},
		{name: "lowercase hex", in: "=c3=a4", want: "ä"},
		{name: "invalid escape passes through", in: "a=XYb", want: "a=XYb"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mail.DecodeQuotedPrintable(tt.in)
			if got != tt.want {
				t.Errorf("DecodeQuotedPrintable(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestEncodeHeader(t *testing.T) {
	if got := mail.EncodeHeader("plain subject"); got != "plain subject" {
		t.Errorf("ascii subject should pass through, got %q", got)
	}

	encoded := mail.EncodeHeader("Grüße")
	if !strings.HasPrefix(encoded, "=?UTF-8?B?") || !strings.HasSuffix(encoded, "?=") {
		t.Errorf("non-ascii subject not encoded as UTF-8 B word: %q", encoded)
	}
	if got := mail.DecodeHeader(encoded); got != "Grüße" {
		t.Errorf("encode/decode mismatch: got %q", got)
	}
}

func TestDecodeHeader(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "nothing encoded", want: "nothing encoded"},
		{name: "base64 utf8", in: "=?UTF-8?B?R3LDvMOfZQ==?=", want: "Grüße"},
		{name: "q encoding", in: "=?utf-8?Q?Gr=C3=BC=C3=9Fe?=", want: "Grüße"},
		{name: "q underscore is space", in: "=?UTF-8?Q?hello_world?=", want: "hello world"},
		{name: "latin1 q encoding", in: "=?ISO-8859-1?Q?caf=E9?=", want: "café"},
		{name: "adjacent words joined", in: "=?UTF-8?B?aGVs?= =?UTF-8?B?bG8=?=", want: "hello"},
		{name: "mixed text", in: "prefix =?UTF-8?B?bWlkZGxl?= suffix", want: "prefix middle suffix"},
		{name: "invalid base64 kept", in: "=?UTF-8?B?!!!?=", want: "=?UTF-8?B?!!!?="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mail.DecodeHeader(tt.in)
			if got != tt.want {
				t.Errorf("DecodeHeader(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestDecodeTransfer(t *testing.T) {
	tests := []struct {
		name     string
		content  string
		encoding string
		want     string
	}{
		{name: "base64", content: "aGVsbG8=", encoding: "base64", want: "hello"},
		{name: "base64 with line breaks", content: "aGVs\r\nbG8=", encoding: "BASE64", want: "hello"},
		{name: "quoted printable", content: "caf=C3=A9", encoding: "quoted-printable", want: "café"},
		{name: "7bit passthrough", content: "as is", encoding: "7bit", want: "as is"},
		{name: "empty encoding passthrough", content: "as is", encoding: "", want: "as is"},
		{name: "broken base64 passthrough", content: "not base64!", encoding: "base64", want: "not base64!"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mail.DecodeTransfer(tt.content, tt.encoding)
			if got != tt.want {
				t.Errorf("DecodeTransfer(%q, %q) = %q, want %q", tt.content, tt.encoding, got, tt.want)
			}
		})
	}
}

func TestConvertCharset(t *testing.T) {
	latin1 := string([]byte{'c', 'a', 'f', 0xE9})
	if got := mail.ConvertCharset(latin1, "iso-8859-1"); got != "café" {
		t.Errorf("latin1 conversion failed: got %q", got)
	}
	if got := mail.ConvertCharset("unchanged", "x-unknown"); got != "unchanged" {
		t.Errorf("unknown charset should pass through, got %q", got)
	}
}

func TestEncodeBase64Wrapped(t *testing.T) {
	encoded := mail.EncodeBase64Wrapped([]byte(strings.Repeat("data", 100)))
	for _, line := range strings.Split(encoded, "\r\n") {
		if len(line) > 76 {
			t.Errorf("base64 line exceeds 76 chars: %d", len(line))
		}
	}
}
