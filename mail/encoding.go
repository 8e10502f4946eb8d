package mail

import (
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
)

// EncodeQuotedPrintable encodes text as quoted-printable. CRLF (and bare LF)
// sequences are preserved as real line breaks, every non-printable or
// non-ASCII byte is encoded as =HH per UTF-8 byte, and lines are soft-wrapped
// at 75 characters with a trailing "=".
func EncodeQuotedPrintable(text string) string {
	var out strings.Builder
	data := []byte(text)
	width := 0

	for i := 0; i < len(data); i++ {
		c := data[i]

		if c == '\r' && i+1 < len(data) && data[i+1] == '\n' {
			out.WriteString("\r\n")
			width = 0
			i++
			continue
		}
		if c == '\n' {
			out.WriteString("\r\n")
			width = 0
			continue
		}

		var token string
		switch {
		case c == '=':
			token = "=3D"
		case c == ' ' || c == '\t':
			// Trailing whitespace before a break must be encoded.
			atEnd := i+1 == len(data) || data[i+1] == '\r' || data[i+1] == '\n'
			if atEnd {
				token = fmt.Sprintf("=%02X", c)
				break
			}
			token = string(c)
		case c >= 33 && c <= 126:
			token = string(c)
		default:
			token = fmt.Sprintf("=%02X", c)
		}

		if width+len(token) > 75 {
			out.WriteString("=\r\n")
			width = 0
		}
		out.WriteString(token)
		width += len(token)
	}

	return out.String()
}

// DecodeQuotedPrintable reverses quoted-printable encoding: soft breaks
// ("=\r\n" and "=\n") are removed and =HH escapes expanded. Malformed escapes
// pass through unchanged.
func DecodeQuotedPrintable(text string) string {
	text = strings.ReplaceAll(text, "=\r\n", "")
	text = strings.ReplaceAll(text, "=\n", "")

	var out strings.Builder
	for i := 0; i < len(text); i++ {
		if text[i] == '=' && i+2 < len(text) {
			hi, okHi := unhex(text[i+1])
			lo, okLo := unhex(text[i+2])
			if okHi && okLo {
				out.WriteByte(hi<<4 | lo)
				i += 2
				continue
			}
		}
		out.WriteByte(text[i])
	}
	return out.String()
}

func unhex(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	}
	return 0, false
}

// EncodeBase64Wrapped encodes data as base64 split into 76-character lines,
// the layout MIME bodies require.
func EncodeBase64Wrapped(data []byte) string {
	encoded := base64.StdEncoding.EncodeToString(data)
	var out strings.Builder
	for len(encoded) > 76 {
		out.WriteString(encoded[:76])
		out.WriteString("\r\n")
		encoded = encoded[76:]
	}
	out.WriteString(encoded)
	return out.String()
}

// EncodeHeader returns text unchanged when it is pure ASCII, otherwise an
// RFC 2047 B-encoded word in UTF-8.
func EncodeHeader(text string) string {
	if isASCII(text) {
		return text
	}
	return "=?UTF-8?B?" + base64.StdEncoding.EncodeToString([]byte(text)) + "?="
}

var (
	encodedWordRe = regexp.MustCompile(`=\?([^?]+)\?([BbQq])\?([^?]*)\?=`)
	// Whitespace between two adjacent encoded words is not significant.
	wordGapRe = regexp.MustCompile(`\?=[ \t]+=\?`)
)

// DecodeHeader decodes every RFC 2047 encoded word in text. Both B (base64)
// and Q (quoted-printable with "_" as space) encodings are supported;
// ISO-8859-1/-15 and windows-1252 charsets are converted to UTF-8, anything
// unrecognized is treated as already UTF-8 compatible. Undecodable words are
// left as-is rather than failing, since mail servers vary.
func DecodeHeader(text string) string {
	text = wordGapRe.ReplaceAllString(text, "?==?")

	return encodedWordRe.ReplaceAllStringFunc(text, func(word string) string {
		parts := encodedWordRe.FindStringSubmatch(word)
		charset, kind, payload := parts[1], parts[2], parts[3]

		var raw []byte
		switch kind {
		case "B", "b":
			decoded, err := base64.StdEncoding.DecodeString(payload)
			if err != nil {
				decoded, err = base64.RawStdEncoding.DecodeString(payload)
				if err != nil {
					return word
				}
			}
			raw = decoded
		case "Q", "q":
			expanded := strings.ReplaceAll(payload, "_", " ")
			raw = []byte(DecodeQuotedPrintable(expanded))
		default:
			return word
		}

		return convertCharset(raw, charset)
	})
}

// DecodeTransfer reverses a Content-Transfer-Encoding. Base64 input has its
// whitespace stripped before decoding; unknown encodings pass through
// unchanged.
func DecodeTransfer(content, transferEncoding string) string {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		stripped := strings.Map(func(r rune) rune {
			switch r {
			case '\r', '\n', ' ', '\t':
				return -1
			}
			return r
		}, content)
		decoded, err := base64.StdEncoding.DecodeString(stripped)
		if err != nil {
			return content
		}
		return string(decoded)
	case "quoted-printable":
		return DecodeQuotedPrintable(content)
	default:
		return content
	}
}

// ConvertCharset converts text from a declared legacy charset to UTF-8.
// Unknown charsets and conversion failures pass the input through unchanged.
func ConvertCharset(content, charset string) string {
	return convertCharset([]byte(content), charset)
}

func convertCharset(raw []byte, charset string) string {
	var decoder *encoding.Decoder
	switch strings.ToLower(charset) {
	case "iso-8859-1", "latin1":
		decoder = charmap.ISO8859_1.NewDecoder()
	case "iso-8859-15":
		decoder = charmap.ISO8859_15.NewDecoder()
	case "windows-1252", "cp1252":
		decoder = charmap.Windows1252.NewDecoder()
	default:
		return string(raw)
	}

	converted, err := decoder.Bytes(raw)
	if err != nil {
		return string(raw)
	}
	return string(converted)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 126 || s[i] < 32 {
			return false
		}
	}
	return true
}
