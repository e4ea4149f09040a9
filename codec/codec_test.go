package codec

import (
	"bytes"
	"testing"
)

func TestBase64RoundTrip(t *testing.T) {
	cases := [][]byte{
		[]byte(""),
		[]byte("f"),
		[]byte("fo"),
		[]byte("foo"),
		[]byte("foob"),
		[]byte("fooba"),
		[]byte("foobar"),
		bytes.Repeat([]byte{0x00, 0xff, 0x7f, 0x80}, 20),
	}
	for _, c := range cases {
		enc := Base64Encode(c)
		dec := Base64Decode(enc)
		if !bytes.Equal(dec, c) {
			t.Errorf("base64 round trip failed for %q: got %q", c, dec)
		}
	}
}

func TestBase64DecodeLenient(t *testing.T) {
	// '!' and '*' are not in the base64 alphabet; the lenient decoder
	// must not panic or abort, just treat them as zero.
	got := Base64Decode("Zm9!*=")
	if len(got) == 0 {
		t.Fatalf("expected lenient decode to produce output, got none")
	}
}

func TestQPRoundTripASCII(t *testing.T) {
	cases := []string{
		"hello world",
		"a line with = sign and trailing space  ",
		"tab\tand control\x01char",
	}
	for _, c := range cases {
		enc := QPEncode([]byte(c), false, 76)
		dec := QPDecode([]byte(enc))
		if string(dec) != c {
			t.Errorf("qp round trip failed for %q: got %q from %q", c, dec, enc)
		}
	}
}

func TestQPRoundTripLongLineWraps(t *testing.T) {
	data := bytes.Repeat([]byte("aB3=xy "), 40) // no real newlines, forces soft wraps
	enc := QPEncode(data, false, 76)
	dec := QPDecode([]byte(enc))
	if !bytes.Equal(dec, data) {
		t.Errorf("qp round trip with wrapping failed: got %d bytes, want %d", len(dec), len(data))
	}
}

func TestQPLineLength(t *testing.T) {
	data := bytes.Repeat([]byte("x"), 300)
	enc := QPEncode(data, false, 76)
	for _, line := range splitCRLF(enc) {
		if len(line) > 76 {
			t.Errorf("encoded line exceeds 76 octets: %d", len(line))
		}
	}
}

func TestQPFlowedSoftBreak(t *testing.T) {
	paragraph := "This is a long paragraph that should be wrapped across multiple flowed lines by the quoted printable encoder so that a receiver can rejoin it without losing the original words in between."
	st := NewQPEncodeState(40)
	var lines []string
	for {
		line, done := QPEncodeLine(st, []byte(paragraph), true)
		lines = append(lines, line)
		if done {
			break
		}
	}
	if len(lines) < 2 {
		t.Fatalf("expected multiple flowed lines, got %d", len(lines))
	}
	// Soft-broken lines end in a trailing space per RFC 3676.
	for _, l := range lines[:len(lines)-1] {
		if len(l) == 0 || l[len(l)-1] != ' ' {
			t.Errorf("expected soft break to end in trailing space, got %q", l)
		}
	}
	// Rejoining flowed lines is a plain concatenation: the trailing space
	// on a soft-broken line IS the original inter-word space, so no
	// separator is re-added and none is stripped.
	rejoined := ""
	for _, l := range lines {
		rejoined += l
	}
	if rejoined != paragraph {
		t.Errorf("rejoined flowed text mismatch:\ngot:  %q\nwant: %q", rejoined, paragraph)
	}
}

func TestRFC2047RoundTripSingleLine(t *testing.T) {
	cases := []string{
		"Hello World",
		"Héllo Wörld",
		"日本語のテスト",
	}
	for _, c := range cases {
		enc := RFC2047EncodeUTF8(c)
		dec := RFC2047Decode(enc)
		if dec != c {
			t.Errorf("rfc2047 round trip failed for %q: got %q from %q", c, dec, enc)
		}
	}
}

func TestRFC2047DecodeCollapsesAdjacentWords(t *testing.T) {
	header := "=?UTF-8?Q?Hello=2C?= =?UTF-8?Q?_World?="
	got := RFC2047Decode(header)
	if got != "Hello, World" {
		t.Errorf("expected collapsed decode %q, got %q", "Hello, World", got)
	}
}

func TestRFC2047DecodeUnknownCharsetNonFatal(t *testing.T) {
	header := "=?x-made-up-charset?B?" + Base64Encode([]byte{0xff, 0x41}) + "?="
	got := RFC2047Decode(header)
	if got == "" {
		t.Fatalf("expected a best-effort decode, got empty string")
	}
}

func TestCharsetTranscoders(t *testing.T) {
	if got := TranscoderFor("utf-8").ToUTF8([]byte("abc")); got != "abc" {
		t.Errorf("identity transcoder mismatch: %q", got)
	}
	// ISO-8859-1 0xE9 is 'é'.
	if got := TranscoderFor("iso-8859-1").ToUTF8([]byte{0xE9}); got != "é" {
		t.Errorf("latin-1 transcoder mismatch: %q", got)
	}
}

func TestSASLPlain(t *testing.T) {
	enc := SASLPlain("user@example.com", "secret")
	dec := Base64Decode(enc)
	want := "\x00user@example.com\x00secret"
	if string(dec) != want {
		t.Errorf("sasl plain mismatch: got %q want %q", dec, want)
	}
}

func TestSASLXOAuth2(t *testing.T) {
	enc := SASLXOAuth2("user@example.com", "tok123")
	dec := Base64Decode(enc)
	want := "user=user@example.com\x01auth=Bearer tok123\x01\x01"
	if string(dec) != want {
		t.Errorf("sasl xoauth2 mismatch: got %q want %q", dec, want)
	}
}

func splitCRLF(s string) []string {
	var lines []string
	start := 0
	for i := 0; i+1 < len(s); i++ {
		if s[i] == '\r' && s[i+1] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 2
			i++
		}
	}
	lines = append(lines, s[start:])
	return lines
}
