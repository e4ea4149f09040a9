package codec

import (
	"strings"

	"golang.org/x/text/encoding/charmap"
)

// Transcoder converts a byte sequence in some source charset to UTF-8.
// Implementations never fail: malformed or unmappable bytes degrade to
// the replacement character rather than aborting a FETCH body decode
// (spec §4.A).
type Transcoder interface {
	ToUTF8(in []byte) string
}

// utf8Transcoder passes UTF-8 (and plain ASCII) bytes through unchanged,
// which keeps decode(encode(x)) == x for the composer's own UTF-8/B
// encoded words.
type utf8Transcoder struct{}

func (utf8Transcoder) ToUTF8(in []byte) string { return string(in) }

// replacementTranscoder handles charsets this module has no table for:
// ASCII bytes pass through, anything else degrades to '?' rather than
// aborting the decode.
type replacementTranscoder struct{}

func (replacementTranscoder) ToUTF8(in []byte) string {
	if isASCIIBytes(in) {
		return string(in)
	}
	out := make([]rune, 0, len(in))
	for _, b := range in {
		if b < 0x80 {
			out = append(out, rune(b))
		} else {
			out = append(out, '?')
		}
	}
	return string(out)
}

func isASCIIBytes(b []byte) bool {
	for _, c := range b {
		if c > 127 {
			return false
		}
	}
	return true
}

// charmapTranscoder adapts a golang.org/x/text charmap.Charmap to
// Transcoder, which is how this module gets its Latin-1 and
// TIS-620/ISO-8859-11/Windows-874 transcoding without hand-rolling the
// byte tables spec §4.A describes. The Thai charsets all use x/text's
// Windows-874 table: 0xA1-0xFB map into the Thai block with the
// 0xDB-0xDE hole, and a few 0x80-0x9F bytes map to Windows punctuation.
type charmapTranscoder struct {
	cm *charmap.Charmap
}

func (c charmapTranscoder) ToUTF8(in []byte) string {
	dec := c.cm.NewDecoder()
	out, err := dec.Bytes(in)
	if err != nil {
		return replacementTranscoder{}.ToUTF8(in)
	}
	return string(out)
}

var (
	latin1Transcoder = charmapTranscoder{cm: charmap.ISO8859_1}
	tis620Transcoder = charmapTranscoder{cm: charmap.Windows874}
)

// TranscoderFor resolves an RFC 2047 / IMAP charset token to a
// Transcoder. Unknown charsets fall back to the replacement transcoder
// (non-ASCII bytes become '?'), matching spec §4.A's "unknown charsets
// yield replacement characters in non-printable positions".
func TranscoderFor(charset string) Transcoder {
	switch strings.ToLower(strings.TrimSpace(charset)) {
	case "", "us-ascii", "ascii", "utf-8", "utf8":
		return utf8Transcoder{}
	case "iso-8859-1", "latin1", "latin-1", "l1":
		return latin1Transcoder
	case "tis-620", "iso-8859-11", "windows-874", "cp874", "windows874":
		return tis620Transcoder
	default:
		return replacementTranscoder{}
	}
}
