package codec

import "strings"

// RFC2047EncodeUTF8 wraps s as a single UTF-8/base64 encoded-word if it
// contains any non-ASCII byte; pure-ASCII input is returned unchanged.
// The composer only ever emits UTF-8/B per spec §6 ("UTF-8 base64 only on
// the composer side").
func RFC2047EncodeUTF8(s string) string {
	if isASCII(s) {
		return s
	}
	return "=?UTF-8?B?" + Base64Encode([]byte(s)) + "?="
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

// RFC2047Decode finds =?charset?Q|B?text?= runs in header and decodes
// them, collapsing runs separated only by whitespace per RFC 2047 §6.2.
// Unknown charsets fall back to the replacement transcoder, which maps
// non-ASCII bytes to '?' rather than halting the decode.
func RFC2047Decode(header string) string {
	var out strings.Builder
	i := 0
	lastWasWord := false

	for i < len(header) {
		start := strings.Index(header[i:], "=?")
		if start < 0 {
			out.WriteString(header[i:])
			break
		}
		start += i

		// whitespace between here and the previous encoded-word is
		// elided only if the previous token was itself an encoded-word.
		gap := header[i:start]
		word, end, ok := decodeOneWord(header[start:])
		if !ok {
			out.WriteString(header[i : start+2])
			i = start + 2
			lastWasWord = false
			continue
		}

		if !(lastWasWord && strings.TrimSpace(gap) == "") {
			out.WriteString(gap)
		}
		out.WriteString(word)
		i = start + end
		lastWasWord = true
	}

	return out.String()
}

// decodeOneWord decodes a single "=?charset?enc?text?=" token at the
// start of s, returning the decoded text and the byte length consumed.
func decodeOneWord(s string) (decoded string, n int, ok bool) {
	if !strings.HasPrefix(s, "=?") {
		return "", 0, false
	}
	rest := s[2:]
	p1 := strings.Index(rest, "?")
	if p1 < 0 {
		return "", 0, false
	}
	charset := rest[:p1]
	rest = rest[p1+1:]
	if len(rest) < 2 || rest[1] != '?' {
		return "", 0, false
	}
	enc := rest[0]
	rest = rest[2:]
	p2 := strings.Index(rest, "?=")
	if p2 < 0 {
		return "", 0, false
	}
	text := rest[:p2]

	var raw []byte
	switch enc {
	case 'B', 'b':
		raw = Base64Decode(text)
	case 'Q', 'q':
		raw = decodeQEncoding(text)
	default:
		return "", 0, false
	}

	tr := TranscoderFor(charset)
	decoded = tr.ToUTF8(raw)
	n = len("=?") + len(charset) + 1 + 2 + p2 + len("?=")
	return decoded, n, true
}

// decodeQEncoding decodes the Q variant of encoded-word text: '_' means a
// literal space and "=HH" is a hex byte, otherwise RFC 2045
// quoted-printable rules apply.
func decodeQEncoding(s string) []byte {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '_':
			out = append(out, ' ')
		case '=':
			if i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]) {
				out = append(out, hexVal(s[i+1])<<4|hexVal(s[i+2]))
				i += 2
			} else {
				out = append(out, '=')
			}
		default:
			out = append(out, s[i])
		}
	}
	return out
}
