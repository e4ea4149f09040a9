package codec

import "strings"

const hexDigits = "0123456789ABCDEF"

// QPBreak is a soft or hard line break recorded while streaming a
// format=flowed encode. A Soft break was inserted by the encoder to stay
// under the line-length limit and may be re-joined by a flowed-aware
// reader; a Hard break was present in the source text (an actual
// paragraph break) and must never be re-emitted as flowed.
type QPBreak struct {
	Pos  int
	Hard bool
}

// QPEncodeState carries the cursor and soft-break bookkeeping across
// repeated calls to QPEncodeLine, one output line per call, matching the
// composer's one-frame-per-step streaming contract (spec §4.F).
type QPEncodeState struct {
	Cursor  int
	Breaks  []QPBreak
	lineMax int
}

// NewQPEncodeState returns a fresh encode cursor. lineMax <= 0 defaults to
// 76, the limit spec §4.F specifies for encoded body lines.
func NewQPEncodeState(lineMax int) *QPEncodeState {
	if lineMax <= 0 {
		lineMax = 76
	}
	return &QPEncodeState{lineMax: lineMax}
}

// QPEncodeLine produces at most one output line (without the trailing
// CRLF) from chunk starting at st.Cursor, advancing the cursor. flowed
// requests RFC 3676 soft line breaks: when the next hard newline in chunk
// is further away than the line limit, a break is inserted at the last
// space within the limit and a trailing space is appended so a
// flowed-aware reader can rejoin it. Returns io.EOF-style done=true once
// the whole chunk has been consumed.
func QPEncodeLine(st *QPEncodeState, chunk []byte, flowed bool) (line string, done bool) {
	if st.Cursor >= len(chunk) {
		return "", true
	}

	var b strings.Builder
	visible := 0
	start := st.Cursor
	lastSpace := -1
	lastSpaceVisible := -1
	wrapped := false

	i := st.Cursor
	for ; i < len(chunk); i++ {
		c := chunk[i]

		if c == '\n' {
			st.Breaks = append(st.Breaks, QPBreak{Pos: i, Hard: true})
			i++
			break
		}
		if c == '\r' {
			continue
		}

		encLen := 1
		if c < 32 || c == '=' || c > 126 {
			encLen = 3
		} else if c == ' ' && isTrailingSpace(chunk, i) {
			encLen = 3
		}

		if visible+encLen > st.lineMax-1 && flowed {
			// try to break at the last space we've seen
			if lastSpace >= 0 {
				i = lastSpace
				b.Reset()
				b.WriteString(encodeRun(chunk[start:lastSpace]))
				visible = lastSpaceVisible
			}
			b.WriteByte(' ')
			st.Breaks = append(st.Breaks, QPBreak{Pos: i, Hard: false})
			i++
			break
		}

		if visible+encLen > st.lineMax-1 {
			wrapped = true
			break
		}

		if c == ' ' {
			lastSpace = i
			lastSpaceVisible = visible
		}

		if encLen == 3 {
			b.WriteByte('=')
			b.WriteByte(hexDigits[c>>4])
			b.WriteByte(hexDigits[c&0x0f])
		} else {
			b.WriteByte(c)
		}
		visible += encLen
	}

	if i == st.Cursor {
		// Nothing fit on this line (shouldn't normally happen with a
		// sane lineMax); force one byte through to guarantee progress.
		c := chunk[i]
		b.WriteByte(c)
		i++
		wrapped = false
	}

	if wrapped {
		// RFC 2045 soft line break: a bare "=" at EOL means join with
		// the next line, consuming no source bytes.
		b.WriteByte('=')
	}

	st.Cursor = i
	return b.String(), st.Cursor >= len(chunk)
}

func encodeRun(b []byte) string {
	var out strings.Builder
	for i, c := range b {
		if c < 32 || c == '=' || c > 126 || (c == ' ' && isTrailingSpace(b, i)) {
			out.WriteByte('=')
			out.WriteByte(hexDigits[c>>4])
			out.WriteByte(hexDigits[c&0x0f])
		} else {
			out.WriteByte(c)
		}
	}
	return out.String()
}

func isTrailingSpace(b []byte, i int) bool {
	for j := i; j < len(b); j++ {
		if b[j] != ' ' && b[j] != '\t' {
			return false
		}
		if b[j] == ' ' && (j == len(b)-1 || b[j+1] == '\n' || b[j+1] == '\r') {
			return true
		}
	}
	return false
}

// QPEncode is the non-streaming convenience wrapper over QPEncodeLine,
// used by tests and by callers that already hold the whole chunk in
// memory (small headers, fixtures).
func QPEncode(data []byte, flowed bool, lineMax int) string {
	st := NewQPEncodeState(lineMax)
	var out strings.Builder
	for {
		line, done := QPEncodeLine(st, data, flowed)
		out.WriteString(line)
		if done {
			break
		}
		out.WriteString("\r\n")
	}
	return out.String()
}

// QPDecode decodes quoted-printable content. "=\r\n" and "=\n" soft-break
// joiners are removed; "=HH" maps to a byte; a malformed "=X" sequence is
// copied through literally rather than failing the whole decode.
func QPDecode(in []byte) []byte {
	out := make([]byte, 0, len(in))
	for i := 0; i < len(in); i++ {
		c := in[i]
		if c != '=' {
			out = append(out, c)
			continue
		}
		if i+1 < len(in) && in[i+1] == '\n' {
			i++
			continue
		}
		if i+2 < len(in) && in[i+1] == '\r' && in[i+2] == '\n' {
			i += 2
			continue
		}
		if i+2 < len(in) && isHex(in[i+1]) && isHex(in[i+2]) {
			out = append(out, hexVal(in[i+1])<<4|hexVal(in[i+2]))
			i += 2
			continue
		}
		out = append(out, c) // malformed escape, copied literally
	}
	return out
}

func isHex(c byte) bool {
	return (c >= '0' && c <= '9') || (c >= 'A' && c <= 'F') || (c >= 'a' && c <= 'f')
}

func hexVal(c byte) byte {
	switch {
	case c >= '0' && c <= '9':
		return c - '0'
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10
	default:
		return c - 'a' + 10
	}
}
