package smtp

import (
	"bytes"
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashgrovemail/mailkit/transport"
)

// lineReader turns a transport.Transport's byte stream into CRLF-terminated
// response lines. SMTP has no literal syntax, so unlike imap's lineReader
// this is just raw line splitting.
type lineReader struct{ t transport.Transport }

func newLineReader(t transport.Transport) *lineReader { return &lineReader{t: t} }

func (r *lineReader) ReadLine(ctx context.Context) (string, error) {
	var buf bytes.Buffer
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		default:
		}
		b, ok, err := r.t.ReadByte()
		if err != nil {
			return "", err
		}
		if !ok {
			return "", fmt.Errorf("smtp: connection closed mid-response")
		}
		if b == '\n' {
			return strings.TrimSuffix(buf.String(), "\r"), nil
		}
		buf.WriteByte(b)
	}
}

// ParseResponseLine splits one response line into its three-digit status
// code, a continuation flag (true when the code is followed by '-'), and
// the trailing text, per spec §4.E "the multi-line continuation dash".
func ParseResponseLine(line string) (code int, continuation bool, text string, ok bool) {
	if len(line) < 3 {
		return 0, false, "", false
	}
	n, err := strconv.Atoi(line[:3])
	if err != nil {
		return 0, false, "", false
	}
	if len(line) == 3 {
		return n, false, "", true
	}
	switch line[3] {
	case '-':
		return n, true, line[4:], true
	case ' ':
		return n, false, line[4:], true
	default:
		// Lenient: some servers omit the separator on a short line.
		return n, false, strings.TrimSpace(line[3:]), true
	}
}

// ParseCapabilityLines updates caps from the non-greeting lines of an
// EHLO response, spec §4.E "record capabilities".
func ParseCapabilityLines(caps *Capabilities, lines []string) {
	for _, l := range lines {
		upper := strings.ToUpper(strings.TrimSpace(l))
		fields := strings.Fields(upper)
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "STARTTLS":
			caps.StartTLS = true
		case "PIPELINING":
			caps.Pipelining = true
		case "8BITMIME":
			caps.EightBitMIME = true
		case "BINARYMIME":
			caps.BinaryMIME = true
		case "CHUNKING":
			caps.Chunking = true
		case "SMTPUTF8":
			caps.SMTPUTF8 = true
		case "DSN":
			caps.DSN = true
		case "SIZE":
			if len(fields) > 1 {
				caps.Size, _ = strconv.ParseInt(fields[1], 10, 64)
			}
		case "AUTH":
			for _, mech := range fields[1:] {
				switch mech {
				case "PLAIN":
					caps.AuthPlain = true
				case "XOAUTH2":
					caps.AuthXOAuth2 = true
				case "LOGIN":
					caps.AuthLogin = true
				case "CRAM-MD5":
					caps.AuthCRAMMD5 = true
				case "DIGEST-MD5":
					caps.AuthDigestMD5 = true
				}
			}
		}
	}
}

// firstToken returns the first whitespace-separated token of s (the
// server's domain/banner on the first EHLO/greeting line).
func firstToken(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// bareAddress strips a display name and angle brackets from an address
// of the form `"Name" <user@host>` or `user@host`, returning just the
// mailbox, the way MAIL FROM/RCPT TO need it.
func bareAddress(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '<'); i >= 0 {
		if j := strings.IndexByte(s[i:], '>'); j >= 0 {
			return strings.TrimSpace(s[i+1 : i+j])
		}
	}
	return s
}

// isASCII reports whether s contains only 7-bit bytes, used to decide
// whether MAIL FROM needs the SMTPUTF8 parameter.
func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 0x7f {
			return false
		}
	}
	return true
}

// parseDigestChallenge splits an RFC 2831 DIGEST-MD5 challenge's
// comma-separated directives (realm="...", nonce="...", qop="...", ...)
// into a lookup map, stripping any surrounding quotes.
func parseDigestChallenge(challenge string) map[string]string {
	out := map[string]string{}
	for _, part := range splitDigestDirectives(challenge) {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		key := strings.TrimSpace(kv[0])
		val := strings.Trim(strings.TrimSpace(kv[1]), `"`)
		out[key] = val
	}
	return out
}

// splitDigestDirectives splits on commas that are not inside a quoted
// string (a directive's value may itself contain commas once quoted).
func splitDigestDirectives(s string) []string {
	var out []string
	inQuotes := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '"':
			inQuotes = !inQuotes
		case ',':
			if !inQuotes {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}
