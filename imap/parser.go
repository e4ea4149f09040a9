package imap

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ashgrovemail/mailkit/codec"
	"github.com/ashgrovemail/mailkit/mime"
	"github.com/ashgrovemail/mailkit/transport"
)

// lineReader turns a transport.Transport's byte stream into IMAP response
// lines, resolving literal syntax ("{n}\r\n" followed by n raw octets)
// inline so callers never see the literal marker itself — only its
// decoded content, spliced into the logical line. This mirrors the
// teacher's own line-oriented indexer.MIMEParser.readLine, generalized
// from a fixed in-memory string to a live transport.
type lineReader struct {
	t transport.Transport
}

func newLineReader(t transport.Transport) *lineReader { return &lineReader{t: t} }

// ReadLine blocks until one full logical response line (literals resolved)
// has been read, without its trailing CRLF.
func (r *lineReader) ReadLine(ctx context.Context) (string, error) {
	var out bytes.Buffer
	for {
		raw, err := r.readRawLine(ctx)
		if err != nil {
			return "", err
		}
		if n, ok := trailingLiteralSize(raw); ok {
			out.WriteString(raw[:len(raw)-literalMarkerLen(raw)])
			lit, err := r.readLiteral(ctx, n)
			if err != nil {
				return "", err
			}
			out.Write(lit)
			continue // literal content never contains the final CRLF; keep reading the rest of this logical line
		}
		out.WriteString(raw)
		return out.String(), nil
	}
}

func (r *lineReader) readRawLine(ctx context.Context) (string, error) {
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
			return "", fmt.Errorf("imap: connection closed mid-response")
		}
		if b == '\n' {
			s := buf.String()
			return strings.TrimSuffix(s, "\r"), nil
		}
		buf.WriteByte(b)
	}
}

func (r *lineReader) readLiteral(ctx context.Context, n int) ([]byte, error) {
	out := make([]byte, 0, n)
	for len(out) < n {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		b, ok, err := r.t.ReadByte()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("imap: connection closed mid-literal")
		}
		out = append(out, b)
	}
	return out, nil
}

// trailingLiteralSize reports the byte count of a "{n}" literal marker
// ending line, if present.
func trailingLiteralSize(line string) (int, bool) {
	if !strings.HasSuffix(line, "}") {
		return 0, false
	}
	open := strings.LastIndexByte(line, '{')
	if open < 0 {
		return 0, false
	}
	digits := line[open+1 : len(line)-1]
	digits = strings.TrimSuffix(digits, "+") // LITERAL+ non-synchronizing marker
	n, err := strconv.Atoi(digits)
	if err != nil {
		return 0, false
	}
	return n, true
}

func literalMarkerLen(line string) int {
	open := strings.LastIndexByte(line, '{')
	return len(line) - open
}

// token is one lexical unit of a parenthesized IMAP data structure:
// ENVELOPE, BODYSTRUCTURE, and FETCH responses are all built from atoms,
// quoted strings, NIL, and nested parenthesized lists.
type token struct {
	list  []token // non-nil for a parenthesized list
	atom  string  // raw atom/number/flag text, or the decoded quoted-string text
	isNil bool
}

// tokenizeParen parses a single balanced-parenthesis s-expression
// starting at s[0]=='(' and returns the list plus the index just past
// the closing ')'.
func tokenizeParen(s string) ([]token, int, error) {
	if len(s) == 0 || s[0] != '(' {
		return nil, 0, fmt.Errorf("imap: expected '(' at %q", s)
	}
	var out []token
	i := 1
	for i < len(s) {
		for i < len(s) && s[i] == ' ' {
			i++
		}
		if i >= len(s) {
			break
		}
		if s[i] == ')' {
			return out, i + 1, nil
		}
		tok, next, err := tokenizeOne(s[i:])
		if err != nil {
			return nil, 0, err
		}
		out = append(out, tok)
		i += next
	}
	return nil, 0, fmt.Errorf("imap: unterminated list in %q", s)
}

func tokenizeOne(s string) (token, int, error) {
	switch {
	case s[0] == '(':
		list, n, err := tokenizeParen(s)
		return token{list: list}, n, err
	case s[0] == '"':
		return tokenizeQuoted(s)
	case strings.HasPrefix(s, "NIL"):
		return token{isNil: true}, 3, nil
	default:
		end := 0
		for end < len(s) && s[end] != ' ' && s[end] != ')' {
			end++
		}
		return token{atom: s[:end]}, end, nil
	}
}

func tokenizeQuoted(s string) (token, int, error) {
	var b strings.Builder
	i := 1
	for i < len(s) {
		c := s[i]
		if c == '\\' && i+1 < len(s) {
			b.WriteByte(s[i+1])
			i += 2
			continue
		}
		if c == '"' {
			return token{atom: b.String()}, i + 1, nil
		}
		b.WriteByte(c)
		i++
	}
	return token{}, 0, fmt.Errorf("imap: unterminated quoted string in %q", s)
}

// ParseCapability updates caps from a CAPABILITY line's space-separated
// token list (the leading "* CAPABILITY " / "CAPABILITY " is already
// stripped by the caller).
func ParseCapability(caps *Capabilities, fields string) {
	for _, f := range strings.Fields(fields) {
		upper := strings.ToUpper(f)
		switch {
		case upper == "IMAP4":
			caps.IMAP4 = true
		case upper == "IMAP4REV1":
			caps.IMAP4rev1 = true
		case upper == "STARTTLS":
			caps.StartTLS = true
		case upper == "LOGINDISABLED":
			caps.LoginDisabled = true
		case upper == "IDLE":
			caps.Idle = true
		case upper == "LITERAL+":
			caps.LiteralPlus = true
		case upper == "LITERAL-":
			caps.LiteralMinus = true
		case upper == "MULTIAPPEND":
			caps.MultiAppend = true
		case upper == "UIDPLUS":
			caps.UIDPlus = true
		case upper == "ACL":
			caps.ACL = true
		case upper == "BINARY":
			caps.Binary = true
		case upper == "MOVE":
			caps.Move = true
		case upper == "QUOTA":
			caps.Quota = true
		case upper == "NAMESPACE":
			caps.Namespace = true
		case upper == "ENABLE":
			caps.Enable = true
		case upper == "ID":
			caps.ID = true
		case upper == "UNSELECT":
			caps.Unselect = true
		case upper == "CHILDREN":
			caps.Children = true
		case upper == "CONDSTORE":
			caps.Condstore = true
		case upper == "SASL-IR":
			caps.SASLIR = true
		case strings.HasPrefix(upper, "AUTH="):
			switch strings.TrimPrefix(upper, "AUTH=") {
			case "PLAIN":
				caps.AuthPlain = true
			case "XOAUTH2":
				caps.AuthXOAuth2 = true
			case "CRAM-MD5":
				caps.AuthCRAMMD5 = true
			case "DIGEST-MD5":
				caps.AuthDigestMD5 = true
			}
		}
	}
}

// ParseList parses one LIST/LSUB untagged response body (everything after
// "LIST "): "(attr attr) "delim" name".
func ParseList(body string) (MailboxInfo, error) {
	body = strings.TrimSpace(body)
	attrs, n, err := tokenizeParen(body)
	if err != nil {
		return MailboxInfo{}, err
	}
	rest := strings.TrimSpace(body[n:])
	delimTok, n2, err := tokenizeOne(rest)
	if err != nil {
		return MailboxInfo{}, err
	}
	rest = strings.TrimSpace(rest[n2:])
	nameTok, _, err := tokenizeOne(rest)
	if err != nil {
		return MailboxInfo{}, err
	}

	info := MailboxInfo{Name: nameTok.atom}
	if !delimTok.isNil {
		info.Delimiter = delimTok.atom
	}
	for _, a := range attrs {
		info.Attributes = append(info.Attributes, a.atom)
	}
	return info, nil
}

// ParseSearch parses a SEARCH untagged response's number list. recentSort
// orders the result descending (most recent sequence/UID first) before
// the search_limit truncation, so the smallest values are the ones
// evicted — the server's own order is not assumed to be sorted.
func ParseSearch(body string, recentSort bool, limit int) []int64 {
	fields := strings.Fields(body)
	out := make([]int64, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.ParseInt(f, 10, 64)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	if recentSort {
		sort.Slice(out, func(i, j int) bool { return out[i] > out[j] })
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// ParseEnvelope parses a FETCH ENVELOPE response body (the parenthesized
// 10-field tuple RFC 3501 §7.4.2 defines).
func ParseEnvelope(body string) (*Envelope, error) {
	fields, _, err := tokenizeParen(strings.TrimSpace(body))
	if err != nil {
		return nil, err
	}
	if len(fields) < 10 {
		return nil, fmt.Errorf("imap: envelope has %d fields, want 10", len(fields))
	}
	env := &Envelope{
		Date:      parseEnvelopeDate(fields[0].atom),
		Subject:   codec.RFC2047Decode(fields[1].atom),
		From:      parseAddressList(fields[2]),
		Sender:    parseAddressList(fields[3]),
		ReplyTo:   parseAddressList(fields[4]),
		To:        parseAddressList(fields[5]),
		Cc:        parseAddressList(fields[6]),
		Bcc:       parseAddressList(fields[7]),
		InReplyTo: fields[8].atom,
		MessageID: fields[9].atom,
	}
	return env, nil
}

func parseEnvelopeDate(s string) time.Time {
	for _, layout := range []string{
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
		time.RFC1123Z,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseAddressList(t token) []Address {
	if t.isNil {
		return nil
	}
	out := make([]Address, 0, len(t.list))
	for _, entry := range t.list {
		if len(entry.list) < 4 {
			continue
		}
		out = append(out, Address{
			Name:    codec.RFC2047Decode(entry.list[0].atom),
			Mailbox: entry.list[2].atom,
			Host:    entry.list[3].atom,
		})
	}
	return out
}

// ParseBodyStructure parses a FETCH BODYSTRUCTURE response body into a
// mime.PartNode tree, assigning dotted section addresses depth-first per
// spec §4.C: a top-level non-multipart part is "1"; a top-level multipart
// has no section address of its own and its children are numbered "1",
// "2", ... directly (not "1.1", "1.2", ...) — only a *nested* multipart's
// children gain the dotted prefix (spec §8 property 4's worked example:
// mixed(alt(text,html), related(html,inline1,inline2), att1, att2) yields
// 1, 1.1, 1.2, 2, 2.1, 2.2, 2.3, 3, 4).
func ParseBodyStructure(body string) (*mime.PartNode, error) {
	fields, _, err := tokenizeParen(strings.TrimSpace(body))
	if err != nil {
		return nil, err
	}
	if len(fields) > 0 && len(fields[0].list) > 0 {
		return buildMultipart(fields, ""), nil
	}
	return buildLeaf(fields, "1"), nil
}

func buildPartNode(fields []token, section string) *mime.PartNode {
	if len(fields) > 0 && len(fields[0].list) > 0 {
		return buildMultipart(fields, section)
	}
	return buildLeaf(fields, section)
}

func buildMultipart(fields []token, section string) *mime.PartNode {
	node := &mime.PartNode{Section: section, MIMEType: "multipart", IsMultipart: true}
	var children []token
	i := 0
	for i < len(fields) && len(fields[i].list) > 0 {
		children = append(children, fields[i])
		i++
	}
	if i < len(fields) {
		node.MIMESubtype = strings.ToLower(fields[i].atom)
	}
	for idx, child := range children {
		var childSection string
		if section == "" {
			childSection = strconv.Itoa(idx + 1)
		} else {
			childSection = fmt.Sprintf("%s.%d", section, idx+1)
		}
		node.Children = append(node.Children, buildPartNode(child.list, childSection))
	}
	return node
}

func buildLeaf(fields []token, section string) *mime.PartNode {
	node := &mime.PartNode{Section: section}
	get := func(i int) token {
		if i < len(fields) {
			return fields[i]
		}
		return token{isNil: true}
	}
	// RFC 3501 §7.4.2 basic fields: (type subtype params id description
	// encoding size), indices 0-6; a trailing "lines" field follows size
	// for text/* parts only, at index 7.
	node.MIMEType = strings.ToLower(get(0).atom)
	node.MIMESubtype = strings.ToLower(get(1).atom)
	node.Charset = paramValue(get(2), "charset")
	node.Filename = paramValue(get(2), "name")
	node.ContentID = strings.Trim(get(3).atom, "<>")
	node.TransferEncoding = parseTransferEncoding(get(5).atom)
	if size, err := strconv.ParseInt(get(6).atom, 10, 64); err == nil {
		node.Size = size
	}
	if node.MIMEType == "message" && node.MIMESubtype == "rfc822" {
		// Extension fields for message/rfc822 follow size: envelope (7),
		// nested body structure (8), line count (9).
		if len(fields) > 8 && len(fields[8].list) > 0 {
			nested := buildPartNode(fields[8].list, section)
			node.IsMultipart = true
			node.Children = append(node.Children, nested)
		}
	}
	return node
}

func paramValue(t token, key string) string {
	for i := 0; i+1 < len(t.list); i += 2 {
		if strings.EqualFold(t.list[i].atom, key) {
			return t.list[i+1].atom
		}
	}
	return ""
}

func parseTransferEncoding(s string) mime.TransferEncoding {
	switch strings.ToLower(s) {
	case "base64":
		return mime.EncBase64
	case "quoted-printable":
		return mime.EncQuotedPrintable
	case "8bit":
		return mime.Enc8Bit
	case "binary":
		return mime.EncBinary
	case "7bit", "":
		return mime.Enc7Bit
	default:
		return mime.EncUndefined
	}
}

// ParseUntagged splits an untagged response ("* ...") into its verb and
// remaining text, e.g. "* 5 EXISTS" -> ("5", "EXISTS", "").
func ParseUntagged(line string) (seq, verb, rest string, ok bool) {
	if !strings.HasPrefix(line, "* ") {
		return "", "", "", false
	}
	body := line[2:]
	parts := strings.SplitN(body, " ", 2)
	first := parts[0]
	if _, err := strconv.Atoi(first); err == nil {
		verb = ""
		if len(parts) > 1 {
			verbRest := strings.SplitN(parts[1], " ", 2)
			verb = verbRest[0]
			if len(verbRest) > 1 {
				rest = verbRest[1]
			}
		}
		return first, verb, rest, true
	}
	verb = first
	if len(parts) > 1 {
		rest = parts[1]
	}
	return "", verb, rest, true
}

// ParseTagged splits a tagged response line into tag, status, and text.
func ParseTagged(line string) (tag, status, text string, ok bool) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 {
		return "", "", "", false
	}
	tag = parts[0]
	status = strings.ToUpper(parts[1])
	if len(parts) == 3 {
		text = parts[2]
	}
	return tag, status, text, true
}

// ParseResponseCode extracts a bracketed "[CODE ...]" prefix from a
// response's text, if present.
func ParseResponseCode(text string) (code, rest string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "[") {
		return "", text
	}
	end := strings.IndexByte(text, ']')
	if end < 0 {
		return "", text
	}
	return text[1:end], strings.TrimSpace(text[end+1:])
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
