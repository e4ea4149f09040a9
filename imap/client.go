package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/ashgrovemail/mailkit/codec"
	"github.com/ashgrovemail/mailkit/logx"
	"github.com/ashgrovemail/mailkit/mime"
	"github.com/ashgrovemail/mailkit/transport"
)

// IdleMinInterval and IdleMaxInterval bound the re-issue timer spec §5
// requires: a client must renew IDLE before the server's own inactivity
// timeout, but not so often it wastes a round trip.
const (
	IdleMinInterval = 8 * time.Minute
	IdleMaxInterval = 29 * time.Minute
)

// Version is the client identity reported through the ID command after a
// successful authentication.
const Version = "0.1.0"

// Client drives one IMAP4rev1 session over a transport.Transport. It
// never touches net.Conn directly — see transport.Transport — which is
// what makes it unit-testable against a net.Pipe fake the way
// transport_test.go exercises Conn itself.
type Client struct {
	t   transport.Transport
	lr  *lineReader
	log logx.Logger

	tagN int

	Caps     Capabilities
	Status   ServerStatus
	Selected *MailboxStatus

	lastList  []MailboxInfo // cache of the last successful List, for the SELECT pre-check
	listDirty bool          // set by Create/Delete; cleared by the next List
}

// NewClient wraps t (already connected, or about to be via Connect).
func NewClient(t transport.Transport, log logx.Logger) *Client {
	if log == nil {
		log = logx.Nop{}
	}
	return &Client{t: t, lr: newLineReader(t), log: log}
}

// Connect dials host:port (unless the transport is already connected, as
// one built with transport.NewFromConn is), reads the greeting, and issues
// an initial CAPABILITY if the greeting didn't already include one
// (RFC 3501 §7.1.1).
func (c *Client) Connect(ctx context.Context, host string, port int, useTLS bool, tlsConfig *tls.Config) error {
	conn, ok := c.t.(*transport.Conn)
	if ok && !conn.Connected() {
		var err error
		if useTLS {
			err = conn.ConnectTLS(ctx, host, port, tlsConfig)
		} else {
			err = conn.Connect(ctx, host, port)
		}
		if err != nil {
			return err
		}
	}

	greeting, err := c.lr.ReadLine(ctx)
	if err != nil {
		return fmt.Errorf("imap: read greeting: %w", err)
	}
	_, status, text, ok := ParseUntagged(greeting)
	if !ok {
		return fmt.Errorf("imap: greeting %q: %w", greeting, ErrBadGreeting)
	}
	upper := strings.ToUpper(status)
	if upper != "OK" && upper != "PREAUTH" {
		return fmt.Errorf("imap: greeting %q: %w", greeting, ErrBadGreeting)
	}
	if code, _ := ParseResponseCode(text); strings.HasPrefix(strings.ToUpper(code), "CAPABILITY") {
		ParseCapability(&c.Caps, strings.TrimPrefix(code, "CAPABILITY "))
	} else if !c.Caps.IMAP4rev1 {
		if err := c.Capability(ctx); err != nil {
			return err
		}
	}
	c.log.Info("imap: connected to %s:%d (tls=%v)", host, port, useTLS)
	return nil
}

func (c *Client) nextTag() string {
	c.tagN++
	return fmt.Sprintf("A%04d", c.tagN)
}

func (c *Client) sendLine(line string) error {
	_, err := c.t.Write([]byte(line + "\r\n"))
	return err
}

// exchange sends "tag verb rest" and collects every line up to and
// including the tagged completion. cont, when non-nil, is invoked for
// each "+ ..." continuation line the server sends (used by AUTHENTICATE
// and literal APPEND bodies); it returns the bytes to write in response.
func (c *Client) exchange(ctx context.Context, verb, rest string, cont func(challenge string) ([]byte, error)) (untagged []string, status, text string, err error) {
	tag := c.nextTag()
	line := tag + " " + verb
	if rest != "" {
		line += " " + rest
	}
	if err := c.sendLine(line); err != nil {
		return nil, "", "", err
	}

	for {
		l, err := c.lr.ReadLine(ctx)
		if err != nil {
			return nil, "", "", err
		}
		if strings.HasPrefix(l, "+") {
			if cont == nil {
				return nil, "", "", fmt.Errorf("imap: unexpected continuation %q", l)
			}
			resp, err := cont(strings.TrimSpace(strings.TrimPrefix(l, "+")))
			if err != nil {
				return nil, "", "", err
			}
			if err := c.sendLine(string(resp)); err != nil {
				return nil, "", "", err
			}
			continue
		}
		if strings.HasPrefix(l, "* ") {
			untagged = append(untagged, l)
			continue
		}
		gotTag, gotStatus, gotText, ok := ParseTagged(l)
		if !ok || gotTag != tag {
			// Response to a previous tag or malformed; surface it as an
			// untagged line rather than hanging forever.
			untagged = append(untagged, l)
			continue
		}
		return untagged, gotStatus, gotText, nil
	}
}

func (c *Client) simpleCommand(ctx context.Context, verb, rest string) ([]string, error) {
	untagged, status, text, err := c.exchange(ctx, verb, rest, nil)
	if err != nil {
		return nil, err
	}
	return untagged, statusToErr(status, text)
}

func statusToErr(status, text string) error {
	code, rest := ParseResponseCode(text)
	switch strings.ToUpper(status) {
	case "OK":
		return nil
	case "NO":
		return &ResponseError{Status: "NO", Code: code, Text: rest, Err: ErrCommandRejected}
	case "BAD":
		return &ResponseError{Status: "BAD", Code: code, Text: rest, Err: ErrCommandMalformed}
	default:
		return fmt.Errorf("imap: unexpected status %q: %s", status, text)
	}
}

// Capability issues CAPABILITY and updates c.Caps.
func (c *Client) Capability(ctx context.Context) error {
	untagged, err := c.simpleCommand(ctx, "CAPABILITY", "")
	if err != nil {
		return err
	}
	c.Caps = Capabilities{}
	for _, l := range untagged {
		if _, verb, rest, ok := ParseUntagged(l); ok && strings.EqualFold(verb, "CAPABILITY") {
			ParseCapability(&c.Caps, rest)
		}
	}
	return nil
}

// StartTLS issues STARTTLS, upgrades the transport, and re-issues
// CAPABILITY (a server must not trust capabilities advertised before TLS).
func (c *Client) StartTLS(ctx context.Context, tlsConfig *tls.Config) error {
	if !c.Caps.StartTLS {
		return fmt.Errorf("STARTTLS: %w", ErrNoCapability)
	}
	if _, err := c.simpleCommand(ctx, "STARTTLS", ""); err != nil {
		return err
	}
	if err := c.t.UpgradeTLS(ctx, tlsConfig); err != nil {
		return err
	}
	return c.Capability(ctx)
}

// Authenticate picks XOAUTH2 > PLAIN > LOGIN by advertised capability and
// the caller's available credentials (spec's mechanism-priority rule);
// CRAM-MD5 and DIGEST-MD5 remain as fallbacks for LOGINDISABLED servers
// that advertise neither XOAUTH2 nor PLAIN. token is the OAuth bearer
// token, used only for XOAUTH2; pass "" to skip it. After any success the
// client identifies itself via ID when the server advertises it, and
// Status.Authenticated is set.
func (c *Client) Authenticate(ctx context.Context, user, pass, token string) error {
	var err error
	switch {
	case token != "" && c.Caps.HasAuth("XOAUTH2"):
		err = c.authXOAuth2(ctx, user, token)
	case c.Caps.HasAuth("PLAIN"):
		err = c.authPlain(ctx, user, pass)
	case !c.Caps.LoginDisabled:
		err = c.login(ctx, user, pass)
	case c.Caps.HasAuth("CRAM-MD5"):
		err = c.authCRAMMD5(ctx, user, pass)
	case c.Caps.HasAuth("DIGEST-MD5"):
		err = c.authDigestMD5(ctx, user, pass)
	default:
		return ErrNoMechanism
	}
	if err != nil {
		return err
	}
	if c.Caps.ID {
		if idErr := c.ID(ctx, map[string]string{"name": "mailkit", "version": Version}); idErr != nil {
			c.log.Warn("imap: ID after auth: %v", idErr)
		}
	}
	c.Status.Authenticated = true
	return nil
}

func (c *Client) authPlain(ctx context.Context, user, pass string) error {
	resp := codec.SASLPlain(user, pass)
	var status, text string
	var err error
	if c.Caps.SASLIR {
		_, status, text, err = c.exchange(ctx, "AUTHENTICATE", "PLAIN "+resp, nil)
	} else {
		_, status, text, err = c.exchange(ctx, "AUTHENTICATE", "PLAIN", func(string) ([]byte, error) {
			return []byte(resp), nil
		})
	}
	if err != nil {
		return err
	}
	return wrapAuthErr(statusToErr(status, text))
}

func (c *Client) authXOAuth2(ctx context.Context, user, token string) error {
	resp := codec.SASLXOAuth2(user, token)
	var status, text string
	var err error
	var errDetail string
	cont := func(challenge string) ([]byte, error) {
		errDetail = challenge
		return []byte(""), nil // empty response acknowledges the error and lets the server fail the tag
	}
	if c.Caps.SASLIR {
		_, status, text, err = c.exchange(ctx, "AUTHENTICATE", "XOAUTH2 "+resp, cont)
	} else {
		_, status, text, err = c.exchange(ctx, "AUTHENTICATE", "XOAUTH2", func(string) ([]byte, error) {
			return []byte(resp), nil
		})
		if err == nil && strings.ToUpper(status) != "OK" {
			// no-op; fall through to error handling below
		}
	}
	if errDetail != "" {
		c.Status.LastError = decodeXOAuth2Error(errDetail)
	}
	if err != nil {
		return err
	}
	return wrapAuthErr(statusToErr(status, text))
}

// decodeXOAuth2Error parses the base64 JSON error blob a server sends as
// a SASL continuation when XOAUTH2 fails, spec_full's supplemental
// feature grounded on ReadyMail's smtp_state_auth_xoauth2 status check.
func decodeXOAuth2Error(challengeB64 string) *OAuthErrorDetail {
	raw := codec.Base64Decode(challengeB64)
	s := string(raw)
	detail := &OAuthErrorDetail{}
	if i := strings.Index(s, `"status":"`); i >= 0 {
		rest := s[i+len(`"status":"`):]
		if end := strings.IndexByte(rest, '"'); end >= 0 {
			detail.Status = rest[:end]
		}
	}
	if i := strings.Index(s, `"scope":"`); i >= 0 {
		rest := s[i+len(`"scope":"`):]
		if end := strings.IndexByte(rest, '"'); end >= 0 {
			detail.Scope = rest[:end]
		}
	}
	return detail
}

func (c *Client) authCRAMMD5(ctx context.Context, user, pass string) error {
	_, status, text, err := c.exchange(ctx, "AUTHENTICATE", "CRAM-MD5", func(challenge string) ([]byte, error) {
		return []byte(codec.CRAMMD5Response(challenge, user, pass)), nil
	})
	if err != nil {
		return err
	}
	return wrapAuthErr(statusToErr(status, text))
}

// authDigestMD5 performs the two-round RFC 2831 exchange: the first "+"
// challenge carries realm/nonce/qop directives that feed
// codec.DigestMD5Response; the second "+" is the server's "rspauth="
// acknowledgement, accepted with an empty reply without verifying it
// client-side (spec_full's supplemental feature: ReadyMail only ever
// tracked DIGEST-MD5 as a capability bit, this module computes the
// response too).
func (c *Client) authDigestMD5(ctx context.Context, user, pass string) error {
	round := 0
	_, status, text, err := c.exchange(ctx, "AUTHENTICATE", "DIGEST-MD5", func(challenge string) ([]byte, error) {
		round++
		if round == 1 {
			directives := parseDigestChallenge(string(codec.Base64Decode(challenge)))
			realm := directives["realm"]
			nonce := directives["nonce"]
			qop := directives["qop"]
			if qop == "" {
				qop = "auth"
			}
			digestURI := "imap/" + realm
			return []byte(codec.DigestMD5Response(user, pass, realm, nonce, "mailkitCNonce1", "00000001", qop, digestURI)), nil
		}
		return []byte(""), nil
	})
	if err != nil {
		return err
	}
	return wrapAuthErr(statusToErr(status, text))
}

func (c *Client) login(ctx context.Context, user, pass string) error {
	_, err := c.simpleCommand(ctx, "LOGIN", quote(user)+" "+quote(pass))
	return wrapAuthErr(err)
}

func wrapAuthErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrAuthFailed, err)
}

func quote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// ID sends the ID command and stores the server's reply in c.Status.ServerID,
// spec_full's supplemental ID round trip.
func (c *Client) ID(ctx context.Context, client map[string]string) error {
	if !c.Caps.ID {
		return fmt.Errorf("ID: %w", ErrNoCapability)
	}
	var args string
	if len(client) == 0 {
		args = "NIL"
	} else {
		var b strings.Builder
		b.WriteByte('(')
		first := true
		for k, v := range client {
			if !first {
				b.WriteByte(' ')
			}
			first = false
			b.WriteString(quote(k) + " " + quote(v))
		}
		b.WriteByte(')')
		args = b.String()
	}
	untagged, err := c.simpleCommand(ctx, "ID", args)
	if err != nil {
		return err
	}
	for _, l := range untagged {
		if _, verb, rest, ok := ParseUntagged(l); ok && strings.EqualFold(verb, "ID") {
			fields, _, err := tokenizeParen(strings.TrimSpace(rest))
			if err == nil {
				c.Status.ServerID = map[string]string{}
				for i := 0; i+1 < len(fields); i += 2 {
					c.Status.ServerID[fields[i].atom] = fields[i+1].atom
				}
			}
		}
	}
	return nil
}

// List issues LIST reference mailbox, clearing the dirty bit Create/Delete
// set.
func (c *Client) List(ctx context.Context, reference, mailbox string) ([]MailboxInfo, error) {
	untagged, err := c.simpleCommand(ctx, "LIST", quote(reference)+" "+quote(mailbox))
	if err != nil {
		return nil, err
	}
	c.listDirty = false
	var out []MailboxInfo
	for _, l := range untagged {
		if _, verb, rest, ok := ParseUntagged(l); ok && strings.EqualFold(verb, "LIST") {
			info, err := ParseList(rest)
			if err == nil {
				out = append(out, info)
			}
		}
	}
	c.lastList = out
	return out, nil
}

// ListDirty reports whether a mailbox-creating/destroying command has run
// since the last successful List.
func (c *Client) ListDirty() bool { return c.listDirty }

func (c *Client) selectOrExamine(ctx context.Context, verb, name string, condstore bool) (*MailboxStatus, error) {
	// A CREATE/DELETE since the last List invalidates the cache; refresh it
	// before trusting the existence pre-check.
	if c.listDirty {
		if _, err := c.List(ctx, "", "*"); err != nil {
			return nil, err
		}
	}
	if len(c.lastList) > 0 {
		known := false
		for _, info := range c.lastList {
			if info.Name == name {
				known = true
				break
			}
		}
		if !known {
			return nil, fmt.Errorf("%s %q: %w", verb, name, ErrMailboxNotExists)
		}
	}

	args := quote(name)
	if condstore {
		if !c.Caps.Condstore {
			return nil, ErrModSeqUnavailable
		}
		args += " (CONDSTORE)"
	}
	untagged, status, text, err := c.exchange(ctx, verb, args, nil)
	if err != nil {
		return nil, err
	}
	if err := statusToErr(status, text); err != nil {
		return nil, err
	}
	ms := &MailboxStatus{Name: name, ReadWrite: verb == "SELECT"}
	for _, l := range untagged {
		c.parseSelectLine(ms, l)
	}
	if code, _ := ParseResponseCode(text); strings.HasPrefix(strings.ToUpper(code), "READ-WRITE") {
		ms.ReadWrite = true
	} else if strings.HasPrefix(strings.ToUpper(code), "READ-ONLY") {
		ms.ReadWrite = false
	}
	c.Selected = ms
	return ms, nil
}

func (c *Client) parseSelectLine(ms *MailboxStatus, l string) {
	if seq, verb, rest, ok := ParseUntagged(l); ok {
		switch strings.ToUpper(verb) {
		case "EXISTS":
			ms.Exists, _ = strconv.Atoi(seq)
		case "RECENT":
			ms.Recent, _ = strconv.Atoi(seq)
		case "FLAGS":
			fields, _, err := tokenizeParen(strings.TrimSpace(rest))
			if err == nil {
				for _, f := range fields {
					ms.Flags = append(ms.Flags, f.atom)
				}
			}
		}
	}
	if strings.Contains(l, "OK [UIDVALIDITY") {
		if v, ok := extractBracketedUint(l, "UIDVALIDITY"); ok {
			ms.UIDValidity = uint32(v)
		}
	}
	if strings.Contains(l, "OK [UIDNEXT") {
		if v, ok := extractBracketedUint(l, "UIDNEXT"); ok {
			ms.UIDNext = uint32(v)
		}
	}
	if strings.Contains(l, "OK [UNSEEN") {
		if v, ok := extractBracketedUint(l, "UNSEEN"); ok {
			ms.Unseen = uint32(v)
		}
	}
	if strings.Contains(l, "OK [HIGHESTMODSEQ") {
		// A CONDSTORE mod-sequence is a 63-bit value; it must not go
		// through a 32-bit parse or large modseqs read as absent.
		if v, ok := extractBracketedUint(l, "HIGHESTMODSEQ"); ok {
			ms.HighestModSeq = v
		}
	}
	if strings.Contains(l, "OK [PERMANENTFLAGS") {
		if i := strings.Index(l, "("); i >= 0 {
			if fields, _, err := tokenizeParen(l[i:]); err == nil {
				for _, f := range fields {
					ms.PermFlags = append(ms.PermFlags, f.atom)
				}
			}
		}
	}
}

func extractBracketedUint(l, key string) (uint64, bool) {
	i := strings.Index(l, key)
	if i < 0 {
		return 0, false
	}
	rest := l[i+len(key):]
	rest = strings.TrimLeft(rest, " ")
	end := 0
	for end < len(rest) && rest[end] >= '0' && rest[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(rest[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Select opens name for read-write (unless the server forces read-only).
func (c *Client) Select(ctx context.Context, name string) (*MailboxStatus, error) {
	return c.selectOrExamine(ctx, "SELECT", name, false)
}

// Examine opens name strictly read-only (spec's read_only_mode default).
func (c *Client) Examine(ctx context.Context, name string) (*MailboxStatus, error) {
	return c.selectOrExamine(ctx, "EXAMINE", name, false)
}

// SelectCondstore is Select with CONDSTORE requested; fails with
// ErrModSeqUnavailable if the server never advertised the extension.
func (c *Client) SelectCondstore(ctx context.Context, name string) (*MailboxStatus, error) {
	return c.selectOrExamine(ctx, "SELECT", name, true)
}

// Unselect closes the current mailbox without expunging deleted messages
// (distinguishing it from CLOSE), spec_full's supplemental feature.
func (c *Client) Unselect(ctx context.Context) error {
	if !c.Caps.Unselect {
		return fmt.Errorf("UNSELECT: %w", ErrNoCapability)
	}
	if _, err := c.simpleCommand(ctx, "UNSELECT", ""); err != nil {
		return err
	}
	c.Selected = nil
	return nil
}

// Close closes the selected mailbox, expunging \Deleted messages.
func (c *Client) Close(ctx context.Context) error {
	if _, err := c.simpleCommand(ctx, "CLOSE", ""); err != nil {
		return err
	}
	c.Selected = nil
	return nil
}

// Search runs SEARCH (rejecting the FETCH-centric "FETCH" keyword the
// spec forbids, and MODSEQ when CONDSTORE was never negotiated on the
// selected mailbox) and returns matching sequence numbers/UIDs, client
// side sorted/truncated by recentSort and limit.
func (c *Client) Search(ctx context.Context, criteria string, recentSort bool, limit int) ([]int64, error) {
	if c.Selected == nil {
		return nil, ErrNotSelected
	}
	upper := strings.ToUpper(criteria)
	if strings.Contains(upper, "MODSEQ") && c.Selected.HighestModSeq == 0 {
		return nil, ErrModSeqUnavailable
	}
	if strings.Contains(upper, "FETCH") {
		return nil, fmt.Errorf("imap: FETCH is not a valid SEARCH key: %w", ErrCommandForbidden)
	}
	untagged, err := c.simpleCommand(ctx, "SEARCH", criteria)
	if err != nil {
		return nil, err
	}
	var out []int64
	for _, l := range untagged {
		if _, verb, rest, ok := ParseUntagged(l); ok && strings.EqualFold(verb, "SEARCH") {
			out = append(out, ParseSearch(rest, recentSort, limit)...)
		}
	}
	return out, nil
}

// FetchFull fetches FLAGS, ENVELOPE, INTERNALDATE, and RFC822.SIZE for the
// given sequence/UID set (spec §4.E "FULL fetch", the first phase before
// any per-part body download).
func (c *Client) FetchFull(ctx context.Context, set string, byUID bool) ([]*FetchResult, error) {
	if c.Selected == nil {
		return nil, ErrNotSelected
	}
	verb := "FETCH"
	if byUID {
		verb = "UID FETCH"
	}
	untagged, err := c.simpleCommand(ctx, verb, set+" (UID FLAGS ENVELOPE INTERNALDATE RFC822.SIZE)")
	if err != nil {
		return nil, err
	}
	var out []*FetchResult
	for _, l := range untagged {
		fr, err := parseFetchLine(l)
		if err == nil && fr != nil {
			out = append(out, fr)
		}
	}
	return out, nil
}

func parseFetchLine(l string) (*FetchResult, error) {
	seq, verb, rest, ok := ParseUntagged(l)
	if !ok || !strings.EqualFold(verb, "FETCH") {
		return nil, fmt.Errorf("not a FETCH line")
	}
	fields, _, err := tokenizeParen(strings.TrimSpace(rest))
	if err != nil {
		return nil, err
	}
	fr := &FetchResult{}
	fr.SeqNum, _ = strconv.Atoi(seq)
	for i := 0; i+1 < len(fields); i += 2 {
		key := strings.ToUpper(fields[i].atom)
		val := fields[i+1]
		switch key {
		case "UID":
			fr.UID, _ = strconv.ParseInt(val.atom, 10, 64)
		case "FLAGS":
			for _, f := range val.list {
				fr.Flags = append(fr.Flags, f.atom)
			}
		case "ENVELOPE":
			// val is already a parsed list token; re-render minimally by
			// re-parsing its atom form isn't available, so ParseEnvelope
			// is invoked by callers against the raw rest text instead
			// when full envelope fidelity (including parens) is needed.
		case "RFC822.SIZE":
			fr.Size, _ = strconv.ParseInt(val.atom, 10, 64)
		}
	}
	if idx := strings.Index(strings.ToUpper(rest), "ENVELOPE"); idx >= 0 {
		if env, err := ParseEnvelope(rest[idx+len("ENVELOPE"):]); err == nil {
			fr.Envelope = env
		}
	}
	return fr, nil
}

// BodyStructure fetches and parses BODYSTRUCTURE for one message.
func (c *Client) BodyStructure(ctx context.Context, set string, byUID bool) (*mime.PartNode, error) {
	if c.Selected == nil {
		return nil, ErrNotSelected
	}
	verb := "FETCH"
	if byUID {
		verb = "UID FETCH"
	}
	untagged, err := c.simpleCommand(ctx, verb, set+" (BODYSTRUCTURE)")
	if err != nil {
		return nil, err
	}
	for _, l := range untagged {
		if idx := strings.Index(strings.ToUpper(l), "BODYSTRUCTURE"); idx >= 0 {
			return ParseBodyStructure(l[idx+len("BODYSTRUCTURE"):])
		}
	}
	return nil, fmt.Errorf("imap: no BODYSTRUCTURE in response")
}

// FetchPart downloads one BODYSTRUCTURE leaf's body, streaming decoded
// chunks through a mime.FileCtx into w. peek uses BODY.PEEK (no \Seen
// side effect) unless markSeen is true.
func (c *Client) FetchPart(ctx context.Context, set string, byUID bool, part *mime.PartNode, limit int64, optedIn, markSeen bool, w io.Writer) error {
	if c.Selected == nil {
		return ErrNotSelected
	}
	fc := mime.NewFileCtx(part, limit, optedIn)
	if !fc.Fetch {
		return nil
	}
	section := "BODY.PEEK[" + part.Section + "]"
	if markSeen {
		section = "BODY[" + part.Section + "]"
	}
	verb := "FETCH"
	if byUID {
		verb = "UID FETCH"
	}

	tag := c.nextTag()
	if err := c.sendLine(tag + " " + verb + " " + set + " (" + section + ")"); err != nil {
		return err
	}
	for {
		l, err := c.lr.ReadLine(ctx)
		if err != nil {
			return err
		}
		if strings.HasPrefix(l, "* ") {
			body, found := extractFetchBody(l)
			if !found {
				continue // unrelated untagged response interleaved with the FETCH
			}
			if err := c.feedBodyLines(fc, body, w); err != nil {
				return err
			}
			continue
		}
		gotTag, status, text, ok := ParseTagged(l)
		if ok && gotTag == tag {
			if err := statusToErr(status, text); err != nil {
				return err
			}
			chunks, _ := fc.ConsumeLine(nil, true)
			for _, ch := range chunks {
				if len(ch.Data) > 0 {
					w.Write(ch.Data)
				}
			}
			c.log.Debug("imap: fetched part %s, decoded %s", part.Section, mime.FormatSize(fc.DecodedLen()))
			return nil
		}
	}
}

// extractFetchBody pulls the part content out of one logical
// "* n FETCH (BODY[x] ...)" line. The lineReader has already spliced any
// {n} literal into the line, so the content runs from just past the
// "BODY[x] " marker to the closing ')'.
func extractFetchBody(l string) (string, bool) {
	upper := strings.ToUpper(l)
	i := strings.Index(upper, "BODY[")
	if i < 0 {
		return "", false
	}
	rest := l[i:]
	j := strings.Index(rest, "] ")
	if j < 0 {
		return "", false
	}
	body := rest[j+2:]
	body = strings.TrimSuffix(body, ")")
	// A short part may arrive as a quoted string instead of a literal.
	if len(body) >= 2 && body[0] == '"' && body[len(body)-1] == '"' {
		if tok, _, err := tokenizeQuoted(body); err == nil {
			body = tok.atom
		}
	}
	return body, true
}

// feedBodyLines replays the spliced literal content line-by-line through
// the FileCtx decode pipeline, preserving §4.G's streaming contract even
// though the transport handed us the whole literal at once.
func (c *Client) feedBodyLines(fc *mime.FileCtx, body string, w io.Writer) error {
	for len(body) > 0 {
		line := body
		if nl := strings.IndexByte(body, '\n'); nl >= 0 {
			line = body[:nl]
			body = body[nl+1:]
		} else {
			body = ""
		}
		line = strings.TrimSuffix(line, "\r")
		chunks, err := fc.ConsumeLine([]byte(line), false)
		if err != nil {
			return err
		}
		for _, ch := range chunks {
			if len(ch.Data) > 0 {
				if _, err := w.Write(ch.Data); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// Append uploads msg into mailbox via APPEND, streaming mime.Compose's
// output as the command's literal argument.
func (c *Client) Append(ctx context.Context, mailbox string, msg *mime.SMTPMessage, flags []string) error {
	return c.appendOne(ctx, mailbox, msg, flags)
}

func (c *Client) appendOne(ctx context.Context, mailbox string, msg *mime.SMTPMessage, flags []string) error {
	var buf strings.Builder
	if _, err := mime.Compose(&buf, msg, mime.ComposeOptions{}); err != nil {
		return err
	}
	data := buf.String()

	args := quote(mailbox)
	if len(flags) > 0 {
		args += " (" + strings.Join(flags, " ") + ")"
	}
	args += fmt.Sprintf(" {%d}", len(data))

	_, status, text, err := c.exchange(ctx, "APPEND", args, func(string) ([]byte, error) {
		return []byte(data), nil
	})
	if err != nil {
		return err
	}
	return statusToErr(status, text)
}

// MultiAppend uploads several messages to one mailbox in a single APPEND
// command when the server advertises MULTIAPPEND, batching round trips.
func (c *Client) MultiAppend(ctx context.Context, mailbox string, msgs []*mime.SMTPMessage, flags []string) error {
	if !c.Caps.MultiAppend || len(msgs) < 2 {
		for _, m := range msgs {
			if err := c.appendOne(ctx, mailbox, m, flags); err != nil {
				return err
			}
		}
		return nil
	}

	var parts []string
	for _, m := range msgs {
		var buf strings.Builder
		if _, err := mime.Compose(&buf, m, mime.ComposeOptions{}); err != nil {
			return err
		}
		parts = append(parts, buf.String())
	}

	// RFC 3502 MULTIAPPEND interleaves one literal per round trip rather
	// than batching every "{n}" marker onto the initial command line, so
	// this sends the command incrementally instead of going through the
	// single-continuation exchange() helper the other commands use.
	tag := c.nextTag()
	flagSet := ""
	if len(flags) > 0 {
		flagSet = " (" + strings.Join(flags, " ") + ")"
	}

	if err := c.sendLine(fmt.Sprintf("%s APPEND %s%s {%d}", tag, quote(mailbox), flagSet, len(parts[0]))); err != nil {
		return err
	}
	for i, data := range parts {
		cont, err := c.lr.ReadLine(ctx)
		if err != nil {
			return err
		}
		if !strings.HasPrefix(cont, "+") {
			return fmt.Errorf("imap: MULTIAPPEND did not get continuation: %q", cont)
		}
		// The command line resumes immediately after the literal's octets:
		// the next message's flag list and {n} marker follow on the same
		// line, and sendLine's CRLF is what ends it and solicits the next
		// continuation (RFC 3502 §6.3.11's append-message sequence).
		next := data
		if i+1 < len(parts) {
			next += fmt.Sprintf("%s {%d}", flagSet, len(parts[i+1]))
		}
		if err := c.sendLine(next); err != nil {
			return err
		}
	}

	for {
		l, err := c.lr.ReadLine(ctx)
		if err != nil {
			return err
		}
		if gotTag, status, text, ok := ParseTagged(l); ok && gotTag == tag {
			return statusToErr(status, text)
		}
	}
}

// Idle enters IDLE and blocks until either ctx is cancelled or
// maxDuration (clamped to [IdleMinInterval, IdleMaxInterval]) elapses,
// delivering each untagged update line to onUpdate. When maxDuration
// elapses it sends DONE and returns once the tagged completion arrives;
// when ctx is cancelled it sends DONE and returns ctx.Err() at once,
// without waiting for the tagged completion.
func (c *Client) Idle(ctx context.Context, maxDuration time.Duration, onUpdate func(line string)) error {
	if !c.Caps.Idle {
		return ErrIdleNotSupported
	}
	if maxDuration < IdleMinInterval {
		maxDuration = IdleMinInterval
	}
	if maxDuration > IdleMaxInterval {
		maxDuration = IdleMaxInterval
	}

	tag := c.nextTag()
	if err := c.sendLine(tag + " IDLE"); err != nil {
		return err
	}
	cont, err := c.lr.ReadLine(ctx)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(cont, "+") {
		return fmt.Errorf("imap: IDLE did not get continuation: %q", cont)
	}

	// The reader goroutine parses each line itself and exits after
	// delivering the tagged completion or a read error. On the timer path
	// that happens before Idle returns; after ctx is cancelled Idle returns
	// first, and the goroutine exits when its pending read completes or
	// fails.
	timer := time.NewTimer(maxDuration)
	defer timer.Stop()
	lines := make(chan string, 1)
	errs := make(chan error, 1)
	go func() {
		for {
			l, err := c.lr.ReadLine(ctx)
			if err != nil {
				errs <- err
				return
			}
			lines <- l
			if gotTag, _, _, ok := ParseTagged(l); ok && gotTag == tag {
				return
			}
		}
	}()

	doneSent := false
	for {
		select {
		case <-ctx.Done():
			c.sendLine("DONE")
			return ctx.Err()
		case <-timer.C:
			if !doneSent {
				doneSent = true
				if err := c.sendLine("DONE"); err != nil {
					return err
				}
			}
		case err := <-errs:
			return err
		case l := <-lines:
			if gotTag, status, text, ok := ParseTagged(l); ok && gotTag == tag {
				return statusToErr(status, text)
			}
			if onUpdate != nil {
				onUpdate(l)
			}
		}
	}
}

// Enable requests RFC 5161 extensions by name (e.g. "CONDSTORE") and
// returns the subset the server actually enabled.
func (c *Client) Enable(ctx context.Context, names ...string) ([]string, error) {
	if !c.Caps.Enable {
		return nil, fmt.Errorf("ENABLE: %w", ErrNoCapability)
	}
	untagged, err := c.simpleCommand(ctx, "ENABLE", strings.Join(names, " "))
	if err != nil {
		return nil, err
	}
	var enabled []string
	for _, l := range untagged {
		if _, verb, rest, ok := ParseUntagged(l); ok && strings.EqualFold(verb, "ENABLED") {
			enabled = append(enabled, strings.Fields(rest)...)
		}
	}
	return enabled, nil
}

// Create issues CREATE and marks the LIST cache dirty.
func (c *Client) Create(ctx context.Context, name string) error {
	if _, err := c.simpleCommand(ctx, "CREATE", quote(name)); err != nil {
		return err
	}
	c.listDirty = true
	return nil
}

// Delete issues DELETE and marks the LIST cache dirty.
func (c *Client) Delete(ctx context.Context, name string) error {
	if _, err := c.simpleCommand(ctx, "DELETE", quote(name)); err != nil {
		return err
	}
	c.listDirty = true
	return nil
}

// Logout issues LOGOUT, clears the authenticated state, and closes the
// transport.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.simpleCommand(ctx, "LOGOUT", "")
	c.Status.Authenticated = false
	c.Selected = nil
	c.t.Close()
	return err
}

// SendCommand passes verb/args straight through to the server for
// commands the client has no dedicated method for, rejecting the subset
// that would desynchronize client-side state (LOGIN, SELECT, IDLE, ...).
func (c *Client) SendCommand(ctx context.Context, verb, args string) ([]string, error) {
	if forbiddenCommands[strings.ToUpper(verb)] {
		return nil, fmt.Errorf("%s: %w", verb, ErrCommandForbidden)
	}
	return c.simpleCommand(ctx, verb, args)
}
