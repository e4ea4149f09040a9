package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/ashgrovemail/mailkit/codec"
	"github.com/ashgrovemail/mailkit/logx"
	"github.com/ashgrovemail/mailkit/mime"
	"github.com/ashgrovemail/mailkit/transport"
)

// Client drives one SMTP submission session over a transport.Transport,
// the same narrow capability set imap.Client drives (spec §4.B), so both
// protocol state machines share one transport implementation.
type Client struct {
	t   transport.Transport
	lr  *lineReader
	log logx.Logger

	Caps   Capabilities
	Status ServerStatus

	busy bool
}

// NewClient wraps t (already connected, or about to be via Connect).
func NewClient(t transport.Transport, log logx.Logger) *Client {
	if log == nil {
		log = logx.Nop{}
	}
	return &Client{t: t, lr: newLineReader(t), log: log}
}

// Connect dials host:port (unless the transport is already connected, as
// one built with transport.NewFromConn is) and reads the 220 greeting.
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

	code, lines, err := c.readResponse(ctx)
	if err != nil {
		return fmt.Errorf("smtp: read greeting: %w", err)
	}
	if code != 220 {
		return fmt.Errorf("smtp: greeting code %d: %w", code, ErrBadGreeting)
	}
	if len(lines) > 0 {
		c.Status.Greeting = lines[0]
	}
	c.log.Info("smtp: connected to %s:%d (tls=%v)", host, port, useTLS)
	return nil
}

func (c *Client) sendLine(line string) error {
	_, err := c.t.Write([]byte(line + "\r\n"))
	return err
}

func (c *Client) readResponse(ctx context.Context) (code int, lines []string, err error) {
	for {
		raw, err := c.lr.ReadLine(ctx)
		if err != nil {
			return 0, nil, err
		}
		gotCode, cont, text, ok := ParseResponseLine(raw)
		if !ok {
			return 0, nil, fmt.Errorf("%w: %q", ErrResponseFormat, raw)
		}
		code = gotCode
		lines = append(lines, text)
		if !cont {
			return code, lines, nil
		}
	}
}

// exchange sends line, then reads responses, invoking cont for every 334
// intermediate challenge until a non-334 (final) response arrives.
func (c *Client) exchange(ctx context.Context, line string, cont func(challenge string) ([]byte, error)) (code int, lines []string, err error) {
	if err := c.sendLine(line); err != nil {
		return 0, nil, err
	}
	for {
		code, lines, err = c.readResponse(ctx)
		if err != nil {
			return 0, nil, err
		}
		if code == 334 && cont != nil {
			challenge := ""
			if len(lines) > 0 {
				challenge = lines[len(lines)-1]
			}
			resp, err := cont(challenge)
			if err != nil {
				return 0, nil, err
			}
			if err := c.sendLine(string(resp)); err != nil {
				return 0, nil, err
			}
			continue
		}
		return code, lines, nil
	}
}

func statusErr(code int, lines []string) error {
	if code >= 200 && code < 400 {
		return nil
	}
	return &ResponseError{Code: code, Text: strings.Join(lines, "; ")}
}

// Greet issues EHLO domain, recording the negotiated capabilities; if the
// server rejects EHLO it falls back to HELO, which captures no ESMTP
// features (spec §4.E "falling back to HELO ... to capture ESMTP
// features" — HELO's fallback path simply has none to capture).
func (c *Client) Greet(ctx context.Context, domain string) error {
	code, lines, err := c.exchange(ctx, "EHLO "+domain, nil)
	if err != nil {
		return err
	}
	if code/100 == 2 {
		c.Caps = Capabilities{ESMTP: true}
		ParseCapabilityLines(&c.Caps, lines)
		if len(lines) > 0 {
			c.Status.ServerName = firstToken(lines[0])
		}
		return nil
	}

	code, lines, err = c.exchange(ctx, "HELO "+domain, nil)
	if err != nil {
		return err
	}
	if code/100 != 2 {
		return fmt.Errorf("smtp: HELO: %w", &ResponseError{Code: code, Text: strings.Join(lines, "; ")})
	}
	c.Caps = Capabilities{}
	if len(lines) > 0 {
		c.Status.ServerName = firstToken(lines[0])
	}
	return nil
}

// StartTLS issues STARTTLS, upgrades the transport, and re-issues EHLO
// (RFC 3207: capabilities advertised before TLS must not be trusted).
func (c *Client) StartTLS(ctx context.Context, domain string, tlsConfig *tls.Config) error {
	if !c.Caps.StartTLS {
		return fmt.Errorf("STARTTLS: %w", ErrNoCapability)
	}
	code, lines, err := c.exchange(ctx, "STARTTLS", nil)
	if err != nil {
		return err
	}
	if code/100 != 2 {
		return fmt.Errorf("smtp: STARTTLS: %w", &ResponseError{Code: code, Text: strings.Join(lines, "; ")})
	}
	if err := c.t.UpgradeTLS(ctx, tlsConfig); err != nil {
		return err
	}
	return c.Greet(ctx, domain)
}

// Authenticate picks XOAUTH2 > PLAIN > LOGIN > CRAM-MD5 > DIGEST-MD5 by
// advertised capability and the caller's available credentials, the same
// priority imap.Client.Authenticate uses (spec §4.E "then SASL with the
// same XOAUTH2 -> PLAIN -> LOGIN priority").
func (c *Client) Authenticate(ctx context.Context, user, pass, token string) error {
	switch {
	case token != "" && c.Caps.HasAuth("XOAUTH2"):
		return c.authXOAuth2(ctx, user, token)
	case c.Caps.HasAuth("PLAIN"):
		return c.authPlain(ctx, user, pass)
	case c.Caps.HasAuth("LOGIN"):
		return c.authLogin(ctx, user, pass)
	case c.Caps.HasAuth("CRAM-MD5"):
		return c.authCRAMMD5(ctx, user, pass)
	case c.Caps.HasAuth("DIGEST-MD5"):
		return c.authDigestMD5(ctx, user, pass)
	default:
		return ErrNoMechanism
	}
}

func (c *Client) authResult(code int, lines []string, err error) error {
	if err != nil {
		return err
	}
	if code/100 == 2 {
		return nil
	}
	return fmt.Errorf("%w: %d %s", ErrAuthFailed, code, strings.Join(lines, "; "))
}

func (c *Client) authPlain(ctx context.Context, user, pass string) error {
	resp := codec.SASLPlain(user, pass)
	code, lines, err := c.exchange(ctx, "AUTH PLAIN "+resp, nil)
	return c.authResult(code, lines, err)
}

// authXOAuth2 sends the inline XOAUTH2 response. On failure, RFC 6750
// puts a base64 JSON error blob in the 334 continuation; the server
// still expects an empty line in response before it will fail the
// command with a final status, which is what the ack-only cont does.
func (c *Client) authXOAuth2(ctx context.Context, user, token string) error {
	resp := codec.SASLXOAuth2(user, token)
	var errDetail string
	code, lines, err := c.exchange(ctx, "AUTH XOAUTH2 "+resp, func(challenge string) ([]byte, error) {
		errDetail = challenge
		return []byte(""), nil
	})
	if errDetail != "" {
		c.Status.LastError = decodeXOAuth2Error(errDetail)
	}
	return c.authResult(code, lines, err)
}

func decodeXOAuth2Error(challengeB64 string) *OAuthErrorDetail {
	raw := string(codec.Base64Decode(challengeB64))
	detail := &OAuthErrorDetail{}
	if i := strings.Index(raw, `"status":"`); i >= 0 {
		rest := raw[i+len(`"status":"`):]
		if end := strings.IndexByte(rest, '"'); end >= 0 {
			detail.Status = rest[:end]
		}
	}
	if i := strings.Index(raw, `"scope":"`); i >= 0 {
		rest := raw[i+len(`"scope":"`):]
		if end := strings.IndexByte(rest, '"'); end >= 0 {
			detail.Scope = rest[:end]
		}
	}
	return detail
}

func (c *Client) authLogin(ctx context.Context, user, pass string) error {
	step := 0
	code, lines, err := c.exchange(ctx, "AUTH LOGIN", func(string) ([]byte, error) {
		step++
		if step == 1 {
			return []byte(codec.Base64Encode([]byte(user))), nil
		}
		return []byte(codec.Base64Encode([]byte(pass))), nil
	})
	return c.authResult(code, lines, err)
}

func (c *Client) authCRAMMD5(ctx context.Context, user, pass string) error {
	code, lines, err := c.exchange(ctx, "AUTH CRAM-MD5", func(challenge string) ([]byte, error) {
		return []byte(codec.CRAMMD5Response(challenge, user, pass)), nil
	})
	return c.authResult(code, lines, err)
}

// authDigestMD5 performs the two-round RFC 2831 exchange: the server's
// first 334 challenge carries realm/nonce/qop directives, which feed
// codec.DigestMD5Response; the second 334 is the server's empty
// "rspauth=" acknowledgement, which this client accepts with an empty
// reply (it does not verify rspauth itself, matching ReadyMail's
// capability-only DIGEST-MD5 support being extended here to a real,
// if unverified-server-side, handshake).
func (c *Client) authDigestMD5(ctx context.Context, user, pass string) error {
	round := 0
	code, lines, err := c.exchange(ctx, "AUTH DIGEST-MD5", func(challenge string) ([]byte, error) {
		round++
		if round == 1 {
			directives := parseDigestChallenge(string(codec.Base64Decode(challenge)))
			realm := directives["realm"]
			nonce := directives["nonce"]
			qop := directives["qop"]
			if qop == "" {
				qop = "auth"
			}
			digestURI := "smtp/" + c.Status.ServerName
			resp := codec.DigestMD5Response(user, pass, realm, nonce, "mailkitCNonce1", "00000001", qop, digestURI)
			return []byte(resp), nil
		}
		return []byte(""), nil
	})
	return c.authResult(code, lines, err)
}

// envelopeRecipients flattens msg's To/Cc/Bcc into the deterministic
// RCPT TO order spec §4.E requires, applying defaultNotify to every
// recipient when the server advertised DSN.
func (c *Client) envelopeRecipients(msg *mime.SMTPMessage, defaultNotify []string) []Recipient {
	var notify []string
	if c.Caps.DSN {
		notify = defaultNotify
	}
	var out []Recipient
	for _, a := range msg.To {
		out = append(out, Recipient{Address: bareAddress(a), Kind: RecipientTo, Notify: notify})
	}
	for _, a := range msg.Cc {
		out = append(out, Recipient{Address: bareAddress(a), Kind: RecipientCc, Notify: notify})
	}
	for _, a := range msg.Bcc {
		out = append(out, Recipient{Address: bareAddress(a), Kind: RecipientBcc, Notify: notify})
	}
	return out
}

// strongestEncoding scans every body part and attachment and returns the
// strongest transfer encoding any of them requires. Spec's open question
// on BODY= selection: the composer must choose the strongest encoding
// any part needs, not the first one encountered, so this ranks binary >
// 8bit > everything else rather than short-circuiting on the first part.
func strongestEncoding(msg *mime.SMTPMessage) mime.TransferEncoding {
	rank := func(e mime.TransferEncoding) int {
		switch e {
		case mime.EncBinary:
			return 2
		case mime.Enc8Bit:
			return 1
		default:
			return 0
		}
	}
	strongest := mime.Enc7Bit
	consider := func(e mime.TransferEncoding) {
		if rank(e) > rank(strongest) {
			strongest = e
		}
	}
	consider(msg.Text.TransferEncoding)
	consider(msg.HTML.TransferEncoding)
	for _, a := range msg.Attachments {
		consider(a.TransferEncoding)
	}
	return strongest
}

// bodyParam renders the MAIL FROM BODY= parameter the strongest required
// encoding calls for, degrading to 8BITMIME when BINARYMIME content is
// present but the server only advertised 8BITMIME (never the reverse:
// this never claims BINARYMIME just because it's advertised and 8bit
// content alone would do).
func bodyParam(caps Capabilities, enc mime.TransferEncoding) string {
	switch enc {
	case mime.EncBinary:
		if caps.BinaryMIME {
			return " BODY=BINARYMIME"
		}
		if caps.EightBitMIME {
			return " BODY=8BITMIME"
		}
	case mime.Enc8Bit:
		if caps.EightBitMIME {
			return " BODY=8BITMIME"
		}
	}
	return ""
}

func (c *Client) mailFrom(ctx context.Context, sender string, msg *mime.SMTPMessage) error {
	args := "FROM:<" + sender + ">" + bodyParam(c.Caps, strongestEncoding(msg))
	if c.Caps.SMTPUTF8 && !isASCII(sender) {
		args += " SMTPUTF8"
	}
	code, lines, err := c.exchange(ctx, "MAIL "+args, nil)
	if err != nil {
		return err
	}
	if code/100 != 2 {
		return fmt.Errorf("%w: %s", ErrInvalidSender, strings.Join(lines, "; "))
	}
	return nil
}

func (c *Client) rcptTo(ctx context.Context, r Recipient) error {
	args := "TO:<" + r.Address + ">"
	if len(r.Notify) > 0 {
		args += " NOTIFY=" + strings.Join(r.Notify, ",")
	}
	code, lines, err := c.exchange(ctx, "RCPT "+args, nil)
	if err != nil {
		return err
	}
	if code/100 != 2 {
		return fmt.Errorf("%w: %s: %s", ErrInvalidRecipient, r.Address, strings.Join(lines, "; "))
	}
	return nil
}

// Send runs the full submission pipeline: MAIL FROM, one RCPT TO per
// envelope recipient (To, then Cc, then Bcc; Bcc is never rendered as a
// header by mime.Compose), then DATA or BDAT, per spec §4.E/§8 property
// 9. It does not itself Connect/Greet/Authenticate — call those first.
func (c *Client) Send(ctx context.Context, msg *mime.SMTPMessage, opts SendOptions) error {
	if msg == nil {
		return ErrMessageUninitialized
	}
	if c.busy {
		return ErrBusy
	}
	c.busy = true
	defer func() { c.busy = false }()

	sender := bareAddress(msg.From)
	if sender == "" {
		return ErrInvalidSender
	}
	recipients := c.envelopeRecipients(msg, opts.DSNNotify)
	if len(recipients) == 0 {
		return ErrInvalidRecipient
	}

	if err := c.mailFrom(ctx, sender, msg); err != nil {
		return err
	}
	for _, r := range recipients {
		if err := c.rcptTo(ctx, r); err != nil {
			return err
		}
	}

	var err error
	if opts.UseBDAT && c.Caps.Chunking {
		err = c.dataBDAT(ctx, msg, opts)
	} else {
		err = c.dataStream(ctx, msg, opts)
	}
	if err != nil {
		return err
	}

	if opts.QuitAfter {
		return c.Quit(ctx)
	}
	return nil
}

// dotStuffWriter escapes a leading '.' on any line per RFC 5321 §4.5.2,
// so the literal body never contains a line the server would mistake for
// the "\r\n.\r\n" terminator.
type dotStuffWriter struct {
	w           io.Writer
	atLineStart bool
}

func newDotStuffWriter(w io.Writer) *dotStuffWriter {
	return &dotStuffWriter{w: w, atLineStart: true}
}

func (d *dotStuffWriter) Write(p []byte) (int, error) {
	written := 0
	for _, b := range p {
		if d.atLineStart && b == '.' {
			if _, err := d.w.Write([]byte{'.'}); err != nil {
				return written, err
			}
		}
		if _, err := d.w.Write([]byte{b}); err != nil {
			return written, err
		}
		written++
		d.atLineStart = b == '\n'
	}
	return written, nil
}

// transportWriter adapts transport.Transport to io.Writer for
// mime.Compose's streaming output.
type transportWriter struct{ t transport.Transport }

func (w transportWriter) Write(p []byte) (int, error) { return w.t.Write(p) }

func (c *Client) dataStream(ctx context.Context, msg *mime.SMTPMessage, opts SendOptions) error {
	code, lines, err := c.exchange(ctx, "DATA", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendDataFailed, err)
	}
	if code != 354 {
		return fmt.Errorf("%w: %s", ErrSendDataFailed, strings.Join(lines, "; "))
	}

	dw := newDotStuffWriter(transportWriter{c.t})
	if _, err := mime.Compose(dw, msg, mime.ComposeOptions{Domain: opts.Domain, Progress: opts.Progress, Logger: c.log}); err != nil {
		return fmt.Errorf("%w: %v", ErrSendBodyFailed, err)
	}
	if err := c.sendLine("\r\n."); err != nil {
		return fmt.Errorf("%w: %v", ErrSendBodyFailed, err)
	}

	code, lines, err = c.readResponse(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendBodyFailed, err)
	}
	if code/100 != 2 {
		return fmt.Errorf("%w: %s", ErrEmailSendFailed, strings.Join(lines, "; "))
	}
	return nil
}

// dataBDAT streams msg via RFC 3030 BDAT chunks instead of DATA, reading
// one response per chunk (ordering guarantee: every transport write is a
// suspension point, spec §5). BDAT content is not dot-stuffed — it is a
// raw octet count, not a dot-terminated stream.
func (c *Client) dataBDAT(ctx context.Context, msg *mime.SMTPMessage, opts SendOptions) error {
	var buf strings.Builder
	if _, err := mime.Compose(&buf, msg, mime.ComposeOptions{Domain: opts.Domain, Progress: opts.Progress, Logger: c.log}); err != nil {
		return fmt.Errorf("%w: %v", ErrSendBodyFailed, err)
	}
	data := buf.String()

	for i := 0; i < len(data) || i == 0; i += BDATChunkSize {
		end := i + BDATChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunk := data[i:end]
		last := end >= len(data)

		cmd := "BDAT " + strconv.Itoa(len(chunk))
		if last {
			cmd += " LAST"
		}
		if err := c.sendLine(cmd); err != nil {
			return fmt.Errorf("%w: %v", ErrSendDataFailed, err)
		}
		if len(chunk) > 0 {
			if _, err := c.t.Write([]byte(chunk)); err != nil {
				return fmt.Errorf("%w: %v", ErrSendBodyFailed, err)
			}
		}
		code, lines, err := c.readResponse(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrSendDataFailed, err)
		}
		if code/100 != 2 {
			return fmt.Errorf("%w: %s", ErrEmailSendFailed, strings.Join(lines, "; "))
		}
		if last {
			break
		}
	}
	return nil
}

// Reset issues RSET, aborting the current mail transaction without
// closing the connection.
func (c *Client) Reset(ctx context.Context) error {
	code, lines, err := c.exchange(ctx, "RSET", nil)
	if err != nil {
		return err
	}
	return statusErr(code, lines)
}

// Quit issues QUIT and closes the transport.
func (c *Client) Quit(ctx context.Context) error {
	_, _, err := c.exchange(ctx, "QUIT", nil)
	c.t.Close()
	return err
}

// SendCommand passes verb/args straight through for commands the client
// has no dedicated method for, rejecting the subset that would
// desynchronize client-side state (spec §4.D's passthrough rule,
// generalized to SMTP's own command set).
func (c *Client) SendCommand(ctx context.Context, verb, args string) (code int, lines []string, err error) {
	if forbiddenCommands[strings.ToUpper(verb)] {
		return 0, nil, fmt.Errorf("%s: %w", verb, ErrCommandForbidden)
	}
	line := verb
	if args != "" {
		line += " " + args
	}
	return c.exchange(ctx, line, nil)
}
