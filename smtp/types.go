// Package smtp implements the SMTP submission (RFC 5321/5321bis) client
// state machine: connect, negotiate ESMTP features with EHLO (falling
// back to HELO), optionally upgrade to TLS, authenticate, then
// MAIL FROM / RCPT TO* / DATA (or BDAT) / termination / QUIT, per spec
// §4.E. Like imap, it drives a transport.Transport and never touches a
// live socket directly, which is what makes it unit-testable against a
// net.Pipe fake. The state machine itself generalizes the teacher's
// lmtp.LMTPClient (lmtp/client.go) — a single fixed-shape SendMail call
// over a raw net.Conn — into the full negotiated, capability-aware
// machine spec §4.E needs; LHLO/per-recipient DATA replies become
// EHLO/HELO and a single aggregate DATA reply, the two protocols'
// structural difference (RFC 2033 §3 vs RFC 5321 §3.3).
package smtp

import "time"

// Capabilities is the boolean feature vector EHLO populates, spec §3's
// two fixed-size SMTP vectors (auth mechanisms, send extensions).
type Capabilities struct {
	ESMTP    bool // true once a 2xx EHLO response was seen; false after a HELO fallback
	StartTLS bool

	AuthPlain     bool
	AuthXOAuth2   bool
	AuthCRAMMD5   bool
	AuthDigestMD5 bool
	AuthLogin     bool

	BinaryMIME   bool
	EightBitMIME bool
	Chunking     bool
	SMTPUTF8     bool
	Pipelining   bool
	DSN          bool
	Size         int64 // 0 when the server didn't advertise SIZE
}

// HasAuth reports whether mechanism name was advertised.
func (c Capabilities) HasAuth(name string) bool {
	switch name {
	case "XOAUTH2":
		return c.AuthXOAuth2
	case "PLAIN":
		return c.AuthPlain
	case "LOGIN":
		return c.AuthLogin
	case "CRAM-MD5":
		return c.AuthCRAMMD5
	case "DIGEST-MD5":
		return c.AuthDigestMD5
	default:
		return false
	}
}

// RecipientKind orders envelope recipients: all To first, then Cc, then
// Bcc (spec §4.E "Sender/recipient order is deterministic").
type RecipientKind int

const (
	RecipientTo RecipientKind = iota
	RecipientCc
	RecipientBcc
)

// Recipient is one RCPT TO target plus its optional DSN NOTIFY parameter
// (sent only when the server advertised DSN and the caller requested it).
type Recipient struct {
	Address string
	Kind    RecipientKind
	Notify  []string // e.g. {"SUCCESS", "FAILURE"}; empty omits NOTIFY=
}

// OAuthErrorDetail is the decoded XOAUTH2 continuation error payload
// (RFC 6750's base64 JSON error blob), mirroring imap.OAuthErrorDetail.
type OAuthErrorDetail struct {
	Status string
	Scope  string
}

// ServerStatus accumulates session-wide state not tied to one command.
type ServerStatus struct {
	Greeting   string
	ServerName string // the domain token on EHLO/HELO's first response line
	LastError  *OAuthErrorDetail
}

// SendOptions configures one Send call.
type SendOptions struct {
	Domain    string   // Message-ID domain (EHLO/HELO uses Greet's own domain argument)
	UseBDAT   bool     // stream via BDAT/CHUNKING instead of DATA, if advertised
	DSNNotify []string // NOTIFY= flags applied to every recipient when DSN is advertised
	QuitAfter bool     // send QUIT after a successful submission
	Progress  func(percent int)
}

// BDATChunkSize bounds how many octets each BDAT command carries. The
// whole message is composed into memory before the first chunk is sent.
const BDATChunkSize = 64 * 1024

// authTimeout bounds how long an AUTH exchange's continuation round trip
// may take before the caller's context should have already cancelled it;
// kept here only as documentation of the assumption transport's own read
// timeout enforces.
const authTimeout = 30 * time.Second
