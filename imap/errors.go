package imap

import "errors"

// Typed errors a caller can compare against with errors.Is, mirroring the
// named NO/BAD response classes an IMAP session can return (spec §7).
var (
	ErrNotConnected     = errors.New("imap: not connected")
	ErrAlreadyConnected = errors.New("imap: already connected")
	ErrBadGreeting      = errors.New("imap: unexpected greeting")
	ErrNoCapability     = errors.New("imap: required capability not advertised")
	ErrAuthFailed       = errors.New("imap: authentication failed")
	ErrNoMechanism      = errors.New("imap: no usable SASL mechanism advertised")
	ErrNotAuthenticated = errors.New("imap: command requires authentication")
	ErrNotSelected      = errors.New("imap: command requires a selected mailbox")
	ErrCommandRejected  = errors.New("imap: server replied NO")
	ErrCommandMalformed = errors.New("imap: server replied BAD")
	ErrCommandForbidden = errors.New("imap: command not permitted through SendCommand")
	ErrUnsolicited      = errors.New("imap: unexpected untagged response")
	ErrModSeqUnavailable = errors.New("imap: CONDSTORE unavailable on this mailbox")
	ErrIdleNotSupported = errors.New("imap: IDLE not advertised")
	ErrMailboxNotExists = errors.New("imap: mailbox not present in the last LIST result")
)

// ResponseError wraps a tagged NO/BAD response with the server's human
// readable text and any bracketed response code (e.g. "[ALERT]").
type ResponseError struct {
	Status string // "NO" or "BAD"
	Code   string // bracketed response code, without brackets
	Text   string
	Err    error // ErrCommandRejected or ErrCommandMalformed
}

func (e *ResponseError) Error() string {
	if e.Code != "" {
		return e.Status + " [" + e.Code + "] " + e.Text
	}
	return e.Status + " " + e.Text
}

func (e *ResponseError) Unwrap() error { return e.Err }

// forbiddenCommands lists verbs SendCommand refuses to pass through
// because the client's own state machine must stay in sync with them
// — spec §4.D's send_command passthrough rule names exactly this set
// ("DONE, LOGOUT, STARTTLS, IDLE, ID, CLOSE, AUTHENTICATE, LOGIN, SELECT,
// EXAMINE, NOOP"), plus APPEND, which this client also drives through its
// own dedicated method.
var forbiddenCommands = map[string]bool{
	"DONE":         true,
	"LOGOUT":       true,
	"STARTTLS":     true,
	"IDLE":         true,
	"ID":           true,
	"CLOSE":        true,
	"AUTHENTICATE": true,
	"LOGIN":        true,
	"SELECT":       true,
	"EXAMINE":      true,
	"NOOP":         true,
	"APPEND":       true,
}
