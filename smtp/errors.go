package smtp

import (
	"errors"
	"fmt"
)

// Typed errors a caller can compare against with errors.Is, mirroring
// spec §7's named SMTP error kinds.
var (
	ErrNotConnected         = errors.New("smtp: not connected")
	ErrBadGreeting          = errors.New("smtp: unexpected greeting")
	ErrNoCapability         = errors.New("smtp: required capability not advertised")
	ErrAuthFailed           = errors.New("smtp: authentication failed")
	ErrNoMechanism          = errors.New("smtp: no usable SASL mechanism advertised")
	ErrInvalidSender        = errors.New("smtp: invalid sender")
	ErrInvalidRecipient     = errors.New("smtp: invalid recipient")
	ErrSendHeaderFailed     = errors.New("smtp: send header failed")
	ErrSendBodyFailed       = errors.New("smtp: send body failed")
	ErrSendDataFailed       = errors.New("smtp: send data failed")
	ErrBusy                 = errors.New("smtp: session busy with another command")
	ErrMessageUninitialized = errors.New("smtp: message uninitialized")
	ErrEmailSendFailed      = errors.New("smtp: email send failed")
	ErrCommandForbidden     = errors.New("smtp: command not permitted through SendCommand")
	ErrResponseFormat       = errors.New("smtp: malformed response line")
)

// ResponseError wraps a numeric SMTP status line (spec §7: "the full
// 4xx/5xx numeric space as response_error with the server text carried
// verbatim").
type ResponseError struct {
	Code int
	Text string
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("%d %s", e.Code, e.Text)
}

// Temporary reports a 4xx transient negative completion.
func (e *ResponseError) Temporary() bool { return e.Code >= 400 && e.Code < 500 }

// Permanent reports a 5xx permanent negative completion.
func (e *ResponseError) Permanent() bool { return e.Code >= 500 }

// forbiddenCommands lists verbs SendCommand refuses to pass through
// because the client's own state machine must stay in sync with them,
// mirroring imap.forbiddenCommands.
var forbiddenCommands = map[string]bool{
	"EHLO":     true,
	"HELO":     true,
	"STARTTLS": true,
	"AUTH":     true,
	"MAIL":     true,
	"RCPT":     true,
	"DATA":     true,
	"BDAT":     true,
	"QUIT":     true,
}
