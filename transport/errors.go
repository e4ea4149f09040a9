package transport

import "errors"

// ErrNotConnected is returned by Write/ReadByte/UpgradeTLS when called
// before a successful Connect.
var ErrNotConnected = errors.New("not connected")
