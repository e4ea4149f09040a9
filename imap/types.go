// Package imap implements the IMAP4rev1 client state machine: connect,
// authenticate, select a mailbox, search, fetch bodies, append, and idle.
// It drives a transport.Transport and never touches a live socket
// directly, matching the teacher's Session/IMAPServer split between
// wire I/O and protocol logic (imap_core/types.go).
package imap

import (
	"strings"
	"time"
)

// Capabilities is the boolean feature vector CAPABILITY populates,
// generalizing imap_core.Session.capabilities from a raw string slice
// into the typed flags the client actually branches on.
type Capabilities struct {
	IMAP4        bool
	IMAP4rev1    bool
	StartTLS     bool
	LoginDisabled bool

	AuthPlain    bool
	AuthXOAuth2  bool
	AuthCRAMMD5  bool
	AuthDigestMD5 bool
	SASLIR       bool

	Idle         bool
	LiteralPlus  bool
	LiteralMinus bool
	MultiAppend  bool
	UIDPlus      bool
	ACL          bool
	Binary       bool
	Move         bool
	Quota        bool
	Namespace    bool
	Enable       bool
	ID           bool
	Unselect     bool
	Children     bool
	Condstore    bool
}

// HasAuth reports whether mechanism name was advertised.
func (c Capabilities) HasAuth(name string) bool {
	switch name {
	case "XOAUTH2":
		return c.AuthXOAuth2
	case "PLAIN":
		return c.AuthPlain
	case "CRAM-MD5":
		return c.AuthCRAMMD5
	case "DIGEST-MD5":
		return c.AuthDigestMD5
	default:
		return false
	}
}

// Address is one parsed ENVELOPE address tuple (name, adl, mailbox, host).
type Address struct {
	Name    string
	Mailbox string
	Host    string
}

// String renders the address as "local@host" ("" host is omitted).
func (a Address) String() string {
	if a.Host == "" {
		return a.Mailbox
	}
	return a.Mailbox + "@" + a.Host
}

// Display renders the address with its display name, "Name <local@host>",
// falling back to the bare address when no name was given.
func (a Address) Display() string {
	if a.Name == "" {
		return a.String()
	}
	return a.Name + " <" + a.String() + ">"
}

// FormatAddressList joins a parsed address list the way a header renders
// it: display forms separated by ", ", NIL entries already dropped by the
// parser.
func FormatAddressList(addrs []Address) string {
	parts := make([]string, 0, len(addrs))
	for _, a := range addrs {
		parts = append(parts, a.Display())
	}
	return strings.Join(parts, ", ")
}

// Envelope is the parsed FETCH ENVELOPE response, spec §4.C.
type Envelope struct {
	Date      time.Time
	Subject   string
	From      []Address
	Sender    []Address
	ReplyTo   []Address
	To        []Address
	Cc        []Address
	Bcc       []Address
	InReplyTo string
	MessageID string
}

// MailboxInfo is one LIST/LSUB response line, spec §4.C.
type MailboxInfo struct {
	Name       string
	Delimiter  string
	Attributes []string
}

// HasAttr reports whether attr (e.g. "\\Noselect") is present.
func (m MailboxInfo) HasAttr(attr string) bool {
	for _, a := range m.Attributes {
		if a == attr {
			return true
		}
	}
	return false
}

// MailboxStatus is the parsed SELECT/EXAMINE response, spec §4.D.
type MailboxStatus struct {
	Name        string
	ReadWrite   bool
	Exists      int
	Recent      int
	UIDValidity uint32
	UIDNext     uint32
	Unseen      uint32 // sequence number of the first unseen message, 0 if none reported
	Flags       []string
	PermFlags   []string
	HighestModSeq uint64 // 0 when CONDSTORE/no_modseq is unavailable
}

// FetchResult is one untagged FETCH response for a single message, spec §4.E.
type FetchResult struct {
	SeqNum       int
	UID          int64
	Flags        []string
	Envelope     *Envelope
	InternalDate time.Time
	Size         int64
}

// OAuthErrorDetail is the decoded XOAUTH2 continuation error payload, spec
// _full's supplemental feature grounded on ReadyMail's smtp_state_auth_xoauth2
// status check.
type OAuthErrorDetail struct {
	Status string
	Scope  string
}

// ServerStatus accumulates session-wide state not tied to one command:
// whether authentication has completed, the server's ID reply, and the
// last SASL error detail.
type ServerStatus struct {
	Authenticated bool
	ServerID      map[string]string
	LastError     *OAuthErrorDetail
}
