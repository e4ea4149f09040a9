// Package mime implements the streaming MIME composer and decomposer
// spec §4.F/§4.G describe: the outgoing multipart tree builder consumed
// by smtp.Client's DATA/BDAT phase and imap.Client's APPEND, and the
// inbound BODYSTRUCTURE-driven body decoder consumed by imap.Client's
// FETCH.
package mime

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ashgrovemail/mailkit/codec"
)

// SourceKind identifies where a body part's or attachment's bytes come
// from (spec §3, "content_source").
type SourceKind int

const (
	SourceString SourceKind = iota
	SourceBytes
	SourceFile
)

// Source is the external filesystem/content collaborator a body part or
// attachment reads from. It is intentionally narrow — spec §1 keeps the
// filesystem abstraction out of the CORE's scope, so mailkit only ever
// calls OpenRead, never touches a path directly.
type Source struct {
	Kind SourceKind

	// SourceString / SourceBytes
	Text  string
	Bytes []byte

	// SourceFile
	Path string
	FS   FileSystem
}

// Len reports the byte length of the source content when known without
// opening it (SourceFile returns -1; callers must read to find the size,
// matching spec's `fileSize` being populated as data streams).
func (s Source) Len() int64 {
	switch s.Kind {
	case SourceString:
		return int64(len(s.Text))
	case SourceBytes:
		return int64(len(s.Bytes))
	default:
		return -1
	}
}

// Open returns a reader over the source's bytes.
func (s Source) Open() (ReadCloser, error) {
	switch s.Kind {
	case SourceString:
		return newByteReader([]byte(s.Text)), nil
	case SourceBytes:
		return newByteReader(s.Bytes), nil
	case SourceFile:
		if s.FS == nil {
			return nil, fmt.Errorf("mime: source file %q: %w", s.Path, ErrNoFileSystem)
		}
		return s.FS.OpenRead(s.Path)
	default:
		return nil, fmt.Errorf("mime: unknown source kind %d", s.Kind)
	}
}

// AttachmentType mirrors spec §3's `type ∈ {attachment, inline, parallel}`.
type AttachmentType int

const (
	TypeAttachment AttachmentType = iota
	TypeInline
	TypeParallel
)

// Attachment is one entry of SMTPMessage.Attachments (spec §3).
type Attachment struct {
	Name               string
	Filename           string
	MIME               string
	TransferEncoding   TransferEncoding
	ContentID          string
	Source             Source
	Type               AttachmentType
}

// TransferEncoding enumerates the RFC 2045 content-transfer-encodings
// spec §3's file_ctx carries.
type TransferEncoding int

const (
	Enc7Bit TransferEncoding = iota
	Enc8Bit
	EncBinary
	EncBase64
	EncQuotedPrintable
	EncUndefined
)

func (e TransferEncoding) String() string {
	switch e {
	case Enc7Bit:
		return "7bit"
	case Enc8Bit:
		return "8bit"
	case EncBinary:
		return "binary"
	case EncBase64:
		return "base64"
	case EncQuotedPrintable:
		return "quoted-printable"
	default:
		return "7bit"
	}
}

// BodyPart is one of SMTPMessage's two body alternatives (text or html),
// spec §3.
type BodyPart struct {
	Source           Source
	ContentType      string // "text/plain" or "text/html"
	Charset          string
	TransferEncoding TransferEncoding
	Flowed           bool

	EmbedEnabled     bool
	EmbedFilename    string
	EmbedDisposition string
}

// empty reports whether no content was ever set for this body part (the
// zero value). A SourceFile or SourceBytes part, even an empty file, is
// never considered "absent" — only an unset SourceString is.
func (b BodyPart) empty() bool {
	return b.Source.Kind == SourceString && b.Source.Text == ""
}

// Header is one root header, spec §3's "{name, value, typed_tag}". Typed
// headers (Date, Message-ID, ...) get RFC 5322 formatting; everything
// else is passed through as a raw name/value pair.
type Header struct {
	Name  string
	Value string
}

// SMTPMessage is the composed-message tree spec §3 defines. The same
// type is reused by imap.Client.Append in "accumulate" mode (spec
// §4.D APPEND).
type SMTPMessage struct {
	Headers []Header

	Text BodyPart
	HTML BodyPart

	Attachments []Attachment
	RFC822      []*SMTPMessage

	// Envelope addresses. Compose also renders From, Sender, To and Cc as
	// headers when the caller set none (ensureAddressHeaders); Bcc is
	// never rendered.
	To, Cc, Bcc []string
	From, Sender string

	now func() time.Time // injected clock, spec's platform-clock collaborator
}

// SetClock injects the platform clock collaborator (spec §1) used to
// stamp a missing Date header. Defaults to time.Now if never called.
func (m *SMTPMessage) SetClock(now func() time.Time) { m.now = now }

func (m *SMTPMessage) clock() time.Time {
	if m.now != nil {
		return m.now()
	}
	return time.Now()
}

// AddHeader appends a raw RFC 5322 header, RFC 2047 encoding the value if
// it contains non-ASCII.
func (m *SMTPMessage) AddHeader(name, value string) {
	m.Headers = append(m.Headers, Header{Name: name, Value: codec.RFC2047EncodeUTF8(value)})
}

// HasHeader reports whether a header with the given name (case
// insensitive) was already set.
func (m *SMTPMessage) HasHeader(name string) bool {
	for _, h := range m.Headers {
		if strings.EqualFold(h.Name, name) {
			return true
		}
	}
	return false
}

// EnsureDateAndMessageID fills in Date and Message-ID when the caller
// didn't set them: Date from the injected clock formatted per RFC 5322
// (spec §4.F), Message-ID from a generated UUID @ domain (spec's
// supplemental feature grounded in the rest of the retrieval pack's
// common use of google/uuid for unique identifiers).
func (m *SMTPMessage) EnsureDateAndMessageID(domain string) {
	if !m.HasHeader("Date") {
		m.AddHeader("Date", m.clock().Format("Mon, 02 Jan 2006 15:04:05 -0700"))
	}
	if !m.HasHeader("Message-ID") {
		if domain == "" {
			domain = "mailkit.invalid"
		}
		m.AddHeader("Message-ID", fmt.Sprintf("<%s@%s>", uuid.NewString(), domain))
	}
}

// ensureAddressHeaders renders the envelope's address fields as RFC 5322
// headers when the caller didn't set them explicitly. Bcc is envelope
// only and never rendered (spec §4.E).
func (m *SMTPMessage) ensureAddressHeaders() {
	if m.From != "" && !m.HasHeader("From") {
		m.AddHeader("From", m.From)
	}
	if m.Sender != "" && !m.HasHeader("Sender") {
		m.AddHeader("Sender", m.Sender)
	}
	if len(m.To) > 0 && !m.HasHeader("To") {
		m.AddHeader("To", strings.Join(m.To, ", "))
	}
	if len(m.Cc) > 0 && !m.HasHeader("Cc") {
		m.AddHeader("Cc", strings.Join(m.Cc, ", "))
	}
}

// hasInline reports whether any attachment is still typed TypeInline.
func (m *SMTPMessage) hasInline() bool {
	for _, a := range m.Attachments {
		if a.Type == TypeInline {
			return true
		}
	}
	return false
}

// ResolveInlineDowngrade reclassifies inline attachments as ordinary
// attachments when there is no HTML body, or the HTML source has no
// cid: reference to them — spec §4.F's downgrade rule. htmlSource is the
// fully-read HTML body text (the composer's single preliminary scan
// spec §4.A mentions).
func (m *SMTPMessage) ResolveInlineDowngrade(htmlSource string) {
	hasHTML := !m.HTML.empty() || (m.HTML.Source.Kind == SourceFile)
	for i := range m.Attachments {
		if m.Attachments[i].Type != TypeInline {
			continue
		}
		referenced := hasHTML && referencesCID(htmlSource, m.Attachments[i].ContentID)
		if !referenced {
			m.Attachments[i].Type = TypeAttachment
		}
	}
}

func referencesCID(html, cid string) bool {
	if cid == "" {
		return false
	}
	return strings.Contains(html, "cid:"+cid)
}
