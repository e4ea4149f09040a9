// Package transport implements the byte-stream adapter the IMAP and SMTP
// state machines drive: connect/read/write/close plus a STARTTLS upgrade
// hook, per spec §4.B. It never interprets the bytes it carries — only
// the state machines in imap and smtp do that.
package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/net/idna"
)

// Default timeouts, per spec §4.B / §5.
const (
	DefaultConnectTimeout = 3 * time.Second
	DefaultReadTimeout    = 120 * time.Second
	DefaultWriteTimeout   = 30 * time.Second
)

// Timeouts bundles the three per-session timers spec §5 names. Idle has
// its own timer managed by the imap package, not the transport.
type Timeouts struct {
	Connect time.Duration
	Read    time.Duration
	Write   time.Duration
}

// DefaultTimeouts returns the spec-mandated defaults.
func DefaultTimeouts() Timeouts {
	return Timeouts{Connect: DefaultConnectTimeout, Read: DefaultReadTimeout, Write: DefaultWriteTimeout}
}

// Transport is the narrow capability set spec §4.B describes. A state
// machine only ever calls these five operations plus the TLS hook below;
// it is the only thing that knows what the bytes mean.
type Transport interface {
	Connect(ctx context.Context, host string, port int) error
	Write(buf []byte) (int, error)
	ReadByte() (b byte, ok bool, err error)
	Available() int
	Close() error

	// UpgradeTLS performs the STARTTLS handshake hook and flips Secured()
	// on success. The handshake itself is an external collaborator per
	// spec §1; Conn's implementation delegates to crypto/tls, which is
	// the teacher's own choice (imap_core/commands.go's handleStartTLS).
	UpgradeTLS(ctx context.Context, tlsConfig *tls.Config) error
	Secured() bool

	// Connected reports a cached flag flipped by Connect/Close/IO error,
	// never a live socket probe — see design notes in DESIGN.md on why a
	// live probe can hang on half-closed peers.
	Connected() bool
}

// Conn is the default net.Conn-backed Transport implementation.
type Conn struct {
	timeouts Timeouts

	raw       net.Conn
	reader    *bufio.Reader
	secured   bool
	connected bool
}

// New returns a Conn with the given timeouts (DefaultTimeouts() if zero).
func New(timeouts Timeouts) *Conn {
	if timeouts.Connect <= 0 {
		timeouts.Connect = DefaultConnectTimeout
	}
	if timeouts.Read <= 0 {
		timeouts.Read = DefaultReadTimeout
	}
	if timeouts.Write <= 0 {
		timeouts.Write = DefaultWriteTimeout
	}
	return &Conn{timeouts: timeouts}
}

// NewFromConn wraps an already-established net.Conn (typically the client
// half of a net.Pipe in tests) as a Transport, skipping Connect. Secured
// defaults to false; set it explicitly with MarkSecured if the conn is a
// *tls.Conn already.
func NewFromConn(conn net.Conn, timeouts Timeouts) *Conn {
	c := New(timeouts)
	c.raw = conn
	c.reader = bufio.NewReaderSize(conn, 4096)
	c.connected = true
	return c
}

// MarkSecured is used by tests that hand NewFromConn an already-TLS conn.
func (c *Conn) MarkSecured() { c.secured = true }

// Connect dials host:port over TCP, bounded by the connect timeout.
// Internationalized hostnames are normalized to ASCII (punycode) first,
// matching how a real MUA resolves a mail server's domain before DNS.
func (c *Conn) Connect(ctx context.Context, host string, port int) error {
	asciiHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		asciiHost = host // fall back to the raw host rather than failing connect
	}

	dialer := &net.Dialer{Timeout: c.timeouts.Connect}
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Connect)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", asciiHost, port))
	if err != nil {
		return fmt.Errorf("transport: connect %s:%d: %w", host, port, err)
	}

	c.raw = conn
	c.reader = bufio.NewReaderSize(conn, 4096)
	c.connected = true
	c.secured = false
	return nil
}

// Write sends buf, bounded by the write timeout.
func (c *Conn) Write(buf []byte) (int, error) {
	if c.raw == nil {
		return 0, fmt.Errorf("transport: write: %w", ErrNotConnected)
	}
	if err := c.raw.SetWriteDeadline(time.Now().Add(c.timeouts.Write)); err != nil {
		return 0, fmt.Errorf("transport: set write deadline: %w", err)
	}
	n, err := c.raw.Write(buf)
	if err != nil {
		c.connected = false
		return n, fmt.Errorf("transport: write: %w", err)
	}
	return n, nil
}

// ReadByte reads a single byte, bounded by the read timeout. ok is false
// only on a clean EOF; any other failure is returned as err and also
// flips Connected() false.
func (c *Conn) ReadByte() (byte, bool, error) {
	if c.raw == nil {
		return 0, false, fmt.Errorf("transport: read: %w", ErrNotConnected)
	}
	if err := c.raw.SetReadDeadline(time.Now().Add(c.timeouts.Read)); err != nil {
		return 0, false, fmt.Errorf("transport: set read deadline: %w", err)
	}
	b, err := c.reader.ReadByte()
	if err != nil {
		c.connected = false
		if err == io.EOF {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("transport: read: %w", err)
	}
	return b, true, nil
}

// Available reports how many bytes are buffered without blocking.
func (c *Conn) Available() int {
	if c.reader == nil {
		return 0
	}
	return c.reader.Buffered()
}

// Close tears down the connection and clears the cached Connected flag.
func (c *Conn) Close() error {
	c.connected = false
	c.secured = false
	if c.raw == nil {
		return nil
	}
	err := c.raw.Close()
	c.raw = nil
	c.reader = nil
	return err
}

// UpgradeTLS wraps the current connection in a TLS client handshake and
// replaces the buffered reader over the upgraded conn.
func (c *Conn) UpgradeTLS(ctx context.Context, tlsConfig *tls.Config) error {
	if c.raw == nil {
		return fmt.Errorf("transport: starttls: %w", ErrNotConnected)
	}
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(c.timeouts.Connect)
	}
	if err := c.raw.SetDeadline(deadline); err != nil {
		return fmt.Errorf("transport: starttls deadline: %w", err)
	}

	tlsConn := tls.Client(c.raw, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return fmt.Errorf("transport: starttls handshake: %w", err)
	}
	_ = c.raw.SetDeadline(time.Time{})

	c.raw = tlsConn
	c.reader = bufio.NewReaderSize(tlsConn, 4096)
	c.secured = true
	return nil
}

// Secured reports whether UpgradeTLS succeeded (or the initial dial was a
// TLS dial — see ConnectTLS).
func (c *Conn) Secured() bool { return c.secured }

// Connected reports the cached connection flag.
func (c *Conn) Connected() bool { return c.connected }

// ConnectTLS dials directly over TLS (implicit TLS, e.g. IMAPS port 993 /
// SMTPS port 465) rather than STARTTLS.
func (c *Conn) ConnectTLS(ctx context.Context, host string, port int, tlsConfig *tls.Config) error {
	asciiHost, err := idna.Lookup.ToASCII(host)
	if err != nil {
		asciiHost = host
	}
	if tlsConfig == nil {
		tlsConfig = &tls.Config{}
	}
	if tlsConfig.ServerName == "" {
		tlsConfig.ServerName = asciiHost
	}

	dialer := &net.Dialer{Timeout: c.timeouts.Connect}
	ctx, cancel := context.WithTimeout(ctx, c.timeouts.Connect)
	defer cancel()

	conn, err := tls.DialWithDialer(dialer, "tcp", fmt.Sprintf("%s:%d", asciiHost, port), tlsConfig)
	if err != nil {
		return fmt.Errorf("transport: connect tls %s:%d: %w", host, port, err)
	}
	conn.SetDeadline(time.Time{})

	c.raw = conn
	c.reader = bufio.NewReaderSize(conn, 4096)
	c.connected = true
	c.secured = true
	return nil
}
