package smtp

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/ashgrovemail/mailkit/mime"
	"github.com/ashgrovemail/mailkit/transport"
)

// fakeServer drives the server half of a net.Pipe against a scripted
// sequence of (expected client line, response lines to send back).
type fakeServer struct {
	conn net.Conn
	r    *bufio.Reader
}

func newFakeServer(conn net.Conn) *fakeServer {
	return &fakeServer{conn: conn, r: bufio.NewReader(conn)}
}

func (f *fakeServer) send(lines ...string) {
	f.conn.Write([]byte(strings.Join(lines, "\r\n") + "\r\n"))
}

func (f *fakeServer) readLine() string {
	line, _ := f.r.ReadString('\n')
	return strings.TrimRight(line, "\r\n")
}

func newPipeClient(t *testing.T) (*Client, net.Conn) {
	t.Helper()
	clientConn, serverConn := net.Pipe()
	tr := transport.NewFromConn(clientConn, transport.Timeouts{Connect: time.Second, Read: 2 * time.Second, Write: time.Second})
	c := NewClient(tr, nil)
	return c, serverConn
}

func TestGreetParsesCapabilities(t *testing.T) {
	c, server := newPipeClient(t)
	defer server.Close()
	fs := newFakeServer(server)

	go func() {
		fs.send("220 mail.example.com ESMTP ready")
		if got := fs.readLine(); got != "EHLO client.example" {
			t.Errorf("got EHLO line %q", got)
		}
		fs.send(
			"250-mail.example.com at your service",
			"250-AUTH PLAIN LOGIN XOAUTH2",
			"250-8BITMIME",
			"250-DSN",
			"250-STARTTLS",
			"250 PIPELINING",
		)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, "mail.example.com", 587, false, nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Greet(ctx, "client.example"); err != nil {
		t.Fatalf("Greet: %v", err)
	}
	if !c.Caps.AuthPlain || !c.Caps.AuthLogin || !c.Caps.AuthXOAuth2 {
		t.Errorf("expected AUTH mechanisms parsed, got %+v", c.Caps)
	}
	if !c.Caps.EightBitMIME || !c.Caps.DSN || !c.Caps.StartTLS || !c.Caps.Pipelining {
		t.Errorf("expected send extensions parsed, got %+v", c.Caps)
	}
}

// TestSendOrdering mirrors spec §8 scenario E5: a text/plain send to 2 To
// and 1 Bcc on a server advertising 8BITMIME, asserting MAIL FROM precedes
// every RCPT TO, DATA follows the last RCPT TO, the Bcc header never
// appears, and the body terminates with exactly one "\r\n.\r\n".
func TestSendOrdering(t *testing.T) {
	c, server := newPipeClient(t)
	defer server.Close()
	fs := newFakeServer(server)

	var seen []string
	done := make(chan struct{})
	go func() {
		defer close(done)
		fs.send("220 mail.example.com ESMTP ready")
		seen = append(seen, fs.readLine()) // EHLO
		fs.send("250-mail.example.com", "250 8BITMIME")
		seen = append(seen, fs.readLine()) // MAIL FROM
		fs.send("250 2.1.0 OK")
		seen = append(seen, fs.readLine()) // RCPT TO r1
		fs.send("250 2.1.5 OK")
		seen = append(seen, fs.readLine()) // RCPT TO r2
		fs.send("250 2.1.5 OK")
		seen = append(seen, fs.readLine()) // RCPT TO bcc
		fs.send("250 2.1.5 OK")
		seen = append(seen, fs.readLine()) // DATA
		fs.send("354 go ahead")

		var body strings.Builder
		for {
			line := fs.readLine()
			if line == "." {
				break
			}
			body.WriteString(line + "\n")
		}
		seen = append(seen, "DATA_BODY:"+body.String())
		fs.send("250 2.0.0 OK queued")
		seen = append(seen, fs.readLine()) // QUIT
		fs.send("221 bye")
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.Connect(ctx, "mail.example.com", 587, false, nil); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Greet(ctx, "127.0.0.1"); err != nil {
		t.Fatalf("Greet: %v", err)
	}

	msg := &mime.SMTPMessage{
		From: "s@x",
		To:   []string{"r1@x", "r2@x"},
		Bcc:  []string{"bcc@x"},
		Text: mime.BodyPart{
			Source:           mime.Source{Kind: mime.SourceString, Text: "line one\nline two\nline three"},
			TransferEncoding: mime.Enc8Bit,
		},
	}
	msg.SetClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })

	if err := c.Send(ctx, msg, SendOptions{Domain: "x", QuitAfter: true}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	<-done

	if len(seen) < 6 {
		t.Fatalf("too few observed commands: %v", seen)
	}
	if seen[0] != "EHLO 127.0.0.1" {
		t.Errorf("EHLO line = %q", seen[0])
	}
	if seen[1] != "MAIL FROM:<s@x> BODY=8BITMIME" {
		t.Errorf("MAIL FROM line = %q", seen[1])
	}
	if seen[2] != "RCPT TO:<r1@x>" || seen[3] != "RCPT TO:<r2@x>" || seen[4] != "RCPT TO:<bcc@x>" {
		t.Errorf("RCPT order = %v", seen[2:5])
	}
	if seen[5] != "DATA" {
		t.Errorf("expected DATA after last RCPT TO, got %q", seen[5])
	}
	if len(seen) < 8 || seen[7] != "QUIT" {
		t.Errorf("expected QUIT right after a single body terminator, got %v", seen[6:])
	}
	bodyLine := seen[6]
	if strings.Contains(bodyLine, "Bcc:") {
		t.Errorf("Bcc header leaked into DATA body: %q", bodyLine)
	}
	if !strings.Contains(bodyLine, "MIME-Version: 1.0") {
		t.Errorf("expected MIME-Version header in body: %q", bodyLine)
	}
}

func TestDotStuffWriter(t *testing.T) {
	var buf strings.Builder
	w := newDotStuffWriter(&buf)
	w.Write([]byte("hello\r\n.leading dot\r\nnot.mid.line\r\n"))
	want := "hello\r\n..leading dot\r\nnot.mid.line\r\n"
	if buf.String() != want {
		t.Errorf("got %q, want %q", buf.String(), want)
	}
}

func TestStrongestEncodingPrefersBinaryOverFirstEncountered(t *testing.T) {
	msg := &mime.SMTPMessage{
		Text: mime.BodyPart{TransferEncoding: mime.Enc8Bit},
		Attachments: []mime.Attachment{
			{TransferEncoding: mime.EncBinary},
		},
	}
	if got := strongestEncoding(msg); got != mime.EncBinary {
		t.Errorf("strongestEncoding = %v, want EncBinary", got)
	}

	caps := Capabilities{EightBitMIME: true}
	if param := bodyParam(caps, mime.EncBinary); param != " BODY=8BITMIME" {
		t.Errorf("bodyParam degraded to %q, want BODY=8BITMIME when BINARYMIME unavailable", param)
	}
}

func TestBareAddress(t *testing.T) {
	cases := map[string]string{
		`"A" <a@x>`: "a@x",
		"b@y":       "b@y",
		"  c@z  ":   "c@z",
	}
	for in, want := range cases {
		if got := bareAddress(in); got != want {
			t.Errorf("bareAddress(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestResponseErrorTemporaryPermanent(t *testing.T) {
	if !(&ResponseError{Code: 450}).Temporary() {
		t.Errorf("450 should be temporary")
	}
	if !(&ResponseError{Code: 550}).Permanent() {
		t.Errorf("550 should be permanent")
	}
}

func TestSendCommandRejectsForbidden(t *testing.T) {
	c, server := newPipeClient(t)
	defer server.Close()
	ctx := context.Background()
	if _, _, err := c.SendCommand(ctx, "MAIL", "FROM:<a@b>"); err == nil {
		t.Errorf("expected MAIL to be rejected via SendCommand")
	}
}
