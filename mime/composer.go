package mime

import (
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/ashgrovemail/mailkit/codec"
)

// ProgressFunc receives composer progress. Per spec §4.F it is invoked
// only when the floor of progress advances by at least 5, or at 0% and
// 100% — Compose enforces that throttle itself so callers never see a
// noisy stream.
type ProgressFunc func(percent int)

// ComposeOptions configures one Compose call.
type ComposeOptions struct {
	Domain   string // used to synthesize Message-ID when missing
	Progress ProgressFunc
	Logger   interface {
		Debug(format string, args ...interface{})
	}
}

const textLineMax = 76

// Compose renders msg as a complete RFC 5322 message (headers + body) to
// w, applying the inline-attachment downgrade rule, then the layout
// selection, then a depth-first tree walk that emits boundaries and
// parts in the header-before-body / boundary-before-header order spec
// §4.F requires. It returns the total bytes written, which equals the
// APPEND literal length imap.Client.Append's "accumulate" mode takes from
// the composed buffer (spec §4.D).
func Compose(w io.Writer, msg *SMTPMessage, opts ComposeOptions) (int64, error) {
	cw := &countingWriter{w: w}
	c := &composeCtx{w: cw, opts: opts}
	if err := c.composeMessage(msg); err != nil {
		return cw.n, err
	}
	c.reportProgress(100)
	if opts.Logger != nil {
		opts.Logger.Debug("mime: composed message, wrote %s", FormatSize(cw.n))
	}
	return cw.n, nil
}

type composeCtx struct {
	w       *countingWriter
	plan    *Plan
	opts    ComposeOptions
	lastPct int
}

// composeMessage writes one full message (headers, blank line, body tree)
// to c.w. It is reused for nested message/rfc822 parts: the nested
// message runs through the same normalization, planning, and tree walk as
// the outer one, and returning from the recursive call is what re-enters
// the outer composer — Go's call stack is the explicit (message, layout)
// frame stack the design notes ask for, with no parent back-pointers.
func (c *composeCtx) composeMessage(msg *SMTPMessage) error {
	htmlText, err := readAllSource(msg.HTML.Source)
	if err != nil {
		return fmt.Errorf("mime: read html body for cid scan: %w", err)
	}
	msg.ResolveInlineDowngrade(htmlText)
	msg.EnsureDateAndMessageID(c.opts.Domain)
	msg.ensureAddressHeaders()
	if msg.Text.ContentType == "" {
		msg.Text.ContentType = "text/plain"
	}
	if msg.HTML.ContentType == "" {
		msg.HTML.ContentType = "text/html"
	}

	plan := PlanLayout(msg)

	if !msg.HasHeader("MIME-Version") {
		msg.AddHeader("MIME-Version", "1.0")
	}
	for _, h := range rootTypeHeaders(plan, msg) {
		if !msg.HasHeader(h.Name) {
			msg.AddHeader(h.Name, h.Value)
		}
	}

	if err := writeHeaders(c.w, msg.Headers); err != nil {
		return err
	}
	if _, err := c.w.Write([]byte("\r\n")); err != nil {
		return err
	}

	saved := c.plan
	c.plan = plan
	err = c.writeRoot(msg)
	c.plan = saved
	return err
}

// rootTypeHeaders computes the top-level Content-Type (and, for a
// singlepart message, Content-Transfer-Encoding) headers the chosen
// layout requires. Multipart bodies carry their parts' own transfer
// encodings per part instead.
func rootTypeHeaders(p *Plan, msg *SMTPMessage) []Header {
	switch p.Layout {
	case Layout1:
		part := singlepartOf(msg)
		if part == nil {
			return []Header{
				{Name: "Content-Type", Value: "text/plain; charset=utf-8"},
				{Name: "Content-Transfer-Encoding", Value: Enc7Bit.String()},
			}
		}
		return []Header{
			{Name: "Content-Type", Value: partContentType(part)},
			{Name: "Content-Transfer-Encoding", Value: part.TransferEncoding.String()},
		}
	case Layout2, Layout3, Layout4, Layout5:
		return []Header{{Name: "Content-Type", Value: `multipart/mixed; boundary="` + p.MixedBoundary + `"`}}
	case Layout6, Layout8:
		return []Header{{Name: "Content-Type", Value: `multipart/alternative; boundary="` + p.AltBoundary + `"`}}
	case Layout7:
		return []Header{{Name: "Content-Type", Value: `multipart/related; boundary="` + p.RelBoundary + `"`}}
	default:
		return nil
	}
}

// singlepartOf returns the one body part a Layout1/Layout5 message
// carries, or nil when the message has no body at all.
func singlepartOf(msg *SMTPMessage) *BodyPart {
	if !msg.Text.empty() || msg.Text.Source.Kind == SourceFile {
		return &msg.Text
	}
	if !msg.HTML.empty() || msg.HTML.Source.Kind == SourceFile {
		return &msg.HTML
	}
	return nil
}

func partContentType(part *BodyPart) string {
	charset := part.Charset
	if charset == "" {
		charset = "utf-8"
	}
	v := part.ContentType + "; charset=" + charset
	if part.Flowed {
		v += "; format=flowed"
	}
	return v
}

func (c *composeCtx) writeRoot(msg *SMTPMessage) error {
	switch c.plan.Layout {
	case Layout1:
		part := singlepartOf(msg)
		if part == nil {
			return nil
		}
		return c.writeBodyEncoded(part.Source, part.TransferEncoding, part.Flowed)
	case Layout2:
		return c.writeMixed(msg, func() error { return c.writeAlternative(msg, true) })
	case Layout3:
		return c.writeMixed(msg, func() error { return c.writeRelated(msg, true) })
	case Layout4:
		return c.writeMixed(msg, func() error { return c.writeAlternativeTextHTML(msg, true) })
	case Layout5:
		var body func() error
		if part := singlepartOf(msg); part != nil {
			body = func() error { return c.writeBodyPart(part) }
		}
		return c.writeMixed(msg, body)
	case Layout6:
		return c.writeAlternative(msg, false)
	case Layout7:
		return c.writeRelated(msg, false)
	case Layout8:
		return c.writeAlternativeTextHTML(msg, false)
	default:
		return nil
	}
}

// writeMixed emits the multipart/mixed wrapper: the main body part (when
// one exists), then ordinary and parallel attachments, then any embedded
// message/rfc822 children, each opened by the mixed boundary, and closed
// once after the last child — close-boundary-after-last-chunk is one of
// §4.F's ordering invariants.
func (c *composeCtx) writeMixed(msg *SMTPMessage, body func() error) error {
	if body != nil {
		if err := c.writePartBoundary(c.plan.MixedBoundary); err != nil {
			return err
		}
		if err := body(); err != nil {
			return err
		}
	}
	for i := range msg.Attachments {
		if msg.Attachments[i].Type == TypeInline {
			continue // already emitted inside the related part
		}
		if err := c.writePartBoundary(c.plan.MixedBoundary); err != nil {
			return err
		}
		if err := c.writeAttachment(&msg.Attachments[i]); err != nil {
			return err
		}
	}
	for _, nested := range msg.RFC822 {
		if err := c.writePartBoundary(c.plan.MixedBoundary); err != nil {
			return err
		}
		if err := c.writeNested(nested); err != nil {
			return err
		}
	}
	return c.writeCloseBoundary(c.plan.MixedBoundary)
}

// writeAlternative emits alternative(text, related(html, inline*)).
// nested marks an alternative that is itself a part of an enclosing
// multipart and therefore needs its own Content-Type part header; at the
// root that header was already written with the message headers.
func (c *composeCtx) writeAlternative(msg *SMTPMessage, nested bool) error {
	if nested {
		hdr := fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", c.plan.AltBoundary)
		if _, err := c.w.Write([]byte(hdr)); err != nil {
			return err
		}
	}
	if err := c.writePartBoundary(c.plan.AltBoundary); err != nil {
		return err
	}
	if err := c.writeBodyPart(&msg.Text); err != nil {
		return err
	}
	if err := c.writePartBoundary(c.plan.AltBoundary); err != nil {
		return err
	}
	if err := c.writeRelated(msg, true); err != nil {
		return err
	}
	return c.writeCloseBoundary(c.plan.AltBoundary)
}

// writeAlternativeTextHTML emits alternative(text, html) with no related
// subtree (no inline images survived the downgrade rule).
func (c *composeCtx) writeAlternativeTextHTML(msg *SMTPMessage, nested bool) error {
	if nested {
		hdr := fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", c.plan.AltBoundary)
		if _, err := c.w.Write([]byte(hdr)); err != nil {
			return err
		}
	}
	if err := c.writePartBoundary(c.plan.AltBoundary); err != nil {
		return err
	}
	if err := c.writeBodyPart(&msg.Text); err != nil {
		return err
	}
	if err := c.writePartBoundary(c.plan.AltBoundary); err != nil {
		return err
	}
	if err := c.writeBodyPart(&msg.HTML); err != nil {
		return err
	}
	return c.writeCloseBoundary(c.plan.AltBoundary)
}

// writeRelated emits related(html, inline*). Without a related boundary
// (no inline attachments in this layout) it degenerates to the bare HTML
// part.
func (c *composeCtx) writeRelated(msg *SMTPMessage, nested bool) error {
	if c.plan.RelBoundary == "" {
		return c.writeBodyPart(&msg.HTML)
	}
	if nested {
		hdr := fmt.Sprintf("Content-Type: multipart/related; boundary=\"%s\"\r\n\r\n", c.plan.RelBoundary)
		if _, err := c.w.Write([]byte(hdr)); err != nil {
			return err
		}
	}
	if err := c.writePartBoundary(c.plan.RelBoundary); err != nil {
		return err
	}
	if err := c.writeBodyPart(&msg.HTML); err != nil {
		return err
	}
	for i := range msg.Attachments {
		if msg.Attachments[i].Type != TypeInline {
			continue
		}
		if err := c.writePartBoundary(c.plan.RelBoundary); err != nil {
			return err
		}
		if err := c.writeAttachment(&msg.Attachments[i]); err != nil {
			return err
		}
	}
	return c.writeCloseBoundary(c.plan.RelBoundary)
}

func (c *composeCtx) writePartBoundary(boundary string) error {
	_, err := c.w.Write([]byte("--" + boundary + "\r\n"))
	return err
}

func (c *composeCtx) writeCloseBoundary(boundary string) error {
	_, err := c.w.Write([]byte("--" + boundary + "--\r\n"))
	return err
}

func (c *composeCtx) writeBodyPart(part *BodyPart) error {
	header := "Content-Type: " + partContentType(part) + "\r\n"
	header += fmt.Sprintf("Content-Transfer-Encoding: %s\r\n\r\n", part.TransferEncoding)
	if _, err := c.w.Write([]byte(header)); err != nil {
		return err
	}
	return c.writeBodyEncoded(part.Source, part.TransferEncoding, part.Flowed)
}

func (c *composeCtx) writeAttachment(a *Attachment) error {
	disposition := "attachment"
	if a.Type == TypeInline {
		disposition = "inline"
	}
	header := fmt.Sprintf("Content-Type: %s; name=\"%s\"\r\n", a.MIME, a.Filename)
	if a.ContentID != "" {
		header += fmt.Sprintf("Content-ID: <%s>\r\n", a.ContentID)
	}
	header += fmt.Sprintf("Content-Disposition: %s; filename=\"%s\"\r\n", disposition, a.Filename)
	header += fmt.Sprintf("Content-Transfer-Encoding: %s\r\n\r\n", a.TransferEncoding)
	if _, err := c.w.Write([]byte(header)); err != nil {
		return err
	}
	return c.writeBodyEncoded(a.Source, a.TransferEncoding, false)
}

// writeNested emits the synthetic message/rfc822 part header, then the
// nested message itself via composeMessage.
func (c *composeCtx) writeNested(nested *SMTPMessage) error {
	name := "message.eml"
	for _, h := range nested.Headers {
		if strings.EqualFold(h.Name, "Subject") {
			name = h.Value + ".eml"
		}
	}
	header := fmt.Sprintf("Content-Type: message/rfc822; Name=\"%s\"\r\n", name)
	header += fmt.Sprintf("Content-Disposition: attachment; filename=\"%s\";\r\n\r\n", name)
	if _, err := c.w.Write([]byte(header)); err != nil {
		return err
	}
	return c.composeMessage(nested)
}

// writeBodyEncoded streams source through the transfer encoding,
// reporting progress per spec §4.F's throttle (advance by >= 5%, plus 0
// and 100).
func (c *composeCtx) writeBodyEncoded(src Source, enc TransferEncoding, flowed bool) error {
	data, err := readAllSource(src)
	if err != nil {
		return fmt.Errorf("mime: read body source: %w", err)
	}
	raw := []byte(data)

	c.reportProgress(0)

	switch enc {
	case EncBase64:
		return c.writeBase64(raw)
	case EncQuotedPrintable:
		return c.writeQP(raw, flowed)
	default: // 7bit, 8bit, binary: passed through unchanged
		_, err := c.w.Write(raw)
		c.reportProgress(100)
		return err
	}
}

func (c *composeCtx) writeBase64(raw []byte) error {
	const srcChunk = 57 // 57 source bytes -> 76 base64 octets per line
	total := len(raw)
	for i := 0; i < len(raw); i += srcChunk {
		end := i + srcChunk
		if end > len(raw) {
			end = len(raw)
		}
		line := codec.Base64Encode(raw[i:end])
		if _, err := c.w.Write([]byte(line + "\r\n")); err != nil {
			return err
		}
		if total > 0 {
			c.reportProgress(int(int64(end) * 100 / int64(total)))
		}
	}
	if total == 0 {
		c.reportProgress(100)
	}
	return nil
}

func (c *composeCtx) writeQP(raw []byte, flowed bool) error {
	st := codec.NewQPEncodeState(textLineMax)
	total := len(raw)
	for {
		line, done := codec.QPEncodeLine(st, raw, flowed)
		if _, err := c.w.Write([]byte(line + "\r\n")); err != nil {
			return err
		}
		if total > 0 {
			c.reportProgress(int(int64(st.Cursor) * 100 / int64(total)))
		}
		if done {
			break
		}
	}
	if total == 0 {
		c.reportProgress(100)
	}
	return nil
}

func (c *composeCtx) reportProgress(pct int) {
	if c.opts.Progress == nil {
		return
	}
	if pct != 0 && pct != 100 && pct-c.lastPct < 5 {
		return
	}
	c.lastPct = pct
	c.opts.Progress(pct)
}

// writeHeaders writes msg.Headers with RFC 5322 folding so no line
// exceeds 78 octets (spec §8 property 2).
func writeHeaders(w io.Writer, headers []Header) error {
	for _, h := range headers {
		line := h.Name + ": " + h.Value
		folded := foldHeader(line)
		if _, err := w.Write([]byte(folded + "\r\n")); err != nil {
			return err
		}
	}
	return nil
}

func foldHeader(line string) string {
	const max = 78
	if len(line) <= max {
		return line
	}
	var out strings.Builder
	remaining := line
	limit := max
	for len(remaining) > limit {
		cut := strings.LastIndex(remaining[:limit], " ")
		if cut <= 0 {
			cut = limit
		}
		out.WriteString(remaining[:cut])
		out.WriteString("\r\n ")
		remaining = strings.TrimPrefix(remaining[cut:], " ")
		// continuation lines start with the folding space
		limit = max - 1
	}
	out.WriteString(remaining)
	return out.String()
}

func readAllSource(src Source) (string, error) {
	if src.Kind == SourceString {
		return src.Text, nil
	}
	if src.Kind == SourceBytes {
		return string(src.Bytes), nil
	}
	if src.Path == "" {
		return "", nil
	}
	rc, err := src.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// FormatSize renders a byte count human-readably for the composer's and
// the IMAP fetcher's size trace lines.
func FormatSize(n int64) string {
	return humanize.Bytes(uint64(n))
}
