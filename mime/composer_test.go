package mime

import (
	"strings"
	"testing"
	"time"
)

func textPart(s string) BodyPart {
	return BodyPart{Source: Source{Kind: SourceString, Text: s}}
}

func htmlPart(s string) BodyPart {
	return BodyPart{Source: Source{Kind: SourceString, Text: s}, ContentType: "text/html"}
}

func inlinePNG(cid string) Attachment {
	return Attachment{
		Filename:         cid + ".png",
		MIME:             "image/png",
		TransferEncoding: EncBase64,
		ContentID:        cid,
		Source:           Source{Kind: SourceBytes, Bytes: []byte{0x89, 0x50, 0x4e, 0x47}},
		Type:             TypeInline,
	}
}

func pdfAttachment() Attachment {
	return Attachment{
		Filename:         "doc.pdf",
		MIME:             "application/pdf",
		TransferEncoding: EncBase64,
		Source:           Source{Kind: SourceBytes, Bytes: []byte("%PDF-1.4")},
		Type:             TypeAttachment,
	}
}

// TestPlanLayoutChoices covers the eight-way layout selection, including
// spec §8 property 8: (text, html, inline) with a cid: reference picks the
// alternative/related tree; the same inputs without the reference
// downgrade the inline image to an ordinary attachment, which collapses
// the related subtree and forces the mixed tree instead.
func TestPlanLayoutChoices(t *testing.T) {
	cases := []struct {
		name string
		msg  *SMTPMessage
		html string // html body text handed to ResolveInlineDowngrade
		want Layout
	}{
		{
			name: "text only",
			msg:  &SMTPMessage{Text: textPart("hi")},
			want: Layout1,
		},
		{
			name: "html only",
			msg:  &SMTPMessage{HTML: htmlPart("<p>hi</p>")},
			want: Layout1,
		},
		{
			name: "text and html",
			msg:  &SMTPMessage{Text: textPart("hi"), HTML: htmlPart("<p>hi</p>")},
			want: Layout8,
		},
		{
			name: "html with referenced inline",
			msg:  &SMTPMessage{HTML: htmlPart(`<img src="cid:logo">`), Attachments: []Attachment{inlinePNG("logo")}},
			html: `<img src="cid:logo">`,
			want: Layout7,
		},
		{
			name: "text, html, referenced inline",
			msg:  &SMTPMessage{Text: textPart("hi"), HTML: htmlPart(`<img src="cid:logo">`), Attachments: []Attachment{inlinePNG("logo")}},
			html: `<img src="cid:logo">`,
			want: Layout6,
		},
		{
			name: "text, html, inline without cid reference downgrades",
			msg:  &SMTPMessage{Text: textPart("hi"), HTML: htmlPart("<p>no ref</p>"), Attachments: []Attachment{inlinePNG("logo")}},
			html: "<p>no ref</p>",
			want: Layout4,
		},
		{
			name: "text, html, inline, attachment",
			msg: &SMTPMessage{
				Text:        textPart("hi"),
				HTML:        htmlPart(`<img src="cid:logo">`),
				Attachments: []Attachment{inlinePNG("logo"), pdfAttachment()},
			},
			html: `<img src="cid:logo">`,
			want: Layout2,
		},
		{
			name: "html, inline, attachment, no text",
			msg: &SMTPMessage{
				HTML:        htmlPart(`<img src="cid:logo">`),
				Attachments: []Attachment{inlinePNG("logo"), pdfAttachment()},
			},
			html: `<img src="cid:logo">`,
			want: Layout3,
		},
		{
			name: "text plus attachment",
			msg:  &SMTPMessage{Text: textPart("hi"), Attachments: []Attachment{pdfAttachment()}},
			want: Layout5,
		},
		{
			name: "rfc822 child forces mixed",
			msg:  &SMTPMessage{Text: textPart("hi"), RFC822: []*SMTPMessage{{Text: textPart("inner")}}},
			want: Layout5,
		},
	}

	for _, c := range cases {
		c.msg.ResolveInlineDowngrade(c.html)
		p := PlanLayout(c.msg)
		if p.Layout != c.want {
			t.Errorf("%s: layout = %d, want %d", c.name, p.Layout, c.want)
		}
	}
}

func TestResolveInlineDowngradeReclassifies(t *testing.T) {
	msg := &SMTPMessage{
		Text:        textPart("hi"),
		HTML:        htmlPart("<p>no reference</p>"),
		Attachments: []Attachment{inlinePNG("logo")},
	}
	msg.ResolveInlineDowngrade("<p>no reference</p>")
	if msg.Attachments[0].Type != TypeAttachment {
		t.Errorf("expected inline without cid reference downgraded to attachment, got %v", msg.Attachments[0].Type)
	}
}

// boundaryOf extracts the boundary parameter from the first Content-Type
// header carrying one.
func boundaryOf(t *testing.T, raw, contentType string) string {
	t.Helper()
	i := strings.Index(raw, "Content-Type: "+contentType)
	if i < 0 {
		t.Fatalf("no %s content type in:\n%s", contentType, raw)
	}
	rest := raw[i:]
	j := strings.Index(rest, `boundary="`)
	if j < 0 {
		t.Fatalf("no boundary on %s header", contentType)
	}
	rest = rest[j+len(`boundary="`):]
	return rest[:strings.IndexByte(rest, '"')]
}

func TestComposeMixedStructure(t *testing.T) {
	msg := &SMTPMessage{
		From:        "s@x",
		To:          []string{"r@x"},
		Text:        textPart("body text"),
		Attachments: []Attachment{pdfAttachment()},
	}
	msg.SetClock(func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) })

	var buf strings.Builder
	n, err := Compose(&buf, msg, ComposeOptions{Domain: "x"})
	if err != nil {
		t.Fatalf("Compose: %v", err)
	}
	raw := buf.String()
	if n != int64(len(raw)) {
		t.Errorf("Compose returned %d bytes, wrote %d", n, len(raw))
	}

	b := boundaryOf(t, raw, "multipart/mixed")
	open := "--" + b + "\r\n"
	close := "--" + b + "--\r\n"
	if got := strings.Count(raw, open); got != 2 {
		t.Errorf("expected 2 opening boundaries, got %d:\n%s", got, raw)
	}
	if got := strings.Count(raw, close); got != 1 {
		t.Errorf("expected exactly 1 close boundary, got %d", got)
	}

	headerEnd := strings.Index(raw, "\r\n\r\n")
	firstOpen := strings.Index(raw, open)
	if firstOpen < headerEnd {
		t.Errorf("body boundary appeared inside the header block")
	}
	if !strings.HasSuffix(raw, close) {
		t.Errorf("message does not end with the close boundary")
	}
	if att := strings.Index(raw, "application/pdf"); att < strings.Index(raw, "body text") {
		t.Errorf("attachment emitted before the body part")
	}
}

func TestComposeNestedAlternativeCarriesPartHeader(t *testing.T) {
	msg := &SMTPMessage{
		From:        "s@x",
		To:          []string{"r@x"},
		Text:        textPart("plain"),
		HTML:        htmlPart("<p>rich</p>"),
		Attachments: []Attachment{pdfAttachment()},
	}

	var buf strings.Builder
	if _, err := Compose(&buf, msg, ComposeOptions{Domain: "x"}); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	raw := buf.String()

	mixed := boundaryOf(t, raw, "multipart/mixed")
	alt := boundaryOf(t, raw, "multipart/alternative")
	if mixed == alt {
		t.Fatalf("mixed and alternative share a boundary")
	}
	// The nested alternative's own Content-Type header must come after the
	// first mixed boundary, not in the root header block.
	firstMixedOpen := strings.Index(raw, "--"+mixed+"\r\n")
	altHeader := strings.Index(raw, "Content-Type: multipart/alternative")
	if altHeader < firstMixedOpen {
		t.Errorf("alternative part header emitted before its opening boundary:\n%s", raw)
	}
}

func TestComposeEmbeddedRFC822InsideMixed(t *testing.T) {
	inner := &SMTPMessage{From: "i@x", To: []string{"r@x"}, Text: textPart("inner body")}
	inner.AddHeader("Subject", "inner")
	msg := &SMTPMessage{From: "s@x", To: []string{"r@x"}, Text: textPart("outer body"), RFC822: []*SMTPMessage{inner}}

	var buf strings.Builder
	if _, err := Compose(&buf, msg, ComposeOptions{Domain: "x"}); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	raw := buf.String()

	b := boundaryOf(t, raw, "multipart/mixed")
	close := "--" + b + "--\r\n"
	rfcAt := strings.Index(raw, "Content-Type: message/rfc822")
	closeAt := strings.Index(raw, close)
	if rfcAt < 0 {
		t.Fatalf("no message/rfc822 part emitted:\n%s", raw)
	}
	if rfcAt > closeAt {
		t.Errorf("rfc822 part emitted after the close boundary (in the epilogue)")
	}
	if !strings.Contains(raw, "inner body") {
		t.Errorf("nested message body missing")
	}
}

func TestComposeSinglepartUsesPartHeaders(t *testing.T) {
	msg := &SMTPMessage{
		From: "s@x",
		To:   []string{"r@x"},
		HTML: BodyPart{Source: Source{Kind: SourceString, Text: "<p>only html</p>"}, ContentType: "text/html", TransferEncoding: EncQuotedPrintable},
	}
	var buf strings.Builder
	if _, err := Compose(&buf, msg, ComposeOptions{Domain: "x"}); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	raw := buf.String()
	if !strings.Contains(raw, "Content-Type: text/html; charset=utf-8") {
		t.Errorf("expected root content type from the html part:\n%s", raw)
	}
	if !strings.Contains(raw, "Content-Transfer-Encoding: quoted-printable") {
		t.Errorf("expected the part's transfer encoding on the root headers")
	}
}

func TestComposeAddressHeaders(t *testing.T) {
	msg := &SMTPMessage{
		From: "s@x",
		To:   []string{"r1@x", "r2@x"},
		Cc:   []string{"c@x"},
		Bcc:  []string{"hidden@x"},
		Text: textPart("hi"),
	}
	var buf strings.Builder
	if _, err := Compose(&buf, msg, ComposeOptions{Domain: "x"}); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	raw := buf.String()
	if !strings.Contains(raw, "From: s@x\r\n") || !strings.Contains(raw, "To: r1@x, r2@x\r\n") || !strings.Contains(raw, "Cc: c@x\r\n") {
		t.Errorf("missing address headers:\n%s", raw)
	}
	if strings.Contains(raw, "Bcc:") {
		t.Errorf("Bcc header must never be rendered")
	}
}

func TestComposeProgressThrottle(t *testing.T) {
	var reports []int
	msg := &SMTPMessage{
		From: "s@x",
		To:   []string{"r@x"},
		Text: BodyPart{
			Source:           Source{Kind: SourceBytes, Bytes: make([]byte, 57*100)},
			TransferEncoding: EncBase64,
		},
	}
	var buf strings.Builder
	if _, err := Compose(&buf, msg, ComposeOptions{Domain: "x", Progress: func(p int) { reports = append(reports, p) }}); err != nil {
		t.Fatalf("Compose: %v", err)
	}
	if len(reports) == 0 || reports[0] != 0 || reports[len(reports)-1] != 100 {
		t.Fatalf("progress must open at 0 and close at 100, got %v", reports)
	}
	for i := 1; i < len(reports); i++ {
		if d := reports[i] - reports[i-1]; d < 5 && reports[i] != 100 && reports[i] != 0 {
			t.Errorf("progress advanced by %d (<5): %v", d, reports)
		}
	}
}
