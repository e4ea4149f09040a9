package imap

import (
	"testing"

	"github.com/ashgrovemail/mailkit/mime"
)

// TestParseBodyStructureSections exercises spec §8 property 4's worked
// example: mixed(alt(text,html), related(html,inline1,inline2), att1, att2)
// must number sections 1, 1.1, 1.2, 2, 2.1, 2.2, 2.3, 3, 4 — a top-level
// multipart's own children are numbered directly, only a nested multipart's
// children gain the dotted prefix.
func TestParseBodyStructureSections(t *testing.T) {
	text := `("text" "plain" ("charset" "utf-8") NIL NIL "7bit" 10 1)`
	html := `("text" "html" ("charset" "utf-8") NIL NIL "7bit" 20 1)`
	alt := "(" + text + " " + html + ` "alternative")`
	relHTML := `("text" "html" ("charset" "utf-8") NIL NIL "7bit" 20 1)`
	inline1 := `("image" "png" ("name" "a.png") "<a>" NIL "base64" 100)`
	inline2 := `("image" "png" ("name" "b.png") "<b>" NIL "base64" 200)`
	related := "(" + relHTML + " " + inline1 + " " + inline2 + ` "related")`
	att1 := `("application" "pdf" ("name" "c.pdf") NIL NIL "base64" 300)`
	att2 := `("application" "zip" ("name" "d.zip") NIL NIL "base64" 400)`
	body := "(" + alt + " " + related + " " + att1 + " " + att2 + ` "mixed")`

	root, err := ParseBodyStructure(body)
	if err != nil {
		t.Fatalf("ParseBodyStructure: %v", err)
	}
	if root.Section != "" || !root.IsMultipart || root.MIMESubtype != "mixed" {
		t.Fatalf("root = %+v, want un-addressed mixed multipart", root)
	}

	var got []string
	var walk func(n *mime.PartNode)
	walk = func(n *mime.PartNode) {
		if n.Section != "" {
			got = append(got, n.Section)
		}
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)

	want := []string{"1", "1.1", "1.2", "2", "2.1", "2.2", "2.3", "3", "4"}
	if len(got) != len(want) {
		t.Fatalf("collected sections %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("section[%d] = %q, want %q (all: %v)", i, got[i], want[i], got)
		}
	}

	inline := root.Children[1].Children[1] // related's first inline image
	if inline.ContentID != "a" || inline.TransferEncoding != mime.EncBase64 || inline.Size != 100 {
		t.Errorf("inline1 = %+v, want ContentID=a TransferEncoding=base64 Size=100", inline)
	}
}

// TestParseSearchRecentSortAndLimit pins spec §8 property 5: the result
// is sorted descending before truncation, so the smallest numbers are the
// ones evicted, regardless of the server's own ordering.
func TestParseSearchRecentSortAndLimit(t *testing.T) {
	got := ParseSearch("1 5 7 2 9 3", true, 3)
	want := []int64{9, 7, 5}
	if len(got) != len(want) {
		t.Fatalf("ParseSearch = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ParseSearch = %v, want %v", got, want)
		}
	}

	unsorted := ParseSearch("1 5 7", false, 0)
	if len(unsorted) != 3 || unsorted[0] != 1 || unsorted[2] != 7 {
		t.Errorf("ParseSearch without recentSort reordered the server result: %v", unsorted)
	}
}

// TestParseEnvelopeAddressFormatting walks spec §8 scenario E4's literal
// envelope and checks the header-style renderings.
func TestParseEnvelopeAddressFormatting(t *testing.T) {
	body := `("Mon, 1 Jan 2024 00:00:00 +0000" "Hi" (("A" NIL "a" "x")) (("A" NIL "a" "x")) (("A" NIL "a" "x")) (("B" NIL "b" "y")) NIL NIL NIL "<id@x>")`
	env, err := ParseEnvelope(body)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Subject != "Hi" {
		t.Errorf("Subject = %q", env.Subject)
	}
	if got := FormatAddressList(env.From); got != "A <a@x>" {
		t.Errorf("From = %q, want %q", got, "A <a@x>")
	}
	if got := FormatAddressList(env.To); got != "B <b@y>" {
		t.Errorf("To = %q, want %q", got, "B <b@y>")
	}
	if env.MessageID != "<id@x>" {
		t.Errorf("MessageID = %q", env.MessageID)
	}
	if env.Date.IsZero() || env.Date.Day() != 1 {
		t.Errorf("Date = %v, want Jan 1 2024", env.Date)
	}
}

// TestParseEnvelopeDecodesEncodedWords checks the RFC 2047 decode-in-place
// rule for envelope text fields.
func TestParseEnvelopeDecodesEncodedWords(t *testing.T) {
	body := `("Mon, 1 Jan 2024 00:00:00 +0000" "=?UTF-8?B?SMOpbGxv?=" (("=?UTF-8?Q?Andr=C3=A9?=" NIL "a" "x")) NIL NIL NIL NIL NIL NIL "<id@x>")`
	env, err := ParseEnvelope(body)
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if env.Subject != "Héllo" {
		t.Errorf("Subject = %q, want decoded %q", env.Subject, "Héllo")
	}
	if len(env.From) != 1 || env.From[0].Name != "André" {
		t.Errorf("From = %+v, want decoded display name", env.From)
	}
}
