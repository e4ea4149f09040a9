package mime

import (
	"crypto/rand"
)

// Layout is one of the eight multipart trees spec §4.F enumerates. The
// "P" suffix in the spec (2P, 3P, ...) marks the presence of at least one
// TypeParallel attachment, which this module tracks as a bool on Plan
// rather than doubling the enum.
type Layout int

const (
	Layout1 Layout = iota + 1 // text/plain OR text/html only
	Layout2                   // mixed(alternative(text, related(html, inline*)), attachment*)
	Layout3                   // mixed(related(html, inline*), attachment*)
	Layout4                   // mixed(alternative(text, html), attachment*)
	Layout5                   // mixed(singlepart, attachment*)
	Layout6                   // alternative(text, related(html, inline*))
	Layout7                   // related(html, inline*)
	Layout8                   // alternative(text, html)
)

// Plan is the computed content-type tree for one SMTPMessage: the chosen
// Layout plus the boundary strings generated once per multipart node,
// spec §4.F / §3 "Content-type tree".
type Plan struct {
	Layout        Layout
	HasParallel   bool
	MixedBoundary string
	AltBoundary   string
	RelBoundary   string
}

const boundaryAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789+/"

// NewBoundary returns a 15-character boundary string drawn from the
// 64-symbol printable alphabet spec §3 specifies.
func NewBoundary() string {
	const n = 15
	buf := make([]byte, n)
	rand.Read(buf)
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = boundaryAlphabet[int(b)%len(boundaryAlphabet)]
	}
	return string(out)
}

// ValidBoundary reports whether s is safe to use as a multipart boundary
// (printable ASCII, not empty, at most 70 characters). The composer does
// not call it and takes no caller-supplied boundaries: every boundary it
// emits comes from NewBoundary.
func ValidBoundary(s string) bool {
	if s == "" || len(s) > 70 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < 0x20 || s[i] > 0x7e {
			return false
		}
	}
	return true
}

// PlanLayout selects the layout and allocates boundaries for msg. Call
// ResolveInlineDowngrade first so hasInline() reflects the downgrade
// rule.
func PlanLayout(msg *SMTPMessage) *Plan {
	hasText := !msg.Text.empty() || msg.Text.Source.Kind == SourceFile
	hasHTML := !msg.HTML.empty() || msg.HTML.Source.Kind == SourceFile
	hasInline := msg.hasInline()
	hasAttachment := false
	hasParallel := false
	for _, a := range msg.Attachments {
		switch a.Type {
		case TypeAttachment:
			hasAttachment = true
		case TypeParallel:
			hasParallel = true
		}
	}
	hasRFC822 := len(msg.RFC822) > 0

	p := &Plan{HasParallel: hasParallel}
	hasExtra := hasAttachment || hasParallel || hasRFC822

	switch {
	case hasExtra && hasInline && hasText && hasHTML:
		p.Layout = Layout2
		p.MixedBoundary, p.AltBoundary, p.RelBoundary = NewBoundary(), NewBoundary(), NewBoundary()
	case hasExtra && hasInline && !hasText && hasHTML:
		p.Layout = Layout3
		p.MixedBoundary, p.RelBoundary = NewBoundary(), NewBoundary()
	case hasExtra && hasText && hasHTML:
		p.Layout = Layout4
		p.MixedBoundary, p.AltBoundary = NewBoundary(), NewBoundary()
	case hasExtra:
		// Singlepart (text xor html, or neither) plus attachment/rfc822.
		p.Layout = Layout5
		p.MixedBoundary = NewBoundary()
	case hasInline && hasText && hasHTML:
		p.Layout = Layout6
		p.AltBoundary, p.RelBoundary = NewBoundary(), NewBoundary()
	case hasInline && !hasText && hasHTML:
		p.Layout = Layout7
		p.RelBoundary = NewBoundary()
	case hasText && hasHTML:
		p.Layout = Layout8
		p.AltBoundary = NewBoundary()
	default:
		// Singlepart text, singlepart html, or an empty message.
		p.Layout = Layout1
	}

	return p
}
