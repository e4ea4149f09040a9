package mime

import (
	"fmt"

	"github.com/ashgrovemail/mailkit/codec"
)

// DefaultPartSizeLimit and MaxPartSizeLimit implement spec §4.G's size
// policy: parts larger than the limit are delivered with Fetch=false by
// default, and the limit itself is capped at 5 MiB even if a caller asks
// for more.
const (
	DefaultPartSizeLimit = 1 << 20
	MaxPartSizeLimit     = 5 << 20
)

// ClampPartSizeLimit enforces the 5 MiB ceiling spec §4.G names.
func ClampPartSizeLimit(requested int64) int64 {
	if requested <= 0 {
		return DefaultPartSizeLimit
	}
	if requested > MaxPartSizeLimit {
		return MaxPartSizeLimit
	}
	return requested
}

// TextDecodeHook lets a caller replace the charset transcoding step of
// the decode pipeline for text/* parts, spec §4.G point 5. It receives
// the part's declared charset and the bytes after transfer decoding
// (base64 and quoted-printable are already undone) and returns the
// decoded UTF-8 text; the transfer decoding itself is not replaceable.
// If the hook returns an error, the built-in transcoder is used instead.
type TextDecodeHook func(charset string, in []byte) (string, error)

// Chunk is one delivery to the file callback, spec §3's file_ctx.chunk.
type Chunk struct {
	Data       []byte
	Index      int64 // offset of Data[0] within the decoded stream
	IsComplete bool
}

// FileCtx tracks one BODYSTRUCTURE leaf through a FETCH body download,
// spec §3's file_ctx.
type FileCtx struct {
	Part *PartNode
	Fetch bool // whether the consumer still wants this part's body

	decodedLen int64
	qpBuffer   []byte
	pendingRaw []byte // leftover undecoded bytes (base64 group remainder)
	hook       TextDecodeHook
}

// NewFileCtx creates a FileCtx for part, applying the size policy: parts
// over limit default to Fetch=false unless the caller opts in via the
// data callback before body fetches begin (spec §4.G size policy).
func NewFileCtx(part *PartNode, limit int64, optedIn bool) *FileCtx {
	fc := &FileCtx{Part: part, Fetch: true}
	if part.Size > limit && !optedIn {
		fc.Fetch = false
	}
	return fc
}

// SetTextDecodeHook installs a per-part override for the charset step.
func (fc *FileCtx) SetTextDecodeHook(hook TextDecodeHook) { fc.hook = hook }

// DecodedLen reports how many decoded bytes have been emitted so far.
func (fc *FileCtx) DecodedLen() int64 { return fc.decodedLen }

// ConsumeLine feeds one line of the part's octet stream (without its
// trailing CRLF) through the decode pipeline spec §4.G describes, and
// returns zero or more chunks to deliver. isLast marks the line that
// preceded the part's closing ")\r\n" (imap.Client.FetchPart extracts the
// content and flushes once the tagged response arrives). A nil line with isLast=true is a pure flush: it
// drains any buffered soft-break data and emits the completion chunk
// without contributing content of its own.
func (fc *FileCtx) ConsumeLine(line []byte, isLast bool) ([]Chunk, error) {
	if !fc.Fetch {
		if isLast {
			return []Chunk{{IsComplete: true, Index: fc.decodedLen}}, nil
		}
		return nil, nil
	}

	var chunks []Chunk

	if line != nil {
		switch fc.Part.TransferEncoding {
		case EncQuotedPrintable:
			chunks = fc.consumeQP(line, isLast)
		default:
			decoded, err := fc.decodeRaw(line)
			if err != nil {
				return nil, err
			}
			if len(decoded) > 0 {
				chunks = append(chunks, fc.emit(decoded))
			}
		}
	}

	if isLast {
		if fc.Part.TransferEncoding == EncQuotedPrintable && len(fc.qpBuffer) > 0 {
			chunks = append(chunks, fc.flushQP()...)
		}
		chunks = append(chunks, Chunk{IsComplete: true, Index: fc.decodedLen})
	}
	return chunks, nil
}

// consumeQP implements the QP-specific buffering in spec §4.G step 2: a
// trailing "=\r\n" soft break means wait for the next line; the buffer
// flushes once it exceeds 1024 bytes or a non-soft-break line arrives.
func (fc *FileCtx) consumeQP(line []byte, isLast bool) []Chunk {
	fc.qpBuffer = append(fc.qpBuffer, line...)
	softBreak := len(line) >= 1 && line[len(line)-1] == '=' && !isLast

	if softBreak {
		fc.qpBuffer = append(fc.qpBuffer, '\n') // restore the line join point for QPDecode
		if len(fc.qpBuffer) > 1024 {
			return fc.flushQP()
		}
		return nil
	}

	fc.qpBuffer = append(fc.qpBuffer, '\n')
	return fc.flushQP()
}

func (fc *FileCtx) flushQP() []Chunk {
	if len(fc.qpBuffer) == 0 {
		return nil
	}
	decoded := qpDecodeAndTranscode(fc.qpBuffer, fc.Part, fc.hook)
	fc.qpBuffer = nil
	if len(decoded) == 0 {
		return nil
	}
	return []Chunk{fc.emit(decoded)}
}

func (fc *FileCtx) decodeRaw(line []byte) ([]byte, error) {
	switch fc.Part.TransferEncoding {
	case EncBase64:
		fc.pendingRaw = append(fc.pendingRaw, line...)
		// Decode whole 4-char groups now, keep any remainder for the
		// next line so a group split across FETCH lines still decodes
		// correctly.
		usable := len(fc.pendingRaw) - len(fc.pendingRaw)%4
		if usable == 0 {
			return nil, nil
		}
		decoded := codec.Base64Decode(string(fc.pendingRaw[:usable]))
		fc.pendingRaw = append([]byte(nil), fc.pendingRaw[usable:]...)
		return fc.transcodeIfText(decoded), nil
	case Enc7Bit, Enc8Bit, EncBinary, EncUndefined:
		return fc.transcodeIfText(append(append([]byte(nil), line...), '\n')), nil
	default:
		return nil, fmt.Errorf("mime: unsupported transfer encoding %v", fc.Part.TransferEncoding)
	}
}

func (fc *FileCtx) transcodeIfText(raw []byte) []byte {
	if !fc.Part.IsTextPart() {
		return raw
	}
	if fc.hook != nil {
		out, err := fc.hook(fc.Part.Charset, raw)
		if err == nil {
			return []byte(out)
		}
	}
	return []byte(codec.TranscoderFor(fc.Part.Charset).ToUTF8(raw))
}

func qpDecodeAndTranscode(buf []byte, part *PartNode, hook TextDecodeHook) []byte {
	decoded := codec.QPDecode(buf)
	if !part.IsTextPart() {
		return decoded
	}
	if hook != nil {
		out, err := hook(part.Charset, decoded)
		if err == nil {
			return []byte(out)
		}
	}
	return []byte(codec.TranscoderFor(part.Charset).ToUTF8(decoded))
}

func (fc *FileCtx) emit(data []byte) Chunk {
	c := Chunk{Data: data, Index: fc.decodedLen}
	fc.decodedLen += int64(len(data))
	return c
}
