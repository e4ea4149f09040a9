package mime

import "testing"

func concatChunks(chunks []Chunk) ([]byte, bool) {
	var out []byte
	complete := false
	for _, c := range chunks {
		out = append(out, c.Data...)
		if c.IsComplete {
			complete = true
		}
	}
	return out, complete
}

func TestFileCtxBase64SplitAcrossLines(t *testing.T) {
	part := &PartNode{MIMEType: "application", MIMESubtype: "octet-stream", TransferEncoding: EncBase64}
	fc := NewFileCtx(part, DefaultPartSizeLimit, false)

	full := "aGVsbG8gd29ybGQ=" // "hello world"
	var got []byte
	lines := []string{full[:10], full[10:]}
	for i, l := range lines {
		chunks, err := fc.ConsumeLine([]byte(l), i == len(lines)-1)
		if err != nil {
			t.Fatalf("ConsumeLine: %v", err)
		}
		data, complete := concatChunks(chunks)
		got = append(got, data...)
		if i == len(lines)-1 && !complete {
			t.Fatal("expected final chunk to mark complete")
		}
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q, want %q", got, "hello world")
	}
}

func TestFileCtxQPSoftBreakJoinsLines(t *testing.T) {
	part := &PartNode{MIMEType: "text", MIMESubtype: "plain", Charset: "us-ascii", TransferEncoding: EncQuotedPrintable}
	fc := NewFileCtx(part, DefaultPartSizeLimit, false)

	var got []byte
	lines := []string{"hello=", "world"}
	for i, l := range lines {
		chunks, err := fc.ConsumeLine([]byte(l), i == len(lines)-1)
		if err != nil {
			t.Fatalf("ConsumeLine: %v", err)
		}
		data, _ := concatChunks(chunks)
		got = append(got, data...)
	}
	if string(got) != "helloworld\n" {
		t.Fatalf("got %q, want %q", got, "helloworld\n")
	}
}

func TestFileCtxSizePolicySkipsFetch(t *testing.T) {
	part := &PartNode{MIMEType: "application", MIMESubtype: "octet-stream", TransferEncoding: Enc8Bit, Size: 10 << 20}
	fc := NewFileCtx(part, DefaultPartSizeLimit, false)
	if fc.Fetch {
		t.Fatal("expected Fetch=false for oversized part without opt-in")
	}
	chunks, err := fc.ConsumeLine([]byte("anything"), true)
	if err != nil {
		t.Fatalf("ConsumeLine: %v", err)
	}
	if len(chunks) != 1 || !chunks[0].IsComplete || chunks[0].Data != nil {
		t.Fatalf("expected a single empty completion chunk, got %+v", chunks)
	}
}

func TestFileCtxTextDecodeHookOverride(t *testing.T) {
	part := &PartNode{MIMEType: "text", MIMESubtype: "plain", Charset: "windows-1250", TransferEncoding: Enc8Bit}
	fc := NewFileCtx(part, DefaultPartSizeLimit, false)
	fc.SetTextDecodeHook(func(charset string, in []byte) (string, error) {
		return "HOOKED:" + string(in), nil
	})
	chunks, err := fc.ConsumeLine([]byte("abc"), true)
	if err != nil {
		t.Fatalf("ConsumeLine: %v", err)
	}
	data, complete := concatChunks(chunks)
	if !complete {
		t.Fatal("expected completion")
	}
	if string(data) != "HOOKED:abc\n" {
		t.Fatalf("got %q", data)
	}
}

func TestClampPartSizeLimit(t *testing.T) {
	cases := []struct {
		in, want int64
	}{
		{0, DefaultPartSizeLimit},
		{-1, DefaultPartSizeLimit},
		{2 << 20, 2 << 20},
		{10 << 20, MaxPartSizeLimit},
	}
	for _, c := range cases {
		if got := ClampPartSizeLimit(c.in); got != c.want {
			t.Errorf("ClampPartSizeLimit(%d) = %d, want %d", c.in, got, c.want)
		}
	}
}
