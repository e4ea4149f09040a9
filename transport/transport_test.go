package transport

import (
	"net"
	"testing"
	"time"
)

func TestConnWriteRead(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tr := NewFromConn(client, Timeouts{Connect: time.Second, Read: time.Second, Write: time.Second})
	defer tr.Close()

	if !tr.Connected() {
		t.Fatalf("expected Connected() true after NewFromConn")
	}
	if tr.Secured() {
		t.Fatalf("expected Secured() false for a plain pipe")
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 5)
		server.Read(buf)
		if string(buf) != "hello" {
			t.Errorf("server got %q, want %q", buf, "hello")
		}
		server.Write([]byte("world"))
	}()

	n, err := tr.Write([]byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("write failed: n=%d err=%v", n, err)
	}

	var got []byte
	for i := 0; i < 5; i++ {
		b, ok, err := tr.ReadByte()
		if err != nil || !ok {
			t.Fatalf("read byte %d failed: ok=%v err=%v", i, ok, err)
		}
		got = append(got, b)
	}
	if string(got) != "world" {
		t.Errorf("got %q, want %q", got, "world")
	}
	<-done
}

func TestConnCloseClearsConnected(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()

	tr := NewFromConn(client, Timeouts{})
	if err := tr.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if tr.Connected() {
		t.Errorf("expected Connected() false after Close")
	}
	if _, _, err := tr.ReadByte(); err == nil {
		t.Errorf("expected read after close to fail")
	}
}
