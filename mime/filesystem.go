package mime

import (
	"bytes"
	"errors"
	"io"
)

// ErrNoFileSystem is returned when a Source references a file path but no
// FileSystem collaborator was configured.
var ErrNoFileSystem = errors.New("mime: no filesystem configured")

// ReadCloser is the minimal reader contract a Source.Open() returns.
type ReadCloser interface {
	io.Reader
	io.Closer
}

// FileMode mirrors spec §6's file callback "mode ∈ {read, write, append,
// remove}".
type FileMode int

const (
	FileModeRead FileMode = iota
	FileModeWrite
	FileModeAppend
	FileModeRemove
)

// FileSystem is the external collaborator spec §1 calls out: "the
// filesystem abstraction for attachments/body parts (open-for-read /
// open-for-write / append / delete at a path)". mailkit never touches a
// real filesystem itself; callers that want attachment streaming or
// FETCH-to-disk supply an implementation (e.g. backed by os.Open, or an
// in-memory fake in tests).
type FileSystem interface {
	OpenRead(path string) (ReadCloser, error)
	OpenWrite(path string) (io.WriteCloser, error)
	OpenAppend(path string) (io.WriteCloser, error)
	Remove(path string) error
}

type byteReader struct {
	*bytes.Reader
}

func newByteReader(b []byte) ReadCloser {
	return byteReader{bytes.NewReader(b)}
}

func (byteReader) Close() error { return nil }
