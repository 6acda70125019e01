// Package wire implements the tagged frame stream used to move predicate
// programs, encrypted results and key material between processes.
//
// A stream is a header frame followed by any number of frames:
//
//	frame  = tag(1 byte) | length(uvarint) | payload(length bytes)
//	header = frame{tag: TagHeader, payload: "ESQL" | kind(1) | version(1)}
//
// Tags other than TagHeader are assigned by the packages that own the
// stream kind; wire only moves bytes.
package wire

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// TagHeader opens every stream.
const TagHeader byte = 0x00

// Version is the current stream format version.
const Version byte = 1

// MaxPayload bounds a single frame. Ciphertexts at LogN 15 are a few MiB.
const MaxPayload = 1 << 30

// initialPayload caps the buffer reserved up front for a frame.
const initialPayload = 64 << 10

var magic = []byte("ESQL")

// Kind identifies what a stream carries.
type Kind byte

const (
	KindProgram Kind = 'P'
	KindResult  Kind = 'R'
	KindKey     Kind = 'K'
	KindRow     Kind = 'W' // one stored table row
)

// ErrBadHeader is returned when a stream does not start with a valid header.
var ErrBadHeader = errors.New("wire: bad stream header")

// Frame is one tagged payload.
type Frame struct {
	Tag     byte
	Payload []byte
}

// Writer writes frames to an underlying writer.
type Writer struct {
	w   *bufio.Writer
	buf [binary.MaxVarintLen64]byte
}

// NewWriter creates a Writer and writes the stream header for kind.
func NewWriter(w io.Writer, kind Kind) (*Writer, error) {
	fw := &Writer{w: bufio.NewWriter(w)}
	hdr := append(append([]byte{}, magic...), byte(kind), Version)
	if err := fw.Write(TagHeader, hdr); err != nil {
		return nil, err
	}
	return fw, nil
}

// Write appends one frame.
func (w *Writer) Write(tag byte, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("wire: payload of %d bytes exceeds limit", len(payload))
	}
	if err := w.w.WriteByte(tag); err != nil {
		return err
	}
	n := binary.PutUvarint(w.buf[:], uint64(len(payload)))
	if _, err := w.w.Write(w.buf[:n]); err != nil {
		return err
	}
	_, err := w.w.Write(payload)
	return err
}

// Flush writes any buffered data to the underlying writer.
func (w *Writer) Flush() error {
	return w.w.Flush()
}

// Reader reads frames from an underlying reader.
type Reader struct {
	r *bufio.Reader
}

// NewReader creates a Reader and validates that the stream header matches kind.
func NewReader(r io.Reader, kind Kind) (*Reader, error) {
	fr := &Reader{r: bufio.NewReader(r)}
	f, err := fr.Next()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrBadHeader
		}
		return nil, err
	}
	if f.Tag != TagHeader || len(f.Payload) != len(magic)+2 || !bytes.Equal(f.Payload[:len(magic)], magic) {
		return nil, ErrBadHeader
	}
	if got := Kind(f.Payload[len(magic)]); got != kind {
		return nil, fmt.Errorf("%w: stream kind %q, want %q", ErrBadHeader, got, kind)
	}
	if v := f.Payload[len(magic)+1]; v != Version {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrBadHeader, v)
	}
	return fr, nil
}

// Next returns the next frame. It returns io.EOF cleanly at the end of the
// stream and io.ErrUnexpectedEOF if the stream ends inside a frame.
func (r *Reader) Next() (Frame, error) {
	tag, err := r.r.ReadByte()
	if err != nil {
		return Frame{}, err
	}
	n, err := binary.ReadUvarint(r.r)
	if err != nil {
		return Frame{}, unexpected(err)
	}
	if n > MaxPayload {
		return Frame{}, fmt.Errorf("wire: frame length %d exceeds limit", n)
	}
	// The declared length is untrusted: the buffer grows only as bytes
	// arrive, so a short stream cannot force a large allocation.
	var buf bytes.Buffer
	buf.Grow(int(min(n, initialPayload)))
	if _, err := io.CopyN(&buf, r.r, int64(n)); err != nil {
		return Frame{}, unexpected(err)
	}
	return Frame{Tag: tag, Payload: buf.Bytes()}, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// CountingWriter counts the bytes written through it. It lets WriteTo
// implementations report their length.
type CountingWriter struct {
	W io.Writer
	N int64
}

// Write implements io.Writer.
func (c *CountingWriter) Write(p []byte) (int, error) {
	n, err := c.W.Write(p)
	c.N += int64(n)
	return n, err
}
