// Package protocol carries NETCONF messages over a byte stream.
//
// RFC 6242 framing is handled by the rfc6242 codec:
//
//	base:1.0  end-of-message:  <message bytes>]]>]]>
//	base:1.1  chunked:         \n#<len>\n<len bytes> ... \n##\n
//
// The decoded stream is cut into messages by XML structure: a message is one
// top-level element. Its bytes are collected as they are tokenized, so a size
// limit stops the read before an oversized message is buffered.
//
// The framing is chosen during the hello exchange, which happens outside this
// package; callers pass the framing they agreed on.
package protocol

import (
	"bufio"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/damianoneill/net/v2/netconf/common/codec/rfc6242"
)

// Framing selects how message boundaries are marked on the stream.
type Framing byte

const (
	FramingEOM     Framing = 0 // base:1.0 end-of-message delimiter
	FramingChunked Framing = 1 // base:1.1 chunked framing
)

// EndOfMessage is the base:1.0 delimiter.
const EndOfMessage = "]]>]]>"

// maxProlog bounds what may precede the root element of a message
// (XML declaration, whitespace, stray text).
const maxProlog = 64 << 10

// ErrFrameTooLarge is returned by ReadMessage when a message exceeds its limit.
var ErrFrameTooLarge = errors.New("protocol: frame exceeds size limit")

func (f Framing) String() string {
	switch f {
	case FramingEOM:
		return "eom"
	case FramingChunked:
		return "chunked"
	default:
		return fmt.Sprintf("framing(%d)", byte(f))
	}
}

// ParseFraming accepts "eom"/"1.0" and "chunked"/"1.1".
func ParseFraming(s string) (Framing, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "eom", "1.0", "base:1.0":
		return FramingEOM, nil
	case "chunked", "1.1", "base:1.1":
		return FramingChunked, nil
	default:
		return 0, fmt.Errorf("unknown framing %q", s)
	}
}

// LimitFunc returns the size limit in bytes for the message whose root
// element is root. Zero means unlimited.
type LimitFunc func(root xml.StartElement) int64

// Limit applies the same limit to every message.
func Limit(n int64) LimitFunc {
	return func(xml.StartElement) int64 { return n }
}

// Framer reads and writes whole messages on one stream. One goroutine may
// read while another writes; concurrent writers need their own lock.
type Framer struct {
	framing Framing
	dec     *rfc6242.Decoder
	enc     *rfc6242.Encoder
	out     *bufio.Writer
	in      *recorder
}

func NewFramer(rw io.ReadWriter, f Framing) (*Framer, error) {
	if f != FramingEOM && f != FramingChunked {
		return nil, fmt.Errorf("protocol: unsupported framing %d", byte(f))
	}

	out := bufio.NewWriterSize(rw, 64<<10)
	dec := rfc6242.NewDecoder(rw)
	enc := rfc6242.NewEncoder(out)
	if f == FramingChunked {
		rfc6242.SetChunkedFraming(dec, enc)
	}
	return &Framer{
		framing: f,
		dec:     dec,
		enc:     enc,
		out:     out,
		in:      &recorder{r: bufio.NewReader(dec)},
	}, nil
}

func (fr *Framer) Framing() Framing {
	return fr.framing
}

// WriteMessage frames body as one message and flushes it.
func (fr *Framer) WriteMessage(body []byte) error {
	if fr.framing == FramingEOM && bytes.Contains(body, []byte(EndOfMessage)) {
		return fmt.Errorf("protocol: message body contains %q", EndOfMessage)
	}
	if _, err := fr.enc.Write(body); err != nil {
		return err
	}
	if err := fr.enc.EndOfMessage(); err != nil {
		return err
	}
	return fr.out.Flush()
}

// ReadMessage returns the next message: the bytes of one top-level element,
// without any XML declaration in front of it. It returns io.EOF when the
// stream ends between messages.
//
// limit is consulted once the root start tag is read; a message growing past
// it fails with ErrFrameTooLarge and the stream cannot be read further.
func (fr *Framer) ReadMessage(limit LimitFunc) ([]byte, error) {
	rec := fr.in
	rec.reset(maxProlog)

	// A fresh decoder per message keeps namespace and error state from
	// leaking across messages. rec is an io.ByteReader, so the decoder reads
	// no further than the end of the root element.
	d := xml.NewDecoder(rec)
	depth := 0
	for {
		offset := d.InputOffset()
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) && depth == 0 {
				return nil, io.EOF
			}
			if depth > 0 && !errors.Is(err, ErrFrameTooLarge) && rec.eof {
				return nil, io.ErrUnexpectedEOF
			}
			return nil, err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				rec.startAt(offset)
				if limit != nil {
					rec.limit = limit(t)
				} else {
					rec.limit = 0
				}
			}
			depth++
		case xml.EndElement:
			depth--
			if depth == 0 {
				return rec.message(), nil
			}
		}
	}
}

// recorder keeps a copy of every byte the XML decoder consumes.
type recorder struct {
	r     *bufio.Reader
	buf   bytes.Buffer
	limit int64 // 0 means unlimited
	eof   bool
}

func (rec *recorder) reset(limit int64) {
	rec.buf.Reset()
	rec.limit = limit
	rec.eof = false
}

// startAt drops what was read before the root element.
func (rec *recorder) startAt(offset int64) {
	rec.buf.Next(int(offset))
}

func (rec *recorder) message() []byte {
	return bytes.Clone(rec.buf.Bytes())
}

func (rec *recorder) ReadByte() (byte, error) {
	if rec.limit > 0 && int64(rec.buf.Len()) >= rec.limit {
		return 0, ErrFrameTooLarge
	}
	b, err := rec.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			rec.eof = true
		}
		return 0, err
	}
	rec.buf.WriteByte(b)
	return b, nil
}
