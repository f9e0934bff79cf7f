// Package codec converts NETCONF messages to and from their XML wire form.
//
// Encoding wraps a message.Request in <rpc message-id="..."> (and an optional
// YANG <action>); decoding turns an <rpc-reply> into a message.Reply. Framing
// is not handled here, see package protocol.
package codec

import (
	"errors"
	"fmt"
)

type Codec interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte, v any) error
}

// ErrReplyTooLarge is returned when a reply exceeds Limits and the request
// was not flagged as a huge tree.
var ErrReplyTooLarge = errors.New("codec: reply exceeds parser limits")

// Limits bounds the replies accepted for ordinary requests.
// A zero field disables that check.
type Limits struct {
	MaxBytes int64 // total reply size
	MaxDepth int   // element nesting depth
}

// DefaultLimits mirrors the usual XML parser protections: 10 MiB, 256 levels.
var DefaultLimits = Limits{
	MaxBytes: 10 << 20,
	MaxDepth: 256,
}

func (l Limits) checkSize(n int) error {
	if l.MaxBytes > 0 && int64(n) > l.MaxBytes {
		return fmt.Errorf("%w: %d bytes, limit %d", ErrReplyTooLarge, n, l.MaxBytes)
	}
	return nil
}

func (l Limits) checkDepth(depth int) error {
	if l.MaxDepth > 0 && depth > l.MaxDepth {
		return fmt.Errorf("%w: depth %d, limit %d", ErrReplyTooLarge, depth, l.MaxDepth)
	}
	return nil
}
