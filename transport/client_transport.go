// Package transport implements the client side of a NETCONF session with
// request multiplexing.
//
// ClientTransport lets several goroutines issue RPCs over one stream. Each
// request gets a unique message-id, and a background goroutine (recvLoop)
// reads replies and routes them to the waiting caller.
//
//	goroutine-1 ──Send(message-id=1)──┐
//	goroutine-2 ──Send(message-id=2)──┼──→ one stream ──→ router
//	goroutine-3 ──Send(message-id=3)──┘
//
//	recvLoop:  ←── <rpc-reply message-id="2"> → pending["2"] → goroutine-2 wakes up
//
// The stream must already be past the hello exchange; framing is supplied by
// the caller.
package transport

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"sros-rpc/codec"
	"sros-rpc/message"
	"sros-rpc/protocol"
)

// ErrClosed is delivered to pending calls when the transport is closed.
var ErrClosed = errors.New("transport: closed")

// Result is what a caller receives on the channel returned by Send.
type Result struct {
	Reply *message.Reply
	Err   error
}

type pendingCall struct {
	ch       chan Result
	hugeTree bool
}

// ClientTransport manages one multiplexed NETCONF stream.
type ClientTransport struct {
	conn    io.ReadWriteCloser
	framer  *protocol.Framer
	codec   *codec.XMLCodec
	logger  *zap.Logger

	seq     uint64     // last message-id, protected by sending
	err     error      // terminal stream error, protected by sending
	current string     // message-id of the reply being read, recvLoop only
	sending sync.Mutex // serialises frame writes
	pending sync.Map   // map[string]*pendingCall

	closed atomic.Bool
	done   chan struct{}
}

type Option func(*ClientTransport)

// WithLimits sets the parser limits applied to replies of ordinary requests.
func WithLimits(l codec.Limits) Option {
	return func(t *ClientTransport) { t.codec.Limits = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(t *ClientTransport) { t.logger = l }
}

// NewClientTransport wraps conn and starts the receive loop.
func NewClientTransport(conn io.ReadWriteCloser, framing protocol.Framing, opts ...Option) (*ClientTransport, error) {
	framer, err := protocol.NewFramer(conn, framing)
	if err != nil {
		return nil, err
	}
	t := &ClientTransport{
		conn:   conn,
		framer: framer,
		codec:  &codec.XMLCodec{Limits: codec.DefaultLimits},
		logger: zap.NewNop(),
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	go t.recvLoop()
	return t, nil
}

// Send encodes req and writes it to the stream.
// It returns the message-id and a channel that receives exactly one Result.
func (t *ClientTransport) Send(req *message.Request) (string, <-chan Result, error) {
	t.sending.Lock()
	defer t.sending.Unlock()

	if t.err != nil {
		return "", nil, t.err
	}

	t.seq++
	id := strconv.FormatUint(t.seq, 10)

	body, err := t.codec.Encode(&message.RPC{MessageID: id, Request: req})
	if err != nil {
		return "", nil, err
	}

	// Register before writing so a fast reply cannot race recvLoop.
	ch := make(chan Result, 1)
	t.pending.Store(id, &pendingCall{ch: ch, hugeTree: req.HugeTree})

	if err := t.framer.WriteMessage(body); err != nil {
		t.pending.Delete(id)
		return "", nil, err
	}

	t.logger.Debug("rpc sent",
		zap.String("message_id", id),
		zap.String("operation", req.Name()),
		zap.Int("bytes", len(body)))
	return id, ch, nil
}

// Forget drops a pending call, e.g. after its context was cancelled.
// A reply that arrives later is discarded.
func (t *ClientTransport) Forget(id string) {
	t.pending.Delete(id)
}

// Close closes the stream. Pending calls fail with ErrClosed.
func (t *ClientTransport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	err := t.conn.Close()
	<-t.done
	return err
}

// Done is closed once the receive loop has exited.
func (t *ClientTransport) Done() <-chan struct{} {
	return t.done
}

// recvLoop is the single reader of the stream: frames must be read
// sequentially to find message boundaries.
func (t *ClientTransport) recvLoop() {
	defer close(t.done)

	for {
		t.current = ""
		body, err := t.framer.ReadMessage(t.limit)
		if err != nil {
			if t.closed.Load() {
				err = ErrClosed
			}
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				t.reject(err)
			}
			t.fail(err)
			return
		}

		var reply message.Reply
		if err := t.codec.Decode(body, &reply); err != nil {
			// Without a message-id the reply cannot be routed.
			t.logger.Warn("dropping undecodable reply", zap.Error(err))
			continue
		}

		v, ok := t.pending.LoadAndDelete(reply.MessageID)
		if !ok {
			t.logger.Debug("dropping reply with no pending call", zap.String("message_id", reply.MessageID))
			continue
		}
		call := v.(*pendingCall)

		result := Result{Reply: &reply}
		if !call.hugeTree {
			if err := t.codec.Check(&reply); err != nil {
				result = Result{Err: err}
			}
		}
		call.ch <- result
	}
}

// limit picks the size limit for a reply once its message-id is known:
// replies to huge-tree requests are read whole.
func (t *ClientTransport) limit(root xml.StartElement) int64 {
	for _, attr := range root.Attr {
		if attr.Name.Local == "message-id" {
			t.current = attr.Value
			break
		}
	}
	if v, ok := t.pending.Load(t.current); ok && v.(*pendingCall).hugeTree {
		return 0
	}
	return t.codec.Limits.MaxBytes
}

// reject fails the call whose reply outgrew the limit with
// codec.ErrReplyTooLarge. The rest of the stream is unreadable, so other
// calls fail with the stream error.
func (t *ClientTransport) reject(err error) {
	v, ok := t.pending.LoadAndDelete(t.current)
	if !ok {
		return
	}
	v.(*pendingCall).ch <- Result{Err: fmt.Errorf("%w: %w", codec.ErrReplyTooLarge, err)}
}

// fail records the terminal error and notifies every pending caller so none
// of them blocks forever.
func (t *ClientTransport) fail(err error) {
	t.sending.Lock()
	t.err = err
	t.sending.Unlock()

	if !errors.Is(err, ErrClosed) {
		t.logger.Warn("netconf stream failed", zap.Error(err))
	}

	t.pending.Range(func(key, value any) bool {
		if _, ok := t.pending.LoadAndDelete(key); ok {
			value.(*pendingCall).ch <- Result{Err: err}
		}
		return true
	})
}
