package transport

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/beevik/etree"

	"sros-rpc/codec"
	"sros-rpc/message"
	"sros-rpc/protocol"
	"sros-rpc/server"
)

// echoServer answers <echo>text</echo> with <echo>text</echo> in <data>,
// and <big/> with 21 nested <level> elements.
func echoServer(t *testing.T, framing protocol.Framing) net.Addr {
	t.Helper()

	svr := server.NewServer(framing)
	svr.Handle("echo", func(ctx context.Context, op *etree.Element) (*etree.Element, error) {
		out := etree.NewElement("echo")
		out.SetText(op.Text())
		return out, nil
	})
	svr.Handle("big", func(ctx context.Context, op *etree.Element) (*etree.Element, error) {
		root := etree.NewElement("level")
		node := root
		for i := 0; i < 20; i++ {
			node = node.CreateElement("level")
		}
		return root, nil
	})

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go svr.Serve(l)
	t.Cleanup(func() { svr.Shutdown(time.Second) })
	return l.Addr()
}

func dial(t *testing.T, addr net.Addr, framing protocol.Framing, opts ...Option) *ClientTransport {
	t.Helper()
	conn, err := net.Dial("tcp", addr.String())
	if err != nil {
		t.Fatal(err)
	}
	ct, err := NewClientTransport(conn, framing, opts...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ct.Close() })
	return ct
}

func echoRequest(text string) *message.Request {
	op := etree.NewElement("echo")
	op.SetText(text)
	return &message.Request{Operation: op}
}

// Several requests in sequence on one stream.
func TestClientTransportSerial(t *testing.T) {
	for _, framing := range []protocol.Framing{protocol.FramingEOM, protocol.FramingChunked} {
		ct := dial(t, echoServer(t, framing), framing)

		for i, text := range []string{"one", "two", "three"} {
			id, ch, err := ct.Send(echoRequest(text))
			if err != nil {
				t.Fatal(err)
			}
			if want := string(rune('1' + i)); id != want {
				t.Fatalf("%s: expect message-id %s, got %s", framing, want, id)
			}

			res := <-ch
			if res.Err != nil {
				t.Fatalf("%s: transport error: %v", framing, res.Err)
			}
			if res.Reply.MessageID != id {
				t.Fatalf("%s: reply for %s routed to %s", framing, res.Reply.MessageID, id)
			}
			if got := res.Reply.Data.SelectElement("echo").Text(); got != text {
				t.Fatalf("%s: expect %s, got %s", framing, text, got)
			}
		}
	}
}

// Concurrent requests on one stream: the multiplexing core.
func TestClientTransportConcurrent(t *testing.T) {
	ct := dial(t, echoServer(t, protocol.FramingChunked), protocol.FramingChunked)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()

			text := strings.Repeat("x", n+1)
			_, ch, err := ct.Send(echoRequest(text))
			if err != nil {
				t.Errorf("send failed: %v", err)
				return
			}

			res := <-ch
			if res.Err != nil {
				t.Errorf("transport error: %v", res.Err)
				return
			}
			if got := res.Reply.Data.SelectElement("echo").Text(); got != text {
				t.Errorf("expect %d bytes, got %d", len(text), len(got))
			}
		}(i)
	}

	wg.Wait()
}

func TestClientTransportLimits(t *testing.T) {
	limits := codec.Limits{MaxDepth: 8}
	ct := dial(t, echoServer(t, protocol.FramingEOM), protocol.FramingEOM, WithLimits(limits))

	big := &message.Request{Operation: etree.NewElement("big")}
	_, ch, err := ct.Send(big)
	if err != nil {
		t.Fatal(err)
	}
	if res := <-ch; !errors.Is(res.Err, codec.ErrReplyTooLarge) {
		t.Fatalf("expect ErrReplyTooLarge, got %v", res.Err)
	}

	// The same reply is accepted when the request expects a huge tree.
	huge := &message.Request{Operation: etree.NewElement("big"), HugeTree: true}
	_, ch, err = ct.Send(huge)
	if err != nil {
		t.Fatal(err)
	}
	if res := <-ch; res.Err != nil {
		t.Fatalf("huge tree request failed: %v", res.Err)
	}
}

// pipe returns a transport on one end of a pipe and a framer on the other.
func pipe(t *testing.T, opts ...Option) (*ClientTransport, *protocol.Framer, net.Conn) {
	t.Helper()
	client, peer := net.Pipe()
	ct, err := NewClientTransport(client, protocol.FramingEOM, opts...)
	if err != nil {
		t.Fatal(err)
	}
	framer, err := protocol.NewFramer(peer, protocol.FramingEOM)
	if err != nil {
		t.Fatal(err)
	}
	return ct, framer, peer
}

func TestClientTransportClosePendingCalls(t *testing.T) {
	ct, _, peer := pipe(t)

	// Consume the request without ever answering it.
	go func() {
		buf := make([]byte, 4096)
		for {
			if _, err := peer.Read(buf); err != nil {
				return
			}
		}
	}()

	_, ch, err := ct.Send(echoRequest("never answered"))
	if err != nil {
		t.Fatal(err)
	}

	if err := ct.Close(); err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-ch:
		if !errors.Is(res.Err, ErrClosed) {
			t.Fatalf("expect ErrClosed, got %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("pending call not released on close")
	}

	if _, _, err := ct.Send(echoRequest("after close")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expect ErrClosed on send after close, got %v", err)
	}
	peer.Close()
}

func TestClientTransportPeerHangUp(t *testing.T) {
	ct, framer, peer := pipe(t)
	defer ct.Close()

	go func() {
		framer.ReadMessage(nil)
		peer.Close()
	}()

	_, ch, err := ct.Send(echoRequest("hello?"))
	if err != nil {
		t.Fatal(err)
	}

	select {
	case res := <-ch:
		if res.Err == nil {
			t.Fatal("expect an error after the peer hung up")
		}
	case <-time.After(time.Second):
		t.Fatal("pending call not released after hang-up")
	}
}

func TestClientTransportDropsUnknownReplies(t *testing.T) {
	ct, framer, peer := pipe(t)
	defer ct.Close()
	defer peer.Close()

	go func() {
		framer.ReadMessage(nil)
		// A stray reply, a message that is not an rpc-reply and stray
		// text first, then the real one.
		framer.WriteMessage([]byte(`<rpc-reply message-id="999"><ok/></rpc-reply>`))
		framer.WriteMessage([]byte(`<hello/>`))
		framer.WriteMessage([]byte(`not xml`))
		framer.WriteMessage([]byte(`<rpc-reply message-id="1"><ok/></rpc-reply>`))
	}()

	_, ch, err := ct.Send(echoRequest("ping"))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case res := <-ch:
		if res.Err != nil || !res.Reply.OK {
			t.Fatalf("expect ok reply, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatal("no reply")
	}
}

// An oversized reply is cut off while it is read, not after.
func TestClientTransportOversizedReply(t *testing.T) {
	ct, framer, peer := pipe(t, WithLimits(codec.Limits{MaxBytes: 1024}))
	defer ct.Close()
	defer peer.Close()

	go func() {
		framer.ReadMessage(nil)
		body := `<rpc-reply message-id="1"><data>` + strings.Repeat("x", 1<<20) + `</data></rpc-reply>`
		framer.WriteMessage([]byte(body))
	}()

	_, ch, err := ct.Send(echoRequest("ping"))
	if err != nil {
		t.Fatal(err)
	}
	select {
	case res := <-ch:
		if !errors.Is(res.Err, codec.ErrReplyTooLarge) || !errors.Is(res.Err, protocol.ErrFrameTooLarge) {
			t.Fatalf("expect ErrReplyTooLarge, got %v", res.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("no result for oversized reply")
	}

	// The stream is unusable past the cut.
	select {
	case <-ct.Done():
	case <-time.After(time.Second):
		t.Fatal("receive loop still running")
	}
	if _, _, err := ct.Send(echoRequest("again")); err == nil {
		t.Fatal("expect send to fail after the stream was cut")
	}
}
