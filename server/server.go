// Package server implements a NETCONF responder: it accepts framed <rpc>
// messages, dispatches the operation to a registered handler and writes the
// <rpc-reply>. It backs the router simulator and the end-to-end tests.
//
// Request processing pipeline:
//
//	Accept conn → ServeConn (single goroutine reads messages)
//	  → for each rpc: go handleRequest (parallel processing)
//	    → parse <rpc> → unwrap <action> → Handler → build <rpc-reply> → write
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/beevik/etree"
	"go.uber.org/zap"

	"sros-rpc/inventory"
	"sros-rpc/message"
	"sros-rpc/protocol"
)

// Handler serves one operation. op is the operation element (for a YANG
// action, the element inside <action>). A nil element with a nil error is
// answered with <ok/>. An error of type *message.RPCError is returned as is,
// any other error as an operation-failed rpc-error.
type Handler func(ctx context.Context, op *etree.Element) (*etree.Element, error)

type Server struct {
	handlers map[string]Handler // operation tag → handler
	framing  protocol.Framing
	logger   *zap.Logger

	mu       sync.Mutex // guards listener, conns and wg.Add against Shutdown
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup // in-flight requests, for graceful shutdown
	shutdown atomic.Bool    // suppresses the Accept error caused by Shutdown

	inventory inventory.Inventory // nil unless WithInventory was used
	router    inventory.Router
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithInventory registers the server as router in inv while it serves.
// router.Addr defaults to the listener address.
func WithInventory(inv inventory.Inventory, router inventory.Router) Option {
	return func(s *Server) {
		s.inventory = inv
		s.router = router
	}
}

func NewServer(framing protocol.Framing, opts ...Option) *Server {
	s := &Server{
		handlers: make(map[string]Handler),
		conns:    make(map[net.Conn]struct{}),
		framing:  framing,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handle registers h for operations whose element tag is operation.
func (svr *Server) Handle(operation string, h Handler) {
	svr.handlers[operation] = h
}

// Serve accepts connections on l until Shutdown is called.
func (svr *Server) Serve(l net.Listener) error {
	svr.mu.Lock()
	if svr.shutdown.Load() {
		svr.mu.Unlock()
		return l.Close()
	}
	svr.listener = l
	svr.mu.Unlock()

	if svr.inventory != nil {
		if svr.router.Addr == "" {
			svr.router.Addr = l.Addr().String()
		}
		if svr.router.Framing == "" {
			svr.router.Framing = svr.framing.String()
		}
		// TTL = 10 seconds, renewed by the inventory's keep-alive.
		if err := svr.inventory.Register(context.Background(), svr.router, 10); err != nil {
			return fmt.Errorf("register %s: %w", svr.router.Name, err)
		}
	}

	for {
		conn, err := l.Accept()
		if err != nil {
			if svr.shutdown.Load() {
				return nil
			}
			return err
		}
		go svr.ServeConn(conn)
	}
}

// maxRequestBytes bounds one incoming <rpc>.
const maxRequestBytes = 4 << 20

// ServeConn handles one established stream until it is closed or the server
// shuts down. Reads are sequential; each rpc is processed in its own
// goroutine, so replies are written under a per-connection lock.
func (svr *Server) ServeConn(conn net.Conn) {
	defer conn.Close()
	if !svr.track(conn) {
		return
	}
	defer svr.untrack(conn)

	framer, err := protocol.NewFramer(conn, svr.framing)
	if err != nil {
		svr.logger.Error("serve conn", zap.Error(err))
		return
	}
	writeMu := &sync.Mutex{}
	for {
		body, err := framer.ReadMessage(protocol.Limit(maxRequestBytes))
		if err != nil {
			if errors.Is(err, protocol.ErrFrameTooLarge) {
				svr.logger.Warn("closing conn after oversized rpc", zap.Stringer("remote", conn.RemoteAddr()))
			}
			return
		}

		// No new work once Shutdown has started waiting.
		svr.mu.Lock()
		if svr.shutdown.Load() {
			svr.mu.Unlock()
			return
		}
		svr.wg.Add(1)
		svr.mu.Unlock()

		go svr.handleRequest(body, framer, writeMu)
	}
}

func (svr *Server) track(conn net.Conn) bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.shutdown.Load() {
		return false
	}
	svr.conns[conn] = struct{}{}
	return true
}

func (svr *Server) untrack(conn net.Conn) {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	delete(svr.conns, conn)
}

func (svr *Server) handleRequest(body []byte, framer *protocol.Framer, writeMu *sync.Mutex) {
	defer svr.wg.Done()

	reply := svr.dispatch(context.Background(), body)

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)
	doc.SetRoot(reply)
	out, err := doc.WriteToBytes()
	if err != nil {
		svr.logger.Error("encode rpc-reply", zap.Error(err))
		return
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if err := framer.WriteMessage(out); err != nil {
		svr.logger.Warn("write rpc-reply", zap.Error(err))
	}
}

// dispatch turns one <rpc> into its <rpc-reply> element.
func (svr *Server) dispatch(ctx context.Context, body []byte) *etree.Element {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(body); err != nil || doc.Root() == nil || doc.Root().Tag != "rpc" {
		return errorReply("", &message.RPCError{
			Type: "rpc", Tag: "malformed-message", Severity: "error",
			Message: "message is not a well-formed rpc",
		})
	}
	rpc := doc.Root()
	id := rpc.SelectAttrValue("message-id", "")

	op, isAction := operation(rpc)
	if op == nil {
		return errorReply(id, &message.RPCError{
			Type: "rpc", Tag: "missing-element", Severity: "error",
			Message: "rpc has no operation",
		})
	}

	h, ok := svr.handlers[op.Tag]
	if !ok {
		return errorReply(id, &message.RPCError{
			Type: "protocol", Tag: "operation-not-supported", Severity: "error",
			Message: fmt.Sprintf("operation %s is not supported", op.Tag),
		})
	}

	start := time.Now()
	data, err := h(ctx, op)
	svr.logger.Debug("rpc handled",
		zap.String("message_id", id),
		zap.String("operation", op.Tag),
		zap.Duration("duration", time.Since(start)),
		zap.Error(err))

	if err != nil {
		var rpcErr *message.RPCError
		if !errors.As(err, &rpcErr) {
			rpcErr = &message.RPCError{
				Type: "application", Tag: "operation-failed", Severity: "error",
				Message: err.Error(),
			}
		}
		return errorReply(id, rpcErr)
	}

	reply := newReply(id)
	switch {
	case data == nil:
		reply.CreateElement("ok")
	case isAction:
		// Action output goes directly under <rpc-reply>.
		reply.AddChild(data)
	default:
		reply.CreateElement("data").AddChild(data)
	}
	return reply
}

// operation returns the first element inside <rpc>, looking through a YANG
// <action> wrapper.
func operation(rpc *etree.Element) (*etree.Element, bool) {
	children := rpc.ChildElements()
	if len(children) == 0 {
		return nil, false
	}
	op := children[0]
	if op.Tag != "action" {
		return op, false
	}
	inner := op.ChildElements()
	if len(inner) == 0 {
		return nil, true
	}
	return inner[0], true
}

func newReply(id string) *etree.Element {
	reply := etree.NewElement("rpc-reply")
	reply.CreateAttr("xmlns", message.BaseNamespace)
	if id != "" {
		reply.CreateAttr("message-id", id)
	}
	return reply
}

func errorReply(id string, e *message.RPCError) *etree.Element {
	reply := newReply(id)
	re := reply.CreateElement("rpc-error")
	for _, field := range []struct{ tag, value string }{
		{"error-type", e.Type},
		{"error-tag", e.Tag},
		{"error-severity", e.Severity},
		{"error-app-tag", e.AppTag},
		{"error-path", e.Path},
		{"error-message", e.Message},
	} {
		if field.value != "" {
			re.CreateElement(field.tag).SetText(field.value)
		}
	}
	return reply
}

// Shutdown performs graceful shutdown:
//  1. Deregister from the inventory so clients stop picking this router
//  2. Set the shutdown flag, then close the listener
//  3. Wait for in-flight requests, up to timeout
//  4. Close the remaining connections
func (svr *Server) Shutdown(timeout time.Duration) error {
	if svr.inventory != nil {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		err := svr.inventory.Deregister(ctx, svr.router.Name)
		cancel()
		if err != nil {
			svr.logger.Warn("deregister router", zap.String("router", svr.router.Name), zap.Error(err))
		}
	}

	// Set the flag before closing, otherwise Serve may see the Accept
	// error first and report it.
	svr.mu.Lock()
	svr.shutdown.Store(true)
	if svr.listener != nil {
		svr.listener.Close()
	}
	svr.mu.Unlock()

	// wg.Add only happens under mu while the flag is unset, so no Add
	// can race this Wait.
	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-time.After(timeout):
		err = fmt.Errorf("timeout waiting for ongoing requests to finish")
	}

	svr.mu.Lock()
	for conn := range svr.conns {
		conn.Close()
	}
	svr.mu.Unlock()
	return err
}
