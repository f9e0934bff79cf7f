// Package client sends NETCONF requests over a ClientTransport and waits for
// their replies. *Client satisfies sros.Transport.
package client

import (
	"context"
	"net"

	"go.uber.org/zap"

	"sros-rpc/codec"
	"sros-rpc/message"
	"sros-rpc/middleware"
	"sros-rpc/protocol"
	"sros-rpc/transport"
)

type Client struct {
	transport *transport.ClientTransport
	handler   middleware.HandlerFunc // middlewares wrapped around call
}

type options struct {
	framing     protocol.Framing
	limits      codec.Limits
	logger      *zap.Logger
	middlewares []middleware.Middleware
}

type Option func(*options)

// WithFraming selects the framing agreed in the hello exchange (Dial only).
func WithFraming(f protocol.Framing) Option {
	return func(o *options) { o.framing = f }
}

// WithLimits sets the reply limits for requests not flagged HugeTree (Dial only).
func WithLimits(l codec.Limits) Option {
	return func(o *options) { o.limits = l }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMiddleware appends middlewares; the first one added runs first.
func WithMiddleware(mws ...middleware.Middleware) Option {
	return func(o *options) { o.middlewares = append(o.middlewares, mws...) }
}

func buildOptions(opts []Option) *options {
	o := &options{
		framing: protocol.FramingEOM,
		limits:  codec.DefaultLimits,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// New builds a client on an existing transport.
func New(t *transport.ClientTransport, opts ...Option) *Client {
	o := buildOptions(opts)
	c := &Client{transport: t}
	c.handler = middleware.Chain(o.middlewares...)(c.call)
	return c
}

// Dial opens a TCP stream to addr and builds a client on it. The peer must
// start speaking RPCs right away (e.g. a NETCONF-over-TCP lab endpoint or a
// simulator); no hello is exchanged.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	o := buildOptions(opts)

	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}

	t, err := transport.NewClientTransport(conn, o.framing,
		transport.WithLimits(o.limits),
		transport.WithLogger(o.logger))
	if err != nil {
		conn.Close()
		return nil, err
	}

	c := &Client{transport: t}
	c.handler = middleware.Chain(o.middlewares...)(c.call)
	return c, nil
}

// Request sends req and waits for its reply.
// A reply carrying an error-severity <rpc-error> is returned together with
// that error as *message.RPCError.
func (c *Client) Request(ctx context.Context, req *message.Request) (*message.Reply, error) {
	return c.handler(ctx, req)
}

func (c *Client) call(ctx context.Context, req *message.Request) (*message.Reply, error) {
	id, ch, err := c.transport.Send(req)
	if err != nil {
		return nil, err
	}

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if err := res.Reply.Err(); err != nil {
			return res.Reply, err
		}
		return res.Reply, nil
	case <-ctx.Done():
		c.transport.Forget(id)
		return nil, ctx.Err()
	}
}

func (c *Client) Close() error {
	return c.transport.Close()
}
