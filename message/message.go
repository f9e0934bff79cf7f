// Package message defines the NETCONF request and reply structures exchanged
// between the client, the transport and the server.
//
// A Request carries the operation element tree built by an encoder. The
// codec wraps it in an <rpc> envelope with a message-id for transmission, and
// the reply comes back as a Reply decoded from <rpc-reply>.
package message

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"
)

// XML namespaces used on the NETCONF envelope.
const (
	BaseNamespace       = "urn:ietf:params:xml:ns:netconf:base:1.0"
	YANGActionNamespace = "urn:ietf:params:xml:ns:yang:1"
)

// Request is one operation to send to the device.
//
//   - Operation: the element placed inside <rpc>, e.g. <global-operations>.
//   - HugeTree:  the reply may be very large; size/depth limits are not applied.
//   - Action:    wrap Operation in a YANG 1.1 <action> element (RFC 7950 7.15).
type Request struct {
	Operation *etree.Element
	HugeTree  bool
	Action    bool
}

// Name returns a short label for logs: the operation tag, plus the tag of its
// only child when there is exactly one (e.g. "global-operations/md-compare").
func (r *Request) Name() string {
	if r == nil || r.Operation == nil {
		return ""
	}
	if children := r.Operation.ChildElements(); len(children) == 1 {
		return r.Operation.Tag + "/" + children[0].Tag
	}
	return r.Operation.Tag
}

// RPC is a Request bound to the message-id assigned by the transport.
type RPC struct {
	MessageID string
	Request   *Request
}

// Reply is a decoded <rpc-reply>.
type Reply struct {
	MessageID string
	OK        bool             // <ok/> was present
	Data      *etree.Element   // <data> element, nil if absent
	Output    []*etree.Element // action output: any other child of <rpc-reply>
	Errors    []RPCError       // every <rpc-error>, including warnings
	Raw       []byte           // the reply as received
	Root      *etree.Element   // the parsed <rpc-reply>
}

// Err returns the first rpc-error with severity "error", or nil.
// Warnings stay in Errors but do not fail the call.
func (r *Reply) Err() error {
	if r == nil {
		return nil
	}
	for i := range r.Errors {
		if r.Errors[i].Severity != "warning" {
			return &r.Errors[i]
		}
	}
	return nil
}

// RPCError is one <rpc-error> element (RFC 6241 section 4.3).
type RPCError struct {
	Type     string
	Tag      string
	Severity string
	AppTag   string
	Path     string
	Message  string
	Info     string
}

func (e *RPCError) Error() string {
	var b strings.Builder
	b.WriteString("rpc-error")
	if e.Tag != "" {
		fmt.Fprintf(&b, " %s", e.Tag)
	}
	if e.Type != "" {
		fmt.Fprintf(&b, " (%s)", e.Type)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	if e.Message != "" {
		fmt.Fprintf(&b, ": %s", e.Message)
	}
	return b.String()
}
