package codec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"sros-rpc/message"
)

// XMLCodec encodes *message.RPC and decodes *message.Reply using etree.
// Limits are applied by Check, not by Decode, because the transport only
// learns whether a reply belongs to a huge-tree request after decoding its
// message-id.
type XMLCodec struct {
	Limits Limits
}

var _ Codec = (*XMLCodec)(nil)

func (c *XMLCodec) Encode(v any) ([]byte, error) {
	msg, ok := v.(*message.RPC)
	if !ok {
		return nil, errors.New("XMLCodec: v must be *message.RPC")
	}
	if msg.Request == nil || msg.Request.Operation == nil {
		return nil, errors.New("XMLCodec: request has no operation")
	}

	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	rpc := doc.CreateElement("rpc")
	rpc.CreateAttr("xmlns", message.BaseNamespace)
	rpc.CreateAttr("message-id", msg.MessageID)

	parent := rpc
	if msg.Request.Action {
		parent = rpc.CreateElement("action")
		parent.CreateAttr("xmlns", message.YANGActionNamespace)
	}
	// AddChild detaches an element from its old parent; copy so the
	// caller's tree is left untouched.
	parent.AddChild(msg.Request.Operation.Copy())

	return doc.WriteToBytes()
}

func (c *XMLCodec) Decode(data []byte, v any) error {
	reply, ok := v.(*message.Reply)
	if !ok {
		return errors.New("XMLCodec: v must be *message.Reply")
	}

	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return fmt.Errorf("XMLCodec: parse reply: %w", err)
	}
	root := doc.Root()
	if root == nil || root.Tag != "rpc-reply" {
		return errors.New("XMLCodec: message is not an rpc-reply")
	}

	reply.MessageID = root.SelectAttrValue("message-id", "")
	reply.Raw = data
	reply.Root = root
	for _, child := range root.ChildElements() {
		switch child.Tag {
		case "ok":
			reply.OK = true
		case "data":
			reply.Data = child
		case "rpc-error":
			reply.Errors = append(reply.Errors, decodeRPCError(child))
		default:
			reply.Output = append(reply.Output, child)
		}
	}
	return nil
}

// Check applies the codec limits to a decoded reply.
func (c *XMLCodec) Check(reply *message.Reply) error {
	if err := c.Limits.checkSize(len(reply.Raw)); err != nil {
		return err
	}
	if reply.Root == nil {
		return nil
	}
	return c.Limits.checkDepth(depth(reply.Root))
}

func decodeRPCError(e *etree.Element) message.RPCError {
	rpcErr := message.RPCError{
		Type:     childText(e, "error-type"),
		Tag:      childText(e, "error-tag"),
		Severity: childText(e, "error-severity"),
		AppTag:   childText(e, "error-app-tag"),
		Path:     childText(e, "error-path"),
		Message:  childText(e, "error-message"),
	}
	if info := e.SelectElement("error-info"); info != nil {
		doc := etree.NewDocument()
		doc.SetRoot(info.Copy())
		rpcErr.Info, _ = doc.WriteToString()
	}
	return rpcErr
}

func childText(e *etree.Element, tag string) string {
	if c := e.SelectElement(tag); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}

func depth(e *etree.Element) int {
	deepest := 0
	for _, c := range e.ChildElements() {
		if d := depth(c); d > deepest {
			deepest = d
		}
	}
	return deepest + 1
}
