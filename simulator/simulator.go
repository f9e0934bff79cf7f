// Package simulator answers SR OS global-operations actions well enough to
// exercise clients without a router. It plugs into server.Server as the
// handler for "global-operations".
package simulator

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/beevik/etree"

	"sros-rpc/message"
	"sros-rpc/sros"
)

// Router holds canned MD-CLI outputs and records every action it served.
type Router struct {
	mu      sync.Mutex
	outputs map[string]string // command line → output block
	history []string          // action names, in arrival order
}

func New() *Router {
	return &Router{outputs: make(map[string]string)}
}

// SetOutput makes command answer with output.
func (r *Router) SetOutput(command, output string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs[command] = output
}

// History returns the names of the actions served so far.
func (r *Router) History() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.history...)
}

// Handle is a server.Handler for <global-operations>.
func (r *Router) Handle(ctx context.Context, op *etree.Element) (*etree.Element, error) {
	if ns := op.SelectAttrValue("xmlns", ""); ns != sros.GlobalOperationsNamespace {
		return nil, &message.RPCError{
			Type: "protocol", Tag: "unknown-namespace", Severity: "error",
			Message: fmt.Sprintf("unexpected namespace %q", ns),
		}
	}
	actions := op.ChildElements()
	if len(actions) != 1 {
		return nil, &message.RPCError{
			Type: "application", Tag: "invalid-value", Severity: "error",
			Message: "global-operations must contain exactly one action",
		}
	}
	action := actions[0]

	r.mu.Lock()
	r.history = append(r.history, action.Tag)
	r.mu.Unlock()

	switch action.Tag {
	case "md-cli-raw-command":
		return r.rawCommand(action)
	case "md-compare":
		return r.compare(action)
	default:
		return nil, &message.RPCError{
			Type: "application", Tag: "operation-not-supported", Severity: "error",
			Message: fmt.Sprintf("action %s is not supported", action.Tag),
		}
	}
}

func results() *etree.Element {
	res := etree.NewElement("results")
	res.CreateAttr("xmlns", sros.GlobalOperationsNamespace)
	return res
}

func (r *Router) rawCommand(action *etree.Element) (*etree.Element, error) {
	line := action.SelectElement("md-cli-input-line")
	if line == nil {
		return nil, &message.RPCError{
			Type: "application", Tag: "missing-element", Severity: "error",
			Path: "/global-operations/md-cli-raw-command", Message: "md-cli-input-line is required",
		}
	}
	command := strings.TrimSpace(line.Text())

	r.mu.Lock()
	output, ok := r.outputs[command]
	r.mu.Unlock()
	if !ok {
		output = fmt.Sprintf("[]\nA:admin@sim# %s\n", command)
	}

	res := results()
	res.CreateElement("md-cli-output-block").SetText(output)
	return res, nil
}

// compare checks the request shape and answers with a description of what
// was compared.
func (r *Router) compare(action *etree.Element) (*etree.Element, error) {
	format := action.SelectElement("format")
	source := action.SelectElement("source")
	destination := action.SelectElement("destination")
	region := action.SelectElement("configuration-region")
	if format == nil || source == nil || destination == nil || region == nil {
		return nil, &message.RPCError{
			Type: "application", Tag: "missing-element", Severity: "error",
			Path: "/global-operations/md-compare", Message: "format, source, destination and configuration-region are required",
		}
	}

	summary := fmt.Sprintf("compare %s %s in %s",
		describeTarget(source), describeTarget(destination), region.Text())
	if sub := action.FindElement("./path/subtree-path"); sub != nil {
		summary += " under " + describePath(sub)
	}

	res := results()
	out := res.CreateElement("md-compare-output")
	switch format.Text() {
	case "md-cli":
		out.CreateElement("md-cli-output-block").SetText(summary)
	default:
		out.CreateElement("xml-output").CreateElement("summary").SetText(summary)
	}
	return res, nil
}

func describeTarget(e *etree.Element) string {
	children := e.ChildElements()
	if len(children) == 0 {
		return "?"
	}
	c := children[0]
	switch c.Tag {
	case "url":
		return "url:" + c.Text()
	case "rollback":
		if id := c.SelectElement("checkpoint-id"); id != nil {
			return "rollback:" + id.Text()
		}
		return "rollback:?"
	default:
		return c.Tag
	}
}

func describePath(sub *etree.Element) string {
	var segments []string
	node := sub
	for {
		children := node.ChildElements()
		if len(children) == 0 {
			break
		}
		node = children[0]
		segments = append(segments, node.Tag)
	}
	return "/" + strings.Join(segments, "/")
}
