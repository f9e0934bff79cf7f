package sros

import (
	"context"

	"github.com/beevik/etree"

	"sros-rpc/message"
)

// Transport sends a request and returns the device reply. *client.Client
// implements it.
type Transport interface {
	Request(ctx context.Context, req *message.Request) (*message.Reply, error)
}

// Format selects how md-compare renders its differences.
type Format string

const (
	// FormatXML returns the differences as an XML tree.
	FormatXML Format = "xml"
	// FormatMDCLI returns the differences as MD-CLI text.
	FormatMDCLI Format = "md-cli"
)

var formats = []string{string(FormatXML), string(FormatMDCLI)}

func (f Format) validate() error {
	switch f {
	case FormatXML, FormatMDCLI:
		return nil
	default:
		return invalid("response_format", string(f), formats...)
	}
}

// CompareRequest describes an md-compare action. Zero fields take the
// values of DefaultCompareRequest.
type CompareRequest struct {
	Src                 string
	SrcType             TargetKind
	Dst                 string
	DstType             TargetKind
	ResponseFormat      Format
	ConfigurationRegion string
	Path                string
}

// DefaultCompareRequest returns the md-compare defaults: region "baseline"
// against url "candidate", XML output, the configure region, whole tree.
func DefaultCompareRequest() CompareRequest {
	return CompareRequest{
		Src:                 "baseline",
		SrcType:             KindConfigurationRegion,
		Dst:                 "candidate",
		DstType:             KindURL,
		ResponseFormat:      FormatXML,
		ConfigurationRegion: "configure",
		Path:                RootPath,
	}
}

func (r CompareRequest) withDefaults() CompareRequest {
	d := DefaultCompareRequest()
	if r.Src == "" {
		r.Src = d.Src
	}
	if r.SrcType == "" {
		r.SrcType = d.SrcType
	}
	if r.Dst == "" {
		r.Dst = d.Dst
	}
	if r.DstType == "" {
		r.DstType = d.DstType
	}
	if r.ResponseFormat == "" {
		r.ResponseFormat = d.ResponseFormat
	}
	if r.ConfigurationRegion == "" {
		r.ConfigurationRegion = d.ConfigurationRegion
	}
	if r.Path == "" {
		r.Path = d.Path
	}
	return r
}

// BuildRawCommand encodes an md-cli-raw-command action. An empty command
// still produces <md-cli-input-line></md-cli-input-line>.
func BuildRawCommand(command string) *etree.Element {
	root, node := Envelope("md-cli-raw-command")
	node.CreateElement("md-cli-input-line").CreateText(command)
	return root
}

// BuildCompare encodes an md-compare action. The children of <md-compare>
// are written in schema order: format, source, destination, path,
// configuration-region. Invalid parameters fail with an error matching
// ErrInvalidArgument before any element is built.
func BuildCompare(req CompareRequest) (*etree.Element, error) {
	req = req.withDefaults()

	if err := req.ResponseFormat.validate(); err != nil {
		return nil, err
	}
	src, err := NewTarget("src_type", req.SrcType, req.Src)
	if err != nil {
		return nil, err
	}
	dst, err := NewTarget("dst_type", req.DstType, req.Dst)
	if err != nil {
		return nil, err
	}
	path, err := ParsePath(req.Path)
	if err != nil {
		return nil, err
	}

	root, node := Envelope("md-compare")
	node.CreateElement("format").SetText(string(req.ResponseFormat))
	src.encode(node.CreateElement("source"))
	dst.encode(node.CreateElement("destination"))
	if !path.IsRoot() {
		path.encode(node)
	}
	node.CreateElement("configuration-region").SetText(req.ConfigurationRegion)
	return root, nil
}

// Operations sends SR OS global operations through a Transport. It holds no
// per-request state and is safe for concurrent use if the Transport is.
type Operations struct {
	transport Transport
}

// New returns Operations that send through t.
func New(t Transport) *Operations {
	return &Operations{transport: t}
}

// MdCliRawCommand runs one MD-CLI command line on the router.
// Transport errors are returned unchanged.
func (o *Operations) MdCliRawCommand(ctx context.Context, command string) (*message.Reply, error) {
	return o.send(ctx, BuildRawCommand(command))
}

// MdCompare compares two configuration targets. Invalid parameters are
// reported before the transport is used; transport errors are returned
// unchanged.
func (o *Operations) MdCompare(ctx context.Context, req CompareRequest) (*message.Reply, error) {
	root, err := BuildCompare(req)
	if err != nil {
		return nil, err
	}
	return o.send(ctx, root)
}

// send submits an action envelope. Both actions can return very large
// outputs, so parser limits are lifted.
func (o *Operations) send(ctx context.Context, root *etree.Element) (*message.Reply, error) {
	return o.transport.Request(ctx, &message.Request{
		Operation: root,
		HugeTree:  true,
		Action:    true,
	})
}
