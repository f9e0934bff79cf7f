package simulator

import (
	"context"
	"errors"
	"testing"

	"github.com/beevik/etree"

	"sros-rpc/message"
	"sros-rpc/sros"
)

func outputBlock(t *testing.T, res *etree.Element, path string) string {
	t.Helper()
	e := res.FindElement(path)
	if e == nil {
		t.Fatalf("missing %s in reply", path)
	}
	return e.Text()
}

func TestRawCommand(t *testing.T) {
	r := New()
	r.SetOutput("show version", "TiMOS-B-23.10.R1")

	res, err := r.Handle(context.Background(), sros.BuildRawCommand("show version"))
	if err != nil {
		t.Fatal(err)
	}
	if got := outputBlock(t, res, "./md-cli-output-block"); got != "TiMOS-B-23.10.R1" {
		t.Errorf("unexpected output %q", got)
	}

	res, err = r.Handle(context.Background(), sros.BuildRawCommand("info"))
	if err != nil {
		t.Fatal(err)
	}
	if got := outputBlock(t, res, "./md-cli-output-block"); got != "[]\nA:admin@sim# info\n" {
		t.Errorf("unexpected default output %q", got)
	}
}

func TestCompare(t *testing.T) {
	r := New()

	tests := []struct {
		name string
		req  sros.CompareRequest
		path string
		want string
	}{
		{
			name: "defaults",
			req:  sros.CompareRequest{},
			path: "./md-compare-output/xml-output/summary",
			want: "compare baseline url:candidate in configure",
		},
		{
			name: "rollback under path as md-cli",
			req: sros.CompareRequest{
				Src: "running", Dst: "3", DstType: sros.KindRollback,
				ResponseFormat: sros.FormatMDCLI, Path: "/configure/router/interface",
			},
			path: "./md-compare-output/md-cli-output-block",
			want: "compare running rollback:3 in configure under /configure/router/interface",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := sros.BuildCompare(tt.req)
			if err != nil {
				t.Fatal(err)
			}
			res, err := r.Handle(context.Background(), op)
			if err != nil {
				t.Fatal(err)
			}
			if got := outputBlock(t, res, tt.path); got != tt.want {
				t.Errorf("expect %q, got %q", tt.want, got)
			}
		})
	}

	history := r.History()
	if len(history) != 2 || history[0] != "md-compare" {
		t.Fatalf("unexpected history %v", history)
	}
}

func TestHandleRejects(t *testing.T) {
	r := New()

	wrongNS := etree.NewElement("global-operations")
	wrongNS.CreateElement("md-compare")

	unknown, _ := sros.Envelope("clear-statistics")

	missing, _ := sros.Envelope("md-cli-raw-command")

	tests := []struct {
		name string
		op   *etree.Element
		tag  string
	}{
		{"namespace", wrongNS, "unknown-namespace"},
		{"unknown action", unknown, "operation-not-supported"},
		{"missing input line", missing, "missing-element"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Handle(context.Background(), tt.op)
			var rpcErr *message.RPCError
			if !errors.As(err, &rpcErr) || rpcErr.Tag != tt.tag {
				t.Fatalf("expect rpc-error %s, got %v", tt.tag, err)
			}
		})
	}
}
