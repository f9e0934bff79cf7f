package sros

import (
	"strings"

	"github.com/beevik/etree"
)

// RootPath selects the whole configuration; no subtree is emitted for it.
const RootPath = "/"

// ConfigPath is a parsed compare subtree path such as
// "/configure/router/interface". Segments starts with "configure" unless the
// path is the root.
type ConfigPath struct {
	Segments []string
}

// IsRoot reports whether the path selects the whole configure tree.
func (p ConfigPath) IsRoot() bool {
	return len(p.Segments) == 0
}

func (p ConfigPath) String() string {
	return "/" + strings.Join(p.Segments, "/")
}

// ParsePath parses a compare subtree path. "/" yields the root path. Any
// other path must start with the "configure" segment; empty segments from
// repeated or trailing slashes are dropped.
func ParsePath(path string) (ConfigPath, error) {
	if path == RootPath {
		return ConfigPath{}, nil
	}

	segments := splitSegments(stripLeadingSlash(path))
	if err := validateRoot(segments); err != nil {
		return ConfigPath{}, err
	}
	return ConfigPath{Segments: dropEmpty(segments)}, nil
}

func stripLeadingSlash(path string) string {
	return strings.TrimPrefix(path, "/")
}

func splitSegments(path string) []string {
	return strings.Split(path, "/")
}

func validateRoot(segments []string) error {
	if segments[0] != "configure" {
		return invalid("path", segments[0], "configure")
	}
	return nil
}

func dropEmpty(segments []string) []string {
	out := make([]string, 0, len(segments))
	for _, s := range segments {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

// encode appends
//
//	<path><subtree-path><configure xmlns="...conf">
//	  <seg1><seg2>...<leaf></leaf>...</seg2></seg1>
//	</configure></subtree-path></path>
//
// to parent. The leaf is given an explicit empty text node so it is written
// as <leaf></leaf> rather than <leaf/>; the router's parser may tell the two
// forms apart. A path of just "/configure" makes <configure> the leaf.
func (p ConfigPath) encode(parent *etree.Element) {
	node := parent.CreateElement("path").CreateElement("subtree-path")
	for i, seg := range p.Segments {
		node = node.CreateElement(seg)
		if i == 0 {
			node.CreateAttr("xmlns", ConfigureNamespace)
		}
	}
	node.CreateText("")
}
