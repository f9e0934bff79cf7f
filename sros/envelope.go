// Package sros encodes Nokia SR OS global-operations actions.
//
// Every action travels in the same envelope:
//
//	<global-operations xmlns="urn:nokia.com:sros:ns:yang:sr:oper-global">
//	  <ACTION> ... </ACTION>
//	</global-operations>
//
// Envelope builds it; BuildRawCommand and BuildCompare fill in the action.
// Operations sends the result through a Transport, flagged as a YANG action
// whose reply may be a huge tree.
package sros

import "github.com/beevik/etree"

const (
	// GlobalOperationsNamespace is carried by the envelope root.
	GlobalOperationsNamespace = "urn:nokia.com:sros:ns:yang:sr:oper-global"
	// ConfigureNamespace is carried by <configure> in a compare subtree path.
	ConfigureNamespace = "urn:nokia.com:sros:ns:yang:sr:conf"
)

// Envelope returns a <global-operations> root and its single child named
// action. The child is where the caller adds the action's parameters. The
// action name is used verbatim.
func Envelope(action string) (root, node *etree.Element) {
	root = etree.NewElement("global-operations")
	root.CreateAttr("xmlns", GlobalOperationsNamespace)
	node = root.CreateElement(action)
	return root, node
}
