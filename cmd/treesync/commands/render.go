package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"

	"github.com/teranos/treesync/rpc"
	"github.com/teranos/treesync/tree"
)

// renderNode converts a tree node into a pterm tree for display
func renderNode(n rpc.Node) pterm.TreeNode {
	switch n := n.(type) {
	case *tree.File:
		root := pterm.TreeNode{Text: pterm.Bold.Sprint(n.Path)}
		if n.Language != "" {
			root.Text += " (" + n.Language + ")"
		}
		if len(n.Imports) > 0 {
			root.Children = append(root.Children, pterm.TreeNode{Text: "imports: " + strings.Join(n.Imports, ", ")})
		}
		for _, e := range n.Body {
			root.Children = append(root.Children, renderNode(e))
		}
		for _, m := range n.Markers {
			root.Children = append(root.Children, renderNode(m))
		}
		return root

	case *tree.Call:
		node := pterm.TreeNode{Text: "call " + describe(n.Callee) + typeSuffix(n.Type)}
		for _, a := range n.Args {
			node.Children = append(node.Children, renderNode(a))
		}
		return node

	case *tree.Ident, *tree.Literal, *tree.TypeRef:
		return pterm.TreeNode{Text: describe(n)}

	case *tree.Marker:
		return pterm.TreeNode{Text: fmt.Sprintf("%s line %d: %s", markerLabel(n.Severity), n.Line, n.Message)}

	default:
		return pterm.TreeNode{Text: string(n.Kind())}
	}
}

func describe(n rpc.Node) string {
	switch n := n.(type) {
	case *tree.Ident:
		if n == nil {
			return "<nil>"
		}
		return n.Name + typeSuffix(n.Type)
	case *tree.Literal:
		return n.Value + typeSuffix(n.Type)
	case *tree.TypeRef:
		return "type " + n.String()
	default:
		return string(n.Kind())
	}
}

func typeSuffix(t *tree.TypeRef) string {
	if t == nil {
		return ""
	}
	return pterm.FgGray.Sprint(" : " + t.String())
}

func markerLabel(severity string) string {
	switch severity {
	case "error":
		return pterm.FgRed.Sprint("error")
	case "warning":
		return pterm.FgYellow.Sprint("warning")
	default:
		return pterm.FgCyan.Sprint(severity)
	}
}
