// Package xml provides namespace-aware XML navigation over xmlquery and XPath.
//
// Security Notes:
//   - XXE (External Entity) attacks are mitigated by checking well-formedness
//     with entity expansion disabled before a document is handed to xmlquery.
//   - xmlquery uses Go's encoding/xml internally, which never fetches external
//     entities.
package xml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Document represents a parsed XML document.
type Document struct {
	root *xmlquery.Node
}

// Node represents an XML element.
type Node struct {
	node *xmlquery.Node
}

// SyntaxError reports a well-formedness failure with its position.
type SyntaxError struct {
	Line    int
	Message string
}

func (e *SyntaxError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	}
	return e.Message
}

// CheckWellFormed tokenizes data with entity expansion disabled.
func CheckWellFormed(data []byte) error {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.Entity = map[string]string{}
	for {
		_, err := decoder.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			if se, ok := err.(*xml.SyntaxError); ok {
				return &SyntaxError{Line: se.Line, Message: se.Msg}
			}
			return &SyntaxError{Message: err.Error()}
		}
	}
}

// Parse checks and parses XML data.
func Parse(data []byte) (*Document, error) {
	if err := CheckWellFormed(data); err != nil {
		return nil, fmt.Errorf("parsing XML: %w", err)
	}
	root, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parsing XML: %w", err)
	}
	return &Document{root: root}, nil
}

// Root returns the root element of the document.
func (d *Document) Root() *Node {
	if d.root == nil {
		return nil
	}
	for child := d.root.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			return &Node{node: child}
		}
	}
	return nil
}

// XPath executes an XPath query against the whole document.
func (d *Document) XPath(expr string) ([]*Node, error) {
	return query(d.root, expr)
}

// XPath executes an XPath query relative to n.
func (n *Node) XPath(expr string) ([]*Node, error) {
	return query(n.node, expr)
}

func query(from *xmlquery.Node, expr string) ([]*Node, error) {
	compiled, err := xpath.Compile(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid xpath %q: %w", expr, err)
	}
	nodes := xmlquery.QuerySelectorAll(from, compiled)
	result := make([]*Node, 0, len(nodes))
	for _, n := range nodes {
		if n.Type == xmlquery.ElementNode {
			result = append(result, &Node{node: n})
		}
	}
	return result, nil
}

// Find returns the first descendant element of n with the given local name
// and namespace URI. An empty ns matches only un-namespaced elements.
// Predicate, when non-empty, is an XPath predicate body such as "@axis='2Theta'".
func (n *Node) Find(local, ns, predicate string) (*Node, error) {
	all, err := n.FindAll(local, ns, predicate)
	if err != nil || len(all) == 0 {
		return nil, err
	}
	return all[0], nil
}

// FindAll returns every descendant element matching Find's criteria, in document order.
func (n *Node) FindAll(local, ns, predicate string) ([]*Node, error) {
	expr := fmt.Sprintf(".//*[local-name()='%s']", local)
	if predicate != "" {
		expr += "[" + predicate + "]"
	}
	matches, err := n.XPath(expr)
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		if m.Namespace() == ns {
			out = append(out, m)
		}
	}
	return out, nil
}

// Name returns the local element name.
func (n *Node) Name() string {
	if n == nil || n.node == nil {
		return ""
	}
	return n.node.Data
}

// Namespace returns the namespace URI the element is bound to.
func (n *Node) Namespace() string {
	if n == nil || n.node == nil {
		return ""
	}
	return n.node.NamespaceURI
}

// Text returns the trimmed text content of the node and its descendants.
func (n *Node) Text() string {
	if n == nil || n.node == nil {
		return ""
	}
	return strings.TrimSpace(n.node.InnerText())
}

// Children returns the child element nodes.
func (n *Node) Children() []*Node {
	if n == nil || n.node == nil {
		return nil
	}
	var children []*Node
	for child := n.node.FirstChild; child != nil; child = child.NextSibling {
		if child.Type == xmlquery.ElementNode {
			children = append(children, &Node{node: child})
		}
	}
	return children
}

// Child returns the first direct child element with the given local name and namespace.
func (n *Node) Child(local, ns string) *Node {
	for _, c := range n.Children() {
		if c.Name() == local && c.Namespace() == ns {
			return c
		}
	}
	return nil
}

// Attr returns the value of a specific attribute.
func (n *Node) Attr(name string) string {
	if n == nil || n.node == nil {
		return ""
	}
	return n.node.SelectAttr(name)
}
