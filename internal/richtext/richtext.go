// Package richtext models the editor's rich-text document (a ProseMirror
// style node tree) and projects it to plain text.
package richtext

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Node is a node in the rich-text document tree.
type Node struct {
	Type    string         `json:"type"`
	Attrs   map[string]any `json:"attrs,omitempty"`
	Content []Node         `json:"content,omitempty"`
	Text    string         `json:"text,omitempty"`
	Marks   []Mark         `json:"marks,omitempty"`
}

// Mark is inline formatting attached to a text node.
type Mark struct {
	Type  string         `json:"type"`
	Attrs map[string]any `json:"attrs,omitempty"`
}

// Doc returns a document node with one paragraph per line of text.
func Doc(lines ...string) *Node {
	doc := &Node{Type: "doc"}
	for _, line := range lines {
		p := Node{Type: "paragraph"}
		if line != "" {
			p.Content = []Node{{Type: "text", Text: line}}
		}
		doc.Content = append(doc.Content, p)
	}
	return doc
}

// Parse decodes a JSON document.
func Parse(raw []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode rich text: %w", err)
	}
	if n.Type == "" {
		return nil, fmt.Errorf("decode rich text: missing node type")
	}
	return &n, nil
}

// FromValue converts a generic decoded JSON value (as found in a stored
// document) into a node tree.
func FromValue(v any) (*Node, error) {
	if v == nil {
		return nil, nil
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode rich text value: %w", err)
	}
	return Parse(raw)
}

// Value converts n into the generic JSON shape used by document stores.
func (n *Node) Value() (map[string]any, error) {
	if n == nil {
		return nil, nil
	}
	raw, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Clone returns a deep copy of n.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	c := *n
	if n.Attrs != nil {
		c.Attrs = make(map[string]any, len(n.Attrs))
		for k, v := range n.Attrs {
			c.Attrs[k] = v
		}
	}
	if n.Content != nil {
		c.Content = make([]Node, len(n.Content))
		for i := range n.Content {
			c.Content[i] = *n.Content[i].Clone()
		}
	}
	if n.Marks != nil {
		c.Marks = append([]Mark(nil), n.Marks...)
	}
	return &c
}

// PlainText projects a document to plain text. Block nodes are separated by
// newlines, hard breaks become newlines and mentions render their label.
func PlainText(doc *Node) string {
	if doc == nil {
		return ""
	}
	var b strings.Builder
	writeNode(&b, *doc)
	lines := strings.Split(b.String(), "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func writeNode(b *strings.Builder, n Node) {
	switch n.Type {
	case "text":
		b.WriteString(n.Text)
	case "hardBreak":
		b.WriteString("\n")
	case "mention":
		b.WriteString(attrString(n.Attrs, "label", "id"))
	case "paragraph", "heading", "blockquote", "codeBlock", "listItem", "tableRow":
		startBlock(b)
		writeChildren(b, n.Content)
		startBlock(b)
	case "tableCell", "tableHeader":
		writeChildren(b, n.Content)
		b.WriteString(" ")
	case "horizontalRule":
		startBlock(b)
	default:
		// doc, bulletList, orderedList and unknown containers
		writeChildren(b, n.Content)
	}
}

func writeChildren(b *strings.Builder, children []Node) {
	for _, c := range children {
		writeNode(b, c)
	}
}

// startBlock ends the current line unless the output is empty or already
// at a line start.
func startBlock(b *strings.Builder) {
	s := b.String()
	if s == "" || strings.HasSuffix(s, "\n") {
		return
	}
	b.WriteString("\n")
}

func attrString(attrs map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := attrs[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
