package entities

import (
	"fmt"
	"strings"
)

// NodeID identifies a node within one graph
type NodeID string

// String returns the string representation
func (id NodeID) String() string {
	return string(id)
}

// NodeType classifies a node
type NodeType string

const (
	NodeTypeTopic NodeType = "topic"
	NodeTypeBlock NodeType = "block"
	NodeTypeItem  NodeType = "item"
)

// NodeTypes lists the accepted node types in display order
var NodeTypes = []NodeType{NodeTypeTopic, NodeTypeBlock, NodeTypeItem}

// ParseNodeType converts a raw string to a NodeType
func ParseNodeType(s string) (NodeType, error) {
	switch t := NodeType(strings.ToLower(strings.TrimSpace(s))); t {
	case NodeTypeTopic, NodeTypeBlock, NodeTypeItem:
		return t, nil
	default:
		return "", fmt.Errorf("unknown node type %q (want topic, block or item)", s)
	}
}

// IsValid reports whether t is one of the known node types
func (t NodeType) IsValid() bool {
	switch t {
	case NodeTypeTopic, NodeTypeBlock, NodeTypeItem:
		return true
	}
	return false
}

// Node is a vertex of a graph. Content is the free-text note attached to
// the node and is changed independently of the structure.
type Node struct {
	ID      NodeID   `json:"id"`
	Label   string   `json:"label"`
	Type    NodeType `json:"type"`
	Content string   `json:"content"`
}

// NewNode creates a node with empty content
func NewNode(id NodeID, label string, nodeType NodeType) Node {
	return Node{ID: id, Label: label, Type: nodeType}
}

// WithContent returns a copy of the node carrying the given note
func (n Node) WithContent(content string) Node {
	n.Content = content
	return n
}
