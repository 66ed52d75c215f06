package entities

// Edge is a directed, labeled connection between two nodes of the same
// graph. Several edges may join the same ordered pair.
type Edge struct {
	From  NodeID `json:"from"`
	To    NodeID `json:"to"`
	Label string `json:"label"`
}

// NewEdge creates an edge
func NewEdge(from, to NodeID, label string) Edge {
	return Edge{From: from, To: to, Label: label}
}

// Touches reports whether the edge starts or ends at id
func (e Edge) Touches(id NodeID) bool {
	return e.From == id || e.To == id
}

// Connects reports whether the edge joins exactly from -> to
func (e Edge) Connects(from, to NodeID) bool {
	return e.From == from && e.To == to
}
