package workflow

import "sort"

// SortNodes returns a copy of nodes ordered top to bottom by canvas
// position. Nodes without a position sort as y=0; ties keep declared order.
func SortNodes(nodes []Node) []Node {
	out := make([]Node, len(nodes))
	copy(out, nodes)
	sort.SliceStable(out, func(i, j int) bool {
		return nodeY(out[i]) < nodeY(out[j])
	})
	return out
}

func nodeY(n Node) float64 {
	if n.Position == nil {
		return 0
	}
	return n.Position.Y
}
