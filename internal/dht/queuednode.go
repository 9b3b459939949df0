package dht

// QueuedNode is a candidate or responder decorated with its log-distance to
// the lookup's target and, if the node has responded, the announce token it
// supplied.
type QueuedNode struct {
	Node        *Node
	LogDistance int
	Token       string // "" means no token
}

func newQueuedNode(target ID, node *Node, token string) *QueuedNode {
	return &QueuedNode{
		Node:        node,
		LogDistance: LogDistance(target, node.ID),
		Token:       token,
	}
}

// sortedInsert inserts q into list, which must already be sorted ascending
// by LogDistance, preserving order and breaking ties by insertion order
// (inserting after any existing entries at the same distance).
func sortedInsert(list []*QueuedNode, q *QueuedNode) []*QueuedNode {
	i := len(list)
	for i > 0 && list[i-1].LogDistance > q.LogDistance {
		i--
	}

	list = append(list, nil)
	copy(list[i+1:], list[i:])
	list[i] = q
	return list
}
