package dht

// LookupManager is the factory and lifecycle root for lookup sessions. It
// seeds new sessions from the routing table and otherwise delegates to the
// querier.
type LookupManager struct {
	myID  ID
	table *RoutingTable
	krpc  *KRPC
}

func NewLookupManager(myID ID, table *RoutingTable, krpc *KRPC) *LookupManager {
	return &LookupManager{myID: myID, table: table, krpc: krpc}
}

// GetPeers builds a peer-lookup session seeded with the routing table's
// closest known nodes to infoHash, ready to Start.
func (m *LookupManager) GetPeers(
	infoHash ID,
	callback func(peers []string),
	btPort *int,
) (*LookupSession, []*Node) {
	seeds := m.seeds(infoHash)
	session := NewPeerLookupSession(m.myID, infoHash, btPort, callback)
	return session, seeds
}

// BootstrapLookup builds a bootstrap (find_node) session. target defaults to
// the local ID, producing a self-lookup that populates the routing table.
func (m *LookupManager) BootstrapLookup(target *ID) (*LookupSession, []*Node) {
	t := m.myID
	if target != nil {
		t = *target
	}

	seeds := m.seeds(t)
	session := NewBootstrapLookupSession(m.myID, t)
	return session, seeds
}

func (m *LookupManager) seeds(target ID) []*Node {
	contacts := m.table.FindClosestK(target, K)

	nodes := make([]*Node, 0, len(contacts))
	for _, c := range contacts {
		nodes = append(nodes, c.node)
	}
	return nodes
}

// Stop delegates to the querier.
func (m *LookupManager) Stop() {
	m.krpc.Stop()
}
