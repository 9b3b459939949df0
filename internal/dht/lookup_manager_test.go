package dht

import (
	"net"
	"testing"
)

func seedTable(t *testing.T, localID ID, n int) *RoutingTable {
	t.Helper()

	table := NewRoutingTable(localID)
	for i := 0; i < n; i++ {
		node := NewNode(idOfBits(i*7%160), net.IPv4(192, 168, 1, byte(i+1)), 6881)
		contact := NewContact(node)
		contact.MarkSeen()
		table.Insert(contact)
	}
	return table
}

func TestLookupManager_GetPeers_SeedsFromRoutingTable(t *testing.T) {
	myID := idOfBits(0)
	table := seedTable(t, myID, K)

	m := NewLookupManager(myID, table, nil)
	session, seeds := m.GetPeers(idOfBits(50), func([]string) {}, nil)

	if session == nil {
		t.Fatalf("expected a non-nil session")
	}
	if len(seeds) == 0 {
		t.Fatalf("expected seeds from a populated routing table")
	}
	if len(seeds) > K {
		t.Errorf("got %d seeds, want at most K=%d", len(seeds), K)
	}
}

func TestLookupManager_BootstrapLookup_DefaultsTargetToSelf(t *testing.T) {
	myID := idOfBits(0)
	table := seedTable(t, myID, K)

	m := NewLookupManager(myID, table, nil)
	session, _ := m.BootstrapLookup(nil)

	if session.target != myID {
		t.Errorf("BootstrapLookup(nil) target = %x, want self ID %x", session.target, myID)
	}
}

func TestLookupManager_BootstrapLookup_ExplicitTarget(t *testing.T) {
	myID := idOfBits(0)
	target := idOfBits(42)
	table := seedTable(t, myID, K)

	m := NewLookupManager(myID, table, nil)
	session, _ := m.BootstrapLookup(&target)

	if session.target != target {
		t.Errorf("BootstrapLookup target = %x, want %x", session.target, target)
	}
}
