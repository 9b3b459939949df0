package dht

import (
	"net"
	"testing"
)

func TestNode_CompactNodeInfo_RoundTrip(t *testing.T) {
	n := NewNode(idOfBits(10, 50), net.IPv4(203, 0, 113, 9), 6881)

	data := n.CompactNodeInfo()
	if len(data) != compactIPV4Size {
		t.Fatalf("len(data) = %d, want %d", len(data), compactIPV4Size)
	}

	got := DecodeCompactNodeInfo(data)
	if got == nil {
		t.Fatalf("DecodeCompactNodeInfo returned nil")
	}
	if got.ID != n.ID || !got.IP.Equal(n.IP) || got.Port != n.Port {
		t.Errorf("decoded node = %+v, want %+v", got, n)
	}
}

func TestNode_CompactNodeInfo_RejectsIPv6(t *testing.T) {
	n := NewNode(idOfBits(0), net.ParseIP("2001:db8::1"), 6881)

	if data := n.CompactNodeInfo(); data != nil {
		t.Errorf("CompactNodeInfo should return nil for an IPv6 address, got %v", data)
	}
}

func TestNode_CompactNodeInfo6_RoundTrip(t *testing.T) {
	n := NewNode(idOfBits(10, 50), net.ParseIP("2001:db8::1"), 6881)

	data := n.CompactNodeInfo6()
	if len(data) != compactIPV6Size {
		t.Fatalf("len(data) = %d, want %d", len(data), compactIPV6Size)
	}

	got := DecodeCompactNodeInfo6(data)
	if got == nil {
		t.Fatalf("DecodeCompactNodeInfo6 returned nil")
	}
	if got.ID != n.ID || !got.IP.Equal(n.IP) || got.Port != n.Port {
		t.Errorf("decoded node = %+v, want %+v", got, n)
	}
}

func TestNode_DecodeCompactNodeInfoList(t *testing.T) {
	a := NewNode(idOfBits(10), net.IPv4(10, 0, 0, 1), 6881)
	b := NewNode(idOfBits(20), net.IPv4(10, 0, 0, 2), 6882)

	blob := append(a.CompactNodeInfo(), b.CompactNodeInfo()...)
	nodes := DecodeCompactNodeInfoList(blob)

	if len(nodes) != 2 {
		t.Fatalf("len(nodes) = %d, want 2", len(nodes))
	}
	if nodes[0].ID != a.ID || nodes[1].ID != b.ID {
		t.Errorf("decoded list did not preserve order/identity")
	}
}

func TestNode_DecodeCompactNodeInfoList_RejectsMisalignedLength(t *testing.T) {
	if nodes := DecodeCompactNodeInfoList(make([]byte, compactIPV4Size+1)); nodes != nil {
		t.Errorf("expected nil for a length not a multiple of %d, got %v", compactIPV4Size, nodes)
	}
}

func TestNode_DecodeNodes_PicksEncodingByLength(t *testing.T) {
	v4 := NewNode(idOfBits(10), net.IPv4(10, 0, 0, 1), 6881)
	v6 := NewNode(idOfBits(20), net.ParseIP("2001:db8::2"), 6882)

	got4 := DecodeNodes(v4.CompactNodeInfo())
	if len(got4) != 1 || got4[0].ID != v4.ID {
		t.Errorf("DecodeNodes(v4 blob) = %v, want a single node matching %v", got4, v4)
	}

	got6 := DecodeNodes(v6.CompactNodeInfo6())
	if len(got6) != 1 || got6[0].ID != v6.ID || len(got6[0].IP) != len(v6.IP.To16()) {
		t.Errorf("DecodeNodes(v6 blob) = %v, want a single IPv6 node matching %v", got6, v6)
	}
}

func TestNode_DecodeNodes_Empty(t *testing.T) {
	if nodes := DecodeNodes(nil); nodes != nil {
		t.Errorf("DecodeNodes(nil) = %v, want nil", nodes)
	}
}

func TestNode_SameIP(t *testing.T) {
	a := NewNode(idOfBits(0), net.IPv4(1, 2, 3, 4), 6881)
	b := NewNode(idOfBits(1), net.IPv4(1, 2, 3, 4), 6882)
	c := NewNode(idOfBits(2), net.IPv4(1, 2, 3, 5), 6881)

	if !a.SameIP(b) {
		t.Errorf("expected nodes sharing an IP to compare equal regardless of port")
	}
	if a.SameIP(c) {
		t.Errorf("expected nodes with different IPs to compare unequal")
	}
}

func TestNode_UDPAddrAndString(t *testing.T) {
	n := NewNode(idOfBits(0), net.IPv4(1, 2, 3, 4), 6881)

	addr := n.UDPAddr()
	if addr.Port != 6881 || !addr.IP.Equal(n.IP) {
		t.Errorf("UDPAddr = %+v, want IP %v port 6881", addr, n.IP)
	}
	if n.String() == "" {
		t.Errorf("String should not be empty")
	}
}
