package dht

import (
	"encoding/binary"
	"net"
	"strconv"
)

const (
	compactIPV4Size = 26
	compactIPV6Size = 38
)

// Node is the immutable triple (id, ip, port) used as the unit of
// addressing throughout the lookup core.
type Node struct {
	ID   ID
	IP   net.IP
	Port int
}

func NewNode(id ID, ip net.IP, port int) *Node {
	return &Node{ID: id, IP: ip, Port: port}
}

// SameIP reports whether n and other share an IP address, the equality used
// for lookup deduplication.
func (n *Node) SameIP(other *Node) bool {
	return n.IP.Equal(other.IP)
}

func (n *Node) CompactNodeInfo() []byte {
	ip4 := n.IP.To4()
	if ip4 == nil {
		return nil
	}

	buf := make([]byte, compactIPV4Size)
	copy(buf[:20], n.ID[:])
	copy(buf[20:24], ip4)
	binary.BigEndian.PutUint16(buf[24:26], uint16(n.Port))

	return buf
}

func DecodeCompactNodeInfo(data []byte) *Node {
	if len(data) != compactIPV4Size {
		return nil
	}

	var id ID
	copy(id[:], data[:20])

	ip := net.IPv4(data[20], data[21], data[22], data[23])
	port := binary.BigEndian.Uint16(data[24:26])

	return &Node{ID: id, IP: ip, Port: int(port)}
}

func DecodeCompactNodeInfoList(data []byte) []*Node {
	if len(data)%compactIPV4Size != 0 {
		return nil
	}

	count := len(data) / compactIPV4Size
	nodes := make([]*Node, 0, count)

	for i := 0; i < count; i++ {
		offset := i * compactIPV4Size
		if node := DecodeCompactNodeInfo(data[offset : offset+compactIPV4Size]); node != nil {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

func (n *Node) CompactNodeInfo6() []byte {
	ip6 := n.IP.To16()
	if ip6 == nil {
		return nil
	}

	buf := make([]byte, compactIPV6Size)
	copy(buf[:20], n.ID[:])
	copy(buf[20:36], ip6)
	binary.BigEndian.PutUint16(buf[36:38], uint16(n.Port))

	return buf
}

func DecodeCompactNodeInfo6(data []byte) *Node {
	if len(data) != compactIPV6Size {
		return nil
	}

	var id ID
	copy(id[:], data[:20])

	ip := make(net.IP, 16)
	copy(ip, data[20:36])
	port := binary.BigEndian.Uint16(data[36:38])

	return &Node{ID: id, IP: ip, Port: int(port)}
}

func DecodeCompactNodeInfo6List(data []byte) []*Node {
	if len(data)%compactIPV6Size != 0 {
		return nil
	}

	count := len(data) / compactIPV6Size
	nodes := make([]*Node, 0, count)

	for i := 0; i < count; i++ {
		offset := i * compactIPV6Size
		if node := DecodeCompactNodeInfo6(data[offset : offset+compactIPV6Size]); node != nil {
			nodes = append(nodes, node)
		}
	}

	return nodes
}

// DecodeNodes decodes a compact node list, trying the IPv4 encoding first
// and falling back to IPv6 based on the blob's length.
func DecodeNodes(data []byte) []*Node {
	if len(data) == 0 {
		return nil
	}
	if len(data)%compactIPV4Size == 0 {
		return DecodeCompactNodeInfoList(data)
	}
	if len(data)%compactIPV6Size == 0 {
		return DecodeCompactNodeInfo6List(data)
	}
	return nil
}

func (n *Node) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: n.IP, Port: n.Port}
}

func (n *Node) String() string {
	return net.JoinHostPort(n.IP.String(), strconv.Itoa(n.Port))
}
