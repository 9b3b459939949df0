package dht

import (
	"crypto/sha1"
	"net"

	"github.com/prxssh/rabbitdht/pkg/utils/cast"
)

type MessageType string

const (
	QueryType    MessageType = "q"
	ResponseType MessageType = "r"
	ErrorType    MessageType = "e"
)

type QueryMethod string

const (
	PingMethod         QueryMethod = "ping"
	FindNodeMethod     QueryMethod = "find_node"
	GetPeersMethod     QueryMethod = "get_peers"
	AnnouncePeerMethod QueryMethod = "announce_peer"
)

type Message struct {
	T string      // TransactionID
	Y MessageType // Message Type
	V string      // Client version

	Q QueryMethod    // Query method name
	A map[string]any // Query arguments

	R map[string]any // Response values

	E []any // Err [code, message]

	Addr *net.UDPAddr
}

func NewQuery(method QueryMethod, transactionID string) *Message {
	return &Message{
		T: transactionID,
		Y: QueryType,
		Q: method,
		A: make(map[string]any),
	}
}

func NewResponse(transactionID string) *Message {
	return &Message{
		T: transactionID,
		Y: ResponseType,
		R: make(map[string]any),
	}
}

func NewError(transactionID string, code int, message string) *Message {
	return &Message{
		T: transactionID,
		Y: ErrorType,
		E: []any{code, message},
	}
}

const (
	ErrorGeneric       = 201 // Generic Error
	ErrorServer        = 202 // Server Error
	ErrorProtocol      = 203 // Protocol Error
	ErrorMethodUnknown = 204 // Method Unknown
)

func PingQuery(transactionID string, senderID ID) *Message {
	msg := NewQuery(PingMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	return msg
}

func PingResponse(transactionID string, senderID ID) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	return msg
}

func FindNodeQuery(transactionID string, senderID, target ID) *Message {
	msg := NewQuery(FindNodeMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	msg.A["target"] = string(target[:])
	return msg
}

func FindNodeResponse(transactionID string, senderID ID, nodes []byte) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["nodes"] = string(nodes)
	return msg
}

func GetPeersQuery(transactionID string, senderID, infoHash ID) *Message {
	msg := NewQuery(GetPeersMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	msg.A["info_hash"] = string(infoHash[:])
	return msg
}

func GetPeersResponse(
	transactionID string,
	senderID ID,
	token string,
	values []string,
) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["token"] = token
	list := make([]any, len(values))
	for i, v := range values {
		list[i] = v
	}
	msg.R["values"] = list
	return msg
}

func GetPeersResponseNodes(
	transactionID string,
	senderID ID,
	token string,
	nodes []byte,
) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	msg.R["token"] = token
	msg.R["nodes"] = string(nodes)
	return msg
}

func AnnouncePeerQuery(
	transactionID string,
	senderID, infoHash ID,
	port int,
	token string,
) *Message {
	msg := NewQuery(AnnouncePeerMethod, transactionID)
	msg.A["id"] = string(senderID[:])
	msg.A["info_hash"] = string(infoHash[:])
	msg.A["port"] = port
	msg.A["token"] = token
	return msg
}

func AnnouncePeerResponse(transactionID string, senderID ID) *Message {
	msg := NewResponse(transactionID)
	msg.R["id"] = string(senderID[:])
	return msg
}

func idFromField(v any) (ID, bool) {
	var id ID

	s, err := cast.ToString(v)
	if err != nil || len(s) != sha1.Size {
		return id, false
	}

	copy(id[:], s)
	return id, true
}

func (m *Message) GetNodeID() (ID, bool) {
	if m.Y == ResponseType && m.R != nil {
		return idFromField(m.R["id"])
	}
	if m.Y == QueryType && m.A != nil {
		return idFromField(m.A["id"])
	}

	var zero ID
	return zero, false
}

func (m *Message) GetTarget() (ID, bool) {
	if m.Y != QueryType || m.A == nil {
		var zero ID
		return zero, false
	}

	return idFromField(m.A["target"])
}

func (m *Message) GetInfoHash() (ID, bool) {
	if m.Y != QueryType || m.A == nil {
		var zero ID
		return zero, false
	}

	return idFromField(m.A["info_hash"])
}

func (m *Message) GetToken() (string, bool) {
	var raw any
	if m.Y == ResponseType && m.R != nil {
		raw = m.R["token"]
	} else if m.Y == QueryType && m.A != nil {
		raw = m.A["token"]
	} else {
		return "", false
	}

	token, err := cast.ToString(raw)
	return token, err == nil
}

func (m *Message) GetNodes() ([]byte, bool) {
	if m.Y != ResponseType || m.R == nil {
		return nil, false
	}

	nodes, err := cast.ToBytes(m.R["nodes"])
	if err != nil {
		return nil, false
	}

	return nodes, true
}

func (m *Message) GetValues() ([]string, bool) {
	if m.Y != ResponseType || m.R == nil {
		return nil, false
	}

	values, err := cast.ToStringSlice(m.R["values"])
	if err != nil {
		return nil, false
	}

	return values, len(values) > 0
}

func (m *Message) GetPort() (int, bool) {
	if m.Y != QueryType || m.A == nil {
		return 0, false
	}

	port, err := cast.ToInt(m.A["port"])
	if err != nil {
		return 0, false
	}

	return int(port), true
}

func (m *Message) IsQuery() bool {
	return m.Y == QueryType
}

func (m *Message) IsResponse() bool {
	return m.Y == ResponseType
}

func (m *Message) IsError() bool {
	return m.Y == ErrorType
}
