package dht

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prxssh/rabbitdht/internal/bencode"
	"github.com/prxssh/rabbitdht/pkg/retry"
	"github.com/prxssh/rabbitdht/pkg/syncmap"
)

var (
	ErrTimeout       = errors.New("query timeout")
	ErrInvalidMsg    = errors.New("invalid message")
	ErrTransactionID = errors.New("unknown transaction id")
	ErrKRPCStopped   = errors.New("krpc stopped")
)

type KRPC struct {
	logger  *slog.Logger
	conn    *net.UDPConn
	localID ID

	transactions *syncmap.Map[string, *transaction]

	queryHandler    func(*Message)
	responseHandler func(*Message)

	done chan struct{}
	wg   sync.WaitGroup
}

type transaction struct {
	query      *Message
	responseCh chan *Message
	sentTime   time.Time
}

func NewKRPC(localID ID, listenAddr string, logger *slog.Logger) (*KRPC, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, err
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, err
	}

	return &KRPC{
		logger:       logger,
		conn:         conn,
		localID:      localID,
		transactions: syncmap.New[string, *transaction](),
		done:         make(chan struct{}),
	}, nil
}

func (k *KRPC) LocalAddr() *net.UDPAddr {
	return k.conn.LocalAddr().(*net.UDPAddr)
}

func (k *KRPC) Start() {
	k.wg.Go(func() { k.readLoop() })
}

func (k *KRPC) Stop() {
	close(k.done)
	k.conn.Close()
	k.wg.Wait()
}

func (k *KRPC) SetQueryHandler(handler func(*Message)) {
	k.queryHandler = handler
}

func (k *KRPC) SetResponseHandler(handler func(*Message)) {
	k.responseHandler = handler
}

// SendQuery sends msg to addr and waits for a matching response, retrying
// the round trip with exponential backoff on timeout. attemptTimeout bounds
// a single round trip; up to three attempts are made, separated by backoff
// waits of attemptTimeout/4 and then attemptTimeout/2. ctx is checked before
// each attempt and during each wait, not during a round trip.
func (k *KRPC) SendQuery(
	ctx context.Context,
	msg *Message,
	addr *net.UDPAddr,
	attemptTimeout time.Duration,
) (*Message, error) {
	if msg.T == "" {
		msg.T = k.generateTransactionID()
	}

	var response *Message

	err := retry.Do(ctx, func(ctx context.Context) error {
		resp, err := k.roundTrip(msg, addr, attemptTimeout)
		if err != nil {
			return err
		}
		response = resp
		return nil
	}, retry.WithExponentialBackoff(3, attemptTimeout/4, attemptTimeout)...)
	if err != nil || response == nil {
		return nil, ErrTimeout
	}

	return response, nil
}

func (k *KRPC) roundTrip(msg *Message, addr *net.UDPAddr, timeout time.Duration) (*Message, error) {
	tx := &transaction{
		query:      msg,
		responseCh: make(chan *Message, 1),
		sentTime:   time.Now(),
	}

	k.transactions.Put(msg.T, tx)
	defer k.transactions.Delete(msg.T)

	if err := k.send(msg, addr); err != nil {
		return nil, err
	}

	select {
	case response := <-tx.responseCh:
		if response == nil {
			return nil, ErrInvalidMsg
		}
		return response, nil
	case <-time.After(timeout):
		return nil, ErrTimeout
	case <-k.done:
		return nil, ErrKRPCStopped
	}
}

func (k *KRPC) SendResponse(msg *Message, addr *net.UDPAddr) error {
	return k.send(msg, addr)
}

func (k *KRPC) SendError(transactionID string, code int, message string, addr *net.UDPAddr) error {
	msg := NewError(transactionID, code, message)
	return k.send(msg, addr)
}

func (k *KRPC) send(msg *Message, addr *net.UDPAddr) error {
	data := k.messageToMap(msg)

	encoded, err := bencode.Marshal(data)
	if err != nil {
		return err
	}

	_, err = k.conn.WriteToUDP(encoded, addr)
	return err
}

func (k *KRPC) readLoop() {
	buf := make([]byte, 65536)

	for {
		select {
		case <-k.done:
			return
		default:
		}

		k.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, addr, err := k.conn.ReadFromUDP(buf)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}
			if !errors.Is(err, net.ErrClosed) {
				k.logger.Error("read udp packet failed", "error", err.Error())
			}
			continue
		}

		data, err := bencode.Unmarshal(buf[:n])
		if err != nil {
			k.logger.Debug("malformed message", "error", err.Error(), "from", addr)
			continue
		}

		msg := k.mapToMessage(data, addr)
		if msg == nil {
			continue
		}
		k.handleMessage(msg)
	}
}

func (k *KRPC) handleMessage(msg *Message) {
	switch msg.Y {
	case QueryType:
		if k.queryHandler != nil {
			k.queryHandler(msg)
		}

	case ResponseType:
		k.handleResponse(msg)

	case ErrorType:
		k.handleError(msg)
	}
}

func (k *KRPC) handleResponse(msg *Message) {
	tx, exists := k.transactions.Get(msg.T)
	if !exists {
		k.logger.Debug("received response for unknown transaction", "from", msg.Addr)
		if k.responseHandler != nil {
			k.responseHandler(msg)
		}
		return
	}

	k.logger.Debug("received response", "from", msg.Addr, "txid", msg.T)

	select {
	case tx.responseCh <- msg:
	default:
	}
}

func (k *KRPC) handleError(msg *Message) {
	tx, exists := k.transactions.Get(msg.T)
	if !exists {
		return
	}

	select {
	case tx.responseCh <- msg:
	default:
	}
}

func (k *KRPC) generateTransactionID() string {
	b := make([]byte, 2)
	rand.Read(b)
	return hex.EncodeToString(b)
}

func (k *KRPC) messageToMap(msg *Message) map[string]any {
	m := make(map[string]any)

	m["t"] = msg.T
	m["y"] = string(msg.Y)

	if msg.V != "" {
		m["v"] = msg.V
	}

	switch msg.Y {
	case QueryType:
		m["q"] = string(msg.Q)
		m["a"] = msg.A

	case ResponseType:
		m["r"] = msg.R

	case ErrorType:
		m["e"] = msg.E
	}

	return m
}

func (k *KRPC) mapToMessage(data any, addr *net.UDPAddr) *Message {
	dict, ok := data.(map[string]any)
	if !ok {
		return nil
	}

	msg := &Message{Addr: addr}

	if t, ok := dict["t"].(string); ok {
		msg.T = t
	} else {
		return nil
	}

	if y, ok := dict["y"].(string); ok {
		msg.Y = MessageType(y)
	} else {
		return nil
	}

	if v, ok := dict["v"].(string); ok {
		msg.V = v
	}

	switch msg.Y {
	case QueryType:
		if q, ok := dict["q"].(string); ok {
			msg.Q = QueryMethod(q)
		}
		if a, ok := dict["a"].(map[string]any); ok {
			msg.A = a
		}

	case ResponseType:
		if r, ok := dict["r"].(map[string]any); ok {
			msg.R = r
		}

	case ErrorType:
		if e, ok := dict["e"].([]any); ok {
			msg.E = e
		}
	}

	return msg
}
