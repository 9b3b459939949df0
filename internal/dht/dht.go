package dht

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/prxssh/rabbitdht/internal/config"
	"golang.org/x/sync/errgroup"
)

var (
	ErrNotStarted = errors.New("DHT not started")
	ErrStopped    = errors.New("DHT stopped")
)

type DHT struct {
	config  *Config
	tuning  *config.Config
	localID ID
	table   *RoutingTable
	krpc    *KRPC
	storage *Storage
	token   *TokenManager
	handler *QueryHandler
	lookups *LookupManager

	started bool
	mu      sync.RWMutex
	done    chan struct{}
	wg      sync.WaitGroup
}

// Config carries the identity and wire-level settings unique to a single
// DHT node; tunables shared across the process (timeouts, bucket refresh
// cadence, storage bounds) live in the global internal/config singleton.
type Config struct {
	Logger         *slog.Logger
	LocalID        ID
	ListenAddr     string
	BootstrapNodes []string // "ip:port" format
}

func NewDHT(dhtConfig *Config) (*DHT, error) {
	tuning := config.Load()

	krpc, err := NewKRPC(dhtConfig.LocalID, dhtConfig.ListenAddr, dhtConfig.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create KRPC: %w", err)
	}

	table := NewRoutingTable(dhtConfig.LocalID)
	storage := NewStorage(tuning)
	token := NewTokenManager(tuning.TokenRotationInterval)

	dht := &DHT{
		config:  dhtConfig,
		tuning:  tuning,
		localID: dhtConfig.LocalID,
		table:   table,
		krpc:    krpc,
		storage: storage,
		token:   token,
		lookups: NewLookupManager(dhtConfig.LocalID, table, krpc),
		done:    make(chan struct{}),
	}

	dht.handler = NewQueryHandler(krpc, table, storage, token)
	krpc.SetQueryHandler(dht.handler.HandleQuery)

	return dht, nil
}

func (d *DHT) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.started {
		return errors.New("already started")
	}

	d.krpc.Start()

	d.wg.Add(3)
	go d.bootstrapLoop()
	go d.refreshLoop()
	go d.pingLoop()

	d.started = true
	return nil
}

func (d *DHT) Stop() {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return
	}
	d.mu.Unlock()

	close(d.done)
	d.lookups.Stop()
	d.wg.Wait()

	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
}

// GetPeers runs a peer lookup for infoHash and returns every peer address
// collected along the way.
func (d *DHT) GetPeers(infoHash ID) ([]net.Addr, error) {
	if !d.isStarted() {
		return nil, ErrNotStarted
	}

	var mu sync.Mutex
	var peers []net.Addr

	collect := func(values []string) {
		mu.Lock()
		defer mu.Unlock()

		for _, v := range values {
			if len(v) != 6 {
				continue
			}
			var info [6]byte
			copy(info[:], v)
			ip, port := DecodePeerInfo(info)
			peers = append(peers, &net.UDPAddr{IP: ip, Port: int(port)})
		}
	}

	session, seeds := d.lookups.GetPeers(infoHash, collect, nil)
	d.runLookup(session, seeds)

	return peers, nil
}

// AnnouncePeer runs a peer lookup for infoHash, then announces the local
// node's availability on port to the nearest responders that supplied a
// token.
func (d *DHT) AnnouncePeer(infoHash ID, port int) error {
	if !d.isStarted() {
		return ErrNotStarted
	}

	session, seeds := d.lookups.GetPeers(infoHash, func([]string) {}, &port)
	d.runLookup(session, seeds)

	return nil
}

// Ping sends a ping to a node and updates the routing table on success.
func (d *DHT) Ping(addr *net.UDPAddr) error {
	if !d.isStarted() {
		return ErrNotStarted
	}

	msg := PingQuery("", d.localID)

	ctx, cancel := context.WithTimeout(context.Background(), d.tuning.QueryTimeout)
	defer cancel()

	response, err := d.krpc.SendQuery(ctx, msg, addr, d.tuning.QueryTimeout)
	if err != nil {
		return err
	}

	nodeID, ok := response.GetNodeID()
	if !ok {
		return ErrInvalidMsg
	}

	contact := NewContact(NewNode(nodeID, addr.IP, addr.Port))
	contact.MarkSeen()
	d.table.Insert(contact)

	return nil
}

// FindNode performs an iterative lookup to find nodes close to target,
// populating the routing table as responses arrive.
func (d *DHT) FindNode(target ID) ([]*Contact, error) {
	if !d.isStarted() {
		return nil, ErrNotStarted
	}

	session, seeds := d.lookups.BootstrapLookup(&target)
	d.runLookup(session, seeds)

	return d.table.FindClosestK(target, K), nil
}

// lookupEvent is one outcome of a dispatched query, fed back into the
// session serially by runLookup.
type lookupEvent struct {
	isTimeout bool
	msg       *Message
	node      *Node
}

// runLookup drives session to completion: it dispatches each batch of
// queries the session yields concurrently over the querier, then replays
// their outcomes into the session one at a time (the session itself is not
// safe for concurrent callback invocation), repeating until the session
// reports done.
func (d *DHT) runLookup(session *LookupSession, seeds []*Node) {
	events := make(chan lookupEvent, d.tuning.MaxParallelQueries)
	pending := 0

	var g errgroup.Group

	dispatch := func(queries []Query) {
		pending += len(queries)
		for _, q := range queries {
			q := q
			g.Go(func() error {
				ctx, cancel := context.WithTimeout(context.Background(), d.tuning.QueryTimeout)
				defer cancel()

				resp, err := d.krpc.SendQuery(ctx, q.Message, q.Dest.UDPAddr(), d.tuning.QueryTimeout)
				if err != nil {
					events <- lookupEvent{isTimeout: true, node: q.Dest}
					return nil
				}
				events <- lookupEvent{msg: resp, node: q.Dest}
				return nil
			})
		}
	}

	dispatch(session.Start(seeds))

	for pending > 0 {
		ev := <-events
		pending--

		var next []Query
		switch {
		case ev.isTimeout:
			next = session.OnTimeout(ev.node)
		case ev.msg.IsError():
			next = session.OnError(ev.msg, ev.node)
		default:
			d.insertResponder(ev.node, ev.msg)
			next = session.OnResponse(ev.msg, ev.node)
		}

		dispatch(next)
	}

	g.Wait()
}

// insertResponder records a node that answered a lookup query as a good
// contact in the routing table.
func (d *DHT) insertResponder(node *Node, msg *Message) {
	nodeID, ok := msg.GetNodeID()
	if !ok || nodeID != node.ID {
		return
	}

	contact := NewContact(node)
	contact.MarkSeen()
	d.table.Insert(contact)
}

// bootstrapLoop performs initial bootstrap.
func (d *DHT) bootstrapLoop() {
	defer d.wg.Done()

	d.bootstrap()

	ticker := time.NewTicker(d.tuning.BootstrapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.bootstrap()
		}
	}
}

// bootstrap contacts bootstrap nodes and performs a self-lookup.
func (d *DHT) bootstrap() {
	for _, addrStr := range d.config.BootstrapNodes {
		addr, err := net.ResolveUDPAddr("udp", addrStr)
		if err != nil {
			continue
		}

		d.Ping(addr)
	}

	time.Sleep(2 * time.Second)

	d.FindNode(d.localID)
}

// refreshLoop refreshes stale buckets.
func (d *DHT) refreshLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.tuning.BucketRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.refresh()
		}
	}
}

// refresh finds and refreshes stale buckets.
func (d *DHT) refresh() {
	buckets := d.table.GetBucketsNeedingRefresh()

	for _, bucketIdx := range buckets {
		target := d.randomIDInBucket(bucketIdx)
		d.FindNode(target)
	}
}

// pingLoop pings questionable contacts.
func (d *DHT) pingLoop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.tuning.QuestionablePingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-d.done:
			return
		case <-ticker.C:
			d.pingQuestionable()
		}
	}
}

// pingQuestionable pings questionable contacts to verify liveness.
func (d *DHT) pingQuestionable() {
	contacts := d.table.GetQuestionableContacts()

	for _, contact := range contacts {
		msg := PingQuery("", d.localID)

		ctx, cancel := context.WithTimeout(context.Background(), d.tuning.QueryTimeout)
		response, err := d.krpc.SendQuery(ctx, msg, contact.Addr(), d.tuning.QueryTimeout)
		cancel()
		if err != nil {
			contact.MarkFailed()
			if contact.IsBad() {
				d.table.Remove(contact.ID())
			}
			continue
		}

		nodeID, ok := response.GetNodeID()
		if !ok || nodeID != contact.ID() {
			d.table.Remove(contact.ID())
			continue
		}

		contact.MarkSeen()
	}
}

// randomIDInBucket generates a random node ID within a bucket's range by
// flipping the local ID's bit at the bucket's boundary position and
// randomizing every bit below it.
func (d *DHT) randomIDInBucket(bucketIdx int) ID {
	id := d.localID
	r := RandomID()

	bitPos := IDSizeBits - 1 - bucketIdx
	byteIdx := bitPos / 8
	bitIdx := byte(bitPos % 8)

	id[byteIdx] ^= 1 << (7 - bitIdx)

	mask := byte(1<<(7-bitIdx)) - 1
	id[byteIdx] = id[byteIdx]&^mask | r[byteIdx]&mask
	copy(id[byteIdx+1:], r[byteIdx+1:])

	return id
}

// isStarted checks if DHT is running.
func (d *DHT) isStarted() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.started
}

// Stats returns current DHT statistics.
func (d *DHT) Stats() RoutingTableStats {
	return d.table.GetStats()
}

// LocalAddr returns the local UDP address.
func (d *DHT) LocalAddr() *net.UDPAddr {
	return d.krpc.LocalAddr()
}
