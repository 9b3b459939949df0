package dht

import "sync"

// Query pairs an outbound message with the node it should be sent to. The
// session never sends anything itself; it hands queries to the controller,
// which binds transaction IDs and dispatches them through the querier.
type Query struct {
	Message *Message
	Dest    *Node
}

// QueryTemplate builds the outgoing query a session issues against a
// candidate, parameterised by the local ID and the lookup's target.
type QueryTemplate func(myID, target ID) *Message

// Announcer produces the terminal announce batch once a session reaches
// zero in-flight queries. Bootstrap lookups use a no-op announcer.
type Announcer func(s *LookupSession) []Query

func getPeersTemplate(myID, target ID) *Message {
	return GetPeersQuery("", myID, target)
}

func findNodeTemplate(myID, target ID) *Message {
	return FindNodeQuery("", myID, target)
}

func noAnnouncer(*LookupSession) []Query {
	return nil
}

func peerAnnouncer(s *LookupSession) []Query {
	if s.btPort == nil {
		return nil
	}

	closest := s.queue.ClosestWithToken(AnnounceRedundancy)
	queries := make([]Query, 0, len(closest))
	for _, c := range closest {
		msg := AnnouncePeerQuery("", s.myID, s.target, *s.btPort, c.Token)
		queries = append(queries, Query{Message: msg, Dest: c.Node})
	}
	return queries
}

// LookupSession drives one lookup to completion. It is a single-threaded,
// callback-driven state machine: every public method is invoked serially by
// the controller and returns the batch of queries the controller should
// dispatch next. Only isDone and numParallelQueries are accessed from other
// threads (for reporting); everything else is confined to the callback
// thread and needs no locking.
type LookupSession struct {
	myID   ID
	target ID
	btPort *int

	peerCallback func(peers []string)

	queue         *LookupQueue
	queryTemplate QueryTemplate
	announcer     Announcer

	started bool

	numQueries   int
	numResponses int
	numTimeouts  int
	numErrors    int

	mu                 sync.Mutex
	isDone             bool
	numParallelQueries int
}

// NewPeerLookupSession builds a get_peers lookup session. callback is
// invoked with each batch of compact peer addresses as responses arrive;
// btPort, if non-nil, is announced to the nearest token-holding responders
// at termination.
func NewPeerLookupSession(
	myID, infoHash ID,
	btPort *int,
	callback func(peers []string),
) *LookupSession {
	return &LookupSession{
		myID:          myID,
		target:        infoHash,
		btPort:        btPort,
		peerCallback:  callback,
		queue:         NewLookupQueue(infoHash),
		queryTemplate: getPeersTemplate,
		announcer:     peerAnnouncer,
	}
}

// NewBootstrapLookupSession builds a find_node lookup session used to
// populate the routing table; it never announces.
func NewBootstrapLookupSession(myID, target ID) *LookupSession {
	return &LookupSession{
		myID:          myID,
		target:        target,
		queue:         NewLookupQueue(target),
		queryTemplate: findNodeTemplate,
		announcer:     noAnnouncer,
	}
}

// Start seeds the queue with the bootstrap set and returns the initial
// batch of outbound queries. Calling Start more than once is a no-op.
func (s *LookupSession) Start(seeds []*Node) []Query {
	if s.started {
		return nil
	}
	s.started = true

	toQuery := s.queue.Bootstrap(seeds)
	queries := s.buildQueries(toQuery)
	return append(queries, s.checkTermination()...)
}

// OnResponse processes a response from node, merges its offered candidates
// into the queue, and returns the next batch of queries to issue.
func (s *LookupSession) OnResponse(msg *Message, node *Node) []Query {
	if s.done() {
		return nil
	}
	s.decrementInFlight()
	s.numResponses++

	token, _ := msg.GetToken()

	if values, ok := msg.GetValues(); ok {
		s.queue.LatchSlowDown()
		if s.peerCallback != nil {
			s.peerCallback(values)
		}
	}

	allNodes, _ := msg.GetNodes()
	toQuery := s.queue.OnResponse(node, DecodeNodes(allNodes), token)

	queries := s.buildQueries(toQuery)
	return append(queries, s.checkTermination()...)
}

// OnTimeout processes a query timeout for node.
func (s *LookupSession) OnTimeout(node *Node) []Query {
	if s.done() {
		return nil
	}
	s.decrementInFlight()
	s.numTimeouts++

	s.queue.LatchSlowDown()
	toQuery := s.queue.OnTimeout()

	queries := s.buildQueries(toQuery)
	return append(queries, s.checkTermination()...)
}

// OnError processes a protocol-error response from node. It mutates no
// queue state; only bookkeeping and termination.
func (s *LookupSession) OnError(msg *Message, node *Node) []Query {
	if s.done() {
		return nil
	}
	s.decrementInFlight()
	s.numErrors++

	return s.checkTermination()
}

// buildQueries turns emitted candidates into outbound queries, silently
// filtering the local node (never probe self), and accounts them as
// in-flight.
func (s *LookupSession) buildQueries(nodes []*Node) []Query {
	queries := make([]Query, 0, len(nodes))
	for _, n := range nodes {
		if n.ID == s.myID {
			continue
		}
		queries = append(queries, Query{Message: s.queryTemplate(s.myID, s.target), Dest: n})
	}

	if len(queries) == 0 {
		return queries
	}

	s.mu.Lock()
	s.numParallelQueries += len(queries)
	s.mu.Unlock()

	s.numQueries += len(queries)
	return queries
}

// checkTermination transitions the session to done once no queries remain
// in flight, returning the (possibly empty) announce batch exactly once.
func (s *LookupSession) checkTermination() []Query {
	s.mu.Lock()
	if s.isDone || s.numParallelQueries > 0 {
		s.mu.Unlock()
		return nil
	}
	s.isDone = true
	s.mu.Unlock()

	return s.announcer(s)
}

func (s *LookupSession) decrementInFlight() {
	s.mu.Lock()
	s.numParallelQueries--
	s.mu.Unlock()
}

func (s *LookupSession) done() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isDone
}

// IsDone reports whether the session has reached its terminal state.
func (s *LookupSession) IsDone() bool {
	return s.done()
}

// NumParallelQueries reports the current number of in-flight queries.
func (s *LookupSession) NumParallelQueries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.numParallelQueries
}

// SessionStats summarises the session's counters. Stats reads them under the
// session mutex, but only NumParallelQueries and IsDone are written under it;
// the other four counters are updated unlocked on the callback thread, so
// Stats reports them reliably only when called from that thread.
type SessionStats struct {
	NumQueries         int
	NumResponses       int
	NumTimeouts        int
	NumErrors          int
	NumParallelQueries int
	IsDone             bool
}

func (s *LookupSession) Stats() SessionStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SessionStats{
		NumQueries:         s.numQueries,
		NumResponses:       s.numResponses,
		NumTimeouts:        s.numTimeouts,
		NumErrors:          s.numErrors,
		NumParallelQueries: s.numParallelQueries,
		IsDone:             s.isDone,
	}
}
