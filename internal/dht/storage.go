package dht

import (
	"encoding/binary"
	"net"
	"time"

	"github.com/prxssh/rabbitdht/internal/config"
	"github.com/prxssh/rabbitdht/pkg/syncmap"
)

// Storage is the local peer tracker: the mapping from info-hash to the set
// of peers that have announced themselves for it. It is an out-of-scope
// collaborator of the lookup core (the core only ever reads tokens/peers out
// of KRPC responses), but a QueryHandler needs one to answer get_peers and
// announce_peer queries from other nodes.
type Storage struct {
	data *syncmap.Map[ID, *torrentPeers]

	maxPeersPerTorrent int
	maxTorrents        int
	peerExpiration     time.Duration
}

type torrentPeers struct {
	peers    *syncmap.Map[string, *peerEntry]
	lastUsed time.Time
}

type peerEntry struct {
	info     [6]byte // Compact peer info (4 byte IP + 2 byte port)
	lastSeen time.Time
}

func NewStorage(cfg *config.Config) *Storage {
	s := &Storage{
		data:               syncmap.New[ID, *torrentPeers](),
		maxPeersPerTorrent: cfg.MaxPeersPerTorrent,
		maxTorrents:        cfg.MaxTorrents,
		peerExpiration:     cfg.PeerExpiration,
	}

	go s.cleanupLoop()

	return s
}

func (s *Storage) StorePeer(infoHash ID, peerInfo [6]byte) {
	tp, exists := s.data.Get(infoHash)
	if !exists {
		if s.data.Len() >= s.maxTorrents {
			s.evictOldestTorrent()
		}

		tp = &torrentPeers{peers: syncmap.New[string, *peerEntry]()}
		s.data.Put(infoHash, tp)
	}
	tp.lastUsed = time.Now()

	key := string(peerInfo[:])
	if tp.peers.Len() >= s.maxPeersPerTorrent {
		if _, exists := tp.peers.Get(key); !exists {
			return
		}
	}

	tp.peers.Put(key, &peerEntry{info: peerInfo, lastSeen: time.Now()})
}

func (s *Storage) GetPeers(infoHash ID) [][6]byte {
	tp, exists := s.data.Get(infoHash)
	if !exists {
		return nil
	}
	tp.lastUsed = time.Now()

	peers := make([][6]byte, 0, tp.peers.Len())
	tp.peers.Range(func(_ string, entry *peerEntry) bool {
		peers = append(peers, entry.info)
		return true
	})

	return peers
}

func (s *Storage) cleanupLoop() {
	ticker := time.NewTicker(10 * time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		s.cleanup()
	}
}

func (s *Storage) cleanup() {
	now := time.Now()

	var emptyHashes []ID
	s.data.Range(func(infoHash ID, tp *torrentPeers) bool {
		var stale []string
		tp.peers.Range(func(key string, entry *peerEntry) bool {
			if now.Sub(entry.lastSeen) > s.peerExpiration {
				stale = append(stale, key)
			}
			return true
		})
		tp.peers.Delete(stale...)

		if tp.peers.Len() == 0 {
			emptyHashes = append(emptyHashes, infoHash)
		}
		return true
	})

	s.data.Delete(emptyHashes...)
}

func (s *Storage) evictOldestTorrent() {
	var oldestHash ID
	var oldestTime time.Time
	first := true

	s.data.Range(func(hash ID, tp *torrentPeers) bool {
		if first || tp.lastUsed.Before(oldestTime) {
			oldestHash = hash
			oldestTime = tp.lastUsed
			first = false
		}
		return true
	})

	if !first {
		s.data.Delete(oldestHash)
	}
}

func EncodePeerInfo(ip net.IP, port uint16) [6]byte {
	var info [6]byte
	ip4 := ip.To4()
	if ip4 == nil {
		return info
	}

	copy(info[:4], ip4)
	binary.BigEndian.PutUint16(info[4:6], port)
	return info
}

func DecodePeerInfo(info [6]byte) (net.IP, uint16) {
	ip := net.IPv4(info[0], info[1], info[2], info[3])
	port := binary.BigEndian.Uint16(info[4:6])
	return ip, port
}
