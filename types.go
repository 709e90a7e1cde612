package main

import (
	"encoding/binary"
	"encoding/hex"
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// HashID represents a 20-byte identifier (info_hash or peer_id)
// Per BEP 15, both info_hash and peer_id are exactly 20 bytes (SHA-1 hash length)
// Used as map keys to avoid 40-byte hex string overhead (saves 20 bytes per key)
type HashID [20]byte

// NewHashID creates a HashID from a byte slice.
// Caller must ensure b has at least 20 bytes (packet validation happens before this).
// If b > 20 bytes, only the first 20 are used.
func NewHashID(b []byte) HashID {
	var h HashID
	copy(h[:], b)
	return h
}

func (h HashID) String() string {
	return hex.EncodeToString(h[:])
}

// PeerEndpoint is a fixed-size, allocation-free map key identifying a peer
// by its (ip, port) pair: 16 bytes of normalized IP (v4-mapped or native v6)
// plus a 2-byte big-endian port. Same packing technique as MakeRateLimitKey.
//
// Swarm membership is keyed by PeerEndpoint, not by peer_id: BEP 15 requires
// at most one record per (ip, port) in a swarm, and two different peer_ids
// announcing from the same socket must collapse to one record.
type PeerEndpoint [18]byte

// NewPeerEndpoint builds the endpoint key for an IP/port pair.
func NewPeerEndpoint(ip net.IP, port uint16) PeerEndpoint {
	var e PeerEndpoint
	ip16 := ip.To16()
	if ip16 == nil {
		ip16 = net.IPv6zero
	}
	copy(e[:16], ip16)
	binary.BigEndian.PutUint16(e[16:18], port)
	return e
}

// IsV4 reports whether the endpoint's IP is an IPv4 address.
func (e PeerEndpoint) IsV4() bool {
	return net.IP(e[:16]).To4() != nil
}

// IP returns the endpoint's address, 4-byte form for v4 and 16-byte form for v6.
func (e PeerEndpoint) IP() net.IP {
	ip := net.IP(append([]byte(nil), e[:16]...))
	if v4 := ip.To4(); v4 != nil {
		return v4
	}
	return ip
}

// Port returns the endpoint's UDP port.
func (e PeerEndpoint) Port() uint16 {
	return binary.BigEndian.Uint16(e[16:18])
}

// Peer is a single swarm member's record.
type Peer struct {
	LastAnnounced time.Time
	PeerID        HashID
	Left          uint64
	IsSeed        bool
	// Completed guards download_count: it is set once the peer is counted
	// (created as a seed, or its first leecher->seed transition), so a peer
	// that later flaps back to leecher and completes again is not counted twice.
	Completed bool
}

// Torrent is a swarm: the set of peers sharing one info_hash.
type Torrent struct {
	peers     map[PeerEndpoint]*Peer
	mu        sync.RWMutex
	seeders   int
	leechers  int
	completed uint32 // download_count: monotonically non-decreasing
}

// Tracker holds all process-wide state: the swarm table, the secret, the
// rate limiter, the whitelist handle, and the global counters.
type Tracker struct {
	torrents      map[HashID]*Torrent
	purgeCursor   int
	rateLimiter   map[string]*rateLimitEntry
	whitelist     *WhitelistStore
	stats         Stats
	secret        [32]byte
	instanceID    string
	mu            sync.RWMutex
	rateLimiterMu sync.Mutex
	wg            sync.WaitGroup
	cfg           config
}

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// Stats holds the six process-wide counters, updated only with atomic
// read-modify-write operations from the hot path and sampled/reset once
// per reaper tick.
type Stats struct {
	Connects  atomic.Uint32
	Announces atomic.Uint32
	Scrapes   atomic.Uint32
	Errors    atomic.Uint32
	BytesIn   atomic.Uint32
	BytesOut  atomic.Uint32
}

// Sample atomically reads and zeroes all six counters, returning the values
// accumulated since the last sample.
func (s *Stats) Sample() (connects, announces, scrapes, errs, bytesIn, bytesOut uint32) {
	connects = s.Connects.Swap(0)
	announces = s.Announces.Swap(0)
	scrapes = s.Scrapes.Swap(0)
	errs = s.Errors.Swap(0)
	bytesIn = s.BytesIn.Swap(0)
	bytesOut = s.BytesOut.Swap(0)
	return
}

//nolint:govet // field alignment is acceptable for a small config struct
type config struct {
	secret               string
	whitelistPath        string
	whitelistDBPath      string
	statsFilePath        string
	port                 int
	numThreads           int
	socketBufferSize     int
	announceIntervalSecs int
	maxScrapeResponses   int
	maxPeersPerAnnounce  int
	peerTTLSecs          int
	allowAlternateIP     bool
	debug                bool
}
