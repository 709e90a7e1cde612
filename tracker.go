package main

import (
	"encoding/binary"
	"math/rand"
	"net"
	"time"
)

// Error response buffer optimization constants
// Stack-allocate small error responses to avoid heap allocation
const (
	errorHeaderSize   = 8                                   // action:4 + transaction_id:4
	errorMaxStackSize = 128                                 // maximum stack buffer size for error responses
	errorMaxMsgLen    = errorMaxStackSize - errorHeaderSize // 120 bytes for message

	// Pre-computed rate limit cleanup threshold for zero-runtime-overhead cleanup
	rateLimitCleanupThreshold = rateLimitWindow * 2 * time.Minute // 2 windows are definitely stale

	reaperInterval = 60 * time.Second // fixed 60s cadence, not a config knob
	purgeBatch     = 20               // swarms touched per reaper tick
)

// Tracker methods

// peerInfo is a lightweight struct for copying peer data out of locks
type peerInfo struct {
	ip   net.IP
	port uint16
}

// checkRateLimit enforces rate limiting on connect requests using a fixed window per
// source address (IP and port, see MakeRateLimitKey)
// Returns (allowed, timeRemaining) - timeRemaining is 0 if allowed, otherwise the duration
// until the client can retry. This prevents UDP amplification attacks
func (tr *Tracker) checkRateLimit(addr *net.UDPAddr) (allowed bool, timeRemaining time.Duration) {
	key := MakeRateLimitKey(addr)
	window := rateLimitWindow * time.Minute

	tr.rateLimiterMu.Lock()

	rl, exists := tr.rateLimiter[key]
	if !exists {
		tr.rateLimiter[key] = &rateLimitEntry{count: 1, windowStart: time.Now()}
		tr.rateLimiterMu.Unlock()
		return true, 0
	}

	elapsed := time.Since(rl.windowStart)
	if elapsed >= window {
		rl.count = 1
		rl.windowStart = time.Now()
		tr.rateLimiterMu.Unlock()
		return true, 0
	}

	if rl.count < rateLimitBurst {
		rl.count++
		tr.rateLimiterMu.Unlock()
		return true, 0
	}

	tr.rateLimiterMu.Unlock()
	return false, window - elapsed
}

// MakeRateLimitKey creates a compact fixed-length string key from UDPAddr
// Format: 16 bytes of IP (padded) + 2 bytes of port as string
// Exported for use in tests.
func MakeRateLimitKey(addr *net.UDPAddr) string {
	// For IPv4, To16() gives us 16 bytes; for IPv6 it's already 16 bytes
	ip := addr.IP.To16()
	if ip == nil {
		ip = net.IPv6zero
	}

	// Build key: 16 bytes IP + 2 bytes port = 18 bytes
	var key [18]byte
	copy(key[:16], ip)
	//nolint:gosec // G115: Port is 0-65535, safe to convert to uint16
	binary.BigEndian.PutUint16(key[16:18], uint16(addr.Port))
	return string(key[:])
}

func (tr *Tracker) getOrCreateTorrent(hash HashID) *Torrent {
	tr.mu.Lock()

	if t, ok := tr.torrents[hash]; ok {
		tr.mu.Unlock()
		return t
	}

	tr.torrents[hash] = &Torrent{peers: make(map[PeerEndpoint]*Peer)}
	t := tr.torrents[hash]
	tr.mu.Unlock()
	info("created new torrent %s", hash.String())
	return t
}

func (tr *Tracker) getTorrent(hash HashID) *Torrent {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	return tr.torrents[hash]
}

// upsert inserts or updates the peer at endpoint, honoring the announce
// event, and reports the seed-state transition so the caller can decide
// whether a completed-download was observed. On event=stopped the record
// is removed instead and (wasSeedBefore, false) is returned.
//
// download_count increments once per peer record: when the record is created
// as a seed, or on its first leecher->seed transition (DESIGN.md decision
// D1), guarded by Peer.Completed so a peer that flaps
// leecher->seed->leecher->seed is not counted twice.
func (t *Torrent) upsert(endpoint PeerEndpoint, peerID HashID, left uint64, event uint32) (wasSeedBefore, isSeedNow bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, exists := t.peers[endpoint]

	if event == eventStopped {
		if exists {
			wasSeedBefore = p.IsSeed
			if p.IsSeed {
				t.seeders--
			} else {
				t.leechers--
			}
			delete(t.peers, endpoint)
			if debugEnabled.Load() {
				debug("peer %s stopped @ %s:%d", peerID.String(), endpoint.IP(), endpoint.Port())
			}
		}
		return wasSeedBefore, false
	}

	isSeedNow = left == 0

	if exists {
		wasSeedBefore = p.IsSeed
		if !wasSeedBefore && isSeedNow {
			t.leechers--
			t.seeders++
			if !p.Completed {
				p.Completed = true
				t.completed++
				if debugEnabled.Load() {
					debug("peer %s completed torrent @ %s:%d", peerID.String(), endpoint.IP(), endpoint.Port())
				}
			}
		} else if wasSeedBefore && !isSeedNow {
			t.seeders--
			t.leechers++
			if debugEnabled.Load() {
				debug("peer %s became leecher @ %s:%d", peerID.String(), endpoint.IP(), endpoint.Port())
			}
		}
		p.PeerID, p.Left, p.IsSeed = peerID, left, isSeedNow
		p.LastAnnounced = time.Now()
		return wasSeedBefore, isSeedNow
	}

	peer := &Peer{PeerID: peerID, Left: left, IsSeed: isSeedNow, LastAnnounced: time.Now()}
	if isSeedNow {
		t.seeders++
		peer.Completed = true
		t.completed++ // peer starts as seeder (has full file) and counts as completed
	} else {
		t.leechers++
	}
	t.peers[endpoint] = peer
	if debugEnabled.Load() {
		debug("added peer %s @ %s:%d seed=%v", peerID.String(), endpoint.IP(), endpoint.Port(), isSeedNow)
	}
	return false, isSeedNow
}

// count returns the current seeder/leecher totals.
func (t *Torrent) count() (seeders, leechers int) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.seeders, t.leechers
}

// getPeers returns a compact-encoded list of peers for a client to connect to.
// Returns up to numWant peers matching the client's IP version, excluding the
// announcing endpoint itself.
func (t *Torrent) getPeers(
	exclude PeerEndpoint, numWant int, clientIsV4 bool, peerSize int,
) (peers []byte, seeders, leechers int) {
	t.mu.RLock()
	seeders, leechers = t.seeders, t.leechers

	// Get pooled slice to collect matching peers
	allPeersPtr := getPeerSlice()
	allPeers := *allPeersPtr

	// Collect all matching peers
	for endpoint := range t.peers {
		if endpoint != exclude && endpoint.IsV4() == clientIsV4 {
			allPeers = append(allPeers, peerInfo{ip: endpoint.IP(), port: endpoint.Port()})
		}
	}
	t.mu.RUnlock()

	// Update pointer in case slice was reallocated
	*allPeersPtr = allPeers

	if len(allPeers) == 0 {
		putPeerSlice(allPeersPtr)
		return nil, seeders, leechers
	}

	// Randomly select peers with a starting offset for approximately
	// uniform sampling without tracking per-swarm sampling state.
	numPeers := min(numWant, len(allPeers))
	peers = make([]byte, 0, numPeers*peerSize)

	//nolint:gosec // G404: math/rand acceptable for peer selection
	// (performance matters, cryptographic security not required)
	start := rand.Intn(len(allPeers))
	for i := 0; i < numPeers; i++ {
		p := allPeers[(start+i)%len(allPeers)]
		if clientIsV4 {
			peers = append(peers, p.ip.To4()...)
		} else {
			peers = append(peers, p.ip.To16()...)
		}
		peers = binary.BigEndian.AppendUint16(peers, p.port)
	}

	putPeerSlice(allPeersPtr)
	return peers, seeders, leechers
}

// sendError sends an error message back to the client when something goes wrong
// Error response format: [action:4][transaction_id:4][error_message:variable]
// Fixed header: 4 + 4 = 8 bytes
func (tr *Tracker) sendError(conn net.PacketConn, addr *net.UDPAddr, transactionID uint32, message string) {
	msgLen := len(message)
	totalSize := errorHeaderSize + msgLen

	var response []byte
	if msgLen <= errorMaxMsgLen {
		// Stack-allocate small errors to avoid heap allocation
		var buf [errorMaxStackSize]byte
		response = buf[:totalSize]
	} else {
		// Heap allocate only for large messages
		response = make([]byte, totalSize)
	}

	binary.BigEndian.PutUint32(response[0:4], actionError)
	binary.BigEndian.PutUint32(response[4:8], transactionID)
	copy(response[8:], message)

	n, err := conn.WriteTo(response, addr)
	if err != nil {
		info("failed to send error to %s: %v", addr, err)
		return
	}
	tr.stats.BytesOut.Add(uint32(n))
	debug("sent error to %s: %s", addr, message)
}

// reaperTick runs one pass of the reaper: samples and resets
// the global counters, purges stale rate-limiter entries, and expires stale
// peers/empty torrents in up to purgeBatch swarms via a cursor that
// persists across ticks.
func (tr *Tracker) reaperTick(now time.Time, ttl time.Duration) {
	connects, announces, scrapes, errs, bytesIn, bytesOut := tr.stats.Sample()
	emitStatsLine(connects, announces, scrapes, errs, bytesIn, bytesOut)
	if err := tr.writeStatsSnapshot(now, connects, announces, scrapes, errs, bytesIn, bytesOut); err != nil {
		warn("failed to write stats snapshot: %v", err)
	}

	tr.purgeStalePeers(now, ttl)
	tr.cleanupRateLimiters(now.Add(-rateLimitCleanupThreshold))
}

// purgeStalePeers walks up to purgeBatch swarms starting from the
// persistent cursor, expiring peers older than ttl and collecting swarms
// that became empty for removal. The cursor is re-expressed each tick as
// an index into a fresh snapshot of the table's keys, since
// Go maps provide no stable iterator to survive concurrent mutation.
func (tr *Tracker) purgeStalePeers(now time.Time, ttl time.Duration) {
	tr.mu.RLock()
	hashes := make([]HashID, 0, len(tr.torrents))
	for h := range tr.torrents {
		hashes = append(hashes, h)
	}
	tr.mu.RUnlock()

	if len(hashes) == 0 {
		tr.purgeCursor = 0
		return
	}
	if tr.purgeCursor >= len(hashes) {
		tr.purgeCursor = 0
	}

	n := min(purgeBatch, len(hashes))
	deadline := now.Add(-ttl)
	var empty []HashID
	for i := 0; i < n; i++ {
		idx := (tr.purgeCursor + i) % len(hashes)
		hash := hashes[idx]
		if tr.expireSingleTorrent(hash, deadline) {
			empty = append(empty, hash)
		}
	}
	tr.purgeCursor = (tr.purgeCursor + n) % len(hashes)

	if len(empty) > 0 {
		tr.removeEmptyTorrents(empty)
	}
}

// expireSingleTorrent removes stale peers from one torrent.
// Returns true if the torrent is now empty.
func (tr *Tracker) expireSingleTorrent(hash HashID, deadline time.Time) bool {
	// Lock ordering: tracker -> torrent, then release tracker
	tr.mu.RLock()
	t, exists := tr.torrents[hash]
	if !exists {
		tr.mu.RUnlock()
		return false
	}
	t.mu.Lock()
	tr.mu.RUnlock()

	for endpoint, p := range t.peers {
		if p.LastAnnounced.Before(deadline) {
			if p.IsSeed {
				t.seeders--
			} else {
				t.leechers--
			}
			delete(t.peers, endpoint)
			if debugEnabled.Load() {
				debug("cleanup: removed stale peer %s @ %s:%d", p.PeerID.String(), endpoint.IP(), endpoint.Port())
			}
		}
	}
	isEmpty := len(t.peers) == 0
	t.mu.Unlock()
	return isEmpty
}

// removeEmptyTorrents deletes torrents that are still empty after expiry.
func (tr *Tracker) removeEmptyTorrents(empty []HashID) {
	tr.mu.Lock()
	for _, hash := range empty {
		if t, ok := tr.torrents[hash]; ok {
			t.mu.RLock()
			stillEmpty := len(t.peers) == 0
			t.mu.RUnlock()
			if stillEmpty {
				delete(tr.torrents, hash)
				if debugEnabled.Load() {
					debug("cleanup: removed inactive torrent %s", hash.String())
				}
			}
		}
	}
	tr.mu.Unlock()
}

// cleanupRateLimiters removes expired rate limiter entries.
func (tr *Tracker) cleanupRateLimiters(deadline time.Time) {
	tr.rateLimiterMu.Lock()
	for key, rl := range tr.rateLimiter {
		if !rl.windowStart.After(deadline) {
			delete(tr.rateLimiter, key)
		}
	}
	tr.rateLimiterMu.Unlock()
}

// cleanupLoop periodically runs reaperTick in a background goroutine at
// the tracker's fixed reaper cadence.
func (tr *Tracker) cleanupLoop() {
	ticker := time.NewTicker(reaperInterval)
	defer ticker.Stop()

	ttl := time.Duration(tr.cfg.peerTTLSecs) * time.Second
	for range ticker.C {
		tr.reaperTick(time.Now(), ttl)
	}
}
