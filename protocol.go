package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"net"
	"time"

	"github.com/notkamui/udptracker/internal/wire"
)

// Protocol constants for the UDP Tracker Protocol (BEP 15), sourced from
// internal/wire so the benchmark client speaks the same wire format without
// redeclaring it.
// https://bittorrent.org/beps/bep_0015.html
const (
	protocolID = wire.ProtocolID

	actionConnect  = wire.ActionConnect
	actionAnnounce = wire.ActionAnnounce
	actionScrape   = wire.ActionScrape
	actionError    = wire.ActionError

	eventNone      = wire.EventNone
	eventCompleted = wire.EventCompleted
	eventStarted   = wire.EventStarted
	eventStopped   = wire.EventStopped

	maxPacketSize       = wire.MaxPacketSize
	maxPeersPerPacketV4 = wire.MaxPeersPerPacketV4
	maxPeersPerPacketV6 = wire.MaxPeersPerPacketV6
	defaultNumWant      = wire.DefaultNumWant

	rateLimitWindow = 2  // (minutes) window duration for rate limiting
	rateLimitBurst  = 10 // max connect requests per rateLimitWindow

	// cookieValidity is BEP 15's recommended connection-id lifetime.
	cookieValidity = 2 * time.Minute
)

// Connection ID generation and validation.
//
// Bound to the Tracker rather than a package-level secret so that multiple
// Trackers (as in tests) never share key material.

// mintConnectionID creates a stateless connection ID using a syn-cookie
// approach. Format: [32-bit timestamp][32-bit signature].
// Signature = HMAC-SHA256(secret, client_ip || client_port || timestamp)[0:4].
func (tr *Tracker) mintConnectionID(addr *net.UDPAddr) uint64 {
	timestamp := uint32(time.Now().Unix())
	return uint64(timestamp)<<32 | uint64(tr.signEndpoint(addr, timestamp))
}

// verifyConnectionID verifies the syn-cookie signature and checks expiration.
func (tr *Tracker) verifyConnectionID(id uint64, addr *net.UDPAddr) bool {
	timestamp := uint32(id >> 32)
	if time.Since(time.Unix(int64(timestamp), 0)) > cookieValidity {
		return false
	}
	expected := tr.signEndpoint(addr, timestamp)
	return uint32(id) == expected
}

func (tr *Tracker) signEndpoint(addr *net.UDPAddr, timestamp uint32) uint32 {
	mac := hmac.New(sha256.New, tr.secret[:])
	mac.Write(addr.IP.To16())
	var buf [6]byte
	//nolint:gosec // G115: Port is 0-65535, safe to convert to uint16
	binary.BigEndian.PutUint16(buf[0:2], uint16(addr.Port))
	binary.BigEndian.PutUint32(buf[2:6], timestamp)
	mac.Write(buf[:])
	return binary.BigEndian.Uint32(mac.Sum(nil)[:4])
}
