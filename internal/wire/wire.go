// Package wire carries the BEP 15 UDP Tracker Protocol constants shared by
// the tracker's request dispatcher and any other process that needs to speak
// the same wire format, such as the load-test client under benchmark/.
//
// https://bittorrent.org/beps/bep_0015.html
package wire

const (
	// ProtocolID is the fixed "magic constant" every connect request opens with.
	ProtocolID = 0x41727101980

	ActionConnect  = 0
	ActionAnnounce = 1
	ActionScrape   = 2
	ActionError    = 3

	EventNone      = 0 // regular update
	EventCompleted = 1
	EventStarted   = 2
	EventStopped   = 3

	MaxPacketSize       = 1500 // typical unfragmented Ethernet frame (MTU)
	MaxPeersPerPacketV4 = 200  // IPv4: 20-byte header + 200 * 6 = 1220 bytes (under 1500 MTU)
	MaxPeersPerPacketV6 = 82   // IPv6: 20-byte header + 82 * 18 = 1496 bytes (under 1500 MTU)
	DefaultNumWant      = 50   // default number of peers to return when client doesn't specify
)
