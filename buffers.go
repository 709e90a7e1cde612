package main

import "sync"

// bufferPool recycles maxPacketSize-capacity datagram buffers across
// workers, so a worker's hot path (receive -> decode -> reply) does not
// allocate for the common case.
var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, maxPacketSize)
		return &b
	},
}

// getBuffer returns a pooled buffer sized at maxPacketSize.
func getBuffer() *[]byte {
	buf := bufferPool.Get().(*[]byte)
	*buf = (*buf)[:maxPacketSize]
	return buf
}

// putBuffer resets the buffer's length and returns it to the pool.
func putBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}

// peerSlicePool recycles the []peerInfo slices getPeers uses to collect a
// swarm's matching peers before sampling, avoiding an allocation per
// announce on the hot path.
var peerSlicePool = sync.Pool{
	New: func() any {
		s := make([]peerInfo, 0, maxPeersPerPacketV4)
		return &s
	},
}

func getPeerSlice() *[]peerInfo {
	s := peerSlicePool.Get().(*[]peerInfo)
	*s = (*s)[:0]
	return s
}

func putPeerSlice(s *[]peerInfo) {
	// Cap the retained capacity so one abnormally large swarm doesn't pin
	// an oversized backing array in the pool indefinitely.
	if cap(*s) > maxPeersPerPacketV4*4 {
		*s = nil
		return
	}
	*s = (*s)[:0]
	peerSlicePool.Put(s)
}
