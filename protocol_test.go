package main

import (
	"crypto/sha256"
	"net"
	"testing"
	"time"
)

func newTestTracker(t *testing.T, secret string) *Tracker {
	t.Helper()
	tr := &Tracker{torrents: make(map[HashID]*Torrent), rateLimiter: make(map[string]*rateLimitEntry)}
	h := sha256.New()
	h.Write([]byte(secret))
	copy(tr.secret[:], h.Sum(nil))
	return tr
}

func TestMintConnectionID(t *testing.T) {
	tr := newTestTracker(t, "test-secret")

	addr := &net.UDPAddr{IP: net.ParseIP("192.168.1.1"), Port: 6881}
	id := tr.mintConnectionID(addr)

	timestamp := uint32(id >> 32)
	now := uint32(time.Now().Unix())
	if timestamp != now {
		t.Errorf("timestamp = %d, want %d (current time)", timestamp, now)
	}
}

func TestVerifyConnectionID_Valid(t *testing.T) {
	tr := newTestTracker(t, "test-secret")

	addr := &net.UDPAddr{IP: net.ParseIP("192.168.1.1"), Port: 6881}
	id := tr.mintConnectionID(addr)

	if !tr.verifyConnectionID(id, addr) {
		t.Error("verifyConnectionID returned false for valid ID")
	}
}

func TestVerifyConnectionID_Expired(t *testing.T) {
	tr := newTestTracker(t, "test-secret")

	addr := &net.UDPAddr{IP: net.ParseIP("192.168.1.1"), Port: 6881}
	id := tr.mintConnectionID(addr)

	// BEP 15 specifies 2-minute expiration; use 3 minutes to safely exceed it
	expiredTimestamp := uint32(time.Now().Unix() - 3*60)
	expiredID := uint64(expiredTimestamp)<<32 | (id & 0xFFFFFFFF)

	if tr.verifyConnectionID(expiredID, addr) {
		t.Error("verifyConnectionID returned true for expired ID")
	}
}

func TestVerifyConnectionID_InvalidSignature(t *testing.T) {
	tr := newTestTracker(t, "test-secret")

	addr := &net.UDPAddr{IP: net.ParseIP("192.168.1.1"), Port: 6881}
	id := tr.mintConnectionID(addr)

	invalidSig := ^uint32(id) // flip all bits
	invalidID := (id & 0xFFFFFFFF00000000) | uint64(invalidSig)

	if tr.verifyConnectionID(invalidID, addr) {
		t.Error("verifyConnectionID returned true for invalid signature")
	}
}

func TestVerifyConnectionID_DifferentIP(t *testing.T) {
	tr := newTestTracker(t, "test-secret")

	addr1 := &net.UDPAddr{IP: net.ParseIP("192.168.1.1"), Port: 6881}
	addr2 := &net.UDPAddr{IP: net.ParseIP("192.168.1.2"), Port: 6881}

	id := tr.mintConnectionID(addr1)

	if tr.verifyConnectionID(id, addr2) {
		t.Error("verifyConnectionID returned true for different IP")
	}
}

func TestConnectionID_IPv6(t *testing.T) {
	tr := newTestTracker(t, "test-secret")

	addr := &net.UDPAddr{IP: net.ParseIP("2001:db8::1"), Port: 6881}
	id := tr.mintConnectionID(addr)

	if !tr.verifyConnectionID(id, addr) {
		t.Error("verifyConnectionID returned false for valid IPv6 ID")
	}
}

func TestVerifyConnectionID_WrongSecret(t *testing.T) {
	trA := newTestTracker(t, "secret-A")
	addr := &net.UDPAddr{IP: net.ParseIP("192.168.1.1"), Port: 6881}
	id := trA.mintConnectionID(addr)

	trB := newTestTracker(t, "secret-B")
	if trB.verifyConnectionID(id, addr) {
		t.Error("verifyConnectionID returned true for wrong secret")
	}
}

func TestBufferPool(t *testing.T) {
	t.Run("getBuffer returns buffer with sufficient capacity", func(t *testing.T) {
		buf := getBuffer()
		if buf == nil {
			t.Fatal("getBuffer returned nil")
		}
		// Buffer should have at least maxPacketSize capacity
		// (sync.Pool may return larger buffers from other tests)
		if cap(*buf) < maxPacketSize {
			t.Errorf("buffer capacity = %d, want at least %d", cap(*buf), maxPacketSize)
		}
		putBuffer(buf)
	})

	t.Run("putBuffer resets slice length", func(t *testing.T) {
		buf := getBuffer()
		*buf = append(*buf, []byte("some data")...)
		if len(*buf) == 0 {
			t.Error("buffer should have data before put")
		}
		putBuffer(buf)

		// putBuffer should reset the slice to zero length
		// Note: we can't reliably test getBuffer returns len=0 because
		// other tests may put buffers back into the pool concurrently
		if len(*buf) != 0 {
			t.Errorf("buffer length after put = %d, want 0", len(*buf))
		}
	})
}

func TestPeerSlicePool(t *testing.T) {
	t.Run("getPeerSlice returns zero-length slice", func(t *testing.T) {
		s := getPeerSlice()
		if len(*s) != 0 {
			t.Errorf("length = %d, want 0", len(*s))
		}
		putPeerSlice(s)
	})

	t.Run("putPeerSlice discards oversized backing arrays", func(t *testing.T) {
		s := getPeerSlice()
		big := make([]peerInfo, maxPeersPerPacketV4*5)
		*s = big
		putPeerSlice(s)
		if *s != nil {
			t.Error("expected oversized slice to be discarded, not pooled")
		}
	})
}
