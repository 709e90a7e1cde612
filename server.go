package main

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
)

type Server struct {
	tr  *Tracker
	cfg config
}

// NewServer creates and initializes a new server instance
func NewServer(cfg config) *Server {
	ws, err := openWhitelistStore(cfg.whitelistDBPath, cfg.whitelistPath)
	if err != nil {
		warn("failed to open whitelist store, falling back to public mode: %v", err)
		ws = nil
	}

	s := &Server{
		cfg: cfg,
		tr: &Tracker{
			torrents:    make(map[HashID]*Torrent),
			rateLimiter: make(map[string]*rateLimitEntry),
			whitelist:   ws,
			instanceID:  uuid.NewString(),
			cfg:         cfg,
		},
	}

	h := sha256.New()
	h.Write([]byte(cfg.secret))
	copy(s.tr.secret[:], h.Sum(nil))

	return s
}

// Run starts the server and blocks until context cancellation
func (s *Server) Run(ctx context.Context) error {
	if s.cfg.secret == fallbackSecret {
		warn("Using insecure default secret key. Set -secret or TRACKER_SECRET for production use")
	}

	info("starting udptracker instance=%s threads=%d", s.tr.instanceID, s.cfg.numThreads)
	if debugEnabled.Load() {
		debug("debug mode is enabled")
	}

	go s.tr.cleanupLoop()
	if s.tr.whitelist != nil {
		s.tr.whitelist.startReloadLoop(ctx)
	}

	recv4, err := listenUDP("udp4", s.cfg.port, s.cfg.socketBufferSize, false)
	if err != nil {
		return fmt.Errorf("failed to listen on IPv4: %w", err)
	}
	info("UDP tracker listening on 0.0.0.0:%d (IPv4)", s.cfg.port)

	recv6, err := listenUDP("udp6", s.cfg.port, s.cfg.socketBufferSize, false)
	if err != nil {
		warn("IPv6 not available: %v", err)
	} else {
		info("UDP tracker listening on [::]:%d (IPv6)", s.cfg.port)
	}

	sendConns, err := s.startWorkers(ctx, recv4, recv6)
	if err != nil {
		return err
	}

	<-ctx.Done()
	info("shutting down gracefully...")

	if err := recv4.Close(); err != nil {
		debug("failed to close IPv4 connection: %v", err)
	}
	if recv6 != nil {
		if err := recv6.Close(); err != nil {
			debug("failed to close IPv6 connection: %v", err)
		}
	}

	info("waiting for workers to exit...")
	done := make(chan struct{})
	go func() {
		s.tr.wg.Wait()
		close(done)
	}()

	var shutdownErr error
	select {
	case <-done:
		info("shutdown complete")
	case <-time.After(30 * time.Second):
		warn("forcing shutdown after timeout, some workers incomplete")
		shutdownErr = fmt.Errorf("shutdown timeout")
	}

	for _, c := range sendConns {
		_ = c.Close()
	}
	if s.tr.whitelist != nil {
		_ = s.tr.whitelist.Close()
	}
	return shutdownErr
}

// startWorkers spawns the fixed pool of N worker goroutines per bound
// family. Each worker gets its own dedicated send socket,
// bound to the same local address with SO_REUSEPORT where available, to
// decongest the transmit path away from the shared receive socket.
func (s *Server) startWorkers(ctx context.Context, recv4, recv6 *net.UDPConn) ([]net.PacketConn, error) {
	var sendConns []net.PacketConn

	spawn := func(recvConn *net.UDPConn, network string) error {
		for i := 0; i < s.cfg.numThreads; i++ {
			sendConn, err := dialSendSocket(network, s.cfg.port, s.cfg.socketBufferSize)
			if err != nil {
				// SO_REUSEPORT unavailable on this platform/kernel: fall
				// back to replying on the shared receive socket instead
				// of failing startup.
				debug("worker %d/%s: dedicated send socket unavailable (%v), sharing receive socket", i, network, err)
				sendConn = recvConn
			} else {
				sendConns = append(sendConns, sendConn)
			}
			s.tr.wg.Add(1)
			go s.tr.worker(ctx, recvConn, sendConn)
		}
		return nil
	}

	if err := spawn(recv4, "udp4"); err != nil {
		return nil, err
	}
	if recv6 != nil {
		if err := spawn(recv6, "udp6"); err != nil {
			return nil, err
		}
	}
	return sendConns, nil
}

// listenUDP creates the shared UDP receive socket for the specified network and port.
func listenUDP(network string, port, bufSize int, reusePort bool) (*net.UDPConn, error) {
	var ip net.IP
	switch network {
	case "udp4":
		ip = net.ParseIP("0.0.0.0")
	case "udp6":
		ip = net.ParseIP("::")
	default:
		return nil, fmt.Errorf("unknown network: %s", network)
	}

	lc := net.ListenConfig{Control: reusePortControl(reusePort)}
	pc, err := lc.ListenPacket(context.Background(), network, net.JoinHostPort(ip.String(), fmt.Sprintf("%d", port)))
	if err != nil {
		return nil, err
	}
	conn, ok := pc.(*net.UDPConn)
	if !ok {
		pc.Close()
		return nil, fmt.Errorf("unexpected connection type for %s", network)
	}
	if bufSize > 0 {
		if err := conn.SetReadBuffer(bufSize); err != nil {
			debug("failed to set read buffer size: %v", err)
		}
	}
	return conn, nil
}

// dialSendSocket opens one worker's dedicated send socket, bound to the
// same local port as the shared receive socket via SO_REUSEPORT.
func dialSendSocket(network string, port, bufSize int) (net.PacketConn, error) {
	conn, err := listenUDP(network, port, 0, true)
	if err != nil {
		return nil, err
	}
	if bufSize > 0 {
		if err := conn.SetWriteBuffer(bufSize); err != nil {
			debug("failed to set send buffer size: %v", err)
		}
	}
	return conn, nil
}

// setupSignalHandling creates a context that cancels on SIGINT/SIGTERM
func setupSignalHandling() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
