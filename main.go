package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var version = "dev"

const fallbackSecret = "udptracker-default-secret-do-not-use-in-production"

func envDefaultInt(key string, fallback int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return fallback
}

func envDefaultString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDefaultBool(key string) bool {
	return os.Getenv(key) != ""
}

var cfg config

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "udptracker",
		Short:   "A BEP 15 UDP BitTorrent tracker",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	f := root.PersistentFlags()
	f.IntVarP(&cfg.port, "port", "p", envDefaultInt("TRACKER_PORT", 1337),
		"port to listen on [env TRACKER_PORT]")
	f.StringVarP(&cfg.secret, "secret", "s", envDefaultString("TRACKER_SECRET", ""),
		"secret key for connection ID signing [env TRACKER_SECRET]")
	f.StringVarP(&cfg.whitelistPath, "whitelist", "w", envDefaultString("TRACKER_WHITELIST", ""),
		"path to legacy flat-file whitelist to import/watch [env TRACKER_WHITELIST]")
	f.StringVar(&cfg.whitelistDBPath, "whitelist-db", envDefaultString("TRACKER_WHITELIST_DB", ""),
		"path to the whitelist database; empty disables private-tracker mode unless --whitelist is set, which then uses whitelist.db [env TRACKER_WHITELIST_DB]")
	f.StringVar(&cfg.statsFilePath, "stats-file", envDefaultString("TRACKER_STATS_FILE", ""),
		"path to write a bencoded stats snapshot every reaper tick [env TRACKER_STATS_FILE]")
	f.IntVar(&cfg.numThreads, "threads", envDefaultInt("TRACKER_THREADS", 4),
		"number of worker goroutines per address family [env TRACKER_THREADS]")
	f.IntVar(&cfg.socketBufferSize, "socket-buffer", envDefaultInt("TRACKER_SOCKET_BUFFER", 0),
		"OS socket read/write buffer size in bytes, 0 leaves the OS default [env TRACKER_SOCKET_BUFFER]")
	f.IntVar(&cfg.announceIntervalSecs, "announce-interval", envDefaultInt("TRACKER_ANNOUNCE_INTERVAL", 1800),
		"base announce interval in seconds, jittered +/-120s per reply [env TRACKER_ANNOUNCE_INTERVAL]")
	f.IntVar(&cfg.maxScrapeResponses, "max-scrape", envDefaultInt("TRACKER_MAX_SCRAPE", 74),
		"maximum info_hashes answered per scrape request [env TRACKER_MAX_SCRAPE]")
	f.IntVar(&cfg.maxPeersPerAnnounce, "max-peers", envDefaultInt("TRACKER_MAX_PEERS", 200),
		"maximum peers returned per announce reply [env TRACKER_MAX_PEERS]")
	f.IntVar(&cfg.peerTTLSecs, "peer-ttl", envDefaultInt("TRACKER_PEER_TTL", 3600),
		"seconds since last announce before a peer is purged [env TRACKER_PEER_TTL]")
	f.BoolVar(&cfg.allowAlternateIP, "allow-alternate-ip", envDefaultBool("TRACKER_ALLOW_ALTERNATE_IP"),
		"honor the announce request's optional IP field instead of the packet source [env TRACKER_ALLOW_ALTERNATE_IP]")
	f.BoolVarP(&cfg.debug, "debug", "d", envDefaultBool("DEBUG"), "enable debug logs [env DEBUG]")

	root.AddCommand(newWhitelistCmd())
	return root
}

func runServe() error {
	if cfg.secret == "" {
		cfg.secret = fallbackSecret
	}

	debugEnabled.Store(cfg.debug)
	if cfg.debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	srv := NewServer(cfg)

	ctx, stop := setupSignalHandling()
	defer stop()

	return srv.Run(ctx)
}

func newWhitelistCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "whitelist",
		Short: "manage the private-tracker info_hash whitelist",
	}
	cmd.AddCommand(newWhitelistAddCmd(), newWhitelistRemoveCmd(), newWhitelistListCmd())
	return cmd
}

func openWhitelistForCLI() (*WhitelistStore, error) {
	if cfg.whitelistDBPath == "" {
		return nil, fmt.Errorf("a --whitelist-db path is required for this command")
	}
	return openWhitelistStore(cfg.whitelistDBPath, "")
}

func parseInfoHashArg(arg string) (HashID, error) {
	b, err := hex.DecodeString(arg)
	if err != nil || len(b) != 20 {
		return HashID{}, fmt.Errorf("info_hash must be 40 hex characters")
	}
	return NewHashID(b), nil
}

func newWhitelistAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <info_hash>",
		Short: "allow an info_hash to be tracked",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseInfoHashArg(args[0])
			if err != nil {
				return err
			}
			ws, err := openWhitelistForCLI()
			if err != nil {
				return err
			}
			defer ws.Close()
			if err := ws.Add(hash); err != nil {
				return err
			}
			fmt.Printf("added %s\n", hash.String())
			return nil
		},
	}
}

func newWhitelistRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <info_hash>",
		Short: "remove an info_hash from the whitelist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := parseInfoHashArg(args[0])
			if err != nil {
				return err
			}
			ws, err := openWhitelistForCLI()
			if err != nil {
				return err
			}
			defer ws.Close()
			if err := ws.Remove(hash); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", hash.String())
			return nil
		},
	}
}

func newWhitelistListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "list whitelisted info_hashes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, err := openWhitelistForCLI()
			if err != nil {
				return err
			}
			defer ws.Close()
			hashes, err := ws.List()
			if err != nil {
				return err
			}
			for _, h := range hashes {
				fmt.Println(h.String())
			}
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		errorLog("%v", err)
		os.Exit(1)
	}
}
