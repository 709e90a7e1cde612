package main

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const whitelistRefreshInterval = 5 * time.Minute

var whitelistBucket = []byte("infohashes")

// whitelistValue is the sentinel value stored for each allowed hash. bbolt's
// Get cannot distinguish a "missing key" nil from a zero-length stored
// value, so every entry carries one non-empty byte.
var whitelistValue = []byte{1}

// WhitelistStore is a bbolt-backed private-tracker allowlist of info_hashes.
// A nil *WhitelistStore means public mode: every info_hash is allowed.
//
// bbolt serializes all access through its own transaction locking, so the
// store needs no additional mutex.
type WhitelistStore struct {
	db         *bbolt.DB
	legacyPath string
}

// openWhitelistStore opens (creating if necessary) the bbolt whitelist
// database at dbPath. If legacyPath is non-empty and the database's bucket
// is empty, the legacy flat hex-list file is imported on first open so
// operators upgrading from the flat-file format keep their whitelist.
//
// Both paths empty means the tracker runs in public mode: openWhitelistStore
// returns (nil, nil) and every info_hash is allowed.
func openWhitelistStore(dbPath, legacyPath string) (*WhitelistStore, error) {
	if dbPath == "" && legacyPath == "" {
		return nil, nil
	}
	if dbPath == "" {
		dbPath = "whitelist.db"
	}

	db, err := bbolt.Open(dbPath, 0o600, &bbolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open whitelist db %s: %w", dbPath, err)
	}

	ws := &WhitelistStore{db: db, legacyPath: legacyPath}

	empty := true
	err = db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(whitelistBucket)
		if err != nil {
			return err
		}
		empty = b.Stats().KeyN == 0
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	if empty && legacyPath != "" {
		if err := ws.importFlatFile(legacyPath); err != nil {
			info("no legacy whitelist imported: %v", err)
		}
	}

	return ws, nil
}

// importFlatFile merges every hash found in the legacy newline-delimited
// hex file into the bucket. Empty lines and lines starting with # are
// ignored, matching the old format.
func (ws *WhitelistStore) importFlatFile(path string) error {
	hashes, err := parseFlatWhitelist(path)
	if err != nil {
		return err
	}
	return ws.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(whitelistBucket)
		for h := range hashes {
			if err := b.Put(h[:], whitelistValue); err != nil {
				return err
			}
		}
		return nil
	})
}

func parseFlatWhitelist(path string) (map[HashID]struct{}, error) {
	//nolint:gosec // Path is controlled by admin
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	hashes := make(map[HashID]struct{})
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if len(line) != 40 {
			info("whitelist line %d: invalid hash length (expected 40 hex chars), skipping", lineNum)
			continue
		}

		decoded, err := hex.DecodeString(line)
		if err != nil {
			info("whitelist line %d: invalid hex string, skipping", lineNum)
			continue
		}

		hashes[NewHashID(decoded)] = struct{}{}
	}

	return hashes, scanner.Err()
}

// IsWhitelisted reports whether hash may be tracked. A nil store is public
// mode: everything is allowed.
func (ws *WhitelistStore) IsWhitelisted(hash HashID) bool {
	if ws == nil {
		return true
	}
	var allowed bool
	//nolint:errcheck // view never fails on a well-formed bucket
	ws.db.View(func(tx *bbolt.Tx) error {
		allowed = tx.Bucket(whitelistBucket).Get(hash[:]) != nil
		return nil
	})
	return allowed
}

// Add inserts hash into the whitelist.
func (ws *WhitelistStore) Add(hash HashID) error {
	return ws.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(whitelistBucket).Put(hash[:], whitelistValue)
	})
}

// Remove deletes hash from the whitelist.
func (ws *WhitelistStore) Remove(hash HashID) error {
	return ws.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(whitelistBucket).Delete(hash[:])
	})
}

// List returns every whitelisted hash.
func (ws *WhitelistStore) List() ([]HashID, error) {
	var out []HashID
	err := ws.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(whitelistBucket)
		return b.ForEach(func(k, _ []byte) error {
			out = append(out, NewHashID(k))
			return nil
		})
	})
	return out, err
}

// Close releases the underlying bbolt database handle.
func (ws *WhitelistStore) Close() error {
	if ws == nil {
		return nil
	}
	return ws.db.Close()
}

// startReloadLoop periodically re-imports the legacy flat file, if one was
// configured, so operators who still edit the text file see their changes
// take effect without a restart. Stops when ctx is canceled.
func (ws *WhitelistStore) startReloadLoop(ctx context.Context) {
	if ws.legacyPath == "" {
		return
	}

	go func() {
		var lastMod time.Time
		if fi, err := os.Stat(ws.legacyPath); err == nil {
			lastMod = fi.ModTime()
		}

		ticker := time.NewTicker(whitelistRefreshInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fi, err := os.Stat(ws.legacyPath)
				if err != nil {
					debug("failed to stat whitelist file: %v", err)
					continue
				}
				if fi.ModTime() == lastMod {
					continue
				}
				if err := ws.importFlatFile(ws.legacyPath); err != nil {
					info("failed to reload whitelist: %v", err)
					continue
				}
				lastMod = fi.ModTime()
				info("reloaded whitelist from %s", ws.legacyPath)
			}
		}
	}()
}
