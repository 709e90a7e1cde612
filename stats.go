package main

import (
	"os"
	"time"

	bencode "github.com/jackpal/bencode-go"
)

// statsSnapshot is the bencoded-on-disk form of one reaper tick's counters,
// read by external monitoring without needing to speak the UDP protocol.
type statsSnapshot struct {
	InstanceID string `bencode:"instance_id"`
	Timestamp  int64  `bencode:"timestamp"`
	Connects   uint32 `bencode:"connects"`
	Announces  uint32 `bencode:"announces"`
	Scrapes    uint32 `bencode:"scrapes"`
	Errors     uint32 `bencode:"errors"`
	BytesIn    uint32 `bencode:"bytes_in"`
	BytesOut   uint32 `bencode:"bytes_out"`
	Torrents   int    `bencode:"torrents"`
	Seeders    int    `bencode:"seeders"`
	Leechers   int    `bencode:"leechers"`
}

// emitStatsLine logs one human-readable summary of the counters accumulated
// since the previous reaper tick.
func emitStatsLine(connects, announces, scrapes, errs, bytesIn, bytesOut uint32) {
	info("stats: connects=%d announces=%d scrapes=%d errors=%d bytes_in=%d bytes_out=%d",
		connects, announces, scrapes, errs, bytesIn, bytesOut)
}

// writeStatsSnapshot bencode-encodes the tick's counters plus a swarm-table
// census to cfg.statsFilePath. A no-op when no path is configured.
func (tr *Tracker) writeStatsSnapshot(now time.Time, connects, announces, scrapes, errs, bytesIn, bytesOut uint32) error {
	if tr.cfg.statsFilePath == "" {
		return nil
	}

	torrents, seeders, leechers := tr.census()

	snap := statsSnapshot{
		InstanceID: tr.instanceID,
		Timestamp:  now.Unix(),
		Connects:   connects,
		Announces:  announces,
		Scrapes:    scrapes,
		Errors:     errs,
		BytesIn:    bytesIn,
		BytesOut:   bytesOut,
		Torrents:   torrents,
		Seeders:    seeders,
		Leechers:   leechers,
	}

	tmp := tr.cfg.statsFilePath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := bencode.Marshal(f, snap); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, tr.cfg.statsFilePath)
}

// census reports the current number of tracked swarms and their total
// seeder/leecher counts, for the stats snapshot.
func (tr *Tracker) census() (torrents, seeders, leechers int) {
	tr.mu.RLock()
	defer tr.mu.RUnlock()

	torrents = len(tr.torrents)
	for _, t := range tr.torrents {
		t.mu.RLock()
		seeders += t.seeders
		leechers += t.leechers
		t.mu.RUnlock()
	}
	return
}
