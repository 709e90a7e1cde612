package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseFlatWhitelist(t *testing.T) {
	tempDir := t.TempDir()

	t.Run("valid file with comments and empty lines", func(t *testing.T) {
		content := `# This is a comment
a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0

# Another comment
d4e5f6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6ef

`
		filePath := filepath.Join(tempDir, "valid.txt")
		if err := os.WriteFile(filePath, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		hashes, err := parseFlatWhitelist(filePath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hashes) != 2 {
			t.Errorf("expected 2 hashes, got %d", len(hashes))
		}

		hash, decErr := parseInfoHashArg("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0")
		if decErr != nil {
			t.Fatal(decErr)
		}
		if _, ok := hashes[hash]; !ok {
			t.Error("expected first hash to be in whitelist")
		}
	})

	t.Run("nonexistent file returns an error", func(t *testing.T) {
		if _, err := parseFlatWhitelist(filepath.Join(tempDir, "nonexistent.txt")); err == nil {
			t.Error("expected an error for a missing file")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		filePath := filepath.Join(tempDir, "empty.txt")
		if err := os.WriteFile(filePath, []byte{}, 0o600); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		hashes, err := parseFlatWhitelist(filePath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hashes) != 0 {
			t.Errorf("expected empty map, got %d hashes", len(hashes))
		}
	})

	t.Run("invalid hashes skipped", func(t *testing.T) {
		content := `a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0
invalid_hash_here
d4e5f6a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6ef
`
		filePath := filepath.Join(tempDir, "invalid.txt")
		if err := os.WriteFile(filePath, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		hashes, err := parseFlatWhitelist(filePath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hashes) != 2 {
			t.Errorf("expected 2 valid hashes, got %d", len(hashes))
		}
	})

	t.Run("case insensitive hex", func(t *testing.T) {
		content := `A1B2C3D4E5F6A7B8C9D0E1F2A3B4C5D6E7F8A9B0
a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0`
		filePath := filepath.Join(tempDir, "case.txt")
		if err := os.WriteFile(filePath, []byte(content), 0o600); err != nil {
			t.Fatalf("failed to write test file: %v", err)
		}

		hashes, err := parseFlatWhitelist(filePath)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(hashes) != 1 {
			t.Errorf("expected 1 unique hash (case insensitive), got %d", len(hashes))
		}
	})
}

func openTestWhitelistStore(t *testing.T) *WhitelistStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "whitelist.db")
	ws, err := openWhitelistStore(dbPath, "")
	if err != nil {
		t.Fatalf("openWhitelistStore: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func TestWhitelistStore_IsWhitelisted(t *testing.T) {
	t.Run("nil store allows all", func(t *testing.T) {
		var ws *WhitelistStore
		if !ws.IsWhitelisted(HashID{0x01, 0x02, 0x03}) {
			t.Error("expected hash to be allowed when whitelist is nil (public mode)")
		}
	})

	t.Run("empty store blocks all", func(t *testing.T) {
		ws := openTestWhitelistStore(t)
		if ws.IsWhitelisted(HashID{0x01, 0x02, 0x03}) {
			t.Error("expected hash to be blocked when whitelist is empty")
		}
	})

	t.Run("added hash allowed", func(t *testing.T) {
		ws := openTestWhitelistStore(t)
		hash := HashID{0x01, 0x02, 0x03}
		if err := ws.Add(hash); err != nil {
			t.Fatal(err)
		}
		if !ws.IsWhitelisted(hash) {
			t.Error("expected added hash to be allowed")
		}
	})

	t.Run("non-added hash blocked", func(t *testing.T) {
		ws := openTestWhitelistStore(t)
		hash1 := HashID{0x01, 0x02, 0x03}
		hash2 := HashID{0x04, 0x05, 0x06}
		if err := ws.Add(hash1); err != nil {
			t.Fatal(err)
		}
		if ws.IsWhitelisted(hash2) {
			t.Error("expected non-added hash to be blocked")
		}
	})
}

func TestWhitelistStore_AddRemoveList(t *testing.T) {
	ws := openTestWhitelistStore(t)
	hash1 := HashID{0x01, 0x02, 0x03}
	hash2 := HashID{0x04, 0x05, 0x06}

	if err := ws.Add(hash1); err != nil {
		t.Fatal(err)
	}
	if err := ws.Add(hash2); err != nil {
		t.Fatal(err)
	}

	list, err := ws.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("list length = %d, want 2", len(list))
	}

	if err := ws.Remove(hash1); err != nil {
		t.Fatal(err)
	}
	if ws.IsWhitelisted(hash1) {
		t.Error("hash1 should no longer be whitelisted after Remove")
	}
	if !ws.IsWhitelisted(hash2) {
		t.Error("hash2 should remain whitelisted")
	}

	list, err = ws.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 {
		t.Errorf("list length after remove = %d, want 1", len(list))
	}
}

func TestOpenWhitelistStore_ImportsLegacyFileOnFirstOpen(t *testing.T) {
	tempDir := t.TempDir()
	legacyPath := filepath.Join(tempDir, "whitelist.txt")
	content := "a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0\n"
	if err := os.WriteFile(legacyPath, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(tempDir, "whitelist.db")
	ws, err := openWhitelistStore(dbPath, legacyPath)
	if err != nil {
		t.Fatalf("openWhitelistStore: %v", err)
	}
	defer ws.Close()

	hash, err := parseInfoHashArg("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0")
	if err != nil {
		t.Fatal(err)
	}
	if !ws.IsWhitelisted(hash) {
		t.Error("expected legacy flat-file entry to be imported on first open")
	}
}

func TestOpenWhitelistStore_SkipsImportWhenDBAlreadyPopulated(t *testing.T) {
	tempDir := t.TempDir()
	dbPath := filepath.Join(tempDir, "whitelist.db")

	ws, err := openWhitelistStore(dbPath, "")
	if err != nil {
		t.Fatal(err)
	}
	seeded := HashID{0x09, 0x09, 0x09}
	if err := ws.Add(seeded); err != nil {
		t.Fatal(err)
	}
	ws.Close()

	legacyPath := filepath.Join(tempDir, "whitelist.txt")
	if err := os.WriteFile(legacyPath, []byte("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ws2, err := openWhitelistStore(dbPath, legacyPath)
	if err != nil {
		t.Fatal(err)
	}
	defer ws2.Close()

	if !ws2.IsWhitelisted(seeded) {
		t.Error("previously seeded hash should survive reopen")
	}
	legacyHash, _ := parseInfoHashArg("a1b2c3d4e5f6a7b8c9d0e1f2a3b4c5d6e7f8a9b0")
	if ws2.IsWhitelisted(legacyHash) {
		t.Error("legacy file should not be imported into an already-populated db")
	}
}

func TestWhitelistStore_CloseOnNil(t *testing.T) {
	var ws *WhitelistStore
	if err := ws.Close(); err != nil {
		t.Errorf("Close on nil store should be a no-op, got %v", err)
	}
}
