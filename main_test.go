package main

import (
	"os"
	"testing"

	"github.com/spf13/cobra"
)

// newTestRootCmd resets the package-level cfg and builds a fresh root
// command, since cobra flags in newRootCmd bind directly to cfg and env
// defaults are only read at construction time. Tests call ParseFlags
// directly instead of Execute so RunE (which starts the whole server)
// never runs.
func newTestRootCmd() *cobra.Command {
	cfg = config{}
	return newRootCmd()
}

func TestFlags_PortFromEnv(t *testing.T) {
	os.Setenv("TRACKER_PORT", "8080")
	defer os.Unsetenv("TRACKER_PORT")

	root := newTestRootCmd()
	if err := root.ParseFlags([]string{}); err != nil {
		t.Fatal(err)
	}
	if cfg.port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.port)
	}
}

func TestFlags_PortFromEnvInvalidFallsBackToDefault(t *testing.T) {
	os.Setenv("TRACKER_PORT", "not-a-number")
	defer os.Unsetenv("TRACKER_PORT")

	root := newTestRootCmd()
	if err := root.ParseFlags([]string{}); err != nil {
		t.Fatal(err)
	}
	if cfg.port != 1337 {
		t.Errorf("port = %d, want default 1337", cfg.port)
	}
}

func TestFlags_PortFlagOverridesEnv(t *testing.T) {
	os.Setenv("TRACKER_PORT", "8080")
	defer os.Unsetenv("TRACKER_PORT")

	root := newTestRootCmd()
	if err := root.ParseFlags([]string{"-p", "9000"}); err != nil {
		t.Fatal(err)
	}
	if cfg.port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.port)
	}
}

func TestFlags_SecretFromEnv(t *testing.T) {
	os.Setenv("TRACKER_SECRET", "my-secret-key")
	defer os.Unsetenv("TRACKER_SECRET")

	root := newTestRootCmd()
	if err := root.ParseFlags([]string{}); err != nil {
		t.Fatal(err)
	}
	if cfg.secret != "my-secret-key" {
		t.Errorf("secret = %q, want my-secret-key", cfg.secret)
	}
}

func TestFlags_SecretFlagOverridesEnv(t *testing.T) {
	os.Setenv("TRACKER_SECRET", "env-secret")
	defer os.Unsetenv("TRACKER_SECRET")

	root := newTestRootCmd()
	if err := root.ParseFlags([]string{"-s", "flag-secret"}); err != nil {
		t.Fatal(err)
	}
	if cfg.secret != "flag-secret" {
		t.Errorf("secret = %q, want flag-secret", cfg.secret)
	}
}

func TestFlags_SecretEmptyWithoutEnvOrFlag(t *testing.T) {
	os.Unsetenv("TRACKER_SECRET")

	root := newTestRootCmd()
	if err := root.ParseFlags([]string{}); err != nil {
		t.Fatal(err)
	}
	// The fallback secret is only substituted in runServe, not at flag-parse
	// time, so an unset secret parses as empty.
	if cfg.secret != "" {
		t.Errorf("secret = %q, want empty before runServe substitutes the fallback", cfg.secret)
	}
}

func TestFlags_DebugFromEnv(t *testing.T) {
	os.Setenv("DEBUG", "1")
	defer os.Unsetenv("DEBUG")

	root := newTestRootCmd()
	if err := root.ParseFlags([]string{}); err != nil {
		t.Fatal(err)
	}
	if !cfg.debug {
		t.Error("debug = false, want true from DEBUG env var")
	}
}

func TestFlags_DebugFromFlag(t *testing.T) {
	os.Unsetenv("DEBUG")

	root := newTestRootCmd()
	if err := root.ParseFlags([]string{"-d"}); err != nil {
		t.Fatal(err)
	}
	if !cfg.debug {
		t.Error("debug = false, want true from -d flag")
	}
}

func TestFlags_AllowAlternateIPFromEnv(t *testing.T) {
	os.Setenv("TRACKER_ALLOW_ALTERNATE_IP", "1")
	defer os.Unsetenv("TRACKER_ALLOW_ALTERNATE_IP")

	root := newTestRootCmd()
	if err := root.ParseFlags([]string{}); err != nil {
		t.Fatal(err)
	}
	if !cfg.allowAlternateIP {
		t.Error("allowAlternateIP = false, want true from env var")
	}
}

func TestParseInfoHashArg_Valid(t *testing.T) {
	hash, err := parseInfoHashArg("0102030405060708090a0b0c0d0e0f1011121314")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if hash.String() != "0102030405060708090a0b0c0d0e0f1011121314" {
		t.Errorf("hash = %s, want round-trip of input", hash.String())
	}
}

func TestParseInfoHashArg_WrongLength(t *testing.T) {
	if _, err := parseInfoHashArg("abcd"); err == nil {
		t.Error("expected error for short hex string")
	}
}

func TestParseInfoHashArg_InvalidHex(t *testing.T) {
	if _, err := parseInfoHashArg("zz02030405060708090a0b0c0d0e0f1011121314"); err == nil {
		t.Error("expected error for non-hex characters")
	}
}

func TestOpenWhitelistForCLI_RequiresDBPath(t *testing.T) {
	cfg = config{}
	if _, err := openWhitelistForCLI(); err == nil {
		t.Error("expected error when --whitelist-db is unset")
	}
}
