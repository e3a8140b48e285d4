// config_test.go - Unit Tests fuer die Konfiguration
package envconfig

import (
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

// TestHost testet die Aufloesung von TREESERVE_HOST
func TestHost(t *testing.T) {
	cases := map[string]struct {
		value  string
		expect string
	}{
		"empty":             {"", "127.0.0.1:11500"},
		"only address":      {"1.2.3.4", "1.2.3.4:11500"},
		"only port":         {":1234", ":1234"},
		"address and port":  {"1.2.3.4:1234", "1.2.3.4:1234"},
		"hostname":          {"example.com", "example.com:11500"},
		"hostname and port": {"example.com:1234", "example.com:1234"},
		"zero port":         {":0", ":0"},
		"too large port":    {":66000", ":11500"},
		"too small port":    {":-1", ":11500"},
		"ipv6 localhost":    {"[::1]", "[::1]:11500"},
		"ipv6 and port":     {"[::1]:1337", "[::1]:1337"},
		"https":             {"https://1.2.3.4", "1.2.3.4:443"},
		"https port":        {"https://1.2.3.4:1234", "1.2.3.4:1234"},
		"proxy path":        {"https://example.com/treeserve", "example.com:443"},
	}

	for name, tt := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("TREESERVE_HOST", tt.value)
			if host := Host(); host.Host != tt.expect {
				t.Errorf("Host() = %s, erwartet %s", host.Host, tt.expect)
			}
		})
	}
}

// TestLogLevel prueft die Abbildung von TREESERVE_DEBUG
func TestLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":      slog.LevelInfo,
		"false": slog.LevelInfo,
		"0":     slog.LevelInfo,
		"1":     slog.LevelDebug,
		"true":  slog.LevelDebug,
		"2":     slog.Level(-8),
	}

	for value, expect := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("TREESERVE_DEBUG", value)
			if level := LogLevel(); level != expect {
				t.Errorf("LogLevel() = %v, erwartet %v", level, expect)
			}
		})
	}
}

// TestKeepFinished prueft Dauer, Sekunden und unbegrenzte Aufbewahrung
func TestKeepFinished(t *testing.T) {
	cases := map[string]time.Duration{
		"":    5 * time.Minute,
		"90s": 90 * time.Second,
		"30":  30 * time.Second,
		"0":   0,
		"-1":  time.Duration(math.MaxInt64),
		"abc": 5 * time.Minute,
	}

	for value, expect := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("TREESERVE_KEEP_FINISHED", value)
			if got := KeepFinished(); got != expect {
				t.Errorf("KeepFinished() = %v, erwartet %v", got, expect)
			}
		})
	}
}

// TestUint prueft Defaults und ungueltige Werte
func TestUint(t *testing.T) {
	cases := map[string]uint{
		"":     64,
		"0":    0,
		"128":  128,
		"abc":  64,
		"-1":   64,
		" 32 ": 32,
	}

	for value, expect := range cases {
		t.Run(value, func(t *testing.T) {
			t.Setenv("TREESERVE_MAX_TOKENS_PER_BATCH", value)
			if got := MaxTokensPerBatch(); got != expect {
				t.Errorf("MaxTokensPerBatch() = %d, erwartet %d", got, expect)
			}
		})
	}
}

// TestLoadFile prueft die YAML-Schicht unter dem Environment
func TestLoadFile(t *testing.T) {
	t.Cleanup(func() { LoadFile("") })

	path := filepath.Join(t.TempDir(), "treeserve.yaml")
	if err := os.WriteFile(path, []byte("max_queue: 7\nTREESERVE_MAX_SEQ_LENGTH: 512\nkv_cache_type: f32\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := LoadFile(path); err != nil {
		t.Fatalf("LoadFile() Fehler: %v", err)
	}

	t.Setenv("TREESERVE_MAX_QUEUE", "")
	t.Setenv("TREESERVE_MAX_SEQ_LENGTH", "")
	t.Setenv("TREESERVE_KV_CACHE_TYPE", "")

	got := []any{MaxQueue(), MaxSequenceLength(), KvCacheType()}
	if diff := cmp.Diff([]any{uint(7), uint(512), "f32"}, got); diff != "" {
		t.Errorf("Werte aus Datei falsch (-want +got):\n%s", diff)
	}

	// Environment hat Vorrang
	t.Setenv("TREESERVE_MAX_QUEUE", "9")
	if got := MaxQueue(); got != 9 {
		t.Errorf("MaxQueue() = %d, erwartet 9", got)
	}
}

// TestLoadFileRejectsNested prueft dass verschachtelte Werte abgelehnt werden
func TestLoadFileRejectsNested(t *testing.T) {
	t.Cleanup(func() { LoadFile("") })

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("max_queue:\n  a: 1\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := LoadFile(path); err == nil {
		t.Error("LoadFile() sollte bei verschachtelten Werten fehlschlagen")
	}
}

// TestValues prueft dass alle Werte exportiert werden
func TestValues(t *testing.T) {
	vals := Values()
	for _, key := range []string{"TREESERVE_HOST", "TREESERVE_MAX_TOKENS_PER_BATCH", "TREESERVE_MAX_SPEC_TREE_TOKENS"} {
		if _, ok := vals[key]; !ok {
			t.Errorf("Values() enthaelt %s nicht", key)
		}
	}
}
