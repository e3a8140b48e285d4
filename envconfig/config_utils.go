// config_utils.go - Utility-Funktionen und Export fuer Konfiguration
//
// Dieses Modul enthaelt:
// - BoolWithDefault/Bool: Boolean-Getter mit Default-Wert
// - String: String-Getter
// - Uint: Integer-Getter mit Default-Wert
// - EnvVar: Struktur fuer Environment-Variablen-Info
// - AsMap: Gibt alle Konfigurationen als Map zurueck
// - Values: Gibt alle Konfigurationswerte als String-Map zurueck
package envconfig

import (
	"fmt"
	"log/slog"
	"strconv"
)

// =============================================================================
// Boolean-Getter
// =============================================================================

// BoolWithDefault gibt eine Funktion zurueck, die einen Bool mit Default-Wert liest
func BoolWithDefault(k string) func(defaultValue bool) bool {
	return func(defaultValue bool) bool {
		if s := Var(k); s != "" {
			b, err := strconv.ParseBool(s)
			if err != nil {
				return true
			}
			return b
		}
		return defaultValue
	}
}

// Bool gibt eine Funktion zurueck, die einen Bool liest (Default: false)
func Bool(k string) func() bool {
	withDefault := BoolWithDefault(k)
	return func() bool {
		return withDefault(false)
	}
}

// =============================================================================
// String-Getter
// =============================================================================

// String gibt eine Funktion zurueck, die einen String liest
func String(s string) func() string {
	return func() string {
		return Var(s)
	}
}

// =============================================================================
// Integer-Getter
// =============================================================================

// Uint gibt eine Funktion zurueck, die einen uint mit Default-Wert liest
func Uint(key string, defaultValue uint) func() uint {
	return func() uint {
		if s := Var(key); s != "" {
			if n, err := strconv.ParseUint(s, 10, 64); err != nil {
				slog.Warn("invalid environment variable, using default", "key", key, "value", s, "default", defaultValue)
			} else {
				return uint(n)
			}
		}
		return defaultValue
	}
}

// =============================================================================
// Export-Strukturen und -Funktionen
// =============================================================================

// EnvVar repraesentiert eine Environment-Variable mit Metadaten
type EnvVar struct {
	Name        string
	Value       any
	Description string
}

// AsMap gibt alle Konfigurationen als Map zurueck
// Enthaelt Namen, aktuelle Werte und Beschreibungen
func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"TREESERVE_CONFIG":                 {"TREESERVE_CONFIG", ConfigFile(), "Path to an optional YAML config file"},
		"TREESERVE_DEBUG":                  {"TREESERVE_DEBUG", LogLevel(), "Show additional debug information (e.g. TREESERVE_DEBUG=1)"},
		"TREESERVE_HOST":                   {"TREESERVE_HOST", Host(), "IP Address for the treeserve server (default 127.0.0.1:11500)"},
		"TREESERVE_ORIGINS":                {"TREESERVE_ORIGINS", AllowedOrigins(), "A comma separated list of allowed origins"},
		"TREESERVE_MAX_REQUESTS_PER_BATCH": {"TREESERVE_MAX_REQUESTS_PER_BATCH", MaxRequestsPerBatch(), "Number of batch slots (default 16)"},
		"TREESERVE_MAX_TOKENS_PER_BATCH":   {"TREESERVE_MAX_TOKENS_PER_BATCH", MaxTokensPerBatch(), "Token budget per iteration (default 64)"},
		"TREESERVE_PREFILL_CHUNK":          {"TREESERVE_PREFILL_CHUNK", PrefillChunk(), "Maximum prompt tokens per request and iteration (0 = batch budget)"},
		"TREESERVE_MAX_SEQ_LENGTH":         {"TREESERVE_MAX_SEQ_LENGTH", MaxSequenceLength(), "Maximum sequence length per request (default 256)"},
		"TREESERVE_KV_CACHE_TYPE":          {"TREESERVE_KV_CACHE_TYPE", KvCacheType(), "Storage type for the K/V cache (default: f16)"},
		"TREESERVE_HIDDEN_SIZE":            {"TREESERVE_HIDDEN_SIZE", HiddenSize(), "Length of a cached key/value vector (default 64)"},
		"TREESERVE_MAX_SPEC_TREE_TOKENS":   {"TREESERVE_MAX_SPEC_TREE_TOKENS", MaxSpecTreeTokens(), "Token budget of a speculative tree (default 20)"},
		"TREESERVE_NO_SPECULATION":         {"TREESERVE_NO_SPECULATION", NoSpeculation(), "Serve every request without speculation"},
		"TREESERVE_MAX_QUEUE":              {"TREESERVE_MAX_QUEUE", MaxQueue(), "Maximum number of queued requests"},
		"TREESERVE_KEEP_FINISHED":          {"TREESERVE_KEEP_FINISHED", KeepFinished(), "How long finished requests stay pollable (default \"5m\", negative = forever)"},
		"TREESERVE_MODEL":                  {"TREESERVE_MODEL", Model(), "Registered evaluator to serve (default: toy)"},
		"TREESERVE_VOCAB_SIZE":             {"TREESERVE_VOCAB_SIZE", VocabSize(), "Vocabulary size of the built-in evaluator"},
		"TREESERVE_DRAFT_ACCURACY":         {"TREESERVE_DRAFT_ACCURACY", DraftAccuracy(), "Every n-th draft proposal of the built-in draft model is wrong (0 = never)"},
	}
}

// Values gibt alle Konfigurationswerte als String-Map zurueck
func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}
