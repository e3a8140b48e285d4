// config_file.go - Optionale YAML-Konfigurationsdatei
//
// Dieses Modul enthaelt:
// - ConfigFile: Pfad der Datei (TREESERVE_CONFIG)
// - LoadFile: Liest die Datei als Default-Schicht unter dem Environment
//
// Schluessel sind entweder die vollen Variablennamen (TREESERVE_MAX_QUEUE)
// oder die Kurzform in snake_case (max_queue).
package envconfig

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

var (
	fileMu     sync.RWMutex
	fileValues map[string]string
)

// ConfigFile gibt den Pfad der YAML-Konfiguration zurueck
func ConfigFile() string {
	return strings.Trim(strings.TrimSpace(os.Getenv("TREESERVE_CONFIG")), "\"'")
}

// LoadFile liest eine YAML-Datei und ersetzt die bisherige Datei-Schicht.
// Ein leerer Pfad setzt die Schicht zurueck.
func LoadFile(path string) error {
	if path == "" {
		fileMu.Lock()
		fileValues = nil
		fileMu.Unlock()
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	values := make(map[string]string, len(raw))
	for k, v := range raw {
		switch v.(type) {
		case map[string]any, []any:
			return fmt.Errorf("parse config %s: key %q must be a scalar", path, k)
		}
		values[normalizeKey(k)] = fmt.Sprintf("%v", v)
	}

	fileMu.Lock()
	fileValues = values
	fileMu.Unlock()
	return nil
}

func normalizeKey(k string) string {
	k = strings.ToUpper(strings.TrimSpace(k))
	if !strings.HasPrefix(k, "TREESERVE_") {
		k = "TREESERVE_" + k
	}
	return k
}

func fileVar(key string) string {
	fileMu.RLock()
	defer fileMu.RUnlock()
	return fileValues[key]
}
