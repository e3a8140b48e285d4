// config.go - Haupt-Konfigurationsfunktionen fuer treeserve
//
// Dieses Modul enthaelt:
// - Host: Gibt Scheme und Host zurueck (TREESERVE_HOST)
// - AllowedOrigins: Gibt erlaubte Origins zurueck (TREESERVE_ORIGINS)
// - LogLevel: Gibt Log-Level zurueck (TREESERVE_DEBUG)
// - KeepFinished: Aufbewahrungszeit beendeter Requests (TREESERVE_KEEP_FINISHED)
// - Var: Liest eine Variable (Environment vor Config-Datei)
//
// Weitere Konfigurationen sind ausgelagert:
// - config_features.go: Batch-, Cache- und Spekulations-Limits
// - config_file.go: Optionale YAML-Konfigurationsdatei
// - config_utils.go: Utility-Funktionen und AsMap/Values
package envconfig

import (
	"fmt"
	"log/slog"
	"math"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Host gibt Scheme und Host zurueck
// Konfigurierbar via TREESERVE_HOST
// Default: http://127.0.0.1:11500
func Host() *url.URL {
	defaultPort := "11500"

	s := strings.TrimSpace(Var("TREESERVE_HOST"))
	scheme, hostport, ok := strings.Cut(s, "://")
	switch {
	case !ok:
		scheme, hostport = "http", s
	case scheme == "http":
		defaultPort = "80"
	case scheme == "https":
		defaultPort = "443"
	}

	hostport, path, _ := strings.Cut(hostport, "/")
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host, port = "127.0.0.1", defaultPort
		if ip := net.ParseIP(strings.Trim(hostport, "[]")); ip != nil {
			host = ip.String()
		} else if hostport != "" {
			host = hostport
		}
	}

	if n, err := strconv.ParseInt(port, 10, 32); err != nil || n > 65535 || n < 0 {
		slog.Warn("invalid port, using default", "port", port, "default", defaultPort)
		port = defaultPort
	}

	return &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(host, port),
		Path:   path,
	}
}

// AllowedOrigins gibt erlaubte Origins zurueck
// Konfigurierbar via TREESERVE_ORIGINS (komma-separiert)
// Enthaelt Standard-Origins fuer localhost
func AllowedOrigins() (origins []string) {
	if s := Var("TREESERVE_ORIGINS"); s != "" {
		origins = strings.Split(s, ",")
	}

	for _, origin := range []string{"localhost", "127.0.0.1", "0.0.0.0"} {
		origins = append(origins,
			fmt.Sprintf("http://%s", origin),
			fmt.Sprintf("https://%s", origin),
			fmt.Sprintf("http://%s", net.JoinHostPort(origin, "*")),
			fmt.Sprintf("https://%s", net.JoinHostPort(origin, "*")),
		)
	}

	return origins
}

// LogLevel gibt das Log-Level zurueck
// Konfigurierbar via TREESERVE_DEBUG
// Werte: 0/false = INFO (Default), 1/true = DEBUG, 2 = TRACE
func LogLevel() slog.Level {
	level := slog.LevelInfo
	if s := Var("TREESERVE_DEBUG"); s != "" {
		if b, _ := strconv.ParseBool(s); b {
			level = slog.LevelDebug
		} else if i, _ := strconv.ParseInt(s, 10, 64); i != 0 {
			level = slog.Level(i * -4)
		}
	}

	return level
}

// KeepFinished gibt zurueck wie lange beendete Requests abrufbar bleiben
// Konfigurierbar via TREESERVE_KEEP_FINISHED (Dauer oder Sekunden)
// Negative Werte = unbegrenzt
// Default: 5 Minuten
func KeepFinished() (keep time.Duration) {
	keep = 5 * time.Minute
	if s := Var("TREESERVE_KEEP_FINISHED"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			keep = d
		} else if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			keep = time.Duration(n) * time.Second
		}
	}

	if keep < 0 {
		return time.Duration(math.MaxInt64)
	}

	return keep
}

// Var gibt eine Variable zurueck
// Environment hat Vorrang, danach die geladene Config-Datei.
// Entfernt fuehrende/trailing Quotes und Leerzeichen
func Var(key string) string {
	if s := strings.Trim(strings.TrimSpace(os.Getenv(key)), "\"'"); s != "" {
		return s
	}
	return fileVar(key)
}
