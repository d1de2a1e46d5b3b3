package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultDBPath         = "dns.db"
	defaultTraefikHost    = "localhost"
	defaultTraefikPort    = "8080"
	defaultEntryPoints    = "web,websecure"
	defaultDNSServer      = "192.168.178.1"
	defaultDNSDomain      = "fritz.box"
	defaultTargetIP       = "192.168.178.2"
	defaultUpdateInterval = 60 * time.Second
	defaultAPIListenAddr  = "127.0.0.1:8053"
	defaultNsupdatePath   = "/usr/bin/nsupdate"
)

// Config captures the runtime configuration required by the daemon.
type Config struct {
	DatabasePath   string
	TraefikHost    string
	TraefikPort    string
	EntryPoints    []string
	DNSServer      string
	DNSDomain      string
	TargetIP       string
	UpdateInterval time.Duration

	// APIListenAddr is the observation API bind address. Empty disables
	// the API entirely.
	APIListenAddr string
	NsupdatePath  string
}

// TraefikBaseURL returns the base URL of the proxy's administrative API.
func (c Config) TraefikBaseURL() string {
	return fmt.Sprintf("http://%s", net.JoinHostPort(c.TraefikHost, c.TraefikPort))
}

// FromEnv loads configuration from environment variables, applying
// opinionated defaults when unset.
func FromEnv() (Config, error) {
	cfg := Config{
		DatabasePath:  expandPath(getenv("DB_PATH", defaultDBPath)),
		TraefikHost:   getenv("TRAEFIK_HOST", defaultTraefikHost),
		TraefikPort:   getenv("TRAEFIK_PORT", defaultTraefikPort),
		DNSServer:     getenv("DNS_SERVER", defaultDNSServer),
		DNSDomain:     getenv("DNS_DOMAIN", defaultDNSDomain),
		TargetIP:      getenv("TARGET_IP", defaultTargetIP),
		APIListenAddr: os.Getenv("API_LISTEN"),
		NsupdatePath:  getenv("NSUPDATE_PATH", defaultNsupdatePath),
	}
	if _, ok := os.LookupEnv("API_LISTEN"); !ok {
		cfg.APIListenAddr = defaultAPIListenAddr
	}

	cfg.EntryPoints = splitEntryPoints(getenv("TRAEFIK_ENTRYPOINTS", defaultEntryPoints))
	if len(cfg.EntryPoints) == 0 {
		return Config{}, fmt.Errorf("TRAEFIK_ENTRYPOINTS must name at least one entry point")
	}

	if _, err := strconv.Atoi(cfg.TraefikPort); err != nil {
		return Config{}, fmt.Errorf("invalid traefik port %q: %w", cfg.TraefikPort, err)
	}

	if strings.TrimSpace(cfg.DNSServer) == "" {
		return Config{}, fmt.Errorf("dns server required")
	}

	if net.ParseIP(cfg.TargetIP) == nil {
		return Config{}, fmt.Errorf("invalid target ip %q", cfg.TargetIP)
	}

	if strings.TrimSpace(cfg.DNSDomain) == "" {
		return Config{}, fmt.Errorf("dns domain required")
	}

	interval := getenv("UPDATE_INTERVAL", "")
	if interval == "" {
		cfg.UpdateInterval = defaultUpdateInterval
	} else {
		seconds, err := strconv.Atoi(interval)
		if err != nil || seconds <= 0 {
			return Config{}, fmt.Errorf("invalid update interval %q: must be a positive number of seconds", interval)
		}
		cfg.UpdateInterval = time.Duration(seconds) * time.Second
	}

	return cfg, nil
}

func splitEntryPoints(raw string) []string {
	parts := strings.Split(raw, ",")
	eps := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			eps = append(eps, p)
		}
	}
	return eps
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return filepath.Clean(path)
}
