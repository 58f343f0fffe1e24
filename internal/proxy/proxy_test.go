package proxy

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeProxyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "proxy.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeProxyFile(t, `{
		"proxy": {
			"hostname": "p.example.com:9999",
			"port": {"http": 8080, "https": 8443, "socks5": 1080},
			"username": "alice",
			"password": "s3cret"
		}
	}`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Host != "p.example.com" {
		t.Errorf("Host = %q, want hostname with stray port stripped", cfg.Host)
	}
	if cfg.SOCKS5Port != 1080 || cfg.HTTPPort != 8080 || cfg.HTTPSPort != 8443 {
		t.Errorf("ports = %d/%d/%d", cfg.HTTPPort, cfg.HTTPSPort, cfg.SOCKS5Port)
	}
}

func TestTransportURLWithAuth(t *testing.T) {
	cfg := &Config{Host: "p.example.com", SOCKS5Port: 1080, Username: "u", Password: "p"}
	u := cfg.TransportURL()
	if u.String() != "socks5://u:p@p.example.com:1080" {
		t.Errorf("TransportURL = %s", u)
	}

	cfg.Username = ""
	if got := cfg.TransportURL().String(); got != "socks5://p.example.com:1080" {
		t.Errorf("TransportURL without auth = %s", got)
	}
}

func TestBrowserSettings(t *testing.T) {
	cfg := &Config{Host: "p.example.com", HTTPPort: 8080, Username: "u", Password: "p"}
	bs := cfg.Browser()
	if bs.Server != "http://p.example.com:8080" {
		t.Errorf("Server = %q", bs.Server)
	}
	if bs.Username != "u" || bs.Password != "p" {
		t.Error("credentials not carried through")
	}
}

func TestStringNeverLeaksCredentials(t *testing.T) {
	cfg := &Config{Host: "p.example.com", SOCKS5Port: 1080, Username: "alice", Password: "hunter2"}
	s := cfg.String()
	if strings.Contains(s, "alice") || strings.Contains(s, "hunter2") {
		t.Fatalf("String leaked credentials: %q", s)
	}
	if !strings.Contains(s, "p.example.com") {
		t.Errorf("String should name the host: %q", s)
	}

	var nilCfg *Config
	if nilCfg.String() != "<no proxy>" {
		t.Error("nil config should render as <no proxy>")
	}
}

func TestLoadFileErrors(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("missing file should error")
	}

	bad := writeProxyFile(t, `not json`)
	if _, err := LoadFile(bad); err == nil {
		t.Error("malformed JSON should error")
	}

	empty := writeProxyFile(t, `{"proxy": {"hostname": "", "port": {}}}`)
	if _, err := LoadFile(empty); err == nil {
		t.Error("empty hostname should error")
	}
}
