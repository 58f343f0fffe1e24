// Package proxy loads the upstream proxy credential file and builds
// client-specific proxy settings. HTTP transports get a SOCKS5 URL;
// the browser gets an HTTP server plus separate credentials, since
// authenticated SOCKS5 is unreliable in Chromium.
package proxy

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/hydrascrape/hydrascrape/internal/types"
)

// Config is one upstream proxy endpoint with per-protocol ports.
type Config struct {
	Host       string
	HTTPPort   int
	HTTPSPort  int
	SOCKS5Port int
	Username   string
	Password   string
	// Region is an optional hint ("us", "de", ...) used to pick
	// region-consistent locale and timezone for browser profiles.
	Region string
}

type fileFormat struct {
	Proxy struct {
		Hostname string `json:"hostname"`
		Port     struct {
			HTTP   int `json:"http"`
			HTTPS  int `json:"https"`
			SOCKS5 int `json:"socks5"`
		} `json:"port"`
		Username string `json:"username"`
		Password string `json:"password"`
		Region   string `json:"region"`
	} `json:"proxy"`
}

// LoadFile reads the proxy JSON:
//
//	{"proxy": {"hostname": "p.example.com:12345",
//	           "port": {"http": 8080, "https": 8443, "socks5": 1080},
//	           "username": "u", "password": "p"}}
//
// The hostname may carry a stray port; it is stripped in favor of the
// per-protocol port map. Username and password are optional.
func LoadFile(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read proxy config: %w", err)
	}
	var ff fileFormat
	if err := json.Unmarshal(raw, &ff); err != nil {
		return nil, fmt.Errorf("parse proxy config: %w", err)
	}

	host, _, _ := strings.Cut(ff.Proxy.Hostname, ":")
	if host == "" {
		return nil, fmt.Errorf("proxy config: %w: empty hostname", types.ErrMissingInput)
	}
	return &Config{
		Host:       host,
		HTTPPort:   ff.Proxy.Port.HTTP,
		HTTPSPort:  ff.Proxy.Port.HTTPS,
		SOCKS5Port: ff.Proxy.Port.SOCKS5,
		Username:   ff.Proxy.Username,
		Password:   ff.Proxy.Password,
		Region:     ff.Proxy.Region,
	}, nil
}

// TransportURL returns the SOCKS5 proxy URL for HTTP transports,
// embedding credentials when present.
func (c *Config) TransportURL() *url.URL {
	u := &url.URL{
		Scheme: "socks5",
		Host:   fmt.Sprintf("%s:%d", c.Host, c.SOCKS5Port),
	}
	if c.Username != "" && c.Password != "" {
		u.User = url.UserPassword(c.Username, c.Password)
	}
	return u
}

// BrowserSettings is the shape the browser launcher consumes: plain
// HTTP server address, credentials supplied out of band.
type BrowserSettings struct {
	Server   string
	Username string
	Password string
}

// Browser returns proxy settings for the headless browser.
func (c *Config) Browser() BrowserSettings {
	return BrowserSettings{
		Server:   fmt.Sprintf("http://%s:%d", c.Host, c.HTTPPort),
		Username: c.Username,
		Password: c.Password,
	}
}

// String renders the endpoint with credentials redacted. This is the
// only form that may reach logs.
func (c *Config) String() string {
	if c == nil {
		return "<no proxy>"
	}
	auth := "no-auth"
	if c.Username != "" {
		auth = "auth"
	}
	return fmt.Sprintf("socks5://%s:%d (%s)", c.Host, c.SOCKS5Port, auth)
}
