package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
)

// Default configuration values (production)
const (
	DefaultServer             = "tandem.qzz.io"
	DefaultSettleDelay        = 2 * time.Second
	DefaultNegotiationTimeout = 30 * time.Second
)

// DefaultSTUNServers are public Google STUN endpoints.
var DefaultSTUNServers = []string{
	"stun:stun.l.google.com:19302",
	"stun:stun1.l.google.com:19302",
	"stun:stun2.l.google.com:19302",
	"stun:stun3.l.google.com:19302",
}

// Config holds the call client's configuration.
type Config struct {
	// Server is the signaling server, either a bare host or a ws(s)/http(s) URL.
	Server string

	// UserID identifies this client to the matchmaker.
	UserID string

	STUNServers []string
	TURNServer  string
	TURNUser    string
	TURNPass    string
	ForceRelay  bool

	// AutoRelay switches to relay mode on VPN or CGNAT hosts when a TURN
	// server is available.
	AutoRelay bool

	// SettleDelay is how long the initiator waits after subscribing before
	// sending its offer.
	SettleDelay time.Duration

	// NegotiationTimeout bounds the time from subscribing to a connected call.
	NegotiationTimeout time.Duration
}

// Options carries CLI flag overrides.
type Options struct {
	Server             string
	UserID             string
	STUNServer         string
	TURNServer         string
	TURNUser           string
	TURNPass           string
	ForceRelay         bool
	NoAutoRelay        bool
	SettleDelay        time.Duration
	NegotiationTimeout time.Duration
}

// Load reads configuration with the following priority:
// 1. CLI flags (passed via Options) - highest priority
// 2. Environment variables
// 3. Hardcoded defaults - lowest priority
func Load(opts Options) (*Config, error) {
	return load(os.LookupEnv, opts)
}

func load(lookup func(string) (string, bool), opts Options) (*Config, error) {
	cfg := &Config{
		Server:     firstNonEmpty(opts.Server, env(lookup, "TANDEM_SERVER"), DefaultServer),
		UserID:     firstNonEmpty(opts.UserID, env(lookup, "TANDEM_USER_ID")),
		TURNServer: firstNonEmpty(opts.TURNServer, env(lookup, "TURN_SERVER")),
		TURNUser:   firstNonEmpty(opts.TURNUser, env(lookup, "TURN_USERNAME")),
		TURNPass:   firstNonEmpty(opts.TURNPass, env(lookup, "TURN_PASSWORD")),
		ForceRelay: opts.ForceRelay || env(lookup, "FORCE_RELAY") == "true",
		AutoRelay:  !opts.NoAutoRelay && env(lookup, "AUTO_RELAY") != "false",
	}

	if stun := firstNonEmpty(opts.STUNServer, env(lookup, "STUN_SERVER")); stun != "" {
		cfg.STUNServers = splitList(stun)
	} else {
		cfg.STUNServers = append([]string(nil), DefaultSTUNServers...)
	}

	var err error
	if cfg.SettleDelay, err = durationOption(lookup, opts.SettleDelay, "SETTLE_DELAY", DefaultSettleDelay); err != nil {
		return nil, err
	}
	if cfg.NegotiationTimeout, err = durationOption(lookup, opts.NegotiationTimeout, "NEGOTIATION_TIMEOUT", DefaultNegotiationTimeout); err != nil {
		return nil, err
	}

	if cfg.ForceRelay && cfg.TURNServer == "" {
		return nil, fmt.Errorf("cannot force relay mode without TURN server configured")
	}
	return cfg, nil
}

// WebSocketURL returns the signaling endpoint for userID.
func (c *Config) WebSocketURL(userID string) (string, error) {
	u, err := c.baseURL()
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.Path = "/ws"
	u.RawQuery = url.Values{"user_id": {userID}}.Encode()
	return u.String(), nil
}

// StatsURL returns the server's /stats endpoint.
func (c *Config) StatsURL() (string, error) {
	u, err := c.baseURL()
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	}
	u.Path = "/stats"
	u.RawQuery = ""
	return u.String(), nil
}

func (c *Config) baseURL() (*url.URL, error) {
	raw := c.Server
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid server %q: %w", c.Server, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server %q: missing host", c.Server)
	}
	return u, nil
}

// GetTURNServers returns TURN server URLs if configured
func (c *Config) GetTURNServers() []string {
	if c.TURNServer == "" {
		return nil
	}
	return []string{
		fmt.Sprintf("turn:%s:3478?transport=udp", c.TURNServer),
		fmt.Sprintf("turn:%s:3478?transport=tcp", c.TURNServer),
		fmt.Sprintf("turns:%s:5349?transport=tcp", c.TURNServer),
	}
}

// WebRTC builds the peer connection configuration.
func (c *Config) WebRTC() webrtc.Configuration {
	servers := []webrtc.ICEServer{{URLs: c.STUNServers}}
	if turn := c.GetTURNServers(); turn != nil {
		servers = append(servers, webrtc.ICEServer{
			URLs:       turn,
			Username:   c.TURNUser,
			Credential: c.TURNPass,
		})
	}

	policy := webrtc.ICETransportPolicyAll
	if c.ForceRelay || (c.AutoRelay && c.TURNServer != "" && ShouldForceRelay()) {
		policy = webrtc.ICETransportPolicyRelay
	}
	return webrtc.Configuration{
		ICEServers:         servers,
		ICETransportPolicy: policy,
	}
}

func env(lookup func(string) (string, bool), key string) string {
	v, _ := lookup(key)
	return strings.TrimSpace(v)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func durationOption(lookup func(string) (string, bool), flag time.Duration, key string, fallback time.Duration) (time.Duration, error) {
	if flag > 0 {
		return flag, nil
	}
	raw := env(lookup, key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration", key, raw)
	}
	return d, nil
}
