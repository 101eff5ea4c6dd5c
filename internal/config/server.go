package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const (
	envListenAddr            = "LISTEN_ADDR"
	envMatchRetryInterval    = "MATCH_RETRY_INTERVAL"
	envRoomHistoryTTL        = "ROOM_HISTORY_TTL"
	envRelayMailboxSize      = "RELAY_MAILBOX_SIZE"
	envRelayDeliveryAttempts = "RELAY_DELIVERY_ATTEMPTS"
	envRelayRetryBackoff     = "RELAY_RETRY_BACKOFF"
	envMaxMessagesPerSecond  = "MAX_SIGNALING_MESSAGES_PER_SECOND"
	envAllowedOrigins        = "ALLOWED_ORIGINS"
	envShutdownTimeout       = "SHUTDOWN_TIMEOUT"
)

const (
	DefaultListenAddr            = ":8080"
	DefaultMatchRetryInterval    = 2 * time.Second
	DefaultRoomHistoryTTL        = 10 * time.Minute
	DefaultRelayMailboxSize      = 64
	DefaultRelayDeliveryAttempts = 5
	DefaultRelayRetryBackoff     = 200 * time.Millisecond
	DefaultMaxMessagesPerSecond  = 50
	DefaultShutdownTimeout       = 10 * time.Second
)

// Server is the signaling server's configuration, read from the environment.
type Server struct {
	ListenAddr            string
	MatchRetryInterval    time.Duration
	RoomHistoryTTL        time.Duration
	RelayMailboxSize      int
	RelayDeliveryAttempts int
	RelayRetryBackoff     time.Duration
	MaxMessagesPerSecond  int
	AllowedOrigins        []string
	ShutdownTimeout       time.Duration
}

// LoadServer reads the server configuration through lookup, normally
// os.LookupEnv.
func LoadServer(lookup func(string) (string, bool)) (Server, error) {
	cfg := Server{
		ListenAddr:     envOrDefault(lookup, envListenAddr, DefaultListenAddr),
		AllowedOrigins: splitList(envOrDefault(lookup, envAllowedOrigins, "")),
	}

	var err error
	if cfg.MatchRetryInterval, err = envDurationOrDefault(lookup, envMatchRetryInterval, DefaultMatchRetryInterval); err != nil {
		return Server{}, err
	}
	if cfg.RoomHistoryTTL, err = envDurationOrDefault(lookup, envRoomHistoryTTL, DefaultRoomHistoryTTL); err != nil {
		return Server{}, err
	}
	if cfg.RelayRetryBackoff, err = envDurationOrDefault(lookup, envRelayRetryBackoff, DefaultRelayRetryBackoff); err != nil {
		return Server{}, err
	}
	if cfg.ShutdownTimeout, err = envDurationOrDefault(lookup, envShutdownTimeout, DefaultShutdownTimeout); err != nil {
		return Server{}, err
	}
	if cfg.RelayMailboxSize, err = envPositiveInt(lookup, envRelayMailboxSize, DefaultRelayMailboxSize); err != nil {
		return Server{}, err
	}
	if cfg.RelayDeliveryAttempts, err = envPositiveInt(lookup, envRelayDeliveryAttempts, DefaultRelayDeliveryAttempts); err != nil {
		return Server{}, err
	}
	if cfg.MaxMessagesPerSecond, err = envPositiveInt(lookup, envMaxMessagesPerSecond, DefaultMaxMessagesPerSecond); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func envOrDefault(lookup func(string) (string, bool), key, fallback string) string {
	if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func envPositiveInt(lookup func(string) (string, bool), key string, fallback int) (int, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive integer", key, raw)
	}
	return n, nil
}

func envDurationOrDefault(lookup func(string) (string, bool), key string, fallback time.Duration) (time.Duration, error) {
	raw, ok := lookup(key)
	if !ok || strings.TrimSpace(raw) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive duration", key, raw)
	}
	return d, nil
}
