package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config is env-driven, following the FromEnv()/Load() pattern used across
// this service: every field has a sane default and can be overridden by a
// single environment variable.
type Config struct {
	Host         string
	Port         int
	MetricsRoute string
	LogLevel     string

	DevMode     bool
	CORSOrigins []string
	WSReadBuf   int
	WSWriteBuf  int
	WSMaxMsg    int64

	ReadHeaderTimeout time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration

	TLSCertFile string
	TLSKeyFile  string

	// Keep-alive supervisor (§4.6): ping period and the multiple of it that
	// triggers a disconnect when no pong arrives.
	KeepAlivePeriod  time.Duration
	KeepAliveTimeout time.Duration

	// Pairing / public-room rate limiting (§4.7). 0 disables limiting.
	RateLimitAttempts int
	RateLimitWindow   time.Duration

	// Relay (§4.2/§4.3): when false, every payload relay type and binary
	// frame is silently dropped; signaling messages still flow.
	WSFallback bool

	// Passed through verbatim in ws-config (§4.1); never interpreted here.
	RTCConfigJSON string

	ChunkSize            int64
	MaxParallelTransfers int

	// Identity (§3, §6): cookie that carries a returning peer's id, and an
	// optional reverse-proxy header trusted for the observed IP.
	PeerIDCookieName string
	TrustProxyHeader string

	// Room-secret regex bounds (§3): 64-256 ASCII characters.
	RoomSecretMinLen int
	RoomSecretMaxLen int
}

func (c Config) BindAddr() string { return fmt.Sprintf("%s:%d", c.Host, c.Port) }

func FromEnv() Config {
	return Config{
		Host:                 getenv("HOST", "0.0.0.0"),
		Port:                 getenvInt("PORT", 8080),
		MetricsRoute:         getenv("METRICS_ROUTE", "/metrics"),
		LogLevel:             getenv("LOG_LEVEL", "info"),
		DevMode:              strings.EqualFold(getenv("DEV", "false"), "true"),
		CORSOrigins:          splitCSV(getenv("CORS_ORIGINS", "")),
		WSReadBuf:            getenvInt("WS_READ_BUFFER", 32<<10),
		WSWriteBuf:           getenvInt("WS_WRITE_BUFFER", 32<<10),
		WSMaxMsg:             int64(getenvInt("WS_MAX_MSG", 100<<20)),
		ReadHeaderTimeout:    getenvDur("READ_HEADER_TIMEOUT", 5*time.Second),
		WriteTimeout:         getenvDur("WRITE_TIMEOUT", 0),
		IdleTimeout:          getenvDur("IDLE_TIMEOUT", 0),
		TLSCertFile:          getenv("TLS_CERT_FILE", ""),
		TLSKeyFile:           getenv("TLS_KEY_FILE", ""),
		KeepAlivePeriod:      getenvDur("KEEPALIVE_PERIOD", 2000*time.Millisecond),
		KeepAliveTimeout:     getenvDur("KEEPALIVE_TIMEOUT", 4000*time.Millisecond),
		RateLimitAttempts:    getenvInt("RATE_LIMIT_ATTEMPTS", 10),
		RateLimitWindow:      getenvDur("RATE_LIMIT_WINDOW", 10*time.Second),
		WSFallback:           strings.EqualFold(getenv("WS_FALLBACK", "true"), "true"),
		RTCConfigJSON:        getenv("RTC_CONFIG_JSON", "{}"),
		ChunkSize:            int64(getenvInt("CHUNK_SIZE", 10*1024*1024)),
		MaxParallelTransfers: getenvInt("MAX_PARALLEL_TRANSFERS", 8),
		PeerIDCookieName:     getenv("PEER_ID_COOKIE", "peerid"),
		TrustProxyHeader:     getenv("TRUST_PROXY_HEADER", ""),
		RoomSecretMinLen:     getenvInt("ROOM_SECRET_MIN_LEN", 64),
		RoomSecretMaxLen:     getenvInt("ROOM_SECRET_MAX_LEN", 256),
	}
}

func (c Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.WSMaxMsg <= 1024 {
		return fmt.Errorf("WS_MAX_MSG too small: %d", c.WSMaxMsg)
	}
	if c.KeepAlivePeriod <= 0 {
		return fmt.Errorf("KEEPALIVE_PERIOD must be >0")
	}
	if c.KeepAliveTimeout <= c.KeepAlivePeriod {
		return fmt.Errorf("KEEPALIVE_TIMEOUT must exceed KEEPALIVE_PERIOD")
	}
	if (c.TLSCertFile == "") != (c.TLSKeyFile == "") {
		return fmt.Errorf("both TLS_CERT_FILE and TLS_KEY_FILE must be set, or none")
	}
	if c.RoomSecretMinLen <= 0 || c.RoomSecretMaxLen < c.RoomSecretMinLen {
		return fmt.Errorf("invalid room secret length bounds: %d..%d", c.RoomSecretMinLen, c.RoomSecretMaxLen)
	}
	return nil
}

func splitCSV(v string) []string {
	if v == "" || v == "*" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func getenvInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
func getenvDur(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
