package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	minReconcileInterval = 15 * time.Second

	minRateLimitRequests = 30
	maxRateLimitRequests = 2000
	minRateLimitWindow   = 10 * time.Second
	maxRateLimitWindow   = time.Hour

	minImageUpdateTTL = 24 * time.Hour
	maxImageUpdateTTL = 720 * time.Hour

	minRegistryTimeout = 2 * time.Second
	maxRegistryTimeout = 15 * time.Second
)

type Config struct {
	ListenPort      string        // ex: ":8080"
	ShutdownTimeout time.Duration // ex: 5s
	APITimeout      time.Duration // per-request timeout for the admin API

	LogLevel  string // "debug" | "info" | "warn" | "error"
	PrettyLog bool   // true => zap dev (color), false => zap prod (JSON)

	DataDir      string // directory holding state.json, audit.json and the image update cache
	ServicesFile string // YAML or JSON array of shareable services

	// Public sharing
	PublicDomain       string   // ex: "example.com"
	ShareHostPrefix    string   // ex: "share-" => share-<id>.example.com
	ControlPanelHosts  []string // hosts allowed to reach the admin API
	DefaultExpiryHours float64
	DefaultAuthMode    string // "none" | "gated"
	AuthHeader         string // header carrying the identity proxy assertion

	ReconcileInterval time.Duration

	RateLimitRequests int
	RateLimitWindow   time.Duration

	// Image updates
	KubeConfig                 string        // optional explicit kubeconfig path
	ImageUpdateTTL             time.Duration // snapshot freshness
	ImageUpdateRefreshInterval time.Duration // background warm-up period
	RegistryTimeout            time.Duration // per registry request
	RegistryTagCacheTTL        time.Duration

	GCInterval time.Duration // sweep interval for limiter windows and tag cache

	// Redis (optional snapshot mirror, disabled when RedisAddr is empty)
	RedisAddr           string
	RedisUser           string
	RedisPassword       string
	RedisDB             int
	RedisDT             time.Duration // dial timeout
	RedisRT             time.Duration // read timeout
	RedisWT             time.Duration // write timeout
	RedisMaxWait        time.Duration // max wait between retries
	RedisPingTimeout    time.Duration // timeout for each ping attempt
	RedisPoolSize       int
	RedisConnectTimeout time.Duration // total time to retry connecting
	RedisRetryInterval  time.Duration // initial wait between retries, grows exponentially
	RedisWarnThreshold  int           // warn after this many attempts

	AllowedCIDRS []string // optional, restrict /readyz and /metrics
	TrustProxy   bool     // true => trust proxy headers for the client IP
	RealIPHeader string   // first header consulted when TrustProxy is on
}

func Load() *Config {
	cfg := &Config{
		// Server settings
		ListenPort:      getenv("EXPOSURE_LISTEN_PORT", ":8080"),
		ShutdownTimeout: mustDuration("EXPOSURE_SHUTDOWN_TIMEOUT", 5*time.Second),
		APITimeout:      mustDuration("EXPOSURE_API_TIMEOUT", 60*time.Second),

		// Logging
		LogLevel:  getenv("EXPOSURE_LOG_LEVEL", "info"),
		PrettyLog: mustBool("EXPOSURE_PRETTY_LOG", false),

		// Files
		DataDir:      getenv("EXPOSURE_DATA_DIR", "/data"),
		ServicesFile: getenv("EXPOSURE_SERVICES_FILE", "/app/services.json"),

		// Public sharing
		PublicDomain:       strings.ToLower(requireEnv("EXPOSURE_PUBLIC_DOMAIN")),
		ShareHostPrefix:    strings.ToLower(getenv("EXPOSURE_SHARE_HOST_PREFIX", "share-")),
		ControlPanelHosts:  lowerAll(requireEnvSlice("EXPOSURE_CONTROL_PANEL_HOSTS")),
		DefaultExpiryHours: getenvFloat("EXPOSURE_DEFAULT_EXPIRY_HOURS", 1),
		DefaultAuthMode:    getenv("EXPOSURE_DEFAULT_AUTH_MODE", "gated"),
		AuthHeader:         getenv("EXPOSURE_AUTH_HEADER", "Cf-Access-Jwt-Assertion"),

		ReconcileInterval: atLeast(mustDuration("EXPOSURE_RECONCILE_INTERVAL", 30*time.Second), minReconcileInterval),

		RateLimitRequests: clampInt(getenvInt("EXPOSURE_RATE_LIMIT_REQUESTS", 120), minRateLimitRequests, maxRateLimitRequests),
		RateLimitWindow:   clampDuration(mustDuration("EXPOSURE_RATE_LIMIT_WINDOW", time.Minute), minRateLimitWindow, maxRateLimitWindow),

		// Image updates
		KubeConfig:                 getenv("EXPOSURE_KUBECONFIG", ""),
		ImageUpdateTTL:             clampDuration(mustDuration("EXPOSURE_IMAGE_UPDATE_TTL", 168*time.Hour), minImageUpdateTTL, maxImageUpdateTTL),
		ImageUpdateRefreshInterval: mustDuration("EXPOSURE_IMAGE_UPDATE_REFRESH_INTERVAL", 6*time.Hour),
		RegistryTimeout:            clampDuration(mustDuration("EXPOSURE_IMAGE_UPDATE_HTTP_TIMEOUT", 6*time.Second), minRegistryTimeout, maxRegistryTimeout),
		RegistryTagCacheTTL:        mustDuration("EXPOSURE_REGISTRY_TAG_CACHE_TTL", 6*time.Hour),

		GCInterval: mustDuration("EXPOSURE_GC_INTERVAL", time.Minute),

		// Redis settings
		RedisAddr:           getenv("EXPOSURE_REDIS_ADDR", ""),
		RedisUser:           getenv("EXPOSURE_REDIS_USERNAME", ""),
		RedisPassword:       getenv("EXPOSURE_REDIS_PASSWORD", ""),
		RedisDB:             getenvInt("EXPOSURE_REDIS_DB", 0),
		RedisDT:             mustDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		RedisRT:             mustDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		RedisWT:             mustDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		RedisMaxWait:        mustDuration("REDIS_MAX_WAIT", 10*time.Second),
		RedisPingTimeout:    mustDuration("REDIS_PING_TIMEOUT", 5*time.Second),
		RedisPoolSize:       getenvInt("REDIS_POOL_SIZE", 10),
		RedisConnectTimeout: mustDuration("REDIS_CONNECT_TIMEOUT", 30*time.Second),
		RedisRetryInterval:  mustDuration("REDIS_RETRY_INTERVAL", 2*time.Second),
		RedisWarnThreshold:  getenvInt("REDIS_WARN_THRESHOLD", 3),

		// Access restrictions
		AllowedCIDRS: parseAllowedIPs(getenv("EXPOSURE_ALLOWED_CIDRS", "")),
		TrustProxy:   mustBool("EXPOSURE_TRUST_PROXY", true),
		RealIPHeader: getenv("EXPOSURE_REAL_IP_HEADER", "CF-Connecting-IP"),
	}

	if cfg.GCInterval <= 0 {
		panic("❌ FATAL: EXPOSURE_GC_INTERVAL must be > 0")
	}
	if cfg.ImageUpdateRefreshInterval <= 0 {
		panic("❌ FATAL: EXPOSURE_IMAGE_UPDATE_REFRESH_INTERVAL must be > 0")
	}

	// Log config only in debug mode with redacted sensitive fields
	if cfg.LogLevel == "debug" {
		cfgCopy := *cfg
		if cfgCopy.RedisPassword != "" {
			cfgCopy.RedisPassword = "***REDACTED***"
		}
		log.Printf("[DEBUG] cfg: %+v\n", cfgCopy)
	}

	return cfg
}

// SafeLoad runs Load and turns a FATAL panic into an error.
func SafeLoad() (cfg *Config, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("config: %v", r)
		}
	}()
	return Load(), nil
}

// RedisEnabled reports whether the snapshot mirror should be used.
func (c *Config) RedisEnabled() bool {
	return c.RedisAddr != ""
}

// helpers
func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func requireEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return v
}

func requireEnvSlice(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		panic(fmt.Sprintf("❌ FATAL: Required environment variable %s is not set", key))
	}
	return splitAndTrim(v)
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func mustBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func mustDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDuration(v, lo, hi time.Duration) time.Duration {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func atLeast(v, floor time.Duration) time.Duration {
	if v < floor {
		return floor
	}
	return v
}

func parseAllowedIPs(allowed string) []string {
	if allowed == "" {
		return nil
	}
	ips := make([]string, 0, 4)
	for _, ip := range splitAndTrim(allowed) {
		if ip != "" {
			ips = append(ips, ip)
		}
	}
	return ips
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, strings.ToLower(s))
	}
	return out
}

func splitAndTrim(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, ",")
	parts := make([]string, 0, len(raw))
	for _, part := range raw {
		trimmed := strings.TrimSpace(part)
		// Remove surrounding quotes if present
		trimmed = strings.Trim(trimmed, `"'`)
		if trimmed != "" {
			parts = append(parts, trimmed)
		}
	}
	return parts
}
