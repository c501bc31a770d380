package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ConfigPath is the default config file location.
const ConfigPath = "config.yaml"

// FileConfig represents configuration loaded from YAML.
type FileConfig struct {
	Port       string `yaml:"port"`
	LogLevel   string `yaml:"logLevel"`
	BackendURL string `yaml:"backendURL"`
	// PublicURL is where this service is reachable; photo uploads are posted
	// to PublicURL + /api/upload.
	PublicURL   string `yaml:"publicURL"`
	HTTPTimeout string `yaml:"httpTimeout"`

	SessionBackend    string `yaml:"sessionBackend"`
	SessionTTL        string `yaml:"sessionTTL"`
	SessionCookieName string `yaml:"sessionCookieName"`
	CookieSecure      bool   `yaml:"cookieSecure"`
	SessionSecret     string `yaml:"sessionSecret"`
	RedisAddr         string `yaml:"redisAddr"`
	RedisPassword     string `yaml:"redisPassword"`
	DatabaseURL       string `yaml:"databaseURL"`

	ProviderCookieName string   `yaml:"providerCookieName"`
	GoogleClientID     string   `yaml:"googleClientID"`
	GoogleJWKSURL      string   `yaml:"googleJwksURL"`
	GoogleIssuers      []string `yaml:"googleIssuers"`

	UploadBackend   string `yaml:"uploadBackend"`
	UploadDir       string `yaml:"uploadDir"`
	UploadPublicURL string `yaml:"uploadPublicURL"`
	MaxUploadFiles  int    `yaml:"maxUploadFiles"`
	MinioEndpoint   string `yaml:"minioEndpoint"`
	MinioAccessKey  string `yaml:"minioAccessKey"`
	MinioSecretKey  string `yaml:"minioSecretKey"`
	MinioBucket     string `yaml:"minioBucket"`
	MinioUseSSL     bool   `yaml:"minioUseSSL"`
	MinioPublicURL  string `yaml:"minioPublicURL"`

	LoginRateLimitPerMinute    int      `yaml:"loginRateLimitPerMinute"`
	RegisterRateLimitPerMinute int      `yaml:"registerRateLimitPerMinute"`
	CORSOrigins                []string `yaml:"corsOrigins"`
	ImageOrigins               []string `yaml:"imageOrigins"`
	TrustedProxyCIDRs          []string `yaml:"trustedProxyCidrs"`
}

// Load reads config from path (defaults to config.yaml) and applies
// SOKOGO_* environment overrides.
func Load(path string) (FileConfig, error) {
	cfg := FileConfig{}
	if path == "" {
		path = ConfigPath
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := validateConfig(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnv(cfg *FileConfig) {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}
	num := func(name string, dst *int) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	flag := func(name string, dst *bool) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	list := func(name string, dst *[]string) {
		if v := os.Getenv(name); v != "" {
			*dst = splitCSV(v)
		}
	}

	str("SOKOGO_PORT", &cfg.Port)
	str("SOKOGO_LOG_LEVEL", &cfg.LogLevel)
	str("SOKOGO_BACKEND_URL", &cfg.BackendURL)
	str("SOKOGO_PUBLIC_URL", &cfg.PublicURL)
	str("SOKOGO_HTTP_TIMEOUT", &cfg.HTTPTimeout)
	str("SOKOGO_SESSION_BACKEND", &cfg.SessionBackend)
	str("SOKOGO_SESSION_TTL", &cfg.SessionTTL)
	str("SOKOGO_SESSION_COOKIE_NAME", &cfg.SessionCookieName)
	flag("SOKOGO_COOKIE_SECURE", &cfg.CookieSecure)
	str("SOKOGO_SESSION_SECRET", &cfg.SessionSecret)
	str("REDIS_ADDR", &cfg.RedisAddr)
	str("REDIS_PASSWORD", &cfg.RedisPassword)
	str("DATABASE_URL", &cfg.DatabaseURL)
	str("SOKOGO_PROVIDER_COOKIE_NAME", &cfg.ProviderCookieName)
	str("SOKOGO_GOOGLE_CLIENT_ID", &cfg.GoogleClientID)
	str("SOKOGO_GOOGLE_JWKS_URL", &cfg.GoogleJWKSURL)
	list("SOKOGO_GOOGLE_ISSUERS", &cfg.GoogleIssuers)
	str("SOKOGO_UPLOAD_BACKEND", &cfg.UploadBackend)
	str("SOKOGO_UPLOAD_DIR", &cfg.UploadDir)
	str("SOKOGO_UPLOAD_PUBLIC_URL", &cfg.UploadPublicURL)
	num("SOKOGO_MAX_UPLOAD_FILES", &cfg.MaxUploadFiles)
	str("MINIO_ENDPOINT", &cfg.MinioEndpoint)
	str("MINIO_ACCESS_KEY", &cfg.MinioAccessKey)
	str("MINIO_SECRET_KEY", &cfg.MinioSecretKey)
	str("MINIO_BUCKET", &cfg.MinioBucket)
	flag("MINIO_USE_SSL", &cfg.MinioUseSSL)
	str("MINIO_PUBLIC_URL", &cfg.MinioPublicURL)
	num("SOKOGO_LOGIN_RATE_LIMIT_PER_MINUTE", &cfg.LoginRateLimitPerMinute)
	num("SOKOGO_REGISTER_RATE_LIMIT_PER_MINUTE", &cfg.RegisterRateLimitPerMinute)
	list("SOKOGO_CORS_ORIGINS", &cfg.CORSOrigins)
	list("SOKOGO_IMAGE_ORIGINS", &cfg.ImageOrigins)
	list("SOKOGO_TRUSTED_PROXY_CIDRS", &cfg.TrustedProxyCIDRs)
}

func applyDefaults(cfg *FileConfig) {
	if cfg.SessionBackend == "" {
		cfg.SessionBackend = "redis"
	}
	if cfg.UploadBackend == "" {
		cfg.UploadBackend = "disk"
	}
	if cfg.SessionCookieName == "" {
		cfg.SessionCookieName = "sokogo_sid"
	}
	if cfg.ProviderCookieName == "" {
		cfg.ProviderCookieName = "sokogo_provider"
	}
	if cfg.UploadPublicURL == "" {
		cfg.UploadPublicURL = "/uploads"
	}
	if cfg.LoginRateLimitPerMinute == 0 {
		cfg.LoginRateLimitPerMinute = 10
	}
	if cfg.RegisterRateLimitPerMinute == 0 {
		cfg.RegisterRateLimitPerMinute = 5
	}
}

func validateConfig(cfg FileConfig) error {
	if cfg.Port == "" {
		return errors.New("config: port is required (set in config.yaml or SOKOGO_PORT)")
	}
	if cfg.BackendURL == "" {
		return errors.New("config: backendURL is required (set in config.yaml or SOKOGO_BACKEND_URL)")
	}
	if cfg.PublicURL == "" {
		return errors.New("config: publicURL is required (set in config.yaml or SOKOGO_PUBLIC_URL)")
	}
	if len(strings.TrimSpace(cfg.SessionSecret)) < 16 {
		return errors.New("config: sessionSecret must be at least 16 characters (set in config.yaml or SOKOGO_SESSION_SECRET)")
	}
	switch cfg.SessionBackend {
	case "memory":
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return errors.New("config: redisAddr is required for the redis session backend")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return errors.New("config: databaseURL is required for the postgres session backend")
		}
	default:
		return fmt.Errorf("config: unknown sessionBackend %q (memory, redis or postgres)", cfg.SessionBackend)
	}
	if strings.TrimSpace(cfg.RedisAddr) == "" {
		return errors.New("config: redisAddr is required for distributed rate limiting")
	}
	switch cfg.UploadBackend {
	case "disk":
		if strings.TrimSpace(cfg.UploadDir) == "" {
			return errors.New("config: uploadDir is required for the disk upload backend")
		}
	case "minio":
		if cfg.MinioEndpoint == "" || cfg.MinioAccessKey == "" || cfg.MinioSecretKey == "" || cfg.MinioBucket == "" {
			return errors.New("config: minioEndpoint, minioAccessKey, minioSecretKey and minioBucket are required for the minio upload backend")
		}
	default:
		return fmt.Errorf("config: unknown uploadBackend %q (disk or minio)", cfg.UploadBackend)
	}
	if cfg.MaxUploadFiles < 0 {
		return errors.New("config: maxUploadFiles must be >= 0")
	}
	if cfg.LoginRateLimitPerMinute < 0 || cfg.RegisterRateLimitPerMinute < 0 {
		return errors.New("config: rate limits must be >= 0")
	}
	if _, err := ParseDuration("httpTimeout", cfg.HTTPTimeout, 0); err != nil {
		return err
	}
	if _, err := ParseDuration("sessionTTL", cfg.SessionTTL, 0); err != nil {
		return err
	}
	return nil
}

// ParseDuration parses an optional duration, returning def when empty.
func ParseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("config: invalid %s duration: %w", field, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("config: %s must be positive", field)
	}
	return d, nil
}

func splitCSV(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}
