package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/see4tech/oauth-service/internal/adapter/platform"
	"github.com/see4tech/oauth-service/internal/domain"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// ServiceAPIKey guards the management surface (key issuance, token
	// reads). Per-user keys are issued at runtime and stored hashed.
	ServiceAPIKey     string
	EncryptionKeyPath string

	StateTTL        time.Duration
	RefreshBuffer   time.Duration
	ProviderTimeout time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	ShutdownTimeout  time.Duration

	Platforms map[domain.Platform]platform.Credentials

	ServiceName          string
	RateLimitRPM         int
	TelemetryEndpoint    string
	TelemetryInsecure    bool
	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
func Load() (Config, error) {
	_ = godotenv.Load()

	serviceKey := strings.TrimSpace(os.Getenv("SERVICE_API_KEY"))
	if serviceKey == "" {
		return Config{}, fmt.Errorf("SERVICE_API_KEY is required")
	}

	cfg := Config{
		Environment:          getEnv("APP_ENV", "development"),
		HTTPPort:             getEnv("HTTP_PORT", "8080"),
		DatabaseURL:          os.Getenv("DATABASE_URL"),
		RedisAddr:            getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword:        os.Getenv("REDIS_PASSWORD"),
		RedisDB:              getInt("REDIS_DB", 0),
		ServiceAPIKey:        serviceKey,
		EncryptionKeyPath:    getEnv("ENCRYPTION_KEY_PATH", "data/encryption.key"),
		StateTTL:             getDuration("STATE_TTL", 10*time.Minute),
		RefreshBuffer:        getDuration("REFRESH_BUFFER", 5*time.Minute),
		ProviderTimeout:      getDuration("PROVIDER_TIMEOUT", 15*time.Second),
		HTTPReadTimeout:      getDuration("HTTP_READ_TIMEOUT", 10*time.Second),
		HTTPWriteTimeout:     getDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),
		ShutdownTimeout:      getDuration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Platforms:            loadPlatforms(),
		ServiceName:          getEnv("SERVICE_NAME", "oauth-service"),
		RateLimitRPM:         getInt("RATE_LIMIT_RPM", 600),
		TelemetryEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure:    getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "DELETE", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type", "x-api-key", "x-user-api-key"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if len(cfg.Platforms) == 0 {
		return Config{}, fmt.Errorf("no platform credentials configured")
	}

	return cfg, nil
}

// loadPlatforms collects app registrations for every platform whose client
// pair is present. Unconfigured platforms are simply absent from the map.
func loadPlatforms() map[domain.Platform]platform.Credentials {
	out := map[domain.Platform]platform.Credentials{}

	if id, secret := os.Getenv("TWITTER_CLIENT_ID"), os.Getenv("TWITTER_CLIENT_SECRET"); id != "" && secret != "" {
		out[domain.PlatformTwitter] = platform.Credentials{
			ClientID:       id,
			ClientSecret:   secret,
			ConsumerKey:    os.Getenv("TWITTER_CONSUMER_KEY"),
			ConsumerSecret: os.Getenv("TWITTER_CONSUMER_SECRET"),
		}
	}
	if id, secret := os.Getenv("LINKEDIN_CLIENT_ID"), os.Getenv("LINKEDIN_CLIENT_SECRET"); id != "" && secret != "" {
		out[domain.PlatformLinkedIn] = platform.Credentials{ClientID: id, ClientSecret: secret}
	}
	if id, secret := os.Getenv("FACEBOOK_CLIENT_ID"), os.Getenv("FACEBOOK_CLIENT_SECRET"); id != "" && secret != "" {
		out[domain.PlatformFacebook] = platform.Credentials{ClientID: id, ClientSecret: secret}
	}
	if id, secret := os.Getenv("INSTAGRAM_CLIENT_ID"), os.Getenv("INSTAGRAM_CLIENT_SECRET"); id != "" && secret != "" {
		out[domain.PlatformInstagram] = platform.Credentials{ClientID: id, ClientSecret: secret}
	}

	return out
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
