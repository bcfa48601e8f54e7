package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	JWT       JWTConfig
	Transport TransportConfig
	Billing   BillingConfig
	Hub       HubConfig
	Host      HostConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	ShutdownTimeout    time.Duration
	CORSAllowedOrigins []string // "*" allows all
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/livehost?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxConns int32
}

// RedisConfig holds Redis connection settings. An empty Addr runs the hub on a single instance.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// JWTConfig holds JWT signing and validation settings.
type JWTConfig struct {
	Secret      string
	ExpireHours int
}

// TransportConfig selects and configures the media provider.
type TransportConfig struct {
	Provider string // livekit or zego
	TokenTTL time.Duration

	LiveKitURL    string
	LiveKitKey    string
	LiveKitSecret string

	ZegoAppID  uint32
	ZegoSecret string
}

// BillingConfig holds per-minute call rates.
type BillingConfig struct {
	VoiceRate int64
	VideoRate int64
}

// HubConfig tunes the signaling hub.
type HubConfig struct {
	MaxCallDuration   time.Duration
	TimerSyncInterval time.Duration
	MessageRate       float64
	MessageBurst      int
}

// HostConfig is used by the host driver.
type HostConfig struct {
	APIURL         string
	SignalingURL   string
	Token          string
	Kind           string
	Title          string
	RequestTimeout time.Duration
	Heartbeat      time.Duration
	ReconcileDelay time.Duration
	MatchTimeout   time.Duration
	TimerTolerance int
	TranscriptSize int
	// MicWAV is a 16 kHz mono 16-bit WAV looped into the microphone track.
	MicWAV string
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	zegoAppID, err := strconv.ParseUint(getEnv("ZEGO_APP_ID", "0"), 10, 32)
	if err != nil {
		return nil, fmt.Errorf("ZEGO_APP_ID: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        getEnvDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout:       getEnvDuration("WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout:    getEnvDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
			CORSAllowedOrigins: splitTrim(getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"), ","),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", ""),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "livehost"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			MaxConns: int32(getEnvInt("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		JWT: JWTConfig{
			Secret:      getEnv("JWT_SECRET", "change-me-in-production"),
			ExpireHours: getEnvInt("JWT_EXPIRE_HOURS", 24),
		},
		Transport: TransportConfig{
			Provider:      strings.ToLower(getEnv("TRANSPORT_PROVIDER", "livekit")),
			TokenTTL:      getEnvDuration("TRANSPORT_TOKEN_TTL", 24*time.Hour),
			LiveKitURL:    getEnv("LIVEKIT_URL", "ws://localhost:7880"),
			LiveKitKey:    getEnv("LIVEKIT_API_KEY", ""),
			LiveKitSecret: getEnv("LIVEKIT_API_SECRET", ""),
			ZegoAppID:     uint32(zegoAppID),
			ZegoSecret:    getEnv("ZEGO_SERVER_SECRET", ""),
		},
		Billing: BillingConfig{
			VoiceRate: int64(getEnvInt("CALL_RATE_VOICE", 50)),
			VideoRate: int64(getEnvInt("CALL_RATE_VIDEO", 100)),
		},
		Hub: HubConfig{
			MaxCallDuration:   getEnvDuration("CALL_MAX_DURATION", 10*time.Minute),
			TimerSyncInterval: getEnvDuration("CALL_TIMER_SYNC", 5*time.Second),
			MessageRate:       getEnvFloat("HUB_MESSAGE_RATE", 10),
			MessageBurst:      getEnvInt("HUB_MESSAGE_BURST", 20),
		},
		Host: HostConfig{
			APIURL:         getEnv("HOST_API_URL", "http://localhost:8080/api/v1"),
			SignalingURL:   getEnv("HOST_SIGNALING_URL", "ws://localhost:8080/ws"),
			Token:          getEnv("HOST_TOKEN", ""),
			Kind:           getEnv("HOST_STREAM_KIND", "video"),
			Title:          getEnv("HOST_STREAM_TITLE", ""),
			RequestTimeout: getEnvDuration("HOST_REQUEST_TIMEOUT", 15*time.Second),
			Heartbeat:      getEnvDuration("HOST_HEARTBEAT", 10*time.Second),
			ReconcileDelay: getEnvDuration("HOST_RECONCILE_DELAY", 3*time.Second),
			MatchTimeout:   getEnvDuration("HOST_MATCH_TIMEOUT", 0),
			TimerTolerance: getEnvInt("HOST_TIMER_TOLERANCE", 3),
			TranscriptSize: getEnvInt("HOST_TRANSCRIPT_SIZE", 50),
			MicWAV:         getEnv("HOST_MIC_WAV", ""),
		},
	}
	if cfg.Billing.VoiceRate < 0 || cfg.Billing.VideoRate < 0 {
		return nil, fmt.Errorf("call rates must not be negative")
	}
	return cfg, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("90s") or plain seconds ("90").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return fallback
}

func splitTrim(s, sep string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, v := range strings.Split(s, sep) {
		if t := strings.TrimSpace(v); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
