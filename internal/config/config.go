package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	AppName string `envconfig:"APP_NAME" default:"Mini Chat Backend"`
	Port    string `envconfig:"PORT" default:"8080"`

	JWTSecret       string        `envconfig:"JWT_SECRET" required:"true"`
	AccessTokenTTL  time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"24h"`
	RefreshTokenTTL time.Duration `envconfig:"REFRESH_TOKEN_TTL" default:"720h"`

	DBDriver   string `envconfig:"DB_DRIVER" default:"postgres"`
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     string `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" default:"postgres"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" default:"chat"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	SQLitePath string `envconfig:"SQLITE_PATH" default:"chat.db"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	AllowedOrigins   string `envconfig:"ALLOWED_ORIGINS"`
	CSRFMode         string `envconfig:"CSRF_MODE" default:"origin"`
	PublicAPIBaseURL string `envconfig:"PUBLIC_API_BASE_URL"`

	OTPTTL         time.Duration `envconfig:"OTP_TTL" default:"5m"`
	OTPLength      int           `envconfig:"OTP_LENGTH" default:"6"`
	OTPMaxAttempts int           `envconfig:"OTP_MAX_ATTEMPTS" default:"5"`

	MaxMessageLength int `envconfig:"MAX_MESSAGE_LENGTH" default:"4000"`

	WS WSConfig
}

// WSConfig bounds every blocking step of a realtime session.
type WSConfig struct {
	AuthTimeout      time.Duration `envconfig:"WS_AUTH_TIMEOUT" default:"10s"`
	OperationTimeout time.Duration `envconfig:"WS_OPERATION_TIMEOUT" default:"5s"`
	WriteTimeout     time.Duration `envconfig:"WS_WRITE_TIMEOUT" default:"10s"`
	PingInterval     time.Duration `envconfig:"WS_PING_INTERVAL" default:"30s"`
	PongTimeout      time.Duration `envconfig:"WS_PONG_TIMEOUT" default:"90s"`
	SendBuffer       int           `envconfig:"WS_SEND_BUFFER" default:"64"`
	MaxFrameBytes    int64         `envconfig:"WS_MAX_FRAME_BYTES" default:"65536"`
	Debug            bool          `envconfig:"WS_DEBUG" default:"false"`
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.JWTSecret) == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.OTPLength < 4 || c.OTPLength > 10 {
		return fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTPLength)
	}
	if c.MaxMessageLength < 1 {
		return fmt.Errorf("MAX_MESSAGE_LENGTH must be positive, got %d", c.MaxMessageLength)
	}
	if c.WS.SendBuffer < 1 {
		return fmt.Errorf("WS_SEND_BUFFER must be positive, got %d", c.WS.SendBuffer)
	}
	return nil
}

// PostgresDSN builds the key/value DSN expected by the pgx-backed gorm driver.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode,
	)
}

func (c *Config) OriginList() []string {
	return SplitCSV(c.AllowedOrigins)
}

func SplitCSV(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
