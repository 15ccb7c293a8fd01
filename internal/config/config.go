package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          int    `envconfig:"PORT" default:"8080"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	Env           string `envconfig:"APP_ENV" default:"development"`
	PublicBaseURL string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080"`

	DB        DBConfig
	JWT       JWTConfig
	Payment   PaymentConfig
	SMTP      SMTPConfig
	Kafka     KafkaConfig
	Redis     RedisConfig
	PayHub    PayHubConfig
	Outbox    OutboxConfig
	RateLimit RateLimitConfig `envconfig:"RATE_LIMIT"`
	Orders    OrdersConfig    `envconfig:"ORDER"`
}

// DBConfig holds the database configuration
type DBConfig struct {
	Host     string `split_words:"true" default:"localhost"`
	Port     int    `split_words:"true" default:"5432"`
	User     string `split_words:"true" default:"postgres"`
	Password string `split_words:"true" default:"postgres"`
	Name     string `split_words:"true" default:"storefront"`
	SSLMode  string `split_words:"true" default:"disable"`

	MaxOpenConns    int           `split_words:"true" default:"25"`
	MaxIdleConns    int           `split_words:"true" default:"5"`
	ConnMaxLifetime time.Duration `split_words:"true" default:"5m"`
	// ConnectAttempts covers postgres still starting up next to the API
	ConnectAttempts int `split_words:"true" default:"5"`
}

type JWTConfig struct {
	Secret     string        `split_words:"true"`
	Issuer     string        `split_words:"true" default:"storefront-api"`
	Audience   string        `split_words:"true" default:"storefront-clients"`
	AccessTTL  time.Duration `split_words:"true" default:"15m"`
	RefreshTTL time.Duration `split_words:"true" default:"168h"`
}

// PaymentConfig holds the provider credentials and the request defaults the
// provider requires but the user record does not carry.
type PaymentConfig struct {
	BaseURL        string        `split_words:"true" default:"https://sandbox-api.iyzipay.com"`
	APIKey         string        `split_words:"true"`
	SecretKey      string        `split_words:"true"`
	CallbackURL    string        `split_words:"true"`
	CallbackSecret string        `split_words:"true"`
	Timeout        time.Duration `split_words:"true" default:"10s"`
	MaxAttempts    int           `split_words:"true" default:"2"`
	Locale         string        `split_words:"true" default:"tr"`
	Currency       string        `split_words:"true" default:"TRY"`
	Installment    int           `split_words:"true" default:"1"`
	Channel        string        `split_words:"true" default:"WEB"`
	Group          string        `split_words:"true" default:"PRODUCT"`

	DefaultSurname        string `split_words:"true" default:"Surname"`
	DefaultIdentityNumber string `split_words:"true" default:"11111111111"`
	DefaultCity           string `split_words:"true" default:"Istanbul"`
	DefaultCountry        string `split_words:"true" default:"Turkey"`
	DefaultZipCode        string `split_words:"true" default:"34732"`

	BreakerThreshold    int64         `split_words:"true" default:"5"`
	BreakerResetTimeout time.Duration `split_words:"true" default:"30s"`
}

type SMTPConfig struct {
	Host     string        `split_words:"true" default:"localhost"`
	Port     int           `split_words:"true" default:"587"`
	Username string        `split_words:"true"`
	Password string        `split_words:"true"`
	From     string        `split_words:"true" default:"no-reply@storefront.local"`
	TLS      string        `split_words:"true" default:"opportunistic"`
	Timeout  time.Duration `split_words:"true" default:"10s"`
}

// KafkaConfig is optional: with no brokers, domain events are only logged
type KafkaConfig struct {
	Brokers       []string `split_words:"true"`
	OrdersTopic   string   `split_words:"true" default:"storefront.orders"`
	ConsumerGroup string   `split_words:"true" default:"storefront-api"`
	ClientID      string   `split_words:"true" default:"storefront-api"`
}

// RedisConfig is optional: with no address, payment outcomes are delivered in-process only
type RedisConfig struct {
	Addr     string `split_words:"true"`
	Password string `split_words:"true"`
	DB       int    `split_words:"true" default:"0"`
	Channel  string `split_words:"true" default:"storefront:payhub"`
}

type PayHubConfig struct {
	TTL           time.Duration `split_words:"true" default:"30m"`
	SweepInterval time.Duration `split_words:"true" default:"1m"`
	// AllowedOrigins empty means same-origin only
	AllowedOrigins []string `split_words:"true"`
}

type OutboxConfig struct {
	PollingInterval    time.Duration `split_words:"true" default:"5s"`
	BatchSize          int           `split_words:"true" default:"20"`
	MaxRetries         int           `split_words:"true" default:"5"`
	DLQPollingInterval time.Duration `split_words:"true" default:"30s"`
	DLQMaxRetries      int           `split_words:"true" default:"3"`
	// DLQBaseBackoff doubles per redelivery of the same dead letter
	DLQBaseBackoff time.Duration `split_words:"true" default:"1m"`
}

type RateLimitConfig struct {
	PerSecond         float64 `split_words:"true" default:"5"`
	Burst             int     `split_words:"true" default:"10"`
	TrustForwardedFor bool    `split_words:"true" default:"false"`
}

type OrdersConfig struct {
	StrictTransitions bool `split_words:"true" default:"false"`
}

// Load reads the configuration from environment variables
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the server cannot run with
func (c *Config) Validate() error {
	var problems []string

	if c.Port <= 0 || c.Port > 65535 {
		problems = append(problems, fmt.Sprintf("PORT %d out of range", c.Port))
	}

	if len(c.JWT.Secret) < 32 {
		problems = append(problems, "JWT_SECRET must be at least 32 bytes")
	}

	if c.JWT.AccessTTL <= 0 || c.JWT.RefreshTTL <= 0 {
		problems = append(problems, "JWT TTLs must be positive")
	}

	if c.Payment.CallbackURL == "" {
		problems = append(problems, "PAYMENT_CALLBACK_URL is required")
	} else if _, err := url.ParseRequestURI(c.Payment.CallbackURL); err != nil {
		problems = append(problems, "PAYMENT_CALLBACK_URL is not a valid URL")
	}

	if c.Payment.Timeout <= 0 {
		problems = append(problems, "PAYMENT_TIMEOUT must be positive")
	}

	if c.PayHub.TTL <= 0 {
		problems = append(problems, "PAYHUB_TTL must be positive")
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}

	return nil
}

// GetDBConnString returns the database connection string
func (c *Config) GetDBConnString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

// GetDBURL returns the connection string in URL form for the migrator
func (c *Config) GetDBURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.DB.User, c.DB.Password),
		Host:     fmt.Sprintf("%s:%d", c.DB.Host, c.DB.Port),
		Path:     c.DB.Name,
		RawQuery: "sslmode=" + c.DB.SSLMode,
	}

	return u.String()
}

// KafkaEnabled reports whether brokers are configured
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}
