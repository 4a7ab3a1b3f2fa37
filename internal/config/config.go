package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config is the whole service configuration. Every key can be overridden
// with LEXPAY_<SECTION>_<KEY>, e.g. LEXPAY_PAYOUT_SECRET.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Rail     RailConfig     `mapstructure:"rail"`
	Fees     FeesConfig     `mapstructure:"fees"`
	Payout   PayoutConfig   `mapstructure:"payout"`
	Business BusinessConfig `mapstructure:"business"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	// checkout requests per second per client IP
	RateLimit float64 `mapstructure:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	Driver       string `mapstructure:"driver"` // mysql | postgres
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	SSLMode      string `mapstructure:"ssl_mode"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	AutoMigrate  bool   `mapstructure:"auto_migrate"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type RailConfig struct {
	Provider string        `mapstructure:"provider"` // stripe | hosted
	Timeout  time.Duration `mapstructure:"timeout"`
	// browser return URLs handed to the rail at checkout
	SuccessURL string       `mapstructure:"success_url"`
	FailureURL string       `mapstructure:"failure_url"`
	PendingURL string       `mapstructure:"pending_url"`
	Stripe     StripeConfig `mapstructure:"stripe"`
	Hosted     HostedConfig `mapstructure:"hosted"`
}

type StripeConfig struct {
	SecretKey     string `mapstructure:"secret_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	BaseURL       string `mapstructure:"base_url"`
	MaxRetries    int64  `mapstructure:"max_retries"`
}

type HostedConfig struct {
	BaseURL            string        `mapstructure:"base_url"`
	AccessToken        string        `mapstructure:"access_token"`
	WebhookSecret      string        `mapstructure:"webhook_secret"`
	NotificationURL    string        `mapstructure:"notification_url"`
	SignatureTolerance time.Duration `mapstructure:"signature_tolerance"`
}

type FeesConfig struct {
	SurchargePercent   string `mapstructure:"surcharge_percent"`
	PlatformFeePercent string `mapstructure:"platform_fee_percent"`
	MinAmount          int64  `mapstructure:"min_amount"`
	AmountBasis        string `mapstructure:"amount_basis"` // client | original
	Currency           string `mapstructure:"currency"`
}

// Rates parses the percentages; they are strings so no float ever touches money.
func (f FeesConfig) Rates() (surcharge, platformFee decimal.Decimal, err error) {
	surcharge, err = decimal.NewFromString(f.SurchargePercent)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fees.surcharge_percent: %w", err)
	}
	platformFee, err = decimal.NewFromString(f.PlatformFeePercent)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("fees.platform_fee_percent: %w", err)
	}
	return surcharge, platformFee, nil
}

type PayoutConfig struct {
	Secret           string        `mapstructure:"secret"`
	SchedulerEnabled bool          `mapstructure:"scheduler_enabled"`
	CheckInterval    time.Duration `mapstructure:"check_interval"`
	WeekStart        string        `mapstructure:"week_start"`
	Timezone         string        `mapstructure:"timezone"`
	MaxAttempts      int           `mapstructure:"max_attempts"`
	Concurrency      int           `mapstructure:"concurrency"`
	LockTTL          time.Duration `mapstructure:"lock_ttl"`
	TransferTimeout  time.Duration `mapstructure:"transfer_timeout"`
}

// Location resolves the timezone the weekly cutoff is computed in.
func (p PayoutConfig) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.Timezone)
}

// Weekday parses week_start ("monday", "sunday", ...).
func (p PayoutConfig) Weekday() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), p.WeekStart) {
			return d, nil
		}
	}
	return time.Monday, fmt.Errorf("payout.week_start: unknown weekday %q", p.WeekStart)
}

type BusinessConfig struct {
	PendingExpiryMinutes int           `mapstructure:"pending_expiry_minutes"`
	ExpiryCheckInterval  time.Duration `mapstructure:"expiry_check_interval"`
	OutboxInterval       time.Duration `mapstructure:"outbox_interval"`
	MaxRetryCount        int           `mapstructure:"max_retry_count"`
}

type LogConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// setDefaults registers every key; viper only consults the environment for
// keys it already knows about when unmarshalling.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.rate_limit", 5.0)
	v.SetDefault("server.rate_burst", 10)

	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.port", 3306)
	v.SetDefault("database.user", "root")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "lexpay")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 50)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("kafka.topic", "payment_events")

	v.SetDefault("rail.provider", "hosted")
	v.SetDefault("rail.timeout", 15*time.Second)
	v.SetDefault("rail.success_url", "")
	v.SetDefault("rail.failure_url", "")
	v.SetDefault("rail.pending_url", "")
	v.SetDefault("rail.stripe.secret_key", "")
	v.SetDefault("rail.stripe.webhook_secret", "")
	v.SetDefault("rail.stripe.base_url", "")
	v.SetDefault("rail.stripe.max_retries", 2)
	v.SetDefault("rail.hosted.base_url", "")
	v.SetDefault("rail.hosted.access_token", "")
	v.SetDefault("rail.hosted.webhook_secret", "")
	v.SetDefault("rail.hosted.notification_url", "")
	v.SetDefault("rail.hosted.signature_tolerance", 5*time.Minute)

	v.SetDefault("fees.surcharge_percent", "10")
	v.SetDefault("fees.platform_fee_percent", "20")
	v.SetDefault("fees.min_amount", 1000)
	v.SetDefault("fees.amount_basis", "client")
	v.SetDefault("fees.currency", "ARS")

	v.SetDefault("payout.secret", "")
	v.SetDefault("payout.scheduler_enabled", false)
	v.SetDefault("payout.check_interval", time.Hour)
	v.SetDefault("payout.week_start", "monday")
	v.SetDefault("payout.timezone", "UTC")
	v.SetDefault("payout.max_attempts", 5)
	v.SetDefault("payout.concurrency", 4)
	v.SetDefault("payout.lock_ttl", 10*time.Minute)
	v.SetDefault("payout.transfer_timeout", 30*time.Second)

	v.SetDefault("business.pending_expiry_minutes", 60)
	v.SetDefault("business.expiry_check_interval", time.Minute)
	v.SetDefault("business.outbox_interval", 5*time.Second)
	v.SetDefault("business.max_retry_count", 5)

	v.SetDefault("log.development", false)
	v.SetDefault("log.level", "info")
}

// Load reads configPath (optional), a .env file if present, and LEXPAY_* env vars.
func Load(configPath string) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("LEXPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", configPath, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if _, _, err := c.Fees.Rates(); err != nil {
		return err
	}
	if c.Fees.AmountBasis != "client" && c.Fees.AmountBasis != "original" {
		return fmt.Errorf("fees.amount_basis must be client or original, got %q", c.Fees.AmountBasis)
	}
	if _, err := c.Payout.Weekday(); err != nil {
		return err
	}
	if _, err := c.Payout.Location(); err != nil {
		return fmt.Errorf("payout.timezone: %w", err)
	}
	if c.Payout.Concurrency < 1 {
		return fmt.Errorf("payout.concurrency must be >= 1")
	}
	switch c.Database.Driver {
	case "mysql", "postgres":
	default:
		return fmt.Errorf("database.driver must be mysql or postgres, got %q", c.Database.Driver)
	}
	return nil
}
