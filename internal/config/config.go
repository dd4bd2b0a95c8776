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

// Config is the full runtime configuration of the service.
type Config struct {
	Env       string          `yaml:"env"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Razorpay  RazorpayConfig  `yaml:"razorpay"`
	Checkout  CheckoutConfig  `yaml:"checkout"`
	Auth      AuthConfig      `yaml:"auth"`
	OTP       OTPConfig       `yaml:"otp"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	GooglePay GooglePayConfig `yaml:"google_pay"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type HTTPConfig struct {
	Addr     string `yaml:"addr"`
	BasePath string `yaml:"base_path"`
}

type DatabaseConfig struct {
	// Driver is either "postgres" or "sqlite".
	Driver       string        `yaml:"driver"`
	URL          string        `yaml:"url"`
	Schema       string        `yaml:"schema"`
	SQLitePath   string        `yaml:"sqlite_path"`
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	UseTLS   bool   `yaml:"use_tls"`
}

type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

type RazorpayConfig struct {
	BaseURL       string        `yaml:"base_url"`
	KeyID         string        `yaml:"key_id"`
	KeySecret     string        `yaml:"key_secret"`
	WebhookSecret string        `yaml:"webhook_secret"`
	Timeout       time.Duration `yaml:"timeout"`
	Currency      string        `yaml:"currency"`
}

type CheckoutConfig struct {
	BrandName  string        `yaml:"brand_name"`
	ThemeColor string        `yaml:"theme_color"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	FirebaseProjectID string        `yaml:"firebase_project_id"`
	AdminEmails       []string      `yaml:"admin_emails"`
	AdminPhones       []string      `yaml:"admin_phones"`
}

type OTPConfig struct {
	TTL         time.Duration `yaml:"ttl"`
	MaxAttempts int           `yaml:"max_attempts"`
	SendLimit   int           `yaml:"send_limit"`
	SendWindow  time.Duration `yaml:"send_window"`
	ExposeCode  bool          `yaml:"expose_code"`
}

type WhatsAppConfig struct {
	Enabled   bool   `yaml:"enabled"`
	StorePath string `yaml:"store_path"`
	LogLevel  string `yaml:"log_level"`
}

type GooglePayConfig struct {
	TestMode bool `yaml:"test_mode"`
}

// Default returns the baseline configuration before file and env overrides.
func Default() Config {
	return Config{
		Env: "dev",
		Log: LogConfig{Level: "info", Format: "text"},
		HTTP: HTTPConfig{
			Addr: ":8080",
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			Schema:       "public",
			SQLitePath:   "data/app.db",
			StoreTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
		},
		Metrics: MetricsConfig{Namespace: "avishkar"},
		Razorpay: RazorpayConfig{
			BaseURL:  "https://api.razorpay.com",
			Timeout:  15 * time.Second,
			Currency: "INR",
		},
		Checkout: CheckoutConfig{
			BrandName:  "Avishkar Career Academy",
			ThemeColor: "#3399cc",
			SessionTTL: 24 * time.Hour,
		},
		Auth: AuthConfig{
			SessionTTL: 7 * 24 * time.Hour,
		},
		OTP: OTPConfig{
			TTL:         5 * time.Minute,
			MaxAttempts: 3,
			SendLimit:   5,
			SendWindow:  10 * time.Minute,
		},
		WhatsApp: WhatsAppConfig{
			StorePath: "data/whatsmeow.db",
			LogLevel:  "WARN",
		},
	}
}

// Load builds the configuration from defaults, an optional YAML file and the environment.
// A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFromYAML(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnvOverrides(&cfg); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate reports every missing required setting at once.
func (c Config) Validate() error {
	var missing []string
	if c.Razorpay.KeyID == "" {
		missing = append(missing, "RAZORPAY_KEY_ID")
	}
	if c.Razorpay.KeySecret == "" {
		missing = append(missing, "RAZORPAY_KEY_SECRET")
	}
	if c.Razorpay.WebhookSecret == "" {
		missing = append(missing, "RAZORPAY_WEBHOOK_SECRET")
	}
	if c.Auth.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	switch c.Database.Driver {
	case "postgres":
		if c.Database.URL == "" {
			missing = append(missing, "DATABASE_URL")
		}
	case "sqlite":
		if c.Database.SQLitePath == "" {
			missing = append(missing, "SQLITE_PATH")
		}
	default:
		return fmt.Errorf("unsupported DATABASE_DRIVER %q", c.Database.Driver)
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required env: %s", strings.Join(missing, ", "))
	}
	if c.OTP.MaxAttempts <= 0 {
		return errors.New("OTP_MAX_ATTEMPTS must be positive")
	}
	return nil
}

func loadFromYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal config yaml: %w", err)
	}

	return nil
}

func applyEnvOverrides(cfg *Config) error {
	overrideString("APP_ENV", &cfg.Env)
	overrideString("LOG_LEVEL", &cfg.Log.Level)
	overrideString("LOG_FORMAT", &cfg.Log.Format)

	overrideString("HTTP_LISTEN_ADDR", &cfg.HTTP.Addr)
	overrideString("PUBLIC_BASE_PATH", &cfg.HTTP.BasePath)

	overrideString("DATABASE_DRIVER", &cfg.Database.Driver)
	overrideString("DATABASE_URL", &cfg.Database.URL)
	overrideString("SUPABASE_SCHEMA", &cfg.Database.Schema)
	overrideString("SQLITE_PATH", &cfg.Database.SQLitePath)
	if err := overrideDuration("STORE_TIMEOUT", &cfg.Database.StoreTimeout); err != nil {
		return err
	}

	overrideString("REDIS_ADDR", &cfg.Redis.Addr)
	overrideString("REDIS_PASSWORD", &cfg.Redis.Password)
	if err := overrideInt("REDIS_DB", &cfg.Redis.DB); err != nil {
		return err
	}
	if err := overrideBool("REDIS_TLS", &cfg.Redis.UseTLS); err != nil {
		return err
	}

	overrideString("METRICS_NAMESPACE", &cfg.Metrics.Namespace)

	overrideString("RAZORPAY_BASE_URL", &cfg.Razorpay.BaseURL)
	overrideString("RAZORPAY_KEY_ID", &cfg.Razorpay.KeyID)
	overrideString("RAZORPAY_KEY_SECRET", &cfg.Razorpay.KeySecret)
	overrideString("RAZORPAY_WEBHOOK_SECRET", &cfg.Razorpay.WebhookSecret)
	overrideString("RAZORPAY_CURRENCY", &cfg.Razorpay.Currency)
	if err := overrideDuration("RAZORPAY_TIMEOUT", &cfg.Razorpay.Timeout); err != nil {
		return err
	}

	overrideString("CHECKOUT_BRAND_NAME", &cfg.Checkout.BrandName)
	overrideString("CHECKOUT_THEME_COLOR", &cfg.Checkout.ThemeColor)
	if err := overrideDuration("CHECKOUT_SESSION_TTL", &cfg.Checkout.SessionTTL); err != nil {
		return err
	}

	overrideString("JWT_SECRET", &cfg.Auth.JWTSecret)
	if err := overrideDuration("SESSION_TTL", &cfg.Auth.SessionTTL); err != nil {
		return err
	}
	overrideString("FIREBASE_PROJECT_ID", &cfg.Auth.FirebaseProjectID)
	overrideList("ADMIN_EMAILS", &cfg.Auth.AdminEmails)
	overrideList("ADMIN_PHONES", &cfg.Auth.AdminPhones)

	if err := overrideDuration("OTP_TTL", &cfg.OTP.TTL); err != nil {
		return err
	}
	if err := overrideInt("OTP_MAX_ATTEMPTS", &cfg.OTP.MaxAttempts); err != nil {
		return err
	}
	if err := overrideInt("OTP_SEND_LIMIT", &cfg.OTP.SendLimit); err != nil {
		return err
	}
	if err := overrideDuration("OTP_SEND_WINDOW", &cfg.OTP.SendWindow); err != nil {
		return err
	}
	if err := overrideBool("OTP_EXPOSE_CODE", &cfg.OTP.ExposeCode); err != nil {
		return err
	}

	if err := overrideBool("WHATSAPP_ENABLED", &cfg.WhatsApp.Enabled); err != nil {
		return err
	}
	overrideString("WHATSAPP_STORE_PATH", &cfg.WhatsApp.StorePath)
	overrideString("WHATSAPP_LOG_LEVEL", &cfg.WhatsApp.LogLevel)

	if err := overrideBool("GOOGLE_PAY_TEST_MODE", &cfg.GooglePay.TestMode); err != nil {
		return err
	}

	return nil
}

func overrideString(key string, target *string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func overrideList(key string, target *[]string) {
	v := os.Getenv(key)
	if strings.TrimSpace(v) == "" {
		return
	}
	var items []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, part)
		}
	}
	*target = items
}

func overrideDuration(key string, target *time.Duration) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("parse %s duration: %w", key, err)
	}
	*target = d
	return nil
}

func overrideInt(key string, target *int) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("parse %s int: %w", key, err)
	}
	*target = n
	return nil
}

func overrideBool(key string, target *bool) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("parse %s bool: %w", key, err)
	}
	*target = b
	return nil
}
