// Package config loads the service configuration from the environment.
// A .env file in the working directory is read first when present.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"

	"github.com/optimode/emailverify"
	"github.com/optimode/emailverify/internal/lists"
)

type RedisConfig struct {
	Address  string `validate:"omitempty,hostname_port"`
	Password string `json:"-"`
	DB       int    `validate:"min=0"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

type DNSConfig struct {
	Timeout  time.Duration `validate:"gt=0"`
	Server   string
	Direct   bool
	CacheTTL time.Duration
}

type SMTPConfig struct {
	HeloDomain     string        `validate:"required,hostname"`
	MailFrom       string        `validate:"omitempty,email"`
	Port           int           `validate:"min=1,max=65535"`
	Timeout        time.Duration `validate:"gt=0"`
	ConnectTimeout time.Duration `validate:"gt=0"`
	CommandTimeout time.Duration `validate:"gt=0"`
	Strict         bool
	MaxMXHosts     int    `validate:"min=1,max=10"`
	ProxyURL       string `validate:"omitempty,url"`
}

type Config struct {
	Environment string `validate:"required"`
	Port        string `validate:"required,numeric"`
	LogLevel    string `validate:"oneof=trace debug info warn warning error fatal panic"`
	LogFormat   string `validate:"oneof=text json"`

	DNS   DNSConfig
	SMTP  SMTPConfig
	Redis RedisConfig

	SyntaxStrict        bool
	MaxConcurrentProbes int `validate:"min=1"`
	BulkWorkers         int `validate:"min=1"`
	MaxBulk             int `validate:"min=1,max=10000"`
	// RateLimit is requests per minute per client IP; 0 disables it.
	RateLimit   int    `validate:"min=0"`
	CORSOrigins string `validate:"required"`
	SentryDSN   string `json:"-" validate:"omitempty,url"`

	ListsFile string `validate:"omitempty,file"`
	Lists     lists.Lists
}

var validate = validator.New()

// Load reads the configuration. Invalid values are reported together.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := &envReader{}
	cfg := &Config{
		Environment: env.get("ENVIRONMENT", "development"),
		Port:        env.get("PORT", "3001"),
		LogLevel:    strings.ToLower(env.get("LOG_LEVEL", "info")),
		LogFormat:   strings.ToLower(env.get("LOG_FORMAT", "text")),

		DNS: DNSConfig{
			Timeout:  env.asDuration("DNS_TIMEOUT", 5*time.Second),
			Server:   env.get("DNS_SERVER", ""),
			Direct:   env.asBool("DNS_DIRECT", false),
			CacheTTL: env.asDuration("MX_CACHE_TTL", 5*time.Minute),
		},
		SMTP: SMTPConfig{
			HeloDomain:     env.get("SMTP_HELO_DOMAIN", "localhost"),
			MailFrom:       env.get("SMTP_MAIL_FROM", ""),
			Port:           env.asInt("SMTP_PORT", 25),
			Timeout:        env.asDuration("SMTP_TIMEOUT", 10*time.Second),
			ConnectTimeout: env.asDuration("SMTP_CONNECT_TIMEOUT", 5*time.Second),
			CommandTimeout: env.asDuration("SMTP_COMMAND_TIMEOUT", 5*time.Second),
			Strict:         env.asBool("SMTP_STRICT", true),
			MaxMXHosts:     env.asInt("SMTP_MAX_MX_HOSTS", 1),
			ProxyURL:       env.get("SMTP_PROXY_URL", ""),
		},
		Redis: RedisConfig{
			Address:  env.get("REDIS_ADDR", ""),
			Password: env.get("REDIS_PASSWORD", ""),
			DB:       env.asInt("REDIS_DB", 0),
		},

		SyntaxStrict:        env.asBool("SYNTAX_STRICT", false),
		MaxConcurrentProbes: env.asInt("MAX_CONCURRENT_PROBES", 10),
		BulkWorkers:         env.asInt("BULK_WORKERS", 5),
		MaxBulk:             env.asInt("MAX_BULK", 100),
		RateLimit:           env.asInt("RATE_LIMIT", 0),
		CORSOrigins:         env.get("CORS_ORIGINS", "*"),
		SentryDSN:           env.get("SENTRY_DSN", ""),
		ListsFile:           env.get("LISTS_FILE", ""),
	}

	if len(env.errs) > 0 {
		return nil, fmt.Errorf("config: %s", strings.Join(env.errs, ", "))
	}
	if err := cfg.Finalize(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Finalize loads the lists and validates the configuration. Call it
// again after changing fields, for example from command line flags.
func (c *Config) Finalize() error {
	if err := validateStruct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.ListsFile == "" {
		c.Lists = lists.Defaults()
		return nil
	}
	l, err := lists.Load(c.ListsFile)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.Lists = l
	return nil
}

// SyntaxOptions converts the configuration for emailverify.
func (c *Config) SyntaxOptions() emailverify.SyntaxOptions {
	return emailverify.SyntaxOptions{Strict: c.SyntaxStrict}
}

// DNSOptions converts the configuration for emailverify. The cache store
// is wired by the caller.
func (c *Config) DNSOptions() emailverify.DNSOptions {
	o := emailverify.DefaultDNSOptions()
	o.Timeout = c.DNS.Timeout
	o.Server = c.DNS.Server
	o.Direct = c.DNS.Direct
	o.CacheTTL = c.DNS.CacheTTL
	if c.DNS.CacheTTL == 0 {
		o.CacheTTL = -1
	}
	o.DenyDomains = c.Lists.DenyDomains
	if o.DenyDomains == nil {
		o.DenyDomains = []string{}
	}
	return o
}

// SMTPOptions converts the configuration for emailverify.
func (c *Config) SMTPOptions() emailverify.SMTPOptions {
	return emailverify.SMTPOptions{
		HeloDomain:     c.SMTP.HeloDomain,
		MailFrom:       c.SMTP.MailFrom,
		Port:           strconv.Itoa(c.SMTP.Port),
		Timeout:        c.SMTP.Timeout,
		ConnectTimeout: c.SMTP.ConnectTimeout,
		CommandTimeout: c.SMTP.CommandTimeout,
		Strict:         c.SMTP.Strict,
		MaxMXHosts:     c.SMTP.MaxMXHosts,
		ProxyURL:       c.SMTP.ProxyURL,
	}
}

// OverrideOptions converts the configuration for emailverify.
func (c *Config) OverrideOptions() emailverify.OverrideOptions {
	return emailverify.OverrideOptions{
		UnreliableDomains: c.Lists.UnreliableDomains,
		PlaceholderLocals: c.Lists.PlaceholderLocals,
	}
}

// validateStruct runs the validator and formats its errors.
func validateStruct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := strings.TrimPrefix(fe.Namespace(), "Config.")
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, field+" is required")
		case "min":
			msgs = append(msgs, field+" must be at least "+fe.Param())
		case "gt":
			msgs = append(msgs, field+" must be greater than "+fe.Param())
		case "max":
			msgs = append(msgs, field+" must be at most "+fe.Param())
		case "oneof":
			msgs = append(msgs, field+" must be one of: "+fe.Param())
		case "file":
			msgs = append(msgs, field+" does not name a readable file")
		default:
			msgs = append(msgs, field+" is invalid")
		}
	}
	return errors.New(strings.Join(msgs, ", "))
}

// envReader reads typed variables and collects parse errors.
type envReader struct {
	errs []string
}

func (e *envReader) get(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return strings.TrimSpace(value)
	}
	return fallback
}

func (e *envReader) asInt(key string, fallback int) int {
	s := e.get(key, "")
	if s == "" {
		return fallback
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s=%q is not an integer", key, s))
		return fallback
	}
	return v
}

func (e *envReader) asBool(key string, fallback bool) bool {
	s := e.get(key, "")
	if s == "" {
		return fallback
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s=%q is not a boolean", key, s))
		return fallback
	}
	return v
}

func (e *envReader) asDuration(key string, fallback time.Duration) time.Duration {
	s := e.get(key, "")
	if s == "" {
		return fallback
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		e.errs = append(e.errs, fmt.Sprintf("%s=%q is not a duration", key, s))
		return fallback
	}
	return v
}
