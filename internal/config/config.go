package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration required by the API process.
// All values come from env (or an env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App     AppConfig
	DB      DBConfig
	Redis   RedisConfig
	Auth    AuthConfig
	Twilio  TwilioConfig
	Routing RoutingConfig
}

type AppConfig struct {
	Env  string
	Port int
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string

	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	// KeyPrefix namespaces routing state keys.
	KeyPrefix string
}

type AuthConfig struct {
	JWTSecret       string
	JWTIssuer       string
	JWTAudience     string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// PublicBaseURL is where Twilio reaches our webhooks, e.g. https://voice.example.com.
	PublicBaseURL string
	// ValidateSignature turns on X-Twilio-Signature checks.
	ValidateSignature bool
	// SIPDomain, when set, rings extensions as sip:<ext>@<domain>.
	SIPDomain string
}

const (
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

type RoutingConfig struct {
	// CatalogBackend is postgres or memory.
	CatalogBackend string
	// StateBackend is redis or memory.
	StateBackend string

	DefaultParkTimeout time.Duration
	DefaultRingTimeout time.Duration
	// MaxHops bounds re-entries (no-answer, busy, overflow) per call.
	MaxHops int

	VoicemailGreeting string
	// AIStreamURL is the media stream endpoint of the conversational agent.
	AIStreamURL string

	LockTTL  time.Duration
	LockWait time.Duration
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	c.App.Port, parseErrs = intEnv(parseErrs, "APP_PORT", 8080)

	c.Routing.CatalogBackend = strings.ToLower(strings.TrimSpace(os.Getenv("CATALOG_BACKEND")))
	c.Routing.StateBackend = strings.ToLower(strings.TrimSpace(os.Getenv("STATE_BACKEND")))
	c.Routing.DefaultParkTimeout, parseErrs = durationEnv(parseErrs, "PARK_TIMEOUT")
	c.Routing.DefaultRingTimeout, parseErrs = durationEnv(parseErrs, "RING_TIMEOUT")
	c.Routing.MaxHops, parseErrs = intEnv(parseErrs, "ROUTING_MAX_HOPS", 0)
	c.Routing.VoicemailGreeting = strings.TrimSpace(os.Getenv("VOICEMAIL_GREETING"))
	c.Routing.AIStreamURL = strings.TrimSpace(os.Getenv("AI_STREAM_URL"))
	c.Routing.LockTTL, parseErrs = durationEnv(parseErrs, "STATE_LOCK_TTL")
	c.Routing.LockWait, parseErrs = durationEnv(parseErrs, "STATE_LOCK_WAIT")

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	c.DB.Port, parseErrs = intEnv(parseErrs, "DB_PORT", 5432)
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	c.Redis.Port, parseErrs = intEnv(parseErrs, "REDIS_PORT", 6379)
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	c.Redis.DB, parseErrs = intEnv(parseErrs, "REDIS_DB", 0)
	c.Redis.KeyPrefix = strings.TrimSpace(os.Getenv("REDIS_KEY_PREFIX"))

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	c.Auth.AccessTokenTTL, parseErrs = durationEnv(parseErrs, "JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL, parseErrs = durationEnv(parseErrs, "JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("TWILIO_PUBLIC_BASE_URL")), "/")
	c.Twilio.ValidateSignature = boolEnv("TWILIO_VALIDATE_SIGNATURE")
	c.Twilio.SIPDomain = strings.TrimSpace(os.Getenv("TWILIO_SIP_DOMAIN"))

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate applies defaults and reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.App.Env == "" {
		errs = append(errs, errors.New("APP_ENV is required"))
	} else if !isValidEnv(c.App.Env) {
		errs = append(errs, fmt.Errorf("APP_ENV must be one of local, dev, staging, production, got %q", c.App.Env))
	}
	if c.App.Port <= 0 || c.App.Port > 65535 {
		errs = append(errs, fmt.Errorf("APP_PORT must be a valid port, got %d", c.App.Port))
	}

	errs = append(errs, c.validateRouting()...)

	if c.Routing.CatalogBackend == BackendPostgres {
		errs = append(errs, c.validateDB()...)
	}
	if c.Routing.StateBackend == BackendRedis {
		if c.Redis.Host == "" {
			errs = append(errs, errors.New("REDIS_HOST is required"))
		}
		if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
			errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
		}
	}

	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.IsProduction() {
		if c.Auth.JWTIssuer == "" {
			errs = append(errs, errors.New("JWT_ISSUER is required in production"))
		}
		if c.Auth.JWTAudience == "" {
			errs = append(errs, errors.New("JWT_AUDIENCE is required in production"))
		}
		if c.Twilio.AuthToken == "" {
			errs = append(errs, errors.New("TWILIO_AUTH_TOKEN is required in production"))
		}
	}
	if c.Twilio.ValidateSignature && c.Twilio.AuthToken == "" {
		errs = append(errs, errors.New("TWILIO_VALIDATE_SIGNATURE needs TWILIO_AUTH_TOKEN"))
	}

	if c.Auth.AccessTokenTTL <= 0 {
		c.Auth.AccessTokenTTL = 15 * time.Minute
	}
	if c.Auth.RefreshTokenTTL <= 0 {
		c.Auth.RefreshTokenTTL = 30 * 24 * time.Hour
	}
	if c.Auth.RefreshTokenTTL <= c.Auth.AccessTokenTTL {
		errs = append(errs, errors.New("JWT_REFRESH_TTL must be greater than JWT_ACCESS_TTL"))
	}

	return joinErrors(errs)
}

func (c *Config) validateRouting() []error {
	var errs []error
	r := &c.Routing

	if r.CatalogBackend == "" {
		r.CatalogBackend = BackendPostgres
	}
	if r.StateBackend == "" {
		r.StateBackend = BackendRedis
	}
	if r.CatalogBackend != BackendPostgres && r.CatalogBackend != BackendMemory {
		errs = append(errs, fmt.Errorf("CATALOG_BACKEND must be postgres or memory, got %q", r.CatalogBackend))
	}
	if r.StateBackend != BackendRedis && r.StateBackend != BackendMemory {
		errs = append(errs, fmt.Errorf("STATE_BACKEND must be redis or memory, got %q", r.StateBackend))
	}
	if c.IsProduction() && (r.CatalogBackend == BackendMemory || r.StateBackend == BackendMemory) {
		errs = append(errs, errors.New("memory backends are not allowed in production"))
	}

	if r.DefaultParkTimeout <= 0 {
		r.DefaultParkTimeout = 180 * time.Second
	}
	if r.DefaultRingTimeout <= 0 {
		r.DefaultRingTimeout = 20 * time.Second
	}
	if r.MaxHops <= 0 {
		r.MaxHops = 5
	}
	if r.VoicemailGreeting == "" {
		r.VoicemailGreeting = "Sorry, nobody is available to take your call. Please leave a message after the tone."
	}
	if r.LockTTL <= 0 {
		r.LockTTL = 5 * time.Second
	}
	if r.LockWait <= 0 {
		r.LockWait = 3 * time.Second
	}
	return errs
}

func (c *Config) validateDB() []error {
	var errs []error
	if c.DB.Host == "" {
		errs = append(errs, errors.New("DB_HOST is required"))
	}
	if c.DB.Port <= 0 || c.DB.Port > 65535 {
		errs = append(errs, fmt.Errorf("DB_PORT must be a valid port, got %d", c.DB.Port))
	}
	if c.DB.User == "" {
		errs = append(errs, errors.New("DB_USER is required"))
	}
	if c.DB.Name == "" {
		errs = append(errs, errors.New("DB_NAME is required"))
	}
	if strings.TrimSpace(c.DB.SSLMode) == "" {
		if c.IsProduction() {
			errs = append(errs, errors.New("DB_SSLMODE is required in production"))
		} else {
			c.DB.SSLMode = "disable"
		}
	}
	if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
		errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
	}
	return errs
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) HTTPAddr() string {
	return fmt.Sprintf(":%d", c.App.Port)
}

func (c Config) PostgresDSN() string {
	// Avoid logging this string; it contains secrets.
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host,
		c.DB.Port,
		c.DB.User,
		c.DB.Password,
		c.DB.Name,
		c.DB.SSLMode,
	)
}

func (c Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

func intEnv(errs []error, key string, def int) (int, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, errs
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def, append(errs, fmt.Errorf("%s must be an integer, got %q", key, v))
	}
	return n, errs
}

// durationEnv returns 0 when key is unset; Validate applies defaults.
func durationEnv(errs []error, key string) (time.Duration, []error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, errs
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, append(errs, fmt.Errorf("%s must be a duration, got %q", key, v))
	}
	return d, errs
}

func boolEnv(key string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return b
}

func isValidEnv(v string) bool {
	switch v {
	case "local", "dev", "staging", "production":
		return true
	default:
		return false
	}
}

func isValidSSLMode(v string) bool {
	switch v {
	case "disable", "require", "verify-ca", "verify-full":
		return true
	default:
		return false
	}
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}
	var b strings.Builder
	b.WriteString("config errors:\n")
	for _, e := range errs {
		b.WriteString("- ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return errors.New(strings.TrimSpace(b.String()))
}
