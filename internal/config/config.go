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
// All values must come from env (or env-file loaded by the process runner).
// No business logic should depend on raw environment variables.
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	Auth      AuthConfig
	Twilio    TwilioConfig
	Dispatch  DispatchConfig
	Routing   RoutingConfig
	Telemetry TelemetryConfig
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

	// SSLMode is kept explicit for AWS-ready posture.
	// Accepts: disable, require, verify-ca, verify-full
	SSLMode string

	// MaxConns sizes the pool shared by the call and audit stores.
	MaxConns int
	// LockerMaxConns sizes the agent locker's own pool. Each dispatch holds
	// one of these connections for its whole assignment attempt.
	LockerMaxConns int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
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

	// PublicBaseURL is the externally reachable origin Twilio calls back on.
	// It is also the URL prefix used when validating webhook signatures.
	PublicBaseURL string

	// APIBase overrides the REST origin; empty means api.twilio.com.
	APIBase string
}

type DispatchConfig struct {
	QueueKey string

	// MaxRedirectRetries caps NotInProgress retries per dequeue; 0 means unbounded.
	MaxRedirectRetries int

	// PopURLTemplate is rendered with {number}; empty disables pop URLs.
	PopURLTemplate string

	// LocalAgents seeds the in-memory agent store when no database is
	// configured. Format: "csr-1=+15550001111,csr-2=+15550002222".
	LocalAgents []LocalAgent
}

type LocalAgent struct {
	CSRID       string
	PhoneNumber string
}

type RoutingConfig struct {
	PolicyFile      string
	GreetingMessage string
	ClosedMessage   string
	HoldMusicURL    string
}

type TelemetryConfig struct {
	OTLPEndpoint string
	OTLPInsecure bool
}

func Load() (Config, error) {
	c := Config{}
	var parseErrs []error

	c.App.Env = strings.TrimSpace(os.Getenv("APP_ENV"))
	{
		n, err := mustInt("APP_PORT")
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.App.Port = n
	}

	c.DB.Host = strings.TrimSpace(os.Getenv("DB_HOST"))
	{
		n, err := optionalInt("DB_PORT", 5432)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.Port = n
	}
	c.DB.User = strings.TrimSpace(os.Getenv("DB_USER"))
	c.DB.Password = os.Getenv("DB_PASSWORD")
	c.DB.Name = strings.TrimSpace(os.Getenv("DB_NAME"))
	c.DB.SSLMode = strings.TrimSpace(os.Getenv("DB_SSLMODE"))
	{
		n, err := optionalInt("DB_MAX_CONNS", 25)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.MaxConns = n
	}
	{
		n, err := optionalInt("DB_LOCKER_MAX_CONNS", 10)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.DB.LockerMaxConns = n
	}

	c.Redis.Host = strings.TrimSpace(os.Getenv("REDIS_HOST"))
	{
		n, err := optionalInt("REDIS_PORT", 6379)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.Port = n
	}
	c.Redis.Password = os.Getenv("REDIS_PASSWORD")
	{
		n, err := optionalInt("REDIS_DB", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Redis.DB = n
	}

	c.Auth.JWTSecret = os.Getenv("JWT_SECRET")
	c.Auth.JWTIssuer = strings.TrimSpace(os.Getenv("JWT_ISSUER"))
	c.Auth.JWTAudience = strings.TrimSpace(os.Getenv("JWT_AUDIENCE"))
	// Duration env vars are optional; defaults applied in Validate() based on env.
	c.Auth.AccessTokenTTL = mustDuration("JWT_ACCESS_TTL")
	c.Auth.RefreshTokenTTL = mustDuration("JWT_REFRESH_TTL")

	c.Twilio.AccountSID = strings.TrimSpace(os.Getenv("TWILIO_ACCOUNT_SID"))
	c.Twilio.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	c.Twilio.PublicBaseURL = strings.TrimRight(strings.TrimSpace(os.Getenv("PUBLIC_BASE_URL")), "/")
	c.Twilio.APIBase = strings.TrimSpace(os.Getenv("TWILIO_API_BASE"))

	c.Dispatch.QueueKey = strings.TrimSpace(os.Getenv("QUEUE_KEY"))
	{
		n, err := optionalInt("DISPATCH_MAX_REDIRECT_RETRIES", 0)
		n, parseErrs = appendParseErr(parseErrs, n, err)
		c.Dispatch.MaxRedirectRetries = n
	}
	c.Dispatch.PopURLTemplate = strings.TrimSpace(os.Getenv("POP_URL_TEMPLATE"))
	{
		agents, err := parseLocalAgents(os.Getenv("LOCAL_AGENTS"))
		if err != nil {
			parseErrs = append(parseErrs, err)
		}
		c.Dispatch.LocalAgents = agents
	}

	c.Routing.PolicyFile = strings.TrimSpace(os.Getenv("ROUTING_POLICY_FILE"))
	c.Routing.GreetingMessage = strings.TrimSpace(os.Getenv("GREETING_MESSAGE"))
	c.Routing.ClosedMessage = strings.TrimSpace(os.Getenv("CLOSED_MESSAGE"))
	c.Routing.HoldMusicURL = strings.TrimSpace(os.Getenv("HOLD_MUSIC_URL"))

	c.Telemetry.OTLPEndpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	c.Telemetry.OTLPInsecure = strings.EqualFold(strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")), "true")

	if err := joinErrors(parseErrs); err != nil {
		return Config{}, err
	}
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Validate reports every problem at once and fills in defaults.
// DB_HOST and REDIS_HOST may be omitted in local env, where the process
// falls back to in-memory stores.
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

	if c.DB.Host == "" {
		if !c.IsLocal() {
			errs = append(errs, errors.New("DB_HOST is required outside local env"))
		}
	} else {
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
				// Local-friendly default; production must be explicit.
				c.DB.SSLMode = "disable"
			}
		}
		if c.DB.SSLMode != "" && !isValidSSLMode(c.DB.SSLMode) {
			errs = append(errs, fmt.Errorf("DB_SSLMODE must be one of disable, require, verify-ca, verify-full, got %q", c.DB.SSLMode))
		}
		if c.DB.MaxConns == 0 {
			c.DB.MaxConns = 25
		}
		if c.DB.LockerMaxConns == 0 {
			c.DB.LockerMaxConns = 10
		}
		if c.DB.MaxConns < 0 {
			errs = append(errs, fmt.Errorf("DB_MAX_CONNS must be > 0, got %d", c.DB.MaxConns))
		}
		if c.DB.LockerMaxConns < 0 {
			errs = append(errs, fmt.Errorf("DB_LOCKER_MAX_CONNS must be > 0, got %d", c.DB.LockerMaxConns))
		}
	}

	if c.Redis.Host == "" {
		if !c.IsLocal() {
			errs = append(errs, errors.New("REDIS_HOST is required outside local env"))
		}
	} else if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		errs = append(errs, fmt.Errorf("REDIS_PORT must be a valid port, got %d", c.Redis.Port))
	}
	if c.Redis.DB < 0 {
		errs = append(errs, fmt.Errorf("REDIS_DB must be >= 0, got %d", c.Redis.DB))
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

	if (c.Twilio.AccountSID == "") != (c.Twilio.AuthToken == "") {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID and TWILIO_AUTH_TOKEN must be set together"))
	}
	if c.Twilio.AccountSID == "" && !c.IsLocal() {
		errs = append(errs, errors.New("TWILIO_ACCOUNT_SID is required outside local env"))
	}
	if c.Twilio.PublicBaseURL == "" {
		if c.IsLocal() {
			c.Twilio.PublicBaseURL = fmt.Sprintf("http://localhost:%d", c.App.Port)
		} else {
			errs = append(errs, errors.New("PUBLIC_BASE_URL is required outside local env"))
		}
	} else if !strings.HasPrefix(c.Twilio.PublicBaseURL, "http://") && !strings.HasPrefix(c.Twilio.PublicBaseURL, "https://") {
		errs = append(errs, fmt.Errorf("PUBLIC_BASE_URL must be an http(s) URL, got %q", c.Twilio.PublicBaseURL))
	}

	if c.Dispatch.MaxRedirectRetries < 0 {
		errs = append(errs, fmt.Errorf("DISPATCH_MAX_REDIRECT_RETRIES must be >= 0, got %d", c.Dispatch.MaxRedirectRetries))
	}
	if c.Dispatch.PopURLTemplate != "" && !strings.Contains(c.Dispatch.PopURLTemplate, "{number}") {
		errs = append(errs, errors.New("POP_URL_TEMPLATE must contain {number}"))
	}

	if c.Routing.GreetingMessage == "" {
		c.Routing.GreetingMessage = "Thank you for calling. Please hold for the next available representative."
	}
	if c.Routing.ClosedMessage == "" {
		c.Routing.ClosedMessage = "Our office is currently closed. Please call back during business hours."
	}

	return joinErrors(errs)
}

func (c Config) IsProduction() bool {
	return c.App.Env == "production"
}

func (c Config) IsLocal() bool {
	return c.App.Env == "local"
}

// UsePostgres reports whether durable stores are configured.
func (c Config) UsePostgres() bool {
	return c.DB.Host != ""
}

// UseRedis reports whether the waiting queue lives in Redis.
func (c Config) UseRedis() bool {
	return c.Redis.Host != ""
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

func mustInt(key string) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func optionalInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func parseLocalAgents(v string) ([]LocalAgent, error) {
	var out []LocalAgent
	for _, item := range strings.Split(v, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		id, phone, ok := strings.Cut(item, "=")
		id, phone = strings.TrimSpace(id), strings.TrimSpace(phone)
		if !ok || id == "" || phone == "" {
			return nil, fmt.Errorf("LOCAL_AGENTS entry must be csr_id=phone, got %q", item)
		}
		out = append(out, LocalAgent{CSRID: id, PhoneNumber: phone})
	}
	return out, nil
}

func mustDuration(key string) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return 0
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0
	}
	return d
}

func appendParseErr(errs []error, n int, err error) (int, []error) {
	if err != nil {
		errs = append(errs, err)
	}
	return n, errs
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
