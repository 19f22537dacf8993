package pubdesk

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joeshaw/envdecode"
	"github.com/rs/zerolog"

	"github.com/eringen/pubdesk/analytics"
	"github.com/eringen/pubdesk/database"
	"github.com/eringen/pubdesk/media"
)

// SiteConfig holds all configuration for a pubdesk site. Every field can be
// set from the environment; LoadConfig reads them.
type SiteConfig struct {
	Name        string `env:"SITE_NAME,default=pubdesk"`
	URL         string `env:"SITE_URL,default=http://localhost:3000"`
	Description string `env:"SITE_DESCRIPTION"`

	Addr     string `env:"ADDR,default=:3000"`
	Env      string `env:"APP_ENV,default=development"`
	LogLevel string `env:"LOG_LEVEL,default=info"`

	DatabaseDriver string `env:"DB_DRIVER,default=sqlite"`
	DatabaseURL    string `env:"DATABASE_URL,default=data/pubdesk.db"`

	SessionSecret string        `env:"SESSION_SECRET"`
	CookieSecure  bool          `env:"COOKIE_SECURE,default=false"`
	TokenTTL      time.Duration `env:"TOKEN_TTL,default=24h"`

	// RequireEditorReview sends editors' own drafts through the pending
	// queue like everyone else's.
	RequireEditorReview bool          `env:"REQUIRE_EDITOR_REVIEW,default=false"`
	PostCacheTTL        time.Duration `env:"POST_CACHE_TTL,default=5m"`

	AnalyticsEnabled     bool          `env:"ANALYTICS_ENABLED,default=true"`
	AnalyticsHonorDNT    bool          `env:"ANALYTICS_HONOR_DNT,default=true"`
	AnalyticsDropBots    bool          `env:"ANALYTICS_DROP_BOTS,default=true"`
	AnalyticsRateLimit   int           `env:"ANALYTICS_RATE_LIMIT,default=60"`
	AnalyticsRateWindow  time.Duration `env:"ANALYTICS_RATE_WINDOW,default=1m"`
	AnalyticsRollupCron  string        `env:"ANALYTICS_ROLLUP_SCHEDULE"`
	RedisURL             string        `env:"REDIS_URL"`
	MetricsEnabled       bool          `env:"METRICS_ENABLED,default=true"`
	LoginAttemptsPerMin  int           `env:"LOGIN_ATTEMPTS_PER_MINUTE,default=5"`
	RequestTimeoutSecond int           `env:"REQUEST_TIMEOUT_SECONDS,default=30"`

	MediaBackend   string `env:"MEDIA_BACKEND,default=disk"`
	MediaDir       string `env:"MEDIA_DIR,default=public/uploads"`
	MediaBaseURL   string `env:"MEDIA_BASE_URL,default=/public/uploads"`
	MinIOEndpoint  string `env:"MINIO_ENDPOINT"`
	MinIOAccessKey string `env:"MINIO_ACCESS_KEY"`
	MinIOSecretKey string `env:"MINIO_SECRET_KEY"`
	MinIOBucket    string `env:"MINIO_BUCKET,default=pubdesk-media"`
	MinIOUseSSL    bool   `env:"MINIO_USE_SSL,default=false"`
	MinIOPublicURL string `env:"MINIO_PUBLIC_URL"`
}

// Media backends.
const (
	MediaDisk  = "disk"
	MediaMinIO = "minio"
)

// LoadConfig reads a SiteConfig from the environment.
func LoadConfig() (SiteConfig, error) {
	var cfg SiteConfig
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return cfg, fmt.Errorf("pubdesk: read config: %w", err)
	}
	cfg.setDefaults()
	return cfg, nil
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "pubdesk"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.Env == "" {
		c.Env = "development"
	}
	if c.DatabaseDriver == "" {
		c.DatabaseDriver = database.DriverSQLite
	}
	if c.DatabaseURL == "" && c.DatabaseDriver == database.DriverSQLite {
		c.DatabaseURL = "data/pubdesk.db"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 24 * time.Hour
	}
	if c.PostCacheTTL == 0 {
		c.PostCacheTTL = 5 * time.Minute
	}
	if c.AnalyticsRateLimit == 0 {
		c.AnalyticsRateLimit = 60
	}
	if c.AnalyticsRateWindow == 0 {
		c.AnalyticsRateWindow = time.Minute
	}
	if c.AnalyticsRollupCron == "" {
		c.AnalyticsRollupCron = analytics.DefaultRollupSchedule
	}
	if c.LoginAttemptsPerMin == 0 {
		c.LoginAttemptsPerMin = 5
	}
	if c.RequestTimeoutSecond == 0 {
		c.RequestTimeoutSecond = 30
	}
	if c.MediaBackend == "" {
		c.MediaBackend = MediaDisk
	}
	if c.MediaDir == "" {
		c.MediaDir = "public/uploads"
	}
	if c.MediaBaseURL == "" {
		c.MediaBaseURL = "/public/uploads"
	}
	if c.MinIOBucket == "" {
		c.MinIOBucket = "pubdesk-media"
	}
}

// Validate reports settings the app cannot start with.
func (c SiteConfig) Validate() error {
	var errs []error
	if c.SessionSecret == "" {
		errs = append(errs, errors.New("SESSION_SECRET is required"))
	} else if len(c.SessionSecret) < 16 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 16 characters"))
	}
	switch c.DatabaseDriver {
	case database.DriverSQLite, database.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unknown DB_DRIVER %q", c.DatabaseDriver))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	switch c.MediaBackend {
	case MediaDisk:
	case MediaMinIO:
		if c.MinIOEndpoint == "" || c.MinIOAccessKey == "" || c.MinIOSecretKey == "" {
			errs = append(errs, errors.New("MINIO_ENDPOINT, MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required for the minio media backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown MEDIA_BACKEND %q", c.MediaBackend))
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); c.LogLevel != "" && err != nil {
		errs = append(errs, fmt.Errorf("unknown LOG_LEVEL %q", c.LogLevel))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("pubdesk: invalid config: %w", err)
	}
	return nil
}

// Development reports whether the app runs with developer conveniences
// such as the console log writer.
func (c SiteConfig) Development() bool { return c.Env == "development" }

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback runs after the built-in routes are registered.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithStaticDir sets the directory for user-owned static assets (default "public").
func WithStaticDir(dir string) Option {
	return func(a *App) {
		a.staticDir = dir
	}
}

// WithLogger replaces the logger built from the config.
func WithLogger(log zerolog.Logger) Option {
	return func(a *App) {
		a.Log = log
		a.customLogger = true
	}
}

// WithDB uses an already open database instead of opening one from the
// config. The caller keeps ownership and closes it.
func WithDB(db *sqlx.DB) Option {
	return func(a *App) {
		a.DB = db
	}
}

// WithMediaStorage replaces the media backend selected by the config.
func WithMediaStorage(s media.Storage) Option {
	return func(a *App) {
		a.media = s
	}
}

// WithAnalyticsLimiter replaces the ingestion rate limiter.
func WithAnalyticsLimiter(l analytics.Limiter) Option {
	return func(a *App) {
		a.limiter = l
	}
}

// WithViews replaces the page components passed to New.
func WithViews(v ViewFuncs) Option {
	return func(a *App) {
		a.Views = v
	}
}

// EnvVar describes one SiteConfig environment variable.
type EnvVar struct {
	Name    string
	Default string
}

// EnvVars lists the variables SiteConfig reads, in field order.
func EnvVars() []EnvVar {
	t := reflect.TypeFor[SiteConfig]()
	vars := make([]EnvVar, 0, t.NumField())
	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get("env")
		if tag == "" {
			continue
		}
		name, opts, _ := strings.Cut(tag, ",")
		v := EnvVar{Name: name}
		for _, o := range strings.Split(opts, ",") {
			if d, ok := strings.CutPrefix(o, "default="); ok {
				v.Default = d
			}
		}
		vars = append(vars, v)
	}
	return vars
}
