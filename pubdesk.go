// Package pubdesk is a multi-author publishing platform built with Go,
// Echo and templ. Approved contributors draft posts, editors review and
// publish them, and anonymous reader engagement is recorded for the
// editorial dashboard.
//
// Sites can replace any page through the ViewFuncs struct; pubdesk owns the
// handlers, middleware, workflows and storage.
package pubdesk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/a-h/templ"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/eringen/pubdesk/analytics"
	"github.com/eringen/pubdesk/auth"
	"github.com/eringen/pubdesk/content"
	"github.com/eringen/pubdesk/database"
	"github.com/eringen/pubdesk/media"
	"github.com/eringen/pubdesk/moderation"
	"github.com/eringen/pubdesk/views"
)

// ViewFuncs holds the page components the handlers render. DefaultViews
// returns the built-in set; replace individual fields to restyle a page.
type ViewFuncs struct {
	Home              func(views.HomePage) templ.Component
	Post              func(views.PostPage) templ.Component
	Category          func(views.CategoryPage) templ.Component
	Author            func(views.AuthorPage) templ.Component
	Apply             func(views.ApplyPage) templ.Component
	Login             func(views.LoginPage) templ.Component
	Dashboard         func(views.DashboardPage) templ.Component
	Write             func(views.WritePage) templ.Component
	Profile           func(views.ProfilePage) templ.Component
	AdminHome         func(views.AdminHomePage) templ.Component
	AdminPosts        func(views.AdminPostsPage) templ.Component
	AdminApplications func(views.AdminApplicationsPage) templ.Component
	AdminAuthors      func(views.AdminAuthorsPage) templ.Component
	AdminAnalytics    func(views.AdminAnalyticsPage) templ.Component
	AdminAudit        func(views.AdminAuditPage) templ.Component
	Error             func(views.ErrorPage) templ.Component
}

// DefaultViews returns the pages shipped in the views package.
func DefaultViews() ViewFuncs {
	return ViewFuncs{
		Home:              views.Home,
		Post:              views.Post,
		Category:          views.Category,
		Author:            views.Author,
		Apply:             views.Apply,
		Login:             views.Login,
		Dashboard:         views.Dashboard,
		Write:             views.Write,
		Profile:           views.Profile,
		AdminHome:         views.AdminHome,
		AdminPosts:        views.AdminPosts,
		AdminApplications: views.AdminApplications,
		AdminAuthors:      views.AdminAuthors,
		AdminAnalytics:    views.AdminAnalytics,
		AdminAudit:        views.AdminAudit,
		Error:             views.Error,
	}
}

// withDefaults fills unset fields from DefaultViews.
func (v ViewFuncs) withDefaults() ViewFuncs {
	d := DefaultViews()
	if v.Home == nil {
		v.Home = d.Home
	}
	if v.Post == nil {
		v.Post = d.Post
	}
	if v.Category == nil {
		v.Category = d.Category
	}
	if v.Author == nil {
		v.Author = d.Author
	}
	if v.Apply == nil {
		v.Apply = d.Apply
	}
	if v.Login == nil {
		v.Login = d.Login
	}
	if v.Dashboard == nil {
		v.Dashboard = d.Dashboard
	}
	if v.Write == nil {
		v.Write = d.Write
	}
	if v.Profile == nil {
		v.Profile = d.Profile
	}
	if v.AdminHome == nil {
		v.AdminHome = d.AdminHome
	}
	if v.AdminPosts == nil {
		v.AdminPosts = d.AdminPosts
	}
	if v.AdminApplications == nil {
		v.AdminApplications = d.AdminApplications
	}
	if v.AdminAuthors == nil {
		v.AdminAuthors = d.AdminAuthors
	}
	if v.AdminAnalytics == nil {
		v.AdminAnalytics = d.AdminAnalytics
	}
	if v.AdminAudit == nil {
		v.AdminAudit = d.AdminAudit
	}
	if v.Error == nil {
		v.Error = d.Error
	}
	return v
}

// App is the central pubdesk application. It wires together storage, the
// editorial workflows, analytics, handlers, middleware and templates.
type App struct {
	Config SiteConfig
	Echo   *echo.Echo
	Log    zerolog.Logger
	Views  ViewFuncs

	DB           *sqlx.DB
	Content      *content.Store
	Cache        *PostCache
	Auth         *auth.Service
	Tokens       *auth.TokenManager
	Posts        *moderation.Posts
	Applications *moderation.Applications
	Authors      *moderation.Authors
	Analytics    *analytics.Store

	analyticsHandler *analytics.Handler
	hub              *analytics.Hub
	scheduler        *analytics.Scheduler
	limiter          analytics.Limiter
	metrics          *analytics.Metrics
	registry         *prometheus.Registry
	redis            *redis.Client
	media            media.Storage
	loginLimiter     *LoginLimiter

	customRoutes []func(*App)
	staticDir    string
	customLogger bool
	ownsDB       bool
	ready        bool
	stop         context.CancelFunc
}

// New creates an App with the given configuration and views. Nothing is
// opened until Setup or Start.
func New(cfg SiteConfig, v ViewFuncs, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config:    cfg,
		Echo:      echo.New(),
		Views:     v,
		staticDir: "public",
	}
	a.Echo.HideBanner = true
	a.Echo.HidePort = true

	for _, opt := range opts {
		opt(a)
	}
	a.Views = a.Views.withDefaults()
	if !a.customLogger {
		a.Log = NewLogger(a.Config)
	}
	return a
}

// Setup validates the config, opens and migrates the database and wires
// services, middleware and routes. Start calls it when needed; tests call
// it directly and drive a.Echo with httptest.
func (a *App) Setup(ctx context.Context) error {
	if a.ready {
		return nil
	}
	if err := a.Config.Validate(); err != nil {
		return err
	}

	if a.DB == nil {
		db, err := database.Open(ctx, database.Config{
			Driver: a.Config.DatabaseDriver,
			DSN:    a.Config.DatabaseURL,
		})
		if err != nil {
			return fmt.Errorf("pubdesk: open database: %w", err)
		}
		a.DB = db
		a.ownsDB = true
	}
	if err := database.Migrate(a.DB); err != nil {
		return fmt.Errorf("pubdesk: migrate: %w", err)
	}

	a.Content = content.NewStore(a.DB)
	a.Cache = NewPostCache(a.Content, a.Config.PostCacheTTL)
	a.Auth = auth.NewService(a.Content)
	a.Tokens = auth.NewTokenManager(a.Config.SessionSecret, a.Config.TokenTTL)
	policy := moderation.DefaultPolicy()
	policy.EditorsSelfPublish = !a.Config.RequireEditorReview
	a.Posts = moderation.NewPosts(a.Content, policy)
	a.Applications = moderation.NewApplications(a.Content)
	a.Authors = moderation.NewAuthors(a.Content)
	a.loginLimiter = NewLoginLimiter(a.Config.LoginAttemptsPerMin, time.Minute)

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := a.setupMedia(ctx); err != nil {
		return err
	}
	if err := a.setupAnalytics(); err != nil {
		return err
	}

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	a.ready = true
	return nil
}

func (a *App) setupMedia(ctx context.Context) error {
	if a.media != nil {
		return nil
	}
	switch a.Config.MediaBackend {
	case MediaMinIO:
		s, err := media.NewMinIOStorage(ctx, media.MinIOConfig{
			Endpoint:  a.Config.MinIOEndpoint,
			AccessKey: a.Config.MinIOAccessKey,
			SecretKey: a.Config.MinIOSecretKey,
			Bucket:    a.Config.MinIOBucket,
			UseSSL:    a.Config.MinIOUseSSL,
			PublicURL: a.Config.MinIOPublicURL,
		})
		if err != nil {
			return fmt.Errorf("pubdesk: media storage: %w", err)
		}
		a.media = s
	default:
		a.media = media.NewDiskStorage(a.Config.MediaDir, a.Config.MediaBaseURL)
	}
	return nil
}

func (a *App) setupAnalytics() error {
	a.Analytics = analytics.NewStore(a.DB)
	if a.Config.MetricsEnabled {
		a.metrics = analytics.NewMetrics(a.registry)
	}
	a.hub = analytics.NewHub()

	if a.limiter == nil {
		if a.Config.RedisURL != "" {
			opts, err := redis.ParseURL(a.Config.RedisURL)
			if err != nil {
				return fmt.Errorf("pubdesk: redis url: %w", err)
			}
			a.redis = redis.NewClient(opts)
			a.limiter = analytics.NewRedisLimiter(a.redis, a.Config.AnalyticsRateLimit, a.Config.AnalyticsRateWindow)
		} else {
			a.limiter = analytics.NewMemoryLimiter(a.Config.AnalyticsRateLimit, a.Config.AnalyticsRateWindow)
		}
	}

	a.analyticsHandler = analytics.NewHandler(analytics.HandlerConfig{
		Store:    a.Analytics,
		Limiter:  a.limiter,
		Metrics:  a.metrics,
		Hub:      a.hub,
		HonorDNT: a.Config.AnalyticsHonorDNT,
		DropBots: a.Config.AnalyticsDropBots,
	})

	scheduler, err := analytics.NewScheduler(a.Analytics, a.Config.AnalyticsRollupCron, a.Log)
	if err != nil {
		return fmt.Errorf("pubdesk: rollup schedule: %w", err)
	}
	a.scheduler = scheduler
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo

	// Embedded client scripts are served under /public/ and fall through
	// to the site's static dir.
	embeddedFS, _ := fs.Sub(EmbeddedAssets, "embedded")
	embeddedHandler := http.FileServer(http.FS(embeddedFS))
	e.GET("/public/analytics.js", echo.WrapHandler(http.StripPrefix("/public/", embeddedHandler)))
	e.GET("/public/admin-live.js", echo.WrapHandler(http.StripPrefix("/public/", embeddedHandler)))

	e.Static("/public", a.staticDir)
	e.GET("/robots.txt", a.handleRobots)
	e.GET("/healthz", a.handleHealth)
	if a.Config.MetricsEnabled {
		e.GET("/metrics", echoprometheus.NewHandlerWithConfig(echoprometheus.HandlerConfig{Gatherer: a.registry}))
	}

	// Public pages
	e.GET("/sitemap.xml", a.handleSitemap)
	e.GET("/feed.xml", a.handleFeed)
	e.GET("/", a.handleHome)
	e.GET("/post/:slug/", a.handlePost)
	e.GET("/category/:slug/", a.handleCategory)
	e.GET("/author/:id/", a.handleAuthor)
	e.GET("/apply/", a.handleApplyForm)
	e.POST("/apply/", a.handleApply)
	e.GET("/login/", a.handleLoginForm)
	e.POST("/login/", a.handleLogin)
	e.GET("/signup/", a.handleSignupForm)
	e.POST("/signup/", a.handleSignup)
	e.POST("/logout/", a.handleLogout)

	// Contributor dashboard
	dash := e.Group("/dashboard", signedIn)
	dash.GET("/", a.handleDashboard)
	dash.GET("/profile/", a.handleProfileForm)
	dash.POST("/profile/", a.handleProfileSave)
	dash.GET("/write/", a.handleWrite, require(auth.Contributor))
	dash.POST("/posts/", a.handleDraftSave, require(auth.Contributor))
	dash.POST("/posts/:id/submit/", a.handleDraftSubmit, require(auth.Contributor))
	dash.POST("/media/", a.handleMediaUpload, require(auth.Contributor))

	// Editorial admin
	admin := e.Group("/admin", require(auth.Editor))
	admin.GET("/", a.handleAdmin)
	admin.GET("/posts/", a.handleAdminPosts)
	admin.POST("/posts/:id/publish/", a.handleAdminPublish)
	admin.POST("/posts/:id/reject/", a.handleAdminReject)
	admin.POST("/posts/:id/feature/", a.handleAdminFeature(true), require(auth.Admin))
	admin.POST("/posts/:id/unfeature/", a.handleAdminFeature(false), require(auth.Admin))
	admin.POST("/posts/:id/delete/", a.handleAdminDelete, require(auth.Admin))
	admin.GET("/applications/", a.handleAdminApplications)
	admin.POST("/applications/:id/approve/", a.handleAdminApprove)
	admin.POST("/applications/:id/reject/", a.handleAdminRejectApplication)
	admin.GET("/authors/", a.handleAdminAuthors, require(auth.Admin))
	admin.POST("/authors/:id/approve/", a.handleAdminAuthorAccess(true), require(auth.Admin))
	admin.POST("/authors/:id/revoke/", a.handleAdminAuthorAccess(false), require(auth.Admin))
	admin.POST("/authors/:id/role/", a.handleAdminAuthorRole, require(auth.Admin))
	admin.GET("/audit/", a.handleAdminAudit, require(auth.Admin))
	admin.GET("/analytics/", a.handleAdminAnalytics)
	admin.GET("/analytics/stats", a.analyticsHandler.Stats)
	admin.GET("/analytics/export.xlsx", a.analyticsHandler.Export)
	admin.GET("/analytics/live", a.analyticsHandler.Live)

	a.setupAPIRoutes()
}

// Start sets the app up if needed, starts the background jobs and serves
// HTTP until Shutdown is called.
func (a *App) Start() error {
	if err := a.Setup(context.Background()); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	a.stop = cancel
	if a.Config.AnalyticsEnabled {
		a.scheduler.Start()
	}
	if m, ok := a.limiter.(*analytics.MemoryLimiter); ok {
		m.StartSweeper(ctx)
	}
	a.loginLimiter.StartSweeper(ctx)

	a.Log.Info().Str("addr", a.Config.Addr).Str("url", a.Config.URL).Msg("pubdesk listening")
	if err := a.Echo.Start(a.Config.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the HTTP server and background jobs and releases
// resources the app opened.
func (a *App) Shutdown(ctx context.Context) error {
	err := a.Echo.Shutdown(ctx)
	if a.stop != nil {
		a.stop()
	}
	if a.scheduler != nil {
		a.scheduler.Stop(ctx)
	}
	return errors.Join(err, a.Close())
}

// Close releases the database and Redis connections the app opened.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
		a.redis = nil
	}
	if a.ownsDB && a.DB != nil {
		errs = append(errs, a.DB.Close())
		a.DB = nil
	}
	return errors.Join(errs...)
}
