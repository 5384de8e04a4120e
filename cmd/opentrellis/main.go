package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/zulfikarrosadi/opentrellis/internal/admin"
	apperror "github.com/zulfikarrosadi/opentrellis/internal/app-error"
	"github.com/zulfikarrosadi/opentrellis/internal/auth"
	"github.com/zulfikarrosadi/opentrellis/internal/billing"
	"github.com/zulfikarrosadi/opentrellis/internal/cache"
	"github.com/zulfikarrosadi/opentrellis/internal/comment"
	"github.com/zulfikarrosadi/opentrellis/internal/community"
	"github.com/zulfikarrosadi/opentrellis/internal/config"
	"github.com/zulfikarrosadi/opentrellis/internal/database"
	"github.com/zulfikarrosadi/opentrellis/internal/health"
	imagehelper "github.com/zulfikarrosadi/opentrellis/internal/image-helper"
	"github.com/zulfikarrosadi/opentrellis/internal/jobs"
	"github.com/zulfikarrosadi/opentrellis/internal/mentor"
	"github.com/zulfikarrosadi/opentrellis/internal/message"
	"github.com/zulfikarrosadi/opentrellis/internal/metrics"
	ratelimit "github.com/zulfikarrosadi/opentrellis/internal/middleware"
	"github.com/zulfikarrosadi/opentrellis/internal/poll"
	"github.com/zulfikarrosadi/opentrellis/internal/post"
	"github.com/zulfikarrosadi/opentrellis/internal/subscription"
	"github.com/zulfikarrosadi/opentrellis/internal/user"
)

const (
	LIMITER_SWEEP_SCHEDULE = "@every 5m"
	LIMITER_MAX_IDLE       = 10 * time.Minute
	CACHE_SWEEP_SCHEDULE   = "@every 1m"
	SHUTDOWN_TIMEOUT       = 10 * time.Second
	CACHE_PREFIX           = "opentrellis:"
)

var publicPaths = auth.PublicPaths{
	Open: []string{
		"/api/v1/signup",
		"/api/v1/signin",
		"/api/v1/refresh",
		"/api/v1/webhooks/stripe",
		"/api/v1/health/auth",
		"/api/v1/healthz",
		"/metrics",
	},
	Optional: []string{
		"/api/v1/communities",
		"/api/v1/communities/:name",
		"/api/v1/posts",
		"/api/v1/posts/:postId",
		"/api/v1/posts/:postId/comments",
		"/api/v1/polls/:pollId/results",
		"/api/v1/leaderboard",
		"/api/v1/mentors",
		"/api/v1/mentors/:userId",
		"/api/v1/users/:userId",
	},
}

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
	if err := run(logger); err != nil {
		logger.Error("SERVER_EXIT", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	if err := config.LoadEnv("config/.env"); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.OpenDBConnection(ctx, logger, cfg.DBConnectionString)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(logger, cfg.DBConnectionString); err != nil {
		return err
	}

	m := metrics.New()
	scheduler := jobs.New(logger, m)
	var store cache.Cache
	if cfg.RedisAddr != "" {
		client := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer client.Close()
		redisCache := cache.NewRedis(client, CACHE_PREFIX)
		if err := redisCache.Ping(ctx); err != nil {
			return err
		}
		store = redisCache
	} else {
		logger.Warn("CACHE_IN_MEMORY", slog.String("reason", "REDIS_ADDR not set"))
		memory := cache.NewMemory()
		store = memory
		err := scheduler.Add(jobs.Job{
			Name: "cache_sweep",
			Spec: CACHE_SWEEP_SCHEDULE,
			Run: func(context.Context) error {
				memory.Sweep()
				return nil
			},
		})
		if err != nil {
			return err
		}
	}

	var uploader imagehelper.Uploader = imagehelper.Disabled{}
	if cfg.CloudinaryCloudName != "" {
		cld, err := imagehelper.NewCloudinary(cfg.CloudinaryCloudName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret)
		if err != nil {
			return err
		}
		uploader = cld
	}

	var gateway billing.Gateway = billing.Disabled{}
	if cfg.StripeSecretKey != "" {
		gateway = billing.NewStripe(cfg.StripeSecretKey, cfg.StripeWebhookSecret)
	} else {
		logger.Warn("BILLING_DISABLED", slog.String("reason", "STRIPE_SECRET_KEY not set"))
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.RequestID())
	e.Use(requestLogger(logger))
	e.Use(middleware.Secure())
	e.Use(middleware.Recover())
	e.Use(m.Middleware())
	e.Use(echojwt.WithConfig(auth.JWTConfig([]byte(cfg.JWTSecret), publicPaths)))
	e.HTTPErrorHandler = errorHandler(logger)

	v := apperror.NewValidator()
	limiter := ratelimit.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
	limited := limiter.Middleware()
	adminOnly := auth.RequireRole(user.ROLE_ADMIN)
	moderators := auth.RequireRole(user.ROLE_ADMIN, user.ROLE_MODERATOR)

	authApi := auth.NewApiHandler(
		logger,
		auth.NewUserService(auth.NewUserRepository(logger, db), v, auth.Options{
			JWTSecret:          []byte(cfg.JWTSecret),
			DefaultCommunity:   cfg.DefaultCommunity,
			MentorApplications: cfg.MentorApplicationAttempts,
		}),
		cfg.IsProduction(),
	)
	userApi := user.NewApi(user.NewService(user.NewRepository(db), v), logger)
	communityApi := community.NewApi(
		community.NewService(community.NewRepository(db), v, uploader, store, logger, cfg.DefaultCommunity),
		logger,
	)
	pollRepository := poll.NewRepository(db)
	pollApi := poll.NewApi(poll.NewService(pollRepository, v, m), logger)
	postApi := post.NewApi(
		post.NewService(post.NewRepository(db), pollRepository, v, store, logger, m, cfg.GeneralForum),
		logger,
	)
	commentApi := comment.NewApi(comment.NewService(comment.NewRepository(db), v, m), logger)
	messageApi := message.NewApi(message.NewService(message.NewRepository(db), v, m), logger)
	mentorApi := mentor.NewApi(mentor.NewService(mentor.NewRepository(db), v, m), logger)
	adminApi := admin.NewApi(admin.NewService(admin.NewRepository(db), gateway, v, logger, m), logger)
	subscriptionService := subscription.NewService(
		subscription.NewRepository(db),
		gateway,
		subscription.Options{PriceId: cfg.StripeMonthlyPriceId, BaseURL: cfg.BaseURL},
		logger,
		m,
	)
	subscriptionApi := subscription.NewApi(subscriptionService, logger)
	healthApi := health.NewApi(db, cfg.AuthChecks, logger)

	e.GET("/metrics", echo.WrapHandler(m.Handler()))

	r := e.Group("/api/v1")
	r.POST("/signup", authApi.Register)
	r.POST("/signin", authApi.Login)
	r.GET("/refresh", authApi.RefreshToken)
	r.DELETE("/refresh", authApi.Signout)

	r.GET("/users/:userId", userApi.GetPublic)
	r.PATCH("/me", userApi.UpdateAccount)
	r.GET("/me/mentor-attempts", userApi.MentorAttempts)
	r.GET("/me/mentor-status", userApi.MentorStatus)

	r.GET("/communities", communityApi.Search)
	r.POST("/communities", communityApi.Create)
	r.GET("/communities/:name", communityApi.Get)
	r.PUT("/communities/:communityId/privacy", communityApi.SetPrivacy)
	r.PUT("/communities/:communityId/icon", communityApi.UploadIcon)
	r.POST("/communities/:communityId/subscription", communityApi.Subscribe)
	r.DELETE("/communities/:communityId/subscription", communityApi.Unsubscribe)
	r.POST("/communities/default/subscription", communityApi.EnsureDefaultSubscription)

	r.GET("/posts", postApi.Feed)
	r.POST("/posts", postApi.Create, limited)
	r.GET("/posts/:postId", postApi.Get)
	r.PUT("/posts/:postId/votes", postApi.Vote)
	r.PUT("/posts/:postId/solution", postApi.Solve)
	r.DELETE("/posts/:postId/solution", postApi.Unsolve)
	r.PUT("/moderators/posts/:postId/status", postApi.TakeDown, moderators)
	r.GET("/leaderboard", postApi.Leaderboard)

	r.GET("/posts/:postId/comments", commentApi.ListTopLevel)
	r.POST("/posts/:postId/comments", commentApi.Create)

	r.POST("/polls/:pollId/votes", pollApi.Vote)
	r.GET("/polls/:pollId/results", pollApi.Results)

	r.POST("/messages", messageApi.Send, limited)
	r.GET("/messages/threads", messageApi.ListThreads)
	r.GET("/messages/threads/:threadId", messageApi.ThreadMessages)
	r.PUT("/messages/requests/:userId", messageApi.Respond)
	r.DELETE("/messages/conversations/:userId", messageApi.Delete)

	r.POST("/mentors/applications", mentorApi.Apply, limited)
	r.GET("/mentors", mentorApi.Directory)
	r.GET("/mentors/:userId", mentorApi.Profile)
	r.PUT("/mentors/profile", mentorApi.UpsertProfile)

	a := r.Group("/admin", adminOnly)
	a.GET("/mentor-applications", adminApi.ListApplications)
	a.PUT("/mentor-applications/:applicationId", adminApi.Review)
	a.GET("/mentors", adminApi.CurrentMentors)
	a.DELETE("/mentors/:userId", adminApi.RemoveMentor)
	a.PUT("/users/:userId/role", adminApi.SetRole)

	r.POST("/subscription/checkout", subscriptionApi.CreateCheckout)
	r.POST("/subscription/cancel", subscriptionApi.Cancel)
	r.POST("/webhooks/stripe", subscriptionApi.Webhook)

	r.GET("/health/auth", healthApi.AuthConfig)
	r.GET("/healthz", healthApi.Liveness)

	if err := scheduler.Add(jobs.Job{
		Name: "subscription_reconcile",
		Spec: cfg.ReconcileSchedule,
		Run:  subscriptionService.Reconcile,
	}); err != nil {
		return err
	}
	if err := scheduler.Add(jobs.Job{
		Name: "ratelimit_sweep",
		Spec: LIMITER_SWEEP_SCHEDULE,
		Run: func(context.Context) error {
			limiter.Sweep(LIMITER_MAX_IDLE)
			return nil
		},
	}); err != nil {
		return err
	}
	scheduler.Start()

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- e.Start(cfg.HTTPAddr)
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
		logger.Info("SERVER_SHUTDOWN")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), SHUTDOWN_TIMEOUT)
	defer cancel()
	scheduler.Stop(shutdownCtx)
	return e.Shutdown(shutdownCtx)
}
