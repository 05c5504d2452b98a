// Package server exposes the verifier over HTTP.
package server

import (
	"context"
	"errors"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/optimode/emailverify"
	"github.com/optimode/emailverify/internal/metrics"
)

const requestIDKey = "request_id"

// Verifier is the part of *emailverify.Verifier the handlers use.
type Verifier interface {
	Verify(ctx context.Context, email string) (emailverify.Result, error)
	VerifyMany(ctx context.Context, emails []string, opts ...emailverify.ConcurrencyOptions) ([]emailverify.Result, error)
}

// FaultReporter forwards an unexpected verification error to an error
// tracker.
type FaultReporter func(c *fiber.Ctx, err error)

type Config struct {
	Version     string
	CORSOrigins string
	MaxBulk     int
	BulkWorkers int
	// RateLimit is requests per minute per client IP on the verification
	// routes; 0 disables it.
	RateLimit int
	// Storage keeps the rate limiter counters. In memory when nil.
	Storage     fiber.Storage
	ReportFault FaultReporter
}

type Server struct {
	app      *fiber.App
	verifier Verifier
	cfg      Config
	log      logrus.FieldLogger
	metrics  *metrics.Metrics
	validate *validator.Validate
}

// New builds the HTTP application. m may be nil, in which case /metrics
// is not served.
func New(v Verifier, cfg Config, log logrus.FieldLogger, m *metrics.Metrics) *Server {
	if cfg.MaxBulk <= 0 {
		cfg.MaxBulk = 100
	}
	if cfg.BulkWorkers <= 0 {
		cfg.BulkWorkers = 5
	}
	if cfg.CORSOrigins == "" {
		cfg.CORSOrigins = "*"
	}
	if cfg.ReportFault == nil {
		cfg.ReportFault = reportToSentry
	}

	s := &Server{
		verifier: v,
		cfg:      cfg,
		log:      log,
		metrics:  m,
		validate: validator.New(),
	}

	s.app = fiber.New(fiber.Config{
		AppName:               "emailverify",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})
	s.routes()
	return s
}

func (s *Server) routes() {
	s.app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	s.app.Use(requestid.New(requestid.Config{
		Generator:  uuid.NewString,
		ContextKey: requestIDKey,
	}))
	s.app.Use(s.accessLog)
	s.app.Use(cors.New(cors.Config{
		AllowOrigins: s.cfg.CORSOrigins,
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin, Content-Type, Accept",
	}))

	s.app.Get("/healthz", s.health)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	verify := s.app.Group("/verify")
	if s.cfg.RateLimit > 0 {
		verify.Use(s.rateLimiter())
	}
	verify.Get("", s.verifyOne)
	verify.Post("", s.verifyOne)
	verify.Post("/bulk", s.verifyBulk)
}

func (s *Server) rateLimiter() fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        s.cfg.RateLimit,
		Expiration: time.Minute,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "ratelimit:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please wait before verifying again.",
				"retry_after": "1 minute",
			})
		},
		Storage: s.cfg.Storage,
	})
}

// App returns the underlying fiber application.
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}

func (s *Server) health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":  "running",
		"version": s.cfg.Version,
	})
}

// accessLog logs every request and records its metrics.
func (s *Server) accessLog(c *fiber.Ctx) error {
	start := time.Now()
	err := c.Next()

	status := c.Response().StatusCode()
	if err != nil {
		status = fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			status = fe.Code
		}
	}
	elapsed := time.Since(start)

	if s.metrics != nil {
		s.metrics.RecordHTTPRequest(c.Method(), c.Route().Path, status, elapsed)
	}
	s.log.WithFields(logrus.Fields{
		"request_id": requestID(c),
		"method":     c.Method(),
		"path":       c.Path(),
		"status":     status,
		"latency":    elapsed,
		"ip":         c.IP(),
	}).Info("request")
	return err
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.log.WithField("request_id", requestID(c)).WithError(err).Error("request failed")
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}

func requestID(c *fiber.Ctx) string {
	id, _ := c.Locals(requestIDKey).(string)
	return id
}

func reportToSentry(c *fiber.Ctx, err error) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("request_id", requestID(c))
		scope.SetTag("route", c.Route().Path)
		sentry.CaptureException(err)
	})
}
