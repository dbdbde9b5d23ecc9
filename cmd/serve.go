package cmd

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/roofmanager/ms-go-payments/app/controller"
	"github.com/roofmanager/ms-go-payments/app/provider"
	"github.com/roofmanager/ms-go-payments/app/repository"
	"github.com/roofmanager/ms-go-payments/app/service"
	"github.com/roofmanager/ms-go-payments/app/types"
	"github.com/roofmanager/ms-go-payments/config"

	_ "github.com/go-sql-driver/mysql"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long:  "Start the HTTP (Echo) server for the payments service.",
	Run:   runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(_ *cobra.Command, _ []string) {
	cfg, services, cleanup := mustCreateServices()
	defer cleanup()

	paymentController := controller.NewPaymentController(services.payments, services.webhooks, services.refunds)

	e := setupHTTPServer(paymentController)

	go func() {
		httpAddr := net.JoinHostPort(cfg.HTTP.Host, cfg.HTTP.Port)
		logrus.WithField("addr", httpAddr).Info("Starting HTTP server")
		if err := e.Start(httpAddr); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Fatal("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP shutdown error")
	}

	logrus.Info("Server stopped")
}

func setupHTTPServer(paymentController *controller.PaymentController) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogURI:       true,
		LogStatus:    true,
		LogMethod:    true,
		LogRemoteIP:  true,
		LogLatency:   true,
		LogUserAgent: true,
		LogError:     true,
		HandleError:  true,
		LogRequestID: true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			fields := logrus.Fields{
				"remote_ip":  v.RemoteIP,
				"host":       v.Host,
				"method":     v.Method,
				"uri":        v.URI,
				"status":     v.Status,
				"latency":    v.Latency.String(),
				"latency_ns": v.Latency.Nanoseconds(),
				"user_agent": v.UserAgent,
			}
			entry := logrus.WithFields(fields)
			if v.Error != nil {
				entry = entry.WithError(v.Error)
			}
			entry.Info("http_request")
			return nil
		},
	}))
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(requireRequestID())

	e.GET("/health", paymentController.Health)

	// Webhooks authenticate by provider signature, not by tenant header.
	e.POST("/payments/webhook", paymentController.HandleWebhook)

	payments := e.Group("/payments")
	payments.Use(requireCompanyID())
	payments.POST("/initialize", paymentController.InitializePayment)
	payments.GET("/verify/:reference", paymentController.VerifyPayment)
	payments.POST("/refund", paymentController.RefundPayment)
	payments.GET("", paymentController.ListAttempts)

	return e
}

func requireRequestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			requestID := strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
			if requestID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-request-id header is required"})
			}
			ctx.Response().Header().Set(echo.HeaderXRequestID, requestID)
			return next(ctx)
		}
	}
}

// requireCompanyID reads the tenant id forwarded by the API gateway. The
// service trusts the header; authentication happens upstream.
func requireCompanyID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			companyID := strings.TrimSpace(ctx.Request().Header.Get("X-Company-ID"))
			if companyID == "" {
				return ctx.JSON(http.StatusBadRequest, &types.ErrorResponse{Error: "x-company-id header is required"})
			}
			ctx.Set(controller.CompanyIDContextKey, companyID)
			return next(ctx)
		}
	}
}

type appServices struct {
	payments *service.PaymentService
	webhooks *service.WebhookIngress
	refunds  *service.RefundCoordinator
	jobs     *service.JobService
}

func mustCreateServices() (*config.Config, *appServices, func()) {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}
	if err := configureLogging(cfg); err != nil {
		logrus.WithError(err).Fatal("Failed to configure logging")
	}

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to connect to database")
	}

	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		logrus.WithError(err).Fatal("Failed to ping database")
	}

	attemptRepo := repository.NewPaymentAttemptRepository(db)
	invoiceRepo := repository.NewInvoiceRepository(db)
	eventRepo := repository.NewPaymentEventRepository(db)
	receiptRepo := repository.NewWebhookReceiptRepository(db)

	cardProvider := provider.NewCardProvider(provider.CardConfig{
		SecretKey:                 cfg.Card.SecretKey,
		WebhookSecret:             cfg.Card.WebhookSecret,
		BaseURL:                   cfg.Card.BaseURL,
		SignatureToleranceSeconds: cfg.Card.SignatureToleranceSeconds,
		HTTPTimeout:               cfg.Card.HTTPTimeout,
	})
	regionalProvider := provider.NewRegionalProvider(provider.RegionalConfig{
		SecretKey:   cfg.Regional.SecretKey,
		BaseURL:     cfg.Regional.BaseURL,
		HTTPTimeout: cfg.Regional.HTTPTimeout,
	})
	providerRegistry := provider.NewRegistry(cardProvider, regionalProvider)

	ledger := service.NewLedger(attemptRepo, eventRepo)
	reconciler := service.NewReconciler(invoiceRepo, attemptRepo, eventRepo)
	paymentService := service.NewPaymentService(invoiceRepo, attemptRepo, ledger, reconciler, providerRegistry, cfg.Payments)
	webhookIngress := service.NewWebhookIngress(attemptRepo, receiptRepo, ledger, reconciler, providerRegistry)
	refundCoordinator := service.NewRefundCoordinator(attemptRepo, ledger, reconciler, providerRegistry, cfg.Payments)
	jobService := service.NewJobService(attemptRepo, eventRepo, paymentService, providerRegistry, cfg.Payments)

	cleanup := func() {
		if err := db.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close database")
		}
	}

	return cfg, &appServices{
		payments: paymentService,
		webhooks: webhookIngress,
		refunds:  refundCoordinator,
		jobs:     jobService,
	}, cleanup
}

func configureLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.Log.Level)
	if err != nil {
		return err
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	return nil
}
