package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fieldservice-server/config"
	"fieldservice-server/database"
	"fieldservice-server/jobs"
	"fieldservice-server/middleware"
	"fieldservice-server/observability"
)

const version = "1.0.0"

func main() {
	root := &cobra.Command{
		Use:           "fieldservice-server",
		Short:         "Booking and job lifecycle server for mobile field service",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := config.Load(); err != nil {
				return err
			}
			observability.SetupLogging(config.AppConfig.LogLevel, config.AppConfig.Server.GinMode == gin.ReleaseMode)
			return nil
		},
	}
	root.AddCommand(serveCmd(), migrateCmd(), repairCmd())

	if err := root.Execute(); err != nil {
		log.Fatalf("❌ %v", err)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(config.AppConfig)
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := database.Initialize(config.AppConfig.Database.URL, true)
			if err != nil {
				return err
			}
			return database.Migrate(db)
		},
	}
}

func repairCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Retry captures whose bookkeeping is still pending",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := buildApp(ctx, config.AppConfig)
			if err != nil {
				return err
			}
			defer a.Close()

			job := jobs.NewRepairJob(a.store, a.payments, time.Minute, limit)
			resolved, pending := job.RunOnce(ctx)
			fmt.Fprintf(cmd.OutOrStdout(), "resolved=%d pending=%d\n", resolved, pending)
			if pending > 0 {
				return fmt.Errorf("%d repairs still pending", pending)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum number of repairs to retry")
	return cmd
}

func serve(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Obs.ServiceName, version, cfg.Obs.Environment, cfg.Obs.OTLPEndpoint)
	if err != nil {
		return err
	}
	if err := observability.InitSentry(cfg.Obs.SentryDSN, cfg.Obs.ServiceName, cfg.Obs.Release, cfg.Obs.Environment); err != nil {
		log.Printf("⚠️ Sentry disabled: %v", err)
	}

	a, err := buildApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	// Background workers
	go a.hub.Run(ctx)
	dispatched := make(chan struct{})
	go func() {
		a.dispatcher.Run(ctx)
		close(dispatched)
	}()
	a.location.Start(ctx)
	if a.listener != nil {
		go func() {
			if err := a.listener.Run(ctx); err != nil {
				log.Printf("❌ Change listener stopped: %v", err)
			}
		}()
	}
	repairJob := jobs.NewRepairJob(a.store, a.payments, cfg.Repair.Interval, cfg.Repair.BatchSize)
	repairJob.Start(ctx)
	limiter := middleware.NewRateLimiter()
	go limiter.RunCleanup(ctx, 10*time.Minute)

	gin.SetMode(cfg.Server.GinMode)
	router := gin.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false

	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeadersMiddleware())
	router.Use(middleware.InputValidationMiddleware())
	router.Use(middleware.RateLimitMiddleware(limiter))
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.AuditLogMiddleware())

	a.handler().Register(router)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("🚀 Server starting on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Failed to start server: %v", err)
		}
	}()

	<-ctx.Done()
	log.Println("🛑 Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("⚠️ HTTP shutdown: %v", err)
	}
	repairJob.Stop()
	if !waitTimeout(cfg.Server.ShutdownTimeout, a.location.Wait) {
		log.Println("⚠️ Location workers did not stop in time")
	}
	if !waitTimeout(cfg.Server.ShutdownTimeout, func() { <-dispatched }) {
		log.Println("⚠️ Notification dispatcher did not stop in time")
	}
	if err := shutdownTracer(shutdownCtx); err != nil {
		log.Printf("⚠️ Tracer shutdown: %v", err)
	}
	observability.FlushSentry(2 * time.Second)
	return nil
}
