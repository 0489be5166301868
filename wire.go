package main

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"fieldservice-server/cache"
	"fieldservice-server/config"
	"fieldservice-server/database"
	"fieldservice-server/notifications"
	"fieldservice-server/observability"
	"fieldservice-server/payments"
	"fieldservice-server/routes"
	"fieldservice-server/services"
	"fieldservice-server/store"
	ws "fieldservice-server/websocket"
)

// app holds every long-lived component of the server.
type app struct {
	cfg *config.Config

	db       *gorm.DB
	store    store.Store
	listener *store.ChangeListener
	hub      *ws.Hub

	gateway    payments.Gateway
	dispatcher *notifications.Dispatcher
	inbox      *notifications.Inbox

	bookings   *services.BookingService
	status     *services.StatusService
	assignment *services.AssignmentCoordinator
	jobs       *services.JobMachine
	location   *services.LocationBroadcaster
	payments   *services.PaymentOrchestrator

	closers []func() error
}

// buildApp connects the backing services named in cfg and wires the
// lifecycle services on top of them.
func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	if err := a.openStore(ctx); err != nil {
		return nil, err
	}

	gw, err := newGateway(cfg.Payment)
	if err != nil {
		return nil, err
	}
	a.gateway = payments.NewBreakerGateway(gw)

	if err := a.openNotifications(); err != nil {
		a.Close()
		return nil, err
	}

	fixes, err := a.openFixCache()
	if err != nil {
		a.Close()
		return nil, err
	}

	a.payments = services.NewPaymentOrchestrator(a.store, a.gateway, a.dispatcher, observability.SentryAlerter{}, cfg.Payment.Currency)
	a.assignment = services.NewAssignmentCoordinator(a.store, a.dispatcher)
	a.jobs = services.NewJobMachine(a.store, a.payments, a.dispatcher)
	a.bookings = services.NewBookingService(a.store, a.payments, a.gateway, a.dispatcher)
	a.status = services.NewStatusService(a.store, a.jobs, a.payments, a.bookings)
	a.location = services.NewLocationBroadcaster(a.store, fixes, services.LocationConfig{
		MinDistanceMeters: cfg.Location.MinDistanceMeters,
		MinInterval:       cfg.Location.MinInterval,
		Workers:           cfg.Location.Workers,
		QueueSize:         cfg.Location.QueueSize,
	})
	return a, nil
}

// openStore picks the lifecycle store and hooks its change feed to the hub.
func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Database.Driver {
	case "memory":
		mem := store.NewMemoryStore()
		a.store = mem
		a.hub = ws.NewHub(ws.StoreLoader{Reader: mem})
		mem.SetChangeSink(a.hub)
		log.Println("⚠️ Using the in-memory lifecycle store, data is lost on restart")
		return nil

	case "postgres":
		db, err := database.Initialize(a.cfg.Database.URL, a.cfg.Server.GinMode != "release")
		if err != nil {
			return err
		}
		if a.cfg.Database.AutoMigrate {
			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}
		}
		a.db = db
		pg := store.NewPostgresStore(db, a.cfg.Database.NotifyChannel)
		a.store = pg
		a.hub = ws.NewHub(ws.StoreLoader{Reader: pg})
		a.listener = store.NewChangeListener(a.cfg.Database.URL, a.cfg.Database.NotifyChannel, a.hub)
		a.listener.OnReconnect = func() { a.hub.Resync(ctx) }
		if sqlDB, err := db.DB(); err == nil {
			a.closers = append(a.closers, sqlDB.Close)
		}
		return nil
	}
	return fmt.Errorf("unknown DB_DRIVER %q", a.cfg.Database.Driver)
}

func newGateway(cfg config.PaymentConfig) (payments.Gateway, error) {
	switch cfg.Provider {
	case "stripe":
		return payments.NewStripeGateway(cfg.SecretKey, cfg.Currency), nil
	case "sandbox":
		log.Println("⚠️ Using the sandbox payment gateway")
		return payments.NewSandboxGateway(), nil
	}
	return nil, fmt.Errorf("unknown PAYMENT_PROVIDER %q", cfg.Provider)
}

// openNotifications builds the dispatcher and its sinks. Broker sinks are
// only added when configured.
func (a *app) openNotifications() error {
	cfg := a.cfg.Notify
	sinks := []notifications.Sink{notifications.NewHubSink(a.hub)}

	if a.db != nil && cfg.StoreInApp {
		sinks = append(sinks, notifications.NewDBSink(a.db))
		a.inbox = notifications.NewInbox(a.db)
	}
	if cfg.AMQPURL != "" {
		mq, err := notifications.NewAMQPSink(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			return err
		}
		sinks = append(sinks, mq)
		a.closers = append(a.closers, mq.Close)
		log.Printf("✅ Publishing notifications to exchange %s", cfg.AMQPExchange)
	}
	if cfg.KafkaBrokers != "" {
		k := notifications.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		sinks = append(sinks, k)
		a.closers = append(a.closers, k.Close)
		log.Printf("✅ Publishing notifications to topic %s", cfg.KafkaTopic)
	}

	a.dispatcher = notifications.NewDispatcher(cfg.QueueSize, sinks...)
	return nil
}

func (a *app) openFixCache() (services.FixCache, error) {
	cfg := a.cfg.Redis
	if cfg.Addr == "" {
		return cache.NewMemoryFixCache(cfg.FixTTL), nil
	}
	rc, err := cache.NewRedisClient(cfg.Addr, cfg.Password, cfg.DB, cfg.DialTimeout)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rc.Close)
	return cache.NewRedisFixCache(rc, cfg.FixTTL), nil
}

// handler exposes the services over HTTP.
func (a *app) handler() *routes.Handler {
	secret := a.cfg.Payment.WebhookSecret
	return &routes.Handler{
		Bookings:   a.bookings,
		Status:     a.status,
		Assignment: a.assignment,
		Jobs:       a.jobs,
		Location:   a.location,
		Payments:   a.payments,
		Repairs:    a.store,
		Hub:        a.hub,
		Inbox:      a.inbox,
		Verify: func(payload []byte, signatureHeader string) (*payments.WebhookEvent, error) {
			return payments.ParseWebhook(payload, signatureHeader, secret)
		},
		LocationFreshFor: a.cfg.Location.FreshFor,
		JWTSecret:        a.cfg.JWT.Secret,
	}
}

// Close releases connections in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("⚠️ Close failed: %v", err)
		}
	}
	a.closers = nil
}

// waitTimeout waits for fn up to d.
func waitTimeout(d time.Duration, fn func()) bool {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}
