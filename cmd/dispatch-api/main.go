// README: Entry point; loads config, wires the dispatch core, starts the HTTP/websocket server and reminder ticker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"dispatch/internal/config"
	httptransport "dispatch/internal/http"
	"dispatch/internal/infra"
	"dispatch/internal/logger"
	"dispatch/internal/maps"
	"dispatch/internal/metrics"
	"dispatch/internal/modules/dispatch"
	"dispatch/internal/modules/driver"
	"dispatch/internal/modules/location"
	"dispatch/internal/modules/notification"
	"dispatch/internal/modules/pathmatch"
	"dispatch/internal/modules/persistence"
	"dispatch/internal/modules/pricing"
	"dispatch/internal/modules/trip"
	"dispatch/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	log := logger.New(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	collector := metrics.NewCollector()

	dbPool, err := infra.NewDB(ctx, cfg.DB.DSN)
	if err != nil {
		log.WithError(err).Fatal("postgres")
	}
	defer dbPool.Close()

	redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
	if err != nil {
		log.WithError(err).Fatal("redis")
	}
	defer redisClient.Close()

	var roads pathmatch.RoadNetworkClient
	var geocoder dispatch.Geocoder
	if cfg.Maps.APIKey != "" {
		roadsSvc, err := maps.NewRoadsService(cfg.Maps.APIKey)
		if err != nil {
			log.WithError(err).Fatal("maps roads client")
		}
		geocodeSvc, err := maps.NewGeocodeService(cfg.Maps.APIKey, cfg.Maps.Region)
		if err != nil {
			log.WithError(err).Fatal("maps geocoding client")
		}
		roads, geocoder = roadsSvc, geocodeSvc
	} else {
		log.Warn("no maps api key: path matching falls back to raw distance, address-only trips are rejected")
	}

	var sender dispatch.NotificationSender = notification.NewLogSender(log)
	var verifier infra.TokenVerifier
	if cfg.Firebase.ProjectID != "" {
		app, err := infra.NewFirebaseApp(ctx, cfg.Firebase.ProjectID, cfg.Firebase.CredentialsFile)
		if err != nil {
			log.WithError(err).Fatal("firebase")
		}
		msgClient, err := infra.NewFirebaseMessaging(ctx, app)
		if err != nil {
			log.WithError(err).Fatal("firebase messaging")
		}
		sender = notification.NewFCMSender(msgClient, log)
		if verifier, err = infra.NewFirebaseVerifier(ctx, app); err != nil {
			log.WithError(err).Fatal("firebase auth")
		}
	} else {
		log.Warn("no firebase project: push notifications are logged and sockets are unauthenticated")
	}

	var relay dispatch.MessageRelay = notification.NewLogRelay(log)
	if cfg.NATS.URL != "" {
		nc, err := infra.NewNATS(cfg.NATS.URL, log)
		if err != nil {
			log.WithError(err).Fatal("nats")
		}
		defer nc.Drain()
		relay = notification.NewNATSRelay(nc, cfg.NATS.RelaySubject, log)
	}

	notificationStore := notification.NewStore(redisClient)
	hub := ws.NewHub(log, collector)

	svc := dispatch.NewService(dispatch.Deps{
		Drivers:       driver.NewRegistry(),
		Trips:         trip.NewStore(),
		Bus:           hub,
		Matcher:       pathmatch.NewService(roads, cfg.Dispatch.PathMatchTimeout),
		Pricer:        pricing.NewService(),
		Persistence:   persistence.NewStore(dbPool),
		Sender:        sender,
		Relay:         relay,
		Notifications: notificationStore,
		Mirror:        location.NewStore(redisClient),
		Geocoder:      geocoder,
		Reminders:     dispatch.NewRedisReminderGuard(redisClient),
		Metrics:       collector,
		Log:           log,
		Config: dispatch.Config{
			AllowReset:       cfg.Dispatch.AllowReset,
			ReminderInterval: cfg.Dispatch.ReminderInterval,
			ReminderLead:     cfg.Dispatch.ReminderLead,
			PersistAttempts:  cfg.Dispatch.PersistAttempts,
			PersistBackoff:   cfg.Dispatch.PersistBackoff,
		},
	})

	router := httptransport.NewRouter(httptransport.RouterDeps{
		Dispatch:       svc,
		Hub:            hub,
		Notifications:  notificationStore,
		Metrics:        collector,
		Verifier:       verifier,
		Log:            log,
		NearbyRadiusKm: cfg.Dispatch.NearbyRadiusKm,
	})

	go hub.Run(ctx)
	go svc.RunReminderTicker(ctx)

	if err := httptransport.NewServer(cfg.HTTP.Addr, router, log).Run(ctx); err != nil {
		log.WithError(err).Fatal("http server")
	}
	log.Info("shutdown complete")
}
