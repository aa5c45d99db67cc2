package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"fuelalert/config"
	"fuelalert/internal/account"
	"fuelalert/internal/api"
	"fuelalert/internal/db"
	"fuelalert/internal/events"
	"fuelalert/internal/health"
	"fuelalert/internal/ingest"
	"fuelalert/internal/logs"
	"fuelalert/internal/middleware"
	"fuelalert/internal/mqttingest"
	"fuelalert/internal/places"
	"fuelalert/internal/query"
	"fuelalert/internal/repo"
	"fuelalert/internal/retention"
	"fuelalert/internal/secrets"
	"fuelalert/internal/token"
)

type App struct {
	cfg        *config.Config
	db         *gorm.DB
	Router     *mux.Router
	httpServer *http.Server

	retention *retention.Scheduler
	mqtt      *mqttingest.Ingestor
	amqp      *events.AMQPPublisher
	log       *logrus.Entry
}

func (a *App) Initialize(cfg *config.Config) error {
	a.cfg = cfg

	/* 1) Логи */
	logs.Init(logs.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	a.log = logs.For("server")

	/* 2) DB */
	d, err := db.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("db open failed: %w", err)
	}
	if err := db.Migrate(d); err != nil {
		_ = db.Close(d)
		return fmt.Errorf("db migrate failed: %w", err)
	}
	a.db = d

	users, devices := repo.NewUserStore(d), repo.NewDeviceStore(d)
	signals, targets := repo.NewSignalStore(d), repo.NewTargetStore(d)

	/* 3) Сервисы */
	hasher := secrets.New(secrets.Argon2Params{
		Time:      cfg.Auth.Argon2.Time,
		MemoryKiB: cfg.Auth.Argon2.MemoryKiB,
		Threads:   cfg.Auth.Argon2.Threads,
	})
	tokens := token.New(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.TokenTTL)
	accounts, err := account.New(users, devices, hasher, tokens, logs.For("account"))
	if err != nil {
		return fmt.Errorf("account service: %w", err)
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQP.URL != "" {
		p, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, cfg.AMQP.RoutingKey, logs.For("events"))
		if err != nil {
			// события вторичны: без брокера приём сигналов продолжает работать
			a.log.WithError(err).Warn("rabbitmq unavailable, events disabled")
		} else {
			a.amqp, publisher = p, p
		}
	}

	finder := places.NewClient(cfg.Places.BaseURL, cfg.Places.APIKey, cfg.Places.Timeout)
	if cfg.Places.APIKey == "" {
		a.log.Warn("places.api_key is empty, lookups will likely be rejected upstream")
	}
	ing := ingest.New(signals, targets, finder, publisher,
		ingest.Options{Limit: cfg.Places.Limit, Timeout: cfg.Places.Timeout}, logs.For("ingest"))

	a.retention = retention.New(retention.Options{
		Interval:   cfg.Retention.Interval,
		Window:     cfg.Retention.Window,
		RunOnStart: cfg.Retention.RunOnStart,
	}, logs.For("retention"),
		retention.Sweep{Name: "signals", Purge: signals.PurgeBefore},
		retention.Sweep{Name: "targets", Purge: targets.PurgeBefore},
	)

	if cfg.MQTT.Broker != "" {
		a.mqtt = mqttingest.New(mqttingest.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		}, accounts, ing, logs.For("mqtt"))
	}

	/* 4) Router + middleware */
	a.Router = mux.NewRouter().StrictSlash(true)
	a.Router.Use(
		middleware.RequestID,
		middleware.Recoverer(logs.For("http")),
		middleware.Logger(logs.For("http")),
	)

	/* 5) Health */
	health.RegisterRoutes(a.Router, a.readinessChecks())

	/* 6) API */
	api.RegisterRoutes(a.Router, api.New(accounts, ing, query.New(devices, signals, targets), logs.For("api")))

	_ = a.Router.Walk(func(rt *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		path, err := rt.GetPathTemplate()
		if err != nil {
			return nil
		}
		methods, _ := rt.GetMethods()
		if len(methods) == 0 {
			methods = []string{"ANY"}
		}
		a.log.Debugf("route: %-6v %s", methods, path)
		return nil
	})
	return nil
}

func (a *App) readinessChecks() map[string]health.Check {
	checks := map[string]health.Check{
		"database": func(ctx context.Context) error { return db.Ping(ctx, a.db) },
	}
	if a.mqtt != nil {
		checks["mqtt"] = func(context.Context) error {
			if !a.mqtt.IsConnected() {
				return errors.New("mqtt not connected")
			}
			return nil
		}
	}
	if a.amqp != nil {
		checks["amqp"] = func(context.Context) error {
			if !a.amqp.Connected() {
				return errors.New("rabbitmq connection closed")
			}
			return nil
		}
	}
	return checks
}

// Run обслуживает HTTP, retention и MQTT до SIGINT/SIGTERM или отмены ctx.
func (a *App) Run(ctx context.Context) error {
	if a.Router == nil || a.cfg == nil {
		return fmt.Errorf("server not initialized")
	}
	defer a.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bind := net.JoinHostPort(a.cfg.Server.Address, a.cfg.Server.HTTPPort)
	a.httpServer = &http.Server{
		Addr:              bind,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// поиск заправок + запись в БД должны уложиться
		WriteTimeout: a.cfg.Places.Timeout + 15*time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.log.Infof("HTTP listening on %s", bind)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		a.log.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(sctx); err != nil {
			a.log.WithError(err).Error("http shutdown")
		}
		return nil
	})
	g.Go(func() error { return a.retention.Run(gctx) })

	if a.mqtt != nil {
		g.Go(func() error {
			defer a.mqtt.Stop()
			if err := a.mqtt.Start(gctx); err != nil {
				if gctx.Err() == nil {
					a.log.WithError(err).Error("mqtt ingress disabled")
				}
				return nil
			}
			<-gctx.Done()
			return nil
		})
	}

	return g.Wait()
}

func (a *App) close() {
	if a.amqp != nil {
		if err := a.amqp.Close(); err != nil {
			a.log.WithError(err).Warn("rabbitmq close")
		}
	}
	if err := db.Close(a.db); err != nil {
		a.log.WithError(err).Warn("db close")
	}
}
