// Package app assembles the stores, publishers and services shared by the
// server, worker and CLI binaries.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/bidguard/internal/alerts"
	"github.com/ignite/bidguard/internal/archive"
	"github.com/ignite/bidguard/internal/config"
	"github.com/ignite/bidguard/internal/engine"
	"github.com/ignite/bidguard/internal/events"
	"github.com/ignite/bidguard/internal/metrics"
	"github.com/ignite/bidguard/internal/pkg/awsutil"
	"github.com/ignite/bidguard/internal/pkg/distlock"
	"github.com/ignite/bidguard/internal/pkg/logger"
	"github.com/ignite/bidguard/internal/repository"
	"github.com/ignite/bidguard/internal/repository/memory"
	"github.com/ignite/bidguard/internal/repository/postgres"
	"github.com/ignite/bidguard/internal/safety"
	"github.com/ignite/bidguard/internal/service/outcome"
	"github.com/ignite/bidguard/internal/service/recommendation"
	"github.com/ignite/bidguard/internal/worker"
)

// App holds the wired components. Fields for optional backends are nil
// when the backend is not configured.
type App struct {
	Config *config.Config

	DB    *sql.DB
	Redis *redis.Client

	Store     repository.Store
	Provider  metrics.Provider
	Publisher events.Publisher
	Archive   *archive.Archive
	Alerter   *alerts.Alerter

	Recs      *recommendation.Service
	Gates     *safety.Service
	Outcomes  *outcome.Service
	Engine    *engine.Engine
	Scheduler *worker.Scheduler

	closers []func(ctx context.Context)
}

// New validates cfg and connects every configured backend. On error all
// connections opened so far are closed.
func New(ctx context.Context, cfg *config.Config) (a *App, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logging.Level))

	a = &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close(context.Background())
		}
	}()

	if err := a.openDatabase(ctx); err != nil {
		return nil, err
	}
	if err := a.openRedis(ctx); err != nil {
		return nil, err
	}
	if err := a.openProvider(); err != nil {
		return nil, err
	}

	var awsCfg *aws.Config
	if needsAWS(cfg) {
		c, err := awsutil.Load(ctx, cfg.Events.Region, cfg.AWS)
		if err != nil {
			return nil, err
		}
		awsCfg = &c
	}
	a.Publisher = a.publishers(awsCfg)
	if err := a.openAlerter(awsCfg); err != nil {
		return nil, err
	}

	locker := distlock.NewLocker(a.Redis, a.DB, cfg.Safety.LockTTL())
	a.Recs = recommendation.NewService(a.Store, locker, a.Publisher, cfg)
	a.Gates = safety.NewService(a.Store, locker, cfg.Safety)
	a.Outcomes = outcome.NewService(a.Store, a.Provider, cfg.Outcome)

	var notifier engine.Notifier
	if a.Alerter != nil {
		notifier = a.Alerter
		if url := cfg.Alerts.WebhookURL; url != "" {
			hook := alerts.NewWebhook(url, a.Alerter, nil)
			if len(cfg.Alerts.To) == 0 {
				notifier = hook
			} else {
				notifier = alerts.Fanout{a.Alerter, hook}
			}
		}
	}
	a.Engine = engine.New(cfg, a.Provider, a.Store, a.Recs, a.Outcomes, notifier)

	leaders := distlock.NewLocker(a.Redis, a.DB, worker.LeaderTTL)
	a.Scheduler = worker.NewScheduler(a.Engine, a.Outcomes, leaders,
		cfg.Scheduler.CycleInterval(), cfg.Scheduler.OutcomeInterval())
	return a, nil
}

func (a *App) openDatabase(ctx context.Context) error {
	cfg := a.Config.Database
	if cfg.URL == "" {
		log.Println("[app] DATABASE_URL not set, using in-memory store")
		a.Store = memory.New()
		return nil
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)
	a.closers = append(a.closers, func(context.Context) { db.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	log.Printf("[app] connected to database %s", redactHost(cfg.URL))
	a.DB = db
	a.Store = postgres.New(db)
	return nil
}

func (a *App) openRedis(ctx context.Context) error {
	url := a.Config.Redis.URL
	if url == "" {
		return nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		opts = &redis.Options{Addr: url}
	}
	client := redis.NewClient(opts)
	a.closers = append(a.closers, func(context.Context) { client.Close() })

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	log.Printf("[app] connected to redis %s", opts.Addr)
	a.Redis = client
	return nil
}

func (a *App) openProvider() error {
	mc := a.Config.Metrics
	switch {
	case mc.Driver == "postgres" && a.DB != nil && (mc.DSN == "" || mc.DSN == a.Config.Database.URL):
		p, err := metrics.NewSQLProvider(a.DB, mc)
		if err != nil {
			return err
		}
		a.Provider = p
	case mc.DSN != "":
		p, err := metrics.Open(mc)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func(context.Context) { p.Close() })
		a.Provider = p
	default:
		log.Println("[app] no metrics source configured, cycles will see no entities")
		a.Provider = metrics.NewStatic()
		return nil
	}
	log.Printf("[app] metrics provider: %s table %s", mc.Driver, mc.Table)
	return nil
}

func (a *App) publishers(awsCfg *aws.Config) events.Publisher {
	cfg := a.Config
	pubs := events.Multi{events.LogPublisher{}}
	if cfg.Events.SQSQueueURL != "" && awsCfg != nil {
		pubs = append(pubs, events.NewSQSPublisher(sqs.NewFromConfig(*awsCfg), cfg.Events.SQSQueueURL))
		log.Printf("[app] change events -> sqs %s", cfg.Events.SQSQueueURL)
	}
	if cfg.Events.RedisStream != "" && a.Redis != nil {
		pubs = append(pubs, events.NewRedisStreamPublisher(a.Redis, cfg.Events.RedisStream))
		log.Printf("[app] change events -> redis stream %s", cfg.Events.RedisStream)
	}
	if cfg.Archive.Enabled && cfg.Archive.S3Bucket != "" && awsCfg != nil {
		s3Cfg := awsCfg.Copy()
		s3Cfg.Region = cfg.Archive.Region
		a.Archive = archive.New(s3.NewFromConfig(s3Cfg), cfg.Archive.S3Bucket, cfg.Archive.Prefix, cfg.Archive.FlushInterval())
		a.Archive.Start()
		arch := a.Archive
		a.closers = append(a.closers, func(ctx context.Context) { arch.Stop(ctx) })
		pubs = append(pubs, a.Archive)
		log.Printf("[app] change archive -> s3://%s/%s", cfg.Archive.S3Bucket, cfg.Archive.Prefix)
	}
	return pubs
}

func (a *App) openAlerter(awsCfg *aws.Config) error {
	ac := a.Config.Alerts
	if !ac.Enabled {
		return nil
	}
	var client alerts.SESAPI
	if awsCfg != nil {
		sesCfg := awsCfg.Copy()
		sesCfg.Region = ac.Region
		client = sesv2.NewFromConfig(sesCfg)
	}
	al, err := alerts.New(ac, client)
	if err != nil {
		return err
	}
	a.Alerter = al
	return nil
}

// Close releases every backend in reverse order of opening.
func (a *App) Close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i](ctx)
	}
	a.closers = nil
}

func needsAWS(cfg *config.Config) bool {
	return cfg.Events.SQSQueueURL != "" ||
		(cfg.Archive.Enabled && cfg.Archive.S3Bucket != "") ||
		(cfg.Alerts.Enabled && len(cfg.Alerts.To) > 0)
}

// redactHost returns the host part of a DSN for logging.
func redactHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(local)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}
