package app

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"time"

	mio "github.com/you-humble/linkassist/core/libs/minio"
	natsq "github.com/you-humble/linkassist/core/libs/nats"
	rediscli "github.com/you-humble/linkassist/core/libs/redis"
	"github.com/you-humble/linkassist/internal/effect"
	"github.com/you-humble/linkassist/internal/infra/config"
	"github.com/you-humble/linkassist/internal/infra/effects"
	"github.com/you-humble/linkassist/internal/infra/jobs"
	"github.com/you-humble/linkassist/internal/infra/store/artifact"
	"github.com/you-humble/linkassist/internal/infra/store/conversation"
	"github.com/you-humble/linkassist/internal/infra/store/session"
	"github.com/you-humble/linkassist/internal/poller"
	"github.com/you-humble/linkassist/internal/transport"
	"github.com/you-humble/linkassist/internal/usecase"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

type Router interface {
	MountRoutes(*http.ServeMux) *http.ServeMux
}

type ArtifactStore interface {
	usecase.Uploader
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

type Usecase interface {
	transport.Usecase
	Wait()
}

type dependencyInjector struct {
	cfgPath string
	cfg     *config.Config
	logger  *slog.Logger

	redis *redis.Client

	natsConn *nats.Conn
	js       nats.JetStreamContext

	artifacts    ArtifactStore
	artifactsDir string
	conversation usecase.ConversationLog
	guard        usecase.SessionGuard
	views        *session.Views

	jobs      *jobs.Client
	poller    *poller.Poller
	performer effect.Performer
	scheduler *effect.Scheduler

	usecase Usecase
	handler transport.Handler
	router  Router
}

func newDI(cfgPath string) *dependencyInjector {
	return &dependencyInjector{cfgPath: cfgPath}
}

func (di *dependencyInjector) Config() *config.Config {
	if di.cfg == nil {
		di.cfg = config.MustLoad(di.cfgPath)
	}

	return di.cfg
}

func (di *dependencyInjector) Logger() *slog.Logger {
	if di.logger == nil {
		di.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: di.Config().SlogLevel(),
		}))
		slog.SetDefault(di.logger)
	}

	return di.logger
}

func (di *dependencyInjector) RedisClient(ctx context.Context) *redis.Client {
	if di.redis == nil {
		cfg := di.Config().Redis
		client, err := rediscli.NewClient(ctx, rediscli.Config{
			Addr:     cfg.Addr,
			User:     cfg.User,
			Password: cfg.Password,
			DB:       cfg.DB,
		})
		if err != nil {
			log.Fatalf("Redis: %+v", err)
		}

		di.redis = client
		di.Logger().Info("connected to redis", slog.String("addr", cfg.Addr))
	}
	return di.redis
}

func (di *dependencyInjector) ConversationLog(ctx context.Context) usecase.ConversationLog {
	if di.conversation == nil {
		cfg := di.Config().Sessions
		switch cfg.Backend {
		case "redis":
			di.conversation = conversation.NewRedisLog(di.RedisClient(ctx), cfg.TTL)
		default:
			di.conversation = conversation.NewMemoryLog()
		}
		di.Logger().Info("initialized conversation log", slog.String("backend", cfg.Backend))
	}
	return di.conversation
}

func (di *dependencyInjector) SessionGuard(ctx context.Context) usecase.SessionGuard {
	if di.guard == nil {
		switch di.Config().Sessions.Backend {
		case "redis":
			// A flow is at most upload, a capped stream, then a poll fallback.
			// The lock outlives that; a crashed replica frees it on expiry.
			jobsCfg := di.Config().Jobs
			ttl := jobsCfg.StreamMaxDuration + di.Poller().Budget() + 3*jobsCfg.RequestTimeout
			di.guard = session.NewRedisGuard(di.RedisClient(ctx), ttl)
		default:
			di.guard = session.NewMemoryGuard()
		}
	}
	return di.guard
}

func (di *dependencyInjector) Views() *session.Views {
	if di.views == nil {
		di.views = session.NewViews()
	}
	return di.views
}

func (di *dependencyInjector) ArtifactStore(ctx context.Context) ArtifactStore {
	if di.artifacts == nil {
		cfg := di.Config()

		switch cfg.Artifacts.Backend {
		case "minio":
			store, err := artifact.NewMinIOStore(ctx, mio.Config{
				Endpoint:        cfg.MinIO.Endpoint,
				Region:          cfg.MinIO.Region,
				AccessKeyID:     cfg.MinIO.AccessKeyID,
				SecretAccessKey: cfg.MinIO.SecretAccessKey,
				UseSSL:          cfg.MinIO.UseSSL,
				Bucket:          cfg.MinIO.Bucket,
				PublicRead:      cfg.MinIO.PublicRead,
				ConnectAttempts: cfg.MinIO.ConnectAttempts,
				ConnectBackoff:  cfg.MinIO.ConnectBackoff,
			}, cfg.MinIO.BasePath, cfg.Artifacts.PublicBaseURL)
			if err != nil {
				log.Fatalf("ArtifactStore minio: %+v", err)
			}
			di.artifacts = store
			di.Logger().Info(
				"initialized MinIO artifact store",
				slog.String("endpoint", cfg.MinIO.Endpoint),
				slog.String("bucket", cfg.MinIO.Bucket),
			)
		default:
			store, err := artifact.NewLocalStore(cfg.Artifacts.BaseDir, cfg.Artifacts.PublicBaseURL)
			if err != nil {
				log.Fatalf("ArtifactStore local: %+v", err)
			}
			di.artifacts = store
			di.artifactsDir = store.Dir()
			di.Logger().Info("initialized local artifact store", slog.String("base_dir", store.Dir()))
		}
	}

	return di.artifacts
}

func (di *dependencyInjector) Jobs() *jobs.Client {
	if di.jobs == nil {
		cfg := di.Config().Jobs
		di.jobs = jobs.New(jobs.Config{
			PlainURL:       cfg.PlainURL,
			FileBatchURL:   cfg.FileBatchURL,
			StatusURL:      cfg.StatusURL,
			StreamURL:      cfg.StreamURL,
			RequestTimeout: cfg.RequestTimeout,

			StreamIdleTimeout: cfg.StreamIdleTimeout,
			StreamMaxDuration: cfg.StreamMaxDuration,
		})
		di.Logger().Info("initialized jobs client",
			slog.String("plain_url", cfg.PlainURL),
			slog.Bool("streaming", di.jobs.StreamEnabled()),
		)
	}
	return di.jobs
}

func (di *dependencyInjector) Poller() *poller.Poller {
	if di.poller == nil {
		cfg := di.Config().Polling
		di.poller = poller.New(di.Jobs(), cfg.Interval, cfg.MaxAttempts)
	}
	return di.poller
}

func (di *dependencyInjector) NATSConn(ctx context.Context) *nats.Conn {
	if di.natsConn == nil {
		cfg := di.Config()
		nc, err := natsq.NewConnect(cfg.NATS.URL, natsq.Config{
			Name:          cfg.NATS.Name,
			MaxReconnects: cfg.NATS.MaxReconnects,
		})
		if err != nil {
			log.Fatalf("NATS connect: %+v", err)
		}
		di.natsConn = nc
		di.Logger().Info("connected to nats", slog.String("url", nc.ConnectedUrl()))
	}
	return di.natsConn
}

func (di *dependencyInjector) JetStream(ctx context.Context) nats.JetStreamContext {
	if di.js == nil {
		cfg := di.Config()
		js, err := natsq.NewJetStream(di.NATSConn(ctx), &nats.StreamConfig{
			Name:       cfg.NATS.Stream,
			Subjects:   []string{cfg.Effects.Subject + ".>"},
			Storage:    nats.FileStorage,
			Replicas:   1,
			MaxAge:     cfg.Sessions.TTL,
			Duplicates: 2 * time.Minute,
		})
		if err != nil {
			log.Fatalf("DI JetStream: %+v", err)
		}

		di.js = js
	}
	return di.js
}

func (di *dependencyInjector) EffectPerformer(ctx context.Context) effect.Performer {
	if di.performer == nil {
		cfg := di.Config()
		if cfg.NATS.URL == "" {
			di.performer = effects.LogPerformer{}
			di.Logger().Warn("nats is not configured, effects are only logged")
		} else {
			di.performer = effects.NewJetStreamPublisher(di.JetStream(ctx), cfg.Effects.Subject)
		}
	}
	return di.performer
}

func (di *dependencyInjector) Scheduler(ctx context.Context) *effect.Scheduler {
	if di.scheduler == nil {
		cfg := di.Config().Effects
		di.scheduler = effect.NewScheduler(
			cfg.Delay,
			effect.Destination{View: cfg.DestinationView, Route: cfg.DestinationRoute},
			di.EffectPerformer(ctx),
			di.Views(),
		)
	}
	return di.scheduler
}

func (di *dependencyInjector) Usecase(ctx context.Context) Usecase {
	if di.usecase == nil {
		di.usecase = usecase.New(
			ctx,
			di.ArtifactStore(ctx),
			di.Jobs(),
			di.Poller(),
			di.ConversationLog(ctx),
			di.SessionGuard(ctx),
			di.Scheduler(ctx),
			di.Views(),
		)
	}

	return di.usecase
}

func (di *dependencyInjector) Handler(ctx context.Context) transport.Handler {
	if di.handler == nil {
		di.handler = transport.NewHandler(di.Config().MaxUploadBytesMb, di.Usecase(ctx))
	}

	return di.handler
}

func (di *dependencyInjector) Router(ctx context.Context) Router {
	if di.router == nil {
		handler := di.Handler(ctx)
		di.router = transport.NewRouter(handler, di.artifactsDir)
	}

	return di.router
}

// Close releases backend connections opened so far.
func (di *dependencyInjector) Close() {
	if di.natsConn != nil {
		if err := di.natsConn.Drain(); err != nil {
			slog.Warn("nats drain", slog.String("error", err.Error()))
		}
	}
	if di.redis != nil {
		if err := di.redis.Close(); err != nil {
			slog.Warn("redis close", slog.String("error", err.Error()))
		}
	}
}
