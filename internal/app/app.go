package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/you-humble/linkassist/internal/transport"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

type app struct {
	di     *dependencyInjector
	srv    *http.Server
	grpc   *grpc.Server
	health *health.Server
}

func New(ctx context.Context, cfgPath string) *app {
	di := newDI(cfgPath)
	l := di.Logger()
	mux := http.NewServeMux()

	grpcServer := grpc.NewServer(
		grpc.ChainUnaryInterceptor(
			transport.RecoveryUnaryInterceptor(l),
			transport.UnaryLoggingInterceptor(l),
		),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)

	return &app{
		di: di,
		srv: &http.Server{
			Addr: di.Config().Addr,
			Handler: transport.WithRecover(
				transport.LogMiddleware(
					di.Router(ctx).MountRoutes(mux),
				),
			),
			ReadHeaderTimeout: 10 * time.Second,
		},
		grpc:   grpcServer,
		health: hs,
	}
}

func (a *app) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("starting server", slog.String("addr", a.srv.Addr))
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		addr := a.di.Config().GRPCAddr
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", addr, err)
		}

		a.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
		slog.Info("starting grpc health server", slog.String("addr", addr))
		if err := a.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server: %w", err)
		}
		return nil
	})

	if cfg := a.di.Config().Artifacts; cfg.MaxAge > 0 {
		g.Go(func() error {
			a.cleanupArtifacts(gctx, cfg.CleanupInterval, cfg.MaxAge)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	return g.Wait()
}

func (a *app) shutdown() error {
	slog.Info("shutdown signal received")
	a.health.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		a.di.Config().ShutdownTimeout,
	)
	defer cancel()

	var errs []error
	if err := a.srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	stopped := make(chan struct{})
	go func() {
		a.grpc.GracefulStop()
		a.di.Usecase(shutdownCtx).Wait()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-shutdownCtx.Done():
		slog.Warn("graceful stop timed out, forcing stop")
		a.grpc.Stop()
		errs = append(errs, fmt.Errorf("shutdown timeout exceeded: %w", shutdownCtx.Err()))
	}

	a.di.Close()

	slog.Info("server gracefully stopped")
	return errors.Join(errs...)
}

func (a *app) cleanupArtifacts(ctx context.Context, every, maxAge time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.di.ArtifactStore(ctx).CleanupOlderThan(ctx, maxAge); err != nil {
				slog.Warn("artifact cleanup", slog.String("error", err.Error()))
			}
		}
	}
}
