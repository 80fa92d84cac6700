package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/example/facewatch/internal/config"
	"github.com/example/facewatch/internal/faceencoder"
	"github.com/example/facewatch/internal/grpcclient"
	"github.com/example/facewatch/internal/handlers"
	"github.com/example/facewatch/internal/logging"
	"github.com/example/facewatch/internal/pyworker"
	"github.com/example/facewatch/internal/registry"
	"github.com/example/facewatch/internal/repository"
	"github.com/example/facewatch/internal/resultlog"
	"github.com/example/facewatch/internal/usecase"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// app holds the wired service for one command invocation.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *registry.Registry
	usecase  *usecase.RecognitionUseCase
	closers  []func() error
}

func newApp(ctx context.Context, configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger}

	repo := repository.NewKnownFaceRepository(cfg.Faces.KnownDir, logger)
	if err := repo.EnsureDir(); err != nil {
		a.Close()
		return nil, err
	}

	encoder, err := a.initEncoder(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Redis.Addr != "" {
		redisCtx, redisCancel := context.WithTimeout(ctx, 5*time.Second)
		defer redisCancel()
		redisClient, err := initRedis(redisCtx, cfg.Redis.Addr, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, redisClient.Close)
		encoder = faceencoder.NewCachingEncoder(encoder, faceencoder.NewRedisCache(redisClient), cfg.Redis.TTL.Duration, logger)
	}

	a.registry = registry.New(repo, encoder, logger)
	results := resultlog.New(cfg.Faces.MaxResults)
	a.usecase = usecase.NewRecognitionUseCase(a.registry, repo, encoder, results, usecase.Options{
		Tolerance:        cfg.Faces.Tolerance,
		DashboardResults: cfg.Server.DashboardResults,
	}, logger)

	return a, nil
}

func (a *app) initEncoder(ctx context.Context) (faceencoder.Encoder, error) {
	switch a.cfg.Encoder.Backend {
	case config.BackendWorker:
		argv := a.cfg.WorkerCommand()
		worker, err := pyworker.Start(pyworker.Command{Path: argv[0], Args: argv[1:]})
		if err != nil {
			return nil, fmt.Errorf("failed to start face worker: %w", err)
		}
		encoder := pyworker.NewEncoder(worker, a.logger)
		a.closers = append(a.closers, encoder.Close)
		a.logger.Info("face worker started", zap.Strings("command", argv))
		return encoder, nil
	default:
		encoder, conn, err := grpcclient.DialFaceEncoder(ctx, a.cfg.Encoder.Addr, a.cfg.Encoder.Timeout.Duration, a.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to face encoder: %w", err)
		}
		a.closers = append(a.closers, conn.Close)
		a.logger.Info("connected to face encoder", zap.String("addr", a.cfg.Encoder.Addr))
		return encoder, nil
	}
}

// Close releases encoder and cache connections in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
	_ = a.logger.Sync()
}

func (a *app) serve(ctx context.Context) error {
	if err := a.usecase.ReloadKnownFaces(ctx, nil); err != nil {
		return err
	}
	a.logger.Info("loaded known faces", zap.Int("count", a.registry.Len()))

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), handlers.RequestLogger(a.logger))
	r.MaxMultipartMemory = handlers.MaxUploadSize

	handlers.RegisterRoutes(r, a.usecase, a.logger)

	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("face recognition server listening", zap.String("addr", a.cfg.Server.Addr))
	return serveHTTPServer(server, a.cfg.Server.ShutdownTimeout.Duration, a.logger)
}

func initRedis(ctx context.Context, addr string, zapLogger *zap.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		zapLogger.Error("redis connection failed", zap.Error(err), zap.String("addr", addr))
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

func serveHTTPServer(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, nil, nil)
}

func serveHTTPServerWithListener(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener) error {
	return serveHTTPServerWithOptions(server, shutdownTimeout, logger, listener, nil)
}

func serveHTTPServerWithOptions(server *http.Server, shutdownTimeout time.Duration, logger *zap.Logger, listener net.Listener, signalCh <-chan os.Signal) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if listener != nil {
			err = server.Serve(listener)
		} else {
			err = server.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		errCh <- err
	}()

	var (
		sigCh       <-chan os.Signal
		stopSignals func()
	)

	if signalCh != nil {
		sigCh = signalCh
		stopSignals = func() {}
	} else {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		sigCh = ch
		stopSignals = func() {
			signal.Stop(ch)
		}
	}
	defer stopSignals()

	select {
	case err := <-errCh:
		return err
	case sig, ok := <-sigCh:
		if !ok {
			return <-errCh
		}
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return <-errCh
	}
}
