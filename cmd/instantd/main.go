// Command instantd is the Instant chat server: the request/WebSocket
// pipeline, room fabric, and static-file surface wired together with its
// ambient stack.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/instant-chat/instant/internal/bus"
	"github.com/instant-chat/instant/internal/config"
	"github.com/instant-chat/instant/internal/cookiecodec"
	"github.com/instant-chat/instant/internal/distributor"
	"github.com/instant-chat/instant/internal/idallocator"
	"github.com/instant-chat/instant/internal/logging"
	"github.com/instant-chat/instant/internal/ratelimit"
	"github.com/instant-chat/instant/internal/room"
	"github.com/instant-chat/instant/internal/server"
	"github.com/instant-chat/instant/internal/tracing"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

// run returns the process exit code: 0 clean, 1 bad
// arguments, 2 startup-script failure, >0 other runtime fatal.
func run() int {
	_ = godotenv.Load()

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	if err := logging.InitializeWith(cfg.GoEnv != "production", cfg.LogLevel, cfg.DebugLogPath); err != nil {
		fmt.Fprintln(os.Stderr, "failed to initialize logging:", err)
		return 3
	}
	ctx := context.Background()

	accessLogger, err := logging.NewAccessLogger(cfg.GoEnv != "production", cfg.HTTPLogPath)
	if err != nil {
		logging.Error(ctx, "failed to open http access log", zap.Error(err))
		return 3
	}
	defer func() { _ = accessLogger.Sync() }()

	if cfg.StartupCmd != "" {
		if err := runStartupCmd(ctx, cfg.StartupCmd); err != nil {
			logging.Error(ctx, "startup command failed", zap.Error(err))
			return 2
		}
	}

	tp, err := tracing.InitTracer(ctx, "instantd", cfg.TracingCollectorAddr)
	if err != nil {
		logging.Error(ctx, "failed to initialize tracer", zap.Error(err))
		return 3
	}
	if tp != nil {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shutdownCtx)
		}()
	}

	key, err := cookiecodec.LoadOrGenerateKey(cfg.CookiesKeyfile)
	if err != nil {
		logging.Error(ctx, "failed to load cookie signing key", zap.Error(err))
		return 3
	}
	codec := cookiecodec.New(key)

	var redisSvc *bus.Service
	if cfg.RedisEnabled {
		redisSvc, err = bus.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Error(ctx, "failed to connect to redis", zap.Error(err))
			return 3
		}
		defer redisSvc.Close()
	}

	rateLimiter, err := ratelimit.NewRateLimiter(cfg, redisSvc)
	if err != nil {
		logging.Error(ctx, "failed to build rate limiter", zap.Error(err))
		return 3
	}

	alloc := idallocator.New()
	group := room.NewGroup(alloc)
	dist := distributor.New(group, rateLimiter)

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := server.New(server.Deps{
		Config:       cfg,
		Codec:        codec,
		Group:        group,
		Distributor:  dist,
		Allocator:    alloc,
		RateLimiter:  rateLimiter,
		RedisService: redisSvc,
		TracerName:   tracerName(tp != nil),
		AccessLogger: accessLogger,
	})

	host := cfg.Host
	if host == "*" {
		host = ""
	}
	addr := fmt.Sprintf("%s:%d", host, cfg.Port)

	httpSrv := &http.Server{
		Addr:    addr,
		Handler: srv.Engine,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info(ctx, "instantd starting", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logging.Error(ctx, "server failed to start", zap.Error(err))
		return 4
	case <-quit:
		logging.Info(ctx, "shutting down instantd")
	}

	const shutdownGrace = 5 * time.Second
	srv.Shutdown(ctx, shutdownGrace)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "forced shutdown", zap.Error(err))
	}

	logging.Info(ctx, "instantd exited")
	return 0
}

// tracerName returns the instrumentation name otelgin should use, or "" to
// skip the middleware entirely when tracing is disabled (tp == nil).
func tracerName(enabled bool) string {
	if !enabled {
		return ""
	}
	return "instantd"
}

// runStartupCmd runs cfg.StartupCmd through the user's shell before the main
// loop (--startup-cmd/-c), wiring its output to the structured
// logger. A non-zero exit is a startup failure (exit code 2).
func runStartupCmd(ctx context.Context, cmdline string) error {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	cmd := exec.CommandContext(ctx, shell, "-c", cmdline)
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		logging.Info(ctx, "startup command output", zap.ByteString("output", out))
	}
	return err
}
