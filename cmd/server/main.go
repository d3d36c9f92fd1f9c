package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"lineage-analyzer/internal/api"
	"lineage-analyzer/internal/app"
	"lineage-analyzer/internal/config"
	"lineage-analyzer/internal/logging"
)

func main() {
	flags := pflag.NewFlagSet("lineage-server", pflag.ExitOnError)
	cfgFile := flags.StringP("config", "c", "", "配置文件 (默认 lineage.yaml)")
	flags.String("addr", ":8080", "监听地址")
	flags.String("log-level", "info", "日志级别")
	flags.String("log-format", "json", "日志格式 (json/console)")
	flags.String("store", "memory", "图存储 (memory/sqlite)")
	flags.String("store-path", "lineage.db", "SQLite 文件路径")
	flags.Bool("redis", false, "启用 Redis 锁和事件发布")
	flags.String("redis-addr", "localhost:6379", "Redis 地址")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(*cfgFile, flags)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("server stopped", zap.Error(err))
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: api.NewRouter(api.Deps{
			Store:    a.Store,
			Engine:   a.Engine,
			Evidence: a.Evidence,
			Impact:   a.Impact,
			Sources:  a.Registry.IDs,
			Events:   a.Hub,
			Logger:   logger.Named("api"),
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	eg, egctx := errgroup.WithContext(ctx)
	srv.BaseContext = func(net.Listener) context.Context { return egctx }

	eg.Go(func() error {
		fmt.Printf("🚀 Lineage Analyzer Server\n")
		fmt.Printf("📡 服务地址: %s\n", cfg.Server.Addr)
		fmt.Printf("📊 数据源: %v\n\n", a.Registry.IDs())
		logger.Info("listening", zap.String("addr", cfg.Server.Addr), zap.String("store", cfg.Store.Driver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	eg.Go(func() error {
		<-egctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		// WebSocket 连接不受 Shutdown 管理，先断开
		a.Hub.Close()
		return srv.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}
