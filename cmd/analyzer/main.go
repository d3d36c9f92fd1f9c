package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lineage-analyzer/internal/app"
	"lineage-analyzer/internal/config"
	"lineage-analyzer/internal/logging"
)

var (
	cfgFile    string
	jsonOutput bool
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "lineage-analyzer",
		Short:         "列级血缘发现与影响分析",
		Long:          "从数据源元数据推断列间关系，维护血缘图，提供影响分析、采样证据和连接校验",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&cfgFile, "config", "c", "", "配置文件 (默认 lineage.yaml)")
	pf.BoolVar(&jsonOutput, "json", false, "以 JSON 输出结果")
	pf.String("log-level", "info", "日志级别 (debug/info/warn/error)")
	pf.String("log-format", "console", "日志格式 (json/console)")
	pf.String("store", "memory", "图存储 (memory/sqlite)")
	pf.String("store-path", "lineage.db", "SQLite 文件路径")
	pf.Bool("redis", false, "启用 Redis 锁和事件发布")
	pf.String("redis-addr", "localhost:6379", "Redis 地址")

	rootCmd.AddCommand(
		newDiscoverCmd(),
		newImpactCmd(),
		newPathCmd(),
		newTraceCmd(),
		newValidateCmd(),
		newAnalyzeSQLCmd(),
		newGraphCmd(),
	)
	return rootCmd
}

// openApp 加载配置并组装运行时
func openApp(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, err
	}
	a, err := app.New(ctxOf(cmd), cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return a, nil
}

func closeApp(a *app.App) {
	if err := a.Close(); err != nil {
		a.Logger.Warn("close failed", zap.Error(err))
	}
	_ = a.Logger.Sync()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func ctxOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printf(cmd *cobra.Command, format string, args ...interface{}) {
	fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
