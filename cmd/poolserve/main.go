// Package main is the entry point for poolserve.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"poolserve/internal/api"
	"poolserve/internal/client"
	"poolserve/internal/config"
	"poolserve/internal/events"
	"poolserve/internal/logger"
	"poolserve/internal/metrics"
	"poolserve/internal/server"
	"poolserve/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	version = "dev"
)

// flags はコマンドラインフラグ
type flags struct {
	configFile  string
	addr        string
	workers     int
	queue       int
	maxConns    int
	adminAddr   string
	logLevel    string
	staticDir   string
	showVersion bool

	loadgen     string
	requests    uint64
	concurrency int
	path        string
}

func main() {
	var f flags
	flag.StringVar(&f.configFile, "config", "", "設定ファイルパス (YAML/JSON)")
	flag.StringVar(&f.addr, "addr", "", "ラインサーバーの待ち受けアドレス (デフォルト 127.0.0.1:7878)")
	flag.IntVar(&f.workers, "workers", 0, "ワーカー数")
	flag.IntVar(&f.queue, "queue", 0, "キュー容量 (0で無制限)")
	flag.IntVar(&f.maxConns, "max-conns", 0, "n 件の接続を受け付けたら停止 (0で無制限)")
	flag.StringVar(&f.adminAddr, "admin", "", "管理APIのアドレス (例: 127.0.0.1:8080、空で無効)")
	flag.StringVar(&f.logLevel, "log-level", "", "ログレベル (debug, info, warn, error)")
	flag.StringVar(&f.staticDir, "static", "", "index.html と 404.html を置いたディレクトリ")
	flag.BoolVar(&f.showVersion, "version", false, "バージョンを表示")
	flag.StringVar(&f.loadgen, "loadgen", "", "負荷生成モード: 対象サーバーのアドレス")
	flag.Uint64Var(&f.requests, "requests", 100, "負荷生成モードのリクエスト数")
	flag.IntVar(&f.concurrency, "concurrency", 4, "負荷生成モードの同時実行数")
	flag.StringVar(&f.path, "path", "/", "負荷生成モードのリクエストパス")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `poolserve - Line Server on a Bounded Worker Pool

Usage:
  poolserve [options]

Options:
`)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Examples:
  # 4ワーカーで起動
  poolserve --workers 4

  # 2件受け付けたら停止（グレースフルシャットダウンの確認）
  poolserve --max-conns 2

  # 設定ファイルと管理APIを使う
  poolserve --config poolserve.yaml --admin 127.0.0.1:8080

  # 起動中のサーバーに負荷をかける
  poolserve --loadgen 127.0.0.1:7878 --requests 1000 --concurrency 8
`)
	}

	flag.Parse()

	// バージョン表示
	if f.showVersion {
		fmt.Printf("poolserve version %s\n", version)
		return
	}

	set := make(map[string]bool)
	flag.Visit(func(fl *flag.Flag) { set[fl.Name] = true })

	cfg, err := buildConfig(f, set)
	if err != nil {
		logger.Error("", "設定エラー: %v", err)
		os.Exit(1)
	}
	level, _ := cfg.LogLevel()
	logger.Default.SetLevel(level)

	ctx, cancel := signalContext()
	defer cancel()

	if f.loadgen != "" {
		if err := runLoadgen(ctx, f); err != nil {
			logger.Error("", "負荷生成エラー: %v", err)
			os.Exit(1)
		}
		return
	}

	if err := runServe(ctx, cfg); err != nil {
		logger.Error("", "サーバーエラー: %v", err)
		os.Exit(1)
	}
}

// buildConfig は設定ファイルを読み込み、明示されたフラグで上書きする
func buildConfig(f flags, set map[string]bool) (*config.FileConfig, error) {
	cfg := config.Default()
	if f.configFile != "" {
		loaded, err := config.LoadFile(f.configFile)
		if err != nil {
			return nil, fmt.Errorf("設定ファイル読み込みエラー: %w", err)
		}
		cfg = loaded
	}

	// フラグが明示的に指定された場合のみオーバーライド
	if set["addr"] {
		cfg.Server.Addr = f.addr
	}
	if set["workers"] {
		cfg.Pool.Workers = f.workers
	}
	if set["queue"] {
		cfg.Pool.QueueCapacity = f.queue
	}
	if set["max-conns"] {
		cfg.Server.MaxConnections = f.maxConns
	}
	if set["admin"] {
		cfg.Admin.Addr = f.adminAddr
	}
	if set["log-level"] {
		cfg.Log.Level = f.logLevel
	}
	if set["static"] {
		cfg.Server.StaticDir = f.staticDir
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定検証エラー: %w", err)
	}
	return cfg, nil
}

// signalContext は SIGINT/SIGTERM でキャンセルされる context を返す
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			fmt.Println("\n中断シグナルを受信、終了中...")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

// runServe はプール、ラインサーバー、管理APIを組み立てて実行する
func runServe(ctx context.Context, cfg *config.FileConfig) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	poolMetrics := metrics.NewPoolMetrics(reg)

	bus := events.NewBus()
	defer bus.Close()

	poolConfig, err := cfg.PoolConfig()
	if err != nil {
		return err
	}
	poolConfig.Observer = worker.MultiObserver(poolMetrics, events.NewObserver(bus))
	poolConfig.Logger = logger.Default

	pool, err := worker.NewWithConfig(poolConfig)
	if err != nil {
		return err
	}
	poolMetrics.TrackQueue(pool.QueueLen)

	serverConfig, err := cfg.ServerConfig()
	if err != nil {
		pool.Close()
		return err
	}
	serverConfig.Logger = logger.Default
	serverConfig.Events = bus
	serverConfig.Requests = metrics.NewRequests()
	srv := server.New(serverConfig, pool)

	adminDone := make(chan error, 1)
	adminCtx, stopAdmin := context.WithCancel(ctx)
	defer stopAdmin()
	if cfg.AdminEnabled() {
		adminConfig, err := cfg.AdminConfig()
		if err != nil {
			pool.Close()
			return err
		}
		adminConfig.Logger = logger.Default
		admin := api.NewServer(adminConfig, pool, serverConfig.Requests, bus, reg)
		go func() { adminDone <- admin.Start(adminCtx) }()
	} else {
		adminDone <- nil
	}

	serveErr := srv.ListenAndServe(ctx)

	// 受け付け済みの接続は全て処理してから終了する
	pool.Close()
	bus.Publish(events.NewPoolClosedEvent())
	fmt.Print(srv.Requests().Snapshot().Report())

	stopAdmin()
	adminErr := <-adminDone
	return errors.Join(serveErr, adminErr)
}

// runLoadgen は対象サーバーに負荷をかけてレポートを出力する
func runLoadgen(ctx context.Context, f flags) error {
	cl := client.New(client.Config{
		Addr:    f.loadgen,
		Workers: f.concurrency,
		Paths:   []string{f.path},
		Timeout: client.DefaultConfig().Timeout,
		Logger:  logger.Default,
	})

	fmt.Println("poolserve - Load Generator")
	fmt.Println("==========================")
	fmt.Printf("Target: %s%s\n", f.loadgen, f.path)
	fmt.Printf("Requests: %d, Concurrency: %d\n", f.requests, f.concurrency)
	fmt.Println("==========================")
	fmt.Println()

	snapshot, err := cl.RunRequests(ctx, f.requests)
	if err != nil {
		return err
	}
	fmt.Print(snapshot.Report())
	return nil
}
