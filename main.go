package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/klauspost/compress/gzhttp"

	"protorelay/server"
	"protorelay/server/audit"
	"protorelay/server/config"
	"protorelay/server/health"
	"protorelay/server/logging"
	"protorelay/server/plugin"
	"protorelay/server/plugins/anticheat"
	"protorelay/server/plugins/builtin"
	"protorelay/server/plugins/movement"
)

const shutdownNotice = "Game server shutting down - Please reconnect from main menu."

// 中继入口：加载配置、注册中间件插件，启动 WebSocket 与管理接口
func main() {
	cfg, err := config.Load(".env", os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	if err := logging.Init(logging.Options{FilePath: cfg.LogFile, Level: cfg.LogLevel, Console: cfg.LogConsole}); err != nil {
		panic(err)
	}
	defer logging.Sync()
	log := logging.Log

	var sink audit.Sink = audit.Nop{}
	var async *audit.Async
	if cfg.AuditFile != "" {
		async = audit.NewAsync(audit.NewFileSink(cfg.AuditFile), 1024, logging.Named("audit"))
		sink = async
	}

	hub := server.NewHub(server.Options{
		TickInterval:         cfg.TickInterval(),
		SweepInterval:        cfg.SweepInterval,
		ReconcileInterval:    cfg.ReconcileInterval,
		SnapshotInterval:     cfg.SnapshotInterval,
		MaxFrameBytes:        cfg.MaxFrameBytes,
		MaxDecompressedBytes: cfg.MaxDecompressedBytes,
		QueueCeiling:         cfg.QueueCeiling,
		FrameRate:            cfg.FrameRate,
		FrameBurst:           cfg.FrameBurst,
		Health: health.Config{
			ZombieMessages:    cfg.ZombieMessages,
			ZombieWindow:      cfg.ZombieWindow,
			MaxConsecutiveErr: cfg.MaxConsecutiveErrors,
			InactivityTimeout: cfg.InactivityTimeout,
		},
		Audit: sink,
		Log:   logging.Named("hub"),
	})

	// 插件清单：顺序即注册顺序
	registry := plugin.NewRegistry(logging.Named("plugin"))
	err = registry.Add(
		builtin.New(builtin.Config{
			RateLimitInterval: cfg.RateLimitInterval,
			MinRoomNameLen:    cfg.MinRoomNameLen,
			MaxPlayersLimit:   cfg.MaxPlayersLimit,
			WelcomeText:       cfg.WelcomeText,
			WelcomeDelay:      cfg.WelcomeDelay,
			FilterPatterns:    cfg.FilterPatterns,
			FilterReplacement: cfg.FilterReplacement,
		}, hub.State(), hub.Feed(), sink, logging.Named("builtin")),
		anticheat.New(anticheat.DefaultConfig(), logging.Named("anticheat")),
		movement.New(movement.Config{
			MaxSpeed:          cfg.MaxSpeed,
			TeleportAllowance: cfg.TeleportAllowance,
			ThrottleInterval:  cfg.ThrottleInterval,
		}, logging.Named("movement")),
	)
	if err == nil {
		err = registry.RegisterAll(hub.Pipeline())
	}
	if err != nil {
		log.Fatalf("register plugins: %v", err)
	}

	query := server.NewQuery(hub, server.ServerInfo{
		Name:              cfg.ServerName,
		Version:           cfg.ServerVersion,
		Description:       cfg.Description,
		MaxPlayers:        cfg.MaxPlayersLimit,
		CountryCode:       cfg.CountryCode,
		SupportedVersions: cfg.SupportedVersions,
	}, cfg.IconFile, logging.Named("query"))

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.HandleWS)
	mux.Handle("/query", gzhttp.GzipHandler(http.HandlerFunc(query.HandleQuery)))
	server.NewAdmin(hub, cfg.AdminToken, registry.List(), logging.Named("admin")).Routes(mux)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}
	go func() {
		log.Infof("relay listening on %s (%d plugins)", cfg.Addr, len(registry.List()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	// 优雅退出（Ctrl+C）
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down...")

	hub.Shutdown(shutdownNotice)
	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warnw("http shutdown", "err", err)
	}
	cancel()
	<-hub.Done()
	if async != nil {
		if err := async.Close(shutdownCtx); err != nil {
			log.Warnw("audit flush incomplete", "err", err)
		}
	}
}
