package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/udp-forwarder/internal/api"
	"github.com/lorawan-server/udp-forwarder/internal/backend"
	"github.com/lorawan-server/udp-forwarder/internal/config"
	"github.com/lorawan-server/udp-forwarder/internal/forwarder"
	"github.com/lorawan-server/udp-forwarder/internal/storage"
)

func main() {
	// 命令行参数
	var configFile string
	flag.StringVar(&configFile, "config", "config/udp-forwarder.yml", "配置文件路径")
	flag.Parse()

	// 设置日志
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	// 加载配置
	cfg, err := config.Load(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("加载配置失败")
	}

	setupLogging(cfg.Log)

	gatewayID := cfg.Gateway.EUI()
	log.Info().Str("gateway", gatewayID.String()).Msg("UDP Forwarder 启动中...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 事件日志：配置了数据库时使用 PostgreSQL，否则保存在内存中
	var store storage.Store
	if cfg.Database.DSN != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.Database)
		if err != nil {
			log.Fatal().Err(err).Msg("连接数据库失败")
		}
		store = pg
		log.Info().Msg("已连接到数据库")
	} else {
		store = storage.NewMemoryStore(1000)
	}
	defer store.Close()

	// 连接后端
	be, err := backend.New(cfg.Backend, gatewayID)
	if err != nil {
		log.Fatal().Err(err).Str("type", cfg.Backend.Type).Msg("连接后端失败")
	}
	defer be.Close()

	log.Info().Str("type", cfg.Backend.Type).Msg("已连接到后端")

	fwd := forwarder.New(cfg.Forwarder, gatewayID, be, store)

	if err := be.Start(ctx, fwd); err != nil {
		log.Fatal().Err(err).Msg("订阅网关事件失败")
	}

	// 启动服务
	go func() {
		if err := fwd.Start(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("UDP 转发器停止")
		}
	}()

	var apiServer *api.RESTServer
	if cfg.API.Port != 0 {
		apiServer = api.NewRESTServer(cfg.API, gatewayID.String(), fwd, store)
		go func() {
			if err := apiServer.ListenAndServe(); err != nil {
				log.Error().Err(err).Msg("API 服务停止")
			}
		}()
	}

	// 等待信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("收到信号，正在关闭...")

	// 取消上下文
	cancel()

	if apiServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := apiServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("关闭 API 服务失败")
		}
	}

	log.Info().Msg("UDP Forwarder 已停止")
}

func setupLogging(cfg config.LogConfig) {
	if cfg.Format == "json" {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}

	// 设置日志级别
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
}
