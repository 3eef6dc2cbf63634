package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wisefido-attendance/common/database"
	"wisefido-attendance/common/logger"
	"wisefido-attendance/common/mqtt"
	commonredis "wisefido-attendance/common/redis"
	"wisefido-attendance/internal/config"
	"wisefido-attendance/internal/device"
	"wisefido-attendance/internal/domain"
	"wisefido-attendance/internal/geo"
	httpapi "wisefido-attendance/internal/http"
	"wisefido-attendance/internal/repository"
	"wisefido-attendance/internal/service"
	"wisefido-attendance/internal/store"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()

	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "wisefido-attendance")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 本地存储：redis（持久化）或 memory（开发/演示，重启丢数据）
	var (
		kv          store.KV
		redisClient *redis.Client
	)
	switch cfg.LocalStore {
	case "memory":
		log.Warn("Using in-memory local store; data is lost on restart")
		kv = store.NewMemoryKV()
	default:
		redisClient = commonredis.NewRedisClient(&cfg.Redis)
		readyCtx, readyCancel := context.WithTimeout(ctx, 30*time.Second)
		err := commonredis.WaitReady(readyCtx, redisClient, time.Second)
		readyCancel()
		if err != nil {
			log.Fatal("Local store unavailable", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}
		kv = store.NewRedisKV(redisClient)
	}
	local := store.NewLocalStore(kv)
	identity := device.NewIdentity(kv)
	deviceID, err := identity.GetOrCreate(ctx)
	if err != nil {
		log.Fatal("Failed to resolve device id", zap.Error(err))
	}
	log.Info("Device identity ready", zap.String("device_suffix", domain.DeviceSuffix(deviceID)))

	// 远端：启动时不可达不是致命错误，配置错误才是
	remote, db, err := openRemote(cfg, log)
	if err != nil {
		log.Fatal("Invalid remote store configuration", zap.String("driver", cfg.RemoteDriver), zap.Error(err))
	}

	// 定位：优先使用 UI 随请求上报的结果，其次 MQTT 定位服务
	locator := geo.ContextLocator{}
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		c, err := mqtt.NewClient(&cfg.MQTT.MQTTConfig, log)
		if err != nil {
			log.Warn("MQTT location source unavailable", zap.Error(err))
		} else {
			mqttClient = c
			locator.Fallback = geo.NewMQTTLocator(c, deviceID, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, log)
		}
	}

	var events service.EventPublisher = service.NopPublisher{}
	if cfg.Events.Enabled && redisClient != nil {
		events = service.NewStreamPublisher(redisClient, cfg.Events.Stream, cfg.Events.MaxLen, log)
	}

	syncSvc := service.NewSyncService(local, remote, service.SyncOptions{
		Timeout:    cfg.Sync.Timeout,
		BackoffMin: cfg.Sync.PushMin,
		BackoffMax: cfg.Sync.PushMax,
	}, log)
	tokens := service.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	authSvc := service.NewAuthService(local, identity, syncSvc, tokens, service.SuperAdminCredentials{
		Username: cfg.Auth.SuperAdminUsername,
		Password: cfg.Auth.SuperAdminPassword,
	}, log)
	opts := service.AttendanceOptions{
		GPSTolerance:    cfg.Attendance.GPSTolerance,
		LocationTimeout: cfg.Attendance.LocationTimeout,
		StrictDevice:    cfg.Attendance.DeviceCheckMode == config.DeviceCheckStrict,
	}
	attendance := service.NewAttendanceService(local, identity, authSvc, syncSvc, locator, events, opts, log)
	hospitals := service.NewHospitalService(local, syncSvc, locator, opts, log)
	transfer := service.NewTransferService(local, syncSvc, log)

	var summarizer service.SummaryClient
	if cfg.Report.SummaryURL != "" {
		summarizer = service.NewRestSummaryClient(cfg.Report.SummaryURL, cfg.Report.SummaryToken, cfg.Report.SampleSize, log)
	}
	loc := cfg.ReportLocation()
	reports, err := service.NewReportService(local, summarizer, service.ReportPolicy{
		Location:    loc,
		LateAfter:   cfg.Report.LateAfter,
		EarlyBefore: cfg.Report.EarlyBefore,
	}, log)
	if err != nil {
		log.Fatal("Invalid report policy", zap.Error(err))
	}

	router := httpapi.NewRouter(httpapi.NewAuthenticator(authSvc, log), log)
	router.RegisterHealthRoutes()
	router.RegisterAuthRoutes(httpapi.NewAuthHandler(authSvc, log))
	router.RegisterAttendanceRoutes(httpapi.NewAttendanceHandler(attendance, log))
	router.RegisterSyncRoutes(httpapi.NewSyncHandler(syncSvc, log))
	router.RegisterTransferRoutes(httpapi.NewTransferHandler(transfer, log))
	router.RegisterAdminRoutes(httpapi.NewAdminHandler(hospitals, log))
	router.RegisterReportRoutes(httpapi.NewReportHandler(reports, loc, log))
	router.RegisterDeviceRoutes(httpapi.NewDeviceHandler(identity, log))

	if remote != nil {
		go syncSvc.RunPusher(ctx)
		go syncSvc.Run(ctx, cfg.Sync.Interval)
	}

	srv := service.NewServer(cfg.HTTP.Addr, router, log)
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("Shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			log.Error("HTTP server stopped", zap.Error(err))
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Stop(shutdownCtx)
	if mqttClient != nil {
		mqttClient.Disconnect()
	}
	if redisClient != nil {
		_ = commonredis.Close(redisClient)
	}
	_ = database.Close(db)
}

// openRemote 按 REMOTE_DRIVER 创建远端存储；返回 nil 表示单机模式
// 配置了远端时启动时不可达也照常创建：写入进入 outbox，恢复连通后由后台协程推送
func openRemote(cfg *config.Config, log *zap.Logger) (repository.RemoteStore, *sql.DB, error) {
	switch cfg.RemoteDriver {
	case config.RemotePostgres:
		db, err := database.OpenPostgresDB(&cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewPostgresRemoteStore(db, log), db, nil
	case config.RemoteMongo:
		// mongo.Connect 不等待服务器可达
		ctx, cancel := context.WithTimeout(context.Background(), cfg.Mongo.Timeout)
		defer cancel()
		mdb, err := repository.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewMongoRemoteStore(mdb, log), nil, nil
	case config.RemoteMemory:
		log.Warn("Using in-memory remote store")
		return repository.NewMemoryRemoteStore(), nil, nil
	default:
		log.Info("No remote store configured; running local-only")
		return nil, nil, nil
	}
}
