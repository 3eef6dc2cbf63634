// attendance-report 一次性任务：为启用了邮件配置的医院发送当日考勤报表（由 cron 调度）
package main

import (
	"context"
	"flag"
	"os"
	"time"

	"wisefido-attendance/common/database"
	"wisefido-attendance/common/logger"
	commonredis "wisefido-attendance/common/redis"
	"wisefido-attendance/internal/config"
	"wisefido-attendance/internal/repository"
	"wisefido-attendance/internal/service"
	"wisefido-attendance/internal/store"

	"go.uber.org/zap"
)

func main() {
	os.Exit(run())
}

// run 返回进程退出码；有发送失败时为 1
func run() int {
	var dateFlag = flag.String("date", "", "Report date YYYY-MM-DD in REPORT_TIMEZONE (default: today)")
	var hospitalFlag = flag.String("hospital", "", "Only send the report for this hospital id")
	var skipPull = flag.Bool("no-pull", false, "Do not pull from the remote store before reporting")
	flag.Parse()

	cfg := config.Load()
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, "attendance-report")
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	if cfg.SMTP.Host == "" {
		log.Fatal("SMTP_HOST is not configured")
	}

	loc := cfg.ReportLocation()
	day := time.Now().In(loc)
	if *dateFlag != "" {
		d, err := time.ParseInLocation("2006-01-02", *dateFlag, loc)
		if err != nil {
			log.Fatal("Invalid -date", zap.String("date", *dateFlag), zap.Error(err))
		}
		day = d
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	redisClient := commonredis.NewRedisClient(&cfg.Redis)
	defer commonredis.Close(redisClient)
	readyCtx, readyCancel := context.WithTimeout(ctx, 15*time.Second)
	err = commonredis.WaitReady(readyCtx, redisClient, time.Second)
	readyCancel()
	if err != nil {
		log.Fatal("Local store unavailable", zap.Error(err))
	}
	local := store.NewLocalStore(store.NewRedisKV(redisClient))

	// 报表以本地数据为准；有远端时先拉取一次
	var remote repository.RemoteStore
	if cfg.RemoteDriver == config.RemotePostgres && !*skipPull {
		db, err := database.NewPostgresDB(&cfg.Database)
		if err != nil {
			log.Warn("Remote database unreachable; reporting from local data", zap.Error(err))
		} else {
			defer database.Close(db)
			remote = repository.NewPostgresRemoteStore(db, log)
		}
	} else if cfg.RemoteDriver == config.RemoteMongo && !*skipPull {
		mdb, err := repository.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			log.Warn("Remote mongo unavailable; reporting from local data", zap.Error(err))
		} else {
			remote = repository.NewMongoRemoteStore(mdb, log)
		}
	}
	if remote != nil {
		syncSvc := service.NewSyncService(local, remote, service.SyncOptions{Timeout: cfg.Sync.Timeout}, log)
		res := syncSvc.PullAndReconcile(ctx)
		log.Info("Pre-report reconcile", zap.Bool("success", res.Success), zap.String("message", res.Message))
	}

	var summarizer service.SummaryClient
	if cfg.Report.SummaryURL != "" {
		summarizer = service.NewRestSummaryClient(cfg.Report.SummaryURL, cfg.Report.SummaryToken, cfg.Report.SampleSize, log)
	}
	reports, err := service.NewReportService(local, summarizer, service.ReportPolicy{
		Location:    loc,
		LateAfter:   cfg.Report.LateAfter,
		EarlyBefore: cfg.Report.EarlyBefore,
	}, log)
	if err != nil {
		log.Fatal("Invalid report policy", zap.Error(err))
	}
	mailer := service.NewReportMailer(service.NewMailDialer(cfg.SMTP), cfg.SMTP, reports, loc, log)

	hospitals, err := local.Hospitals.All(ctx)
	if err != nil {
		log.Fatal("Failed to load hospitals", zap.Error(err))
	}

	sent, failed := 0, 0
	for _, h := range hospitals {
		if *hospitalFlag != "" && h.ID != *hospitalFlag {
			continue
		}
		ok, err := mailer.SendDaily(ctx, h, day)
		if err != nil {
			failed++
			continue
		}
		if ok {
			sent++
		}
	}
	log.Info("Attendance report job finished",
		zap.String("date", day.Format("2006-01-02")),
		zap.Int("sent", sent),
		zap.Int("failed", failed),
	)
	if failed > 0 {
		return 1
	}
	return 0
}
