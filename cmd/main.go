package main

import (
	"context"
	"os"
	"os/signal"
	"runtime"
	"runtime/debug"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/bugsnag/panicwrap"
	"go.uber.org/zap"

	"github.com/thumbforge/preview-processor/internal/configure"
	"github.com/thumbforge/preview-processor/internal/device"
	"github.com/thumbforge/preview-processor/internal/global"
	"github.com/thumbforge/preview-processor/internal/health"
	"github.com/thumbforge/preview-processor/internal/monitoring"
	"github.com/thumbforge/preview-processor/internal/pipeline"
	svcprometheus "github.com/thumbforge/preview-processor/internal/svc/prometheus"
	svcredis "github.com/thumbforge/preview-processor/internal/svc/redis"
	svcs3 "github.com/thumbforge/preview-processor/internal/svc/s3"
	"github.com/thumbforge/preview-processor/internal/worker"
)

var (
	Version = "development"
	Unix    = ""
	Time    = "unknown"
	User    = "unknown"
)

func init() {
	debug.SetGCPercent(2000)
	if i, err := strconv.Atoi(Unix); err == nil {
		Time = time.Unix(int64(i), 0).Format(time.RFC3339)
	}
}

func main() {
	config := configure.New()

	exitStatus, err := panicwrap.BasicWrap(func(s string) {
		zap.S().Error("panic: ", s)
	})
	if err != nil {
		zap.S().Errorw("failed to setup panic handler: ",
			"error", err,
		)
		os.Exit(2)
	}

	if exitStatus >= 0 {
		os.Exit(exitStatus)
	}

	if !config.NoHeader {
		zap.S().Info("Preview Processor")
		zap.S().Infof("Version: %s", Version)
		zap.S().Infof("build.Time: %s", Time)
		zap.S().Infof("build.User: %s", User)
	}

	zap.S().Debug("MaxProcs: ", runtime.GOMAXPROCS(0))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	gCtx, cancel := global.WithCancel(global.New(context.Background(), config))

	dev := device.New(device.Options{
		RequireGPU:  config.Device.RequireGPU,
		Software:    config.Device.Software,
		MaxMemoryMB: config.Device.MaxMemoryMB,
	})
	if err := dev.Init(); err != nil {
		zap.S().Fatalw("failed to initialize device context",
			"error", err,
		)
	}
	gCtx.Inst().Device = dev

	pp, err := pipeline.New(dev, pipeline.PoliciesFromConfig(config))
	if err != nil {
		zap.S().Fatalw("failed to initialize pipeline",
			"error", err,
		)
	}
	gCtx.Inst().Pipeline = pp

	gCtx.Inst().Redis, err = svcredis.New(gCtx, svcredis.Options{
		Addr:     config.Redis.Addr,
		Database: config.Redis.Database,
	})
	if err != nil {
		zap.S().Fatalw("failed to connect to redis",
			"error", err,
		)
	}

	gCtx.Inst().S3, err = svcs3.New(gCtx, svcs3.Options{
		Region:      config.S3.Region,
		Endpoint:    config.S3.Endpoint,
		AccessToken: config.S3.AccessToken,
		SecretKey:   config.S3.SecretKey,
	})
	if err != nil {
		zap.S().Fatalw("failed to connect to s3",
			"error", err,
		)
	}

	gCtx.Inst().Prometheus = svcprometheus.New(svcprometheus.Options{
		Labels: config.Monitoring.Labels.ToPrometheus(),
	})

	wg := sync.WaitGroup{}

	if gCtx.Config().Health.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-health.New(gCtx)
		}()
	}
	if gCtx.Config().Monitoring.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-monitoring.New(gCtx)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-worker.Run(gCtx)
	}()

	done := make(chan struct{})
	go func() {
		<-sig
		cancel()
		go func() {
			select {
			case <-time.After(time.Minute):
			case <-sig:
			}
			zap.S().Fatal("force shutdown")
		}()

		zap.S().Info("shutting down")

		wg.Wait()

		pp.Close()
		dev.Teardown()

		close(done)
	}()

	zap.S().Info("running")

	<-done

	zap.S().Info("shutdown")
	os.Exit(0)
}
