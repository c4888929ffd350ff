package health

import (
	"context"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/thumbforge/preview-processor/internal/global"
)

func New(gCtx global.Context) <-chan struct{} {
	done := make(chan struct{})

	srv := fasthttp.Server{
		Handler: func(ctx *fasthttp.RequestCtx) {
			defer func() {
				if err := recover(); err != nil {
					zap.S().Errorw("panic in health",
						"panic", err,
					)
				}
			}()

			redisDown := false
			s3Down := false
			deviceDown := false

			if gCtx.Inst().Redis != nil {
				lCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
				if err := gCtx.Inst().Redis.Ping(lCtx); err != nil {
					redisDown = true
					zap.S().Warnw("redis is not responding",
						"error", err,
					)
				}
				cancel()
			}

			if gCtx.Inst().S3 != nil {
				lCtx, cancel := context.WithTimeout(context.Background(), time.Second*5)
				if _, err := gCtx.Inst().S3.ListBuckets(lCtx); err != nil {
					s3Down = true
					zap.S().Warnw("s3 is not responding",
						"error", err,
					)
				}
				cancel()
			}

			if gCtx.Inst().Device != nil && !gCtx.Inst().Device.Initialized() {
				deviceDown = true
				zap.S().Warnw("device context is not initialized")
			}

			if redisDown || s3Down || deviceDown {
				ctx.SetStatusCode(500)
			}
		},
	}

	go func() {
		defer close(done)
		zap.S().Infow("Health enabled",
			"bind", gCtx.Config().Health.Bind,
		)

		if err := srv.ListenAndServe(gCtx.Config().Health.Bind); err != nil {
			zap.S().Fatalw("failed to bind health",
				"error", err,
			)
		}
	}()

	go func() {
		<-gCtx.Done()

		_ = srv.Shutdown()
	}()

	return done
}
