// Package worker consumes preview tasks from the jobs queue, renders the
// requested tiers through the pipeline and publishes results. Failed tasks
// cycle through the retry queue until the retry budget runs out, then land
// on the failed queue.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/thumbforge/preview-processor/internal/global"
	"github.com/thumbforge/preview-processor/internal/instance"
	"github.com/thumbforge/preview-processor/task"
)

var fetchTimeout = 5 * time.Second

// Run starts the consume loop and returns a channel that closes once every
// in-flight task has finished after shutdown.
func Run(gCtx global.Context) <-chan struct{} {
	jobCount := gCtx.Config().Worker.Jobs
	if jobCount <= 0 {
		jobCount = runtime.GOMAXPROCS(0)
	}

	workers := make(chan Worker, jobCount)
	for i := 0; i < jobCount; i++ {
		workers <- Worker{}
	}

	done := make(chan struct{})

	zap.S().Infof("Starting job worker with %d jobs", jobCount)

	go func() {
		defer close(done)

		for {
			select {
			case <-gCtx.Done():
				// Drain: every outstanding worker slot returns before the
				// done channel closes.
				for i := 0; i < jobCount; i++ {
					<-workers
				}

				return
			default:
			}

			data, err := fetchNext(gCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					continue
				}

				if !errors.Is(err, instance.ErrNoJob) {
					zap.S().Errorw("failed to fetch job",
						"error", err,
					)
					time.Sleep(time.Second)
				}

				continue
			}

			t := task.Task{}
			if err := json.Unmarshal(data, &t); err != nil {
				zap.S().Warnw("bad task payload",
					"error", err,
				)

				_ = gCtx.Inst().Redis.Push(gCtx, gCtx.Config().Redis.FailedQueue, data)

				continue
			}

			if t.ID == "" {
				t.ID = uuid.New().String()
			}

			zap.S().Infow("new task",
				"task_id", t.ID,
			)

			worker := <-workers

			go func() {
				defer func() {
					workers <- worker
				}()

				processTask(gCtx, worker, t)
			}()
		}
	}()

	return done
}

// fetchNext prefers fresh jobs and falls back to the retry queue when the
// jobs queue stays empty for a full fetch window.
func fetchNext(gCtx global.Context) ([]byte, error) {
	data, err := gCtx.Inst().Redis.Fetch(gCtx, gCtx.Config().Redis.JobsQueue, fetchTimeout)
	if err == nil {
		return data, nil
	}

	if !errors.Is(err, instance.ErrNoJob) {
		return nil, err
	}

	return gCtx.Inst().Redis.Fetch(gCtx, gCtx.Config().Redis.RetryQueue, time.Second)
}

func processTask(gCtx global.Context, worker Worker, t task.Task) {
	timeout := t.Limits.MaxProcessingTime
	if timeout <= 0 {
		timeout = time.Duration(gCtx.Config().Worker.TimeoutSeconds) * time.Second
	}

	ctx, cancel := global.WithTimeout(gCtx, timeout)
	defer cancel()

	result := task.Result{
		ID:    t.ID,
		State: task.ResultStateFailed,
	}

	err := worker.Work(ctx, t, &result)
	if err != nil {
		result.Message = err.Error()

		zap.S().Errorw("task processing failed",
			"task_id", t.ID,
			"error", err,
		)

		retryTask(gCtx, t)
	} else {
		result.State = task.ResultStateSuccess
	}

	resultData, err := json.Marshal(result)
	if err != nil {
		zap.S().Errorw("failed to marshal result",
			"error", err,
		)

		return
	}

	if err := gCtx.Inst().Redis.Push(gCtx, gCtx.Config().Redis.DoneQueue, resultData); err != nil {
		zap.S().Errorw("failed to publish result",
			"error", err,
		)
	}
}

func retryTask(gCtx global.Context, t task.Task) {
	t.RetryCount++

	queue := gCtx.Config().Redis.RetryQueue
	if t.RetryCount >= gCtx.Config().Worker.MaxRetries {
		queue = gCtx.Config().Redis.FailedQueue

		zap.S().Warnw("task exceeded max retries",
			"task_id", t.ID,
			"retries", t.RetryCount,
		)
	}

	data, err := json.Marshal(t)
	if err != nil {
		zap.S().Errorw("failed to marshal task for retry",
			"error", err,
		)

		return
	}

	if err := gCtx.Inst().Redis.Push(gCtx, queue, data); err != nil {
		zap.S().Errorw("failed to requeue task",
			"task_id", t.ID,
			"error", err,
		)
	}
}
