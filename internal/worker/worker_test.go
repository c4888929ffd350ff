package worker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/thumbforge/preview-processor/internal/configure"
	"github.com/thumbforge/preview-processor/internal/device"
	"github.com/thumbforge/preview-processor/internal/global"
	"github.com/thumbforge/preview-processor/internal/pipeline"
	svcprometheus "github.com/thumbforge/preview-processor/internal/svc/prometheus"
	svcredis "github.com/thumbforge/preview-processor/internal/svc/redis"
	svcs3 "github.com/thumbforge/preview-processor/internal/svc/s3"
	"github.com/thumbforge/preview-processor/internal/testutil"
	"github.com/thumbforge/preview-processor/task"
)

func newTestContext(t *testing.T, files map[string]map[string][]byte) (global.Context, context.CancelFunc, *svcredis.MockInstance, *svcs3.MockInstance) {
	t.Helper()

	cfg := configure.DefaultConfig()
	cfg.Worker.Jobs = 2
	cfg.Worker.MaxRetries = 1
	cfg.Device.Software = true

	gCtx, cancel := global.WithCancel(global.New(context.Background(), &cfg))

	redisMock := svcredis.NewMock()
	s3Mock := svcs3.NewMock(files)

	dev := device.New(device.Options{Software: true})
	testutil.IsNil(t, dev.Init(), "device init successful")
	t.Cleanup(dev.Teardown)

	p, err := pipeline.New(dev, pipeline.PoliciesFromConfig(&cfg))
	testutil.IsNil(t, err, "pipeline init successful")
	t.Cleanup(p.Close)

	gCtx.Inst().Redis = redisMock
	gCtx.Inst().S3 = s3Mock
	gCtx.Inst().Prometheus = svcprometheus.New(svcprometheus.Options{})
	gCtx.Inst().Device = dev
	gCtx.Inst().Pipeline = p

	return gCtx, cancel, redisMock, s3Mock
}

func testTask() task.Task {
	return task.Task{
		ID:      "test-task-1",
		Tiers:   task.TierFlagALL,
		Archive: true,
		Input: task.TaskInput{
			Bucket: "input",
			Key:    "image.jpeg",
		},
		Output: task.TaskOutput{
			Bucket:       "output",
			Prefix:       "previews/test",
			ACL:          "public-read",
			CacheControl: "max-age=31536000",
		},
	}
}

func TestWork(t *testing.T) {
	input := testutil.EncodeJPEG(t, testutil.GradientImage(800, 600))

	gCtx, cancel, _, s3Mock := newTestContext(t, map[string]map[string][]byte{
		"input": {"image.jpeg": input},
	})
	defer cancel()

	result := task.Result{ID: "test-task-1", State: task.ResultStateFailed}
	err := Worker{}.Work(gCtx, testTask(), &result)
	testutil.IsNil(t, err, "task processed successfully")

	testutil.Assert(t, 3, len(result.ImageOutputs), "every tier produced an output")
	testutil.Assert(t, len(input), result.ImageInput.Size, "input size recorded")
	testutil.Assert(t, 800, result.ImageInput.Width, "input width recorded")

	var prev int
	for i, tier := range []string{"thumbnail", "blur", "low_quality"} {
		out := result.ImageOutputs[i]
		testutil.Assert(t, tier, out.Tier, "tiers come back in ascending order")
		testutil.Assert(t, "image/webp", out.ContentType, "webp output")

		data, ok := s3Mock.Object("output", out.Key)
		if !ok {
			t.Fatalf("tier %s was not uploaded to %s", tier, out.Key)
		}
		testutil.Assert(t, out.Size, len(data), "result size matches uploaded bytes")
		testutil.Assert(t, 128, len(out.SHA3), "sha3-512 hex digest")

		if out.Size <= prev {
			t.Fatalf("tier %s is not larger than the previous tier", tier)
		}
		prev = out.Size
	}

	if _, ok := s3Mock.Object("output", "previews/test/previews.zip"); !ok {
		t.Fatal("archive was not uploaded")
	}
	testutil.Assert(t, "application/zip", result.ArchiveOutput.ContentType, "archive content type")
}

func TestWorkSingleTier(t *testing.T) {
	input := testutil.EncodePNG(t, testutil.GradientImage(300, 300))

	gCtx, cancel, _, s3Mock := newTestContext(t, map[string]map[string][]byte{
		"input": {"image.jpeg": input},
	})
	defer cancel()

	tsk := testTask()
	tsk.Tiers = task.TierFlagThumbnail
	tsk.Archive = false

	result := task.Result{}
	testutil.IsNil(t, Worker{}.Work(gCtx, tsk, &result), "task processed successfully")

	testutil.Assert(t, 1, len(result.ImageOutputs), "only the requested tier rendered")
	testutil.Assert(t, "thumbnail", result.ImageOutputs[0].Tier, "thumbnail tier")
	testutil.Assert(t, 1, len(s3Mock.Keys("output")), "no archive uploaded")
}

func TestWorkRejectsBadInput(t *testing.T) {
	gCtx, cancel, _, _ := newTestContext(t, map[string]map[string][]byte{
		"input": {"image.jpeg": []byte("this is not an image")},
	})
	defer cancel()

	result := task.Result{}
	err := Worker{}.Work(gCtx, testTask(), &result)
	if err == nil || !strings.Contains(err.Error(), "unsupported image format") {
		t.Fatalf("expected an unsupported format error, got %v", err)
	}
}

func TestWorkValidation(t *testing.T) {
	gCtx, cancel, _, _ := newTestContext(t, nil)
	defer cancel()

	tsk := testTask()
	tsk.Input.Key = ""

	result := task.Result{}
	if err := Worker{}.Work(gCtx, tsk, &result); err == nil {
		t.Fatal("expected a task without input to fail validation")
	}
}

func TestWorkEnforcesLimits(t *testing.T) {
	input := testutil.EncodeJPEG(t, testutil.GradientImage(800, 600))

	gCtx, cancel, _, _ := newTestContext(t, map[string]map[string][]byte{
		"input": {"image.jpeg": input},
	})
	defer cancel()

	tsk := testTask()
	tsk.Limits.MaxWidth = 640

	result := task.Result{}
	if err := Worker{}.Work(gCtx, tsk, &result); err == nil || !strings.Contains(err.Error(), "dimensions are too big") {
		t.Fatalf("expected a dimension limit error, got %v", err)
	}

	tsk = testTask()
	tsk.Limits.MaxInputBytes = 10

	if err := Worker{}.Work(gCtx, tsk, &result); err == nil || !strings.Contains(err.Error(), "too big") {
		t.Fatalf("expected an input size limit error, got %v", err)
	}
}

func fetchResult(t *testing.T, gCtx global.Context, redisMock *svcredis.MockInstance) task.Result {
	t.Helper()

	data, err := redisMock.Fetch(gCtx, gCtx.Config().Redis.DoneQueue, 10*time.Second)
	testutil.IsNil(t, err, "a result lands on the done queue")

	result := task.Result{}
	testutil.IsNil(t, json.Unmarshal(data, &result), "the result unmarshals")

	return result
}

func TestRun(t *testing.T) {
	oldTimeout := fetchTimeout
	fetchTimeout = 100 * time.Millisecond
	defer func() { fetchTimeout = oldTimeout }()

	input := testutil.EncodeJPEG(t, testutil.GradientImage(640, 480))

	gCtx, cancel, redisMock, _ := newTestContext(t, map[string]map[string][]byte{
		"input": {"image.jpeg": input},
	})

	tsk := testTask()
	data, err := json.Marshal(tsk)
	testutil.IsNil(t, err, "task marshals")
	testutil.IsNil(t, redisMock.Push(gCtx, gCtx.Config().Redis.JobsQueue, data), "task enqueued")

	done := Run(gCtx)

	result := fetchResult(t, gCtx, redisMock)
	testutil.Assert(t, tsk.ID, result.ID, "the result is for the task we sent")
	testutil.Assert(t, task.ResultStateSuccess, result.State, "the job processed successfully")
	testutil.Assert(t, "", result.Message, "no message was returned")

	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not shut down")
	}
}

func TestRunRetriesToFailedQueue(t *testing.T) {
	oldTimeout := fetchTimeout
	fetchTimeout = 100 * time.Millisecond
	defer func() { fetchTimeout = oldTimeout }()

	// No input object seeded, the download fails every attempt.
	gCtx, cancel, redisMock, _ := newTestContext(t, nil)

	tsk := testTask()
	data, err := json.Marshal(tsk)
	testutil.IsNil(t, err, "task marshals")
	testutil.IsNil(t, redisMock.Push(gCtx, gCtx.Config().Redis.JobsQueue, data), "task enqueued")

	done := Run(gCtx)

	result := fetchResult(t, gCtx, redisMock)
	testutil.Assert(t, task.ResultStateFailed, result.State, "the job failed")
	if result.Message == "" {
		t.Fatal("expected a failure message")
	}

	// MaxRetries is 1 in the test config, so the task lands on the failed
	// queue instead of the retry queue.
	failed, err := redisMock.Fetch(gCtx, gCtx.Config().Redis.FailedQueue, 10*time.Second)
	testutil.IsNil(t, err, "the task lands on the failed queue")

	requeued := task.Task{}
	testutil.IsNil(t, json.Unmarshal(failed, &requeued), "the failed task unmarshals")
	testutil.Assert(t, tsk.ID, requeued.ID, "same task")
	testutil.Assert(t, 1, requeued.RetryCount, "retry count incremented")

	cancel()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("worker did not shut down")
	}
}
