package worker

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/klauspost/compress/zip"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/thumbforge/preview-processor/container"
	"github.com/thumbforge/preview-processor/internal/global"
	"github.com/thumbforge/preview-processor/internal/pipeline"
	"github.com/thumbforge/preview-processor/task"
)

type Worker struct{}

var tierFlags = map[pipeline.Tier]task.TierFlag{
	pipeline.TierThumbnail:  task.TierFlagThumbnail,
	pipeline.TierBlur:       task.TierFlagBlur,
	pipeline.TierLowQuality: task.TierFlagLowQuality,
}

// Work runs one task end to end: download, decode, render every requested
// tier, upload the outputs and fill in the result. A non-nil return means
// the task failed and the caller decides whether it retries.
func (w Worker) Work(ctx global.Context, tsk task.Task, result *task.Result) (err error) {
	if result == nil {
		return fmt.Errorf("nil for result")
	}

	zap.S().Debugw("starting new task",
		"task_id", tsk.ID,
	)

	finish := ctx.Inst().Prometheus.StartTask()
	result.StartedAt = time.Now()

	defer func() {
		if pnk := recover(); pnk != nil {
			err = multierr.Append(fmt.Errorf("panic at runtime: %v", pnk), err)
		}

		result.FinishedAt = time.Now()

		finish(err == nil)
	}()

	if err := validateTask(tsk); err != nil {
		return err
	}

	done := ctx.Inst().Prometheus.DownloadFile()

	raw, err := w.downloadFile(ctx, tsk)
	if err != nil {
		return multierr.Append(fmt.Errorf("failed at download file"), err)
	}

	done()

	ctx.Inst().Prometheus.TotalBytesDownloaded(len(raw))

	if tsk.Limits.MaxInputBytes != 0 && len(raw) > tsk.Limits.MaxInputBytes {
		return fmt.Errorf("input is too big (%d bytes where the limit is %d)", len(raw), tsk.Limits.MaxInputBytes)
	}

	match := container.Match(raw)
	if !container.IsSupported(match) {
		return fmt.Errorf("failed at match: unsupported image format: %v", match.Extension)
	}

	input, err := ctx.Inst().Pipeline.Decode(raw)
	if err != nil {
		return multierr.Append(fmt.Errorf("failed at decode"), err)
	}

	zap.S().Debugw("decoded input",
		"width", input.Width,
		"height", input.Height,
		"task_id", tsk.ID,
	)

	if (tsk.Limits.MaxWidth != 0 && tsk.Limits.MaxWidth < input.Width) ||
		(tsk.Limits.MaxHeight != 0 && tsk.Limits.MaxHeight < input.Height) {
		return fmt.Errorf("file dimensions are too big (%dx%d where the limit is %dx%d)",
			input.Width, input.Height, tsk.Limits.MaxWidth, tsk.Limits.MaxHeight)
	}

	h := sha3.New512()

	_, err = h.Write(raw)
	if err != nil {
		return multierr.Append(fmt.Errorf("failed at hash input file"), err)
	}

	result.ImageInput = task.ResultFile{
		Name:        "original",
		SHA3:        hex.EncodeToString(h.Sum(nil)),
		ContentType: match.MIME.Value,
		Size:        len(raw),
		Key:         tsk.Input.Key,
		Bucket:      tsk.Input.Bucket,
		Width:       input.Width,
		Height:      input.Height,
	}

	mode := pipeline.EncodeWebP
	if tsk.RawOut {
		mode = pipeline.EncodeRaw
	}

	outputs := make(map[pipeline.Tier]*pipeline.OutputBuffer)
	defer func() {
		for _, buf := range outputs {
			buf.Release()
		}
	}()

	for _, tier := range pipeline.Tiers {
		if !tsk.Tiers.Has(tierFlags[tier]) {
			continue
		}

		done := ctx.Inst().Prometheus.RenderTier(string(tier))

		buf, err := ctx.Inst().Pipeline.FromPixels(input, tier, mode)
		if err != nil {
			return multierr.Append(fmt.Errorf("failed at render tier %s", tier), err)
		}
		outputs[tier] = buf

		done()

		zap.S().Debugw("rendered tier",
			"tier", tier,
			"size", buf.Len(),
			"task_id", tsk.ID,
		)
	}

	if len(outputs) == 0 {
		return fmt.Errorf("task selected no tiers")
	}

	ctx.Inst().Prometheus.TotalTiersRendered(len(outputs))

	w.checkSizeOrdering(tsk, outputs, len(raw))

	done = ctx.Inst().Prometheus.UploadResults()

	err = w.uploadResults(ctx, tsk, result, outputs)
	if err != nil {
		return multierr.Append(fmt.Errorf("failed at upload results"), err)
	}

	done()

	zap.S().Debugw("uploaded results",
		"task_id", tsk.ID,
	)

	return nil
}

func validateTask(tsk task.Task) error {
	if tsk.ID == "" {
		return fmt.Errorf("task has no id")
	}

	if tsk.Input.Bucket == "" || tsk.Input.Key == "" {
		return fmt.Errorf("task has no input location")
	}

	if tsk.Output.Bucket == "" {
		return fmt.Errorf("task has no output bucket")
	}

	return nil
}

func (Worker) downloadFile(ctx global.Context, tsk task.Task) (raw []byte, err error) {
	defer func() {
		if pnk := recover(); pnk != nil {
			err = multierr.Append(fmt.Errorf("panic at runtime: %v", pnk), err)
		}
	}()

	buf := aws.NewWriteAtBuffer([]byte{})

	err = ctx.Inst().S3.DownloadFile(ctx, buf, &awss3.GetObjectInput{
		Bucket: aws.String(tsk.Input.Bucket),
		Key:    aws.String(tsk.Input.Key),
	})
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("failed at s3 download"), err)
	}

	return buf.Bytes(), nil
}

// checkSizeOrdering warns when the rendered tiers do not shrink in the
// expected order. Tiny or trivially compressible inputs legitimately
// violate it, so it never fails the task.
func (Worker) checkSizeOrdering(tsk task.Task, outputs map[pipeline.Tier]*pipeline.OutputBuffer, inputSize int) {
	if tsk.RawOut {
		return
	}

	prev := 0
	for _, tier := range pipeline.Tiers {
		buf, ok := outputs[tier]
		if !ok {
			return
		}

		if buf.Len() <= prev {
			zap.S().Warnw("tier sizes out of order",
				"tier", tier,
				"size", buf.Len(),
				"task_id", tsk.ID,
			)

			return
		}

		prev = buf.Len()
	}

	if prev >= inputSize {
		zap.S().Warnw("largest tier is not smaller than the input",
			"size", prev,
			"input_size", inputSize,
			"task_id", tsk.ID,
		)
	}
}

func outputName(tier pipeline.Tier, encoding pipeline.Encoding) string {
	if encoding == pipeline.EncodingRGBA {
		return fmt.Sprintf("%s.rgba", tier)
	}

	return fmt.Sprintf("%s.webp", tier)
}

func contentType(encoding pipeline.Encoding) string {
	if encoding == pipeline.EncodingRGBA {
		return "application/octet-stream"
	}

	return container.MimeWEBP
}

func (w Worker) uploadResults(ctx global.Context, tsk task.Task, result *task.Result, outputs map[pipeline.Tier]*pipeline.OutputBuffer) (err error) {
	defer func() {
		if pnk := recover(); pnk != nil {
			err = multierr.Append(fmt.Errorf("panic at runtime: %v", pnk), err)
		}
	}()

	wg := sync.WaitGroup{}

	var (
		uploadErr error
		mtx       sync.Mutex
	)

	files := make([]task.ResultFile, 0, len(outputs))
	for _, tier := range pipeline.Tiers {
		buf, ok := outputs[tier]
		if !ok {
			continue
		}

		h := sha3.New512()
		if _, err := h.Write(buf.Bytes()); err != nil {
			return multierr.Append(fmt.Errorf("failed at hash output"), err)
		}

		files = append(files, task.ResultFile{
			Name:         outputName(tier, buf.Encoding()),
			SHA3:         hex.EncodeToString(h.Sum(nil)),
			ContentType:  contentType(buf.Encoding()),
			Size:         buf.Len(),
			Key:          path.Join(tsk.Output.Prefix, outputName(tier, buf.Encoding())),
			Bucket:       tsk.Output.Bucket,
			ACL:          tsk.Output.ACL,
			CacheControl: tsk.Output.CacheControl,
			Tier:         string(tier),
			Width:        buf.Width(),
			Height:       buf.Height(),
		})
	}

	for i := range files {
		file := files[i]
		data := outputs[pipeline.Tier(file.Tier)].Bytes()

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() {
				if pnk := recover(); pnk != nil {
					mtx.Lock()
					defer mtx.Unlock()

					uploadErr = multierr.Append(fmt.Errorf("panic at runtime: %v", pnk), uploadErr)
				}
			}()

			if err := ctx.Inst().S3.UploadFile(ctx, &s3manager.UploadInput{
				Body:         bytes.NewReader(data),
				ACL:          aws.String(file.ACL),
				Bucket:       aws.String(file.Bucket),
				CacheControl: aws.String(file.CacheControl),
				ContentType:  aws.String(file.ContentType),
				Key:          aws.String(file.Key),
			}); err != nil {
				mtx.Lock()
				defer mtx.Unlock()

				uploadErr = multierr.Append(fmt.Errorf("failed at upload %s", file.Key), multierr.Append(err, uploadErr))

				return
			}

			ctx.Inst().Prometheus.TotalBytesUploaded(len(data))
		}()
	}

	wg.Wait()

	if uploadErr != nil {
		return uploadErr
	}

	result.ImageOutputs = files

	if tsk.Archive {
		archive, err := w.makeArchive(outputs)
		if err != nil {
			return multierr.Append(fmt.Errorf("failed at make archive"), err)
		}

		h := sha3.New512()
		if _, err := h.Write(archive); err != nil {
			return multierr.Append(fmt.Errorf("failed at hash archive"), err)
		}

		key := path.Join(tsk.Output.Prefix, "previews.zip")

		if err := ctx.Inst().S3.UploadFile(ctx, &s3manager.UploadInput{
			Body:         bytes.NewReader(archive),
			ACL:          aws.String(tsk.Output.ACL),
			Bucket:       aws.String(tsk.Output.Bucket),
			CacheControl: aws.String(tsk.Output.CacheControl),
			ContentType:  aws.String(container.MimeZIP),
			Key:          aws.String(key),
		}); err != nil {
			return multierr.Append(fmt.Errorf("failed at upload archive"), err)
		}

		ctx.Inst().Prometheus.TotalBytesUploaded(len(archive))

		result.ArchiveOutput = task.ResultFile{
			Name:         "previews.zip",
			SHA3:         hex.EncodeToString(h.Sum(nil)),
			ContentType:  container.MimeZIP,
			Size:         len(archive),
			Key:          key,
			Bucket:       tsk.Output.Bucket,
			ACL:          tsk.Output.ACL,
			CacheControl: tsk.Output.CacheControl,
		}
	}

	return nil
}

func (Worker) makeArchive(outputs map[pipeline.Tier]*pipeline.OutputBuffer) ([]byte, error) {
	buf := bytes.Buffer{}
	zipWriter := zip.NewWriter(&buf)

	for _, tier := range pipeline.Tiers {
		out, ok := outputs[tier]
		if !ok {
			continue
		}

		f, err := zipWriter.Create(outputName(tier, out.Encoding()))
		if err != nil {
			return nil, multierr.Append(fmt.Errorf("failed at create zip entry"), err)
		}

		if _, err := f.Write(out.Bytes()); err != nil {
			return nil, multierr.Append(fmt.Errorf("failed at write zip entry"), err)
		}
	}

	if err := zipWriter.Close(); err != nil {
		return nil, multierr.Append(fmt.Errorf("failed at close zip file"), err)
	}

	return buf.Bytes(), nil
}
