package global

import (
	"github.com/thumbforge/preview-processor/internal/device"
	"github.com/thumbforge/preview-processor/internal/instance"
	"github.com/thumbforge/preview-processor/internal/pipeline"
)

type Instances struct {
	Redis      instance.Redis
	S3         instance.S3
	Prometheus instance.Prometheus
	Device     *device.Context
	Pipeline   *pipeline.Pipeline
}
