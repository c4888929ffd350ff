package instance

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Prometheus interface {
	Register(r prometheus.Registerer)

	StartTask() func(success bool)

	DownloadFile() func()
	RenderTier(tier string) func()
	UploadResults() func()

	TotalTiersRendered(int)
	TotalBytesDownloaded(int)
	TotalBytesUploaded(int)
}
