package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/thumbforge/preview-processor/internal/instance"
)

type Options struct {
	Labels prometheus.Labels
}

func copyLabels(p prometheus.Labels) prometheus.Labels {
	x := prometheus.Labels{}
	for k, v := range p {
		x[k] = v
	}

	return x
}

func New(o Options) instance.Prometheus {
	totalSuccessfulTasks := copyLabels(o.Labels)
	totalFailedTasks := copyLabels(o.Labels)
	currentTasks := copyLabels(o.Labels)
	taskDurationSeconds := copyLabels(o.Labels)
	totalBytesDownloaded := copyLabels(o.Labels)
	totalBytesUploaded := copyLabels(o.Labels)
	totalTiersRendered := copyLabels(o.Labels)
	downloadFileDuration := copyLabels(o.Labels)
	uploadResultsDuration := copyLabels(o.Labels)

	totalSuccessfulTasks["state"] = "successful"
	totalFailedTasks["state"] = "failed"

	totalBytesDownloaded["state"] = "downloaded"
	totalBytesUploaded["state"] = "uploaded"

	renderTierDurations := map[string]prometheus.Histogram{}
	for _, tier := range []string{"thumbnail", "blur", "low_quality"} {
		labels := copyLabels(o.Labels)
		labels["tier"] = tier

		renderTierDurations[tier] = prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "preview_processor",
			Name:        "render_tier_duration_seconds",
			Help:        "The seconds spent rendering tiers",
			ConstLabels: labels,
		})
	}

	return &Instance{
		totalSuccessfulTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "preview_processor",
			Name:        "total_tasks",
			Help:        "The total number of successful tasks",
			ConstLabels: totalSuccessfulTasks,
		}),
		totalFailedTasks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "preview_processor",
			Name:        "total_tasks",
			Help:        "The total number of failed tasks",
			ConstLabels: totalFailedTasks,
		}),
		currentTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "preview_processor",
			Name:        "current_tasks",
			Help:        "The current number of tasks",
			ConstLabels: currentTasks,
		}),
		taskDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "preview_processor",
			Name:        "task_duration_seconds",
			Help:        "The seconds spent running tasks",
			ConstLabels: taskDurationSeconds,
		}),
		downloadFileDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "preview_processor",
			Name:        "download_file_duration_seconds",
			Help:        "The seconds spent downloading files",
			ConstLabels: downloadFileDuration,
		}),
		uploadResultsDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "preview_processor",
			Name:        "upload_results_duration_seconds",
			Help:        "The seconds spent uploading results",
			ConstLabels: uploadResultsDuration,
		}),
		renderTierDurationSeconds: renderTierDurations,
		totalBytesDownloaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "preview_processor",
			Name:        "total_bytes",
			Help:        "The total number of bytes downloaded",
			ConstLabels: totalBytesDownloaded,
		}),
		totalBytesUploaded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "preview_processor",
			Name:        "total_bytes",
			Help:        "The total number of bytes uploaded",
			ConstLabels: totalBytesUploaded,
		}),
		totalTiersRendered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "preview_processor",
			Name:        "total_tiers",
			Help:        "The total number of tiers rendered",
			ConstLabels: totalTiersRendered,
		}),
	}
}

type Instance struct {
	totalSuccessfulTasks prometheus.Counter
	totalFailedTasks     prometheus.Counter
	currentTasks         prometheus.Gauge
	taskDurationSeconds  prometheus.Histogram

	downloadFileDurationSeconds  prometheus.Histogram
	uploadResultsDurationSeconds prometheus.Histogram
	renderTierDurationSeconds    map[string]prometheus.Histogram

	totalBytesDownloaded prometheus.Counter
	totalBytesUploaded   prometheus.Counter
	totalTiersRendered   prometheus.Counter
}

func (m *Instance) Register(r prometheus.Registerer) {
	r.MustRegister(
		m.currentTasks,
		m.taskDurationSeconds,
		m.totalFailedTasks,
		m.totalSuccessfulTasks,

		m.downloadFileDurationSeconds,
		m.uploadResultsDurationSeconds,

		m.totalBytesDownloaded,
		m.totalBytesUploaded,
		m.totalTiersRendered,
	)

	for _, h := range m.renderTierDurationSeconds {
		r.MustRegister(h)
	}
}

func (m *Instance) StartTask() func(success bool) {
	start := time.Now()
	m.currentTasks.Inc()

	return func(success bool) {
		if success {
			m.totalSuccessfulTasks.Inc()
		} else {
			m.totalFailedTasks.Inc()
		}
		m.currentTasks.Dec()
		m.taskDurationSeconds.Observe(float64(time.Since(start)/time.Millisecond) / 1000)
	}
}

func (m *Instance) TotalBytesDownloaded(bytes int) {
	m.totalBytesDownloaded.Add(float64(bytes))
}

func (m *Instance) TotalBytesUploaded(bytes int) {
	m.totalBytesUploaded.Add(float64(bytes))
}

func (m *Instance) TotalTiersRendered(tiers int) {
	m.totalTiersRendered.Add(float64(tiers))
}

func (m *Instance) DownloadFile() func() {
	start := time.Now()

	return func() {
		m.downloadFileDurationSeconds.Observe(float64(time.Since(start)/time.Millisecond) / 1000)
	}
}

func (m *Instance) RenderTier(tier string) func() {
	start := time.Now()

	return func() {
		if h, ok := m.renderTierDurationSeconds[tier]; ok {
			h.Observe(float64(time.Since(start)/time.Millisecond) / 1000)
		}
	}
}

func (m *Instance) UploadResults() func() {
	start := time.Now()

	return func() {
		m.uploadResultsDurationSeconds.Observe(float64(time.Since(start)/time.Millisecond) / 1000)
	}
}
