package task

import "time"

// TierFlag selects which preview tiers a task renders. Zero means all.
type TierFlag int32

const (
	TierFlagThumbnail TierFlag = 1 << iota
	TierFlagBlur
	TierFlagLowQuality
	TierFlagALL TierFlag = (1 << iota) - 1
)

func (f TierFlag) Has(flag TierFlag) bool {
	if f == 0 {
		return true
	}

	return f&flag != 0
}

type Task struct {
	ID      string     `json:"id"`
	Tiers   TierFlag   `json:"tiers"`
	Input   TaskInput  `json:"input"`
	Output  TaskOutput `json:"output"`
	RawOut  bool       `json:"raw_out"` // skip WebP encoding, upload raw RGBA
	Archive bool       `json:"archive"` // also upload a zip of all tiers
	Limits  TaskLimits `json:"limits"`

	// RetryCount is incremented by the worker each time the task lands on
	// the retry queue. Producers leave it zero.
	RetryCount int `json:"retry_count"`
}

type TaskLimits struct {
	MaxProcessingTime time.Duration `json:"max_processing_time"`
	MaxInputBytes     int           `json:"max_input_bytes"`
	MaxWidth          int           `json:"max_width"`
	MaxHeight         int           `json:"max_height"`
}

type TaskInput struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type TaskOutput struct {
	Prefix       string `json:"prefix"`
	ACL          string `json:"acl"`
	Bucket       string `json:"bucket"`
	CacheControl string `json:"cache_control"`
}
