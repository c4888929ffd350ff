package configure

import (
	"bytes"
	"encoding/json"
	"reflect"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func checkErr(err error) {
	if err != nil {
		zap.S().Fatalw("config",
			"error", err,
		)
	}
}

func New() *Config {
	initLogging("info")

	config := viper.New()

	// Default config
	b, _ := json.Marshal(DefaultConfig())
	tmp := viper.New()
	defaultConfig := bytes.NewReader(b)
	tmp.SetConfigType("json")
	checkErr(tmp.ReadConfig(defaultConfig))
	checkErr(config.MergeConfigMap(viper.AllSettings()))

	pflag.String("config", "config.yaml", "Config file location")
	pflag.Bool("noheader", false, "Disable the startup header")

	pflag.Parse()
	checkErr(config.BindPFlags(pflag.CommandLine))

	// File
	config.SetConfigFile(config.GetString("config"))
	config.AddConfigPath(".")
	if err := config.ReadInConfig(); err == nil {
		checkErr(config.MergeInConfig())
	}

	bindEnvs(config, Config{})

	// Environment
	config.AutomaticEnv()
	config.SetEnvPrefix("PP")
	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AllowEmptyEnv(true)

	c := &Config{}
	checkErr(config.Unmarshal(&c))

	initLogging(c.Level)

	return c
}

func bindEnvs(config *viper.Viper, iface interface{}, parts ...string) {
	ifv := reflect.ValueOf(iface)
	ift := reflect.TypeOf(iface)
	for i := 0; i < ift.NumField(); i++ {
		v := ifv.Field(i)
		t := ift.Field(i)
		tv, ok := t.Tag.Lookup("mapstructure")
		if !ok {
			continue
		}
		switch v.Kind() {
		case reflect.Struct:
			bindEnvs(config, v.Interface(), append(parts, tv)...)
		default:
			_ = config.BindEnv(strings.Join(append(parts, tv), "."))
		}
	}
}

// TierConfig is the policy record for one quality tier. MaxDimension and
// Quality must increase strictly across Thumbnail < Blur < LowQuality, and
// BlurRadius must be zero everywhere except the Blur tier; the pipeline
// validates the table once at startup.
type TierConfig struct {
	MaxDimension int `mapstructure:"max_dimension" json:"max_dimension"`
	BlurRadius   int `mapstructure:"blur_radius" json:"blur_radius"`
	Quality      int `mapstructure:"quality" json:"quality"`
}

type Config struct {
	Level      string `mapstructure:"level" json:"level"`
	ConfigFile string `mapstructure:"config" json:"config"`
	NoHeader   bool   `mapstructure:"noheader" json:"noheader"`

	Worker struct {
		Jobs           int    `mapstructure:"jobs" json:"jobs"`
		TimeoutSeconds int    `mapstructure:"timeout_seconds" json:"timeout_seconds"`
		TempDir        string `mapstructure:"temp_dir" json:"temp_dir"`
		MaxRetries     int    `mapstructure:"max_retries" json:"max_retries"`
	} `mapstructure:"worker" json:"worker"`

	Health struct {
		Bind    string `mapstructure:"bind" json:"bind"`
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
	} `mapstructure:"health" json:"health"`

	Redis struct {
		Addr        string `mapstructure:"addr" json:"addr"`
		Database    int    `mapstructure:"database" json:"database"`
		JobsQueue   string `mapstructure:"jobs_queue" json:"jobs_queue"`
		RetryQueue  string `mapstructure:"retry_queue" json:"retry_queue"`
		FailedQueue string `mapstructure:"failed_queue" json:"failed_queue"`
		DoneQueue   string `mapstructure:"done_queue" json:"done_queue"`
	} `mapstructure:"redis" json:"redis"`

	S3 struct {
		Region      string `mapstructure:"region" json:"region"`
		Endpoint    string `mapstructure:"endpoint" json:"endpoint"`
		AccessToken string `mapstructure:"access_token" json:"access_token"`
		SecretKey   string `mapstructure:"secret_key" json:"secret_key"`
	} `mapstructure:"s3" json:"s3"`

	Device struct {
		// RequireGPU makes startup fail when no compatible adapter is found
		// instead of falling back to the software kernels.
		RequireGPU  bool `mapstructure:"require_gpu" json:"require_gpu"`
		Software    bool `mapstructure:"software" json:"software"`
		MaxMemoryMB int  `mapstructure:"max_memory_mb" json:"max_memory_mb"`
	} `mapstructure:"device" json:"device"`

	Tiers struct {
		Thumbnail  TierConfig `mapstructure:"thumbnail" json:"thumbnail"`
		Blur       TierConfig `mapstructure:"blur" json:"blur"`
		LowQuality TierConfig `mapstructure:"low_quality" json:"low_quality"`
	} `mapstructure:"tiers" json:"tiers"`

	Monitoring struct {
		Bind    string `mapstructure:"bind" json:"bind"`
		Enabled bool   `mapstructure:"enabled" json:"enabled"`
		Labels  Labels `mapstructure:"labels" json:"labels"`
	} `mapstructure:"monitoring" json:"monitoring"`
}

// DefaultConfig carries the tier policy defaults: thumbnail 128px at
// quality 30, blur 320px at quality 50 with radius 5, low-quality 640px at
// quality 65. Operators override them per deployment.
func DefaultConfig() Config {
	c := Config{
		ConfigFile: "config.yaml",
	}

	c.Redis.Addr = "localhost:6379"
	c.Redis.JobsQueue = "preview:jobs"
	c.Redis.RetryQueue = "preview:retry"
	c.Redis.FailedQueue = "preview:failed"
	c.Redis.DoneQueue = "preview:done"

	c.Worker.TimeoutSeconds = 30
	c.Worker.MaxRetries = 3

	c.Device.MaxMemoryMB = 256

	c.Tiers.Thumbnail = TierConfig{MaxDimension: 128, BlurRadius: 0, Quality: 30}
	c.Tiers.Blur = TierConfig{MaxDimension: 320, BlurRadius: 5, Quality: 50}
	c.Tiers.LowQuality = TierConfig{MaxDimension: 640, BlurRadius: 0, Quality: 65}

	return c
}

type Labels []struct {
	Key   string `mapstructure:"key" json:"key"`
	Value string `mapstructure:"value" json:"value"`
}

func (l Labels) ToPrometheus() prometheus.Labels {
	mp := prometheus.Labels{}

	for _, v := range l {
		mp[v.Key] = v.Value
	}

	return mp
}
