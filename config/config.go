// downly/config/config.go
package config

import (
	"reflect"
	"strings"
	"time"

	"github.com/c2h5oh/datasize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type Config struct {
	Port         string `mapstructure:"PORT"`
	BaseURL      string `mapstructure:"BASE"`
	DownloadDir  string `mapstructure:"DOWNLOAD_DIR"`
	ProcessedDir string `mapstructure:"PROCESSED_DIR"`
	AllowOrigin  string `mapstructure:"ALLOW_ORIGIN"`

	FetchBin     string        `mapstructure:"FETCH_BIN"`
	FFBin        string        `mapstructure:"FF_BIN"`
	FetchTimeout time.Duration `mapstructure:"FETCH_TIMEOUT"`

	// FetchMonitor selects the supervision strategy for the fetch stage:
	// "stream" reads progress lines from stdout as they arrive, "poll"
	// checks for exit on a fixed interval. Poll is the fallback for
	// environments where the fetch tool's stdout arrives block-buffered.
	FetchMonitor string        `mapstructure:"FETCH_MONITOR"`
	PollInterval time.Duration `mapstructure:"POLL_INTERVAL"`

	// Wall-clock budgets used to estimate transcode progress. These are
	// assumptions, not measurements; tune per deployment.
	VideoBudget time.Duration `mapstructure:"VIDEO_BUDGET"`
	AudioBudget time.Duration `mapstructure:"AUDIO_BUDGET"`

	MaxWorkers int `mapstructure:"MAX_WORKERS"`

	// Extra arguments appended to the fetch / transcode argv, shell-style
	// quoted. Parsed with shlex, never passed through a shell.
	FetchExtraArgs     string `mapstructure:"FETCH_EXTRA_ARGS"`
	TranscodeExtraArgs string `mapstructure:"TRANSCODE_EXTRA_ARGS"`

	ThrottleCPU      float64 `mapstructure:"THROTTLE_CPU"`
	ThrottleFreeMem  int64   `mapstructure:"THROTTLE_FREEMEM"`
	ThrottleFreeDisk int64   `mapstructure:"THROTTLE_FREEDISK"`
}

// stringToDurationHookFunc is a custom Viper hook for parsing Go's duration strings.
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to time.Duration.
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// stringToByteSizeHookFunc is a custom Viper hook for parsing human-readable size strings.
func stringToByteSizeHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		// We only care about converting strings to int64s for byte sizes.
		if f.Kind() != reflect.String || t.Kind() != reflect.Int64 {
			return data, nil
		}

		var size datasize.ByteSize
		err := size.UnmarshalText([]byte(data.(string)))
		if err != nil {
			// Not a valid size string, let other parsers handle it.
			return data, nil
		}

		return int64(size.Bytes()), nil
	}
}

func Load() (*Config, error) {
	vp := viper.New()

	// Set default values as strings, the hooks will handle them.
	vp.SetDefault("PORT", "8000")
	vp.SetDefault("BASE", "")
	vp.SetDefault("DOWNLOAD_DIR", "./downloads")
	vp.SetDefault("PROCESSED_DIR", "./processed")
	vp.SetDefault("ALLOW_ORIGIN", "http://localhost:3000")
	vp.SetDefault("FETCH_BIN", "yt-dlp")
	vp.SetDefault("FF_BIN", "ffmpeg")
	vp.SetDefault("FETCH_TIMEOUT", "10m")
	vp.SetDefault("FETCH_MONITOR", "stream")
	vp.SetDefault("POLL_INTERVAL", "1s")
	vp.SetDefault("VIDEO_BUDGET", "30s")
	vp.SetDefault("AUDIO_BUDGET", "20s")
	vp.SetDefault("MAX_WORKERS", 4)
	vp.SetDefault("FETCH_EXTRA_ARGS", "")
	vp.SetDefault("TRANSCODE_EXTRA_ARGS", "")
	vp.SetDefault("THROTTLE_CPU", 50.0)
	vp.SetDefault("THROTTLE_FREEMEM", "200MB")
	vp.SetDefault("THROTTLE_FREEDISK", "200MB")

	// Load from config file
	vp.SetConfigName("downly_config")
	vp.SetConfigType("yaml")
	vp.AddConfigPath(".")
	vp.AddConfigPath("/etc/downly/")

	if err := vp.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	// Load from environment variables
	vp.SetEnvPrefix("DOWNLY")
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	// Unmarshal the config, providing our custom composed hooks.
	// The order matters: the first hook that succeeds is used.
	err := vp.Unmarshal(&cfg, viper.DecodeHook(
		mapstructure.ComposeDecodeHookFunc(
			stringToDurationHookFunc(),
			stringToByteSizeHookFunc(),
		),
	))
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}
