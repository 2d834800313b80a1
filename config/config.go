package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Editor  EditorConfig  `mapstructure:"editor"`
	Refine  RefineConfig  `mapstructure:"refine"`
	Export  ExportConfig  `mapstructure:"export"`
	Segment SegmentConfig `mapstructure:"segment"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Store   StoreConfig   `mapstructure:"store"`
	Remote  RemoteConfig  `mapstructure:"remote"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"` // debug, release
}

type EditorConfig struct {
	BrushSize          int           `mapstructure:"brush_size"`
	MagicBrush         bool          `mapstructure:"magic_brush"`
	BackgroundDistance float64       `mapstructure:"background_distance"`
	CommitDelay        time.Duration `mapstructure:"commit_delay"`
	HistoryCapacity    int           `mapstructure:"history_capacity"`
	DebounceWindow     time.Duration `mapstructure:"debounce_window"`
	MagnifierZoom      float64       `mapstructure:"magnifier_zoom"`
	MagnifierSize      int           `mapstructure:"magnifier_size"`
}

// RefineConfig 分割后的去残影 / 边缘平滑参数
type RefineConfig struct {
	Enabled    bool    `mapstructure:"enabled"`
	GhostLow   uint8   `mapstructure:"ghost_low"`
	GhostHigh  uint8   `mapstructure:"ghost_high"`
	BlurRadius float64 `mapstructure:"blur_radius"`
}

type ExportConfig struct {
	Scales        []float64 `mapstructure:"scales"`
	Watermark     string    `mapstructure:"watermark"`
	MaxConcurrent int       `mapstructure:"max_concurrent"`
}

type SegmentConfig struct {
	Endpoint      string        `mapstructure:"endpoint"` // empty: local colour key
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Timeout       time.Duration `mapstructure:"timeout"`
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxDimension  int           `mapstructure:"max_dimension"`
	KeyThreshold  float64       `mapstructure:"key_threshold"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type StoreConfig struct {
	Path     string `mapstructure:"path"`
	Autosave string `mapstructure:"autosave"` // cron spec
}

type RemoteConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	Token     string `mapstructure:"token"`
	UploadDir string `mapstructure:"upload_dir"`
	Addr      string `mapstructure:"addr"`
}

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("CUTOUT")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// New 使用默认配置路径加载配置，失败时返回默认配置
func New(configPath string) *Config {
	cfg, err := Load(configPath)
	if err != nil {
		return Default()
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("log.mode", d.Log.Mode)

	v.SetDefault("editor.brush_size", d.Editor.BrushSize)
	v.SetDefault("editor.magic_brush", d.Editor.MagicBrush)
	v.SetDefault("editor.background_distance", d.Editor.BackgroundDistance)
	v.SetDefault("editor.commit_delay", d.Editor.CommitDelay)
	v.SetDefault("editor.history_capacity", d.Editor.HistoryCapacity)
	v.SetDefault("editor.debounce_window", d.Editor.DebounceWindow)
	v.SetDefault("editor.magnifier_zoom", d.Editor.MagnifierZoom)
	v.SetDefault("editor.magnifier_size", d.Editor.MagnifierSize)

	v.SetDefault("refine.enabled", d.Refine.Enabled)
	v.SetDefault("refine.ghost_low", d.Refine.GhostLow)
	v.SetDefault("refine.ghost_high", d.Refine.GhostHigh)
	v.SetDefault("refine.blur_radius", d.Refine.BlurRadius)

	v.SetDefault("export.scales", d.Export.Scales)
	v.SetDefault("export.watermark", d.Export.Watermark)
	v.SetDefault("export.max_concurrent", d.Export.MaxConcurrent)

	v.SetDefault("segment.endpoint", d.Segment.Endpoint)
	v.SetDefault("segment.max_concurrent", d.Segment.MaxConcurrent)
	v.SetDefault("segment.timeout", d.Segment.Timeout)
	v.SetDefault("segment.poll_interval", d.Segment.PollInterval)
	v.SetDefault("segment.max_dimension", d.Segment.MaxDimension)
	v.SetDefault("segment.key_threshold", d.Segment.KeyThreshold)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("store.autosave", d.Store.Autosave)

	v.SetDefault("remote.base_url", d.Remote.BaseURL)
	v.SetDefault("remote.token", d.Remote.Token)
	v.SetDefault("remote.upload_dir", d.Remote.UploadDir)
	v.SetDefault("remote.addr", d.Remote.Addr)
}

func Default() *Config {
	return &Config{
		Log: LogConfig{Mode: "debug"},
		Editor: EditorConfig{
			BrushSize:          40,
			MagicBrush:         true,
			BackgroundDistance: 55,
			CommitDelay:        300 * time.Millisecond,
			HistoryCapacity:    50,
			DebounceWindow:     500 * time.Millisecond,
			MagnifierZoom:      2.5,
			MagnifierSize:      150,
		},
		Refine: RefineConfig{
			Enabled:    true,
			GhostLow:   20,
			GhostHigh:  235,
			BlurRadius: 1,
		},
		Export: ExportConfig{
			Scales:        []float64{1.0, 0.7, 0.4},
			MaxConcurrent: 4,
		},
		Segment: SegmentConfig{
			MaxConcurrent: 3,
			Timeout:       2 * time.Minute,
			PollInterval:  time.Second,
			MaxDimension:  2048,
			KeyThreshold:  55,
		},
		Redis: RedisConfig{
			Addr: "localhost:6379",
			TTL:  24 * time.Hour,
		},
		Store: StoreConfig{
			Path:     "./cutout.db",
			Autosave: "@every 30s",
		},
		Remote: RemoteConfig{
			UploadDir: "./uploads",
			Addr:      ":8090",
		},
	}
}
