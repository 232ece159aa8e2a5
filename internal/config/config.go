package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/viper"

	"github.com/sonata-music/sonata/internal/platform"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

type Config struct {
	Debug bool `mapstructure:"debug"`

	API struct {
		BaseURL   string `mapstructure:"base_url"`
		Token     string `mapstructure:"token"`
		RateLimit struct {
			RequestsPerSecond int `mapstructure:"requests_per_second"`
			BurstSize         int `mapstructure:"burst_size"`
		} `mapstructure:"rate_limit"`
		Timeout   int    `mapstructure:"timeout"`
		Retries   int    `mapstructure:"retries"`
		UserAgent string `mapstructure:"user_agent"`
	} `mapstructure:"api"`

	Storage struct {
		DatabasePath string `mapstructure:"database_path"`
		CacheDir     string `mapstructure:"cache_dir"`
		EnableWAL    bool   `mapstructure:"enable_wal"`
		SyncInterval int    `mapstructure:"sync_interval"`
		SyncAlbums   int    `mapstructure:"sync_albums"`
	} `mapstructure:"storage"`

	Audio struct {
		Backend          string  `mapstructure:"backend"`
		SampleRate       int     `mapstructure:"sample_rate"`
		BufferSize       int     `mapstructure:"buffer_size"`
		DefaultVolume    float64 `mapstructure:"default_volume"`
		StatusIntervalMs int     `mapstructure:"status_interval_ms"`
		MinBufferKB      int     `mapstructure:"min_buffer_kb"`
		StallTimeoutSec  int     `mapstructure:"stall_timeout_sec"`
		PlatformOptimal  bool    `mapstructure:"platform_optimal"`
	} `mapstructure:"audio"`

	Playback struct {
		DefaultRepeat    string `mapstructure:"default_repeat"`
		StreamCacheTTL   int    `mapstructure:"stream_cache_ttl"`
		StreamCacheSize  int    `mapstructure:"stream_cache_size"`
		RestoreQueue     bool   `mapstructure:"restore_queue"`
		HistoryRetention int    `mapstructure:"history_retention"`
	} `mapstructure:"playback"`

	Log struct {
		Level      string `mapstructure:"level"`
		File       string `mapstructure:"file"`
		MaxSizeMB  int    `mapstructure:"max_size_mb"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAgeDays int    `mapstructure:"max_age_days"`
		Compress   bool   `mapstructure:"compress"`
	} `mapstructure:"log"`

	Server struct {
		Addr           string   `mapstructure:"addr"`
		AllowedOrigins []string `mapstructure:"allowed_origins"`
	} `mapstructure:"server"`

	Presence struct {
		RedisAddr     string `mapstructure:"redis_addr"`
		RedisPassword string `mapstructure:"redis_password"`
		RedisDB       int    `mapstructure:"redis_db"`
		Channel       string `mapstructure:"channel"`
	} `mapstructure:"presence"`
}

func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir, err := platform.GetConfigDir()
		if err != nil {
			return nil, err
		}
		v.AddConfigPath(configDir)
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SONATA")
	v.SetEnvKeyReplacer(envKeyReplacer)
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := ensureDirectories(&cfg); err != nil {
		return nil, err
	}

	optimizeForPlatform(&cfg)

	return &cfg, nil
}

// Default returns a configuration populated only from defaults. It does not
// touch the filesystem.
func Default() *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("debug", false)

	v.SetDefault("api.base_url", "http://localhost:8080/api")
	v.SetDefault("api.token", "")
	v.SetDefault("api.rate_limit.requests_per_second", 20)
	v.SetDefault("api.rate_limit.burst_size", 10)
	v.SetDefault("api.timeout", 30)
	v.SetDefault("api.retries", 3)
	v.SetDefault("api.user_agent", "Sonata/1.0.0")

	dataDir, _ := platform.GetDataDir()
	cacheDir, _ := platform.GetCacheDir()

	v.SetDefault("storage.database_path", filepath.Join(dataDir, "sonata.db"))
	v.SetDefault("storage.cache_dir", cacheDir)
	v.SetDefault("storage.enable_wal", true)
	v.SetDefault("storage.sync_interval", 3600)
	v.SetDefault("storage.sync_albums", 200)

	v.SetDefault("audio.backend", "speaker")
	v.SetDefault("audio.sample_rate", 44100)
	v.SetDefault("audio.buffer_size", getDefaultBufferSize())
	v.SetDefault("audio.default_volume", 1.0)
	v.SetDefault("audio.status_interval_ms", 250)
	v.SetDefault("audio.min_buffer_kb", 256)
	v.SetDefault("audio.stall_timeout_sec", 20)
	v.SetDefault("audio.platform_optimal", true)

	v.SetDefault("playback.default_repeat", "off")
	v.SetDefault("playback.stream_cache_ttl", 600)
	v.SetDefault("playback.stream_cache_size", 256)
	v.SetDefault("playback.restore_queue", true)
	v.SetDefault("playback.history_retention", 500)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", filepath.Join(dataDir, "logs", "sonata.log"))
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 14)
	v.SetDefault("log.compress", true)

	v.SetDefault("server.addr", "127.0.0.1:7420")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("presence.redis_addr", "")
	v.SetDefault("presence.redis_db", 0)
	v.SetDefault("presence.channel", "sonata:now-playing")
}

func getDefaultBufferSize() int {
	switch runtime.GOOS {
	case "windows", "darwin":
		return 8192
	default:
		return 16384
	}
}

func optimizeForPlatform(cfg *Config) {
	if !cfg.Audio.PlatformOptimal {
		return
	}

	switch runtime.GOOS {
	case "linux":
		if cfg.Audio.BufferSize < 8192 {
			cfg.Audio.BufferSize = 16384
		}
	case "android", "ios":
		cfg.Audio.BufferSize = 16384
		if cfg.Audio.StatusIntervalMs < 500 {
			cfg.Audio.StatusIntervalMs = 500
		}
	}
}

func ensureDirectories(cfg *Config) error {
	dirs := []string{
		filepath.Dir(cfg.Storage.DatabasePath),
		cfg.Storage.CacheDir,
	}
	if cfg.Log.File != "" {
		dirs = append(dirs, filepath.Dir(cfg.Log.File))
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	return nil
}
