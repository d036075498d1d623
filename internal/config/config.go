package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "LGREMOTE"

type Config struct {
	Logging   LoggingConfig   `mapstructure:"logging"`
	Netcast   NetcastConfig   `mapstructure:"netcast"`
	DIAL      DIALConfig      `mapstructure:"dial"`
	Cast      CastConfig      `mapstructure:"cast"`
	Sequencer SequencerConfig `mapstructure:"sequencer"`
	Media     MediaConfig     `mapstructure:"media"`
	Store     StoreConfig     `mapstructure:"store"`
	Discovery DiscoveryConfig `mapstructure:"discovery"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type LoggingConfig struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // empty logs to stderr
}

type NetcastConfig struct {
	Port           int           `mapstructure:"port"`
	CommandTimeout time.Duration `mapstructure:"command_timeout"`
	AppTimeout     time.Duration `mapstructure:"app_timeout"`
	MoveRate       float64       `mapstructure:"move_rate"` // pointer moves per second
}

type DIALConfig struct {
	Ports          []int         `mapstructure:"ports"`
	ProbeTimeout   time.Duration `mapstructure:"probe_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

type CastConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	RetryAttempts int           `mapstructure:"retry_attempts"`
}

type SequencerConfig struct {
	SlideshowDelay time.Duration `mapstructure:"slideshow_delay"`
	AlbumDelay     time.Duration `mapstructure:"album_delay"`
	LoadSettle     time.Duration `mapstructure:"load_settle"`
	PollInterval   time.Duration `mapstructure:"poll_interval"`
	InterItemGap   time.Duration `mapstructure:"inter_item_gap"`
	MaxPolls       int           `mapstructure:"max_polls"`
}

type MediaConfig struct {
	CacheDir        string `mapstructure:"cache_dir"`
	StageRemote     bool   `mapstructure:"stage_remote"`
	DownloadRetries int    `mapstructure:"download_retries"`
	MaxServers      int    `mapstructure:"max_servers"`
}

type StoreConfig struct {
	Path string `mapstructure:"path"` // empty keeps sessions in memory
}

type DiscoveryConfig struct {
	TimeoutMS int `mapstructure:"timeout_ms"`
}

type MetricsConfig struct {
	Listen string `mapstructure:"listen"` // empty disables the endpoint
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.file", "")

	v.SetDefault("netcast.port", 8080)
	v.SetDefault("netcast.command_timeout", 1500*time.Millisecond)
	v.SetDefault("netcast.app_timeout", 5*time.Second)
	v.SetDefault("netcast.move_rate", 30.0)

	v.SetDefault("dial.ports", []int{56789, 8080, 3000, 3001})
	v.SetDefault("dial.probe_timeout", 2*time.Second)
	v.SetDefault("dial.request_timeout", 5*time.Second)

	v.SetDefault("cast.poll_interval", 2*time.Second)
	v.SetDefault("cast.retry_attempts", 3)

	v.SetDefault("sequencer.slideshow_delay", 5*time.Second)
	v.SetDefault("sequencer.album_delay", 10*time.Second)
	v.SetDefault("sequencer.load_settle", 5*time.Second)
	v.SetDefault("sequencer.poll_interval", 2*time.Second)
	v.SetDefault("sequencer.inter_item_gap", 2*time.Second)
	v.SetDefault("sequencer.max_polls", 900)

	v.SetDefault("media.cache_dir", filepath.Join(os.TempDir(), "lgremote"))
	v.SetDefault("media.stage_remote", false)
	v.SetDefault("media.download_retries", 3)
	v.SetDefault("media.max_servers", 8)

	v.SetDefault("store.path", filepath.Join(defaultDataDir(), "sessions.db"))

	v.SetDefault("discovery.timeout_ms", 2500)

	v.SetDefault("metrics.listen", "")
}

// Load reads configuration from path, or from lgremote.yaml in the default
// config directories when path is empty. A missing default file is not an
// error. LGREMOTE_* environment variables override both.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	if err := v.BindEnv("logging.level", envPrefix+"_LOGGING_LEVEL", envPrefix+"_LOG_LEVEL"); err != nil {
		return nil, err
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("lgremote")
		v.SetConfigType("yaml")
		v.AddConfigPath(defaultConfigDir())
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Netcast.Port <= 0 || c.Netcast.Port > 65535 {
		errs = append(errs, fmt.Errorf("netcast.port %d is out of range", c.Netcast.Port))
	}
	if len(c.DIAL.Ports) == 0 {
		errs = append(errs, errors.New("dial.ports must not be empty"))
	}
	if c.Sequencer.MaxPolls <= 0 {
		errs = append(errs, errors.New("sequencer.max_polls must be positive"))
	}
	for name, d := range map[string]time.Duration{
		"netcast.command_timeout":   c.Netcast.CommandTimeout,
		"netcast.app_timeout":       c.Netcast.AppTimeout,
		"cast.poll_interval":        c.Cast.PollInterval,
		"sequencer.poll_interval":   c.Sequencer.PollInterval,
		"sequencer.slideshow_delay": c.Sequencer.SlideshowDelay,
		"sequencer.album_delay":     c.Sequencer.AlbumDelay,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	return errors.Join(errs...)
}

func defaultConfigDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "lgremote")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "lgremote")
}

func defaultDataDir() string {
	if runtime.GOOS == "windows" {
		return filepath.Join(os.Getenv("APPDATA"), "lgremote")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "lgremote")
}
