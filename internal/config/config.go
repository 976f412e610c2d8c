package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/dkeye/voicechat/internal/app"
	"github.com/dkeye/voicechat/internal/audio"
	"github.com/dkeye/voicechat/internal/logging"
)

const EnvPrefix = "VOICECHAT"

type DBConfig struct {
	Path         string `mapstructure:"path"`
	ChannelsFile string `mapstructure:"channels_file"`
}

type TransportConfig struct {
	SendBuffer int   `mapstructure:"send_buffer"`
	AudioQueue int   `mapstructure:"audio_queue"`
	SlowLimit  int32 `mapstructure:"slow_limit"`
}

type RateLimitConfig struct {
	MessagesPerSecond float64 `mapstructure:"messages_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	PongWait   time.Duration `mapstructure:"pong_wait"`
	WriteWait  time.Duration `mapstructure:"write_wait"`
	Secret     string        `mapstructure:"secret"`
	JWTTTL     time.Duration `mapstructure:"jwt_ttl"`
	InviteCode string        `mapstructure:"invite_code"`

	Log       logging.Options     `mapstructure:"log"`
	DB        DBConfig            `mapstructure:"db"`
	Transport TransportConfig     `mapstructure:"transport"`
	RateLimit RateLimitConfig     `mapstructure:"ratelimit"`
	History   app.HistoryConfig   `mapstructure:"history"`
	Admission app.AdmissionConfig `mapstructure:"admission"`
	Audio     audio.Config        `mapstructure:"audio"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 1<<20)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("pong_wait", "60s")
	v.SetDefault("write_wait", "10s")
	v.SetDefault("secret", "")
	v.SetDefault("jwt_ttl", "24h")
	v.SetDefault("invite_code", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", logging.FormatConsole)

	v.SetDefault("db.path", "voicechat.db")
	v.SetDefault("db.channels_file", "config/channels.yaml")

	v.SetDefault("transport.send_buffer", 256)
	v.SetDefault("transport.audio_queue", 32)
	v.SetDefault("transport.slow_limit", 16)

	v.SetDefault("ratelimit.messages_per_second", 5)
	v.SetDefault("ratelimit.burst", 10)

	v.SetDefault("history.page_size", 20)
	v.SetDefault("history.max_page_size", 100)

	v.SetDefault("admission.activity_timeout", "3s")
	v.SetDefault("admission.max_speakers", 4)
	v.SetDefault("admission.round", "200ms")

	a := audio.DefaultConfig()
	v.SetDefault("audio.standard_rate", a.StandardRate)
	v.SetDefault("audio.min_chunk", a.MinChunk)
	v.SetDefault("audio.max_chunk", a.MaxChunk)
	v.SetDefault("audio.min_sample_rate", a.MinSampleRate)
	v.SetDefault("audio.max_sample_rate", a.MaxSampleRate)
	v.SetDefault("audio.silence_threshold", a.SilenceThreshold)
	v.SetDefault("audio.noise_floor", a.NoiseFloor)
	v.SetDefault("audio.quantization_floor", a.QuantizationFloor)
	v.SetDefault("audio.enhance", a.Enhance)
	v.SetDefault("audio.resampler", a.Resampler)
	v.SetDefault("audio.sinc_taps", a.SincTaps)
}

// Load reads config/config.<CONFIG_ENV>.yaml (dev by default), then applies
// VOICECHAT_* environment overrides, e.g. VOICECHAT_AUDIO_STANDARD_RATE.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

// LoadFile is Load with an explicit file. A missing file leaves the defaults.
func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config %s: %w", fileName, err)
		}
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("db", cfg.DB.Path).Msg("config ready")
	return &cfg, nil
}

func (c *Config) Validate() error {
	var errs []error
	switch c.Mode {
	case "debug", "release", "test":
	default:
		errs = append(errs, fmt.Errorf("mode must be debug, release or test, got %q", c.Mode))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port out of range: %d", c.Port))
	}
	if len(c.Secret) < 16 {
		errs = append(errs, errors.New("secret must be at least 16 bytes"))
	}
	if c.PongWait <= c.PingPeriod {
		errs = append(errs, fmt.Errorf("pong_wait %s must exceed ping_period %s", c.PongWait, c.PingPeriod))
	}
	if c.JWTTTL <= 0 {
		errs = append(errs, errors.New("jwt_ttl must be positive"))
	}
	if c.DB.Path == "" {
		errs = append(errs, errors.New("db.path is required"))
	}
	if c.Transport.SendBuffer <= 0 || c.Transport.AudioQueue <= 0 {
		errs = append(errs, errors.New("transport buffers must be positive"))
	}
	if c.RateLimit.MessagesPerSecond <= 0 || c.RateLimit.Burst <= 0 {
		errs = append(errs, errors.New("ratelimit values must be positive"))
	}
	if c.History.PageSize <= 0 || c.History.MaxPageSize < c.History.PageSize {
		errs = append(errs, errors.New("history.max_page_size must be at least history.page_size > 0"))
	}
	if c.Admission.ActivityTimeout <= 0 {
		errs = append(errs, errors.New("admission.activity_timeout must be positive"))
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Audio.Validate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
