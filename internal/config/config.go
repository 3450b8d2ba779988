package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Addr           string   `mapstructure:"addr"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
}

// CameraConfig holds the sentinel camera labels that distinguish the
// controlled entrance, the valet lane and the exit. These are site
// configuration, not protocol.
type CameraConfig struct {
	EntranceLabel string `mapstructure:"entrance_label"`
	ValetLabel    string `mapstructure:"valet_label"`
	ExitLabel     string `mapstructure:"exit_label"`
}

type VerifyConfig struct {
	MaxEditDistance         int `mapstructure:"max_edit_distance"`
	CorrelationWindowMinute int `mapstructure:"correlation_window_minutes"`
	ExitWindowDays          int `mapstructure:"exit_window_days"`
}

type RetentionConfig struct {
	MaxAgeDays         int `mapstructure:"max_age_days"`
	SweepIntervalHours int `mapstructure:"sweep_interval_hours"`
}

type Config struct {
	HTTP             HTTPConfig      `mapstructure:"http"`
	DB               DBConfig        `mapstructure:"db"`
	Auth             AuthConfig      `mapstructure:"auth"`
	Camera           CameraConfig    `mapstructure:"camera"`
	Verify           VerifyConfig    `mapstructure:"verify"`
	Retention        RetentionConfig `mapstructure:"retention"`
	RegisteredPlates string          `mapstructure:"registered_plates_file"`
	LogLevel         string          `mapstructure:"log_level"`
}

// CorrelationWindowMs returns the entrance correlation window in epoch
// milliseconds.
func (c *Config) CorrelationWindowMs() int64 {
	return int64(c.Verify.CorrelationWindowMinute) * 60 * 1000
}

// ExitWindowMs returns the exit reconciliation trailing window in epoch
// milliseconds.
func (c *Config) ExitWindowMs() int64 {
	return int64(c.Verify.ExitWindowDays) * 24 * 60 * 60 * 1000
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("http.allowed_origins", []string{"*"})
	v.SetDefault("db.dsn", "host=localhost user=lpr password=lpr dbname=lpr port=5432 sslmode=disable")
	v.SetDefault("camera.entrance_label", "900 Garage Gate Entrance")
	v.SetDefault("camera.valet_label", "900 Valet")
	v.SetDefault("camera.exit_label", "900 Garage Gate Exit")
	v.SetDefault("verify.max_edit_distance", 1)
	v.SetDefault("verify.correlation_window_minutes", 10)
	v.SetDefault("verify.exit_window_days", 30)
	v.SetDefault("retention.max_age_days", 60)
	v.SetDefault("retention.sweep_interval_hours", 24)
	v.SetDefault("registered_plates_file", "registered_plates.txt")
	v.SetDefault("log_level", "info")
}

// Load reads config.yaml from the given directory, with LPR_-prefixed
// environment variables overriding file values. A missing file is fine;
// defaults cover every knob.
func Load(dir string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix("LPR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
