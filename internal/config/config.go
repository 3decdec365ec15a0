package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config carries everything the server and CLI tools need. Values come from
// a config.yaml, CLINAV_* environment variables, or the defaults below, in
// ascending precedence of env over file over default.
type Config struct {
	Server struct {
		ListenAddr   string        `mapstructure:"listen_addr"`
		ReadTimeout  time.Duration `mapstructure:"read_timeout"`
		WriteTimeout time.Duration `mapstructure:"write_timeout"`
	} `mapstructure:"server"`

	Store struct {
		SQLitePath string `mapstructure:"sqlite_path"`
		StatePath  string `mapstructure:"state_path"`
	} `mapstructure:"store"`

	Inference struct {
		Model          string        `mapstructure:"model"`
		CallTimeout    time.Duration `mapstructure:"call_timeout"`
		RequestsPerMin int           `mapstructure:"requests_per_min"`
	} `mapstructure:"inference"`

	Expert struct {
		TopNDiagnoses int `mapstructure:"top_n_diagnoses"`
	} `mapstructure:"expert"`

	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`

	Telemetry struct {
		OTLPEndpoint string `mapstructure:"otlp_endpoint"`
	} `mapstructure:"telemetry"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/clinical-navigator/")

	v.SetEnvPrefix("CLINAV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		// No file: defaults plus environment.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8844")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "10m")

	v.SetDefault("store.sqlite_path", "data/hospital.db")
	v.SetDefault("store.state_path", "data/analyses.json")

	v.SetDefault("inference.model", "")
	v.SetDefault("inference.call_timeout", "60s")
	v.SetDefault("inference.requests_per_min", 60)

	v.SetDefault("expert.top_n_diagnoses", 3)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("telemetry.otlp_endpoint", "")
}

func (c *Config) validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Expert.TopNDiagnoses <= 0 {
		return fmt.Errorf("expert.top_n_diagnoses must be positive")
	}
	switch strings.ToLower(c.Logging.Level) {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("invalid logging.level %q", c.Logging.Level)
	}
	return nil
}
