package config

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	ListenAddr     string   `mapstructure:"listen_addr"`
	MQTTBrokerURL  string   `mapstructure:"mqtt_broker_url"`
	LogLevel       string   `mapstructure:"log_level"`
	StorageRoot    string   `mapstructure:"storage_root"`
	MaxUploadBytes int64    `mapstructure:"max_upload_bytes"`
	JWTSecret      string   `mapstructure:"jwt_secret"`
	RedisAddr      string   `mapstructure:"redis_addr"`
	RedisPassword  string   `mapstructure:"redis_password"`
	Postgres       DBConfig `mapstructure:"postgres"`
}

type DBConfig struct {
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
}

// Load reads the optional yaml config and lets the environment override every
// key (dots become underscores: postgres.host -> POSTGRES_HOST).
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetDefault("listen_addr", ":3000")
	v.SetDefault("mqtt_broker_url", "mqtt://localhost:1883")
	v.SetDefault("log_level", "info")
	v.SetDefault("storage_root", "music")
	v.SetDefault("max_upload_bytes", int64(20<<20))
	v.SetDefault("jwt_secret", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("postgres.user", "postgres")
	v.SetDefault("postgres.password", "")
	v.SetDefault("postgres.dbname", "ledbridge")
	v.SetDefault("postgres.host", "")
	v.SetDefault("postgres.port", "5432")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	slog.Info("config loaded", "listen", cfg.ListenAddr, "mqtt", cfg.MQTTBrokerURL, "storage_root", cfg.StorageRoot)
	return &cfg, nil
}
