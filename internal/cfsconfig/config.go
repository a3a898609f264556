// Package cfsconfig loads process configuration with viper, following the
// teacher's internal/config layout: a typed Config struct with mapstructure
// tags, code-level defaults, and env-var overrides.
package cfsconfig

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full process configuration for cfs-server.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Vault   VaultConfig   `mapstructure:"vault"`
	Git     GitConfig     `mapstructure:"git"`
	K8s     K8sConfig     `mapstructure:"k8s"`
	Log     LogConfig     `mapstructure:"log"`
	Store   StoreConfig   `mapstructure:"store"`
}

// ServerConfig holds HTTP server tunables.
type ServerConfig struct {
	Host                    string        `mapstructure:"host"`
	Port                    int           `mapstructure:"port"`
	ReadTimeout             time.Duration `mapstructure:"read_timeout"`
	WriteTimeout            time.Duration `mapstructure:"write_timeout"`
	IdleTimeout             time.Duration `mapstructure:"idle_timeout"`
	GracefulShutdownTimeout time.Duration `mapstructure:"graceful_shutdown_timeout"`
}

// RedisConfig holds the KvStore backend connection.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// KafkaConfig holds the EventBus connection.
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// VaultConfig points at the SecretStore adapter's backend (VAULT_ADDR).
type VaultConfig struct {
	Addr string `mapstructure:"addr"`
}

// GitConfig carries SourceResolver defaults (VCS_USERNAME/PASSWORD, CAINFO).
type GitConfig struct {
	DefaultUsername string `mapstructure:"default_username"`
	DefaultPassword string `mapstructure:"default_password"`
	DefaultCAInfo   string `mapstructure:"default_cainfo"`
}

// K8sConfig controls the Kubernetes client behind the ConfigMapStore adapter.
// Kafka brokers are not discovered through it; they come from KafkaConfig.
type K8sConfig struct {
	InCluster  bool   `mapstructure:"in_cluster"`
	Kubeconfig string `mapstructure:"kubeconfig"`
	Namespace  string `mapstructure:"namespace"`
}

// LogConfig mirrors pkg logger.Config.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// StoreConfig holds the KvStore retry budget and batch size (DB_BUSY_SECONDS).
type StoreConfig struct {
	BusyBudgetSeconds int `mapstructure:"busy_budget_seconds"`
	BatchSize         int `mapstructure:"batch_size"`
}

// Load reads configuration from environment (CFS_ prefix) and an optional
// config file, layered over code defaults, following internal/config.go.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CFS")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	bindLegacyEnvVars(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)
	v.SetDefault("server.graceful_shutdown_timeout", 15*time.Second)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 20)

	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "cfs-session-events")

	v.SetDefault("vault.addr", "http://localhost:8200")

	v.SetDefault("git.default_cainfo", "/etc/ssl/certs/ca-certificates.crt")

	v.SetDefault("k8s.in_cluster", true)
	v.SetDefault("k8s.namespace", "services")

	v.SetDefault("log.level", "INFO")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")
	v.SetDefault("log.max_size", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age", 28)

	v.SetDefault("store.busy_budget_seconds", 60)
	v.SetDefault("store.batch_size", 500)
}

// bindLegacyEnvVars wires the exact environment variable names spec.md §6
// requires, which do not follow the CFS_ prefix convention applied to
// everything else.
func bindLegacyEnvVars(v *viper.Viper) {
	_ = v.BindEnv("store.busy_budget_seconds", "DB_BUSY_SECONDS")
	_ = v.BindEnv("log.level", "STARTING_LOG_LEVEL")
	_ = v.BindEnv("git.default_username", "VCS_USERNAME")
	_ = v.BindEnv("git.default_password", "VCS_PASSWORD")
	_ = v.BindEnv("git.default_cainfo", "GIT_SSL_CAINFO")
	_ = v.BindEnv("vault.addr", "VAULT_ADDR")
}
