package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Logger        LoggerConfig        `mapstructure:"logger"`
	Database      DatabaseConfig      `mapstructure:"database"`
	KnowledgeBase KnowledgeBaseConfig `mapstructure:"knowledge_base"`
	Worker        WorkerConfig        `mapstructure:"worker"`
}

type LoggerConfig struct {
	Level       string   `mapstructure:"level"`
	Format      string   `mapstructure:"format"`
	OutputPaths []string `mapstructure:"output_paths"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

type KnowledgeBaseConfig struct {
	// TablePrefix namespaces the per-session finding table; a random
	// suffix is appended so concurrent sessions never collide.
	TablePrefix string `mapstructure:"table_prefix"`
	// Table pins the backing table to a fixed name. Reporting commands set
	// it to attach to a session another process created.
	Table string `mapstructure:"table"`
	// StrictPrimitives serializes primitive store operations on the same
	// lock composite operations use, instead of relying on per-statement
	// database atomicity.
	StrictPrimitives bool `mapstructure:"strict_primitives"`
}

type WorkerConfig struct {
	Count int `mapstructure:"count"`
}

// Load reads configuration from the given file (optional), the environment
// (STRIX_ prefix) and defaults.
func Load(cfgFile string) (*Config, error) {
	v := viper.New()

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "json")
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "strix.db")
	v.SetDefault("database.max_connections", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("knowledge_base.table_prefix", "kb")
	v.SetDefault("knowledge_base.strict_primitives", false)
	v.SetDefault("worker.count", 4)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName(".strix")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix("STRIX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}
