// Package config loads and validates the demo binary's runtime
// configuration, grounded on dev-mohitbeniwal-echo/api/config/config.go's
// viper defaults-then-env-then-file shape.
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// Configuration stores every setting the demo binary and its
// collaborators (fetcher, enrichers, engine) need.
type Configuration struct {
	Server   ServerConfiguration   `mapstructure:"server" validate:"required"`
	Engine   EngineConfiguration   `mapstructure:"engine" validate:"required"`
	Redis    RedisConfiguration    `mapstructure:"redis" validate:"required"`
	Postgres PostgresConfiguration `mapstructure:"postgres" validate:"required"`
	Log      LogConfiguration      `mapstructure:"log" validate:"required"`
}

// ServerConfiguration names the service whose resource and tag policies
// the demo binary builds its engine for.
type ServerConfiguration struct {
	ServiceName string `mapstructure:"serviceName" validate:"required"`
}

// EngineConfiguration mirrors policyengine.Options.
type EngineConfiguration struct {
	AuditCacheSize             int  `mapstructure:"auditCacheSize" validate:"gte=0"`
	DisableTagPolicyEvaluation bool `mapstructure:"disableTagPolicyEvaluation"`
}

// RedisConfiguration configures enrichers.RedisTagEnricher.
type RedisConfiguration struct {
	Addr         string        `mapstructure:"addr" validate:"required"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db" validate:"gte=0"`
	DialTimeout  time.Duration `mapstructure:"dialTimeout"`
	ReadTimeout  time.Duration `mapstructure:"readTimeout"`
	WriteTimeout time.Duration `mapstructure:"writeTimeout"`
	PoolSize     int           `mapstructure:"poolSize" validate:"gte=0"`
}

// PostgresConfiguration configures fetcher.PostgresFetcher.
type PostgresConfiguration struct {
	DSN string `mapstructure:"dsn" validate:"required"`
}

// LogConfiguration configures the logging package.
type LogConfiguration struct {
	Level string `mapstructure:"level" validate:"oneof=debug info warn error"`
}

// Load reads configuration from (in increasing priority) built-in
// defaults, an optional config file named "policyengine" under
// configPaths, and environment variables prefixed POLICYENGINE_.
func Load(configPaths ...string) (*Configuration, error) {
	v := viper.New()

	v.SetConfigName("policyengine")
	v.SetConfigType("yaml")
	for _, p := range configPaths {
		v.AddConfigPath(p)
	}

	v.SetEnvPrefix("POLICYENGINE")
	v.AutomaticEnv()

	v.SetDefault("server.serviceName", "demo-service")
	v.SetDefault("engine.auditCacheSize", 1000)
	v.SetDefault("engine.disableTagPolicyEvaluation", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.dialTimeout", 5*time.Second)
	v.SetDefault("redis.readTimeout", 3*time.Second)
	v.SetDefault("redis.writeTimeout", 3*time.Second)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("postgres.dsn", "postgres://localhost:5432/policyengine?sslmode=disable")
	v.SetDefault("log.level", "info")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Configuration
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}
