// Package config loads server, data-store, and discovery settings from a
// YAML/JSON file and environment overrides via viper, falling back to
// in-code defaults when no file is present.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/atlas-quant/strategy-forge/pkg/types"
)

// AppConfig aggregates every section cmd/server/main.go needs to build its
// dependencies.
type AppConfig struct {
	LogLevel    string
	DataDir     string
	PoolWorkers int

	Server    types.ServerConfig
	Discovery types.DiscoveryConfig

	DefaultCommission  decimal.Decimal
	DefaultSlippageBps decimal.Decimal
}

const envPrefix = "STRATEGYFORGE"

func setDefaults(v *viper.Viper) {
	v.SetDefault("logLevel", "info")
	v.SetDefault("dataDir", "./data")
	v.SetDefault("poolWorkers", 0)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.websocketPath", "/ws")
	v.SetDefault("server.readTimeout", "30s")
	v.SetDefault("server.writeTimeout", "30s")
	v.SetDefault("server.maxConnections", 100)
	v.SetDefault("server.enableMetrics", true)
	v.SetDefault("server.metricsPort", 9090)

	v.SetDefault("discovery.islandCount", 4)
	v.SetDefault("discovery.populationPerIsland", 40)
	v.SetDefault("discovery.generations", 60)
	v.SetDefault("discovery.eliteCount", 2)
	v.SetDefault("discovery.tournamentSize", 3)
	v.SetDefault("discovery.crossoverRate", 0.7)
	v.SetDefault("discovery.mutationRate", 0.2)
	v.SetDefault("discovery.mutationSigmaFrac", 0.1)
	v.SetDefault("discovery.migrationInterval", 5)
	v.SetDefault("discovery.migrationCount", 2)
	v.SetDefault("discovery.stagnationLimit", 8)
	v.SetDefault("discovery.freshBloodFrac", 0.1)
	v.SetDefault("discovery.structuralCrossover", false)
	v.SetDefault("discovery.seed", 0)

	v.SetDefault("defaultCommission", 0.001)
	v.SetDefault("defaultSlippageBps", 5.0)
}

// Load reads configuration from path (if non-empty), a handful of
// conventional search locations otherwise, then STRATEGYFORGE_*
// environment overrides, and finally in-code defaults for anything still
// unset. A missing config file is not an error: defaults plus environment
// variables are a complete, valid configuration on their own.
func Load(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
	} else {
		v.SetConfigName("strategy-forge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/strategy-forge")
		if err := v.ReadInConfig(); err != nil {
			if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := &AppConfig{
		LogLevel:    v.GetString("logLevel"),
		DataDir:     v.GetString("dataDir"),
		PoolWorkers: v.GetInt("poolWorkers"),

		Server: types.ServerConfig{
			Host:           v.GetString("server.host"),
			Port:           v.GetInt("server.port"),
			WebSocketPath:  v.GetString("server.websocketPath"),
			ReadTimeout:    v.GetDuration("server.readTimeout"),
			WriteTimeout:   v.GetDuration("server.writeTimeout"),
			MaxConnections: v.GetInt("server.maxConnections"),
			EnableMetrics:  v.GetBool("server.enableMetrics"),
			MetricsPort:    v.GetInt("server.metricsPort"),
		},

		Discovery: types.DiscoveryConfig{
			IslandCount:         v.GetInt("discovery.islandCount"),
			PopulationPerIsland: v.GetInt("discovery.populationPerIsland"),
			Generations:         v.GetInt("discovery.generations"),
			EliteCount:          v.GetInt("discovery.eliteCount"),
			TournamentSize:      v.GetInt("discovery.tournamentSize"),
			CrossoverRate:       v.GetFloat64("discovery.crossoverRate"),
			MutationRate:        v.GetFloat64("discovery.mutationRate"),
			MutationSigmaFrac:   v.GetFloat64("discovery.mutationSigmaFrac"),
			MigrationInterval:   v.GetInt("discovery.migrationInterval"),
			MigrationCount:      v.GetInt("discovery.migrationCount"),
			StagnationLimit:     v.GetInt("discovery.stagnationLimit"),
			FreshBloodFrac:      v.GetFloat64("discovery.freshBloodFrac"),
			StructuralCrossover: v.GetBool("discovery.structuralCrossover"),
			Seed:                v.GetInt64("discovery.seed"),
		},

		DefaultCommission:  decimal.NewFromFloat(v.GetFloat64("defaultCommission")),
		DefaultSlippageBps: decimal.NewFromFloat(v.GetFloat64("defaultSlippageBps")),
	}

	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	return cfg, nil
}
