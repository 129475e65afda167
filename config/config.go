package config

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	defaultDatabasePath      = "trading-bot.db"
	defaultEventLogDir       = "./wal/events"
	defaultDiscoveryInterval = 10 * time.Second
	defaultRestartDelay      = 30 * time.Second
)

// Config is the process configuration. Exchange credentials come from the
// environment; everything else from flags or an optional yaml file.
type Config struct {
	APIKey            string
	SecretKey         string
	DatabasePath      string
	EventLogDir       string
	DiscoveryInterval time.Duration
	RestartDelay      time.Duration
	Setup             bool
	Strategy          Strategy
}

// Strategy holds the signal thresholds. Zero values mean "use the default".
type Strategy struct {
	MinBullishChangePct decimal.Decimal
	RSIPeriod           int
	RSISMAPeriod        int
	CrossoverThreshold  decimal.Decimal
	RSILowerBound       decimal.Decimal
	RSIUpperBound       decimal.Decimal
	MinProfitPct        decimal.Decimal
	RiskReward          decimal.Decimal
}

type configYaml struct {
	DatabasePath      string        `yaml:"database_path"`
	EventLogDir       string        `yaml:"event_log_dir"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
	RestartDelay      time.Duration `yaml:"restart_delay"`
	Strategy          strategyYaml  `yaml:"strategy"`
}

type strategyYaml struct {
	MinBullishChangePct string `yaml:"min_bullish_change_pct,omitempty"`
	RSIPeriod           int    `yaml:"rsi_period,omitempty"`
	RSISMAPeriod        int    `yaml:"rsi_sma_period,omitempty"`
	CrossoverThreshold  string `yaml:"crossover_threshold,omitempty"`
	RSILowerBound       string `yaml:"rsi_lower_bound,omitempty"`
	RSIUpperBound       string `yaml:"rsi_upper_bound,omitempty"`
	MinProfitPct        string `yaml:"min_profit_pct,omitempty"`
	RiskReward          string `yaml:"risk_reward,omitempty"`
}

// Get parses flags, the optional yaml config and the environment.
func Get() (Config, error) {
	configPath := flag.String("config", "", "path to yaml config")
	dbPath := flag.String("db", defaultDatabasePath, "path to the sqlite ledger database")
	walDir := flag.String("wal", defaultEventLogDir, "directory for the event audit log")
	setup := flag.Bool("setup", false, "run the campaign creation wizard")
	flag.Parse()

	cfg := Config{
		DatabasePath:      *dbPath,
		EventLogDir:       *walDir,
		DiscoveryInterval: defaultDiscoveryInterval,
		RestartDelay:      defaultRestartDelay,
		Setup:             *setup,
	}

	if *configPath != "" {
		if err := applyYaml(*configPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	cfg.APIKey = os.Getenv("APIKEY")
	cfg.SecretKey = os.Getenv("SECRETKEY")
	if !cfg.Setup {
		if cfg.APIKey == "" {
			return Config{}, fmt.Errorf("APIKEY env is not set")
		}
		if cfg.SecretKey == "" {
			return Config{}, fmt.Errorf("SECRETKEY env is not set")
		}
	}

	return cfg, nil
}

func applyYaml(path string, cfg *Config) error {
	f, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	var y configYaml
	if err := yaml.Unmarshal(f, &y); err != nil {
		return fmt.Errorf("incorrect yaml config: %w", err)
	}

	if y.DatabasePath != "" {
		cfg.DatabasePath = y.DatabasePath
	}
	if y.EventLogDir != "" {
		cfg.EventLogDir = y.EventLogDir
	}
	if y.DiscoveryInterval > 0 {
		cfg.DiscoveryInterval = y.DiscoveryInterval
	}
	if y.RestartDelay > 0 {
		cfg.RestartDelay = y.RestartDelay
	}

	cfg.Strategy.RSIPeriod = y.Strategy.RSIPeriod
	cfg.Strategy.RSISMAPeriod = y.Strategy.RSISMAPeriod

	for _, field := range []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"min_bullish_change_pct", y.Strategy.MinBullishChangePct, &cfg.Strategy.MinBullishChangePct},
		{"crossover_threshold", y.Strategy.CrossoverThreshold, &cfg.Strategy.CrossoverThreshold},
		{"rsi_lower_bound", y.Strategy.RSILowerBound, &cfg.Strategy.RSILowerBound},
		{"rsi_upper_bound", y.Strategy.RSIUpperBound, &cfg.Strategy.RSIUpperBound},
		{"min_profit_pct", y.Strategy.MinProfitPct, &cfg.Strategy.MinProfitPct},
		{"risk_reward", y.Strategy.RiskReward, &cfg.Strategy.RiskReward},
	} {
		if field.raw == "" {
			continue
		}
		v, err := decimal.NewFromString(field.raw)
		if err != nil {
			return fmt.Errorf("incorrect '%s' param in yaml config (must be a decimal): %w", field.name, err)
		}
		*field.dst = v
	}

	return nil
}
